package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "verify:"
	// Records outlive the code itself so a late attempt reports expired
	// rather than unknown.
	redisRetention = 24 * time.Hour
	redisMaxRetry  = 5
)

// RedisCodeStore keeps one JSON record per transaction under verify:<id>.
// Updates use WATCH/MULTI so a code is consumed at most once across replicas.
type RedisCodeStore struct {
	client *redis.Client
}

func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func redisKey(transactionID int64) string {
	return redisKeyPrefix + strconv.FormatInt(transactionID, 10)
}

func (r *RedisCodeStore) Put(ctx context.Context, c Code) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ttl := time.Until(c.ExpiresAt) + redisRetention
	if ttl < redisRetention {
		ttl = redisRetention
	}
	return r.client.Set(ctx, redisKey(c.TransactionID), raw, ttl).Err()
}

func (r *RedisCodeStore) Get(ctx context.Context, transactionID int64) (Code, error) {
	raw, err := r.client.Get(ctx, redisKey(transactionID)).Bytes()
	return decodeRedisCode(raw, err)
}

func (r *RedisCodeStore) Update(ctx context.Context, transactionID int64, fn func(*Code) error) (Code, error) {
	key := redisKey(transactionID)
	var out Code

	txf := func(tx *redis.Tx) error {
		c, err := decodeRedisCode(tx.Get(ctx, key).Bytes())
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, redis.KeepTTL)
			return nil
		})
		if err == nil {
			out = c
		}
		return err
	}

	for i := 0; i < redisMaxRetry; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Code{}, err
		}
		return out, nil
	}
	return Code{}, fmt.Errorf("verification code %d: too many concurrent updates", transactionID)
}

func decodeRedisCode(raw []byte, err error) (Code, error) {
	if errors.Is(err, redis.Nil) {
		return Code{}, ErrUnknownCode
	}
	if err != nil {
		return Code{}, fmt.Errorf("redis get verification code: %w", err)
	}
	var c Code
	if err := json.Unmarshal(raw, &c); err != nil {
		return Code{}, fmt.Errorf("decode verification code: %w", err)
	}
	return c, nil
}
