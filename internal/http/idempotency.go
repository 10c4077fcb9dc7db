package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chetannagda/payswift-backend/internal/auth"
)

// Replay is a stored response for an Idempotency-Key.
type Replay struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

// ReplayCache stores responses keyed by owner and Idempotency-Key. Reserve
// claims a key while the first request is in flight.
type ReplayCache interface {
	Get(ctx context.Context, key string) (Replay, bool, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Put(ctx context.Context, key string, r Replay, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

const inFlightTTL = 30 * time.Second

// Idempotent replays the stored response when a request repeats an
// Idempotency-Key with the same method, path and body. Reusing a key with a
// different body is rejected. Only successful responses are stored.
func Idempotent(cache ReplayCache, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		idemKey := strings.TrimSpace(c.Get("Idempotency-Key"))
		if idemKey == "" || cache == nil {
			return c.Next()
		}

		ctx := userContext(c)
		key := replayKey(c, idemKey)
		sum := sha256.Sum256(append([]byte(c.Method()+" "+c.Path()+" "), c.Body()...))
		requestHash := hex.EncodeToString(sum[:])

		if prev, ok, err := cache.Get(ctx, key); err != nil {
			return err
		} else if ok {
			if prev.RequestHash != requestHash {
				return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key was used with a different request")
			}
			c.Set("Idempotent-Replayed", "true")
			c.Status(prev.Status)
			c.Type("json")
			return c.Send(prev.Body)
		}

		reserved, err := cache.Reserve(ctx, key, inFlightTTL)
		if err != nil {
			return err
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "a request with this Idempotency-Key is in progress")
		}
		defer func() { _ = cache.Release(context.Background(), key) }()

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status >= 200 && status < 300 {
			body := append([]byte(nil), c.Response().Body()...)
			if err := cache.Put(ctx, key, Replay{RequestHash: requestHash, Status: status, Body: body}, ttl); err != nil {
				return err
			}
		}
		return nil
	}
}

func replayKey(c *fiber.Ctx, idemKey string) string {
	owner := "anon:" + c.IP()
	if uid, ok := auth.CurrentUserID(c); ok {
		owner = strconv.FormatInt(uid, 10)
	}
	return owner + ":" + idemKey
}

// MemoryReplayCache keeps replays in process memory.
type MemoryReplayCache struct {
	mu       sync.Mutex
	replays  map[string]memoryReplay
	inFlight map[string]time.Time
	now      func() time.Time
}

type memoryReplay struct {
	replay    Replay
	expiresAt time.Time
}

func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{
		replays:  make(map[string]memoryReplay),
		inFlight: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (m *MemoryReplayCache) Get(_ context.Context, key string) (Replay, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.replays[key]
	if !ok {
		return Replay{}, false, nil
	}
	if !m.now().Before(r.expiresAt) {
		delete(m.replays, key)
		return Replay{}, false, nil
	}
	return r.replay, true, nil
}

func (m *MemoryReplayCache) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, ok := m.inFlight[key]; ok && now.Before(until) {
		return false, nil
	}
	m.inFlight[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryReplayCache) Put(_ context.Context, key string, r Replay, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replays[key] = memoryReplay{replay: r, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryReplayCache) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inFlight, key)
	return nil
}

// RedisReplayCache shares replays across API instances.
type RedisReplayCache struct {
	client *redis.Client
}

func NewRedisReplayCache(client *redis.Client) *RedisReplayCache {
	return &RedisReplayCache{client: client}
}

func (r *RedisReplayCache) Get(ctx context.Context, key string) (Replay, bool, error) {
	raw, err := r.client.Get(ctx, "idem:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Replay{}, false, nil
	}
	if err != nil {
		return Replay{}, false, err
	}
	var replay Replay
	if err := json.Unmarshal(raw, &replay); err != nil {
		return Replay{}, false, err
	}
	return replay, true, nil
}

func (r *RedisReplayCache) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, "idem:lock:"+key, 1, ttl).Result()
}

func (r *RedisReplayCache) Put(ctx context.Context, key string, replay Replay, ttl time.Duration) error {
	raw, err := json.Marshal(replay)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, "idem:"+key, raw, ttl).Err()
}

func (r *RedisReplayCache) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, "idem:lock:"+key).Err()
}
