// Package verification issues and checks the single-use codes that gate
// settlement of large UPI payments.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/chetannagda/payswift-backend/internal/domain"
)

// CodePrefix and DefaultTTL fix the one code format the service hands out.
const (
	CodePrefix = "PSFV-"
	DefaultTTL = 10 * time.Minute
	// MaxAttempts wrong guesses retire a code.
	MaxAttempts = 5
)

// ErrUnknownCode means no code was ever issued for the transaction. It is
// still an invalid-code failure from the caller's point of view.
var ErrUnknownCode = fmt.Errorf("%w: no code issued", domain.ErrInvalidCode)

// ErrTooManyAttempts is returned by the miss that retires a code.
var ErrTooManyAttempts = fmt.Errorf("%w: too many incorrect attempts", domain.ErrExpired)

// CodeStatus tracks a code from issue to its single use.
type CodeStatus string

const (
	CodePending  CodeStatus = "pending"
	CodeVerified CodeStatus = "verified"
	CodeExpired  CodeStatus = "expired"
)

// Code is the side record kept for each gated transaction.
type Code struct {
	Value         string     `json:"value"`
	TransactionID int64      `json:"transactionId"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	Status        CodeStatus `json:"status"`
	Attempts      int        `json:"attempts"`
}

// CodeStore holds codes by transaction id. Update must apply fn and write
// the result back as one atomic step; when fn fails nothing is written.
type CodeStore interface {
	Put(ctx context.Context, c Code) error
	Get(ctx context.Context, transactionID int64) (Code, error)
	Update(ctx context.Context, transactionID int64, fn func(*Code) error) (Code, error)
}

// Service issues and validates codes.
type Service struct {
	store CodeStore
	ttl   time.Duration
	now   func() time.Time
	rand  io.Reader
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom swaps the entropy source, for deterministic tests.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.rand = r }
}

func NewService(store CodeStore, opts ...Option) *Service {
	s := &Service{store: store, ttl: DefaultTTL, now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is how long an issued code stays valid.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue creates a fresh pending code for transactionID, replacing any earlier one.
func (s *Service) Issue(ctx context.Context, transactionID int64) (Code, error) {
	value, err := s.generate()
	if err != nil {
		return Code{}, err
	}
	now := s.now().UTC()
	c := Code{
		Value:         value,
		TransactionID: transactionID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
		Status:        CodePending,
	}
	if err := s.store.Put(ctx, c); err != nil {
		return Code{}, fmt.Errorf("store verification code: %w", err)
	}
	return c, nil
}

// Restore puts back a code known from the ledger after the code store lost
// it, e.g. an in-memory store after a restart. An existing record wins.
func (s *Service) Restore(ctx context.Context, c Code) error {
	_, err := s.store.Get(ctx, c.TransactionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUnknownCode) {
		return err
	}
	if c.Status == "" {
		c.Status = CodePending
	}
	return s.store.Put(ctx, c)
}

// Check reports whether value would verify right now without consuming the
// code. Wrong values count towards MaxAttempts.
func (s *Service) Check(ctx context.Context, transactionID int64, value string) error {
	c, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	err = check(c, normalize(value), s.now())
	if errors.Is(err, domain.ErrInvalidCode) {
		return s.miss(ctx, transactionID)
	}
	return err
}

// Validate checks value against the code issued for transactionID and
// consumes it on success. Replays fail with domain.ErrAlreadyUsed and late
// attempts with domain.ErrExpired.
func (s *Service) Validate(ctx context.Context, transactionID int64, value string) error {
	now := s.now()
	value = normalize(value)

	_, err := s.store.Update(ctx, transactionID, func(c *Code) error {
		if err := check(*c, value, now); err != nil {
			return err
		}
		c.Status = CodeVerified
		return nil
	})
	if errors.Is(err, domain.ErrInvalidCode) && !errors.Is(err, ErrUnknownCode) {
		return s.miss(ctx, transactionID)
	}
	return err
}

// Consume marks a pending code used without checking a value. Settlement
// calls it once the ledger has committed.
func (s *Service) Consume(ctx context.Context, transactionID int64) error {
	_, err := s.store.Update(ctx, transactionID, func(c *Code) error {
		if c.Status == CodePending {
			c.Status = CodeVerified
		}
		return nil
	})
	return err
}

// miss counts a wrong guess and retires the code at MaxAttempts.
func (s *Service) miss(ctx context.Context, transactionID int64) error {
	c, err := s.store.Update(ctx, transactionID, func(c *Code) error {
		if c.Status != CodePending {
			return nil
		}
		c.Attempts++
		if c.Attempts >= MaxAttempts {
			c.Status = CodeExpired
		}
		return nil
	})
	if err != nil {
		return err
	}
	if c.Status == CodeExpired && c.Attempts >= MaxAttempts {
		return ErrTooManyAttempts
	}
	return domain.ErrInvalidCode
}

func check(c Code, value string, now time.Time) error {
	switch c.Status {
	case CodeVerified:
		return domain.ErrAlreadyUsed
	case CodeExpired:
		return domain.ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(value)) != 1 {
		return domain.ErrInvalidCode
	}
	if !now.Before(c.ExpiresAt) {
		return domain.ErrExpired
	}
	return nil
}

func normalize(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// Expire retires a pending code so it can no longer verify. Consumed codes
// keep their status; a missing code is not an error.
func (s *Service) Expire(ctx context.Context, transactionID int64) error {
	_, err := s.store.Update(ctx, transactionID, func(c *Code) error {
		if c.Status == CodePending {
			c.Status = CodeExpired
		}
		return nil
	})
	if errors.Is(err, ErrUnknownCode) {
		return nil
	}
	return err
}

func (s *Service) generate() (string, error) {
	n, err := rand.Int(s.rand, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%s%04d", CodePrefix, n.Int64()), nil
}
