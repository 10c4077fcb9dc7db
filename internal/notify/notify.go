// Package notify delivers payment events to the outside world. Delivery is
// best effort; the ledger never waits on it.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names an event the payment state machine emits.
type Kind string

const (
	VerificationIssued Kind = "verification.issued"
	TransactionSettled Kind = "transaction.settled"
	TransactionFailed  Kind = "transaction.failed"
)

type Event struct {
	Kind          Kind
	TransactionID int64
	UserID        int64
	// Phone is the sender's number when known.
	Phone     *string
	Amount    decimal.Decimal
	Currency  string
	Code      string
	ExpiresAt *time.Time
	Reason    string
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier records events in the structured log. The code itself is
// never logged.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, e Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("event", string(e.Kind)),
		slog.Int64("transaction_id", e.TransactionID),
		slog.Int64("user_id", e.UserID),
		slog.String("amount", e.Amount.StringFixed(2)),
		slog.String("currency", e.Currency),
	}
	if e.ExpiresAt != nil {
		attrs = append(attrs, slog.Time("expires_at", *e.ExpiresAt))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	logger.InfoContext(ctx, "payment event", attrs...)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
