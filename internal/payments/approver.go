package payments

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/money"
)

// Approver is consulted before a transaction is recorded. Returning an
// error wrapping domain.ErrDeclined rejects the intent; nothing is persisted.
type Approver interface {
	PreApprove(ctx context.Context, sender domain.User, intent Intent) error
}

// AllowAll approves everything.
type AllowAll struct{}

func (AllowAll) PreApprove(context.Context, domain.User, Intent) error { return nil }

// LimitApprover declines single payments above Max.
type LimitApprover struct {
	Max decimal.Decimal
}

func (a LimitApprover) PreApprove(_ context.Context, _ domain.User, intent Intent) error {
	if a.Max.IsPositive() && intent.Amount.GreaterThan(a.Max) {
		return fmt.Errorf("amount %s exceeds the per-payment limit of %s: %w",
			money.Format(intent.Amount), money.Format(a.Max), domain.ErrDeclined)
	}
	return nil
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, sender domain.User, intent Intent) error

func (f ApproverFunc) PreApprove(ctx context.Context, sender domain.User, intent Intent) error {
	return f(ctx, sender, intent)
}
