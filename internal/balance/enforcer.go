// Package balance is the only code path that changes a wallet balance.
package balance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
	"github.com/chetannagda/payswift-backend/internal/money"
)

// Enforcer guards the walletBalance >= 0 invariant. Every read-modify-write
// of a balance runs under the per-user lock and inside a ledger.Atomic unit.
type Enforcer struct {
	store ledger.Store
	locks *KeyedMutex
}

func NewEnforcer(store ledger.Store) *Enforcer {
	return &Enforcer{store: store, locks: NewKeyedMutex()}
}

// CanAfford reports whether u can pay amount right now.
func CanAfford(u domain.User, amount decimal.Decimal) bool {
	return u.WalletBalance.GreaterThanOrEqual(amount)
}

// WithUsers runs fn inside one atomic ledger unit while holding the locks of
// every listed user. Callers pass the sender and, for in-system transfers,
// the receiver.
func (e *Enforcer) WithUsers(ctx context.Context, ids []int64, fn func(tx ledger.Store) error) error {
	release := e.locks.LockAll(ids...)
	defer release()
	return e.store.Atomic(ctx, fn)
}

// Debit re-reads the user inside tx and subtracts amount, failing with
// domain.ErrInsufficientFunds rather than going negative. It must run inside
// WithUsers for userID.
func Debit(ctx context.Context, tx ledger.Store, userID int64, amount decimal.Decimal) (domain.User, error) {
	if err := money.RequirePositive(amount); err != nil {
		return domain.User{}, domain.Invalid("amount", err.Error())
	}
	u, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	next := u.WalletBalance.Sub(amount)
	if next.IsNegative() {
		return domain.User{}, fmt.Errorf("user %d has %s, needs %s: %w",
			userID, money.Format(u.WalletBalance), money.Format(amount), domain.ErrInsufficientFunds)
	}
	return tx.UpdateUser(ctx, userID, domain.UserPatch{WalletBalance: &next})
}

// Credit adds amount to the user's balance. There is no upper bound.
func Credit(ctx context.Context, tx ledger.Store, userID int64, amount decimal.Decimal) (domain.User, error) {
	if err := money.RequirePositive(amount); err != nil {
		return domain.User{}, domain.Invalid("amount", err.Error())
	}
	u, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	next := u.WalletBalance.Add(amount)
	return tx.UpdateUser(ctx, userID, domain.UserPatch{WalletBalance: &next})
}

// AddFunds credits a wallet outside any payment; no transaction is recorded.
func (e *Enforcer) AddFunds(ctx context.Context, userID int64, amount decimal.Decimal) (domain.User, error) {
	var out domain.User
	err := e.WithUsers(ctx, []int64{userID}, func(tx ledger.Store) error {
		var err error
		out, err = Credit(ctx, tx, userID, amount)
		return err
	})
	return out, err
}
