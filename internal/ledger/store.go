// Package ledger persists users and transactions and exposes the atomic
// read/update primitives the payment state machine relies on.
package ledger

import (
	"context"
	"time"

	"github.com/chetannagda/payswift-backend/internal/domain"
)

// Store is the ledger repository. Lookups that find nothing return
// domain.ErrNotFound.
type Store interface {
	GetUser(ctx context.Context, id int64) (domain.User, error)
	// GetUserForUpdate reads a user and, where the backend supports it, holds
	// a row lock until the surrounding Atomic unit ends.
	GetUserForUpdate(ctx context.Context, id int64) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetUserByUPIID(ctx context.Context, upiID string) (domain.User, error)
	GetUserByEthAddress(ctx context.Context, addr string) (domain.User, error)
	// CreateUser fails with domain.ErrConflict when the email or username is taken.
	CreateUser(ctx context.Context, u domain.NewUser) (domain.User, error)
	UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error)

	CreateTransaction(ctx context.Context, t domain.NewTransaction) (domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (domain.Transaction, error)
	// UpdateTransaction fails with domain.ErrInvalidState when the patch
	// would change the status of a terminal transaction.
	UpdateTransaction(ctx context.Context, id int64, patch domain.TransactionPatch) (domain.Transaction, error)
	ListTransactionsForUser(ctx context.Context, userID int64) ([]domain.Transaction, error)
	RecentTransactionsForUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error)
	MonthlyStats(ctx context.Context, userID int64, now time.Time) (domain.MonthlyStats, error)
	// ListExpiredPending returns PENDING transactions whose verification
	// window closed before now.
	ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Transaction, error)

	// Atomic runs fn as one all-or-nothing unit. The Store passed to fn must
	// be used for every read and write inside the unit.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}

// MonthStart returns midnight UTC on the first day of now's UTC month.
func MonthStart(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// UTCNow is the default clock for handlers that cut monthly windows.
func UTCNow() time.Time { return time.Now().UTC() }
