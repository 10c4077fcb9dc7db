package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/domain"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the Store backed by the users and transactions tables
// from migrations/migrations.sql.
type PostgresStore struct {
	Pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool, q: pool}
}

const userColumns = `id, username, email, password_hash, phone, wallet_balance::text,
	upi_id, ethereum_address, created_at, updated_at`

const txColumns = `id, sender_id, receiver_id, type, receiver_upi_id, receiver_account_number,
	receiver_ifsc_code, beneficiary_name, receiver_eth_address, amount::text, currency, status,
	note, verification_code, verification_expires_at, exchange_rate::text, converted_amount::text,
	failure_reason, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u       domain.User
		balance string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Phone, &balance,
		&u.UPIID, &u.EthereumAddress, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if u.WalletBalance, err = decimal.NewFromString(balance); err != nil {
		return domain.User{}, fmt.Errorf("user %d balance: %w", u.ID, err)
	}
	return u, nil
}

func scanTx(row pgx.Row) (domain.Transaction, error) {
	var (
		t         domain.Transaction
		typ       string
		status    string
		f         domain.ReceiverFields
		amount    string
		rate      *string
		converted *string
	)
	err := row.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &typ, &f.UPIID, &f.AccountNumber,
		&f.IFSCCode, &f.BeneficiaryName, &f.EthAddress, &amount, &t.Currency, &status,
		&t.Note, &t.VerificationCode, &t.VerificationExpiresAt, &rate, &converted,
		&t.FailureReason, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Status = domain.Status(status)
	if t.Receiver, err = domain.ReceiverFromFields(domain.PaymentType(typ), f); err != nil {
		return domain.Transaction{}, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %d amount: %w", t.ID, err)
	}
	if t.ExchangeRate, err = optionalDecimal(rate); err != nil {
		return domain.Transaction{}, err
	}
	if t.ConvertedAmount, err = optionalDecimal(converted); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

func optionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (domain.User, error) {
	return scanUser(s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := s.getUser(ctx, `id = $1`, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("user %d: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserForUpdate(ctx context.Context, id int64) (domain.User, error) {
	u, err := s.getUser(ctx, `id = $1 FOR UPDATE`, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("user %d: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.getUser(ctx, `lower(email) = lower($1)`, strings.TrimSpace(email))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.getUser(ctx, `lower(username) = lower($1)`, strings.TrimSpace(username))
}

func (s *PostgresStore) GetUserByUPIID(ctx context.Context, upiID string) (domain.User, error) {
	return s.getUser(ctx, `lower(upi_id) = lower($1)`, strings.TrimSpace(upiID))
}

func (s *PostgresStore) GetUserByEthAddress(ctx context.Context, addr string) (domain.User, error) {
	return s.getUser(ctx, `lower(ethereum_address) = lower($1)`, strings.TrimSpace(addr))
}

func (s *PostgresStore) CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error) {
	u, err := scanUser(s.q.QueryRow(ctx, `
INSERT INTO users (username, email, password_hash, phone, wallet_balance)
VALUES ($1, $2, $3, $4, 0)
RETURNING `+userColumns,
		strings.TrimSpace(nu.Username), strings.TrimSpace(nu.Email), nu.PasswordHash, nu.Phone))
	if isUniqueViolation(err) {
		return domain.User{}, fmt.Errorf("email or username: %w", domain.ErrConflict)
	}
	return u, err
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error) {
	u, err := scanUser(s.q.QueryRow(ctx, `
UPDATE users SET
	wallet_balance   = COALESCE($2::numeric, wallet_balance),
	upi_id           = COALESCE($3, upi_id),
	ethereum_address = COALESCE($4, ethereum_address),
	phone            = COALESCE($5, phone),
	updated_at       = NOW()
WHERE id = $1
RETURNING `+userColumns,
		id, decimalArg(patch.WalletBalance), patch.UPIID, patch.EthereumAddress, patch.Phone))
	if isUniqueViolation(err) {
		return domain.User{}, fmt.Errorf("upi id or ethereum address: %w", domain.ErrConflict)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("user %d: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, nt domain.NewTransaction) (domain.Transaction, error) {
	f := domain.FlattenReceiver(nt.Receiver)
	return scanTx(s.q.QueryRow(ctx, `
INSERT INTO transactions (
	sender_id, receiver_id, type, receiver_upi_id, receiver_account_number, receiver_ifsc_code,
	beneficiary_name, receiver_eth_address, amount, currency, status, note, verification_code,
	verification_expires_at, exchange_rate, converted_amount
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14, $15::numeric, $16::numeric)
RETURNING `+txColumns,
		nt.SenderID, nt.ReceiverID, string(nt.Receiver.Type()), f.UPIID, f.AccountNumber, f.IFSCCode,
		f.BeneficiaryName, f.EthAddress, nt.Amount.String(), nt.Currency, string(nt.Status), nt.Note,
		nt.VerificationCode, nt.VerificationExpiresAt, decimalArg(nt.ExchangeRate), decimalArg(nt.ConvertedAmount)))
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	t, err := scanTx(s.q.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %d: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTransaction(ctx context.Context, id int64, patch domain.TransactionPatch) (domain.Transaction, error) {
	var status *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}

	t, err := scanTx(s.q.QueryRow(ctx, `
UPDATE transactions SET
	status            = COALESCE($2, status),
	failure_reason    = COALESCE($3, failure_reason),
	verification_code = COALESCE($4, verification_code),
	verification_expires_at = COALESCE($5, verification_expires_at),
	updated_at        = NOW()
WHERE id = $1
  AND ($2::text IS NULL OR (status = 'PENDING' AND $2::text <> 'PENDING'))
RETURNING `+txColumns,
		id, status, patch.FailureReason, patch.VerificationCode, patch.VerificationExpiresAt))
	if errors.Is(err, domain.ErrNotFound) {
		current, getErr := s.GetTransaction(ctx, id)
		if getErr != nil {
			return domain.Transaction{}, getErr
		}
		return domain.Transaction{}, fmt.Errorf("transaction %d is %s: %w", id, current.Status, domain.ErrInvalidState)
	}
	return t, err
}

func (s *PostgresStore) listTx(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTransactionsForUser(ctx context.Context, userID int64) ([]domain.Transaction, error) {
	return s.listTx(ctx, `
SELECT `+txColumns+`
FROM transactions
WHERE sender_id = $1 OR receiver_id = $1
ORDER BY created_at DESC, id DESC`, userID)
}

func (s *PostgresStore) RecentTransactionsForUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	return s.listTx(ctx, `
SELECT `+txColumns+`
FROM transactions
WHERE sender_id = $1 OR receiver_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, userID, limit)
}

func (s *PostgresStore) MonthlyStats(ctx context.Context, userID int64, now time.Time) (domain.MonthlyStats, error) {
	var spent, received string
	err := s.q.QueryRow(ctx, `
SELECT
	COALESCE(SUM(CASE WHEN sender_id = $1 THEN amount END), 0)::text AS spent,
	COALESCE(SUM(CASE WHEN receiver_id = $1 THEN amount END), 0)::text AS received
FROM transactions
WHERE status = 'COMPLETED'
  AND created_at >= $2
  AND (sender_id = $1 OR receiver_id = $1)`,
		userID, MonthStart(now)).Scan(&spent, &received)
	if err != nil {
		return domain.MonthlyStats{}, err
	}

	var stats domain.MonthlyStats
	if stats.Spent, err = decimal.NewFromString(spent); err != nil {
		return domain.MonthlyStats{}, err
	}
	if stats.Received, err = decimal.NewFromString(received); err != nil {
		return domain.MonthlyStats{}, err
	}
	return stats, nil
}

func (s *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Transaction, error) {
	return s.listTx(ctx, `
SELECT `+txColumns+`
FROM transactions
WHERE status = 'PENDING'
  AND verification_expires_at IS NOT NULL
  AND verification_expires_at <= $1
ORDER BY id ASC`, now)
}

// Atomic wraps fn in a database transaction; nested calls join the outer one.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{Pool: s.Pool, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ImportUser inserts u with its existing id and balance. Used by cmd/migrate.
func (s *PostgresStore) ImportUser(ctx context.Context, u domain.User) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO users (id, username, email, password_hash, phone, wallet_balance, upi_id, ethereum_address, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Phone, u.WalletBalance.String(),
		u.UPIID, u.EthereumAddress, u.CreatedAt, u.UpdatedAt)
	return err
}

// ImportTransaction inserts t with its existing id and timestamps.
func (s *PostgresStore) ImportTransaction(ctx context.Context, t domain.Transaction) error {
	f := domain.FlattenReceiver(t.Receiver)
	_, err := s.q.Exec(ctx, `
INSERT INTO transactions (
	id, sender_id, receiver_id, type, receiver_upi_id, receiver_account_number, receiver_ifsc_code,
	beneficiary_name, receiver_eth_address, amount, currency, status, note, verification_code,
	verification_expires_at, exchange_rate, converted_amount, failure_reason, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16::numeric, $17::numeric, $18, $19, $20)
ON CONFLICT (id) DO NOTHING`,
		t.ID, t.SenderID, t.ReceiverID, string(t.Type()), f.UPIID, f.AccountNumber, f.IFSCCode,
		f.BeneficiaryName, f.EthAddress, t.Amount.String(), t.Currency, string(t.Status), t.Note,
		t.VerificationCode, t.VerificationExpiresAt, decimalArg(t.ExchangeRate), decimalArg(t.ConvertedAmount),
		t.FailureReason, t.CreatedAt, t.UpdatedAt)
	return err
}

// ResetSequences moves the id sequences past imported rows.
func (s *PostgresStore) ResetSequences(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, `SELECT setval(pg_get_serial_sequence('users', 'id'), GREATEST((SELECT MAX(id) FROM users), 1))`); err != nil {
		return err
	}
	_, err := s.q.Exec(ctx, `SELECT setval(pg_get_serial_sequence('transactions', 'id'), GREATEST((SELECT MAX(id) FROM transactions), 1))`)
	return err
}
