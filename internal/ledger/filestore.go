package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/shopspring/decimal"
)

// FileStore keeps the ledger in memory and rewrites a JSON snapshot of the
// whole ledger on every committed mutation. An empty path keeps it in memory.
type FileStore struct {
	path string
	now  func() time.Time

	mu sync.RWMutex
	st *state
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock overrides time.Now for createdAt/updatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

type state struct {
	users      map[int64]domain.User
	txs        map[int64]domain.Transaction
	nextUserID int64
	nextTxID   int64
}

func newState() *state {
	return &state{
		users:      make(map[int64]domain.User),
		txs:        make(map[int64]domain.Transaction),
		nextUserID: 1,
		nextTxID:   1,
	}
}

func (s *state) clone() *state {
	out := &state{
		users:      make(map[int64]domain.User, len(s.users)),
		txs:        make(map[int64]domain.Transaction, len(s.txs)),
		nextUserID: s.nextUserID,
		nextTxID:   s.nextTxID,
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.txs {
		out.txs[k] = v
	}
	return out
}

// NewFileStore opens the snapshot at path, or starts empty if it does not exist yet.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	s := &FileStore{path: path, now: time.Now, st: newState()}
	for _, opt := range opts {
		opt(s)
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger snapshot: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode ledger snapshot: %w", err)
	}
	st, err := snap.toState()
	if err != nil {
		return nil, err
	}
	s.st = st
	return s, nil
}

// Path returns the snapshot location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) read() *view {
	return &view{st: s.st, now: s.now}
}

func (s *FileStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetUser(ctx, id)
}

func (s *FileStore) GetUserForUpdate(ctx context.Context, id int64) (domain.User, error) {
	return s.GetUser(ctx, id)
}

func (s *FileStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetUserByEmail(ctx, email)
}

func (s *FileStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetUserByUsername(ctx, username)
}

func (s *FileStore) GetUserByUPIID(ctx context.Context, upiID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetUserByUPIID(ctx, upiID)
}

func (s *FileStore) GetUserByEthAddress(ctx context.Context, addr string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetUserByEthAddress(ctx, addr)
}

func (s *FileStore) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTransaction(ctx, id)
}

func (s *FileStore) ListTransactionsForUser(ctx context.Context, userID int64) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactionsForUser(ctx, userID)
}

func (s *FileStore) RecentTransactionsForUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().RecentTransactionsForUser(ctx, userID, limit)
}

func (s *FileStore) MonthlyStats(ctx context.Context, userID int64, now time.Time) (domain.MonthlyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().MonthlyStats(ctx, userID, now)
}

func (s *FileStore) ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListExpiredPending(ctx, now)
}

func (s *FileStore) CreateUser(ctx context.Context, u domain.NewUser) (domain.User, error) {
	var out domain.User
	err := s.Atomic(ctx, func(tx Store) error {
		var err error
		out, err = tx.CreateUser(ctx, u)
		return err
	})
	return out, err
}

func (s *FileStore) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error) {
	var out domain.User
	err := s.Atomic(ctx, func(tx Store) error {
		var err error
		out, err = tx.UpdateUser(ctx, id, patch)
		return err
	})
	return out, err
}

func (s *FileStore) CreateTransaction(ctx context.Context, t domain.NewTransaction) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.Atomic(ctx, func(tx Store) error {
		var err error
		out, err = tx.CreateTransaction(ctx, t)
		return err
	})
	return out, err
}

func (s *FileStore) UpdateTransaction(ctx context.Context, id int64, patch domain.TransactionPatch) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.Atomic(ctx, func(tx Store) error {
		var err error
		out, err = tx.UpdateTransaction(ctx, id, patch)
		return err
	})
	return out, err
}

// Atomic applies fn to a private copy of the ledger and swaps it in only
// after the snapshot has been written. Writers are serialized.
func (s *FileStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := s.st.clone()
	if err := fn(&view{st: next, now: s.now}); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.st = next
	return nil
}

func (s *FileStore) persist(st *state) error {
	if s.path == "" {
		return nil
	}

	raw, err := json.MarshalIndent(fromState(st), "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync ledger snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace ledger snapshot: %w", err)
	}
	return nil
}

// view implements Store over a state without locking; the owning FileStore
// holds the lock.
type view struct {
	st  *state
	now func() time.Time
}

func (v *view) GetUser(_ context.Context, id int64) (domain.User, error) {
	u, ok := v.st.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

func (v *view) GetUserForUpdate(ctx context.Context, id int64) (domain.User, error) {
	return v.GetUser(ctx, id)
}

func (v *view) findUser(match func(domain.User) bool) (domain.User, error) {
	for _, u := range v.st.users {
		if match(u) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (v *view) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	email = strings.TrimSpace(email)
	return v.findUser(func(u domain.User) bool { return strings.EqualFold(u.Email, email) })
}

func (v *view) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	username = strings.TrimSpace(username)
	return v.findUser(func(u domain.User) bool { return strings.EqualFold(u.Username, username) })
}

func (v *view) GetUserByUPIID(_ context.Context, upiID string) (domain.User, error) {
	upiID = strings.TrimSpace(upiID)
	return v.findUser(func(u domain.User) bool { return u.UPIID != nil && strings.EqualFold(*u.UPIID, upiID) })
}

func (v *view) GetUserByEthAddress(_ context.Context, addr string) (domain.User, error) {
	addr = strings.TrimSpace(addr)
	return v.findUser(func(u domain.User) bool {
		return u.EthereumAddress != nil && strings.EqualFold(*u.EthereumAddress, addr)
	})
}

func (v *view) CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error) {
	if _, err := v.GetUserByEmail(ctx, nu.Email); err == nil {
		return domain.User{}, fmt.Errorf("email %q: %w", nu.Email, domain.ErrConflict)
	}
	if _, err := v.GetUserByUsername(ctx, nu.Username); err == nil {
		return domain.User{}, fmt.Errorf("username %q: %w", nu.Username, domain.ErrConflict)
	}

	now := v.now().UTC()
	u := domain.User{
		ID:            v.st.nextUserID,
		Username:      strings.TrimSpace(nu.Username),
		Email:         strings.TrimSpace(nu.Email),
		PasswordHash:  nu.PasswordHash,
		Phone:         nu.Phone,
		WalletBalance: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	v.st.nextUserID++
	v.st.users[u.ID] = u
	return u, nil
}

func (v *view) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error) {
	u, err := v.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if patch.UPIID != nil {
		if other, err := v.GetUserByUPIID(ctx, *patch.UPIID); err == nil && other.ID != id {
			return domain.User{}, fmt.Errorf("upi id %q: %w", *patch.UPIID, domain.ErrConflict)
		}
	}
	if patch.EthereumAddress != nil {
		if other, err := v.GetUserByEthAddress(ctx, *patch.EthereumAddress); err == nil && other.ID != id {
			return domain.User{}, fmt.Errorf("ethereum address %q: %w", *patch.EthereumAddress, domain.ErrConflict)
		}
	}

	patch.Apply(&u)
	u.UpdatedAt = v.now().UTC()
	v.st.users[id] = u
	return u, nil
}

func (v *view) CreateTransaction(_ context.Context, nt domain.NewTransaction) (domain.Transaction, error) {
	now := v.now().UTC()
	t := domain.Transaction{
		ID:                    v.st.nextTxID,
		SenderID:              nt.SenderID,
		ReceiverID:            nt.ReceiverID,
		Receiver:              nt.Receiver,
		Amount:                nt.Amount,
		Currency:              nt.Currency,
		Status:                nt.Status,
		Note:                  nt.Note,
		VerificationCode:      nt.VerificationCode,
		VerificationExpiresAt: nt.VerificationExpiresAt,
		ExchangeRate:          nt.ExchangeRate,
		ConvertedAmount:       nt.ConvertedAmount,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	v.st.nextTxID++
	v.st.txs[t.ID] = t
	return t, nil
}

func (v *view) GetTransaction(_ context.Context, id int64) (domain.Transaction, error) {
	t, ok := v.st.txs[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("transaction %d: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (v *view) UpdateTransaction(ctx context.Context, id int64, patch domain.TransactionPatch) (domain.Transaction, error) {
	t, err := v.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := patch.Apply(&t); err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %d is %s: %w", id, t.Status, err)
	}
	t.UpdatedAt = v.now().UTC()
	v.st.txs[id] = t
	return t, nil
}

func (v *view) ListTransactionsForUser(_ context.Context, userID int64) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0)
	for _, t := range v.st.txs {
		if t.Involves(userID) {
			out = append(out, t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (v *view) RecentTransactionsForUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	all, err := v.ListTransactionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (v *view) MonthlyStats(_ context.Context, userID int64, now time.Time) (domain.MonthlyStats, error) {
	start := MonthStart(now)
	stats := domain.MonthlyStats{Spent: decimal.Zero, Received: decimal.Zero}
	for _, t := range v.st.txs {
		if t.Status != domain.StatusCompleted || t.CreatedAt.Before(start) {
			continue
		}
		if t.SenderID == userID {
			stats.Spent = stats.Spent.Add(t.Amount)
		}
		if t.ReceiverID != nil && *t.ReceiverID == userID {
			stats.Received = stats.Received.Add(t.Amount)
		}
	}
	return stats, nil
}

func (v *view) ListExpiredPending(_ context.Context, now time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, t := range v.st.txs {
		if t.Status == domain.StatusPending && t.VerificationExpiresAt != nil && !now.Before(*t.VerificationExpiresAt) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Atomic on a view is already inside its owner's unit.
func (v *view) Atomic(_ context.Context, fn func(tx Store) error) error {
	return fn(v)
}

func sortNewestFirst(txs []domain.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}
