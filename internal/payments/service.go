package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/audit"
	"github.com/chetannagda/payswift-backend/internal/balance"
	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
	"github.com/chetannagda/payswift-backend/internal/money"
	"github.com/chetannagda/payswift-backend/internal/notify"
	"github.com/chetannagda/payswift-backend/internal/verification"
)

// Failure reasons stored on FAILED transactions.
const (
	ReasonExpired   = "verification code expired"
	ReasonCancelled = "cancelled by sender"

	ReasonTooManyAttempts = "too many incorrect verification codes"
)

// Intent is a request to move money from SenderID to Receiver. The payment
// type follows from the receiver variant.
type Intent struct {
	SenderID     int64
	Receiver     domain.Receiver
	Amount       decimal.Decimal
	Currency     string
	Note         *string
	ExchangeRate *decimal.Decimal
}

// Result is what Initiate hands back. Code is set only for gated payments.
type Result struct {
	Transaction          domain.Transaction
	Code                 *verification.Code
	VerificationRequired bool
}

// Service runs the payment state machine. Balance changes go through the
// enforcer; codes gate settlement of large UPI payments.
type Service struct {
	store    ledger.Store
	balances *balance.Enforcer
	codes    *verification.Service

	approver Approver
	notifier notify.Notifier
	audit    audit.Recorder
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithApprover(a Approver) Option { return func(s *Service) { s.approver = a } }
func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithAudit(r audit.Recorder) Option { return func(s *Service) { s.audit = r } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService defaults to AllowAll, no notifications, no audit and time.Now.
func NewService(store ledger.Store, balances *balance.Enforcer, codes *verification.Service, opts ...Option) *Service {
	s := &Service{
		store:    store,
		balances: balances,
		codes:    codes,
		approver: AllowAll{},
		notifier: notify.Nop{},
		audit:    audit.Nop{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate records a new transaction with the status its policy picks. When
// that status is COMPLETED the sender is debited in the same unit; when the
// payment is gated a code is issued and returned. On insufficient funds
// nothing is persisted.
func (s *Service) Initiate(ctx context.Context, in Intent) (Result, error) {
	sender, err := s.store.GetUser(ctx, in.SenderID)
	if err != nil {
		return Result{}, err
	}
	if err := normalizeIntent(&in); err != nil {
		return Result{}, err
	}
	receiverID, err := s.resolveReceiver(ctx, sender.ID, in.Receiver)
	if err != nil {
		return Result{}, err
	}
	if !balance.CanAfford(sender, in.Amount) {
		return Result{}, insufficient(sender, in.Amount)
	}
	if err := s.approver.PreApprove(ctx, sender, in); err != nil {
		if !errors.Is(err, domain.ErrDeclined) {
			err = fmt.Errorf("%w: %v", domain.ErrDeclined, err)
		}
		return Result{}, err
	}

	p := planFor(in.Receiver.Type(), in.Amount)
	var converted *decimal.Decimal
	if in.ExchangeRate != nil {
		v := in.Amount.Mul(*in.ExchangeRate).Round(2)
		converted = &v
	}

	var res Result
	err = s.balances.WithUsers(ctx, lockSet(sender.ID, receiverID), func(st ledger.Store) error {
		current, err := st.GetUserForUpdate(ctx, sender.ID)
		if err != nil {
			return err
		}
		if !balance.CanAfford(current, in.Amount) {
			return insufficient(current, in.Amount)
		}

		t, err := st.CreateTransaction(ctx, domain.NewTransaction{
			SenderID:        sender.ID,
			ReceiverID:      receiverID,
			Receiver:        in.Receiver,
			Amount:          in.Amount,
			Currency:        in.Currency,
			Status:          p.initial,
			Note:            in.Note,
			ExchangeRate:    in.ExchangeRate,
			ConvertedAmount: converted,
		})
		if err != nil {
			return err
		}

		if p.initial == domain.StatusCompleted {
			if err := moveFunds(ctx, st, t); err != nil {
				return err
			}
		}
		if p.needsCode {
			code, err := s.codes.Issue(ctx, t.ID)
			if err != nil {
				return err
			}
			t, err = st.UpdateTransaction(ctx, t.ID, domain.TransactionPatch{
				VerificationCode:      &code.Value,
				VerificationExpiresAt: &code.ExpiresAt,
			})
			if err != nil {
				return err
			}
			res.Code = &code
			res.VerificationRequired = true
		}
		res.Transaction = t
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	t := res.Transaction
	s.record(ctx, t, "transaction.created")
	switch {
	case t.Status == domain.StatusCompleted:
		s.emit(ctx, notify.TransactionSettled, t, nil, "")
	case res.Code != nil:
		s.emit(ctx, notify.VerificationIssued, t, res.Code, "")
	}
	return res, nil
}

// Verify settles a gated PENDING transaction once the right code is
// presented. A code presented after its deadline fails the transaction.
func (s *Service) Verify(ctx context.Context, transactionID int64, code string) (domain.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := requirePending(t); err != nil {
		return domain.Transaction{}, err
	}
	if !t.Gated() {
		return domain.Transaction{}, fmt.Errorf("transaction %d does not use a verification code: %w",
			t.ID, domain.ErrInvalidState)
	}

	if t.VerificationExpiresAt != nil && !s.now().Before(*t.VerificationExpiresAt) {
		s.failQuietly(ctx, t, ReasonExpired)
		return domain.Transaction{}, fmt.Errorf("transaction %d: %w", t.ID, domain.ErrExpired)
	}
	if err := s.codes.Restore(ctx, codeOf(t)); err != nil {
		return domain.Transaction{}, err
	}
	if err := s.codes.Check(ctx, t.ID, code); err != nil {
		switch {
		case errors.Is(err, verification.ErrTooManyAttempts):
			s.failQuietly(ctx, t, ReasonTooManyAttempts)
		case errors.Is(err, domain.ErrExpired):
			s.failQuietly(ctx, t, ReasonExpired)
		}
		return domain.Transaction{}, err
	}

	// The code is consumed only after the ledger commits, so a failed unit
	// leaves it usable for a retry. requirePending inside the unit stops a
	// second settlement.
	out, err := s.settle(ctx, t, func() error {
		return s.codes.Check(ctx, t.ID, code)
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := s.codes.Consume(ctx, t.ID); err != nil {
		s.logger.WarnContext(ctx, "consume verification code failed",
			slog.Int64("transaction_id", t.ID), slog.Any("error", err))
	}
	return out, nil
}

// CompleteBankTransfer settles a PENDING bank transfer.
func (s *Service) CompleteBankTransfer(ctx context.Context, transactionID int64) (domain.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := requirePending(t); err != nil {
		return domain.Transaction{}, err
	}
	if t.Type() != domain.TypeBank {
		return domain.Transaction{}, fmt.Errorf("transaction %d is %s, not a bank transfer: %w",
			t.ID, t.Type(), domain.ErrInvalidState)
	}
	return s.settle(ctx, t, nil)
}

// Cancel fails a PENDING transaction. No money moves.
func (s *Service) Cancel(ctx context.Context, transactionID int64, reason string) (domain.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := requirePending(t); err != nil {
		return domain.Transaction{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonCancelled
	}
	return s.fail(ctx, t, reason)
}

// settle debits the sender, credits an in-system receiver and marks t
// COMPLETED as one unit. gate runs after the balance re-check and before
// any write; a gate error aborts the unit.
func (s *Service) settle(ctx context.Context, t domain.Transaction, gate func() error) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.balances.WithUsers(ctx, lockSet(t.SenderID, t.ReceiverID), func(st ledger.Store) error {
		current, err := st.GetTransaction(ctx, t.ID)
		if err != nil {
			return err
		}
		if err := requirePending(current); err != nil {
			return err
		}
		sender, err := st.GetUserForUpdate(ctx, current.SenderID)
		if err != nil {
			return err
		}
		if !balance.CanAfford(sender, current.Amount) {
			return insufficient(sender, current.Amount)
		}
		if gate != nil {
			if err := gate(); err != nil {
				return err
			}
		}
		if err := moveFunds(ctx, st, current); err != nil {
			return err
		}
		completed := domain.StatusCompleted
		out, err = st.UpdateTransaction(ctx, t.ID, domain.TransactionPatch{Status: &completed})
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.record(ctx, out, "transaction.completed")
	s.emit(ctx, notify.TransactionSettled, out, nil, "")
	return out, nil
}

func (s *Service) fail(ctx context.Context, t domain.Transaction, reason string) (domain.Transaction, error) {
	var out domain.Transaction
	failed := domain.StatusFailed
	err := s.balances.WithUsers(ctx, lockSet(t.SenderID, nil), func(st ledger.Store) error {
		var err error
		out, err = st.UpdateTransaction(ctx, t.ID, domain.TransactionPatch{Status: &failed, FailureReason: &reason})
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	if out.Gated() {
		if err := s.codes.Expire(ctx, out.ID); err != nil {
			s.logger.WarnContext(ctx, "expire verification code failed",
				slog.Int64("transaction_id", out.ID), slog.Any("error", err))
		}
	}
	s.record(ctx, out, "transaction.failed")
	s.emit(ctx, notify.TransactionFailed, out, nil, reason)
	return out, nil
}

// failQuietly is used on paths that already report their own error.
func (s *Service) failQuietly(ctx context.Context, t domain.Transaction, reason string) {
	if _, err := s.fail(ctx, t, reason); err != nil && !errors.Is(err, domain.ErrInvalidState) {
		s.logger.ErrorContext(ctx, "fail transaction",
			slog.Int64("transaction_id", t.ID), slog.String("reason", reason), slog.Any("error", err))
	}
}

func (s *Service) resolveReceiver(ctx context.Context, senderID int64, r domain.Receiver) (*int64, error) {
	var (
		u   domain.User
		err error
	)
	switch v := r.(type) {
	case domain.UPIReceiver:
		u, err = s.store.GetUserByUPIID(ctx, v.UPIID)
	case domain.WalletReceiver:
		u, err = s.store.GetUserByEthAddress(ctx, v.EthAddress)
	default:
		return nil, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.ID == senderID {
		return nil, domain.Invalid("receiver", "cannot send money to yourself")
	}
	return &u.ID, nil
}

func (s *Service) record(ctx context.Context, t domain.Transaction, action string) {
	err := s.audit.Record(ctx, audit.Entry{
		UserID:     &t.SenderID,
		Action:     action,
		EntityType: "transaction",
		EntityID:   t.ID,
		Metadata: map[string]any{
			"type":   string(t.Type()),
			"status": string(t.Status),
			"amount": money.Format(t.Amount),
		},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit write failed",
			slog.String("action", action), slog.Int64("transaction_id", t.ID), slog.Any("error", err))
	}
}

func (s *Service) emit(ctx context.Context, kind notify.Kind, t domain.Transaction, code *verification.Code, reason string) {
	e := notify.Event{
		Kind:          kind,
		TransactionID: t.ID,
		UserID:        t.SenderID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Reason:        reason,
	}
	if code != nil {
		e.Code = code.Value
		e.ExpiresAt = &code.ExpiresAt
	}
	if sender, err := s.store.GetUser(ctx, t.SenderID); err == nil {
		e.Phone = sender.Phone
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("event", string(kind)), slog.Int64("transaction_id", t.ID), slog.Any("error", err))
	}
}

// moveFunds is the single place a settled transaction touches balances.
func moveFunds(ctx context.Context, st ledger.Store, t domain.Transaction) error {
	if _, err := balance.Debit(ctx, st, t.SenderID, t.Amount); err != nil {
		return err
	}
	if t.ReceiverID != nil {
		if _, err := balance.Credit(ctx, st, *t.ReceiverID, t.Amount); err != nil {
			return err
		}
	}
	return nil
}

func normalizeIntent(in *Intent) error {
	if err := money.RequirePositive(in.Amount); err != nil {
		return domain.Invalid("amount", err.Error())
	}
	if err := domain.ValidateReceiver(in.Receiver); err != nil {
		return err
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = money.DefaultCurrency
	}
	if in.ExchangeRate != nil && !in.ExchangeRate.IsPositive() {
		return domain.Invalid("exchangeRate", "must be greater than zero")
	}
	if in.Note != nil {
		note := strings.TrimSpace(*in.Note)
		if note == "" {
			in.Note = nil
		} else {
			in.Note = &note
		}
	}
	return nil
}

func requirePending(t domain.Transaction) error {
	if t.Status != domain.StatusPending {
		return fmt.Errorf("transaction %d is %s: %w", t.ID, t.Status, domain.ErrInvalidState)
	}
	return nil
}

func insufficient(u domain.User, amount decimal.Decimal) error {
	return fmt.Errorf("balance %s is below %s: %w",
		money.Format(u.WalletBalance), money.Format(amount), domain.ErrInsufficientFunds)
}

func lockSet(senderID int64, receiverID *int64) []int64 {
	if receiverID == nil {
		return []int64{senderID}
	}
	return []int64{senderID, *receiverID}
}

func codeOf(t domain.Transaction) verification.Code {
	c := verification.Code{TransactionID: t.ID, CreatedAt: t.CreatedAt}
	if t.VerificationCode != nil {
		c.Value = *t.VerificationCode
	}
	if t.VerificationExpiresAt != nil {
		c.ExpiresAt = *t.VerificationExpiresAt
	}
	return c
}
