package payments

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/audit"
	"github.com/chetannagda/payswift-backend/internal/balance"
	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
	"github.com/chetannagda/payswift-backend/internal/notify"
	"github.com/chetannagda/payswift-backend/internal/verification"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingAudit) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, e.Action)
	return nil
}

type fixture struct {
	store    *ledger.FileStore
	clock    *clock
	notifier *recordingNotifier
	audit    *recordingAudit
	svc      *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2026, 4, 15, 9, 30, 0, 0, time.UTC)}
	store, err := ledger.NewFileStore("", ledger.WithClock(c.Now))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f := &fixture{store: store, clock: c, notifier: &recordingNotifier{}, audit: &recordingAudit{}}
	codes := verification.NewService(verification.NewMemoryCodeStore(), verification.WithClock(c.Now))
	base := []Option{WithClock(c.Now), WithNotifier(f.notifier), WithAudit(f.audit)}
	f.svc = NewService(store, balance.NewEnforcer(store), codes, append(base, opts...)...)
	return f
}

func (f *fixture) user(t *testing.T, name string, balance int64) domain.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.store.CreateUser(ctx, domain.NewUser{Username: name, Email: name + "@example.com"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	bal := decimal.NewFromInt(balance)
	u, err = f.store.UpdateUser(ctx, u.ID, domain.UserPatch{WalletBalance: &bal})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return u
}

func (f *fixture) balanceOf(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return u.WalletBalance
}

func upi(sender int64, to string, amount int64) Intent {
	return Intent{SenderID: sender, Receiver: domain.UPIReceiver{UPIID: to}, Amount: decimal.NewFromInt(amount)}
}

func assertBalance(t *testing.T, got decimal.Decimal, want int64) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("expected balance %d, got %s", want, got)
	}
}

func TestInitiate_UPIBelowThresholdCompletes(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)

	res, err := f.svc.Initiate(context.Background(), upi(sender.ID, "alice@upi", 1500))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Transaction.Status != domain.StatusCompleted || res.VerificationRequired || res.Code != nil {
		t.Fatalf("expected completed ungated transaction, got %+v", res)
	}
	if res.Transaction.Type() != domain.TypeUPI {
		t.Fatalf("expected UPI type, got %s", res.Transaction.Type())
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 3500)
}

func TestInitiate_UPIAboveThresholdNeedsCode(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Transaction.Status != domain.StatusPending || !res.VerificationRequired || res.Code == nil {
		t.Fatalf("expected pending gated transaction, got %+v", res)
	}
	if !res.Transaction.Gated() || *res.Transaction.VerificationCode != res.Code.Value {
		t.Fatalf("expected transaction to carry the issued code")
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 5000)

	tx, err := f.svc.Verify(ctx, res.Transaction.ID, res.Code.Value)
	if err != nil {
		t.Fatalf("expected verify to succeed, got %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", tx.Status)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 2000)

	_, err = f.svc.Verify(ctx, res.Transaction.ID, res.Code.Value)
	if !errors.Is(err, domain.ErrInvalidState) && !errors.Is(err, domain.ErrAlreadyUsed) {
		t.Fatalf("expected replay to fail, got %v", err)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 2000)
}

func TestInitiate_ThresholdBoundary(t *testing.T) {
	cases := []struct {
		amount int64
		want   domain.Status
		gated  bool
	}{
		{2000, domain.StatusCompleted, false},
		{2001, domain.StatusPending, true},
	}
	for _, tc := range cases {
		f := newFixture(t)
		sender := f.user(t, "asha", 10000)
		res, err := f.svc.Initiate(context.Background(), upi(sender.ID, "alice@upi", tc.amount))
		if err != nil {
			t.Fatalf("amount %d: expected no error, got %v", tc.amount, err)
		}
		if res.Transaction.Status != tc.want || res.VerificationRequired != tc.gated {
			t.Fatalf("amount %d: expected %s gated=%v, got %s gated=%v",
				tc.amount, tc.want, tc.gated, res.Transaction.Status, res.VerificationRequired)
		}
	}
}

func TestInitiate_BankInsufficientFundsPersistsNothing(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 100)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, Intent{
		SenderID: sender.ID,
		Receiver: domain.BankReceiver{BeneficiaryName: "Ravi", AccountNumber: "001234567", IFSCCode: "HDFC0000123"},
		Amount:   decimal.NewFromInt(500),
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	txs, _ := f.store.ListTransactionsForUser(ctx, sender.ID)
	if len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 100)
}

func TestInitiate_InternationalCompletesImmediately(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 1000)
	rate := decimal.RequireFromString("0.012")

	res, err := f.svc.Initiate(context.Background(), Intent{
		SenderID:     sender.ID,
		Receiver:     domain.WalletReceiver{EthAddress: "0x52908400098527886E0F7030069857D2E4169EE7"},
		Amount:       decimal.NewFromInt(200),
		Currency:     "usd",
		ExchangeRate: &rate,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Transaction.Status != domain.StatusCompleted || res.VerificationRequired {
		t.Fatalf("expected completed ungated transaction, got %+v", res)
	}
	if res.Transaction.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", res.Transaction.Currency)
	}
	if res.Transaction.ConvertedAmount == nil || !res.Transaction.ConvertedAmount.Equal(decimal.RequireFromString("2.4")) {
		t.Fatalf("expected converted amount 2.40, got %v", res.Transaction.ConvertedAmount)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 800)
}

func TestBankTransferCompletes(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 1000)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, Intent{
		SenderID: sender.ID,
		Receiver: domain.BankReceiver{AccountNumber: "001234567", IFSCCode: "HDFC0000123"},
		Amount:   decimal.NewFromInt(400),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Transaction.Status != domain.StatusPending || res.VerificationRequired {
		t.Fatalf("expected pending bank transfer without code, got %+v", res)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 1000)

	if _, err := f.svc.Verify(ctx, res.Transaction.ID, "PSFV-0000"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected verify on bank transfer to be ErrInvalidState, got %v", err)
	}

	tx, err := f.svc.CompleteBankTransfer(ctx, res.Transaction.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", tx.Status)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 600)

	if _, err := f.svc.CompleteBankTransfer(ctx, res.Transaction.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected second completion to be ErrInvalidState, got %v", err)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 600)
}

func TestCompleteBankTransferRejectsOtherTypes(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()
	res, _ := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))

	if _, err := f.svc.CompleteBankTransfer(ctx, res.Transaction.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := f.svc.CompleteBankTransfer(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettlementRechecksBalance(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()

	gated, err := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, upi(sender.ID, "alice@upi", 1500)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, upi(sender.ID, "alice@upi", 1000)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 2500)

	_, err = f.svc.Verify(ctx, gated.Transaction.ID, gated.Code.Value)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds at settlement, got %v", err)
	}
	tx, _ := f.store.GetTransaction(ctx, gated.Transaction.ID)
	if tx.Status != domain.StatusPending {
		t.Fatalf("expected transaction to stay PENDING, got %s", tx.Status)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 2500)
}

func TestVerifyWrongCode(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()
	res, _ := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))

	wrong := "PSFV-0000"
	if res.Code.Value == wrong {
		wrong = "PSFV-0001"
	}
	if _, err := f.svc.Verify(ctx, res.Transaction.ID, wrong); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := f.svc.Verify(ctx, res.Transaction.ID, res.Code.Value); err != nil {
		t.Fatalf("expected correct code to still work, got %v", err)
	}
}

func TestVerifyAfterExpiryFailsTransaction(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()
	res, _ := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))

	f.clock.Advance(verification.DefaultTTL + time.Second)
	_, err := f.svc.Verify(ctx, res.Transaction.ID, res.Code.Value)
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	tx, _ := f.store.GetTransaction(ctx, res.Transaction.ID)
	if tx.Status != domain.StatusFailed || tx.FailureReason == nil || *tx.FailureReason != ReasonExpired {
		t.Fatalf("expected FAILED with expiry reason, got %s %v", tx.Status, tx.FailureReason)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 5000)
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 10000)
	ctx := context.Background()

	stale, _ := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))
	bank, _ := f.svc.Initiate(ctx, Intent{
		SenderID: sender.ID,
		Receiver: domain.BankReceiver{AccountNumber: "1", IFSCCode: "SBIN0000001"},
		Amount:   decimal.NewFromInt(10),
	})
	f.clock.Advance(verification.DefaultTTL)
	fresh, _ := f.svc.Initiate(ctx, upi(sender.ID, "carol@upi", 2500))

	n, err := f.svc.ExpirePending(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired transaction, got %d", n)
	}

	for id, want := range map[int64]domain.Status{
		stale.Transaction.ID: domain.StatusFailed,
		bank.Transaction.ID:  domain.StatusPending,
		fresh.Transaction.ID: domain.StatusPending,
	} {
		tx, _ := f.store.GetTransaction(ctx, id)
		if tx.Status != want {
			t.Fatalf("transaction %d: expected %s, got %s", id, want, tx.Status)
		}
	}
	if _, err := f.svc.Verify(ctx, stale.Transaction.ID, stale.Code.Value); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after expiry, got %v", err)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 10000)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()
	res, _ := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))

	tx, err := f.svc.Cancel(ctx, res.Transaction.ID, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tx.Status != domain.StatusFailed || *tx.FailureReason != ReasonCancelled {
		t.Fatalf("expected FAILED with cancel reason, got %s %v", tx.Status, tx.FailureReason)
	}
	if _, err := f.svc.Verify(ctx, res.Transaction.ID, res.Code.Value); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after cancel, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, res.Transaction.ID, ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected second cancel to be ErrInvalidState, got %v", err)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 5000)
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()

	cases := []struct {
		name   string
		intent Intent
		want   error
	}{
		{"unknown sender", upi(99, "bob@upi", 10), domain.ErrNotFound},
		{"zero amount", upi(sender.ID, "bob@upi", 0), domain.ErrValidation},
		{"negative amount", upi(sender.ID, "bob@upi", -5), domain.ErrValidation},
		{"bad upi id", upi(sender.ID, "bob", 10), domain.ErrValidation},
		{"missing receiver", Intent{SenderID: sender.ID, Amount: decimal.NewFromInt(10)}, domain.ErrValidation},
		{"bank without ifsc", Intent{
			SenderID: sender.ID,
			Receiver: domain.BankReceiver{AccountNumber: "1"},
			Amount:   decimal.NewFromInt(10),
		}, domain.ErrValidation},
		{"too precise", Intent{
			SenderID: sender.ID,
			Receiver: domain.UPIReceiver{UPIID: "bob@upi"},
			Amount:   decimal.RequireFromString("1.005"),
		}, domain.ErrValidation},
	}
	for _, tc := range cases {
		if _, err := f.svc.Initiate(ctx, tc.intent); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 5000)
}

func TestInSystemReceiverIsCredited(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	receiver := f.user(t, "ravi", 0)
	ctx := context.Background()
	upiID := "ravi@okbank"
	if _, err := f.store.UpdateUser(ctx, receiver.ID, domain.UserPatch{UPIID: &upiID}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	res, err := f.svc.Initiate(ctx, upi(sender.ID, "RAVI@okbank", 500))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Transaction.ReceiverID == nil || *res.Transaction.ReceiverID != receiver.ID {
		t.Fatalf("expected receiver id %d, got %v", receiver.ID, res.Transaction.ReceiverID)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 4500)
	assertBalance(t, f.balanceOf(t, receiver.ID), 500)

	stats, _ := f.store.MonthlyStats(ctx, receiver.ID, f.clock.Now())
	if !stats.Received.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected received 500, got %s", stats.Received)
	}

	// Paying your own UPI id is rejected.
	ownID := "asha@okbank"
	if _, err := f.store.UpdateUser(ctx, sender.ID, domain.UserPatch{UPIID: &ownID}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, upi(sender.ID, ownID, 10)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for self payment, got %v", err)
	}
}

func TestApproverDeclines(t *testing.T) {
	f := newFixture(t, WithApprover(LimitApprover{Max: decimal.NewFromInt(1000)}))
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()

	if _, err := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 1500)); !errors.Is(err, domain.ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 1000)); err != nil {
		t.Fatalf("expected amount at the limit to pass, got %v", err)
	}
	txs, _ := f.store.ListTransactionsForUser(ctx, sender.ID)
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}

	plain := newFixture(t, WithApprover(ApproverFunc(func(context.Context, domain.User, Intent) error {
		return errors.New("risk score too high")
	})))
	s2 := plain.user(t, "asha", 5000)
	if _, err := plain.svc.Initiate(ctx, upi(s2.ID, "bob@upi", 10)); !errors.Is(err, domain.ErrDeclined) {
		t.Fatalf("expected plain approver error to count as declined, got %v", err)
	}
}

func TestConcurrentInitiateNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 60))
		}(i)
	}
	wg.Wait()

	ok, declined := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientFunds):
			declined++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || declined != 1 {
		t.Fatalf("expected 1 success and 1 insufficient funds, got %d and %d", ok, declined)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 40)
}

func TestConcurrentVerifySettlesOnce(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()
	res, _ := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Verify(ctx, res.Transaction.ID, res.Code.Value)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if !errors.Is(err, domain.ErrInvalidState) && !errors.Is(err, domain.ErrAlreadyUsed) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful verify, got %d", ok)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 2000)
}

func TestEventsAndAudit(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()

	res, _ := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))
	if _, err := f.svc.Verify(ctx, res.Transaction.ID, res.Code.Value); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	kinds := f.notifier.kinds()
	if len(kinds) != 2 || kinds[0] != notify.VerificationIssued || kinds[1] != notify.TransactionSettled {
		t.Fatalf("expected issued then settled events, got %v", kinds)
	}
	if f.notifier.events[0].Code != res.Code.Value {
		t.Fatalf("expected issued event to carry the code")
	}
	if len(f.audit.actions) != 2 || f.audit.actions[1] != "transaction.completed" {
		t.Fatalf("expected created and completed audit entries, got %v", f.audit.actions)
	}
}

func TestVerifyRestoresCodeAfterCodeStoreLoss(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()
	res, _ := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))

	// A restarted process gets an empty code store over the same ledger.
	fresh := verification.NewService(verification.NewMemoryCodeStore(), verification.WithClock(f.clock.Now))
	svc := NewService(f.store, balance.NewEnforcer(f.store), fresh, WithClock(f.clock.Now))

	if _, err := svc.Verify(ctx, res.Transaction.ID, res.Code.Value); err != nil {
		t.Fatalf("expected verify to succeed from the ledger copy of the code, got %v", err)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 2000)
}

func TestVerifyRetriesAfterLedgerWriteFails(t *testing.T) {
	c := &clock{t: time.Date(2026, 4, 15, 9, 30, 0, 0, time.UTC)}
	dir := filepath.Join(t.TempDir(), "ledger")
	store, err := ledger.NewFileStore(filepath.Join(dir, "ledger.json"), ledger.WithClock(c.Now))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	codes := verification.NewService(verification.NewMemoryCodeStore(), verification.WithClock(c.Now))
	balances := balance.NewEnforcer(store)
	svc := NewService(store, balances, codes, WithClock(c.Now))
	ctx := context.Background()

	sender, err := store.CreateUser(ctx, domain.NewUser{Username: "asha", Email: "asha@example.com"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := balances.AddFunds(ctx, sender.ID, decimal.NewFromInt(5000)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	res, err := svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// A file where the snapshot directory should be makes the next write fail.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := os.WriteFile(dir, nil, 0o644); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := svc.Verify(ctx, res.Transaction.ID, res.Code.Value); err == nil {
		t.Fatalf("expected verify to fail while the ledger cannot be written")
	}
	tx, _ := store.GetTransaction(ctx, res.Transaction.ID)
	if tx.Status != domain.StatusPending {
		t.Fatalf("expected PENDING after failed write, got %s", tx.Status)
	}

	if err := os.Remove(dir); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	settled, err := svc.Verify(ctx, res.Transaction.ID, res.Code.Value)
	if err != nil {
		t.Fatalf("expected retry with the same code to settle, got %v", err)
	}
	if settled.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", settled.Status)
	}
	u, _ := store.GetUser(ctx, sender.ID)
	assertBalance(t, u.WalletBalance, 2000)

	if _, err := svc.Verify(ctx, res.Transaction.ID, res.Code.Value); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on replay, got %v", err)
	}
}

func TestVerifyTooManyWrongCodesFailsTransaction(t *testing.T) {
	f := newFixture(t)
	sender := f.user(t, "asha", 5000)
	ctx := context.Background()
	res, _ := f.svc.Initiate(ctx, upi(sender.ID, "bob@upi", 3000))

	wrong := "PSFV-0000"
	if res.Code.Value == wrong {
		wrong = "PSFV-0001"
	}
	var err error
	for i := 0; i < verification.MaxAttempts; i++ {
		_, err = f.svc.Verify(ctx, res.Transaction.ID, wrong)
	}
	if !errors.Is(err, verification.ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}

	tx, _ := f.store.GetTransaction(ctx, res.Transaction.ID)
	if tx.Status != domain.StatusFailed || tx.FailureReason == nil || *tx.FailureReason != ReasonTooManyAttempts {
		t.Fatalf("expected FAILED with attempts reason, got %s %v", tx.Status, tx.FailureReason)
	}
	if _, err := f.svc.Verify(ctx, res.Transaction.ID, res.Code.Value); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after lockout, got %v", err)
	}
	assertBalance(t, f.balanceOf(t, sender.ID), 5000)
}
