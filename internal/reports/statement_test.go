package reports

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/config"
	"github.com/chetannagda/payswift-backend/internal/domain"
	apphttp "github.com/chetannagda/payswift-backend/internal/http"
	"github.com/chetannagda/payswift-backend/internal/ledger"
)

type fixture struct {
	store *ledger.FileStore
	now   time.Time
	alice domain.User
	bob   domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)}
	store, err := ledger.NewFileStore("", ledger.WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f.store = store

	ctx := context.Background()
	f.alice, _ = store.CreateUser(ctx, domain.NewUser{Username: "alice", Email: "alice@example.com"})
	f.bob, _ = store.CreateUser(ctx, domain.NewUser{Username: "bob", Email: "bob@example.com"})

	aliceID := f.alice.ID
	f.tx(t, domain.NewTransaction{SenderID: f.alice.ID, Receiver: domain.UPIReceiver{UPIID: "shop@upi"}, Amount: decimal.NewFromInt(100), Status: domain.StatusCompleted})

	f.now = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	f.tx(t, domain.NewTransaction{SenderID: f.alice.ID, Receiver: domain.UPIReceiver{UPIID: "shop@upi"}, Amount: decimal.NewFromInt(1500), Status: domain.StatusCompleted})
	f.now = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	f.tx(t, domain.NewTransaction{SenderID: f.bob.ID, ReceiverID: &aliceID, Receiver: domain.UPIReceiver{UPIID: "alice@upi"}, Amount: decimal.RequireFromString("250.50"), Status: domain.StatusCompleted})
	f.tx(t, domain.NewTransaction{SenderID: f.alice.ID, Receiver: domain.BankReceiver{BeneficiaryName: "Landlord", AccountNumber: "123456789012", IFSCCode: "HDFC0001234"}, Amount: decimal.NewFromInt(9000), Status: domain.StatusPending})
	return f
}

func (f *fixture) tx(t *testing.T, nt domain.NewTransaction) {
	t.Helper()
	if nt.Currency == "" {
		nt.Currency = "INR"
	}
	if _, err := f.store.CreateTransaction(context.Background(), nt); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestBuildStatement(t *testing.T) {
	f := newFixture(t)
	month := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	s, err := Build(context.Background(), f.store, f.alice.ID, month)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.Month != "2026-04" {
		t.Fatalf("expected month 2026-04, got %s", s.Month)
	}
	if len(s.Items) != 3 {
		t.Fatalf("expected 3 items in April, got %d", len(s.Items))
	}
	if !s.Spent.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected spent 1500 (pending excluded), got %s", s.Spent)
	}
	if !s.Received.Equal(decimal.RequireFromString("250.50")) {
		t.Fatalf("expected received 250.50, got %s", s.Received)
	}
	if !s.Net.Equal(decimal.RequireFromString("-1249.50")) {
		t.Fatalf("expected net -1249.50, got %s", s.Net)
	}
	if len(s.Daily) != 30 {
		t.Fatalf("expected 30 daily points, got %d", len(s.Daily))
	}
	if last := s.Daily[len(s.Daily)-1]; !last.Net.Equal(s.Net) {
		t.Fatalf("expected running net to end at %s, got %s", s.Net, last.Net)
	}

	for _, it := range s.Items {
		if it.Type == domain.TypeBank && it.Title != "To Landlord (xxxxxxxx9012, HDFC0001234)" {
			t.Fatalf("expected masked bank title, got %q", it.Title)
		}
	}
}

func TestBuildStatementUnknownUser(t *testing.T) {
	f := newFixture(t)
	if _, err := Build(context.Background(), f.store, 999, f.now); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestParseMonth(t *testing.T) {
	now := time.Date(2026, 4, 18, 15, 0, 0, 0, time.UTC)
	got, err := ParseMonth("", now)
	if err != nil || !got.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected start of April, got %s (%v)", got, err)
	}
	if _, err := ParseMonth("2026-13", now); err == nil {
		t.Fatalf("expected error for month 13")
	}
}

func TestRenderPDF(t *testing.T) {
	f := newFixture(t)
	s, err := Build(context.Background(), f.store, f.alice.ID, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	doc, err := RenderPDF(s, f.now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		t.Fatalf("expected a PDF document")
	}
}

func TestStatementPDFHandler(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.store)
	h.Now = func() time.Time { return f.now }

	app := apphttp.NewApp(config.Defaults().HTTP, slog.New(slog.NewTextHandler(io.Discard, nil)))
	app.Get("/users/:id/statement.pdf", h.StatementPDF)
	app.Get("/users/:id/statement", h.Statement)

	cases := []struct {
		path        string
		status      int
		contentType string
	}{
		{"/users/1/statement.pdf?month=2026-04", http.StatusOK, "application/pdf"},
		{"/users/1/statement.pdf", http.StatusOK, "application/pdf"},
		{"/users/1/statement?month=2026-04", http.StatusOK, "application/json"},
		{"/users/1/statement.pdf?month=April", http.StatusBadRequest, "application/json"},
		{"/users/99/statement.pdf", http.StatusNotFound, "application/json"},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, tc.path, nil), -1)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.status, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !bytes.HasPrefix([]byte(ct), []byte(tc.contentType)) {
			t.Fatalf("%s: expected content type %s, got %s", tc.path, tc.contentType, ct)
		}
	}
}

func TestParseMonthIgnoresCallerZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	got, err := ParseMonth("2026-04", time.Date(2026, 4, 18, 15, 0, 0, 0, ist))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !got.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected April in UTC, got %s", got)
	}
	if loc := NewHandler(nil).Now().Location(); loc != time.UTC {
		t.Fatalf("expected handler clock in UTC, got %s", loc)
	}
}
