package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
	"github.com/chetannagda/payswift-backend/internal/money"
)

const monthLayout = "2006-01"

// StatementItem is one transaction as seen from the statement owner.
type StatementItem struct {
	ID        int64              `json:"id"`
	Type      domain.PaymentType `json:"type"`
	Status    domain.Status      `json:"status"`
	Outgoing  bool               `json:"outgoing"`
	Title     string             `json:"title"`
	Amount    decimal.Decimal    `json:"amount"`
	Currency  string             `json:"currency"`
	CreatedAt time.Time          `json:"createdAt"`
}

type DayPoint struct {
	Date     string          `json:"date"` // YYYY-MM-DD
	Received decimal.Decimal `json:"received"`
	Spent    decimal.Decimal `json:"spent"`
	Net      decimal.Decimal `json:"net"`
}

// Statement covers one calendar month. Totals and the daily series count
// COMPLETED transactions only; Items lists every status.
type Statement struct {
	User     domain.User     `json:"-"`
	Month    string          `json:"month"`
	Currency string          `json:"currency"`
	Spent    decimal.Decimal `json:"spent"`
	Received decimal.Decimal `json:"received"`
	Net      decimal.Decimal `json:"net"`
	Items    []StatementItem `json:"items"`
	Daily    []DayPoint      `json:"daily"`
}

// ParseMonth reads a YYYY-MM value; empty means the month containing now.
func ParseMonth(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ledger.MonthStart(now), nil
	}
	m, err := time.ParseInLocation(monthLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, domain.Invalid("month", "must be YYYY-MM")
	}
	return m, nil
}

// Build assembles the statement for userID over the month starting at month.
func Build(ctx context.Context, store ledger.Store, userID int64, month time.Time) (Statement, error) {
	u, err := store.GetUser(ctx, userID)
	if err != nil {
		return Statement{}, err
	}
	txs, err := store.ListTransactionsForUser(ctx, userID)
	if err != nil {
		return Statement{}, fmt.Errorf("list transactions: %w", err)
	}

	start := ledger.MonthStart(month)
	end := start.AddDate(0, 1, 0)
	s := Statement{
		User:     u,
		Month:    start.Format(monthLayout),
		Currency: money.DefaultCurrency,
		Spent:    decimal.Zero,
		Received: decimal.Zero,
		Items:    []StatementItem{},
	}

	days := make(map[string]*DayPoint)
	for _, t := range txs {
		created := t.CreatedAt.In(start.Location())
		if created.Before(start) || !created.Before(end) {
			continue
		}

		outgoing := t.SenderID == userID
		s.Items = append(s.Items, StatementItem{
			ID:        t.ID,
			Type:      t.Type(),
			Status:    t.Status,
			Outgoing:  outgoing,
			Title:     title(t, outgoing),
			Amount:    t.Amount,
			Currency:  t.Currency,
			CreatedAt: t.CreatedAt,
		})
		if t.Status != domain.StatusCompleted {
			continue
		}

		key := created.Format("2006-01-02")
		day, ok := days[key]
		if !ok {
			day = &DayPoint{Date: key, Received: decimal.Zero, Spent: decimal.Zero}
			days[key] = day
		}
		if outgoing {
			s.Spent = s.Spent.Add(t.Amount)
			day.Spent = day.Spent.Add(t.Amount)
		} else {
			s.Received = s.Received.Add(t.Amount)
			day.Received = day.Received.Add(t.Amount)
		}
	}
	s.Net = s.Received.Sub(s.Spent)

	// A point per calendar day with a running net, like a bank passbook.
	running := decimal.Zero
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		p := DayPoint{Date: key, Received: decimal.Zero, Spent: decimal.Zero}
		if day, ok := days[key]; ok {
			p = *day
		}
		running = running.Add(p.Received).Sub(p.Spent)
		p.Net = running
		s.Daily = append(s.Daily, p)
	}
	return s, nil
}

func title(t domain.Transaction, outgoing bool) string {
	if !outgoing {
		return fmt.Sprintf("From user #%d", t.SenderID)
	}
	switch r := t.Receiver.(type) {
	case domain.UPIReceiver:
		return "To " + r.UPIID
	case domain.BankReceiver:
		name := r.BeneficiaryName
		if name == "" {
			name = "account"
		}
		return fmt.Sprintf("To %s (%s, %s)", name, maskAccount(r.AccountNumber), r.IFSCCode)
	case domain.WalletReceiver:
		return "To wallet " + shortAddr(r.EthAddress)
	default:
		return "Payment"
	}
}
