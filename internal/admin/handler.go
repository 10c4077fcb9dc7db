// Package admin holds operator endpoints guarded by a shared API key.
package admin

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
)

// Sweeper fails overdue pending payments. *payments.Service satisfies it.
type Sweeper interface {
	ExpirePending(ctx context.Context) (int, error)
}

type Handler struct {
	Store   ledger.Store
	Sweeper Sweeper
	Now     func() time.Time
}

func NewHandler(store ledger.Store, sweeper Sweeper) *Handler {
	return &Handler{Store: store, Sweeper: sweeper, Now: ledger.UTCNow}
}

type overdueTx struct {
	ID        int64              `json:"id"`
	SenderID  int64              `json:"senderId"`
	Type      domain.PaymentType `json:"type"`
	Amount    string             `json:"amount"`
	ExpiresAt *time.Time         `json:"verificationExpiresAt"`
}

type OverviewResponse struct {
	ServerTime     time.Time   `json:"serverTime"`
	OverdueTotal   int         `json:"overdueTotal"`
	OverduePending []overdueTx `json:"overduePending"`
}

// Overview lists pending payments whose verification window has closed but
// which the sweeper has not failed yet.
func (h *Handler) Overview(c *fiber.Ctx) error {
	now := h.Now()
	due, err := h.Store.ListExpiredPending(c.UserContext(), now)
	if err != nil {
		return err
	}

	resp := OverviewResponse{
		ServerTime:     now.UTC(),
		OverdueTotal:   len(due),
		OverduePending: make([]overdueTx, 0, len(due)),
	}
	for _, t := range due {
		resp.OverduePending = append(resp.OverduePending, overdueTx{
			ID:        t.ID,
			SenderID:  t.SenderID,
			Type:      t.Type(),
			Amount:    t.Amount.StringFixed(2),
			ExpiresAt: t.VerificationExpiresAt,
		})
	}
	return c.JSON(resp)
}

// ExpirePending runs one sweep now instead of waiting for the ticker.
func (h *Handler) ExpirePending(c *fiber.Ctx) error {
	n, err := h.Sweeper.ExpirePending(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"expired": n})
}
