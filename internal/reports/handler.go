// Package reports builds monthly account statements from the ledger.
package reports

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/chetannagda/payswift-backend/internal/auth"
	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
)

type Handler struct {
	Store ledger.Store
	Now   func() time.Time
}

func NewHandler(store ledger.Store) *Handler {
	return &Handler{Store: store, Now: ledger.UTCNow}
}

// Statement handles GET /users/:id/statement?month=YYYY-MM.
func (h *Handler) Statement(c *fiber.Ctx) error {
	s, err := h.build(c)
	if err != nil {
		return err
	}
	return c.JSON(s)
}

// StatementPDF handles GET /users/:id/statement.pdf?month=YYYY-MM.
func (h *Handler) StatementPDF(c *fiber.Ctx) error {
	s, err := h.build(c)
	if err != nil {
		return err
	}

	doc, err := RenderPDF(s, h.Now())
	if err != nil {
		return err
	}

	filename := "payswift-statement-" + s.Month + ".pdf"
	c.Set("Content-Type", "application/pdf")
	c.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	return c.Send(doc)
}

func (h *Handler) build(c *fiber.Ctx) (Statement, error) {
	userID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || userID <= 0 {
		return Statement{}, domain.Invalid("id", "must be a positive integer")
	}
	if err := auth.Authorize(c, userID); err != nil {
		return Statement{}, err
	}

	month, err := ParseMonth(c.Query("month"), h.Now())
	if err != nil {
		return Statement{}, err
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return Build(ctx, h.Store, userID, month)
}
