package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/chetannagda/payswift-backend/internal/admin"
	handlers "github.com/chetannagda/payswift-backend/internal/http"
	"github.com/chetannagda/payswift-backend/internal/reports"
)

type Router struct {
	AuthHandler    *handlers.AuthHandler
	PaymentHandler *handlers.PaymentHandler
	UserHandler    *handlers.UserHandler
	ReportsHandler *reports.Handler
	AdminHandler   *admin.Handler

	// AuthMW guards payment and user routes; nil leaves them open.
	AuthMW fiber.Handler
	// IdempotencyMW wraps payment creation; nil disables replays.
	IdempotencyMW fiber.Handler
	PaymentsLimit fiber.Handler
	// AdminMW gates /admin; AdminHandler routes are skipped without it.
	AdminMW fiber.Handler
	// WhatsAppInbound receives Twilio replies; nil leaves the webhook unmounted.
	WhatsAppInbound fiber.Handler
}

// Use installs the app-wide middleware in the order requests should meet it,
// with panic recovery innermost so recovered panics are still logged.
func Use(app *fiber.App, mw ...fiber.Handler) {
	for _, h := range mw {
		if h != nil {
			app.Use(h)
		}
	}
	app.Use(recover.New())
}

func (r *Router) RegisterRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"ok": true,
		})
	})

	if r.AuthHandler != nil {
		app.Post("/auth/register", RateLimitAuth(), r.AuthHandler.Register)
		app.Post("/auth/login", RateLimitAuth(), r.AuthHandler.Login)
		if r.AuthMW != nil {
			app.Get("/auth/me", r.AuthMW, r.AuthHandler.Me)
		}
	}

	if r.PaymentHandler != nil {
		h := r.PaymentHandler
		app.Post("/payments/upi", r.chain(h.UPI, r.PaymentsLimit, r.IdempotencyMW)...)
		app.Post("/payments/upi/verify", r.chain(h.VerifyUPI, r.PaymentsLimit)...)
		app.Post("/payments/bank", r.chain(h.Bank, r.PaymentsLimit, r.IdempotencyMW)...)
		app.Post("/payments/bank/complete", r.chain(h.CompleteBank, r.PaymentsLimit)...)
		app.Post("/payments/international", r.chain(h.International, r.PaymentsLimit, r.IdempotencyMW)...)
		app.Post("/payments/:id/cancel", r.chain(h.Cancel, r.PaymentsLimit)...)
		app.Get("/payments/:id", r.chain(h.Get)...)
	}

	if r.UserHandler != nil {
		h := r.UserHandler
		app.Get("/users/:id", r.chain(h.Get)...)
		app.Patch("/users/:id", r.chain(h.Patch)...)
		app.Get("/users/:id/transactions", r.chain(h.Transactions)...)
		app.Get("/users/:id/recent-transactions", r.chain(h.Recent)...)
		app.Get("/users/:id/monthly-stats", r.chain(h.MonthlyStats)...)
		app.Post("/users/:id/add-funds", r.chain(h.AddFunds, r.PaymentsLimit)...)
	}

	if r.ReportsHandler != nil {
		app.Get("/users/:id/statement", r.chain(r.ReportsHandler.Statement)...)
		app.Get("/users/:id/statement.pdf", r.chain(r.ReportsHandler.StatementPDF)...)
	}

	if r.WhatsAppInbound != nil {
		app.Post("/webhooks/whatsapp", RateLimitAuth(), r.WhatsAppInbound)
	}

	if r.AdminHandler != nil && r.AdminMW != nil {
		grp := app.Group("/admin", r.AdminMW)
		grp.Get("/overview", r.AdminHandler.Overview)
		grp.Post("/expire-pending", r.AdminHandler.ExpirePending)
	}
}

// chain puts AuthMW (when set) and the non-nil middleware in front of h.
func (r *Router) chain(h fiber.Handler, mw ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(mw)+2)
	if r.AuthMW != nil {
		out = append(out, r.AuthMW)
	}
	for _, m := range mw {
		if m != nil {
			out = append(out, m)
		}
	}
	return append(out, h)
}
