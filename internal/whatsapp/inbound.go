// Package whatsapp handles Twilio WhatsApp webhooks. Senders can confirm a
// gated payment by replying with its number and code, e.g. "#12 PSFV-1234".
package whatsapp

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
)

const usage = "Reply with the payment number and code, like: #12 PSFV-1234"

// Verifier settles a gated payment. *payments.Service satisfies it.
type Verifier interface {
	Verify(ctx context.Context, transactionID int64, code string) (domain.Transaction, error)
}

// InboundHandler answers Twilio's form-encoded webhook with TwiML. Twilio
// only needs a 200, so failures are reported in the reply text.
func InboundHandler(store ledger.Store, verifier Verifier, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx) error {
		phone := normalizeTwilioWhatsAppFrom(c.FormValue("From"))
		txID, code, ok := parseReply(c.FormValue("Body"))
		if phone == "" || !ok {
			return writeTwiML(c, usage)
		}

		ctx := c.UserContext()
		t, err := store.GetTransaction(ctx, txID)
		if err != nil {
			return writeTwiML(c, "We couldn't find that payment.")
		}
		sender, err := store.GetUser(ctx, t.SenderID)
		if err != nil || sender.Phone == nil || *sender.Phone != phone {
			// Same reply as unknown ids so numbers can't be probed.
			return writeTwiML(c, "We couldn't find that payment.")
		}

		if _, err := verifier.Verify(ctx, txID, code); err != nil {
			logger.InfoContext(ctx, "whatsapp verification rejected",
				slog.Int64("transaction_id", txID), slog.Any("error", err))
			return writeTwiML(c, replyFor(err))
		}
		return writeTwiML(c, "Payment #"+strconv.FormatInt(txID, 10)+" confirmed.")
	}
}

func replyFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCode):
		return "That code doesn't match. Check the message and try again."
	case errors.Is(err, domain.ErrExpired):
		return "That code has expired and the payment was cancelled."
	case errors.Is(err, domain.ErrAlreadyUsed), errors.Is(err, domain.ErrInvalidState):
		return "That payment is no longer waiting for a code."
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "Insufficient balance to complete the payment."
	default:
		return "Something went wrong. Please try again."
	}
}

// parseReply accepts "<id> <code>" with an optional leading '#'.
func parseReply(body string) (int64, string, bool) {
	fields := strings.Fields(body)
	if len(fields) != 2 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, fields[1], true
}

func normalizeTwilioWhatsAppFrom(from string) string {
	from = strings.TrimSpace(from)
	from = strings.TrimPrefix(from, "whatsapp:")
	return strings.TrimSpace(from)
}

func writeTwiML(c *fiber.Ctx, msg string) error {
	c.Set(fiber.HeaderContentType, "application/xml")
	return c.Status(fiber.StatusOK).SendString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<Response><Message>` + escapeXML(msg) + `</Message></Response>`)
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer(
		`&`, "&amp;",
		`<`, "&lt;",
		`>`, "&gt;",
		`"`, "&quot;",
		`'`, "&apos;",
	)
	return replacer.Replace(s)
}
