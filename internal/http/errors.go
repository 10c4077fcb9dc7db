package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/chetannagda/payswift-backend/internal/auth"
	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/money"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

var errorCodes = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrValidation, fiber.StatusBadRequest, "VALIDATION_ERROR"},
	{money.ErrInvalidMoney, fiber.StatusBadRequest, "VALIDATION_ERROR"},
	{domain.ErrInsufficientFunds, fiber.StatusBadRequest, "INSUFFICIENT_FUNDS"},
	{domain.ErrInvalidState, fiber.StatusBadRequest, "INVALID_STATE"},
	{domain.ErrExpired, fiber.StatusBadRequest, "EXPIRED"},
	{domain.ErrAlreadyUsed, fiber.StatusBadRequest, "ALREADY_USED"},
	{domain.ErrInvalidCode, fiber.StatusBadRequest, "INVALID_CODE"},
	{domain.ErrConflict, fiber.StatusBadRequest, "CONFLICT"},
	{domain.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{domain.ErrDeclined, fiber.StatusForbidden, "DECLINED"},
	{auth.ErrBadCredentials, fiber.StatusUnauthorized, "UNAUTHORIZED"},
	{auth.ErrInvalidToken, fiber.StatusUnauthorized, "UNAUTHORIZED"},
}

// statusCodes covers errors raised directly with fiber.NewError.
var statusCodes = map[int]string{
	fiber.StatusBadRequest:            "VALIDATION_ERROR",
	fiber.StatusUnauthorized:          "UNAUTHORIZED",
	fiber.StatusForbidden:             "FORBIDDEN",
	fiber.StatusNotFound:              "NOT_FOUND",
	fiber.StatusMethodNotAllowed:      "METHOD_NOT_ALLOWED",
	fiber.StatusConflict:              "CONFLICT",
	fiber.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	fiber.StatusUnprocessableEntity:   "IDEMPOTENCY_MISMATCH",
	fiber.StatusTooManyRequests:       "RATE_LIMITED",
}

// ErrorHandler translates service errors into status codes and a stable
// machine-readable code. Unknown errors are logged and reported as 500
// without leaking their text.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code, ok := statusCodes[fiberErr.Code]
			if !ok {
				code = "INTERNAL"
			}
			return c.Status(fiberErr.Code).JSON(errorBody{Error: fiberErr.Message, Code: code})
		}

		for _, m := range errorCodes {
			if errors.Is(err, m.target) {
				body := errorBody{Error: err.Error(), Code: m.code}
				var fe *fieldErrors
				if errors.As(err, &fe) {
					body.Fields = fe.fields
				}
				return c.Status(m.status).JSON(body)
			}
		}

		logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "internal server error", Code: "INTERNAL"})
	}
}
