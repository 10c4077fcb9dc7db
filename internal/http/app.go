// Package http holds the Fiber handlers for the PaySwift REST API.
package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/chetannagda/payswift-backend/internal/config"
)

const bodyLimit = 64 * 1024

// NewApp builds the Fiber app with the API error handler installed.
func NewApp(cfg config.HTTPConfig, logger *slog.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "payswift",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger),
	})
}
