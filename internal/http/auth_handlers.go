package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/chetannagda/payswift-backend/internal/auth"
	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
)

type AuthHandler struct {
	Store  ledger.Store
	Tokens *auth.Tokens
}

func NewAuthHandler(store ledger.Store, tokens *auth.Tokens) *AuthHandler {
	return &AuthHandler{Store: store, Tokens: tokens}
}

type registerRequest struct {
	Username string  `json:"username" validate:"required,alphanum,min=3,max=50"`
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Phone    *string `json:"phone" validate:"omitempty,e164"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var body registerRequest
	if err := bind(c, &body); err != nil {
		return err
	}

	hashed, err := auth.HashPassword(body.Password)
	if err != nil {
		return err
	}

	ctx := userContext(c)
	var u domain.User
	err = h.Store.Atomic(ctx, func(tx ledger.Store) error {
		var err error
		u, err = tx.CreateUser(ctx, domain.NewUser{
			Username:     strings.TrimSpace(body.Username),
			Email:        strings.ToLower(strings.TrimSpace(body.Email)),
			PasswordHash: hashed,
			Phone:        trimmed(body.Phone),
		})
		return err
	})
	if err != nil {
		return err
	}

	token, err := h.Tokens.Issue(u.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(authResponse{Token: token, User: u})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body loginRequest
	if err := bind(c, &body); err != nil {
		return err
	}

	u, err := h.Store.GetUserByEmail(userContext(c), strings.ToLower(strings.TrimSpace(body.Email)))
	if errors.Is(err, domain.ErrNotFound) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return err
	}
	if err := auth.CheckPassword(u.PasswordHash, body.Password); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := h.Tokens.Issue(u.ID)
	if err != nil {
		return err
	}
	return c.JSON(authResponse{Token: token, User: u})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	id, ok := auth.CurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	u, err := h.Store.GetUser(userContext(c), id)
	if err != nil {
		return err
	}
	return c.JSON(userResponse{User: u})
}
