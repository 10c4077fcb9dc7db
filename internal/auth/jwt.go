package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalsUserID is the fiber.Ctx locals key holding the authenticated user id (int64).
const LocalsUserID = "user_id"

var ErrInvalidToken = errors.New("invalid token")

// Tokens issues and parses HS256 tokens carrying a user_id claim.
type Tokens struct {
	Secret []byte
	TTL    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{Secret: []byte(secret), TTL: ttl, now: time.Now}
}

func (t *Tokens) Issue(userID int64) (string, error) {
	claims := jwt.MapClaims{
		"user_id": strconv.FormatInt(userID, 10),
		"exp":     t.now().Add(t.TTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
}

// Parse validates raw and returns its user id.
func (t *Tokens) Parse(raw string) (int64, error) {
	token, err := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.Secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	rawID, ok := claims["user_id"].(string)
	if !ok || strings.TrimSpace(rawID) == "" {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// user id under LocalsUserID.
func Middleware(t *Tokens) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		userID, err := t.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(LocalsUserID, userID)
		return c.Next()
	}
}

// CurrentUserID returns the id Middleware resolved, if any.
func CurrentUserID(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals(LocalsUserID).(int64)
	return id, ok && id > 0
}

// Authorize allows the request when no user is authenticated (auth disabled)
// or when the authenticated user is target.
func Authorize(c *fiber.Ctx, target int64) error {
	id, ok := CurrentUserID(c)
	if !ok || id == target {
		return nil
	}
	return fiber.NewError(fiber.StatusForbidden, "not allowed to act for this user")
}
