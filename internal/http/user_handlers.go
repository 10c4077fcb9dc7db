package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/auth"
	"github.com/chetannagda/payswift-backend/internal/balance"
	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
)

const (
	defaultRecentLimit = 5
	maxRecentLimit     = 50
)

type UserHandler struct {
	Store    ledger.Store
	Balances *balance.Enforcer
	Now      func() time.Time
}

func NewUserHandler(store ledger.Store, balances *balance.Enforcer) *UserHandler {
	return &UserHandler{Store: store, Balances: balances, Now: ledger.UTCNow}
}

type addFundsRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

type patchUserRequest struct {
	UPIID           *string `json:"upiId" validate:"omitempty,upi"`
	EthereumAddress *string `json:"ethereumAddress" validate:"omitempty,eth_addr"`
	Phone           *string `json:"phone" validate:"omitempty,e164"`
}

type userResponse struct {
	User domain.User `json:"user"`
}

type transactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
}

// Get handles GET /users/:id.
func (h *UserHandler) Get(c *fiber.Ctx) error {
	id, err := h.target(c)
	if err != nil {
		return err
	}
	u, err := h.Store.GetUser(userContext(c), id)
	if err != nil {
		return err
	}
	return c.JSON(userResponse{User: u})
}

// Patch handles PATCH /users/:id for the payment identifiers and phone.
func (h *UserHandler) Patch(c *fiber.Ctx) error {
	id, err := h.target(c)
	if err != nil {
		return err
	}
	var req patchUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	patch := domain.UserPatch{
		UPIID:           trimmed(req.UPIID),
		EthereumAddress: trimmed(req.EthereumAddress),
		Phone:           trimmed(req.Phone),
	}
	if patch.EthereumAddress != nil {
		lower := strings.ToLower(*patch.EthereumAddress)
		patch.EthereumAddress = &lower
	}

	ctx := userContext(c)
	var u domain.User
	err = h.Store.Atomic(ctx, func(tx ledger.Store) error {
		var err error
		u, err = tx.UpdateUser(ctx, id, patch)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(userResponse{User: u})
}

// Transactions handles GET /users/:id/transactions.
func (h *UserHandler) Transactions(c *fiber.Ctx) error {
	id, err := h.existing(c)
	if err != nil {
		return err
	}
	txs, err := h.Store.ListTransactionsForUser(userContext(c), id)
	if err != nil {
		return err
	}
	return c.JSON(transactionsResponse{Transactions: nonNil(txs)})
}

// Recent handles GET /users/:id/recent-transactions?limit=.
func (h *UserHandler) Recent(c *fiber.Ctx) error {
	id, err := h.existing(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", defaultRecentLimit)
	if limit <= 0 {
		return domain.Invalid("limit", "must be greater than 0")
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	txs, err := h.Store.RecentTransactionsForUser(userContext(c), id, limit)
	if err != nil {
		return err
	}
	return c.JSON(transactionsResponse{Transactions: nonNil(txs)})
}

// MonthlyStats handles GET /users/:id/monthly-stats.
func (h *UserHandler) MonthlyStats(c *fiber.Ctx) error {
	id, err := h.existing(c)
	if err != nil {
		return err
	}
	stats, err := h.Store.MonthlyStats(userContext(c), id, h.Now())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// AddFunds handles POST /users/:id/add-funds.
func (h *UserHandler) AddFunds(c *fiber.Ctx) error {
	id, err := h.target(c)
	if err != nil {
		return err
	}
	var req addFundsRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	u, err := h.Balances.AddFunds(userContext(c), id, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(userResponse{User: u})
}

// target parses :id and checks it against the authenticated user.
func (h *UserHandler) target(c *fiber.Ctx) (int64, error) {
	id, err := pathID(c, "id")
	if err != nil {
		return 0, err
	}
	if err := auth.Authorize(c, id); err != nil {
		return 0, err
	}
	return id, nil
}

// existing is target plus a 404 for unknown users, so listings of a missing
// user do not come back empty.
func (h *UserHandler) existing(c *fiber.Ctx) (int64, error) {
	id, err := h.target(c)
	if err != nil {
		return 0, err
	}
	if _, err := h.Store.GetUser(userContext(c), id); err != nil {
		return 0, err
	}
	return id, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func nonNil(txs []domain.Transaction) []domain.Transaction {
	if txs == nil {
		return []domain.Transaction{}
	}
	return txs
}
