package http

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/auth"
	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/chetannagda/payswift-backend/internal/ledger"
	"github.com/chetannagda/payswift-backend/internal/payments"
)

type PaymentHandler struct {
	Payments *payments.Service
	Store    ledger.Store
	// ExposeCodes echoes the verification code in the UPI response instead of
	// relying on the notification channel alone.
	ExposeCodes bool
}

func NewPaymentHandler(svc *payments.Service, store ledger.Store, exposeCodes bool) *PaymentHandler {
	return &PaymentHandler{Payments: svc, Store: store, ExposeCodes: exposeCodes}
}

type upiPaymentRequest struct {
	UPIID    string          `json:"upiId" validate:"required,upi"`
	Amount   decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Note     *string         `json:"note" validate:"omitempty,max=255"`
	Pin      string          `json:"pin" validate:"required,numeric,min=4,max=6"`
	SenderID int64           `json:"senderId" validate:"required,gt=0"`
}

type bankPaymentRequest struct {
	BeneficiaryName string          `json:"beneficiaryName" validate:"required,max=120"`
	AccountNumber   string          `json:"accountNumber" validate:"required,numeric,min=6,max=18"`
	IFSCCode        string          `json:"ifscCode" validate:"required,ifsc"`
	Amount          decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Note            *string         `json:"note" validate:"omitempty,max=255"`
	SenderID        int64           `json:"senderId" validate:"required,gt=0"`
}

type internationalPaymentRequest struct {
	WalletAddress string           `json:"walletAddress" validate:"required,eth_addr"`
	Amount        decimal.Decimal  `json:"amount" validate:"required,gt=0"`
	Currency      string           `json:"currency" validate:"required,iso4217"`
	SenderID      int64            `json:"senderId" validate:"required,gt=0"`
	ExchangeRate  *decimal.Decimal `json:"exchangeRate" validate:"omitempty,gt=0"`
}

// iso4217 is case-sensitive; clients often send "usd".
func (r *internationalPaymentRequest) normalize() {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.WalletAddress = strings.TrimSpace(r.WalletAddress)
}

type verifyRequest struct {
	TransactionID    int64  `json:"transactionId" validate:"required,gt=0"`
	VerificationCode string `json:"verificationCode" validate:"required,max=32"`
}

type completeRequest struct {
	TransactionID int64 `json:"transactionId" validate:"required,gt=0"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type transactionResponse struct {
	Transaction domain.Transaction `json:"transaction"`
}

type upiPaymentResponse struct {
	Transaction          domain.Transaction `json:"transaction"`
	VerificationRequired bool               `json:"verificationRequired"`
	VerificationCode     string             `json:"verificationCode,omitempty"`
}

// UPI handles POST /payments/upi. The PIN is validated for shape only.
func (h *PaymentHandler) UPI(c *fiber.Ctx) error {
	var req upiPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := auth.Authorize(c, req.SenderID); err != nil {
		return err
	}

	res, err := h.Payments.Initiate(userContext(c), payments.Intent{
		SenderID: req.SenderID,
		Receiver: domain.UPIReceiver{UPIID: strings.TrimSpace(req.UPIID)},
		Amount:   req.Amount,
		Note:     req.Note,
	})
	if err != nil {
		return err
	}

	resp := upiPaymentResponse{Transaction: res.Transaction, VerificationRequired: res.VerificationRequired}
	if h.ExposeCodes && res.Code != nil {
		resp.VerificationCode = res.Code.Value
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// VerifyUPI handles POST /payments/upi/verify.
func (h *PaymentHandler) VerifyUPI(c *fiber.Ctx) error {
	var req verifyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.authorizeTransaction(c, req.TransactionID); err != nil {
		return err
	}

	t, err := h.Payments.Verify(userContext(c), req.TransactionID, req.VerificationCode)
	if err != nil {
		return err
	}
	return c.JSON(transactionResponse{Transaction: t})
}

// Bank handles POST /payments/bank.
func (h *PaymentHandler) Bank(c *fiber.Ctx) error {
	var req bankPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := auth.Authorize(c, req.SenderID); err != nil {
		return err
	}

	res, err := h.Payments.Initiate(userContext(c), payments.Intent{
		SenderID: req.SenderID,
		Receiver: domain.BankReceiver{
			BeneficiaryName: strings.TrimSpace(req.BeneficiaryName),
			AccountNumber:   strings.TrimSpace(req.AccountNumber),
			IFSCCode:        strings.ToUpper(strings.TrimSpace(req.IFSCCode)),
		},
		Amount: req.Amount,
		Note:   req.Note,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(transactionResponse{Transaction: res.Transaction})
}

// CompleteBank handles POST /payments/bank/complete.
func (h *PaymentHandler) CompleteBank(c *fiber.Ctx) error {
	var req completeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.authorizeTransaction(c, req.TransactionID); err != nil {
		return err
	}

	t, err := h.Payments.CompleteBankTransfer(userContext(c), req.TransactionID)
	if err != nil {
		return err
	}
	return c.JSON(transactionResponse{Transaction: t})
}

// International handles POST /payments/international.
func (h *PaymentHandler) International(c *fiber.Ctx) error {
	var req internationalPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := auth.Authorize(c, req.SenderID); err != nil {
		return err
	}

	res, err := h.Payments.Initiate(userContext(c), payments.Intent{
		SenderID:     req.SenderID,
		Receiver:     domain.WalletReceiver{EthAddress: strings.TrimSpace(req.WalletAddress)},
		Amount:       req.Amount,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(transactionResponse{Transaction: res.Transaction})
}

// Cancel handles POST /payments/:id/cancel. The body is optional.
func (h *PaymentHandler) Cancel(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	if err := h.authorizeTransaction(c, id); err != nil {
		return err
	}

	t, err := h.Payments.Cancel(userContext(c), id, strings.TrimSpace(req.Reason))
	if err != nil {
		return err
	}
	return c.JSON(transactionResponse{Transaction: t})
}

// Get handles GET /payments/:id for either party of the transaction.
func (h *PaymentHandler) Get(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.Store.GetTransaction(userContext(c), id)
	if err != nil {
		return err
	}
	if uid, ok := auth.CurrentUserID(c); ok && !t.Involves(uid) {
		return fiber.NewError(fiber.StatusForbidden, "not allowed to view this transaction")
	}
	return c.JSON(transactionResponse{Transaction: t})
}

// authorizeTransaction lets only the sender drive a transaction forward.
func (h *PaymentHandler) authorizeTransaction(c *fiber.Ctx, id int64) error {
	if _, ok := auth.CurrentUserID(c); !ok {
		return nil
	}
	t, err := h.Store.GetTransaction(userContext(c), id)
	if err != nil {
		return err
	}
	return auth.Authorize(c, t.SenderID)
}

func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

func userContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}
