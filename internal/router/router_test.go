package router

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/admin"
	"github.com/chetannagda/payswift-backend/internal/auth"
	"github.com/chetannagda/payswift-backend/internal/balance"
	"github.com/chetannagda/payswift-backend/internal/config"
	handlers "github.com/chetannagda/payswift-backend/internal/http"
	"github.com/chetannagda/payswift-backend/internal/ledger"
	"github.com/chetannagda/payswift-backend/internal/payments"
	"github.com/chetannagda/payswift-backend/internal/reports"
	"github.com/chetannagda/payswift-backend/internal/verification"
)

func newTestApp(t *testing.T, paymentsMax int) *fiber.App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := ledger.NewFileStore("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	balances := balance.NewEnforcer(store)
	codes := verification.NewService(verification.NewMemoryCodeStore())
	svc := payments.NewService(store, balances, codes, payments.WithLogger(logger))
	tokens := auth.NewTokens("router-secret", time.Hour)

	app := handlers.NewApp(config.Defaults().HTTP, logger)
	Use(app, RequestLogger(logger), CorsMiddleware("https://app.example.com"))

	r := &Router{
		AuthHandler:    handlers.NewAuthHandler(store, tokens),
		PaymentHandler: handlers.NewPaymentHandler(svc, store, true),
		UserHandler:    handlers.NewUserHandler(store, balances),
		ReportsHandler: reports.NewHandler(store),
		AuthMW:         auth.Middleware(tokens),
		IdempotencyMW:  handlers.Idempotent(handlers.NewMemoryReplayCache(), time.Hour),
		PaymentsLimit:  RateLimitPayments(paymentsMax, time.Minute),
		AdminHandler:   admin.NewHandler(store, svc),
		AdminMW:        admin.RequireAPIKey("ops-key"),
	}
	r.RegisterRoutes(app)
	return app
}

func send(t *testing.T, app *fiber.App, method, path, token string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != nil {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

type registered struct {
	Token string `json:"token"`
	User  struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

func register(t *testing.T, app *fiber.App, name string) registered {
	t.Helper()
	var reg registered
	resp := send(t, app, http.MethodPost, "/auth/register", "", map[string]any{
		"username": name, "email": name + "@example.com", "password": "password123",
	}, &reg)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	return reg
}

func TestEndToEndGatedUPIPayment(t *testing.T) {
	app := newTestApp(t, 100)
	alice := register(t, app, "alice")
	id := strconv.FormatInt(alice.User.ID, 10)

	if resp := send(t, app, http.MethodPost, "/users/"+id+"/add-funds", alice.Token, map[string]any{"amount": 5000}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 funding, got %d", resp.StatusCode)
	}

	var created struct {
		Transaction struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"transaction"`
		VerificationRequired bool   `json:"verificationRequired"`
		VerificationCode     string `json:"verificationCode"`
	}
	resp := send(t, app, http.MethodPost, "/payments/upi", alice.Token, map[string]any{
		"upiId": "bob@upi", "amount": 3000, "pin": "1234", "senderId": alice.User.ID,
	}, &created)
	if resp.StatusCode != http.StatusCreated || !created.VerificationRequired || created.Transaction.Status != "PENDING" {
		t.Fatalf("expected gated pending payment, got %d %+v", resp.StatusCode, created)
	}

	var verified struct {
		Transaction struct {
			Status string `json:"status"`
		} `json:"transaction"`
	}
	resp = send(t, app, http.MethodPost, "/payments/upi/verify", alice.Token, map[string]any{
		"transactionId": created.Transaction.ID, "verificationCode": created.VerificationCode,
	}, &verified)
	if resp.StatusCode != http.StatusOK || verified.Transaction.Status != "COMPLETED" {
		t.Fatalf("expected completed, got %d %+v", resp.StatusCode, verified)
	}

	var me struct {
		User struct {
			WalletBalance decimal.Decimal `json:"walletBalance"`
		} `json:"user"`
	}
	send(t, app, http.MethodGet, "/auth/me", alice.Token, nil, &me)
	if !me.User.WalletBalance.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected wallet 2000, got %s", me.User.WalletBalance)
	}

	resp = send(t, app, http.MethodGet, "/users/"+id+"/statement.pdf", alice.Token, nil, nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected pdf statement, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	app := newTestApp(t, 100)
	alice := register(t, app, "alice")
	bob := register(t, app, "bob")

	cases := []struct {
		method string
		path   string
		token  string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/users/" + strconv.FormatInt(alice.User.ID, 10), "", http.StatusUnauthorized},
		{http.MethodGet, "/users/" + strconv.FormatInt(alice.User.ID, 10), alice.Token, http.StatusOK},
		{http.MethodGet, "/users/" + strconv.FormatInt(alice.User.ID, 10), bob.Token, http.StatusForbidden},
		{http.MethodGet, "/users/" + strconv.FormatInt(alice.User.ID, 10) + "/statement", bob.Token, http.StatusForbidden},
		{http.MethodGet, "/payments/1", "not-a-token", http.StatusUnauthorized},
		{http.MethodGet, "/admin/overview", alice.Token, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		resp := send(t, app, tc.method, tc.path, tc.token, nil, nil)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, resp.StatusCode)
		}
	}
}

func TestPaymentsRateLimited(t *testing.T) {
	app := newTestApp(t, 2)
	alice := register(t, app, "alice")
	id := strconv.FormatInt(alice.User.ID, 10)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp := send(t, app, http.MethodPost, "/users/"+id+"/add-funds", alice.Token, map[string]any{"amount": 10}, nil)
		statuses = append(statuses, resp.StatusCode)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK || statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 200, 200, 429, got %v", statuses)
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	app := newTestApp(t, 100)

	resp := send(t, app, http.MethodGet, "/health", "", nil, nil)
	if _, err := uuid.Parse(resp.Header.Get("X-Request-ID")); err != nil {
		t.Fatalf("expected uuid request id, got %q", resp.Header.Get("X-Request-ID"))
	}

	inbound := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", inbound)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != inbound {
		t.Fatalf("expected inbound request id %s, got %s", inbound, got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/payments/upi", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
}

func TestUnknownRouteUsesErrorBody(t *testing.T) {
	app := newTestApp(t, 100)
	var body struct {
		Code string `json:"code"`
	}
	resp := send(t, app, http.MethodGet, "/nope", "", nil, &body)
	if resp.StatusCode != http.StatusNotFound || body.Code != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %+v", resp.StatusCode, body)
	}
}
