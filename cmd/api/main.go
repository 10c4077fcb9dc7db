package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/admin"
	"github.com/chetannagda/payswift-backend/internal/audit"
	"github.com/chetannagda/payswift-backend/internal/auth"
	"github.com/chetannagda/payswift-backend/internal/balance"
	"github.com/chetannagda/payswift-backend/internal/config"
	apphttp "github.com/chetannagda/payswift-backend/internal/http"
	"github.com/chetannagda/payswift-backend/internal/ledger"
	"github.com/chetannagda/payswift-backend/internal/logging"
	"github.com/chetannagda/payswift-backend/internal/money"
	"github.com/chetannagda/payswift-backend/internal/notify"
	"github.com/chetannagda/payswift-backend/internal/payments"
	"github.com/chetannagda/payswift-backend/internal/reports"
	"github.com/chetannagda/payswift-backend/internal/router"
	"github.com/chetannagda/payswift-backend/internal/verification"
	"github.com/chetannagda/payswift-backend/internal/whatsapp"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)
	decimal.MarshalJSONWithoutQuotes = true

	store, pool, err := buildStore(ctx, logger, cfg.Store)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = connectRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr(), "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		logger.Info("connected to redis", "addr", cfg.Redis.Addr())
	}

	var (
		codeStore   verification.CodeStore = verification.NewMemoryCodeStore()
		replayCache apphttp.ReplayCache    = apphttp.NewMemoryReplayCache()
		recorder    audit.Recorder         = audit.LogRecorder{Logger: logger}
		approver    payments.Approver      = payments.AllowAll{}
	)
	notifiers := notify.Multi{notify.LogNotifier{Logger: logger}}
	if rdb != nil {
		codeStore = verification.NewRedisCodeStore(rdb)
		replayCache = apphttp.NewRedisReplayCache(rdb)
	}
	if pool != nil {
		recorder = audit.NewPostgresRecorder(pool)
	}
	if cfg.Payments.MaxPayment != "" {
		limit, err := money.ParseAmount(cfg.Payments.MaxPayment)
		if err != nil {
			logger.Error("invalid max payment", "error", err)
			os.Exit(1)
		}
		approver = payments.LimitApprover{Max: limit}
	}
	wa := notify.NewWhatsAppNotifier(cfg.Notify.TwilioAccountSID, cfg.Notify.TwilioAuthToken, cfg.Notify.TwilioWhatsAppFrom)
	if wa.Enabled() {
		notifiers = append(notifiers, wa)
	} else {
		logger.Warn("twilio not configured; whatsapp notifications disabled")
	}

	balances := balance.NewEnforcer(store)
	codes := verification.NewService(codeStore, verification.WithTTL(cfg.Payments.VerificationTTL))
	paymentSvc := payments.NewService(store, balances, codes,
		payments.WithApprover(approver),
		payments.WithNotifier(notifiers),
		payments.WithAudit(recorder),
		payments.WithLogger(logger),
	)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("JWT_SECRET not set; tokens will not survive a restart")
	}
	tokens := auth.NewTokens(secret, cfg.Auth.TokenTTL)

	app := apphttp.NewApp(cfg.HTTP, logger)
	router.Use(app, router.RequestLogger(logger), router.CorsMiddleware(cfg.HTTP.CORSOrigin))

	r := &router.Router{
		AuthHandler:    apphttp.NewAuthHandler(store, tokens),
		PaymentHandler: apphttp.NewPaymentHandler(paymentSvc, store, cfg.Payments.ExposeCodes),
		UserHandler:    apphttp.NewUserHandler(store, balances),
		ReportsHandler: reports.NewHandler(store),
		IdempotencyMW:  apphttp.Idempotent(replayCache, cfg.Payments.IdempotencyTTL),
		PaymentsLimit:  router.RateLimitPayments(cfg.HTTP.RateLimitMax, cfg.HTTP.RateLimitWindow),
	}
	if cfg.Auth.Required {
		r.AuthMW = auth.Middleware(tokens)
	}
	if cfg.Admin.APIKey != "" {
		r.AdminHandler = admin.NewHandler(store, paymentSvc)
		r.AdminMW = admin.RequireAPIKey(cfg.Admin.APIKey)
	}
	if wa.Enabled() {
		r.WhatsAppInbound = whatsapp.InboundHandler(store, paymentSvc, logger)
	}
	r.RegisterRoutes(app)

	go paymentSvc.RunExpiry(ctx, cfg.Payments.ExpiryInterval)

	addr := cfg.HTTP.Host + ":" + strconv.Itoa(cfg.HTTP.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "auth_required", cfg.Auth.Required)
		errCh <- app.Listen(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	cancel()
	if err := app.ShutdownWithTimeout(cfg.HTTP.ShutdownTimeout); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// buildStore picks Postgres when a DATABASE_URL is configured and the JSON
// snapshot otherwise. The pool is returned so other components can share it.
func buildStore(ctx context.Context, logger *slog.Logger, cfg config.StoreConfig) (ledger.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		store, err := ledger.NewFileStore(cfg.SnapshotPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file ledger", "path", store.Path())
		return store, nil, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("using postgres ledger")
	return ledger.NewPostgresStore(pool), pool, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(errors.New("redis ping failed"), err)
	}
	return client, nil
}
