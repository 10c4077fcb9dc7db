package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chetannagda/payswift-backend/internal/money"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Payments PaymentsConfig `mapstructure:"payments"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// HTTPConfig governs the API server.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
}

// StoreConfig picks the ledger backend. A DatabaseURL selects Postgres;
// otherwise the JSON snapshot at SnapshotPath is used.
type StoreConfig struct {
	DatabaseURL  string `mapstructure:"database_url"`
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// RedisConfig is optional; with no Host, codes and idempotency replays stay in memory.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Enabled() bool { return r.Host != "" }

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

type AuthConfig struct {
	// Required turns on bearer-token checks for payment and user routes.
	Required  bool          `mapstructure:"required"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type PaymentsConfig struct {
	VerificationTTL time.Duration `mapstructure:"verification_ttl"`
	ExpiryInterval  time.Duration `mapstructure:"expiry_interval"`
	// MaxPayment caps a single payment through the pre-approval hook; empty means no cap.
	MaxPayment     string        `mapstructure:"max_payment"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	// ExposeCodes returns verification codes in API responses. Demo setups only.
	ExposeCodes bool `mapstructure:"expose_codes"`
}

type NotifyConfig struct {
	TwilioAccountSID   string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken    string `mapstructure:"twilio_auth_token"`
	TwilioWhatsAppFrom string `mapstructure:"twilio_whatsapp_from"`
}

// AdminConfig guards the operator routes. An empty APIKey disables them.
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"` // text|json
	IncludeCaller bool   `mapstructure:"include_caller"`
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8080
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultRateLimitMax    = 60
	defaultRateLimitWindow = time.Minute
	defaultSnapshotPath    = "data/ledger.json"
	defaultRedisPort       = "6379"
	defaultTokenTTL        = 24 * time.Hour
	defaultVerificationTTL = 10 * time.Minute
	defaultExpiryInterval  = 30 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "text"
)

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Host:            defaultHost,
			Port:            defaultPort,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
			CORSOrigin:      "*",
			RateLimitMax:    defaultRateLimitMax,
			RateLimitWindow: defaultRateLimitWindow,
		},
		Store: StoreConfig{SnapshotPath: defaultSnapshotPath},
		Redis: RedisConfig{Port: defaultRedisPort},
		Auth:  AuthConfig{TokenTTL: defaultTokenTTL},
		Payments: PaymentsConfig{
			VerificationTTL: defaultVerificationTTL,
			ExpiryInterval:  defaultExpiryInterval,
			IdempotencyTTL:  defaultIdempotencyTTL,
		},
		Logging: LoggingConfig{Level: defaultLoggingLevel, Format: defaultLoggingFormat},
	}
}

// Load starts from Defaults, overlays the YAML file named by CONFIG_FILE if
// any, then applies environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

func applyEnv(cfg *Config) error {
	cfg.HTTP.Host = valueOrDefault("SERVER_HOST", cfg.HTTP.Host)
	port, err := parsePort("PORT", cfg.HTTP.Port)
	if err != nil {
		return err
	}
	cfg.HTTP.Port = port
	cfg.HTTP.CORSOrigin = valueOrDefault("CORS_ORIGIN", cfg.HTTP.CORSOrigin)
	cfg.HTTP.RateLimitMax = parseIntWithDefault("RATE_LIMIT_TX_MAX", cfg.HTTP.RateLimitMax)
	if secs := parseIntWithDefault("RATE_LIMIT_TX_WINDOW_SECONDS", 0); secs > 0 {
		cfg.HTTP.RateLimitWindow = time.Duration(secs) * time.Second
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
		{"JWT_TTL", &cfg.Auth.TokenTTL},
		{"VERIFICATION_TTL", &cfg.Payments.VerificationTTL},
		{"EXPIRY_INTERVAL", &cfg.Payments.ExpiryInterval},
		{"IDEMPOTENCY_TTL", &cfg.Payments.IdempotencyTTL},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	cfg.Store.DatabaseURL = valueOrDefault("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.SnapshotPath = valueOrDefault("LEDGER_PATH", cfg.Store.SnapshotPath)

	cfg.Redis.Host = valueOrDefault("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = valueOrDefault("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = valueOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = parseIntWithDefault("REDIS_DB", cfg.Redis.DB)

	cfg.Auth.Required = parseBoolWithDefault("AUTH_REQUIRED", cfg.Auth.Required)
	cfg.Auth.JWTSecret = strings.TrimSpace(valueOrDefault("JWT_SECRET", cfg.Auth.JWTSecret))

	cfg.Payments.MaxPayment = valueOrDefault("MAX_PAYMENT_AMOUNT", cfg.Payments.MaxPayment)
	cfg.Payments.ExposeCodes = parseBoolWithDefault("EXPOSE_VERIFICATION_CODES", cfg.Payments.ExposeCodes)

	cfg.Notify.TwilioAccountSID = valueOrDefault("TWILIO_ACCOUNT_SID", cfg.Notify.TwilioAccountSID)
	cfg.Notify.TwilioAuthToken = valueOrDefault("TWILIO_AUTH_TOKEN", cfg.Notify.TwilioAuthToken)
	cfg.Notify.TwilioWhatsAppFrom = valueOrDefault("TWILIO_WHATSAPP_FROM", cfg.Notify.TwilioWhatsAppFrom)

	cfg.Admin.APIKey = strings.TrimSpace(valueOrDefault("ADMIN_API_KEY", cfg.Admin.APIKey))

	cfg.Logging.Level = valueOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = valueOrDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.IncludeCaller = parseBoolWithDefault("LOG_INCLUDE_CALLER", cfg.Logging.IncludeCaller)
	return nil
}

func (c Config) validate() error {
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if c.Payments.VerificationTTL <= 0 {
		return errors.New("verification ttl must be positive")
	}
	if c.Payments.ExpiryInterval <= 0 {
		return errors.New("expiry interval must be positive")
	}
	if c.Payments.MaxPayment != "" {
		if _, err := money.ParseAmount(c.Payments.MaxPayment); err != nil {
			return fmt.Errorf("invalid MAX_PAYMENT_AMOUNT %q: %w", c.Payments.MaxPayment, err)
		}
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
