// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/raakeshmj/postplane/internal/reliability"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Mail drivers. "both" mirrors the dev mailbox and the real provider.
const (
	MailLog    = "log"
	MailSMTP   = "smtp"
	MailResend = "resend"
	MailBoth   = "both"
)

type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	PublicURL  string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	AppName    string `env:"APP_NAME" envDefault:"Postplane"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/postplane.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisAddr empty keeps limiter, breaker and revocation in-process.
	RedisAddr       string `env:"REDIS_ADDR"`
	FailureStrategy string `env:"REDIS_FAILURE_STRATEGY" envDefault:"fail_open"`

	JWTSecret        string        `env:"JWT_SECRET,required"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"postplane"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"2h"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	PersonalTokenTTL time.Duration `env:"PERSONAL_TOKEN_TTL" envDefault:"4320h"`

	// With SupabaseJWTSecret set provider tokens are verified locally,
	// otherwise against SupabaseURL.
	SupabaseURL       string        `env:"SUPABASE_URL"`
	SupabaseAnonKey   string        `env:"SUPABASE_ANON_KEY"`
	SupabaseJWTSecret string        `env:"SUPABASE_JWT_SECRET"`
	IdentityCacheTTL  time.Duration `env:"IDENTITY_CACHE_TTL" envDefault:"1m"`

	StorageDir string `env:"STORAGE_DIR" envDefault:"data/storage"`

	MailDriver    string `env:"MAIL_DRIVER" envDefault:"log"`
	MailFrom      string `env:"MAIL_FROM" envDefault:"Postplane <noreply@postplane.local>"`
	SMTPHost      string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"1025"`
	SMTPUsername  string `env:"SMTP_USERNAME"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	MailWorkers   int    `env:"MAIL_WORKERS" envDefault:"2"`
	MailQueueSize int    `env:"MAIL_QUEUE_SIZE" envDefault:"100"`

	// Fallback limits for routes whose policy leaves them unset.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"1"`
	RateBurst int     `env:"RATE_BURST" envDefault:"60"`

	PolicyFile       string `env:"POLICY_FILE"`
	ReplayProtection bool   `env:"REPLAY_PROTECTION" envDefault:"false"`

	BootstrapAdminEmail    string `env:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminName     string `env:"BOOTSTRAP_ADMIN_NAME" envDefault:"Administrator"`
	BootstrapAdminPassword string `env:"BOOTSTRAP_ADMIN_PASSWORD"`

	OTelEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.MailDriver {
	case MailLog, MailSMTP:
	case MailResend, MailBoth:
		if c.ResendAPIKey == "" {
			return fmt.Errorf("RESEND_API_KEY is required for mail driver %q", c.MailDriver)
		}
	default:
		return fmt.Errorf("unknown MAIL_DRIVER %q", c.MailDriver)
	}

	if _, err := reliability.ParseStrategy(c.FailureStrategy); err != nil {
		return err
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.PersonalTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		return fmt.Errorf("RATE_LIMIT and RATE_BURST must be positive")
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		return fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	return nil
}

// IdentityConfigured reports whether OAuth token exchange can be served.
func (c *Config) IdentityConfigured() bool {
	return c.SupabaseJWTSecret != "" || c.SupabaseURL != ""
}
