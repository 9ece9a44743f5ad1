package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// MinJWTSecretLength is the minimum required length for the token signing secret in production
	MinJWTSecretLength = 32
)

type Config struct {
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"portal-api"`
	// Database
	DBPath           string `env:"DB_PATH" envDefault:"db/app.db"`
	DatabaseURL      string `env:"DATABASE_URL"` // postgres://... takes precedence over sqlite
	TursoDatabaseURL string `env:"TURSO_DATABASE_URL"`
	TursoAuthToken   string `env:"TURSO_AUTH_TOKEN"`
	// Portal
	PortalDomain    string   `env:"PORTAL_DOMAIN" envDefault:"thelawshop.com"`
	DefaultTenant   string   `env:"DEFAULT_TENANT_SLUG" envDefault:"default-tenant"`
	DefaultBrand    string   `env:"DEFAULT_COMPANY_NAME" envDefault:"The Law Shop"`
	AppURL          string   `env:"APP_URL" envDefault:"http://localhost:8080"`
	PublicDir       string   `env:"PUBLIC_DIR" envDefault:"public"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	SubdomainMaxTry int      `env:"SUBDOMAIN_MAX_ATTEMPTS" envDefault:"10"`
	// Auth
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	// Email (Resend)
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	EmailFrom     string `env:"EMAIL_FROM" envDefault:"noreply@thelawshop.com"`
	EmailFromName string `env:"EMAIL_FROM_NAME" envDefault:"The Law Shop"`
	EmailTestMode bool   `env:"EMAIL_TEST_MODE" envDefault:"true"` // When true, emails are logged instead of sent
	// Cloudflare Turnstile
	TurnstileSiteKey   string `env:"TURNSTILE_SITE_KEY"`
	TurnstileSecretKey string `env:"TURNSTILE_SECRET_KEY"`
	// Storage: Cloudflare R2, falls back to the local filesystem
	UploadDir         string `env:"UPLOAD_DIR" envDefault:"storage/uploads"`
	R2AccountID       string `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `env:"R2_BUCKET_NAME"`
	R2PublicURL       string `env:"R2_PUBLIC_URL"`
	// Payment processor
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	// Resolution cache
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	PortalCacheTTL time.Duration `env:"PORTAL_CACHE_TTL" envDefault:"5m"`
	// Background jobs
	JobsTimezone       string        `env:"JOBS_TIMEZONE" envDefault:"America/New_York"`
	ProvisionRetryCron string        `env:"PROVISION_RETRY_CRON" envDefault:"*/10 * * * *"`
	ProvisionRetryAge  time.Duration `env:"PROVISION_RETRY_AGE" envDefault:"10m"`
	WebhookRetention   time.Duration `env:"WEBHOOK_RETENTION" envDefault:"720h"`
	// Rate limits per IP per minute
	IntakeRateLimit int `env:"INTAKE_RATE_LIMIT" envDefault:"10"`
	LoginRateLimit  int `env:"LOGIN_RATE_LIMIT" envDefault:"5"`
	// Observability
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads .env (if present) and the process environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := ValidateJWTSecret(cfg.JWTSecret, cfg.Environment); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = GenerateSecureSecret()
		log.Println("[INFO] Generated temporary JWT secret for development. Set JWT_SECRET env var for persistence.")
	}
	cfg.PortalDomain = strings.ToLower(strings.TrimSpace(cfg.PortalDomain))

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StorageConfigured reports whether all R2 credentials are present.
func (c *Config) StorageConfigured() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

func (c *Config) BillingConfigured() bool {
	return c.StripeSecretKey != ""
}

// ValidateJWTSecret rejects known insecure defaults and short secrets in production.
func ValidateJWTSecret(secret string, environment string) error {
	insecureDefaults := []string{
		"dev-secret-change-in-production",
		"change-me",
		"secret",
		"development",
		"test",
		"",
	}

	for _, insecure := range insecureDefaults {
		if strings.EqualFold(secret, insecure) {
			if environment == "production" {
				return fmt.Errorf("JWT_SECRET is set to an insecure default value; generate one with: openssl rand -base64 32")
			}
			if secret != "" {
				log.Printf("[WARNING] JWT_SECRET is set to an insecure default value. This is acceptable only in development.")
			}
			return nil
		}
	}

	if environment == "production" && len(secret) < MinJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in production (current: %d)", MinJWTSecretLength, len(secret))
	}

	return nil
}

// GenerateSecureSecret generates a cryptographically secure random secret
func GenerateSecureSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Printf("[WARNING] Failed to generate secure secret: %v", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(bytes)
}
