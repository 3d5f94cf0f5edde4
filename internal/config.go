package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/DukeRupert/portfolio/internal/validation"
)

// Environments accepted in ENV (or NODE_ENV).
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Store backends accepted in STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Env        string `env:"ENV" validate:"oneof=development production test"`
	Port       int    `env:"PORT" validate:"min=1,max=65535"`
	LogLevel   string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	AppVersion string `env:"APP_VERSION" validate:"required"`

	// Mail account. The authenticated user is the visible sender; every
	// submission is delivered to EmailReceiver.
	EmailUser     string `env:"EMAIL_USER" validate:"required,email"`
	EmailPass     string `env:"EMAIL_PASS" validate:"required"`
	EmailReceiver string `env:"EMAIL_RECEIVER" validate:"required,email"`

	// SMTP Configuration
	SMTPHost     string `env:"SMTP_HOST" validate:"required"`
	SMTPPort     int    `env:"SMTP_PORT" validate:"min=1,max=65535"`
	SMTPPoolSize int    `env:"SMTP_POOL_SIZE" validate:"min=1,max=50"`

	// Delivery policy
	EmailMaxRetries    int           `env:"EMAIL_MAX_RETRIES" validate:"min=1,max=10"`
	EmailRetryDelay    time.Duration `env:"EMAIL_RETRY_DELAY" validate:"gte=0"`
	EmailSendTimeout   time.Duration `env:"EMAIL_SEND_TIMEOUT" validate:"gt=0"`
	EmailRatePerSecond float64       `env:"EMAIL_RATE_PER_SECOND" validate:"gt=0"`

	// Inbound rate limiting
	RateLimitMax    int      `env:"RATE_LIMIT_MAX" validate:"min=1"`
	RateLimitWindow int      `env:"RATE_LIMIT_WINDOW" validate:"min=1"` // seconds
	TrustedIPs      []string `env:"TRUSTED_IPS" validate:"dive,ip"`

	// Reverse proxies allowed to set X-Forwarded-For and X-Real-IP. When
	// empty, forwarding headers are believed from any peer.
	TrustedProxies []string `env:"TRUSTED_PROXIES" validate:"dive,cidr|ip"`

	// CSRF
	CSRFEnabled       bool          `env:"CSRF_ENABLED"`
	CSRFRotateOnUse   bool          `env:"CSRF_ROTATE_ON_USE"`
	CSRFTokenTTL      time.Duration `env:"CSRF_TOKEN_TTL" validate:"gt=0"`
	CSRFSweepInterval time.Duration `env:"CSRF_SWEEP_INTERVAL" validate:"gt=0"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" validate:"dive,required"`

	// Shared state for multi-instance deployments
	StoreBackend string `env:"STORE_BACKEND" validate:"oneof=memory postgres"`
	DatabaseURL  string `env:"DATABASE_URL" validate:"required_if=StoreBackend postgres"`

	HealthMemoryThresholdMB int `env:"HEALTH_MEMORY_THRESHOLD_MB" validate:"min=1"`

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string `env:"METRICS_USERNAME"`
	MetricsPassword string `env:"METRICS_PASSWORD"`
}

// NewConfig loads configuration from the environment (and .env if present)
// and validates it. Every problem is reported in the returned error.
func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()
	return LoadConfig(os.Getenv)
}

// LoadConfig builds a Config from lookup, which returns "" for unset keys.
func LoadConfig(lookup func(string) string) (*Config, error) {
	env := &envReader{lookup: lookup}

	cfg := &Config{
		Env:        env.String("ENV", env.String("NODE_ENV", EnvDevelopment)),
		Port:       env.Int("PORT", 8080),
		LogLevel:   strings.ToLower(env.String("LOG_LEVEL", "info")),
		AppVersion: env.String("APP_VERSION", "1.0.0"),

		EmailUser:     env.String("EMAIL_USER", ""),
		EmailPass:     env.String("EMAIL_PASS", ""),
		EmailReceiver: env.String("EMAIL_RECEIVER", ""),

		// SMTP defaults for Gmail with STARTTLS
		SMTPHost:     env.String("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:     env.Int("SMTP_PORT", 587),
		SMTPPoolSize: env.Int("SMTP_POOL_SIZE", 5),

		EmailMaxRetries:    env.Int("EMAIL_MAX_RETRIES", 3),
		EmailRetryDelay:    env.Duration("EMAIL_RETRY_DELAY", time.Second),
		EmailSendTimeout:   env.Duration("EMAIL_SEND_TIMEOUT", 30*time.Second),
		EmailRatePerSecond: env.Float("EMAIL_RATE_PER_SECOND", 1),

		RateLimitMax:    env.Int("RATE_LIMIT_MAX", 5),
		RateLimitWindow: env.Int("RATE_LIMIT_WINDOW", 900),
		TrustedIPs:      env.List("TRUSTED_IPS"),
		TrustedProxies:  env.List("TRUSTED_PROXIES"),

		CSRFRotateOnUse:   env.Bool("CSRF_ROTATE_ON_USE", false),
		CSRFTokenTTL:      env.Duration("CSRF_TOKEN_TTL", time.Hour),
		CSRFSweepInterval: env.Duration("CSRF_SWEEP_INTERVAL", 5*time.Minute),

		AllowedOrigins: env.List("ALLOWED_ORIGINS"),

		StoreBackend: strings.ToLower(env.String("STORE_BACKEND", StoreMemory)),
		DatabaseURL:  env.String("DATABASE_URL", ""),

		HealthMemoryThresholdMB: env.Int("HEALTH_MEMORY_THRESHOLD_MB", 500),

		// Metrics authentication
		MetricsUsername: env.String("METRICS_USERNAME", ""),
		MetricsPassword: env.String("METRICS_PASSWORD", ""),
	}

	// Validation is on everywhere except development unless set explicitly
	cfg.CSRFEnabled = env.Bool("CSRF_ENABLED", cfg.Env != EnvDevelopment)

	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	errs := env.errs
	if err := configValidator.Struct(cfg); err != nil {
		var verrs validatorv10.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s: %s", fe.Field(), describe(fe)))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

var configValidator = validation.New()

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// RateLimitWindowDuration returns RATE_LIMIT_WINDOW as a duration.
func (c *Config) RateLimitWindowDuration() time.Duration {
	return time.Duration(c.RateLimitWindow) * time.Second
}

// EmailConfigured reports whether all mail credentials are present.
func (c *Config) EmailConfigured() bool {
	return c.EmailUser != "" && c.EmailPass != "" && c.EmailReceiver != ""
}

// describe renders a field violation in words.
func describe(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when " + strings.Replace(fe.Param(), " ", " is ", 1)
	case "email":
		return "must be a valid email address"
	case "ip":
		return fmt.Sprintf("%q is not a valid IP address", fe.Value())
	case "cidr|ip":
		return fmt.Sprintf("%q is not a valid IP address or CIDR range", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// =============================================================================
// Environment helpers
// =============================================================================

// envReader reads typed values, recording malformed ones instead of silently
// falling back so that every problem is reported at once.
type envReader struct {
	lookup func(string) string
	errs   []error
}

func (e *envReader) String(key, fallback string) string {
	if value := strings.TrimSpace(e.lookup(key)); value != "" {
		return value
	}
	return fallback
}

func (e *envReader) Int(key string, fallback int) int {
	value := strings.TrimSpace(e.lookup(key))
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return fallback
	}
	return i
}

func (e *envReader) Float(key string, fallback float64) float64 {
	value := strings.TrimSpace(e.lookup(key))
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a number", key, value))
		return fallback
	}
	return f
}

func (e *envReader) Bool(key string, fallback bool) bool {
	value := strings.TrimSpace(e.lookup(key))
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, value))
		return fallback
	}
	return b
}

// Duration accepts Go duration strings ("1s", "250ms") or bare integers,
// which are read as milliseconds.
func (e *envReader) Duration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(e.lookup(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return fallback
	}
	return d
}

// List splits a comma-separated value, dropping empty entries.
func (e *envReader) List(key string) []string {
	var out []string
	for _, part := range strings.Split(e.lookup(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
