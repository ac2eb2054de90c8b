package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API and dialer processes.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables; the struct is
// constructed once in main and passed into constructors.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Dialer   DialerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit; production must not rely on a default.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type ProviderConfig struct {
	// Name selects the telephony adapter ("twilio" today).
	Name       string
	AccountSID string
	AuthToken  string
	// CallerID is the E.164 number outbound calls present.
	CallerID string
}

// DialerConfig controls the worker coordinator.
type DialerConfig struct {
	// Workers is the number of concurrent worker loops in one dialer process.
	Workers int

	// Lease is how long a claimed job stays owned before it becomes
	// reclaimable. It is the sole crash-recovery mechanism: a worker that
	// dies mid-call simply lets its lease run out.
	Lease time.Duration

	// PollInterval is how long an idle worker sleeps before re-claiming.
	PollInterval time.Duration

	// RetryBase and RetryMax bound the exponential backoff between attempts.
	RetryBase time.Duration
	RetryMax  time.Duration

	// MaxAttempts is the default attempts ceiling for new jobs.
	MaxAttempts int

	// CallCostEstimateMinor is the fixed per-call reservation for
	// credit-based accounts, in minor currency units.
	CallCostEstimateMinor int64

	// AccountCallCap limits simultaneous in-flight calls per account.
	// Zero disables the cap (and the redis dependency of the dialer).
	AccountCallCap int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	// Redis is optional; Validate requires it only when a feature needs it.
	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = optInt("REDIS_PORT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Provider.Name = strings.TrimSpace(os.Getenv("PROVIDER_NAME"))
	c.Provider.AccountSID = strings.TrimSpace(os.Getenv("PROVIDER_ACCOUNT_SID"))
	c.Provider.AuthToken = os.Getenv("PROVIDER_AUTH_TOKEN")
	c.Provider.CallerID = strings.TrimSpace(os.Getenv("PROVIDER_CALLER_ID"))

	c.Dialer.Workers = optInt("DIALER_WORKERS")
	c.Dialer.Lease = optDuration("DIALER_LEASE")
	c.Dialer.PollInterval = optDuration("DIALER_POLL_INTERVAL")
	c.Dialer.RetryBase = optDuration("DIALER_RETRY_BASE")
	c.Dialer.RetryMax = optDuration("DIALER_RETRY_MAX")
	c.Dialer.MaxAttempts = optInt("DIALER_MAX_ATTEMPTS")
	c.Dialer.CallCostEstimateMinor = int64(optInt("DIALER_CALL_COST_ESTIMATE"))
	c.Dialer.AccountCallCap = optInt("DIALER_ACCOUNT_CALL_CAP")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" && c.Dialer.AccountCallCap > 0 {
		errs = append(errs, errors.New("REDIS_HOST is required when DIALER_ACCOUNT_CALL_CAP is set"))
	}
	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	// Dialer defaults. The lease must comfortably exceed the longest call the
	// provider will let run, otherwise live calls get reclaimed.
	if c.Dialer.Workers <= 0 {
		c.Dialer.Workers = 8
	}
	if c.Dialer.Lease <= 0 {
		c.Dialer.Lease = 5 * time.Minute
	}
	if c.Dialer.PollInterval <= 0 {
		c.Dialer.PollInterval = 2 * time.Second
	}
	if c.Dialer.RetryBase <= 0 {
		c.Dialer.RetryBase = 30 * time.Second
	}
	if c.Dialer.RetryMax <= 0 {
		c.Dialer.RetryMax = 15 * time.Minute
	}
	if c.Dialer.RetryMax < c.Dialer.RetryBase {
		errs = append(errs, errors.New("DIALER_RETRY_MAX must be >= DIALER_RETRY_BASE"))
	}
	if c.Dialer.MaxAttempts <= 0 {
		c.Dialer.MaxAttempts = 3
	}
	if c.Dialer.CallCostEstimateMinor < 0 {
		errs = append(errs, errors.New("DIALER_CALL_COST_ESTIMATE must be >= 0"))
	}
	if c.Dialer.CallCostEstimateMinor == 0 {
		c.Dialer.CallCostEstimateMinor = 100
	}
	if c.Dialer.AccountCallCap < 0 {
		errs = append(errs, errors.New("DIALER_ACCOUNT_CALL_CAP must be >= 0"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
