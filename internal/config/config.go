package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the billing daemon.
// All values must come from env (or an env-file loaded at startup).
// No business logic should depend on raw environment variables.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	ESL          ESLConfig
	Collaborator CollaboratorConfig
	Billing      BillingConfig
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

	// SSLMode is kept explicit for hosted-Postgres posture.
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
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// AdminSecret gates the login endpoint until a user store exists.
	AdminSecret string
}

// ESLConfig drives the event-socket session to the switch.
type ESLConfig struct {
	Host     string
	Port     int
	Password string

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration

	BackoffMin      time.Duration
	BackoffMax      time.Duration
	MaxAuthFailures int
}

// CollaboratorConfig points at the administrative backend that mirrors
// active calls and archives CDRs.
type CollaboratorConfig struct {
	BaseURL string
	Timeout time.Duration
}

type BillingConfig struct {
	// ReservationTTL bounds how long an unsettled hold may stay active.
	ReservationTTL time.Duration

	// SweepInterval is how often expired reservations are released.
	SweepInterval time.Duration

	// DefaultMaxConcurrent caps simultaneous calls for accounts without
	// an explicit per-account limit.
	DefaultMaxConcurrent int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real env vars win over file values.
func Load() (Config, error) {
	_ = godotenv.Load()

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

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")
	c.Auth.AdminSecret = os.Getenv("ADMIN_SECRET")

	c.ESL.Host = strings.TrimSpace(os.Getenv("ESL_HOST"))
	{
		n, err := mustInt("ESL_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.ESL.Port = n
	}
	c.ESL.Password = os.Getenv("ESL_PASSWORD")
	c.ESL.DialTimeout = optDuration("ESL_DIAL_TIMEOUT")
	c.ESL.HandshakeTimeout = optDuration("ESL_HANDSHAKE_TIMEOUT")
	c.ESL.IdleTimeout = optDuration("ESL_IDLE_TIMEOUT")
	c.ESL.BackoffMin = optDuration("ESL_BACKOFF_MIN")
	c.ESL.BackoffMax = optDuration("ESL_BACKOFF_MAX")
	c.ESL.MaxAuthFailures = optInt("ESL_MAX_AUTH_FAILURES")

	c.Collaborator.BaseURL = strings.TrimSpace(os.Getenv("COLLABORATOR_BASE_URL"))
	c.Collaborator.Timeout = optDuration("COLLABORATOR_TIMEOUT")

	c.Billing.ReservationTTL = optDuration("BILLING_RESERVATION_TTL")
	c.Billing.SweepInterval = optDuration("BILLING_SWEEP_INTERVAL")
	c.Billing.DefaultMaxConcurrent = optInt("BILLING_MAX_CONCURRENT_DEFAULT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Collaborator.Timeout <= 0 {
		c.Collaborator.Timeout = 5 * time.Second
	}
	if c.Billing.ReservationTTL <= 0 {
		c.Billing.ReservationTTL = 45 * time.Minute
	}
	if c.Billing.SweepInterval <= 0 {
		c.Billing.SweepInterval = time.Minute
	}
	if c.Billing.DefaultMaxConcurrent <= 0 {
		c.Billing.DefaultMaxConcurrent = 5
	}
}

func (c Config) Validate() error {
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
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.AdminSecret == "" {
		errs = append(errs, errors.New("ADMIN_SECRET is required"))
	}
	if c.IsProduction() && c.Auth.JWTIssuer == "" {
		errs = append(errs, errors.New("JWT_ISSUER is required in production"))
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.ESL.Host == "" {
		errs = append(errs, errors.New("ESL_HOST is required"))
	}
	if c.ESL.Port <= 0 || c.ESL.Port > 65535 {
		errs = append(errs, fmt.Errorf("ESL_PORT must be a valid port, got %d", c.ESL.Port))
	}
	if c.ESL.Password == "" {
		errs = append(errs, errors.New("ESL_PASSWORD is required"))
	}
	if c.ESL.BackoffMin > 0 && c.ESL.BackoffMax > 0 && c.ESL.BackoffMax < c.ESL.BackoffMin {
		errs = append(errs, errors.New("ESL_BACKOFF_MAX must be >= ESL_BACKOFF_MIN"))
	}

	if c.Collaborator.BaseURL != "" && !strings.HasPrefix(c.Collaborator.BaseURL, "http") {
		errs = append(errs, fmt.Errorf("COLLABORATOR_BASE_URL must be an http(s) URL, got %q", c.Collaborator.BaseURL))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) ESLAddr() string {
	return fmt.Sprintf("%s:%d", c.ESL.Host, c.ESL.Port)
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
