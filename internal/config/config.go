package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable the service needs. It is built once in main
// and handed to the components that use it; nothing reads the environment
// after startup.
type Config struct {
	Env  string
	Addr string

	PGDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTIssuer string
	AccessTTL time.Duration

	RefreshTTL time.Duration

	SessionTTL    time.Duration
	SessionCookie string

	BcryptCost int

	LockoutThreshold int
	LockoutDuration  time.Duration

	ResetTokenTTL time.Duration

	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	LoginRateBurst     int
	LoginRatePerSecond int
}

// Defaults mirror the policy constants of the admin backend: five failed
// attempts lock an account for one hour, access tokens live a day, refresh
// tokens and sessions a week, reset tokens an hour.
const (
	defaultAddr             = ":8080"
	defaultAccessTTL        = 24 * time.Hour
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultSessionTTL       = 7 * 24 * time.Hour
	defaultSessionCookie    = "sessionId"
	defaultBcryptCost       = 10
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = time.Hour
	defaultResetTokenTTL    = time.Hour
	defaultLoginBurst       = 10
	defaultLoginPerSecond   = 5
)

// Load assembles Config from the METASAAS_* environment. The only hard
// requirement is the JWT secret outside development.
func Load() (Config, error) {
	cfg := Config{
		Env:  strings.ToLower(envString("METASAAS_ENV", "development")),
		Addr: envString("METASAAS_ADDR", defaultAddr),

		PGDSN: os.Getenv("METASAAS_PG_DSN"),

		RedisAddr:     envString("METASAAS_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("METASAAS_REDIS_PASSWORD"),

		JWTSecret: strings.TrimSpace(os.Getenv("METASAAS_JWT_SECRET")),
		JWTIssuer: envString("METASAAS_JWT_ISSUER", "metasaas-admin"),

		SessionCookie: envString("METASAAS_SESSION_COOKIE", defaultSessionCookie),

		SMTPAddr:     os.Getenv("METASAAS_SMTP_ADDR"),
		SMTPUsername: os.Getenv("METASAAS_SMTP_USERNAME"),
		SMTPPassword: os.Getenv("METASAAS_SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("METASAAS_SMTP_FROM"),
	}

	var err error
	if cfg.RedisDB, err = envInt("METASAAS_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.AccessTTL, err = envDuration("METASAAS_ACCESS_TTL", defaultAccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envDuration("METASAAS_REFRESH_TTL", defaultRefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = envDuration("METASAAS_SESSION_TTL", defaultSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.BcryptCost, err = envInt("METASAAS_BCRYPT_COST", defaultBcryptCost); err != nil {
		return Config{}, err
	}
	if cfg.LockoutThreshold, err = envInt("METASAAS_LOCKOUT_THRESHOLD", defaultLockoutThreshold); err != nil {
		return Config{}, err
	}
	if cfg.LockoutDuration, err = envDuration("METASAAS_LOCKOUT_DURATION", defaultLockoutDuration); err != nil {
		return Config{}, err
	}
	if cfg.ResetTokenTTL, err = envDuration("METASAAS_RESET_TOKEN_TTL", defaultResetTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateBurst, err = envInt("METASAAS_LOGIN_RATE_BURST", defaultLoginBurst); err != nil {
		return Config{}, err
	}
	if cfg.LoginRatePerSecond, err = envInt("METASAAS_LOGIN_RATE_PER_SECOND", defaultLoginPerSecond); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Production reports whether the service runs with production hardening
// (generic error messages, secure cookies).
func (c Config) Production() bool {
	return c.Env == "production"
}

func (c Config) validate() error {
	if c.JWTSecret == "" && c.Production() {
		return errors.New("config: METASAAS_JWT_SECRET is required in production")
	}
	if c.LockoutThreshold < 1 {
		return errors.New("config: lockout threshold must be at least 1")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("config: lockout duration must be positive")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.SessionTTL <= 0 || c.ResetTokenTTL <= 0 {
		return errors.New("config: token and session lifetimes must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}
