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

// ErrMissingSigningSecret is returned when QR_SIGNING_SECRET is not set.
var ErrMissingSigningSecret = errors.New("QR_SIGNING_SECRET is required")

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	SQLite       SQLiteConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Credential   CredentialConfig
	Verification VerificationConfig
	Worker       WorkerConfig
	Storage      StorageConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SQLiteConfig points at the single-node attendance database.
type SQLiteConfig struct {
	Path string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines device authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// CredentialConfig controls QR credential issuance and redemption.
type CredentialConfig struct {
	SigningSecret string
	WindowSeconds int
	WindowLabel   string
	SingleUse     bool
}

// VerificationConfig controls the verification session state machine.
type VerificationConfig struct {
	BiometricEnabled       bool
	MatchThreshold         float64
	CountdownSeconds       int
	SessionDeadlineSeconds int
	RetentionSeconds       int
}

// WorkerConfig controls background maintenance.
type WorkerConfig struct {
	SweepIntervalSeconds int
}

// StorageConfig selects backings for the token store and attendance recorder.
type StorageConfig struct {
	TokenStore      string
	AttendanceStore string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	secret := strings.TrimSpace(os.Getenv("QR_SIGNING_SECRET"))
	if secret == "" {
		return nil, ErrMissingSigningSecret
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "checkpoint-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "checkpoint"),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "checkpoint.db"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60*12),
		},
		Credential: CredentialConfig{
			SigningSecret: secret,
			WindowSeconds: getEnvAsInt("QR_WINDOW_SECONDS", 60),
			WindowLabel:   getEnv("QR_WINDOW_LABEL", "entry"),
			SingleUse:     getEnvAsBool("QR_SINGLE_USE", true),
		},
		Verification: VerificationConfig{
			BiometricEnabled:       getEnvAsBool("VERIFY_BIOMETRIC_ENABLED", true),
			MatchThreshold:         getEnvAsFloat("VERIFY_MATCH_THRESHOLD", 0.75),
			CountdownSeconds:       getEnvAsInt("VERIFY_COUNTDOWN_SECONDS", 3),
			SessionDeadlineSeconds: getEnvAsInt("VERIFY_SESSION_DEADLINE_SECONDS", 30),
			RetentionSeconds:       getEnvAsInt("VERIFY_SESSION_RETENTION_SECONDS", 300),
		},
		Worker: WorkerConfig{
			SweepIntervalSeconds: getEnvAsInt("SWEEP_INTERVAL_SECONDS", 30),
		},
		Storage: StorageConfig{
			TokenStore:      strings.ToLower(getEnv("TOKEN_STORE", "memory")),
			AttendanceStore: strings.ToLower(getEnv("ATTENDANCE_STORE", "memory")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Credential.WindowSeconds <= 0 {
		return fmt.Errorf("QR_WINDOW_SECONDS must be positive, got %d", c.Credential.WindowSeconds)
	}
	if t := c.Verification.MatchThreshold; t < 0 || t > 1 {
		return fmt.Errorf("VERIFY_MATCH_THRESHOLD must be within [0,1], got %v", t)
	}
	if c.Verification.SessionDeadlineSeconds <= 0 {
		return fmt.Errorf("VERIFY_SESSION_DEADLINE_SECONDS must be positive, got %d", c.Verification.SessionDeadlineSeconds)
	}
	if c.Verification.CountdownSeconds < 0 {
		return fmt.Errorf("VERIFY_COUNTDOWN_SECONDS must not be negative, got %d", c.Verification.CountdownSeconds)
	}
	switch c.Storage.TokenStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown TOKEN_STORE %q", c.Storage.TokenStore)
	}
	switch c.Storage.AttendanceStore {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown ATTENDANCE_STORE %q", c.Storage.AttendanceStore)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Window returns the credential validity window.
func (c CredentialConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Countdown returns the verifying-stage confirmation delay.
func (v VerificationConfig) Countdown() time.Duration {
	return time.Duration(v.CountdownSeconds) * time.Second
}

// SessionDeadline returns how long a session may stay pending.
func (v VerificationConfig) SessionDeadline() time.Duration {
	return time.Duration(v.SessionDeadlineSeconds) * time.Second
}

// Retention returns how long an unobserved terminal session is kept.
func (v VerificationConfig) Retention() time.Duration {
	return time.Duration(v.RetentionSeconds) * time.Second
}

// SweepInterval returns the token sweep period.
func (w WorkerConfig) SweepInterval() time.Duration {
	if w.SweepIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.SweepIntervalSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
