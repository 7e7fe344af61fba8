package app

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	SigningKey string // Required: symmetric key for access tokens and request signatures
	RedisAddr  string // Required: revocation index endpoint

	DatabaseFile string // Path to SQLite database file (default: ./dashboard.db)
	BaseURL      string // Dashboard origin used in emailed links (default: http://localhost:3000)

	AccessTTL       time.Duration // Access token lifetime (default: 900s)
	RefreshTTL      time.Duration // Refresh credential lifetime (default: 604800s)
	RotateAfter     time.Duration // Refresh age before rotation on use (default: 24h)
	SignatureMaxAge time.Duration // Request signature validity window (default: 30s)

	AllowedOrigins []string // WebSocket Origin allowlist (comma separated)

	SMTPAddr     string // Optional: host:port of the mail relay; log-only mailer when empty
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	ReminderInterval     time.Duration // Registration reminder sweep interval (default: 24h)
}

var (
	ErrMissingSigningKey = errors.New("AUTH_SIGNING_KEY is required")
	ErrMissingRedisAddr  = errors.New("AUTH_REDIS_ADDR is required")
)

func LoadConfig() Config {
	return Config{
		SigningKey: os.Getenv("AUTH_SIGNING_KEY"),
		RedisAddr:  os.Getenv("AUTH_REDIS_ADDR"),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "dashboard.db"),
		BaseURL:      strings.TrimSuffix(getEnvOrDefault("AUTH_BASE_URL", "http://localhost:3000"), "/"),

		AccessTTL:       getEnvDurationOrDefault("AUTH_ACCESS_TTL", 900*time.Second),
		RefreshTTL:      getEnvDurationOrDefault("AUTH_REFRESH_TTL", 604800*time.Second),
		RotateAfter:     getEnvDurationOrDefault("AUTH_ROTATE_AFTER", 24*time.Hour),
		SignatureMaxAge: getEnvDurationOrDefault("AUTH_SIGNATURE_MAX_AGE", 30*time.Second),

		AllowedOrigins: splitList(os.Getenv("AUTH_ALLOWED_ORIGINS")),

		SMTPAddr:     os.Getenv("SMTP_ADDR"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     getEnvOrDefault("SMTP_FROM", "noreply@playerdashboard.example"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		ReminderInterval:     getEnvDurationOrDefault("REMINDER_INTERVAL", 24*time.Hour),
	}
}

// Validate checks the startup-fatal settings.
func (c Config) Validate() error {
	if c.SigningKey == "" {
		return ErrMissingSigningKey
	}
	if c.RedisAddr == "" {
		return ErrMissingRedisAddr
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer seconds (matches the documented 900/604800 form)
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
