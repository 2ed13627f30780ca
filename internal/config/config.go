// Package config loads the server configuration from TRACKER_* environment
// variables and sets up the process logger.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/weintegritywork/weintegrity-ppm/internal/mail"
)

const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

type Config struct {
	HTTPAddr  string
	LogLevel  slog.Level
	LogFormat string

	StorageBackend      string
	MongoURI            string
	MongoDB             string
	MongoConnectTimeout time.Duration
	// MemoryFallback switches to the in-memory backend when Mongo is
	// unreachable at startup instead of failing.
	MemoryFallback bool

	JWTSecret string
	// GeneratedSecret is set when JWTSecret was generated for a debug run.
	GeneratedSecret bool
	Debug           bool
	SeedFile        string

	SMTP mail.Config

	OTPTTL          time.Duration
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	AllowedOrigins  []string
}

// Load reads the environment. It fails on malformed values and on a missing
// JWT secret outside debug mode.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.HTTPAddr = getEnvDefault("TRACKER_HTTP_ADDR", ":8000")

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TRACKER_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TRACKER_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("TRACKER_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TRACKER_LOG_FORMAT: unsupported format %q, want json or text", cfg.LogFormat)
	}

	cfg.StorageBackend = strings.ToLower(getEnvDefault("TRACKER_STORAGE_BACKEND", BackendMongo))
	if cfg.StorageBackend != BackendMongo && cfg.StorageBackend != BackendMemory {
		return nil, fmt.Errorf("TRACKER_STORAGE_BACKEND: unsupported backend %q, want mongo or memory", cfg.StorageBackend)
	}
	cfg.MongoURI = getEnvDefault("TRACKER_MONGO_URI", "mongodb://localhost:27017")
	cfg.MongoDB = getEnvDefault("TRACKER_MONGO_DB", "weintegrity")
	if cfg.MongoConnectTimeout, err = getEnvDuration("TRACKER_MONGO_CONNECT_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("TRACKER_MONGO_CONNECT_TIMEOUT: %w", err)
	}
	if cfg.MemoryFallback, err = getEnvBool("TRACKER_MEMORY_FALLBACK", false); err != nil {
		return nil, fmt.Errorf("TRACKER_MEMORY_FALLBACK: %w", err)
	}

	if cfg.Debug, err = getEnvBool("TRACKER_DEBUG", false); err != nil {
		return nil, fmt.Errorf("TRACKER_DEBUG: %w", err)
	}
	cfg.JWTSecret = os.Getenv("TRACKER_JWT_SECRET")
	cfg.SeedFile = os.Getenv("TRACKER_SEED_FILE")

	cfg.SMTP = mail.Config{
		Host:     os.Getenv("TRACKER_SMTP_HOST"),
		Port:     os.Getenv("TRACKER_SMTP_PORT"),
		User:     os.Getenv("TRACKER_SMTP_USER"),
		Pass:     os.Getenv("TRACKER_SMTP_PASS"),
		From:     os.Getenv("TRACKER_SMTP_FROM"),
		Security: os.Getenv("TRACKER_SMTP_SECURITY"),
	}

	if cfg.OTPTTL, err = getEnvDuration("TRACKER_OTP_TTL", 0); err != nil {
		return nil, fmt.Errorf("TRACKER_OTP_TTL: %w", err)
	}
	maxBody, err := getEnvInt("TRACKER_MAX_BODY_BYTES", 0)
	if err != nil {
		return nil, fmt.Errorf("TRACKER_MAX_BODY_BYTES: %w", err)
	}
	cfg.MaxBodyBytes = int64(maxBody)
	if cfg.ShutdownTimeout, err = getEnvDuration("TRACKER_SHUTDOWN_TIMEOUT", 0); err != nil {
		return nil, fmt.Errorf("TRACKER_SHUTDOWN_TIMEOUT: %w", err)
	}
	if cfg.ReadTimeout, err = getEnvDuration("TRACKER_HTTP_READ_TIMEOUT", 0); err != nil {
		return nil, fmt.Errorf("TRACKER_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.IdleTimeout, err = getEnvDuration("TRACKER_HTTP_IDLE_TIMEOUT", 0); err != nil {
		return nil, fmt.Errorf("TRACKER_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.AllowedOrigins = splitList(getEnvDefault("TRACKER_ALLOWED_ORIGINS", "*"))

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() error {
	if c.OTPTTL <= 0 {
		c.OTPTTL = 10 * time.Minute
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.JWTSecret == "" {
		if !c.Debug {
			return fmt.Errorf("TRACKER_JWT_SECRET: required unless TRACKER_DEBUG=true")
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(buf)
		c.GeneratedSecret = true
	}
	return nil
}

// SetupLogger installs the process-wide slog logger.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %q (use Go syntax: 30s, 1h, 15m)", val)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("not a boolean: %q (use true, false, 1, 0)", val)
	}
	return b, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q, want debug, info, warn or error", level)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
