package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRACKER_JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, BackendMongo, cfg.StorageBackend)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "weintegrity", cfg.MongoDB)
	assert.Equal(t, 5*time.Second, cfg.MongoConnectTimeout)
	assert.False(t, cfg.MemoryFallback)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.EqualValues(t, 1<<20, cfg.MaxBodyBytes)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.GeneratedSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRACKER_JWT_SECRET", "s3cret")
	t.Setenv("TRACKER_LOG_LEVEL", "DEBUG")
	t.Setenv("TRACKER_LOG_FORMAT", "text")
	t.Setenv("TRACKER_STORAGE_BACKEND", "memory")
	t.Setenv("TRACKER_MEMORY_FALLBACK", "1")
	t.Setenv("TRACKER_ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("TRACKER_SMTP_HOST", "smtp.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.True(t, cfg.MemoryFallback)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, "smtp.test", cfg.SMTP.Host)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret": {},
		"bad level":      {"TRACKER_JWT_SECRET": "x", "TRACKER_LOG_LEVEL": "loud"},
		"bad format":     {"TRACKER_JWT_SECRET": "x", "TRACKER_LOG_FORMAT": "xml"},
		"bad backend":    {"TRACKER_JWT_SECRET": "x", "TRACKER_STORAGE_BACKEND": "postgres"},
		"bad duration":   {"TRACKER_JWT_SECRET": "x", "TRACKER_SHUTDOWN_TIMEOUT": "ten"},
		"bad bool":       {"TRACKER_JWT_SECRET": "x", "TRACKER_DEBUG": "maybe"},
		"bad body limit": {"TRACKER_JWT_SECRET": "x", "TRACKER_MAX_BODY_BYTES": "1MB"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TRACKER_JWT_SECRET", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDebugGeneratesSecret(t *testing.T) {
	t.Setenv("TRACKER_JWT_SECRET", "")
	t.Setenv("TRACKER_DEBUG", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.GeneratedSecret)
	assert.Len(t, cfg.JWTSecret, 64)
}
