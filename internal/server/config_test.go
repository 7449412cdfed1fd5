package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "room", cfg.DeliveryScope)
	assert.Equal(t, chat.DefaultBusCapacity, cfg.BusCapacity)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.JWTSecret)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DELIVERY_SCOPE", " Lobby ")
	t.Setenv("BUS_CAPACITY", "128")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SHUTDOWN_TIMEOUT", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "lobby", cfg.DeliveryScope)
	assert.Equal(t, chat.ScopeLobby, cfg.Scope())
	assert.Equal(t, 128, cfg.BusCapacity)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestNewConfigFromEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "many")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "0")
	t.Setenv("BUS_CAPACITY", "x")

	cfg := NewConfigFromEnv()

	assert.Equal(t, int64(defaultMaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, defaultBurst, cfg.RateLimit.Burst)
	assert.Equal(t, defaultRefillInterval, cfg.RateLimit.RefillInterval)
	assert.Equal(t, chat.DefaultBusCapacity, cfg.BusCapacity)
}

func TestSanitize(t *testing.T) {
	origins := []string{"http://a.example"}
	cfg := Config{AllowedOrigins: origins, DeliveryScope: "galaxy"}.Sanitize()

	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, int64(defaultMaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, defaultBurst, cfg.RateLimit.Burst)
	assert.Equal(t, defaultRefillInterval, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "room", cfg.DeliveryScope)
	assert.Equal(t, chat.DefaultBusCapacity, cfg.BusCapacity)
	assert.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)

	cfg.AllowedOrigins[0] = "mutated"
	assert.Equal(t, "http://a.example", origins[0], "Sanitize must copy the origin slice")
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing file is not an error", func(t *testing.T) {
		assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	})

	t.Run("loads values without overriding", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("SERVER_PORT=:7070\nBUS_CAPACITY=16\n"), 0o600))

		t.Setenv("SERVER_PORT", ":6060")
		// Registers cleanup so the variable loaded from the file is removed.
		t.Setenv("BUS_CAPACITY", "")
		require.NoError(t, os.Unsetenv("BUS_CAPACITY"))

		require.NoError(t, LoadEnvFile(path))

		cfg := NewConfigFromEnv()
		assert.Equal(t, ":6060", cfg.Port)
		assert.Equal(t, 16, cfg.BusCapacity)
	})
}
