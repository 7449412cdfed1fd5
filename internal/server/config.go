// Package server provides configuration helpers that define runtime defaults,
// validation, and environment loading for the roomchat service.
package server

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// JWTSecret is the HS256 key bearer tokens are verified with. When it is
	// empty the server trusts a ?user= query parameter instead, which is
	// only suitable for local development.
	JWTSecret string

	// DeliveryScope is "room" or "lobby".
	DeliveryScope   string
	BusCapacity     int
	RedisURL        string
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		DeliveryScope:   chat.ScopeRoom.String(),
		BusCapacity:     chat.DefaultBusCapacity,
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Sanitize returns a copy of cfg with every invalid or missing value
// replaced by its default.
func (cfg Config) Sanitize() Config {
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if _, err := chat.ParseDeliveryScope(cfg.DeliveryScope); err != nil {
		log.Warn().Str("module", "server.config").Str("scope", cfg.DeliveryScope).Msg("unknown delivery scope; using room")
		cfg.DeliveryScope = chat.ScopeRoom.String()
	}
	if cfg.DeliveryScope == "" {
		cfg.DeliveryScope = chat.ScopeRoom.String()
	}

	if cfg.BusCapacity <= 0 {
		cfg.BusCapacity = chat.DefaultBusCapacity
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	return cfg
}

// Scope returns the parsed delivery scope.
func (cfg Config) Scope() chat.DeliveryScope {
	scope, _ := chat.ParseDeliveryScope(cfg.DeliveryScope)
	return scope
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("module", "server.config").Str("path", path).Msg("no env file found, using environment variables")
			return nil
		}
		return err
	}
	log.Info().Str("module", "server.config").Str("path", path).Msg("loaded env file")
	return nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	if scope := os.Getenv("DELIVERY_SCOPE"); scope != "" {
		cfg.DeliveryScope = strings.ToLower(strings.TrimSpace(scope))
	}

	if capacity := os.Getenv("BUS_CAPACITY"); capacity != "" {
		cfg.BusCapacity = parseIntValue(capacity, cfg.BusCapacity)
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
