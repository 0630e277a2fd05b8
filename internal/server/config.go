// Package server provides configuration helpers that define runtime defaults,
// validation, and environment overrides for the chat relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/relaychat/internal/history"
)

const (
	DefaultPort         = 8080
	DefaultLogPath      = "logs/server.log"
	DefaultGreetingSize = 10
	DefaultMaxLineSize  = 4096
	DefaultWriteBatch   = 256
)

// RateLimitConfig defines per-connection line rate limiting. A zero Burst
// disables the limiter.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	Host string
	Port int
	// HTTPAddr enables the WebSocket gateway, health and metrics endpoints
	// when non-empty.
	HTTPAddr        string
	LogPath         string
	AllowedOrigins  []string
	MaxLineSize     int
	HistoryCapacity int
	GreetingSize    int
	// WriteBatchSize caps how many queued lines go into one socket write.
	WriteBatchSize  int
	AcceptTimeout   time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       RateLimitConfig
}

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Port:    DefaultPort,
		LogPath: DefaultLogPath,
		AllowedOrigins: []string{
			"http://localhost:8081",
		},
		MaxLineSize:     DefaultMaxLineSize,
		HistoryCapacity: history.DefaultCapacity,
		GreetingSize:    DefaultGreetingSize,
		WriteBatchSize:  DefaultWriteBatch,
		AcceptTimeout:   time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := DefaultConfig()

	if cfg.Port < 0 || cfg.Port > 65535 {
		cfg.Port = def.Port
	}
	if cfg.LogPath == "" {
		cfg.LogPath = def.LogPath
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = def.MaxLineSize
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.GreetingSize <= 0 {
		cfg.GreetingSize = def.GreetingSize
	}
	if cfg.GreetingSize > cfg.HistoryCapacity {
		cfg.GreetingSize = cfg.HistoryCapacity
	}
	if cfg.WriteBatchSize <= 0 {
		cfg.WriteBatchSize = def.WriteBatchSize
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = def.AcceptTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.Burst > 0 && cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfigFromEnv creates a Config from environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() Config {
	cfg := DefaultConfig()

	if port := os.Getenv("CHAT_PORT"); port != "" {
		cfg.Port = parsePort(port, cfg.Port)
	}

	if host := os.Getenv("CHAT_HOST"); host != "" {
		cfg.Host = host
	}

	if addr := os.Getenv("CHAT_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	if path := os.Getenv("CHAT_LOG_PATH"); path != "" {
		cfg.LogPath = path
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_LINE_SIZE"); maxSize != "" {
		cfg.MaxLineSize = parseIntValue(maxSize, cfg.MaxLineSize)
	}

	if capacity := os.Getenv("HISTORY_CAPACITY"); capacity != "" {
		cfg.HistoryCapacity = parseIntValue(capacity, cfg.HistoryCapacity)
	}

	if greeting := os.Getenv("GREETING_SIZE"); greeting != "" {
		cfg.GreetingSize = parseIntValue(greeting, cfg.GreetingSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parsePort(value string, defaultValue int) int {
	if port, err := strconv.Atoi(value); err == nil && port > 0 && port <= 65535 {
		return port
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts a Go duration ("500ms") or a whole number of seconds.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
