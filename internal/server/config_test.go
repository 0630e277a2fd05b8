package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestDefaultConfig verifies the documented defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
	if cfg.LogPath != "logs/server.log" {
		t.Errorf("Expected default log path logs/server.log, got %s", cfg.LogPath)
	}
	if cfg.HistoryCapacity != 100 {
		t.Errorf("Expected history capacity 100, got %d", cfg.HistoryCapacity)
	}
	if cfg.GreetingSize != 10 {
		t.Errorf("Expected greeting size 10, got %d", cfg.GreetingSize)
	}
	if cfg.AcceptTimeout != time.Second {
		t.Errorf("Expected accept timeout 1s, got %s", cfg.AcceptTimeout)
	}
	if cfg.HTTPAddr != "" {
		t.Errorf("Expected the HTTP gateway to be disabled, got %q", cfg.HTTPAddr)
	}
	if cfg.RateLimit.Burst != 0 {
		t.Errorf("Expected rate limiting to be disabled, got burst %d", cfg.RateLimit.Burst)
	}
}

// TestSanitizeConfig verifies that invalid values fall back to defaults and
// related limits stay consistent.
func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Port:            70000,
		MaxLineSize:     -1,
		HistoryCapacity: 5,
		GreetingSize:    50,
		WriteBatchSize:  -1,
		RateLimit:       RateLimitConfig{Burst: 3},
	})

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, expected %d", cfg.Port, DefaultPort)
	}
	if cfg.MaxLineSize != DefaultMaxLineSize {
		t.Errorf("MaxLineSize = %d, expected %d", cfg.MaxLineSize, DefaultMaxLineSize)
	}
	if cfg.GreetingSize != 5 {
		t.Errorf("GreetingSize = %d, expected it clamped to the history capacity", cfg.GreetingSize)
	}
	if cfg.WriteBatchSize != DefaultWriteBatch {
		t.Errorf("WriteBatchSize = %d, expected %d", cfg.WriteBatchSize, DefaultWriteBatch)
	}
	if cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("RefillInterval = %s, expected 1s", cfg.RateLimit.RefillInterval)
	}
	if cfg.LogPath != DefaultLogPath {
		t.Errorf("LogPath = %q, expected %q", cfg.LogPath, DefaultLogPath)
	}
}

// TestNewConfigFromEnv verifies environment overrides and fallbacks.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("CHAT_PORT", "9090")
	t.Setenv("CHAT_HOST", "127.0.0.1")
	t.Setenv("CHAT_HTTP_ADDR", ":9091")
	t.Setenv("CHAT_LOG_PATH", "/tmp/chat.log")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , http://b.example")
	t.Setenv("MAX_LINE_SIZE", "not-a-number")
	t.Setenv("HISTORY_CAPACITY", "200")
	t.Setenv("GREETING_SIZE", "20")
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "500ms")

	cfg := NewConfigFromEnv()

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, expected 9090", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.HTTPAddr != ":9091" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogPath != "/tmp/chat.log" {
		t.Errorf("LogPath = %q", cfg.LogPath)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "http://a.example" || cfg.AllowedOrigins[1] != "http://b.example" {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	if cfg.MaxLineSize != DefaultMaxLineSize {
		t.Errorf("MaxLineSize = %d, expected the default for an invalid value", cfg.MaxLineSize)
	}
	if cfg.HistoryCapacity != 200 || cfg.GreetingSize != 20 {
		t.Errorf("HistoryCapacity = %d, GreetingSize = %d", cfg.HistoryCapacity, cfg.GreetingSize)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != 500*time.Millisecond {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

// TestParseRefillInterval covers both accepted formats.
func TestParseRefillInterval(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"2", 2 * time.Second},
		{"250ms", 250 * time.Millisecond},
		{"-1", time.Minute},
		{"soon", time.Minute},
	}

	for _, tt := range tests {
		if got := parseRefillInterval(tt.value, time.Minute); got != tt.expected {
			t.Errorf("parseRefillInterval(%q) = %s, expected %s", tt.value, got, tt.expected)
		}
	}
}

// TestCreateServer verifies the HTTP server timeouts.
func TestCreateServer(t *testing.T) {
	mux := http.NewServeMux()
	srv := CreateServer(":8081", mux)

	if srv.Addr != ":8081" {
		t.Errorf("Expected server addr :8081, got %s", srv.Addr)
	}
	if srv.Handler != mux {
		t.Error("Server handler not set correctly")
	}
	if srv.ReadTimeout != 15*time.Second || srv.WriteTimeout != 15*time.Second || srv.IdleTimeout != 60*time.Second {
		t.Errorf("unexpected timeouts: read %s write %s idle %s", srv.ReadTimeout, srv.WriteTimeout, srv.IdleTimeout)
	}
}

// TestOriginPolicy verifies origin normalization and matching.
func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"HTTP://Localhost:8081", "not-a-url", " "}, New(DefaultConfig(), nil).log)

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:8081", true},
		{"http://LOCALHOST:8081", true},
		{"http://localhost:9999", false},
		{"https://localhost:8081", false},
		{"not-a-url", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := policy.allows(req); got != tt.allowed {
				t.Errorf("allows(%q) = %v, expected %v", tt.origin, got, tt.allowed)
			}
		})
	}

	wildcard := newOriginPolicy([]string{"*"}, New(DefaultConfig(), nil).log)
	req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	req.Header.Set("Origin", "http://anything.example")
	if !wildcard.allows(req) {
		t.Error("wildcard policy rejected an origin")
	}
}

// TestRateLimiter verifies burst consumption and refill.
func TestRateLimiter(t *testing.T) {
	if newRateLimiter(RateLimitConfig{}) != nil {
		t.Fatal("a zero burst should disable the limiter")
	}
	var disabled *rateLimiter
	if !disabled.allow() {
		t.Fatal("a nil limiter should allow everything")
	}

	rl := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second})
	now := time.Now()
	rl.lastCheck = now
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("call %d within the burst was rejected", i)
		}
	}
	if rl.allow() {
		t.Fatal("call beyond the burst was allowed")
	}

	now = now.Add(time.Second)
	if !rl.allow() {
		t.Error("a token should have been refilled after one interval share")
	}
	if rl.allow() {
		t.Error("only one token should have been refilled")
	}
}
