package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/radiusdt/affiliate-ledger/internal/config"
	"go.uber.org/zap"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware(t *testing.T) {
	mw := NewAuthMiddleware(config.AuthConfig{
		Enabled:   true,
		MasterKey: "secret",
		SkipPaths: []string{"/health", "/track"},
	}, zap.NewNop())
	h := mw.Handler(okHandler)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"skipped path", "/track?ref=alice", "", http.StatusOK},
		{"skip is not a prefix match", "/trackers", "", http.StatusUnauthorized},
		{"missing key", "/api/v1/commission-rules", "", http.StatusUnauthorized},
		{"wrong key", "/api/v1/commission-rules", "nope", http.StatusUnauthorized},
		{"header key", "/api/v1/commission-rules", "secret", http.StatusOK},
		{"query key", "/api/v1/commission-rules?api_key=secret", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderName, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRateLimitTrackIsPerIP(t *testing.T) {
	rl := NewRateLimitMiddleware(config.RateLimitConfig{
		Enabled: true, TrackRPS: 0.001, TrackBurst: 1, APIRPS: 1000, APIBurst: 1000,
	}, zap.NewNop())
	h := rl.Handler(okHandler)

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/track", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := do("198.51.100.1"); got != http.StatusOK {
		t.Fatalf("first request = %d", got)
	}
	if got := do("198.51.100.1"); got != http.StatusTooManyRequests {
		t.Fatalf("second request from same ip = %d, want 429", got)
	}
	if got := do("198.51.100.2"); got != http.StatusOK {
		t.Fatalf("other ip = %d, want 200", got)
	}

	rl.CleanupIPLimiters()
	if got := do("198.51.100.1"); got != http.StatusOK {
		t.Fatalf("after cleanup = %d, want 200", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := NewRecoveryMiddleware(zap.NewNop()).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := ClientIP(req); got != "2001:db8::1" {
		t.Fatalf("ipv6 remote addr = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("forwarded = %q", got)
	}
}

func TestWriteErrorEscapesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusUnauthorized, `bad "key" \ value`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	if body["error"] != `bad "key" \ value` {
		t.Fatalf("error = %q", body["error"])
	}
}
