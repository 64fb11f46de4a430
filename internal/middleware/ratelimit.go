package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/radiusdt/affiliate-ledger/internal/config"
	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const trackPath = "/track"

// RateLimitMiddleware applies a token bucket per client IP on /track and a
// global bucket on everything else except health and metrics.
type RateLimitMiddleware struct {
	cfg        config.RateLimitConfig
	logger     *zap.Logger
	metrics    *metrics.Metrics
	apiLimiter *rate.Limiter

	mu         sync.RWMutex
	ipLimiters map[string]*rate.Limiter
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:        cfg,
		logger:     logger,
		apiLimiter: rate.NewLimiter(rate.Limit(cfg.APIRPS), cfg.APIBurst),
		ipLimiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimitMiddleware) SetMetrics(m *metrics.Metrics) {
	rl.metrics = m
}

func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		endpoint := "api"
		limiter := rl.apiLimiter
		if r.URL.Path == trackPath {
			endpoint = "track"
			limiter = rl.getIPLimiter(ClientIP(r))
		}

		if !limiter.Allow() {
			rl.logger.Warn("rate limit exceeded",
				zap.String("endpoint", endpoint),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitHit(endpoint)
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) getIPLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.ipLimiters[ip]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok = rl.ipLimiters[ip]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(rl.cfg.TrackRPS), rl.cfg.TrackBurst)
	rl.ipLimiters[ip] = limiter
	return limiter
}

// CleanupIPLimiters drops all per-IP limiters. Called periodically.
func (rl *RateLimitMiddleware) CleanupIPLimiters() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.ipLimiters = make(map[string]*rate.Limiter)
	rl.logger.Debug("cleaned up IP rate limiters")
}

// ClientIP extracts the caller address, honouring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
