package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/radiusdt/affiliate-ledger/internal/affiliate"
	"github.com/radiusdt/affiliate-ledger/internal/config"
	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds everything the HTTP layer needs.
type Dependencies struct {
	Services *affiliate.Services
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// Checks are run by /health, keyed by dependency name.
	Checks map[string]HealthCheck
}

// Server binds the ledger services to HTTP routes.
type Server struct {
	svc     *affiliate.Services
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	checks  map[string]HealthCheck
}

// NewServer constructs an http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		svc:     deps.Services,
		config:  deps.Config,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		checks:  deps.Checks,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, metrics.Handler())
	}

	r.Get("/track", s.handleTrack)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Post("/reverse", s.handleReverseOrder)
			r.Get("/commission", s.handleGetCommission)
			r.Post("/adjustments", s.handleAdjustCommission)
		})
		r.Post("/orders/completed", s.handleOrderCompleted)

		r.Route("/clicks/{clickId}", func(r chi.Router) {
			r.Get("/", s.handleGetClick)
			r.Post("/conversion", s.handleRecordConversion)
		})

		r.Route("/affiliates/{affiliateId}", func(r chi.Router) {
			r.Get("/", s.handleGetAffiliate)
			r.Put("/", s.handleUpsertAffiliate)
			r.Get("/stats", s.handleStats)
			r.Get("/balance", s.handleBalance)
			r.Get("/links", s.handleListLinks)
			r.Post("/links", s.handleCreateLink)
			r.Delete("/links/{linkId}", s.handleDeleteLink)
			r.Post("/settlements", s.handleCreateSettlement)
		})
		r.Post("/links/{linkId}/reconcile", s.handleReconcileLink)

		r.Get("/settlements", s.handleListSettlements)
		r.Route("/settlements/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSettlement)
			r.Post("/confirm", s.handleConfirmSettlement)
			r.Post("/paid", s.handleMarkPaid)
			r.Post("/fail", s.handleFailSettlement)
		})

		r.Get("/commission-rules", s.handleListRules)
		r.Post("/commission-rules", s.handleCreateRule)
		r.Route("/commission-rules/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Post("/activate", s.handleSetRuleActive(true))
			r.Post("/deactivate", s.handleSetRuleActive(false))
		})
	})

	return r
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			status[name] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	s.jsonStatus(w, code, status)
}

// instrument records per-route request metrics using the matched chi pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.RecordHTTPRequest(route, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.jsonStatus(w, http.StatusOK, data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serviceError maps service errors onto HTTP status codes. Unexpected errors
// are logged and reported without detail.
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *affiliate.ValidationError
	switch {
	case errors.As(err, &ve):
		s.errorResponse(w, ve.Error(), http.StatusBadRequest)
	case errors.Is(err, affiliate.ErrForbidden):
		s.errorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, affiliate.ErrNotFound):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, affiliate.ErrInvalidTransition),
		errors.Is(err, affiliate.ErrNothingToSettle),
		errors.Is(err, affiliate.ErrCommissionLocked),
		errors.Is(err, affiliate.ErrDuplicateCode):
		s.errorResponse(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		s.errorResponse(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}
