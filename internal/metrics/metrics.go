package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the affiliate ledger.
type Metrics struct {
	// Tracking metrics
	Clicks           *prometheus.CounterVec
	Conversions      *prometheus.CounterVec
	Revenue          prometheus.Counter
	TrackingFailures *prometheus.CounterVec
	CounterFailures  prometheus.Counter

	// Commission metrics
	Commissions       *prometheus.CounterVec
	CommissionAmount  prometheus.Counter
	Adjustments       prometheus.Counter
	Unattributed      *prometheus.CounterVec
	RuleMatches       *prometheus.CounterVec
	SettlementEvents  *prometheus.CounterVec
	SettlementAmount  *prometheus.CounterVec
	StatsCacheResults *prometheus.CounterVec

	// System metrics
	StoreLatency     *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
	GeoLookupLatency *prometheus.HistogramVec
	ArchiveEvents    *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the metrics on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		Clicks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Total tracked clicks",
			},
			[]string{"affiliate_id"},
		),
		Conversions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total clicks marked converted",
			},
			[]string{"affiliate_id"},
		),
		Revenue: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attributed_revenue_total",
				Help:      "Order value attributed to affiliates",
			},
		),
		TrackingFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_failures_total",
				Help:      "Tracking steps that failed and were degraded",
			},
			[]string{"stage"},
		),
		CounterFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_counter_failures_total",
				Help:      "Asynchronous link counter updates that failed",
			},
		),

		Commissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commissions_total",
				Help:      "Commission records written",
			},
			[]string{"status"},
		),
		CommissionAmount: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commission_amount_total",
				Help:      "Sum of computed commission amounts",
			},
		),
		Adjustments: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commission_adjustments_total",
				Help:      "Manual commission adjustments appended",
			},
		),
		Unattributed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unattributed_orders_total",
				Help:      "Completed orders that could not be attributed",
			},
			[]string{"reason"},
		),
		RuleMatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commission_rule_matches_total",
				Help:      "Commission computations by selected rule",
			},
			[]string{"rule_id"},
		),
		SettlementEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_transitions_total",
				Help:      "Settlement lifecycle transitions",
			},
			[]string{"status"},
		),
		SettlementAmount: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_amount_total",
				Help:      "Settlement amounts by resulting status",
			},
			[]string{"status"},
		),
		StatsCacheResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stats_cache_results_total",
				Help:      "Stats summary cache lookups",
			},
			[]string{"result"},
		),

		StoreLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_seconds",
				Help:      "Document store operation latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "status"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		GeoLookupLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_seconds",
				Help:      "GeoIP lookup latency in seconds",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"cache_hit"},
		),
		ArchiveEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_events_total",
				Help:      "Events offered to the analytics archive",
			},
			[]string{"result"},
		),

		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
	}

	return m
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordClick records a tracked click.
func (m *Metrics) RecordClick(affiliateID string) {
	m.Clicks.WithLabelValues(affiliateID).Inc()
}

// RecordConversion records a click flipped to converted.
func (m *Metrics) RecordConversion(affiliateID string, value float64) {
	m.Conversions.WithLabelValues(affiliateID).Inc()
	if value > 0 {
		m.Revenue.Add(value)
	}
}

// RecordTrackingFailure records a degraded tracking step.
func (m *Metrics) RecordTrackingFailure(stage string) {
	m.TrackingFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordCounterFailure() {
	m.CounterFailures.Inc()
}

// RecordCommission records a commission record write.
func (m *Metrics) RecordCommission(status, ruleID string, amount float64) {
	m.Commissions.WithLabelValues(status).Inc()
	if amount > 0 {
		m.CommissionAmount.Add(amount)
	}
	if ruleID == "" {
		ruleID = "default_rate"
	}
	m.RuleMatches.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) RecordAdjustment() {
	m.Adjustments.Inc()
}

// RecordUnattributed records an order that earned no commission.
func (m *Metrics) RecordUnattributed(reason string) {
	m.Unattributed.WithLabelValues(reason).Inc()
}

// RecordSettlement records a settlement transition.
func (m *Metrics) RecordSettlement(status string, amount float64) {
	m.SettlementEvents.WithLabelValues(status).Inc()
	m.SettlementAmount.WithLabelValues(status).Add(amount)
}

// RecordStatsCache records a stats cache hit or miss.
func (m *Metrics) RecordStatsCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.StatsCacheResults.WithLabelValues(result).Inc()
}

// RecordStoreOp records a document store operation.
func (m *Metrics) RecordStoreOp(operation string, err error, latency time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreLatency.WithLabelValues(operation, status).Observe(latency.Seconds())
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(route string, code int, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latency.Seconds())
}

// RecordGeoLookup records a geo lookup.
func (m *Metrics) RecordGeoLookup(cacheHit bool, latency time.Duration) {
	m.GeoLookupLatency.WithLabelValues(strconv.FormatBool(cacheHit)).Observe(latency.Seconds())
}

// RecordArchive records the outcome of an archive write.
func (m *Metrics) RecordArchive(result string, n int) {
	m.ArchiveEvents.WithLabelValues(result).Add(float64(n))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
