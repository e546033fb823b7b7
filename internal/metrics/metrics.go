package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetgate_registration_decisions_total",
		Help: "Registration gate decisions by outcome and rejection kind.",
	}, []string{"outcome", "kind"})

	gateRiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetgate_risk_score",
		Help:    "Risk scores assigned to scored registration attempts.",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, 12},
	})

	gateRiskLevelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetgate_risk_levels_total",
		Help: "Scored registration attempts by risk level.",
	}, []string{"level"})

	gateDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetgate_degraded_assessments_total",
		Help: "Assessments produced after a validation or scoring fault.",
	})

	gateBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetgate_blocks_total",
		Help: "Source blocks created, by origin.",
	}, []string{"origin"})

	gateBlockedSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetgate_blocked_sources",
		Help: "Source keys currently blocked.",
	})

	gateMonitoredSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetgate_monitored_sources",
		Help: "Source keys with tracked attempt history.",
	})

	notificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetgate_notifications_dropped_total",
		Help: "Security notifications dropped because the dispatch queue was full.",
	})

	notificationDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetgate_notification_deliveries_total",
		Help: "Security notification deliveries by sink and result.",
	}, []string{"sink", "result"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetgate_http_requests_total",
		Help: "Total HTTP requests by method, route, and response status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetgate_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Handler serves the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDecision records a gate decision. kind is empty for accepted attempts.
func RecordDecision(outcome, kind string) {
	gateDecisionsTotal.WithLabelValues(outcome, kind).Inc()
}

// RecordRisk records a scored attempt.
func RecordRisk(score float64, level string, degraded bool) {
	gateRiskScore.Observe(score)
	gateRiskLevelsTotal.WithLabelValues(level).Inc()
	if degraded {
		gateDegradedTotal.Inc()
	}
}

// RecordBlock records a new block. origin is "auto" or "manual".
func RecordBlock(origin string) {
	gateBlocksTotal.WithLabelValues(origin).Inc()
}

// SetGateSources publishes the blocked and monitored source gauges.
func SetGateSources(blocked, monitored int) {
	gateBlockedSources.Set(float64(blocked))
	gateMonitoredSources.Set(float64(monitored))
}

// RecordNotificationDropped records a notification lost to a full queue.
func RecordNotificationDropped() {
	notificationsDroppedTotal.Inc()
}

// RecordNotificationDelivery records one sink delivery attempt.
func RecordNotificationDelivery(sink string, success bool) {
	if success {
		notificationDeliveriesTotal.WithLabelValues(sink, "success").Inc()
	} else {
		notificationDeliveriesTotal.WithLabelValues(sink, "failure").Inc()
	}
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
