// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Signal sources
	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threatwatch_source_fetch_duration_seconds",
			Help:    "Duration of a signal source fetch in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"domain", "outcome"}, // outcome: ok, severe, failed
	)

	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_source_failures_total",
			Help: "Signal source fetches that ended in a failure, by error kind",
		},
		[]string{"domain", "kind"},
	)

	SubFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_subfetch_failures_total",
			Help: "Best-effort sub-fetches that fell back to a placeholder",
		},
		[]string{"domain", "subfetch", "kind"},
	)

	SourceSevere = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "threatwatch_source_severe",
			Help: "1 if the last fetch of the domain was severe",
		},
		[]string{"domain"},
	)

	// Threat level
	ThreatLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatwatch_threat_level",
			Help: "Current threat level (0=LOW 1=ELEVATED 2=HIGH 3=SEVERE)",
		},
	)

	ThreatEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_threat_evaluations_total",
			Help: "Threat evaluations by resulting level",
		},
		[]string{"level"},
	)

	ThreatDegradedSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatwatch_threat_degraded_sources",
			Help: "Number of sources that failed in the last evaluation",
		},
	)

	// Motion
	MotionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_motion_checks_total",
			Help: "Motion checks by outcome",
		},
		[]string{"outcome"}, // detected, clear, connection, read
	)

	MotionCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threatwatch_motion_check_duration_seconds",
			Help:    "Duration of one sample-and-classify cycle",
			Buckets: []float64{0.5, 1, 1.5, 2, 3, 5, 10, 20},
		},
	)

	MotionLargeRegions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatwatch_motion_large_regions",
			Help: "Regions above the sensitivity threshold in the last check",
		},
	)

	MotionLastEvent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatwatch_motion_last_event_timestamp_seconds",
			Help: "Unix time of the last confirmed motion event",
		},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "threatwatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed 1=half-open 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Push
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatwatch_websocket_connections",
			Help: "Connected websocket clients",
		},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_websocket_messages_sent_total",
			Help: "Websocket messages sent by topic",
		},
		[]string{"topic"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_events_published_total",
			Help: "Events published on the internal bus by topic",
		},
		[]string{"topic"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_events_dropped_total",
			Help: "Events dropped because a subscriber channel was full",
		},
		[]string{"topic"},
	)

	// gRPC health
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "threatwatch_health_serving",
			Help: "1 if the health service reports SERVING",
		},
		[]string{"service"},
	)
)

// RecordSourceFetch records one source fetch.
func RecordSourceFetch(domain, outcome string, d time.Duration) {
	SourceFetchDuration.WithLabelValues(domain, outcome).Observe(d.Seconds())
}

// RecordMotionCheck records one motion check.
func RecordMotionCheck(outcome string, d time.Duration) {
	MotionChecks.WithLabelValues(outcome).Inc()
	MotionCheckDuration.Observe(d.Seconds())
}

// BoolGauge converts a flag to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
