// Package metrics exposes Prometheus collectors for the moderation pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProviderCalls counts adapter invocations by provider and outcome reason.
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lorepin_provider_calls_total",
			Help: "Moderation adapter calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// Analyses counts aggregated content analyses by whether they were flagged.
	Analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lorepin_content_analyses_total",
			Help: "Aggregated content analyses",
		},
		[]string{"flagged"},
	)

	// RiskScores observes the distribution of aggregated risk scores.
	RiskScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lorepin_risk_score",
			Help:    "Aggregated risk score of analysed content",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	// QueueTransitions counts moderation queue status changes.
	QueueTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lorepin_queue_transitions_total",
			Help: "Moderation queue status transitions",
		},
		[]string{"to"},
	)

	// ChallengeTransitions counts challenge workflow status changes.
	ChallengeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lorepin_challenge_transitions_total",
			Help: "Challenge workflow status transitions",
		},
		[]string{"to"},
	)

	// RequestDuration tracks the duration of HTTP requests.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lorepin_http_request_duration_seconds",
			Help:    "Time spent processing HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(ProviderCalls, Analyses, RiskScores, QueueTransitions, ChallengeTransitions, RequestDuration)
}

// ObserveRequest records one HTTP request.
func ObserveRequest(method string, status int, d time.Duration) {
	RequestDuration.WithLabelValues(method, http.StatusText(status)).Observe(d.Seconds())
}

// Handler returns the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
