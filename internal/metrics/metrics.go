package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the relations service
type Metrics struct {
	// Toggle metrics
	TogglesTotal       *prometheus.CounterVec
	ToggleRetriesTotal *prometheus.CounterVec
	ToggleDuration     *prometheus.HistogramVec
	CounterClampsTotal *prometheus.CounterVec

	// Read path
	StatusLookupsTotal *prometheus.CounterVec

	// Side effects after commit
	EventsPublishedTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TogglesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relations",
				Name:      "toggles_total",
				Help:      "Toggle calls by relation kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ToggleRetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relations",
				Name:      "toggle_retries_total",
				Help:      "Toggle transactions retried after a write conflict",
			},
			[]string{"kind"},
		),
		ToggleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relations",
				Name:      "toggle_duration_seconds",
				Help:      "Toggle latency including internal retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		CounterClampsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relations",
				Name:      "counter_clamps_total",
				Help:      "Counter adjustments clamped at zero",
			},
			[]string{"field"},
		),
		StatusLookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relations",
				Name:      "status_lookups_total",
				Help:      "isActive lookups by cache result (hit, miss, error, disabled)",
			},
			[]string{"cache"},
		),
		EventsPublishedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relations",
				Name:      "events_published_total",
				Help:      "Relation events published after commit, by result",
			},
			[]string{"result"},
		),
	}
}
