package effectiveness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal counts applied signals.
	// Labels: signal (feedback, usage), result (applied, not_found, error)
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "effectiveness",
			Name:      "updates_total",
			Help:      "Total number of effectiveness signals processed",
		},
		[]string{"signal", "result"},
	)

	// DroppedTotal counts signals rejected by the async queue.
	DroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "effectiveness",
			Name:      "dropped_total",
			Help:      "Total number of signals dropped before processing",
		},
		[]string{"signal", "reason"},
	)
)
