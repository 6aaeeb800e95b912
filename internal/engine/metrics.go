package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts queries by outcome.
	// Labels: outcome (fresh, cached, degraded, invalid)
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "Total number of knowledge queries",
		},
		[]string{"outcome"},
	)

	// QueryDuration tracks end-to-end query latency.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "knowd",
			Subsystem: "engine",
			Name:      "query_duration_seconds",
			Help:      "Duration of knowledge queries in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)

	// TierFailuresTotal counts tier searches that failed or timed out.
	// Labels: tier, reason (error, timeout)
	TierFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "engine",
			Name:      "tier_failures_total",
			Help:      "Total number of tier searches that contributed nothing because of a failure",
		},
		[]string{"tier", "reason"},
	)
)
