package querycache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LookupsTotal counts cache lookups.
	// Labels: backend (memory, redis), result (hit, miss, error)
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "query_cache",
			Name:      "lookups_total",
			Help:      "Total query cache lookups by result",
		},
		[]string{"backend", "result"},
	)

	// EvictionsTotal counts removed entries.
	// Labels: backend, reason (expired, capacity, invalidated)
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "query_cache",
			Name:      "evictions_total",
			Help:      "Total query cache evictions by reason",
		},
		[]string{"backend", "reason"},
	)

	// Entries tracks the size of the in-memory cache.
	Entries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "knowd",
			Subsystem: "query_cache",
			Name:      "entries",
			Help:      "Current number of in-memory query cache entries",
		},
	)
)
