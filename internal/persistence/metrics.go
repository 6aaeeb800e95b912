package persistence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SavesTotal counts snapshot saves.
	// Labels: backend, result (success, failure, deleted)
	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "persistence",
			Name:      "saves_total",
			Help:      "Total number of snapshot saves",
		},
		[]string{"backend", "result"},
	)

	// LoadsTotal counts snapshot loads at startup.
	// Labels: backend, result (success, failure, seeded)
	LoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "persistence",
			Name:      "loads_total",
			Help:      "Total number of snapshot loads",
		},
		[]string{"backend", "result"},
	)

	// SaveDuration tracks snapshot save latency.
	SaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "knowd",
			Subsystem: "persistence",
			Name:      "save_duration_seconds",
			Help:      "Duration of snapshot saves in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// DirtyScopes is the number of scopes waiting to be saved.
	DirtyScopes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "knowd",
			Subsystem: "persistence",
			Name:      "dirty_scopes",
			Help:      "Number of snapshot scopes with unsaved changes",
		},
	)
)
