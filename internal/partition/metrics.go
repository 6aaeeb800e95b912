package partition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsTotal tracks stored documents.
	// Labels: tier (tenant, domain, global)
	DocumentsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "knowd",
			Subsystem: "partition",
			Name:      "documents",
			Help:      "Number of stored documents by tier",
		},
		[]string{"tier"},
	)

	// PartitionsTotal tracks live partitions.
	// Labels: tier (tenant, domain, global)
	PartitionsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "knowd",
			Subsystem: "partition",
			Name:      "partitions",
			Help:      "Number of live partitions by tier",
		},
		[]string{"tier"},
	)

	// SearchDuration tracks similarity search latency.
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "knowd",
			Subsystem: "partition",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"tier"},
	)
)
