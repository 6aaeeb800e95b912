package feedbackbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts consumed events.
	// Labels: kind (feedback, usage), result (accepted, rejected, dropped)
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "feedbackbus",
			Name:      "events_total",
			Help:      "Total number of feedback bus events consumed",
		},
		[]string{"kind", "result"},
	)

	// PublishedTotal counts events published by this process.
	PublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Subsystem: "feedbackbus",
			Name:      "published_total",
			Help:      "Total number of feedback bus events published",
		},
		[]string{"kind"},
	)
)
