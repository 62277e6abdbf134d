// Package metrics provides Prometheus instrumentation for the status tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metric collectors for the status tracker.
type Metrics struct {
	PointsWrittenTotal prometheus.Counter
	WriteFailuresTotal prometheus.Counter
	QueriesTotal       prometheus.Counter
	QueryLatency       prometheus.Histogram
	TransitionsTotal   *prometheus.CounterVec
	TasksCreatedTotal  prometheus.Counter
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PointsWrittenTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "status_points_written_total",
			Help: "Total number of status points written to the store.",
		}),

		WriteFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "status_write_failures_total",
			Help: "Total number of failed point writes.",
		}),

		QueriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "store_queries_total",
			Help: "Total number of queries issued to the store.",
		}),

		QueryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "store_query_latency_seconds",
			Help:    "Round-trip latency of store queries.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),

		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "status_transitions_total",
			Help: "Total number of recorded status transitions, partitioned by status.",
		}, []string{"status"}),

		TasksCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tasks_created_total",
			Help: "Total number of tasks seeded in the store.",
		}),
	}
}
