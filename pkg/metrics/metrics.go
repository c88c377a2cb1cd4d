// Package metrics provides Prometheus metrics for the lichen importer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed tracks imported records by object type and outcome
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "import",
			Name:      "records_total",
			Help:      "Total number of records processed by outcome",
		},
		[]string{"object_type", "outcome"},
	)

	// ImportFailures tracks failed imports by error kind
	ImportFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "import",
			Name:      "failures_total",
			Help:      "Total number of failed imports by error kind",
		},
		[]string{"kind"},
	)

	// FindOrCreateRetries tracks natural-key collisions resolved by re-fetching
	FindOrCreateRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "persistence",
			Name:      "find_or_create_retries_total",
			Help:      "Total number of get-or-create retries after a unique violation",
		},
		[]string{"table"},
	)

	// RemoteRequestsTotal tracks outbound EasyDB requests
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Total number of outbound EasyDB requests",
		},
		[]string{"method", "status_code"},
	)

	// RemoteRequestDuration tracks outbound EasyDB request duration
	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lichen",
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound EasyDB requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	// SessionRefreshes tracks remote session acquisitions
	SessionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "remote",
			Name:      "session_refreshes_total",
			Help:      "Total number of remote session acquisitions",
		},
		[]string{"mode", "status"},
	)

	// PagesProcessed tracks job pages by job type
	PagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "jobs",
			Name:      "pages_total",
			Help:      "Total number of job pages processed",
		},
		[]string{"type"},
	)

	// JobTransitions tracks job status transitions
	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Total number of job status transitions",
		},
		[]string{"type", "status"},
	)

	// QueueMessagesProcessed tracks continuation messages handled by the worker
	QueueMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "queue",
			Name:      "messages_processed_total",
			Help:      "Total number of continuation messages processed",
		},
		[]string{"status"},
	)

	// QueueMessagesInFlight tracks continuation messages currently being processed
	QueueMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lichen",
			Subsystem: "queue",
			Name:      "messages_in_flight",
			Help:      "Number of continuation messages currently being processed",
		},
	)

	// DLQMessagesTotal tracks messages moved to the dead letter stream
	DLQMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "dlq",
			Name:      "messages_total",
			Help:      "Total number of messages sent to the dead letter stream",
		},
		[]string{"reason"},
	)

	// KafkaMessagesPublished tracks import events published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lichen",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)
