package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Conversation metrics
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_messages_appended_total",
			Help: "Total messages appended to conversation logs",
		},
		[]string{"kind"},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_persist_failures_total",
			Help: "Writes to the key-value store that failed and were kept in memory only",
		},
	)

	CorruptReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_corrupt_reads_total",
			Help: "Persisted values that failed to parse and were read as defaults",
		},
		[]string{"record"},
	)

	// Storage change notifications
	ChangesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_storage_changes_published_total",
			Help: "Storage changes published to other tabs",
		},
	)

	ChangesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_storage_changes_applied_total",
			Help: "Storage changes applied to an active view",
		},
		[]string{"target"}, // "messages" or "avatar"
	)

	// User-facing notices
	NoticesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_notices_posted_total",
			Help: "User-visible notices posted",
		},
		[]string{"kind"},
	)

	// Posting gate
	GateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_posting_gate_outcomes_total",
			Help: "Posting gate drafts by final state",
		},
		[]string{"outcome"},
	)

	TabsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_tabs_open",
			Help: "Tabs with a running event loop",
		},
	)
)
