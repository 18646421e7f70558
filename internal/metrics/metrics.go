// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine groups the SLA engine collectors. Register once per process.
type Engine struct {
	ScanDuration      prometheus.Histogram
	RecordsEvaluated  prometheus.Counter
	NotificationsSent *prometheus.CounterVec
	DispatchFailures  *prometheus.CounterVec
	BreachesDetected  *prometheus.CounterVec
	TrackingStarted   prometheus.Counter
	TrackingCancelled prometheus.Counter
	EventErrors       prometheus.Counter
}

// New creates and registers the engine collectors on the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Engine {
	factory := promauto.With(reg)
	return &Engine{
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sla_scan_duration_seconds",
			Help:    "Duration of one tenant threshold scan.",
			Buckets: prometheus.DefBuckets,
		}),
		RecordsEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sla_records_evaluated_total",
			Help: "Tracking records evaluated by threshold scans.",
		}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_notifications_sent_total",
			Help: "Notifications dispatched, by template key.",
		}, []string{"template"}),
		DispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_dispatch_failures_total",
			Help: "Notification dispatch failures, by channel.",
		}, []string{"channel"}),
		BreachesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_breaches_total",
			Help: "SLA breaches recorded, by type.",
		}, []string{"sla_type"}),
		TrackingStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sla_tracking_started_total",
			Help: "Tracking records created.",
		}),
		TrackingCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "sla_tracking_cancelled_total",
			Help: "Tracking records cancelled.",
		}),
		EventErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sla_event_errors_total",
			Help: "Errors swallowed at the ticket-event boundary.",
		}),
	}
}

// NewNop creates unregistered collectors for tests.
func NewNop() *Engine {
	return New(prometheus.NewRegistry())
}
