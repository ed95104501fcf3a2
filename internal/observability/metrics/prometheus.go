// Package metrics provides Prometheus metrics for the dose engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	RoutinesCreated      prometheus.Counter
	RoutinesVersioned    prometheus.Counter
	RoutinesCanceled     prometheus.Counter
	DoseStatusUpdates    *prometheus.CounterVec
	DosesRescheduled     prometheus.Counter
	RemindersPlanned     prometheus.Counter
	RemindersDispatched  prometheus.Counter
	RemindersFailed      prometheus.Counter
	MergeDuration        prometheus.Histogram
	MergeOccurrences     prometheus.Histogram
	BrokerMessagesOut    prometheus.Counter
	BrokerMessagesIn     prometheus.Counter
	OutboxPending        prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		RoutinesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routines_created_total",
			Help: "Total medication routines created",
		}),
		RoutinesVersioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routines_versioned_total",
			Help: "Total routines replaced by a new version",
		}),
		RoutinesCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routines_canceled_total",
			Help: "Total routines canceled",
		}),
		DoseStatusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dose_status_updates_total",
			Help: "Total dose status updates by target status",
		}, []string{"status"}),
		DosesRescheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doses_rescheduled_total",
			Help: "Total doses moved to a new instant",
		}),
		RemindersPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_planned_total",
			Help: "Total reminders planned for upcoming doses",
		}),
		RemindersDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_dispatched_total",
			Help: "Total reminders handed to the delivery gateway",
		}),
		RemindersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_failed_total",
			Help: "Total reminder deliveries that failed permanently",
		}),
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dose_merge_duration_seconds",
			Help:    "Virtual and exception stream merge duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		MergeOccurrences: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dose_merge_occurrences",
			Help:    "Occurrences returned per merge",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		BrokerMessagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_messages_produced_total",
			Help: "Total broker messages produced",
		}),
		BrokerMessagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Total broker messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.RoutinesCreated,
		m.RoutinesVersioned,
		m.RoutinesCanceled,
		m.DoseStatusUpdates,
		m.DosesRescheduled,
		m.RemindersPlanned,
		m.RemindersDispatched,
		m.RemindersFailed,
		m.MergeDuration,
		m.MergeOccurrences,
		m.BrokerMessagesOut,
		m.BrokerMessagesIn,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
