// Package metrics exposes Switchboard's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "switchboard"

// Metrics satisfies eventlog.Observer and orchestrator.Observer.
type Metrics struct {
	eventsAppended    *prometheus.CounterVec
	deliveryAttempts  *prometheus.CounterVec
	deliveryDuration  *prometheus.HistogramVec
	deliveryExhausted *prometheus.CounterVec
	assignments       *prometheus.CounterVec
	conflictsRaised   *prometheus.CounterVec
	readyTasks        *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		eventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Domain events appended to the log.",
		}, []string{"event_type"}),
		deliveryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by subscriber type and outcome.",
		}, []string{"subscriber_type", "outcome"}),
		deliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in a single delivery attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"subscriber_type"}),
		deliveryExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_exhausted_total",
			Help:      "Publish log rows that ran out of attempts.",
		}, []string{"subscriber_type"}),
		assignments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Assignment decisions by outcome.",
		}, []string{"outcome"}),
		conflictsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_raised_total",
			Help:      "Conflicts raised by type and severity.",
		}, []string{"conflict_type", "severity"}),
		readyTasks: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_tasks",
			Help:      "Ready tasks seen on the last assignment pass.",
		}, []string{"project_id"}),
	}
}

func (m *Metrics) EventAppended(eventType string) {
	m.eventsAppended.WithLabelValues(eventType).Inc()
}

func (m *Metrics) DeliveryAttempted(subscriberType string, ok bool, elapsed time.Duration) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.deliveryAttempts.WithLabelValues(subscriberType, outcome).Inc()
	m.deliveryDuration.WithLabelValues(subscriberType).Observe(elapsed.Seconds())
}

func (m *Metrics) DeliveryExhausted(subscriberType string) {
	m.deliveryExhausted.WithLabelValues(subscriberType).Inc()
}

func (m *Metrics) TaskAssigned(outcome string) {
	m.assignments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConflictRaised(conflictType, severity string) {
	m.conflictsRaised.WithLabelValues(conflictType, severity).Inc()
}

func (m *Metrics) ReadyTasks(projectID string, n int) {
	m.readyTasks.WithLabelValues(projectID).Set(float64(n))
}
