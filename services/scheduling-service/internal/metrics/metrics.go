package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks scheduling workflow outcomes and notification delivery.
type Metrics struct {
	WorkflowTotal        *prometheus.CounterVec
	WorkflowDuration     *prometheus.HistogramVec
	SlotsCreated         *prometheus.CounterVec
	NotificationsSent    *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
}

// New registers all scheduling metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WorkflowTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examinerops_scheduling_workflow_total",
			Help: "Scheduling workflow runs by workflow and outcome",
		}, []string{"workflow", "outcome"}),
		WorkflowDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "examinerops_scheduling_workflow_duration_seconds",
			Help:    "Duration of scheduling workflows including the transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"workflow"}),
		SlotsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examinerops_interview_slots_created_total",
			Help: "Interview slot rows written, by status",
		}, []string{"status"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examinerops_notifications_dispatched_total",
			Help: "Notifications handed to the dispatcher, by template",
		}, []string{"template"}),
		NotificationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examinerops_notification_failures_total",
			Help: "Notifications the dispatcher failed to accept, by template",
		}, []string{"template"}),
	}
}

// ObserveWorkflow records one run. A nil receiver is a no-op.
func (m *Metrics) ObserveWorkflow(workflow, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.WorkflowTotal.WithLabelValues(workflow, outcome).Inc()
	m.WorkflowDuration.WithLabelValues(workflow).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddSlotsCreated(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SlotsCreated.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) ObserveNotification(template string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.NotificationFailures.WithLabelValues(template).Inc()
		return
	}
	m.NotificationsSent.WithLabelValues(template).Inc()
}
