package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the lifecycle module.
type Metrics struct {
	// Calibration verdicts by result
	CalibrationResults *prometheus.CounterVec

	// Status transitions by new status
	StatusChanges *prometheus.CounterVec

	// Investigation transitions by event
	InvestigationEvents *prometheus.CounterVec

	// Tasks created by the planner, by kind
	TasksScheduled *prometheus.CounterVec

	// Full tick latency including risk recompute
	TickLatency prometheus.Histogram

	// Risk score distribution observed at recompute time
	RiskScore prometheus.Histogram
}

// New creates a Metrics instance with all lifecycle metrics registered.
func New() *Metrics {
	return &Metrics{
		CalibrationResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "caltrack_calibration_results_total",
			Help: "Calibration verdicts by result",
		}, []string{"result"}), // result: "pass", "oot"

		StatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "caltrack_status_changes_total",
			Help: "Equipment status transitions by new status",
		}, []string{"status"}),

		InvestigationEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "caltrack_investigation_events_total",
			Help: "Investigation workflow transitions by event",
		}, []string{"event"}),

		TasksScheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "caltrack_tasks_scheduled_total",
			Help: "Tasks created by the scheduler by kind",
		}, []string{"kind"}), // kind: "calibration", "pm"

		TickLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "caltrack_tick_duration_seconds",
			Help:    "Duration of a full scheduling and status recompute pass",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		RiskScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "caltrack_risk_score",
			Help:    "Risk scores observed during recompute",
			Buckets: []float64{10, 20, 30, 45, 60, 70, 80, 90, 100},
		}),
	}
}

func (m *Metrics) IncrementCalibrationResult(result string) {
	if m != nil {
		m.CalibrationResults.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementStatusChange(status string) {
	if m != nil {
		m.StatusChanges.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncrementInvestigationEvent(event string) {
	if m != nil {
		m.InvestigationEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) IncrementTaskScheduled(kind string) {
	if m != nil {
		m.TasksScheduled.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveTickLatency(d time.Duration) {
	if m != nil {
		m.TickLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveRiskScore(score int) {
	if m != nil {
		m.RiskScore.Observe(float64(score))
	}
}
