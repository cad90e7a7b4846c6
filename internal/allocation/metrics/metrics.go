package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the allocation module. All methods are
// safe on a nil receiver.
type Metrics struct {
	// Transition attempts by operation and outcome (ok, or an error code)
	Transitions *prometheus.CounterVec

	TransitionLatency *prometheus.HistogramVec

	// Automatic re-read-and-retry after a revision conflict
	ConflictRetries prometheus.Counter

	// Audit anchoring failures by reason: error, timeout, circuit_open
	AnchorFailures *prometheus.CounterVec

	NotifyFailures prometheus.Counter

	// Distance lookups during candidate listing by outcome: ok, error
	DistanceLookups *prometheus.CounterVec

	CandidateListLatency prometheus.Histogram

	ConsistencyFindings *prometheus.CounterVec
}

// New registers the allocation metrics with reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration against the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "organlink_allocation_transitions_total",
			Help: "Allocation operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		TransitionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "organlink_allocation_transition_duration_seconds",
			Help:    "Duration of allocation operations including anchoring",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),

		ConflictRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "organlink_allocation_conflict_retries_total",
			Help: "Operations retried once after a revision conflict",
		}),

		AnchorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "organlink_audit_anchor_failures_total",
			Help: "Audit hashes committed without an external anchor reference",
		}, []string{"reason"}),

		NotifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "organlink_notify_failures_total",
			Help: "Notifications that could not be enqueued after commit",
		}),

		DistanceLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "organlink_distance_lookups_total",
			Help: "Distance lookups made while listing candidates",
		}, []string{"outcome"}),

		CandidateListLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "organlink_candidates_list_duration_seconds",
			Help:    "Duration of candidate listing including distance lookups",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		ConsistencyFindings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "organlink_consistency_findings_total",
			Help: "Inconsistencies reported by the consistency checker by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveTransition(operation, outcome string, d time.Duration) {
	if m != nil {
		m.Transitions.WithLabelValues(operation, outcome).Inc()
		m.TransitionLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementConflictRetries() {
	if m != nil {
		m.ConflictRetries.Inc()
	}
}

// IncrementAnchorFailures matches the recorder's failure hook signature.
func (m *Metrics) IncrementAnchorFailures(reason string) {
	if m != nil {
		m.AnchorFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncrementNotifyFailures() {
	if m != nil {
		m.NotifyFailures.Inc()
	}
}

func (m *Metrics) IncrementDistanceLookups(outcome string) {
	if m != nil {
		m.DistanceLookups.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveCandidateList(d time.Duration) {
	if m != nil {
		m.CandidateListLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementConsistencyFindings(kind string) {
	if m != nil {
		m.ConsistencyFindings.WithLabelValues(kind).Inc()
	}
}
