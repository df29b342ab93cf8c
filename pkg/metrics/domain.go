package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values shared by the domain counters.
const (
	OutcomeApplied   = "applied"
	OutcomeRejected  = "rejected"
	OutcomeNoop      = "noop"
	OutcomeError     = "error"
	OutcomeAcquired  = "acquired"
	OutcomeContended = "contended"
	OutcomeCreated   = "created"
	OutcomeRequeued  = "requeued"
	OutcomeSkipped   = "skipped"
	OutcomeFlagged   = "flagged"
)

// DomainMetrics counts order, payment, lock and notification outcomes. A nil
// *DomainMetrics is a valid no-op recorder.
type DomainMetrics struct {
	transitions   *prometheus.CounterVec
	payments      *prometheus.CounterVec
	locks         *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewDomainMetrics registers the domain counters on reg.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	m := &DomainMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodops_order_transitions_total",
			Help: "Order status transition attempts by outcome.",
		}, []string{"from", "to", "outcome"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodops_payment_attempts_total",
			Help: "Recorded payment attempts by provider status and convergence outcome.",
		}, []string{"status", "outcome"}),
		locks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodops_lock_acquisitions_total",
			Help: "Order edit lock acquisition attempts by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodops_notification_enqueue_total",
			Help: "Notification enqueue requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.transitions, m.payments, m.locks, m.notifications)
	return m
}

func (m *DomainMetrics) OrderTransition(from, to, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), outcome).Inc()
}

func (m *DomainMetrics) PaymentAttempt(status, outcome string) {
	if m == nil || m.payments == nil {
		return
	}
	m.payments.WithLabelValues(normalizeLabel(status), outcome).Inc()
}

func (m *DomainMetrics) LockAcquisition(outcome string) {
	if m == nil || m.locks == nil {
		return
	}
	m.locks.WithLabelValues(outcome).Inc()
}

func (m *DomainMetrics) NotificationEnqueue(outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
