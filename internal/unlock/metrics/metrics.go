package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the unlock gate.
type Metrics struct {
	// Unlock attempts by decision and rule
	Attempts *prometheus.CounterVec

	// Payload releases
	Releases prometheus.Counter

	// Failsafe notices sent
	FailsafeNotices prometheus.Counter
}

// New creates a new Metrics instance with all unlock metrics registered.
func New() *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_unlock_attempts_total",
			Help: "Total unlock attempts by decision and satisfied rule",
		}, []string{"decision", "rule"}), // decision: "granted", "denied", "already_unlocked"

		Releases: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_unlock_releases_total",
			Help: "Total payload releases",
		}),

		FailsafeNotices: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_unlock_failsafe_notices_total",
			Help: "Total failsafe escalation notices sent",
		}),
	}
}

// IncrementAttempt records an unlock attempt outcome.
func (m *Metrics) IncrementAttempt(decision, rule string) {
	if m != nil {
		m.Attempts.WithLabelValues(decision, rule).Inc()
	}
}

// IncrementRelease records a payload release.
func (m *Metrics) IncrementRelease() {
	if m != nil {
		m.Releases.Inc()
	}
}

// IncrementFailsafe records a failsafe notice.
func (m *Metrics) IncrementFailsafe() {
	if m != nil {
		m.FailsafeNotices.Inc()
	}
}
