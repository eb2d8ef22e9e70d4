package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the escalation scheduler.
type Metrics struct {
	// Scan cycle duration
	ScanLatency prometheus.Histogram

	// Principals inspected per scan
	PrincipalsScanned prometheus.Counter

	// Notification sends by template and outcome
	Sends *prometheus.CounterVec

	// Escalation batches suppressed by the dedup window
	Deduplicated prometheus.Counter

	// Verification requests opened by the scheduler
	VerificationsTriggered prometheus.Counter
}

// New creates a new Metrics instance with all scheduler metrics registered.
func New() *Metrics {
	return &Metrics{
		ScanLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_escalation_scan_duration_seconds",
			Help:    "Duration of one full escalation scan cycle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		PrincipalsScanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_escalation_principals_scanned_total",
			Help: "Total principals inspected across scan cycles",
		}),

		Sends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_escalation_sends_total",
			Help: "Total notification sends by template and outcome",
		}, []string{"template", "outcome"}), // outcome: "delivered", "failed"

		Deduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_escalation_deduplicated_total",
			Help: "Total escalation batches suppressed by the dedup window",
		}),

		VerificationsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_escalation_verifications_triggered_total",
			Help: "Total verification requests opened by the scheduler",
		}),
	}
}

// ObserveScan records a scan cycle duration.
func (m *Metrics) ObserveScan(d time.Duration) {
	if m != nil {
		m.ScanLatency.Observe(d.Seconds())
	}
}

// AddScanned records inspected principals.
func (m *Metrics) AddScanned(n int) {
	if m != nil {
		m.PrincipalsScanned.Add(float64(n))
	}
}

// IncrementSend records one notification send outcome.
func (m *Metrics) IncrementSend(template, outcome string) {
	if m != nil {
		m.Sends.WithLabelValues(template, outcome).Inc()
	}
}

// IncrementDeduplicated records a suppressed batch.
func (m *Metrics) IncrementDeduplicated() {
	if m != nil {
		m.Deduplicated.Inc()
	}
}

// IncrementTriggered records an opened verification request.
func (m *Metrics) IncrementTriggered() {
	if m != nil {
		m.VerificationsTriggered.Inc()
	}
}
