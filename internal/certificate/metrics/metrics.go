package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the certificate module: transition
// counts by outcome, trigger latency, and CA side-effect latency.
type Metrics struct {
	DomainsRegistered prometheus.Counter
	TransitionsTotal  *prometheus.CounterVec
	TriggerDuration   prometheus.Histogram
	CACallDuration    *prometheus.HistogramVec
	SchedulerSweeps   prometheus.Counter
	SchedulerEvents   *prometheus.CounterVec
}

// New creates a Metrics instance with all certificate module metrics
// registered on the default registry.
func New() *Metrics {
	return &Metrics{
		DomainsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certfsm_domains_registered_total",
			Help: "Total number of domains registered",
		}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certfsm_transitions_total",
			Help: "Transition attempts by event and outcome",
		}, []string{"event", "outcome"}),
		TriggerDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "certfsm_trigger_duration_seconds",
			Help:    "Duration of Trigger operations including CA side effects",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		CACallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certfsm_ca_call_duration_seconds",
			Help:    "Duration of certificate authority calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		SchedulerSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certfsm_scheduler_sweeps_total",
			Help: "Completed lifecycle scheduler sweeps",
		}),
		SchedulerEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certfsm_scheduler_events_total",
			Help: "Events emitted by the lifecycle scheduler by reason",
		}, []string{"reason"}),
	}
}

// IncrementDomainsRegistered records a successful domain registration.
func (m *Metrics) IncrementDomainsRegistered() {
	m.DomainsRegistered.Inc()
}

// IncrementTransition records one transition attempt.
func (m *Metrics) IncrementTransition(event, outcome string) {
	m.TransitionsTotal.WithLabelValues(event, outcome).Inc()
}

// ObserveTrigger records the duration of a Trigger operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveTrigger(start time.Time) {
	m.TriggerDuration.Observe(time.Since(start).Seconds())
}

// ObserveCACall records the duration of one certificate authority call.
func (m *Metrics) ObserveCACall(operation string, start time.Time) {
	m.CACallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncrementSchedulerSweep records one completed sweep.
func (m *Metrics) IncrementSchedulerSweep() {
	m.SchedulerSweeps.Inc()
}

// IncrementSchedulerEvent records one scheduler-emitted event.
func (m *Metrics) IncrementSchedulerEvent(reason string) {
	m.SchedulerEvents.WithLabelValues(reason).Inc()
}
