package mailbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "zamail"

// Metrics are the coordinator's operation counters.
type Metrics struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	abandoned *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "operations_started_total",
			Help:      "Operations accepted by the coordinator.",
		}, []string{"op"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "operations_completed_total",
			Help:      "Operations finished, by outcome kind.",
		}, []string{"op", "kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "intents_rejected_total",
			Help:      "Intents rejected before starting.",
		}, []string{"op", "kind"}),
		abandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "operations_abandoned_total",
			Help:      "In-flight operations dropped by a reset.",
		}, []string{"op"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "operations_in_flight",
			Help:      "Operations currently in flight.",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of finished operations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.started, m.completed, m.rejected, m.abandoned,
			m.inFlight, m.duration,
		)
	}

	return m
}

// observe records a resource FSM side effect.
func (m *Metrics) observe(event ResourceOutboxEvent) {
	switch e := event.(type) {
	case OperationStarted:
		op := e.Resource.Op.String()
		m.started.WithLabelValues(op).Inc()
		m.inFlight.WithLabelValues(op).Inc()

	case OperationSucceeded:
		m.finish(e.Resource.Op, KindNone, e.Elapsed)

	case OperationFailed:
		m.finish(e.Resource.Op, Classify(e.Err), e.Elapsed)

	case OperationAbandoned:
		op := e.Resource.Op.String()
		m.abandoned.WithLabelValues(op).Inc()
		m.inFlight.WithLabelValues(op).Dec()
	}
}

func (m *Metrics) finish(op Operation, kind ErrorKind,
	elapsed time.Duration) {

	m.completed.WithLabelValues(op.String(), kind.String()).Inc()
	m.inFlight.WithLabelValues(op.String()).Dec()
	m.duration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
}

// reject records an intent refused at the entry test.
func (m *Metrics) reject(op Operation, err error) {
	m.rejected.WithLabelValues(op.String(), Classify(err).String()).Inc()
}
