package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the key registry.
// Tracks operation outcomes, key transitions and the pause/migration gauges.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	KeyTransitions    *prometheus.CounterVec
	Paused            prometheus.Gauge
	Migrated          prometheus.Gauge
}

// New registers the registry metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyregistry_operations_total",
			Help: "Registry operations by name and outcome (ok or error code)",
		}, []string{"operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keyregistry_operation_duration_seconds",
			Help:    "Duration of registry operations including the transaction",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		KeyTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyregistry_key_transitions_total",
			Help: "Committed key state transitions by event type",
		}, []string{"event"}),
		Paused: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keyregistry_paused",
			Help: "1 while the registry is paused",
		}),
		Migrated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keyregistry_migrated",
			Help: "1 once migration has been performed",
		}),
	}
}

// ObserveOperation records the outcome and duration of one operation.
// Call with time.Now() captured at the start of the operation.
func (m *Metrics) ObserveOperation(operation, outcome string, start time.Time) {
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementTransition(event string) {
	m.KeyTransitions.WithLabelValues(event).Inc()
}

func (m *Metrics) SetPaused(paused bool) {
	m.Paused.Set(boolGauge(paused))
}

func (m *Metrics) SetMigrated(migrated bool) {
	m.Migrated.Set(boolGauge(migrated))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
