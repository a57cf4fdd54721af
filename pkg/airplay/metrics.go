package airplay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics Prometheus метрики сессий.
// Нулевой указатель допустим: все методы в этом случае ничего не делают.
type Metrics struct {
	setupsTotal      *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	stateTransitions *prometheus.CounterVec
	pipelineEvents   *prometheus.CounterVec
	bindAttempts     prometheus.Histogram
}

// NewMetrics регистрирует метрики в reg. При reg == nil метрики не регистрируются.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		setupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raop",
			Subsystem: "session",
			Name:      "setups_total",
			Help:      "Total number of session setups by result",
		}, []string{"result"}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "raop",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of sessions with an attached pipeline",
		}),

		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raop",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Total number of player state transitions",
		}, []string{"from_state", "to_state"}),

		pipelineEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raop",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Total number of asynchronous pipeline events by type",
		}, []string{"type"}),

		bindAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raop",
			Subsystem: "session",
			Name:      "port_bind_attempts",
			Help:      "Number of bind attempts needed to allocate the receive port",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, MaxPortAttempts},
		}),
	}
}

func (m *Metrics) setupResult(result string) {
	if m == nil {
		return
	}
	m.setupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) sessionAttached() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionDetached() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) transition(from, to PlayerState) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) pipelineEvent(t PipelineEventType) {
	if m == nil {
		return
	}
	m.pipelineEvents.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) portAttempts(n int) {
	if m == nil {
		return
	}
	m.bindAttempts.Observe(float64(n))
}
