package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Причины отбрасывания пакетов
const (
	dropInvalid     = "invalid"
	dropForeign     = "foreign_source"
	dropPayloadType = "payload_type"
	dropRateLimited = "rate_limited"
	dropLate        = "late"
)

// Metrics Prometheus метрики конвейеров.
// Нулевой указатель допустим.
type Metrics struct {
	packetsReceived prometheus.Counter
	packetsDropped  *prometheus.CounterVec
	framesPlayed    prometheus.Counter
	streamBytes     prometheus.Counter
	bufferedPackets prometheus.Gauge
	jitter          prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		packetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "raop",
			Subsystem: "pipeline",
			Name:      "packets_received_total",
			Help:      "Total number of valid RTP audio packets received",
		}),
		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raop",
			Subsystem: "pipeline",
			Name:      "packets_dropped_total",
			Help:      "Total number of dropped RTP packets by reason",
		}, []string{"reason"}),
		framesPlayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "raop",
			Subsystem: "pipeline",
			Name:      "frames_played_total",
			Help:      "Total number of audio frames delivered to the sink",
		}),
		streamBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "raop",
			Subsystem: "pipeline",
			Name:      "stream_bytes_total",
			Help:      "Total number of bytes received in TCP stream mode",
		}),
		bufferedPackets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "raop",
			Subsystem: "pipeline",
			Name:      "jitter_buffer_packets",
			Help:      "Number of packets waiting in jitter buffers",
		}),
		jitter: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "raop",
			Subsystem: "pipeline",
			Name:      "interarrival_jitter_seconds",
			Help:      "Last interarrival jitter estimate of the RTP sender (RFC 3550)",
		}),
	}
}

func (m *Metrics) packetReceived() {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
}

func (m *Metrics) packetDropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) framePlayed() {
	if m == nil {
		return
	}
	m.framesPlayed.Inc()
}

func (m *Metrics) streamed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.streamBytes.Add(float64(n))
}

func (m *Metrics) buffered(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.bufferedPackets.Add(float64(delta))
}

func (m *Metrics) sourceJitter(ms float64) {
	if m == nil {
		return
	}
	m.jitter.Set(ms / 1000)
}
