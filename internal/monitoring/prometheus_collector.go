package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes engine metrics to Prometheus. Construct with a
// dedicated registry in tests to avoid duplicate registration.
type Collector struct {
	EnvelopesEnqueued *prometheus.CounterVec
	EnvelopesSent     *prometheus.CounterVec
	EnvelopesDropped  *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	SendDuration      prometheus.Histogram
	AudioChunks       prometheus.Counter
	VideoFrames       prometheus.Counter
	PlaybackChunks    prometheus.Counter
	ConnectionState   prometheus.Gauge
}

// NewCollector registers the engine metrics on the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		EnvelopesEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wearlink_envelopes_enqueued_total",
			Help: "Outbound envelopes accepted into the queue",
		}, []string{"kind"}),

		EnvelopesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wearlink_envelopes_sent_total",
			Help: "Outbound envelopes written to the socket",
		}, []string{"kind"}),

		EnvelopesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wearlink_envelopes_dropped_total",
			Help: "Outbound envelopes discarded before sending",
		}, []string{"reason"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wearlink_queue_depth",
			Help: "Current outbound queue depth",
		}),

		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wearlink_send_duration_seconds",
			Help:    "Per-envelope socket write duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}),

		AudioChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "wearlink_audio_chunks_encoded_total",
			Help: "ADTS-framed audio chunks produced",
		}),

		VideoFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "wearlink_video_frames_encoded_total",
			Help: "Annex-B video access units produced",
		}),

		PlaybackChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "wearlink_playback_chunks_total",
			Help: "Inbound synthesized-audio chunks delivered to playback",
		}),

		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wearlink_connection_state",
			Help: "Session state as an ordinal (0=disconnected .. 6=failed)",
		}),
	}
}
