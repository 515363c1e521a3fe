// Package metrics exposes the voice session's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chronovoice"

// Metrics holds every collector of one controller, registered on a private
// registry so that tests and embedders never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	// Session lifecycle
	Connects        prometheus.Counter
	ConnectFailures *prometheus.CounterVec
	Cleanups        prometheus.Counter
	State           prometheus.Gauge

	// Capture path
	BlocksSent   prometheus.Counter
	SendFailures prometheus.Counter

	// Playback path
	ChunksEnqueued  prometheus.Counter
	CodecErrors     prometheus.Counter
	Interruptions   prometheus.Counter
	PendingPlayback prometheus.Gauge
	ScheduledAhead  prometheus.Histogram
}

// New creates and registers all collectors. Go runtime and process
// collectors are registered too so /metrics is useful on its own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		Connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of connect attempts",
		}),
		ConnectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Total number of failed sessions by error kind",
		}, []string{"kind"}),
		Cleanups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Total number of session teardowns",
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 error)",
		}),

		BlocksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_blocks_sent_total",
			Help:      "Total number of microphone blocks sent to the live session",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_send_failures_total",
			Help:      "Total number of microphone blocks that failed to send",
		}),

		ChunksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_enqueued_total",
			Help:      "Total number of audio chunks scheduled for playback",
		}),
		CodecErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_codec_errors_total",
			Help:      "Total number of inbound audio parts dropped as undecodable",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interruptions_total",
			Help:      "Total number of server interruptions",
		}),
		PendingPlayback: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_pending",
			Help:      "Current number of started, unfinished playback chunks",
		}),
		ScheduledAhead: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_scheduled_ahead_seconds",
			Help:      "How far ahead of the device clock each chunk was scheduled",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
