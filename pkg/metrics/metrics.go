// Package metrics exposes the engine's counters, gauges and histograms on a
// prometheus.Registry. Every package that wants a metric takes a *Metrics
// at construction time rather than reaching for global state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the engine records against. Handlers that
// don't care about metrics can be handed nil; they check for it before
// recording.
type Metrics struct {
	Registry *prometheus.Registry

	FramesDecoded     *prometheus.CounterVec // labels: mode
	DecodeQueueDepth  prometheus.Gauge
	EncodeQueueDepth  prometheus.Gauge
	DecodeDuration    *prometheus.HistogramVec // labels: mode
	EncodeDuration    *prometheus.HistogramVec
	SlotsProcessed    *prometheus.CounterVec // labels: mode
	PTTActivations    prometheus.Counter
	RingOverflow      prometheus.Gauge // capture samples overwritten before any reader saw them
	EventBusDrops     *prometheus.CounterVec // labels: topic
	QSOCompletions    prometheus.Counter
	ResourceStartFail *prometheus.CounterVec // labels: resource
}

// New builds a Metrics bound to a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ft8d", Name: "frames_decoded_total", Help: "Decoded frames by mode.",
		}, []string{"mode"}),
		DecodeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ft8d", Name: "decode_queue_depth", Help: "Pending decode jobs.",
		}),
		EncodeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ft8d", Name: "encode_queue_depth", Help: "Pending encode jobs.",
		}),
		DecodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ft8d", Name: "decode_duration_seconds", Help: "Decode job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		EncodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ft8d", Name: "encode_duration_seconds", Help: "Encode job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		SlotsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ft8d", Name: "slots_processed_total", Help: "Slots closed out by mode.",
		}, []string{"mode"}),
		PTTActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ft8d", Name: "ptt_activations_total", Help: "Number of times PTT keyed.",
		}),
		RingOverflow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ft8d", Name: "capture_ring_overflow_samples", Help: "Capture samples dropped to overflow.",
		}),
		EventBusDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ft8d", Name: "eventbus_drops_total", Help: "Dropped publishes by topic.",
		}, []string{"topic"}),
		QSOCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ft8d", Name: "qso_completions_total", Help: "Contacts completed.",
		}),
		ResourceStartFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ft8d", Name: "resource_start_failures_total", Help: "Resource start failures by resource name.",
		}, []string{"resource"}),
	}
	reg.MustRegister(
		m.FramesDecoded, m.DecodeQueueDepth, m.EncodeQueueDepth,
		m.DecodeDuration, m.EncodeDuration, m.SlotsProcessed,
		m.PTTActivations, m.RingOverflow, m.EventBusDrops, m.QSOCompletions, m.ResourceStartFail,
	)
	return m
}
