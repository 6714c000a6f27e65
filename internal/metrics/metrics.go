// Package metrics exposes Prometheus instrumentation for the calling core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared across live conversations.
type Metrics struct {
	ActiveCalls prometheus.Gauge
	CallsPlaced prometheus.Counter
	CallsEnded  *prometheus.CounterVec

	FramesForwarded *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	BargeIns        prometheus.Counter
	TranscriptTurns *prometheus.CounterVec

	CallDuration prometheus.Histogram
}

// New registers all collectors against the given registerer. Pass a fresh
// prometheus.NewRegistry in tests to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callbridge_active_calls",
			Help: "Current number of live conversation sessions",
		}),
		CallsPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_calls_placed_total",
			Help: "Total number of outbound calls placed with the provider",
		}),
		CallsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_calls_ended_total",
			Help: "Total number of conversation sessions ended, by final status",
		}, []string{"status"}),
		FramesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_audio_frames_forwarded_total",
			Help: "Total audio frames forwarded across the bridge, by direction",
		}, []string{"direction"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_audio_frames_dropped_total",
			Help: "Total audio frames dropped (decode failures, stale utterances)",
		}, []string{"direction"}),
		BargeIns: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_barge_ins_total",
			Help: "Total caller interruptions of AI speech",
		}),
		TranscriptTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_transcript_turns_total",
			Help: "Total transcript turns relayed, by speaker",
		}, []string{"speaker"}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callbridge_call_duration_seconds",
			Help:    "Duration of conversation sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 9), // 5s to ~21 minutes
		}),
	}
}

// Directions for the frame counters.
const (
	DirectionToModel     = "to_model"
	DirectionToTelephony = "to_telephony"
)
