// Package metrics exposes Prometheus collectors for the voice bridge and the
// HTTP listener that serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_bridge_active_sessions",
		Help: "Number of bridge sessions that are not yet closed",
	})
	ActiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_bridge_active_participants",
		Help: "Number of participant streams across all sessions",
	})
)

// Counters
var (
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_session_transitions_total",
		Help: "Session state transitions by target state",
	}, []string{"state"})
	SessionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_session_errors_total",
		Help: "Sessions terminated by a fault, by kind",
	}, []string{"kind"})
	CaptureFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_capture_frames_total",
		Help: "Decoded capture frames received from the voice transport",
	})
	DroppedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_dropped_bytes_total",
		Help: "PCM bytes discarded by buffer policy, by direction",
	}, []string{"direction"})
	ConversionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_conversion_errors_total",
		Help: "Audio chunks rejected by the converter, by direction",
	}, []string{"direction"})
	AIChunksSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_ai_chunks_sent_total",
		Help: "Mixed audio chunks sent to the AI service",
	})
	AISendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_ai_send_failures_total",
		Help: "Failed sends to the AI service, including retried ones",
	})
	AIChunksReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_ai_chunks_received_total",
		Help: "Audio chunks received from the AI service",
	})
	PlaybackFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_playback_frames_total",
		Help: "Frames handed to the voice transport, by kind (audio|silence)",
	}, []string{"kind"})
	PlaybackUnderflowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_playback_underflows_total",
		Help: "Pacer ticks that found the outbound buffer empty",
	})
	InterruptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_interrupts_total",
		Help: "Barge-in interrupts, by source (user|ai)",
	}, []string{"source"})
	OpusErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_opus_errors_total",
		Help: "Opus codec failures, by operation",
	}, []string{"op"})
)

// Histograms
var (
	AISendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_ai_send_duration_ms",
		Help:    "Time to hand one mixed chunk to the AI connection in milliseconds",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250, 500},
	})
	DrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_drain_duration_ms",
		Help:    "Time spent draining playback on leave in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)
