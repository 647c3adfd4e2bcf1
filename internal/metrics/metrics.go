package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat protocol metrics
var (
	// PacketsReceived counts inbound packets by command name
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chzzk_packets_received_total",
			Help: "Inbound chat packets by command",
		},
		[]string{"command"},
	)

	// ChatEvents counts events forwarded to the playback sink by kind
	ChatEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chzzk_chat_events_total",
			Help: "Chat events forwarded to playback by kind",
		},
		[]string{"kind"},
	)

	// EntriesDropped counts chat entries that produced no event
	EntriesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chzzk_chat_entries_dropped_total",
			Help: "Chat entries skipped by reason",
		},
		[]string{"reason"},
	)

	// Connected is 1 while a handshaked transport is published
	Connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chzzk_connected",
			Help: "Whether the chat transport is connected (1) or not (0)",
		},
	)

	// ReconnectAttempts counts reconnect attempts by result (success/failure/superseded/exhausted)
	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chzzk_reconnect_attempts_total",
			Help: "Reconnect attempts by result",
		},
		[]string{"result"},
	)

	// ChannelRotations counts detected chat-channel id changes
	ChannelRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chzzk_channel_rotations_total",
			Help: "Detected chat channel rotations",
		},
	)

	// HandshakeDuration tracks dial plus handshake latency in seconds
	HandshakeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chzzk_handshake_duration_seconds",
			Help:    "Dial and handshake duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// CircuitBreakerState tracks reconnect breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chzzk_reconnect_breaker_state",
			Help: "Reconnect circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Resolver metrics
var (
	// ResolverRequests counts channel API calls by operation and status
	ResolverRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chzzk_resolver_requests_total",
			Help: "Channel API requests by operation and status",
		},
		[]string{"op", "status"},
	)
)

// Playback metrics
var (
	// PlaybackTotal counts synthesized lines by status (ok/error/dropped)
	PlaybackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tts_playback_total",
			Help: "TTS playback attempts by status",
		},
		[]string{"status"},
	)

	// PlaybackQueueDepth is the number of lines waiting for playback
	PlaybackQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tts_playback_queue_depth",
			Help: "Lines waiting for synthesis and playback",
		},
	)

	// SynthesisDuration tracks TTS synthesis latency in seconds
	SynthesisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tts_synthesis_duration_seconds",
			Help:    "TTS synthesis duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// SetConnected flips the connected gauge.
func SetConnected(ok bool) {
	if ok {
		Connected.Set(1)
		return
	}
	Connected.Set(0)
}
