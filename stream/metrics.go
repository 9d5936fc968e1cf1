package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamOpensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_stream_opens_total",
			Help: "Total number of stream open attempts by result",
		},
		[]string{"role", "backend", "result"},
	)

	streamStartFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_stream_start_failures_total",
			Help: "Total number of stream start failures that forced a teardown",
		},
		[]string{"role", "backend"},
	)

	streamTuningFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_stream_tuning_failures_total",
			Help: "Total number of buffer size negotiations that failed",
		},
		[]string{"role", "backend"},
	)

	streamRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_stream_recoveries_total",
			Help: "Total number of automatic recovery attempts by result",
		},
		[]string{"role", "result"},
	)

	streamsStarted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duplexaudio_streams_started",
			Help: "Number of controllers with a started stream",
		},
		[]string{"role"},
	)

	streamBufferFrames = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duplexaudio_stream_buffer_frames",
			Help: "Most recently negotiated buffer size in frames",
		},
		[]string{"role"},
	)
)

// callbackCounters are bumped on the real-time thread. The prometheus
// counters are resolved once per controller so the callback path does no
// label lookups.
type callbackCounters struct {
	callbacks prometheus.Counter
	frames    prometheus.Counter
	short     prometheus.Counter
}

var (
	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_callbacks_total",
			Help: "Total number of data callbacks served",
		},
		[]string{"role"},
	)

	callbackFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_callback_frames_total",
			Help: "Total number of frames exchanged with sources and sinks",
		},
		[]string{"role"},
	)

	callbackShortPullsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_callback_short_pulls_total",
			Help: "Total number of pulls that returned fewer frames than requested",
		},
		[]string{"role"},
	)
)

func newCallbackCounters(role string) callbackCounters {
	return callbackCounters{
		callbacks: callbacksTotal.WithLabelValues(role),
		frames:    callbackFramesTotal.WithLabelValues(role),
		short:     callbackShortPullsTotal.WithLabelValues(role),
	}
}
