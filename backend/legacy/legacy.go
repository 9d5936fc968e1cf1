// Package legacy is the SubtypeLegacy backend, built on
// github.com/gordonklaus/portaudio.
//
// It predates buffer tuning: SetBufferSizeInFrames always returns
// stream.ErrTuningUnsupported and the stream keeps the latency it was opened
// with. Its callbacks cannot end the stream, so a Stop result mutes the
// stream until the controller stops it. Device loss is detected by a
// watchdog that notices callbacks no longer arriving.
package legacy

import (
	"fmt"
	"time"

	pa "github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/backend/internal/watch"
	"github.com/drgolem/go-duplexaudio/internal/logging"
	"github.com/drgolem/go-duplexaudio/stream"
)

// DefaultFramesPerBurst is the callback size requested from the host.
const DefaultFramesPerBurst = 256

// DefaultStallPolls is the number of watchdog polls without a callback
// after which a started stream counts as lost.
const DefaultStallPolls = 10

// Backend opens gordonklaus/portaudio streams.
type Backend struct {
	log   zerolog.Logger
	burst int
	poll  time.Duration
	stall int
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithFramesPerBurst sets the callback size.
func WithFramesPerBurst(frames int) Option {
	return func(b *Backend) {
		if frames > 0 {
			b.burst = frames
		}
	}
}

// WithWatchdog sets the poll period and the tolerated number of polls
// without callbacks.
func WithWatchdog(poll time.Duration, stallPolls int) Option {
	return func(b *Backend) {
		b.poll = poll
		b.stall = stallPolls
	}
}

// New returns a legacy backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		log:   logging.Component("legacy"),
		burst: DefaultFramesPerBurst,
		poll:  watch.DefaultInterval,
		stall: DefaultStallPolls,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return "legacy" }

// Open opens a stream on the requested device at its default low latency.
func (b *Backend) Open(cfg stream.StreamConfig) (stream.Stream, error) {
	if cfg.Callback == nil {
		return nil, fmt.Errorf("legacy: nil callback")
	}
	if cfg.ChannelCount <= 0 || cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("legacy: invalid format %d ch @ %d Hz", cfg.ChannelCount, cfg.SampleRate)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("legacy: initialize: %w", err)
	}

	input := cfg.Direction == stream.DirectionInput
	dev, err := resolveDevice(cfg.DeviceID, input)
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}

	var params pa.StreamParameters
	if input {
		params = pa.LowLatencyParameters(dev, nil)
		params.Input.Channels = cfg.ChannelCount
	} else {
		params = pa.LowLatencyParameters(nil, dev)
		params.Output.Channels = cfg.ChannelCount
	}
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = b.burst

	s := &Stream{
		backend: b,
		cfg:     cfg,
		device:  dev,
		input:   input,
		log:     b.log.With().Int("device", dev.Index).Str("direction", cfg.Direction.String()).Logger(),
	}

	var ps *pa.Stream
	if input {
		ps, err = pa.OpenStream(params, func(in []float32) { s.serve(in) })
	} else {
		ps, err = pa.OpenStream(params, func(out []float32) { s.serve(out) })
	}
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("legacy: open device %d: %w", dev.Index, err)
	}
	s.pa = ps

	latency := params.Output.Latency
	if input {
		latency = params.Input.Latency
	}
	if info := ps.Info(); info != nil {
		latency = info.OutputLatency
		if input {
			latency = info.InputLatency
		}
	}
	s.bufferFrames = max(durationFrames(latency, cfg.SampleRate), b.burst)
	s.state.Store(int32(stream.StateOpen))

	b.log.Debug().Str("device_name", dev.Name).Int("buffer_frames", s.bufferFrames).Msg("stream opened")
	return s, nil
}

func durationFrames(d time.Duration, rate int) int {
	return int(d.Seconds()*float64(rate) + 0.5)
}

func resolveDevice(id int, input bool) (*pa.DeviceInfo, error) {
	if id == stream.RouteDefault {
		if input {
			return pa.DefaultInputDevice()
		}
		return pa.DefaultOutputDevice()
	}
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("legacy: list devices: %w", err)
	}
	for _, d := range devs {
		if d.Index == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("legacy: no device with index %d", id)
}
