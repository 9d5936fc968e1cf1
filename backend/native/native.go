// Package native is the SubtypeNative backend: float32 callback streams on
// the cgo PortAudio binding in this module.
//
// Buffer tuning is supported by reopening the stream with a suggested
// latency equal to the requested frame count. Device loss is detected by a
// watchdog that polls stream activity while the stream is started.
package native

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/backend/internal/watch"
	"github.com/drgolem/go-duplexaudio/internal/logging"
	"github.com/drgolem/go-duplexaudio/portaudio"
	"github.com/drgolem/go-duplexaudio/stream"
)

const (
	minBurst   = 64
	burstAlign = 16
)

// Backend opens streams through the PortAudio binding.
type Backend struct {
	log         zerolog.Logger
	burst       int
	poll        time.Duration
	workarounds atomic.Bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithFramesPerBurst fixes the callback size. By default it is derived from
// the device's low latency.
func WithFramesPerBurst(frames int) Option {
	return func(b *Backend) { b.burst = frames }
}

// WithPollInterval sets the disconnect watchdog period.
func WithPollInterval(d time.Duration) Option {
	return func(b *Backend) { b.poll = d }
}

// New returns a native backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		log:  logging.Component("native"),
		poll: watch.DefaultInterval,
	}
	b.workarounds.Store(true)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return "native" }

// SetWorkaroundsEnabled controls host-side clipping and dithering for
// streams opened afterwards. Disabled streams get raw samples.
func (b *Backend) SetWorkaroundsEnabled(enabled bool) {
	b.workarounds.Store(enabled)
}

func (b *Backend) flags() portaudio.StreamFlags {
	if b.workarounds.Load() {
		return portaudio.NoFlag
	}
	return portaudio.ClipOff | portaudio.DitherOff
}

// Open resolves the device and opens a stream at the device's default
// latency for the performance mode.
func (b *Backend) Open(cfg stream.StreamConfig) (stream.Stream, error) {
	if cfg.Callback == nil {
		return nil, fmt.Errorf("native: nil callback")
	}
	if cfg.ChannelCount <= 0 || cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("native: invalid format %d ch @ %d Hz", cfg.ChannelCount, cfg.SampleRate)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("native: initialize: %w", err)
	}

	input := cfg.Direction == stream.DirectionInput
	dev, err := resolveDevice(cfg.DeviceID, input)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	if maxCh := dev.MaxChannels(input); cfg.ChannelCount > maxCh {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("native: device %d supports %d channels, requested %d", dev.Index, maxCh, cfg.ChannelCount)
	}

	latency := dev.LowLatency(input)
	if cfg.PerformanceMode == stream.PerformancePowerSaving {
		latency = dev.DefaultHighOutputLatency
		if input {
			latency = dev.DefaultHighInputLatency
		}
	}

	s := &Stream{
		backend: b,
		cfg:     cfg,
		device:  dev,
		input:   input,
		burst:   b.burstFor(latency, cfg.SampleRate),
		flags:   b.flags(),
		log:     b.log.With().Int("device", dev.Index).Str("direction", cfg.Direction.String()).Logger(),
	}
	if err := s.open(latency); err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	s.state.Store(int32(stream.StateOpen))

	b.log.Debug().
		Str("device_name", dev.Name).
		Int("burst", s.burst).
		Int("buffer_frames", s.BufferSizeInFrames()).
		Msg("stream opened")
	return s, nil
}

// burstFor picks the callback size: half the device latency, aligned down.
func (b *Backend) burstFor(latency portaudio.Time, rate int) int {
	if b.burst > 0 {
		return b.burst
	}
	n := latency.Frames(float64(rate)) / 2
	n -= n % burstAlign
	return max(n, minBurst)
}

func resolveDevice(id int, input bool) (*portaudio.DeviceInfo, error) {
	if id == stream.RouteDefault {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	dev, err := portaudio.Device(id)
	if err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}
	return dev, nil
}
