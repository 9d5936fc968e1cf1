// Package mock provides an in-memory stream backend for tests and runs
// without audio hardware.
//
// Streams are driven either manually with Stream.Tick or by a ticker
// goroutine when the backend is created WithAutoTick. Open, start and
// buffer tuning failures can be injected, and Stream.Disconnect replays the
// error callbacks a platform sends when a device goes away.
package mock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/go-duplexaudio/stream"
)

// DefaultBurst is the burst size streams report unless WithBurst is used.
const DefaultBurst = 192

// DefaultDeviceID is the device streams are routed to when no device is
// requested.
const DefaultDeviceID = 3

// ErrInjected marks failures injected through options and Fail* calls.
var ErrInjected = errors.New("mock: injected failure")

// InputFunc fills an input buffer before each capture callback.
type InputFunc func(buf []float32, numFrames, channelCount int)

// Backend is a stream.Backend whose streams live in memory.
type Backend struct {
	name             string
	burst            int
	capacityBursts   int
	defaultBursts    int
	tuningSupported  bool
	autoTick         time.Duration
	input            InputFunc
	workaroundsState atomic.Bool

	mu             sync.Mutex
	openErr        error
	startErr       error
	failOpenCount  int
	failStartCount int
	streams        []*Stream
}

// Option configures a Backend.
type Option func(*Backend)

// WithName sets the backend name reported to controllers.
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithBurst sets the frames per burst reported by streams.
func WithBurst(frames int) Option {
	return func(b *Backend) { b.burst = frames }
}

// WithDefaultBursts sets the buffer size, in bursts, a stream starts with.
func WithDefaultBursts(n int) Option {
	return func(b *Backend) { b.defaultBursts = n }
}

// WithCapacityBursts caps the buffer size, in bursts.
func WithCapacityBursts(n int) Option {
	return func(b *Backend) { b.capacityBursts = n }
}

// WithTuningUnsupported makes SetBufferSizeInFrames fail.
func WithTuningUnsupported() Option {
	return func(b *Backend) { b.tuningSupported = false }
}

// WithOpenError makes every Open fail with err.
func WithOpenError(err error) Option {
	return func(b *Backend) { b.openErr = err }
}

// WithStartError makes every Start fail with err.
func WithStartError(err error) Option {
	return func(b *Backend) { b.startErr = err }
}

// WithAutoTick drives started streams from a goroutine every period.
func WithAutoTick(period time.Duration) Option {
	return func(b *Backend) { b.autoTick = period }
}

// WithInput sets the generator used to fill capture buffers.
func WithInput(fn InputFunc) Option {
	return func(b *Backend) { b.input = fn }
}

// New returns a mock backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		name:            "mock",
		burst:           DefaultBurst,
		capacityBursts:  8,
		defaultBursts:   4,
		tuningSupported: true,
	}
	b.workaroundsState.Store(true)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return b.name }

// SetWorkaroundsEnabled records the workaround setting applied on start.
func (b *Backend) SetWorkaroundsEnabled(enabled bool) {
	b.workaroundsState.Store(enabled)
}

// WorkaroundsEnabled reports the last workaround setting applied.
func (b *Backend) WorkaroundsEnabled() bool {
	return b.workaroundsState.Load()
}

// FailNextOpen makes the next n opens fail.
func (b *Backend) FailNextOpen(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOpenCount = n
}

// FailNextStart makes the next n starts fail.
func (b *Backend) FailNextStart(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failStartCount = n
}

// Open creates an in-memory stream.
func (b *Backend) Open(cfg stream.StreamConfig) (stream.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openErr != nil {
		return nil, b.openErr
	}
	if b.failOpenCount > 0 {
		b.failOpenCount--
		return nil, fmt.Errorf("%w: open", ErrInjected)
	}
	if cfg.ChannelCount <= 0 || cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("mock: invalid format %d ch @ %d Hz", cfg.ChannelCount, cfg.SampleRate)
	}
	if cfg.Callback == nil {
		return nil, errors.New("mock: callback required")
	}

	device := cfg.DeviceID
	if device == stream.RouteDefault {
		device = DefaultDeviceID
	}

	capacity := b.burst * b.capacityBursts
	s := &Stream{
		backend:  b,
		cfg:      cfg,
		device:   device,
		burst:    b.burst,
		capacity: capacity,
		buf:      make([]float32, capacity*cfg.ChannelCount),
	}
	s.bufferFrames.Store(int64(b.burst * b.defaultBursts))
	s.state.Store(int32(stream.StateOpen))
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *Backend) takeStartFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	if b.failStartCount > 0 {
		b.failStartCount--
		return fmt.Errorf("%w: start", ErrInjected)
	}
	return nil
}

// Streams returns every stream opened so far, oldest first.
func (b *Backend) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Stream(nil), b.streams...)
}

// Last returns the most recently opened stream, or nil.
func (b *Backend) Last() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

// OpenCount returns the number of successful opens.
func (b *Backend) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}
