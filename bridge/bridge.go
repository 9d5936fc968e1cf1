// Package bridge exposes players and recorders through integer handles.
//
// It is the boundary a foreign caller drives: every operation takes a
// handle, returns a bool or an integer, and never returns an error or
// panics. Endpoints are registered first and controllers are allocated
// against them; an endpoint handle holding a source allocates a Player and
// one holding a sink allocates a Recorder. Failures are logged and recorded
// on the controller, where LastError exposes them to Go callers.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/internal/logging"
	"github.com/drgolem/go-duplexaudio/stream"
)

// Handle identifies an endpoint or a controller. Zero is never valid.
type Handle int64

// Invalid is returned when an allocation or registration fails.
const Invalid Handle = 0

var (
	bridgeHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duplexaudio_bridge_handles",
			Help: "Number of live bridge handles by kind",
		},
		[]string{"kind"},
	)

	bridgeRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_bridge_rejected_calls_total",
			Help: "Total number of bridge calls rejected for an unknown handle or an endpoint in use",
		},
		[]string{"op"},
	)
)

// controller is the surface Player and Recorder share.
type controller interface {
	SetupStream(channelCount, sampleRate, routeDeviceID int) bool
	StartStream() bool
	StopStream() bool
	TeardownStream()
	BufferFrameCount() int32
	RoutedDeviceID() int32
	IsOpen() bool
	IsStarted() bool
	Subtype() stream.Subtype
	LastError() error
	Close() error
}

type endpoint struct {
	source stream.AudioSource
	sink   stream.AudioSink
	users  int
}

type entry struct {
	ctl      controller
	recorder *stream.Recorder // nil for players
	endpoint Handle
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithStreamOptions sets the options every allocated controller gets.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(b *Bridge) { b.streamOpts = append(b.streamOpts, opts...) }
}

// Bridge owns the handle tables. It is safe for concurrent use; calls on
// one controller are serialized by the controller itself.
type Bridge struct {
	log        zerolog.Logger
	backends   stream.Backends
	streamOpts []stream.Option

	mu          sync.Mutex
	next        Handle
	endpoints   map[Handle]*endpoint
	controllers map[Handle]*entry
}

// New returns a bridge allocating controllers on backends.
func New(backends stream.Backends, opts ...Option) *Bridge {
	b := &Bridge{
		log:         logging.Component("bridge"),
		backends:    backends,
		endpoints:   make(map[Handle]*endpoint),
		controllers: make(map[Handle]*entry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) newHandleLocked() Handle {
	b.next++
	return b.next
}

// RegisterSource registers a playback source and returns its handle.
func (b *Bridge) RegisterSource(src stream.AudioSource) Handle {
	if src == nil {
		b.log.Warn().Msg("register source: nil source")
		return Invalid
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.newHandleLocked()
	b.endpoints[h] = &endpoint{source: src}
	bridgeHandles.WithLabelValues("source").Inc()
	return h
}

// RegisterSink registers a capture sink and returns its handle.
func (b *Bridge) RegisterSink(sink stream.AudioSink) Handle {
	if sink == nil {
		b.log.Warn().Msg("register sink: nil sink")
		return Invalid
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.newHandleLocked()
	b.endpoints[h] = &endpoint{sink: sink}
	bridgeHandles.WithLabelValues("sink").Inc()
	return h
}

// UnregisterEndpoint drops an endpoint no controller uses and closes it
// when it is an io.Closer. It fails while a controller holds the endpoint.
func (b *Bridge) UnregisterEndpoint(h Handle) bool {
	b.mu.Lock()
	ep, ok := b.endpoints[h]
	if !ok {
		b.mu.Unlock()
		b.reject("unregister_endpoint", h)
		return false
	}
	if ep.users > 0 {
		b.mu.Unlock()
		b.log.Warn().Int64("handle", int64(h)).Int("users", ep.users).Msg("endpoint still in use")
		return false
	}
	delete(b.endpoints, h)
	b.mu.Unlock()

	var closer io.Closer
	if ep.source != nil {
		bridgeHandles.WithLabelValues("source").Dec()
		closer, _ = ep.source.(io.Closer)
	} else {
		bridgeHandles.WithLabelValues("sink").Dec()
		closer, _ = ep.sink.(io.Closer)
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			b.log.Error().Err(err).Int64("handle", int64(h)).Msg("close endpoint")
			return false
		}
	}
	return true
}

// Allocate creates a controller for the endpoint behind endpointHandle.
// The subtype is checked at setup, so an unrecognized value allocates a
// controller whose setup fails. An endpoint serves one controller at a
// time, since sources and sinks are called from a single real-time thread;
// allocating against an endpoint in use returns Invalid until the other
// controller is released.
func (b *Bridge) Allocate(endpointHandle Handle, subtype int32) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, ok := b.endpoints[endpointHandle]
	if !ok {
		b.reject("allocate", endpointHandle)
		return Invalid
	}
	if ep.users > 0 {
		bridgeRejectedTotal.WithLabelValues("allocate").Inc()
		b.log.Warn().Int64("endpoint", int64(endpointHandle)).Msg("endpoint already has a controller")
		return Invalid
	}

	st := stream.Subtype(subtype)
	e := &entry{endpoint: endpointHandle}
	kind := "player"
	if ep.source != nil {
		e.ctl = stream.NewPlayer(ep.source, st, b.backends, b.streamOpts...)
	} else {
		r := stream.NewRecorder(ep.sink, st, b.backends, b.streamOpts...)
		e.ctl, e.recorder = r, r
		kind = "recorder"
	}
	ep.users++

	h := b.newHandleLocked()
	b.controllers[h] = e
	bridgeHandles.WithLabelValues(kind).Inc()
	b.log.Debug().Int64("handle", int64(h)).Str("kind", kind).Int32("subtype", subtype).Msg("allocated")
	return h
}

func (b *Bridge) lookup(op string, h Handle) *entry {
	b.mu.Lock()
	e := b.controllers[h]
	b.mu.Unlock()
	if e == nil {
		b.reject(op, h)
	}
	return e
}

// reject does not take mu.
func (b *Bridge) reject(op string, h Handle) {
	bridgeRejectedTotal.WithLabelValues(op).Inc()
	b.log.Warn().Str("op", op).Int64("handle", int64(h)).Msg("unknown handle")
}

// SetupStream opens the controller's stream.
func (b *Bridge) SetupStream(h Handle, channelCount, sampleRate, routeDeviceID int32) bool {
	e := b.lookup("setup", h)
	if e == nil {
		return false
	}
	return e.ctl.SetupStream(int(channelCount), int(sampleRate), int(routeDeviceID))
}

// StartStream starts the controller's stream.
func (b *Bridge) StartStream(h Handle) bool {
	e := b.lookup("start", h)
	if e == nil {
		return false
	}
	return e.ctl.StartStream()
}

// StopStream stops the controller's stream. It reports false for an
// unknown handle or a failed stop request.
func (b *Bridge) StopStream(h Handle) bool {
	e := b.lookup("stop", h)
	if e == nil {
		return false
	}
	return e.ctl.StopStream()
}

// TeardownStream closes the controller's stream.
func (b *Bridge) TeardownStream(h Handle) bool {
	e := b.lookup("teardown", h)
	if e == nil {
		return false
	}
	e.ctl.TeardownStream()
	return true
}

// GetBufferFrameCount returns the negotiated buffer size, 0 for an unknown
// handle or no stream.
func (b *Bridge) GetBufferFrameCount(h Handle) int32 {
	e := b.lookup("buffer_frames", h)
	if e == nil {
		return 0
	}
	return e.ctl.BufferFrameCount()
}

// GetRoutedDeviceID returns the routed device, stream.RouteDefault for an
// unknown handle or no stream.
func (b *Bridge) GetRoutedDeviceID(h Handle) int32 {
	e := b.lookup("device_id", h)
	if e == nil {
		return stream.RouteDefault
	}
	return e.ctl.RoutedDeviceID()
}

// SetInputPreset sets the capture preset for the next setup. It fails for
// players.
func (b *Bridge) SetInputPreset(h Handle, preset int32) bool {
	e := b.lookup("input_preset", h)
	if e == nil {
		return false
	}
	if e.recorder == nil {
		b.log.Warn().Int64("handle", int64(h)).Msg("input preset on a player")
		return false
	}
	e.recorder.SetInputPreset(stream.InputPreset(preset))
	return true
}

// IsRecording reports whether a recorder's stream is started. It is false
// for players and unknown handles.
func (b *Bridge) IsRecording(h Handle) bool {
	e := b.lookup("is_recording", h)
	if e == nil || e.recorder == nil {
		return false
	}
	return e.recorder.IsRecording()
}

// Release tears the controller down and frees its handle. The endpoint
// stays registered.
func (b *Bridge) Release(h Handle) bool {
	b.mu.Lock()
	e, ok := b.controllers[h]
	if ok {
		delete(b.controllers, h)
		if ep := b.endpoints[e.endpoint]; ep != nil {
			ep.users--
		}
	}
	b.mu.Unlock()
	if !ok {
		b.reject("release", h)
		return false
	}

	kind := "player"
	if e.recorder != nil {
		kind = "recorder"
	}
	bridgeHandles.WithLabelValues(kind).Dec()
	if err := e.ctl.Close(); err != nil {
		b.log.Error().Err(err).Int64("handle", int64(h)).Msg("release")
	}
	return true
}

// Status is a snapshot of one controller.
type Status struct {
	Handle       Handle `json:"handle"`
	Endpoint     Handle `json:"endpoint"`
	Role         string `json:"role"`
	Subtype      string `json:"subtype"`
	Open         bool   `json:"open"`
	Started      bool   `json:"started"`
	BufferFrames int32  `json:"buffer_frames"`
	DeviceID     int32  `json:"device_id"`
	InputPreset  string `json:"input_preset,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// ErrUnknownHandle is returned by Go-side helpers that report errors.
var ErrUnknownHandle = errors.New("unknown handle")

// Status returns a snapshot of the controller behind h.
func (b *Bridge) Status(h Handle) (Status, error) {
	b.mu.Lock()
	e := b.controllers[h]
	b.mu.Unlock()
	if e == nil {
		return Status{}, ErrUnknownHandle
	}
	return b.status(h, e), nil
}

func (b *Bridge) status(h Handle, e *entry) Status {
	s := Status{
		Handle:       h,
		Endpoint:     e.endpoint,
		Role:         "player",
		Subtype:      e.ctl.Subtype().String(),
		Open:         e.ctl.IsOpen(),
		Started:      e.ctl.IsStarted(),
		BufferFrames: e.ctl.BufferFrameCount(),
		DeviceID:     e.ctl.RoutedDeviceID(),
	}
	if e.recorder != nil {
		s.Role = "recorder"
		s.InputPreset = e.recorder.InputPreset().String()
	}
	if err := e.ctl.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

// List returns snapshots of every controller ordered by handle.
func (b *Bridge) List() []Status {
	b.mu.Lock()
	handles := make([]Handle, 0, len(b.controllers))
	entries := make(map[Handle]*entry, len(b.controllers))
	for h, e := range b.controllers {
		handles = append(handles, h)
		entries[h] = e
	}
	b.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	out := make([]Status, 0, len(handles))
	for _, h := range handles {
		out = append(out, b.status(h, entries[h]))
	}
	return out
}

// Close releases every controller, then every endpoint.
func (b *Bridge) Close() error {
	b.mu.Lock()
	ctls := make([]Handle, 0, len(b.controllers))
	for h := range b.controllers {
		ctls = append(ctls, h)
	}
	eps := make([]Handle, 0, len(b.endpoints))
	for h := range b.endpoints {
		eps = append(eps, h)
	}
	b.mu.Unlock()

	for _, h := range ctls {
		b.Release(h)
	}
	var errs []error
	for _, h := range eps {
		if !b.UnregisterEndpoint(h) {
			errs = append(errs, fmt.Errorf("endpoint %d: close failed", h))
		}
	}
	return errors.Join(errs...)
}
