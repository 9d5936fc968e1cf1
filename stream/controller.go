package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// hooks connect the shared lifecycle to the endpoint a role drives.
type hooks struct {
	// initEndpoint runs during setup, before the stream is opened.
	initEndpoint func(numFrames, channelCount int)
	// configure adjusts the stream config before open.
	configure func(cfg *StreamConfig)
	// beforeStart runs under the lock right before the backend start request.
	beforeStart func(bufferFrames, channelCount int)
	// afterStop runs once for every beforeStart, after the stream stops.
	afterStop func()
}

// controller owns one backend stream and serializes its lifecycle.
type controller struct {
	role        string
	direction   Direction
	burstFactor int
	subtype     Subtype
	backends    Backends
	callback    Callback
	hooks       hooks
	opts        options
	log         zerolog.Logger
	rtLog       zerolog.Logger
	counters    callbackCounters

	mu             sync.Mutex
	handle         Stream
	backend        Backend
	channelCount   int
	sampleRate     int
	routeDeviceID  int
	bufferFrames   int
	endpointActive bool
	started        atomic.Bool
	// stopGen counts explicit stops and teardowns. Recovery scheduled
	// before one of them completes is abandoned.
	stopGen atomic.Uint64

	recMu         sync.Mutex
	recCancel     context.CancelFunc
	recGeneration uint64
	recWG         sync.WaitGroup

	lastErr atomic.Pointer[error]
}

func (c *controller) initController(role string, dir Direction, burstFactor int, subtype Subtype, backends Backends, cb Callback, h hooks, opts []Option) {
	o := defaultOptions(role)
	for _, opt := range opts {
		opt(&o)
	}
	c.role = role
	c.direction = dir
	c.burstFactor = burstFactor
	c.subtype = subtype
	c.backends = backends
	c.callback = cb
	c.hooks = h
	c.opts = o
	c.log = o.logger.With().Str("role", role).Str("subtype", subtype.String()).Logger()
	c.rtLog = c.log.Sample(&zerolog.BasicSampler{N: 64})
	c.counters = newCallbackCounters(role)
	c.routeDeviceID = RouteDefault
}

// SetupStream opens the stream. It returns false without side effects when a
// stream is already open, and false when the subtype is unknown or the
// backend cannot open the stream.
func (c *controller) SetupStream(channelCount, sampleRate, routeDeviceID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setupLocked(channelCount, sampleRate, routeDeviceID); err != nil {
		c.fail(err, "setup stream failed")
		return false
	}
	return true
}

// StartStream starts an open stream. A start failure tears the stream down.
func (c *controller) StartStream() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.startLocked(); err != nil {
		c.fail(err, "start stream failed")
		return false
	}
	return true
}

// StopStream stops the stream if one is open and cancels pending recovery.
// It reports false only when the backend rejects the stop request.
func (c *controller) StopStream() bool {
	c.cancelRecovery()

	c.mu.Lock()
	defer c.mu.Unlock()

	defer c.endRecoveryWindow()
	if err := c.stopLocked(); err != nil {
		c.fail(err, "stop stream failed")
		return false
	}
	return true
}

// TeardownStream stops and closes the stream. Calling it with no open
// stream is a no-op.
func (c *controller) TeardownStream() {
	c.cancelRecovery()

	c.mu.Lock()
	defer c.mu.Unlock()

	defer c.endRecoveryWindow()
	if err := c.teardownLocked(); err != nil {
		c.fail(err, "teardown stream failed")
	}
}

// endRecoveryWindow runs under mu at the end of an explicit stop or
// teardown. A disconnect reported while the backend was stopping may have
// scheduled recovery; bumping stopGen makes that recovery give up.
func (c *controller) endRecoveryWindow() {
	c.stopGen.Add(1)
	c.cancelRecovery()
}

// BufferFrameCount returns the negotiated buffer size, or 0 with no stream.
func (c *controller) BufferFrameCount() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return 0
	}
	return int32(c.bufferFrames)
}

// RoutedDeviceID returns the device the stream was routed to, or
// RouteDefault with no stream.
func (c *controller) RoutedDeviceID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return RouteDefault
	}
	return int32(c.handle.DeviceID())
}

// IsOpen reports whether a stream handle is held.
func (c *controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// IsStarted reports whether the stream has been started and not stopped.
func (c *controller) IsStarted() bool {
	return c.started.Load()
}

// Subtype returns the backend subtype the controller was created with.
func (c *controller) Subtype() Subtype {
	return c.subtype
}

// LastError returns the most recent classified failure, or nil.
func (c *controller) LastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close tears the stream down and waits for any recovery goroutine to exit.
func (c *controller) Close() error {
	c.TeardownStream()
	c.recWG.Wait()
	return nil
}

func (c *controller) setupLocked(channelCount, sampleRate, routeDeviceID int) error {
	if c.handle != nil {
		return ErrAlreadyOpen
	}

	be, err := c.backends.Resolve(c.subtype)
	if err != nil {
		return err
	}

	c.channelCount = channelCount
	c.sampleRate = sampleRate
	c.routeDeviceID = routeDeviceID

	if c.hooks.initEndpoint != nil {
		c.hooks.initEndpoint(c.opts.nominalFrames, channelCount)
	}

	cfg := StreamConfig{
		Direction:       c.direction,
		SharingMode:     SharingExclusive,
		PerformanceMode: PerformanceLowLatency,
		ChannelCount:    channelCount,
		SampleRate:      sampleRate,
		DeviceID:        RouteDefault,
		Callback:        c.callback,
	}
	if routeDeviceID != RouteDefault {
		cfg.DeviceID = routeDeviceID
	}
	if c.hooks.configure != nil {
		c.hooks.configure(&cfg)
	}

	s, err := be.Open(cfg)
	if err != nil {
		streamOpensTotal.WithLabelValues(c.role, be.Name(), "failure").Inc()
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	streamOpensTotal.WithLabelValues(c.role, be.Name(), "success").Inc()

	c.handle = s
	c.backend = be

	burst := s.FramesPerBurst()
	if burst > 0 {
		want := burst * c.burstFactor
		if got, err := s.SetBufferSizeInFrames(want); err != nil {
			streamTuningFailuresTotal.WithLabelValues(c.role, be.Name()).Inc()
			c.log.Warn().Err(err).Int("burst", burst).Int("requested", want).
				Msg("buffer size negotiation failed, keeping platform default")
		} else if got != want {
			c.log.Debug().Int("requested", want).Int("applied", got).Msg("buffer size adjusted by backend")
		}
	}
	c.bufferFrames = s.BufferSizeInFrames()
	streamBufferFrames.WithLabelValues(c.role).Set(float64(c.bufferFrames))

	c.log.Info().
		Str("backend", be.Name()).
		Int("channels", channelCount).
		Int("sample_rate", sampleRate).
		Int("device", s.DeviceID()).
		Int("burst", burst).
		Int("buffer_frames", c.bufferFrames).
		Msg("stream opened")
	return nil
}

func (c *controller) startLocked() error {
	c.applyWorkarounds()

	if c.handle == nil {
		return ErrNotOpen
	}
	if c.started.Load() {
		switch c.handle.State() {
		case StateStarting, StateStarted:
			return nil
		}
		// The stream stopped itself, e.g. on a Stop callback result.
		c.releaseEndpoint()
		c.markStopped()
	}

	if c.hooks.beforeStart != nil {
		c.hooks.beforeStart(c.bufferFrames, c.channelCount)
		c.endpointActive = true
	}

	if err := c.handle.Start(); err != nil {
		streamStartFailuresTotal.WithLabelValues(c.role, c.backend.Name()).Inc()
		if terr := c.teardownLocked(); terr != nil {
			return fmt.Errorf("%w: %w", ErrStartFailed, errors.Join(err, terr))
		}
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	if !c.started.Swap(true) {
		streamsStarted.WithLabelValues(c.role).Inc()
	}
	c.log.Debug().Msg("stream started")
	return nil
}

func (c *controller) stopLocked() error {
	var err error
	if c.handle != nil {
		err = c.handle.Stop()
		c.releaseEndpoint()
	}
	c.markStopped()
	return err
}

func (c *controller) teardownLocked() error {
	if c.handle == nil {
		c.markStopped()
		return nil
	}

	var errs []error
	if err := c.handle.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	c.releaseEndpoint()
	if err := c.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	c.handle = nil
	c.bufferFrames = 0
	c.markStopped()
	c.log.Debug().Msg("stream closed")
	return errors.Join(errs...)
}

func (c *controller) releaseEndpoint() {
	if c.endpointActive && c.hooks.afterStop != nil {
		c.hooks.afterStop()
	}
	c.endpointActive = false
}

func (c *controller) markStopped() {
	if c.started.Swap(false) {
		streamsStarted.WithLabelValues(c.role).Dec()
	}
}

func (c *controller) applyWorkarounds() {
	be := c.backend
	if be == nil {
		be, _ = c.backends.Resolve(c.subtype)
	}
	if ws, ok := be.(WorkaroundSetter); ok {
		ws.SetWorkaroundsEnabled(!c.opts.disableWorkarounds)
	}
}

func (c *controller) fail(err error, msg string) {
	c.lastErr.Store(&err)
	switch {
	case errors.Is(err, ErrAlreadyOpen), errors.Is(err, ErrNotOpen):
		c.log.Debug().Err(err).Msg(msg)
	default:
		c.log.Error().Err(err).Msg(msg)
	}
}

// checkState logs a stream that is serving callbacks from an unexpected
// state. It runs on the real-time thread.
func (c *controller) checkState(s Stream) {
	switch st := s.State(); st {
	case StateOpen, StateStarting, StateStarted:
	default:
		c.rtLog.Warn().Stringer("state", st).Msg("callback on stream in unexpected state")
	}
}

func (c *controller) onErrorBeforeClose(err error) {
	c.log.Warn().Err(err).Msg("stream error before close")
}

// scheduleRecovery starts a recovery goroutine unless one is running. It
// never takes the control mutex, so it is safe to call from backend threads
// that a control operation may be waiting on.
func (c *controller) scheduleRecovery() {
	policy := c.opts.retry
	if !policy.Enabled() {
		c.log.Info().Msg("automatic recovery disabled")
		return
	}

	c.recMu.Lock()
	defer c.recMu.Unlock()
	if c.recCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.recCancel = cancel
	c.recGeneration++
	gen := c.recGeneration
	stopGen := c.stopGen.Load()

	c.recWG.Add(1)
	go func() {
		defer c.recWG.Done()
		defer c.finishRecovery(gen)
		c.recover(ctx, policy, stopGen)
	}()
}

func (c *controller) cancelRecovery() {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if c.recCancel != nil {
		c.recCancel()
		c.recCancel = nil
	}
}

func (c *controller) finishRecovery(gen uint64) {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if c.recGeneration == gen && c.recCancel != nil {
		c.recCancel()
		c.recCancel = nil
	}
}

func (c *controller) recover(ctx context.Context, policy RetryPolicy, stopGen uint64) {
	for attempt := 1; policy.Allows(attempt); attempt++ {
		if delay := policy.Delay(attempt); delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		} else if ctx.Err() != nil {
			return
		}

		done, err := c.recoverOnce(ctx, stopGen)
		if done {
			return
		}
		streamRecoveriesTotal.WithLabelValues(c.role, "failure").Inc()
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("stream recovery attempt failed")
	}

	err := fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, policy.MaxAttempts)
	c.fail(err, "giving up on stream recovery")
}

// recoverOnce reopens and restarts the stream with the configuration of the
// last setup. It reports done when recovery succeeded or was cancelled,
// including by a stop or teardown that ran since the disconnect.
func (c *controller) recoverOnce(ctx context.Context, stopGen uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil || c.stopGen.Load() != stopGen {
		return true, nil
	}

	if err := c.teardownLocked(); err != nil {
		c.log.Debug().Err(err).Msg("closing stale stream")
	}
	if err := c.setupLocked(c.channelCount, c.sampleRate, c.routeDeviceID); err != nil {
		return false, err
	}
	if err := c.startLocked(); err != nil {
		return false, err
	}
	streamRecoveriesTotal.WithLabelValues(c.role, "success").Inc()
	c.log.Info().Msg("stream recovered")
	return true, nil
}
