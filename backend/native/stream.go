package native

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/backend/internal/watch"
	"github.com/drgolem/go-duplexaudio/portaudio"
	"github.com/drgolem/go-duplexaudio/stream"
)

// Stream is a stream.Stream over a portaudio callback stream.
type Stream struct {
	backend *Backend
	cfg     stream.StreamConfig
	device  *portaudio.DeviceInfo
	input   bool
	burst   int
	flags   portaudio.StreamFlags
	log     zerolog.Logger

	// mu guards pa and watcher. It is never held while waiting on the
	// watcher goroutine.
	mu       sync.Mutex
	pa       *portaudio.Stream
	watcher  *watch.Watcher
	released bool

	state        atomic.Int32
	bufferFrames atomic.Int64
	callbacks    atomic.Uint64
	xruns        atomic.Uint64
}

func (s *Stream) Direction() stream.Direction { return s.cfg.Direction }
func (s *Stream) ChannelCount() int            { return s.cfg.ChannelCount }
func (s *Stream) SampleRate() int              { return s.cfg.SampleRate }
func (s *Stream) DeviceID() int                { return s.device.Index }
func (s *Stream) FramesPerBurst() int          { return s.burst }
func (s *Stream) BufferSizeInFrames() int      { return int(s.bufferFrames.Load()) }

func (s *Stream) State() stream.State {
	return stream.State(s.state.Load())
}

// Xruns returns the number of callbacks that reported an under/overflow.
func (s *Stream) Xruns() uint64 { return s.xruns.Load() }

// open opens the underlying stream at latency. Callers hold mu or own s
// exclusively.
func (s *Stream) open(latency portaudio.Time) error {
	sp := &portaudio.StreamParameters{
		Device:           s.device.Index,
		Channels:         s.cfg.ChannelCount,
		SuggestedLatency: latency,
	}
	p := portaudio.OpenParams{
		SampleRate:      float64(s.cfg.SampleRate),
		FramesPerBuffer: s.burst,
		Flags:           s.flags,
	}
	if s.input {
		p.Input = sp
	} else {
		p.Output = sp
	}

	pa, err := portaudio.OpenStream(p, s.onAudio)
	if err != nil {
		return fmt.Errorf("native: open device %d: %w", s.device.Index, err)
	}
	info, err := pa.Info()
	if err != nil {
		_ = pa.Close()
		return fmt.Errorf("native: stream info: %w", err)
	}
	got := info.OutputLatency
	if s.input {
		got = info.InputLatency
	}
	s.pa = pa
	s.bufferFrames.Store(int64(max(got.Frames(info.SampleRate), s.burst)))
	return nil
}

func (s *Stream) onAudio(in, out []float32, frames int, flags portaudio.CallbackFlags) portaudio.CallbackResult {
	if flags.Xrun() {
		s.xruns.Add(1)
	}
	buf := out
	if s.input {
		buf = in
	}
	res := s.cfg.Callback.OnAudioReady(s, buf, frames)
	s.callbacks.Add(1)
	if res == stream.Stop {
		s.state.CompareAndSwap(int32(stream.StateStarted), int32(stream.StateStopping))
		return portaudio.Complete
	}
	return portaudio.Continue
}

// SetBufferSizeInFrames reopens the stream with a suggested latency of
// frames. The stream must not be started.
func (s *Stream) SetBufferSizeInFrames(frames int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pa == nil {
		return 0, portaudio.ErrStreamClosed
	}
	if st := s.State(); st == stream.StateStarted || st == stream.StateStarting {
		return 0, fmt.Errorf("native: cannot resize a %s stream", st)
	}

	frames = max(frames, s.burst)
	if err := s.pa.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing stream for resize")
	}
	s.pa = nil
	if err := s.open(portaudio.TimeForFrames(frames, float64(s.cfg.SampleRate))); err != nil {
		if rerr := s.open(0); rerr != nil {
			s.state.Store(int32(stream.StateClosed))
			s.releaseLocked()
			return 0, errors.Join(err, rerr)
		}
		return 0, err
	}
	return s.BufferSizeInFrames(), nil
}

// Start starts callbacks and arms the disconnect watchdog.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pa == nil {
		return portaudio.ErrStreamClosed
	}
	// A stream that completed from its callback must be stopped before it
	// can start again.
	if stopped, err := s.pa.IsStopped(); err == nil && !stopped {
		if err := s.pa.Stop(); err != nil {
			return fmt.Errorf("native: reset completed stream: %w", err)
		}
	}

	s.state.Store(int32(stream.StateStarting))
	if err := s.pa.Start(); err != nil {
		s.state.Store(int32(stream.StateStopped))
		return fmt.Errorf("native: start: %w", err)
	}
	s.state.Store(int32(stream.StateStarted))

	pa := s.pa
	s.watcher = watch.Start(s.backend.poll, func() (bool, error) {
		active, err := pa.IsActive()
		if err != nil {
			return false, err
		}
		// Inactive after a Stop result or a requested stop is not a loss.
		return active || s.State() != stream.StateStarted, nil
	}, s.lost)
	return nil
}

// Stop stops callbacks after queued output plays.
func (s *Stream) Stop() error {
	s.stopWatcher()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pa == nil {
		return portaudio.ErrStreamClosed
	}
	s.state.Store(int32(stream.StateStopping))
	err := s.pa.Stop()
	s.state.Store(int32(stream.StateStopped))
	if err != nil {
		return fmt.Errorf("native: stop: %w", err)
	}
	return nil
}

// Close closes the stream. Closing twice returns an error.
func (s *Stream) Close() error {
	s.stopWatcher()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pa == nil {
		return portaudio.ErrStreamClosed
	}
	s.state.Store(int32(stream.StateClosing))
	err := s.pa.Close()
	s.pa = nil
	s.state.Store(int32(stream.StateClosed))
	s.releaseLocked()
	if err != nil {
		return fmt.Errorf("native: close: %w", err)
	}
	return nil
}

func (s *Stream) stopWatcher() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	w.Stop()
}

// releaseLocked drops the library reference taken at open.
func (s *Stream) releaseLocked() {
	if s.released {
		return
	}
	s.released = true
	if err := portaudio.Terminate(); err != nil {
		s.log.Warn().Err(err).Msg("terminate")
	}
}

// lost runs on the watcher goroutine when a started stream goes inactive.
func (s *Stream) lost(cause error) {
	if !s.state.CompareAndSwap(int32(stream.StateStarted), int32(stream.StateDisconnected)) {
		return
	}
	err := stream.ErrDisconnected
	if cause != nil {
		err = fmt.Errorf("%w: %w", stream.ErrDisconnected, cause)
	}
	s.log.Warn().Err(err).Uint64("callbacks", s.callbacks.Load()).Msg("stream lost")

	s.cfg.Callback.OnErrorBeforeClose(s, err)

	s.mu.Lock()
	s.watcher = nil
	if s.pa != nil {
		_ = s.pa.Abort()
		if cerr := s.pa.Close(); cerr != nil {
			s.log.Debug().Err(cerr).Msg("closing lost stream")
		}
		s.pa = nil
	}
	s.state.Store(int32(stream.StateClosed))
	s.releaseLocked()
	s.mu.Unlock()

	s.cfg.Callback.OnErrorAfterClose(s, err)
}
