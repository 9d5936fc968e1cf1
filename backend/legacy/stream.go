package legacy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/backend/internal/watch"
	"github.com/drgolem/go-duplexaudio/stream"
)

var errClosed = errors.New("legacy: stream closed")

// Stream is a stream.Stream over a gordonklaus/portaudio stream.
type Stream struct {
	backend      *Backend
	cfg          stream.StreamConfig
	device       *pa.DeviceInfo
	input        bool
	bufferFrames int
	log          zerolog.Logger

	mu      sync.Mutex
	pa      *pa.Stream
	watcher *watch.Watcher
	running bool

	state     atomic.Int32
	callbacks atomic.Uint64
}

func (s *Stream) Direction() stream.Direction { return s.cfg.Direction }
func (s *Stream) ChannelCount() int            { return s.cfg.ChannelCount }
func (s *Stream) SampleRate() int              { return s.cfg.SampleRate }
func (s *Stream) DeviceID() int                { return s.device.Index }
func (s *Stream) FramesPerBurst() int          { return s.backend.burst }
func (s *Stream) BufferSizeInFrames() int      { return s.bufferFrames }

func (s *Stream) State() stream.State {
	return stream.State(s.state.Load())
}

// SetBufferSizeInFrames is not supported by this backend.
func (s *Stream) SetBufferSizeInFrames(int) (int, error) {
	return 0, stream.ErrTuningUnsupported
}

// serve runs on the PortAudio thread for every buffer. Buffers are only
// handed to the controller while the stream is started.
func (s *Stream) serve(buf []float32) {
	s.callbacks.Add(1)
	if s.State() != stream.StateStarted {
		if !s.input {
			clear(buf)
		}
		return
	}
	frames := len(buf) / s.cfg.ChannelCount
	if s.cfg.Callback.OnAudioReady(s, buf, frames) == stream.Stop {
		s.state.CompareAndSwap(int32(stream.StateStarted), int32(stream.StateStopped))
	}
}

// Start starts the stream and arms the stall watchdog.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pa == nil {
		return errClosed
	}
	if s.running {
		// muted after a Stop result; the host stream is still running
		s.state.Store(int32(stream.StateStarted))
		return nil
	}
	s.state.Store(int32(stream.StateStarting))
	if err := s.pa.Start(); err != nil {
		s.state.Store(int32(stream.StateStopped))
		return fmt.Errorf("legacy: start: %w", err)
	}
	s.running = true
	s.state.Store(int32(stream.StateStarted))
	s.watcher = watch.Start(s.backend.poll, watch.Progress(s.callbacks.Load, s.backend.stall), s.lost)
	return nil
}

// Stop stops the host stream.
func (s *Stream) Stop() error {
	s.stopWatcher()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pa == nil {
		return errClosed
	}
	s.state.Store(int32(stream.StateStopping))
	var err error
	if s.running {
		err = s.pa.Stop()
		s.running = false
	}
	s.state.Store(int32(stream.StateStopped))
	if err != nil {
		return fmt.Errorf("legacy: stop: %w", err)
	}
	return nil
}

// Close closes the stream. Closing twice returns an error.
func (s *Stream) Close() error {
	s.stopWatcher()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pa == nil {
		return errClosed
	}
	s.state.Store(int32(stream.StateClosing))
	if s.running {
		_ = s.pa.Stop()
		s.running = false
	}
	err := s.pa.Close()
	s.pa = nil
	s.state.Store(int32(stream.StateClosed))
	if terr := pa.Terminate(); terr != nil {
		s.log.Warn().Err(terr).Msg("terminate")
	}
	if err != nil {
		return fmt.Errorf("legacy: close: %w", err)
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

func (s *Stream) lost(cause error) {
	st := s.State()
	if st != stream.StateStarted && st != stream.StateStopped {
		return
	}
	s.state.Store(int32(stream.StateDisconnected))
	err := stream.ErrDisconnected
	if cause != nil {
		err = fmt.Errorf("%w: %w", stream.ErrDisconnected, cause)
	}
	s.log.Warn().Err(err).Msg("stream stalled")

	s.cfg.Callback.OnErrorBeforeClose(s, err)

	s.mu.Lock()
	s.watcher = nil
	if s.pa != nil {
		_ = s.pa.Abort()
		_ = s.pa.Close()
		s.pa = nil
		s.running = false
		_ = pa.Terminate()
	}
	s.state.Store(int32(stream.StateClosed))
	s.mu.Unlock()

	s.cfg.Callback.OnErrorAfterClose(s, err)
}
