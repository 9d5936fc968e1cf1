package mock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/go-duplexaudio/stream"
)

// Stream is an in-memory stream.Stream.
type Stream struct {
	backend  *Backend
	cfg      stream.StreamConfig
	device   int
	burst    int
	capacity int

	state        atomic.Int32
	bufferFrames atomic.Int64
	callbacks    atomic.Uint64
	starts       atomic.Uint64

	// tickMu serializes callbacks, as a real engine never overlaps them.
	tickMu sync.Mutex
	buf    []float32
	last   []float32

	loopMu   sync.Mutex
	stopLoop chan struct{}
	loopDone chan struct{}
}

func (s *Stream) Direction() stream.Direction { return s.cfg.Direction }
func (s *Stream) ChannelCount() int            { return s.cfg.ChannelCount }
func (s *Stream) SampleRate() int              { return s.cfg.SampleRate }
func (s *Stream) DeviceID() int                { return s.device }
func (s *Stream) FramesPerBurst() int          { return s.burst }
func (s *Stream) BufferSizeInFrames() int      { return int(s.bufferFrames.Load()) }
func (s *Stream) Config() stream.StreamConfig  { return s.cfg }

func (s *Stream) State() stream.State {
	return stream.State(s.state.Load())
}

// SetState forces the reported state, for diagnostics tests.
func (s *Stream) SetState(st stream.State) {
	s.state.Store(int32(st))
}

// SetBufferSizeInFrames clamps frames to [1, capacity].
func (s *Stream) SetBufferSizeInFrames(frames int) (int, error) {
	if !s.backend.tuningSupported {
		return 0, stream.ErrTuningUnsupported
	}
	if s.isClosed() {
		return 0, fmt.Errorf("mock: stream is %s", s.State())
	}
	frames = max(1, min(frames, s.capacity))
	s.bufferFrames.Store(int64(frames))
	return frames, nil
}

// Start moves the stream to started. Starting a started stream is a no-op.
func (s *Stream) Start() error {
	if s.isClosed() {
		return fmt.Errorf("mock: start on %s stream", s.State())
	}
	if err := s.backend.takeStartFailure(); err != nil {
		return err
	}
	s.state.Store(int32(stream.StateStarted))
	s.starts.Add(1)
	if s.backend.autoTick > 0 {
		s.startLoop(s.backend.autoTick)
	}
	return nil
}

// Stop moves an open or started stream to stopped.
func (s *Stream) Stop() error {
	s.stopDriver()
	if s.isClosed() {
		return fmt.Errorf("mock: stop on %s stream", s.State())
	}
	s.state.Store(int32(stream.StateStopped))
	return nil
}

// Close releases the stream. Closing twice is an error.
func (s *Stream) Close() error {
	s.stopDriver()
	if stream.State(s.state.Swap(int32(stream.StateClosed))) == stream.StateClosed {
		return fmt.Errorf("mock: stream already closed")
	}
	return nil
}

func (s *Stream) isClosed() bool {
	switch s.State() {
	case stream.StateClosed, stream.StateDisconnected:
		return true
	}
	return false
}

// Tick runs one data callback of one burst. It reports false when the stream
// is not started. A Stop result stops the stream, as the engine would.
func (s *Stream) Tick() (stream.CallbackResult, bool) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.State() != stream.StateStarted {
		return stream.Stop, false
	}

	frames := s.burst
	buf := s.buf[:frames*s.cfg.ChannelCount]
	if s.cfg.Direction == stream.DirectionInput {
		if s.backend.input != nil {
			s.backend.input(buf, frames, s.cfg.ChannelCount)
		} else {
			clear(buf)
		}
	}

	res := s.cfg.Callback.OnAudioReady(s, buf, frames)
	s.callbacks.Add(1)

	if s.cfg.Direction == stream.DirectionOutput {
		s.last = append(s.last[:0], buf...)
	}
	if res == stream.Stop {
		s.state.CompareAndSwap(int32(stream.StateStarted), int32(stream.StateStopped))
	}
	return res, true
}

// LastOutput returns a copy of the samples written by the last output
// callback.
func (s *Stream) LastOutput() []float32 {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return append([]float32(nil), s.last...)
}

// Callbacks returns the number of callbacks served.
func (s *Stream) Callbacks() uint64 { return s.callbacks.Load() }

// Starts returns the number of successful starts.
func (s *Stream) Starts() uint64 { return s.starts.Load() }

// Disconnect simulates device loss: the before-close error callback, the
// platform closing the stream, then the after-close error callback.
func (s *Stream) Disconnect(err error) {
	if err == nil {
		err = stream.ErrDisconnected
	}
	s.stopDriver()
	s.state.Store(int32(stream.StateDisconnected))
	s.cfg.Callback.OnErrorBeforeClose(s, err)
	s.state.Store(int32(stream.StateClosed))
	s.cfg.Callback.OnErrorAfterClose(s, err)
}

func (s *Stream) startLoop(period time.Duration) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.stopLoop != nil {
		select {
		case <-s.loopDone:
			// the previous loop ended on a Stop result
		default:
			return
		}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopLoop = stop
	s.loopDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if res, ok := s.Tick(); !ok || res == stream.Stop {
					return
				}
			}
		}
	}()
}

func (s *Stream) stopDriver() {
	s.loopMu.Lock()
	stop, done := s.stopLoop, s.loopDone
	s.stopLoop, s.loopDone = nil, nil
	s.loopMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
