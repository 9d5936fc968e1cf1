package stream_test

import (
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/backend/mock"
	"github.com/drgolem/go-duplexaudio/stream"
)

var quiet = stream.WithLogger(zerolog.New(io.Discard))

// countingSource produces remaining frames of a constant value, then runs dry.
type countingSource struct {
	value      float32
	remaining  atomic.Int64
	pulls      atomic.Int64
	initFrames atomic.Int64
	initCh     atomic.Int64
}

func newCountingSource(frames int64, value float32) *countingSource {
	s := &countingSource{value: value}
	s.remaining.Store(frames)
	return s
}

func (s *countingSource) Init(numFrames, channelCount int) {
	s.initFrames.Store(int64(numFrames))
	s.initCh.Store(int64(channelCount))
}

func (s *countingSource) Pull(buf []float32, numFrames, channelCount int) int {
	s.pulls.Add(1)
	n := int(min(int64(numFrames), s.remaining.Load()))
	if n <= 0 {
		return 0
	}
	for i := 0; i < n*channelCount; i++ {
		buf[i] = s.value
	}
	s.remaining.Add(-int64(n))
	return n
}

// recordingSink counts what it receives and its lifecycle calls.
type recordingSink struct {
	inits   atomic.Int64
	starts  atomic.Int64
	stops   atomic.Int64
	pushes  atomic.Int64
	frames  atomic.Int64
	started atomic.Bool
}

func (s *recordingSink) Init(int, int) { s.inits.Add(1) }
func (s *recordingSink) Start()        { s.starts.Add(1); s.started.Store(true) }
func (s *recordingSink) Stop()         { s.stops.Add(1); s.started.Store(false) }

func (s *recordingSink) Push(_ []float32, numFrames, _ int) {
	s.pushes.Add(1)
	s.frames.Add(int64(numFrames))
}

func backendsFor(b *mock.Backend) stream.Backends {
	return stream.Backends{
		stream.SubtypeNative: b,
		stream.SubtypeLegacy: b,
	}
}

// lossOnStopBackend wraps the mock backend so that an armed stream reports
// a platform close from inside Stop, the way the PortAudio watchdog can when
// a device vanishes while a stop request is in flight.
type lossOnStopBackend struct {
	*mock.Backend
	armed atomic.Bool
}

func (b *lossOnStopBackend) Open(cfg stream.StreamConfig) (stream.Stream, error) {
	s, err := b.Backend.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &lossOnStopStream{Stream: s, cb: cfg.Callback, armed: &b.armed}, nil
}

type lossOnStopStream struct {
	stream.Stream
	cb    stream.Callback
	armed *atomic.Bool
}

func (s *lossOnStopStream) Stop() error {
	if s.armed.CompareAndSwap(true, false) {
		s.cb.OnErrorAfterClose(s, stream.ErrDisconnected)
	}
	return s.Stream.Stop()
}
