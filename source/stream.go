package source

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"
)

const bytesPerSample = 4

// StreamSource plays samples written by a producer goroutine through a ring
// buffer. The data callback only reads the ring; an empty ring before the
// producer finishes plays silence instead of ending the stream.
type StreamSource struct {
	ring       *ringbuffer.RingBuffer
	channels   int
	sampleRate int
	frameBytes int

	eof       atomic.Bool
	underruns atomic.Uint64
	played    atomic.Uint64

	// callback-owned scratch
	scratch []byte

	// producer-owned scratch
	enc []byte
}

// NewStreamSource returns a source buffering up to bufferMs milliseconds of
// channels-channel audio.
func NewStreamSource(channels, sampleRate, bufferMs int) *StreamSource {
	if channels <= 0 {
		channels = 1
	}
	frameBytes := channels * bytesPerSample
	frames := max(sampleRate*bufferMs/1000, 1)
	return &StreamSource{
		ring:       ringbuffer.New(frames * frameBytes),
		channels:   channels,
		sampleRate: sampleRate,
		frameBytes: frameBytes,
	}
}

func (s *StreamSource) Channels() int   { return s.channels }
func (s *StreamSource) SampleRate() int { return s.sampleRate }

// Buffered returns the number of frames waiting in the ring.
func (s *StreamSource) Buffered() int {
	return s.ring.Length() / s.frameBytes
}

// Underruns returns the number of pulls that found the ring empty before
// the producer finished.
func (s *StreamSource) Underruns() uint64 { return s.underruns.Load() }

// Played returns the number of frames handed to the stream.
func (s *StreamSource) Played() uint64 { return s.played.Load() }

// Write queues as many whole frames of samples as fit and returns the
// number of samples queued. It never blocks. Only the producer calls it.
func (s *StreamSource) Write(samples []float32) int {
	frames := min(len(samples)/s.channels, s.ring.Free()/s.frameBytes)
	if frames == 0 {
		return 0
	}
	n := frames * s.channels
	if cap(s.enc) < n*bytesPerSample {
		s.enc = make([]byte, n*bytesPerSample)
	}
	b := s.enc[:n*bytesPerSample]
	for i, v := range samples[:n] {
		binary.LittleEndian.PutUint32(b[i*bytesPerSample:], math.Float32bits(v))
	}
	written, _ := s.ring.Write(b)
	return written / bytesPerSample
}

// CloseWrite marks the end of the data. The source runs dry once the ring
// drains.
func (s *StreamSource) CloseWrite() {
	s.eof.Store(true)
}

// Reader is a decoded audio stream.
type Reader interface {
	SampleRate() int
	Channels() int
	// ReadSamples fills dst with interleaved samples and returns how many
	// it wrote. It returns io.EOF at the end.
	ReadSamples(dst []float32) (int, error)
}

// Feed copies r into the ring until r ends or ctx is cancelled, then calls
// CloseWrite. It blocks and belongs on its own goroutine.
func (s *StreamSource) Feed(ctx context.Context, r Reader) error {
	defer s.CloseWrite()

	buf := make([]float32, 1024*s.channels)
	for {
		n, err := r.ReadSamples(buf)
		pending := buf[:n-n%s.channels]
		for len(pending) > 0 {
			w := s.Write(pending)
			pending = pending[w:]
			if len(pending) == 0 {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Init sizes the callback scratch buffer.
func (s *StreamSource) Init(numFrames, _ int) {
	if need := max(numFrames, 1024) * s.frameBytes; cap(s.scratch) < need {
		s.scratch = make([]byte, need)
	}
}

func (s *StreamSource) Pull(buf []float32, numFrames, channelCount int) int {
	want := numFrames * s.frameBytes
	if cap(s.scratch) < want {
		s.scratch = make([]byte, want)
	}

	n, _ := s.ring.TryRead(s.scratch[:want])
	frames := n / s.frameBytes
	if frames == 0 {
		if s.eof.Load() && s.ring.Length() == 0 {
			return 0
		}
		s.underruns.Add(1)
		clear(buf[:numFrames*channelCount])
		return numFrames
	}

	for f := 0; f < frames; f++ {
		dst := buf[f*channelCount : (f+1)*channelCount]
		for c := range dst {
			off := (f*s.channels + c%s.channels) * bytesPerSample
			dst[c] = math.Float32frombits(binary.LittleEndian.Uint32(s.scratch[off:]))
		}
	}
	s.played.Add(uint64(frames))
	return frames
}
