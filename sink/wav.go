// Package sink provides stream.AudioSink implementations: a WAV file
// recorder fed through a lock-free ring, a level meter, and a fan-out tee.
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/internal/logging"
)

const (
	// DefaultBufferMs is the capture backlog the ring holds before frames
	// are dropped.
	DefaultBufferMs = 500

	drainInterval = 5 * time.Millisecond
	writeChunk    = 4096 // frames per encoder write
)

// ErrBitDepth is returned for bit depths the encoder cannot produce.
var ErrBitDepth = errors.New("unsupported bit depth")

// Option configures a WAVRecorder.
type Option func(*WAVRecorder)

// WithLogger sets the recorder's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *WAVRecorder) { w.log = l }
}

// WithBitDepth sets the sample width written to the file: 16, 24 or 32.
func WithBitDepth(bits int) Option {
	return func(w *WAVRecorder) { w.bitDepth = bits }
}

// WithBufferMs sizes the ring between the data callback and the file writer.
func WithBufferMs(ms int) Option {
	return func(w *WAVRecorder) {
		if ms > 0 {
			w.bufferMs = ms
		}
	}
}

// WAVRecorder writes captured audio to a WAV file. Push only copies into a
// ring; a writer goroutine running between Start and Stop encodes the ring
// into the file. Frames that do not fit in the ring are dropped and counted.
type WAVRecorder struct {
	log        zerolog.Logger
	enc        *wav.Encoder
	file       io.Closer
	channels   int
	sampleRate int
	bitDepth   int
	bufferMs   int
	maxValue   float64

	ring    *Ring
	scratch []float32 // callback-owned, used when channel counts differ

	active  atomic.Bool
	pushed  atomic.Uint64
	dropped atomic.Uint64
	written atomic.Uint64

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	err    error
	closed bool
}

// NewWAVRecorder returns a recorder encoding channels-channel audio at
// sampleRate into ws. The file header is finalized by Close.
func NewWAVRecorder(ws io.WriteSeeker, sampleRate, channels int, opts ...Option) (*WAVRecorder, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("wav recorder: invalid format %d ch @ %d Hz", channels, sampleRate)
	}
	w := &WAVRecorder{
		log:        logging.Component("sink").With().Str("sink", "wav").Logger(),
		channels:   channels,
		sampleRate: sampleRate,
		bitDepth:   16,
		bufferMs:   DefaultBufferMs,
	}
	for _, opt := range opts {
		opt(w)
	}
	switch w.bitDepth {
	case 16:
		w.maxValue = 32767
	case 24:
		w.maxValue = 8388607
	case 32:
		w.maxValue = 2147483647
	default:
		return nil, fmt.Errorf("wav recorder: %w: %d", ErrBitDepth, w.bitDepth)
	}
	w.enc = wav.NewEncoder(ws, sampleRate, w.bitDepth, channels, 1)
	w.ring = NewRing(max(sampleRate*w.bufferMs/1000, 1) * channels)
	return w, nil
}

// CreateWAV creates path and returns a recorder writing to it. Close also
// closes the file.
func CreateWAV(path string, sampleRate, channels int, opts ...Option) (*WAVRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWAVRecorder(f, sampleRate, channels, opts...)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	w.file = f
	w.log = w.log.With().Str("path", path).Logger()
	return w, nil
}

func (w *WAVRecorder) Channels() int   { return w.channels }
func (w *WAVRecorder) SampleRate() int { return w.sampleRate }

// Frames returns the number of frames written to the file.
func (w *WAVRecorder) Frames() uint64 { return w.written.Load() }

// Dropped returns the number of frames lost to a full ring.
func (w *WAVRecorder) Dropped() uint64 { return w.dropped.Load() }

// Err returns the first encoder error.
func (w *WAVRecorder) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Init grows the ring to hold at least four callback bursts and sizes the
// channel-mapping scratch buffer.
func (w *WAVRecorder) Init(numFrames, channelCount int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil && w.ring.Cap() < 4*numFrames*w.channels {
		w.ring = NewRing(4 * numFrames * w.channels)
	}
	if channelCount != w.channels && cap(w.scratch) < numFrames*w.channels {
		w.scratch = make([]float32, numFrames*w.channels)
	}
}

// Start begins accepting frames and starts the file writer.
func (w *WAVRecorder) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.active.Store(true)
	if w.done != nil {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(w.stop, w.done)
	w.log.Debug().Int("ring", w.ring.Cap()).Msg("recording started")
}

// Stop stops accepting frames and waits for the writer to flush the ring.
func (w *WAVRecorder) Stop() {
	w.active.Store(false)

	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	w.mu.Unlock()

	if done == nil {
		return
	}
	close(stop)
	<-done
	w.log.Debug().
		Uint64("frames", w.written.Load()).
		Uint64("dropped", w.dropped.Load()).
		Msg("recording stopped")
}

// Push queues whole frames into the ring. It never blocks.
func (w *WAVRecorder) Push(buf []float32, numFrames, channelCount int) {
	if !w.active.Load() || numFrames <= 0 || channelCount <= 0 {
		return
	}
	w.pushed.Add(uint64(numFrames))

	samples := buf[:numFrames*channelCount]
	if channelCount != w.channels {
		if cap(w.scratch) < numFrames*w.channels {
			w.scratch = make([]float32, numFrames*w.channels)
		}
		mapped := w.scratch[:numFrames*w.channels]
		for f := 0; f < numFrames; f++ {
			src := samples[f*channelCount : (f+1)*channelCount]
			dst := mapped[f*w.channels : (f+1)*w.channels]
			for c := range dst {
				dst[c] = src[c%channelCount]
			}
		}
		samples = mapped
	}

	frames := min(numFrames, w.ring.Free()/w.channels)
	if frames > 0 {
		w.ring.Write(samples[:frames*w.channels])
	}
	if lost := numFrames - frames; lost > 0 {
		w.dropped.Add(uint64(lost))
	}
}

func (w *WAVRecorder) run(stop, done chan struct{}) {
	defer close(done)

	floats := make([]float32, writeChunk*w.channels)
	ints := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: w.channels, SampleRate: w.sampleRate},
		Data:           make([]int, len(floats)),
		SourceBitDepth: w.bitDepth,
	}
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		for w.drain(floats, ints) {
		}
		select {
		case <-stop:
			for w.drain(floats, ints) {
			}
			return
		case <-ticker.C:
		}
	}
}

// drain moves one chunk from the ring to the encoder. It reports whether
// the ring had data.
func (w *WAVRecorder) drain(floats []float32, ints *goaudio.IntBuffer) bool {
	avail := w.ring.Available()
	n := min(avail-avail%w.channels, len(floats))
	if n == 0 {
		return false
	}
	w.ring.Read(floats[:n])

	ints.Data = ints.Data[:n]
	for i, v := range floats[:n] {
		v = max(-1, min(1, v))
		ints.Data[i] = int(float64(v) * w.maxValue)
	}
	if err := w.enc.Write(ints); err != nil {
		w.mu.Lock()
		if w.err == nil {
			w.err = err
			w.log.Error().Err(err).Msg("encode failed")
		}
		w.mu.Unlock()
		return true
	}
	w.written.Add(uint64(n / w.channels))
	return true
}

// Close stops the writer, finalizes the WAV header and closes the file when
// the recorder created it. Later calls return nil.
func (w *WAVRecorder) Close() error {
	w.Stop()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.err
	w.mu.Unlock()

	if cerr := w.enc.Close(); err == nil {
		err = cerr
	}
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
