package sink

import (
	"math"
	"sync/atomic"

	"github.com/drgolem/go-duplexaudio/stream"
)

// LevelMeter tracks the signal level of captured audio. Readers may poll it
// from any goroutine while the stream runs.
type LevelMeter struct {
	peak   atomic.Uint32 // float32 bits, last block
	rms    atomic.Uint32 // float32 bits, last block
	held   atomic.Uint32 // float32 bits, max peak since Start
	frames atomic.Uint64
	active atomic.Bool
}

func NewLevelMeter() *LevelMeter { return &LevelMeter{} }

func (m *LevelMeter) Init(int, int) {}

// Start clears the readings and begins metering.
func (m *LevelMeter) Start() {
	m.peak.Store(0)
	m.rms.Store(0)
	m.held.Store(0)
	m.frames.Store(0)
	m.active.Store(true)
}

func (m *LevelMeter) Stop() { m.active.Store(false) }

func (m *LevelMeter) Push(buf []float32, numFrames, channelCount int) {
	if !m.active.Load() || numFrames <= 0 {
		return
	}
	samples := buf[:numFrames*channelCount]
	var peak float32
	var sum float64
	for _, v := range samples {
		a := float32(math.Abs(float64(v)))
		peak = max(peak, a)
		sum += float64(v) * float64(v)
	}
	rms := float32(math.Sqrt(sum / float64(len(samples))))

	m.peak.Store(math.Float32bits(peak))
	m.rms.Store(math.Float32bits(rms))
	if peak > math.Float32frombits(m.held.Load()) {
		m.held.Store(math.Float32bits(peak))
	}
	m.frames.Add(uint64(numFrames))
}

// Peak returns the absolute peak of the last block.
func (m *LevelMeter) Peak() float32 { return math.Float32frombits(m.peak.Load()) }

// RMS returns the RMS level of the last block.
func (m *LevelMeter) RMS() float32 { return math.Float32frombits(m.rms.Load()) }

// HeldPeak returns the largest peak since Start.
func (m *LevelMeter) HeldPeak() float32 { return math.Float32frombits(m.held.Load()) }

// Frames returns the number of frames metered since Start.
func (m *LevelMeter) Frames() uint64 { return m.frames.Load() }

// DBFS converts a linear level to decibels relative to full scale.
func DBFS(level float32) float64 {
	if level <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(level))
}

// Tee fans captured audio out to several sinks in order.
type Tee []stream.AudioSink

func (t Tee) Init(numFrames, channelCount int) {
	for _, s := range t {
		s.Init(numFrames, channelCount)
	}
}

func (t Tee) Start() {
	for _, s := range t {
		s.Start()
	}
}

func (t Tee) Stop() {
	for _, s := range t {
		s.Stop()
	}
}

func (t Tee) Push(buf []float32, numFrames, channelCount int) {
	for _, s := range t {
		s.Push(buf, numFrames, channelCount)
	}
}
