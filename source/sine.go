// Package source provides stream.AudioSource implementations: generated
// tones and silence, in-memory PCM, a ring-buffered source fed by a
// producer goroutine, and decoders for WAV, MP3 and Ogg Vorbis files.
package source

import (
	"math"
	"sync/atomic"
)

const tableSize = 2048

var sineTable = func() [tableSize]float32 {
	var t [tableSize]float32
	for i := range t {
		t[i] = float32(math.Sin(2 * math.Pi * float64(i) / tableSize))
	}
	return t
}()

// Sine is a wave-table oscillator. It writes the same sample to every
// channel and never runs dry unless limited.
type Sine struct {
	sampleRate float64
	amplitude  float32
	step       atomic.Uint64 // float64 bits of table increment per frame
	phase      float64
	limit      int64
	played     int64
}

// NewSine returns a tone at freq Hz with peak amplitude in [0, 1].
func NewSine(freq, amplitude float64, sampleRate int) *Sine {
	s := &Sine{
		sampleRate: float64(sampleRate),
		amplitude:  float32(amplitude),
		limit:      -1,
	}
	s.SetFrequency(freq)
	return s
}

// SetFrequency changes the pitch. It is safe to call while the stream runs.
func (s *Sine) SetFrequency(freq float64) {
	s.step.Store(math.Float64bits(freq * tableSize / s.sampleRate))
}

// Frequency returns the current pitch in Hz.
func (s *Sine) Frequency() float64 {
	return math.Float64frombits(s.step.Load()) * s.sampleRate / tableSize
}

// Limit makes the tone end after frames frames.
func (s *Sine) Limit(frames int64) *Sine {
	s.limit = frames
	return s
}

// Init resets the play position of a limited tone.
func (s *Sine) Init(int, int) {
	s.played = 0
}

func (s *Sine) Pull(buf []float32, numFrames, channelCount int) int {
	if s.limit >= 0 {
		numFrames = int(min(int64(numFrames), s.limit-s.played))
		if numFrames <= 0 {
			return 0
		}
	}

	step := math.Float64frombits(s.step.Load())
	phase := s.phase
	for f := 0; f < numFrames; f++ {
		i := int(phase)
		frac := float32(phase - float64(i))
		a := sineTable[i]
		b := sineTable[(i+1)&(tableSize-1)]
		v := s.amplitude * (a + (b-a)*frac)

		row := buf[f*channelCount : (f+1)*channelCount]
		for c := range row {
			row[c] = v
		}

		phase += step
		for phase >= tableSize {
			phase -= tableSize
		}
	}
	s.phase = phase
	s.played += int64(numFrames)
	return numFrames
}

// Silence produces zeros forever.
type Silence struct{}

func (Silence) Init(int, int) {}

func (Silence) Pull(buf []float32, numFrames, channelCount int) int {
	clear(buf[:numFrames*channelCount])
	return numFrames
}
