package source

import "sync/atomic"

// PCM plays interleaved float32 samples held in memory.
//
// When the stream's channel count differs from the data's, output channel c
// takes data channel c modulo the data's channel count.
type PCM struct {
	data       []float32
	channels   int
	sampleRate int
	loop       bool
	pos        atomic.Int64 // frames
}

// NewPCM wraps samples holding channels interleaved channels.
func NewPCM(samples []float32, channels, sampleRate int) *PCM {
	if channels <= 0 {
		channels = 1
	}
	return &PCM{data: samples, channels: channels, sampleRate: sampleRate}
}

// Loop makes playback wrap to the start instead of running dry.
func (p *PCM) Loop(on bool) *PCM {
	p.loop = on
	return p
}

func (p *PCM) Channels() int   { return p.channels }
func (p *PCM) SampleRate() int { return p.sampleRate }

// Frames returns the total frame count.
func (p *PCM) Frames() int {
	return len(p.data) / p.channels
}

// Position returns the next frame to play.
func (p *PCM) Position() int {
	return int(p.pos.Load())
}

// Rewind restarts playback from the first frame.
func (p *PCM) Rewind() {
	p.pos.Store(0)
}

func (p *PCM) Init(int, int) {}

func (p *PCM) Pull(buf []float32, numFrames, channelCount int) int {
	total := p.Frames()
	if total == 0 {
		return 0
	}
	pos := int(p.pos.Load())
	written := 0
	for written < numFrames {
		if pos >= total {
			if !p.loop {
				break
			}
			pos = 0
		}
		n := min(numFrames-written, total-pos)
		if channelCount == p.channels {
			copy(buf[written*channelCount:(written+n)*channelCount], p.data[pos*p.channels:(pos+n)*p.channels])
		} else {
			for f := 0; f < n; f++ {
				src := p.data[(pos+f)*p.channels : (pos+f+1)*p.channels]
				dst := buf[(written+f)*channelCount : (written+f+1)*channelCount]
				for c := range dst {
					dst[c] = src[c%p.channels]
				}
			}
		}
		written += n
		pos += n
	}
	p.pos.Store(int64(pos))
	return written
}
