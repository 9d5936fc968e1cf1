package stream

import "sync/atomic"

const playerBurstFactor = 2

type sourceRef struct{ src AudioSource }

// Player drives an output stream from an AudioSource.
//
// Control operations are serialized by a mutex. The data callback never
// takes that mutex: the source is published through an atomic pointer and
// the end-of-data latch is an atomic flag.
type Player struct {
	controller

	source    atomic.Pointer[sourceRef]
	exhausted atomic.Bool
}

// NewPlayer returns a player that pulls from src on the backend chosen by
// subtype. src is borrowed and must outlive any open stream.
func NewPlayer(src AudioSource, subtype Subtype, backends Backends, opts ...Option) *Player {
	p := &Player{}
	p.source.Store(&sourceRef{src: src})
	p.initController("player", DirectionOutput, playerBurstFactor, subtype, backends, p, hooks{
		initEndpoint: p.initSource,
		beforeStart: func(int, int) {
			p.exhausted.Store(false)
		},
	}, opts)
	return p
}

// SetSource swaps the attached source. The swap is visible to the next
// callback.
func (p *Player) SetSource(src AudioSource) {
	p.source.Store(&sourceRef{src: src})
}

// Source returns the attached source.
func (p *Player) Source() AudioSource {
	if ref := p.source.Load(); ref != nil {
		return ref.src
	}
	return nil
}

func (p *Player) initSource(numFrames, channelCount int) {
	if src := p.Source(); src != nil {
		src.Init(numFrames, channelCount)
	}
}

// OnAudioReady fills buf from the source. A source that produces no frames
// stops the stream, and no further pulls happen until the next start.
func (p *Player) OnAudioReady(s Stream, buf []float32, numFrames int) CallbackResult {
	p.counters.callbacks.Inc()
	p.checkState(s)

	channels := s.ChannelCount()
	samples := buf[:numFrames*channels]

	if p.exhausted.Load() {
		clear(samples)
		return Stop
	}

	ref := p.source.Load()
	if ref == nil || ref.src == nil {
		p.exhausted.Store(true)
		clear(samples)
		return Stop
	}

	got := ref.src.Pull(samples, numFrames, channels)
	if got <= 0 {
		p.exhausted.Store(true)
		clear(samples)
		return Stop
	}
	if got < numFrames {
		clear(samples[got*channels:])
		p.counters.short.Inc()
	}
	p.counters.frames.Add(float64(got))
	return Continue
}

// OnErrorBeforeClose logs the error. The platform closes the stream next.
func (p *Player) OnErrorBeforeClose(_ Stream, err error) {
	p.onErrorBeforeClose(err)
}

// OnErrorAfterClose logs the error and schedules automatic recovery under
// the player's retry policy.
func (p *Player) OnErrorAfterClose(_ Stream, err error) {
	p.log.Warn().Err(err).Msg("stream closed by platform, scheduling recovery")
	p.scheduleRecovery()
}
