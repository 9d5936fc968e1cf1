package stream

import "fmt"

// PlayerBuilder assembles a Player from a subtype, a backend table and a
// source or source provider.
type PlayerBuilder struct {
	subtype  Subtype
	backends Backends
	source   AudioSource
	provider SourceProvider
	opts     []Option
}

// NewPlayerBuilder returns a builder defaulting to SubtypeNative.
func NewPlayerBuilder() *PlayerBuilder {
	return &PlayerBuilder{subtype: SubtypeNative}
}

func (b *PlayerBuilder) SetSubtype(s Subtype) *PlayerBuilder {
	b.subtype = s
	return b
}

func (b *PlayerBuilder) SetBackends(be Backends) *PlayerBuilder {
	b.backends = be
	return b
}

// SetSource attaches a specific source. It takes precedence over a provider.
func (b *PlayerBuilder) SetSource(src AudioSource) *PlayerBuilder {
	b.source = src
	return b
}

func (b *PlayerBuilder) SetSourceProvider(p SourceProvider) *PlayerBuilder {
	b.provider = p
	return b
}

func (b *PlayerBuilder) WithOptions(opts ...Option) *PlayerBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build returns ErrBadState when no backend table or no source was given.
func (b *PlayerBuilder) Build() (*Player, error) {
	if len(b.backends) == 0 {
		return nil, fmt.Errorf("%w: no backends", ErrBadState)
	}
	src := b.source
	if src == nil && b.provider != nil {
		src = b.provider.AllocSource()
	}
	if src == nil {
		return nil, fmt.Errorf("%w: no source", ErrBadState)
	}
	return NewPlayer(src, b.subtype, b.backends, b.opts...), nil
}

// RecorderBuilder assembles a Recorder.
type RecorderBuilder struct {
	subtype  Subtype
	backends Backends
	sink     AudioSink
	provider SinkProvider
	preset   InputPreset
	opts     []Option
}

// NewRecorderBuilder returns a builder defaulting to SubtypeNative.
func NewRecorderBuilder() *RecorderBuilder {
	return &RecorderBuilder{subtype: SubtypeNative, preset: PresetVoiceRecognition}
}

func (b *RecorderBuilder) SetSubtype(s Subtype) *RecorderBuilder {
	b.subtype = s
	return b
}

func (b *RecorderBuilder) SetBackends(be Backends) *RecorderBuilder {
	b.backends = be
	return b
}

func (b *RecorderBuilder) SetSink(s AudioSink) *RecorderBuilder {
	b.sink = s
	return b
}

func (b *RecorderBuilder) SetSinkProvider(p SinkProvider) *RecorderBuilder {
	b.provider = p
	return b
}

func (b *RecorderBuilder) SetInputPreset(p InputPreset) *RecorderBuilder {
	b.preset = p
	return b
}

func (b *RecorderBuilder) WithOptions(opts ...Option) *RecorderBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build returns ErrBadState when no backend table or no sink was given.
func (b *RecorderBuilder) Build() (*Recorder, error) {
	if len(b.backends) == 0 {
		return nil, fmt.Errorf("%w: no backends", ErrBadState)
	}
	sink := b.sink
	if sink == nil && b.provider != nil {
		sink = b.provider.AllocSink()
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: no sink", ErrBadState)
	}
	r := NewRecorder(sink, b.subtype, b.backends, b.opts...)
	r.SetInputPreset(b.preset)
	return r, nil
}
