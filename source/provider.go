package source

import (
	"fmt"

	"github.com/drgolem/go-duplexaudio/stream"
)

// SineProvider allocates a fresh tone per request.
type SineProvider struct {
	Frequency  float64
	Amplitude  float64
	SampleRate int
}

func (p SineProvider) AllocSource() stream.AudioSource {
	return NewSine(p.Frequency, p.Amplitude, p.SampleRate)
}

// FileProvider allocates an in-memory source decoded from Path. Decode
// errors yield a nil source, which builders report as a bad state.
type FileProvider struct {
	Path string
	Loop bool
	// OnError receives decode errors. Optional.
	OnError func(error)
}

func (p FileProvider) AllocSource() stream.AudioSource {
	pcm, err := LoadFile(p.Path)
	if err != nil {
		if p.OnError != nil {
			p.OnError(fmt.Errorf("load %s: %w", p.Path, err))
		}
		return nil
	}
	return pcm.Loop(p.Loop)
}

// Named maps provider names to providers, for callers that select
// endpoints by name.
type Named map[string]stream.SourceProvider

// Alloc allocates from the named provider.
func (n Named) Alloc(name string) (stream.AudioSource, error) {
	p, ok := n[name]
	if !ok {
		return nil, fmt.Errorf("%w: no source provider %q", stream.ErrBadState, name)
	}
	src := p.AllocSource()
	if src == nil {
		return nil, fmt.Errorf("%w: provider %q returned no source", stream.ErrBadState, name)
	}
	return src, nil
}
