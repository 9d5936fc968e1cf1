package sink

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/drgolem/go-duplexaudio/stream"
)

// MeterProvider allocates level meters.
type MeterProvider struct{}

func (MeterProvider) AllocSink() stream.AudioSink { return NewLevelMeter() }

// WAVFileProvider allocates a recorder writing a new file in Dir for every
// request. Files are named <Prefix>-<timestamp>-<n>.wav.
type WAVFileProvider struct {
	Dir        string
	Prefix     string
	SampleRate int
	Channels   int
	Options    []Option
	// OnError receives file creation errors. Optional.
	OnError func(error)

	seq atomic.Uint64
}

// next returns the path for the next allocation.
func (p *WAVFileProvider) next() string {
	prefix := p.Prefix
	if prefix == "" {
		prefix = "capture"
	}
	name := fmt.Sprintf("%s-%s-%d.wav", prefix, time.Now().Format("20060102-150405"), p.seq.Add(1))
	return filepath.Join(p.Dir, name)
}

// AllocSink creates the file. It returns nil when the file cannot be
// created. The caller closes the recorder to finalize the file.
func (p *WAVFileProvider) AllocSink() stream.AudioSink {
	path := p.next()
	w, err := CreateWAV(path, p.SampleRate, p.Channels, p.Options...)
	if err != nil {
		if p.OnError != nil {
			p.OnError(fmt.Errorf("create %s: %w", path, err))
		}
		return nil
	}
	return w
}

// Named maps provider names to providers.
type Named map[string]stream.SinkProvider

// Alloc allocates from the named provider.
func (n Named) Alloc(name string) (stream.AudioSink, error) {
	p, ok := n[name]
	if !ok {
		return nil, fmt.Errorf("%w: no sink provider %q", stream.ErrBadState, name)
	}
	s := p.AllocSink()
	if s == nil {
		return nil, fmt.Errorf("%w: provider %q returned no sink", stream.ErrBadState, name)
	}
	return s, nil
}
