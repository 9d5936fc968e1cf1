package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drgolem/go-duplexaudio/backend/mock"
	"github.com/drgolem/go-duplexaudio/stream"
)

func TestParseSubtype(t *testing.T) {
	tests := []struct {
		in      string
		want    stream.Subtype
		wantErr bool
	}{
		{"native", stream.SubtypeNative, false},
		{"1", stream.SubtypeNative, false},
		{" Legacy ", stream.SubtypeLegacy, false},
		{"2", stream.SubtypeLegacy, false},
		{"99", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := stream.ParseSubtype(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, stream.ErrUnknownSubtype)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBackendsResolve(t *testing.T) {
	be := mock.New()
	backends := stream.Backends{stream.SubtypeNative: be}

	got, err := backends.Resolve(stream.SubtypeNative)
	require.NoError(t, err)
	assert.Same(t, be, got)

	_, err = backends.Resolve(stream.SubtypeLegacy)
	assert.ErrorIs(t, err, stream.ErrUnknownSubtype)

	_, err = backends.Resolve(stream.Subtype(99))
	assert.ErrorIs(t, err, stream.ErrUnknownSubtype)
	assert.Equal(t, "subtype(99)", stream.Subtype(99).String())
}

func TestPlayerBuilder(t *testing.T) {
	_, err := stream.NewPlayerBuilder().Build()
	assert.ErrorIs(t, err, stream.ErrBadState)

	be := mock.New()
	_, err = stream.NewPlayerBuilder().SetBackends(backendsFor(be)).Build()
	assert.ErrorIs(t, err, stream.ErrBadState)

	src := newCountingSource(10, 1)
	p, err := stream.NewPlayerBuilder().
		SetBackends(backendsFor(be)).
		SetSubtype(stream.SubtypeLegacy).
		SetSourceProvider(stream.SourceProviderFunc(func() stream.AudioSource { return src })).
		WithOptions(quiet).
		Build()
	require.NoError(t, err)
	defer p.Close()
	assert.Same(t, src, p.Source())
	assert.Equal(t, stream.SubtypeLegacy, p.Subtype())
}

func TestRecorderBuilder(t *testing.T) {
	_, err := stream.NewRecorderBuilder().SetBackends(backendsFor(mock.New())).Build()
	assert.ErrorIs(t, err, stream.ErrBadState)

	sink := &recordingSink{}
	r, err := stream.NewRecorderBuilder().
		SetBackends(backendsFor(mock.New())).
		SetSink(sink).
		SetInputPreset(stream.PresetCamcorder).
		WithOptions(quiet).
		Build()
	require.NoError(t, err)
	defer r.Close()
	assert.Same(t, sink, r.Sink())
	assert.Equal(t, stream.PresetCamcorder, r.InputPreset())
}
