package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drgolem/go-duplexaudio/stream"
)

var (
	_ stream.AudioSource = (*Sine)(nil)
	_ stream.AudioSource = Silence{}
	_ stream.AudioSource = (*PCM)(nil)
	_ stream.AudioSource = (*StreamSource)(nil)
)

func TestSine(t *testing.T) {
	s := NewSine(1000, 0.5, 48000)
	assert.InDelta(t, 1000, s.Frequency(), 1e-9)

	buf := make([]float32, 480*2)
	require.Equal(t, 480, s.Pull(buf, 480, 2))

	var peak float32
	for f := 0; f < 480; f++ {
		assert.Equal(t, buf[2*f], buf[2*f+1], "channels carry the same sample")
		peak = max(peak, buf[2*f])
		assert.LessOrEqual(t, buf[2*f], float32(0.5001))
		assert.GreaterOrEqual(t, buf[2*f], float32(-0.5001))
	}
	assert.InDelta(t, 0.5, peak, 0.01)
	assert.InDelta(t, 0, buf[0], 1e-6)
	// 48 samples per period at 1 kHz
	assert.InDelta(t, 0.5, buf[2*12], 0.01)

	s.SetFrequency(500)
	assert.InDelta(t, 500, s.Frequency(), 1e-9)
}

func TestSineLimit(t *testing.T) {
	s := NewSine(440, 1, 48000).Limit(100)
	buf := make([]float32, 64)
	assert.Equal(t, 64, s.Pull(buf, 64, 1))
	assert.Equal(t, 36, s.Pull(buf, 64, 1))
	assert.Equal(t, 0, s.Pull(buf, 64, 1))

	s.Init(64, 1)
	assert.Equal(t, 64, s.Pull(buf, 64, 1), "init rewinds a limited tone")
}

func TestSilence(t *testing.T) {
	buf := []float32{1, 2, 3, 4}
	assert.Equal(t, 2, Silence{}.Pull(buf, 2, 2))
	assert.Equal(t, []float32{0, 0, 0, 0}, buf)
}

func TestPCM(t *testing.T) {
	p := NewPCM([]float32{1, 2, 3, 4, 5, 6}, 2, 48000)
	assert.Equal(t, 3, p.Frames())

	buf := make([]float32, 4)
	assert.Equal(t, 2, p.Pull(buf, 2, 2))
	assert.Equal(t, []float32{1, 2, 3, 4}, buf)
	assert.Equal(t, 1, p.Pull(buf, 2, 2))
	assert.Equal(t, []float32{5, 6}, buf[:2])
	assert.Equal(t, 0, p.Pull(buf, 2, 2))

	p.Rewind()
	assert.Equal(t, 0, p.Position())
}

func TestPCMChannelMapping(t *testing.T) {
	mono := NewPCM([]float32{1, 2}, 1, 48000)
	buf := make([]float32, 4)
	require.Equal(t, 2, mono.Pull(buf, 2, 2))
	assert.Equal(t, []float32{1, 1, 2, 2}, buf)

	stereo := NewPCM([]float32{1, 2, 3, 4}, 2, 48000)
	out := make([]float32, 2)
	require.Equal(t, 2, stereo.Pull(out, 2, 1))
	assert.Equal(t, []float32{1, 3}, out)
}

func TestPCMLoop(t *testing.T) {
	p := NewPCM([]float32{1, 2, 3}, 1, 48000).Loop(true)
	buf := make([]float32, 7)
	assert.Equal(t, 7, p.Pull(buf, 7, 1))
	assert.Equal(t, []float32{1, 2, 3, 1, 2, 3, 1}, buf)

	empty := NewPCM(nil, 1, 48000).Loop(true)
	assert.Equal(t, 0, empty.Pull(buf, 7, 1))
}

func TestStreamSource(t *testing.T) {
	s := NewStreamSource(2, 1000, 10) // 10 frames
	s.Init(4, 2)

	assert.Equal(t, 20, s.Write(make([]float32, 30)), "only whole frames that fit")
	assert.Equal(t, 10, s.Buffered())
	assert.Equal(t, 0, s.Write([]float32{1, 2}))

	buf := make([]float32, 8)
	assert.Equal(t, 4, s.Pull(buf, 4, 2))
	assert.Equal(t, 6, s.Buffered())

	assert.Equal(t, 4, s.Write([]float32{0.1, 0.2, 0.3, 0.4}))
	out := make([]float32, 16)
	assert.Equal(t, 8, s.Pull(out, 8, 2))
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, out[12:16])
	assert.Equal(t, uint64(12), s.Played())
}

func TestStreamSourceUnderrunAndEOF(t *testing.T) {
	s := NewStreamSource(1, 1000, 10)
	s.Init(4, 1)

	buf := []float32{9, 9, 9, 9}
	assert.Equal(t, 4, s.Pull(buf, 4, 1), "underrun plays silence")
	assert.Equal(t, []float32{0, 0, 0, 0}, buf)
	assert.Equal(t, uint64(1), s.Underruns())

	s.Write([]float32{1, 2})
	s.CloseWrite()
	assert.Equal(t, 2, s.Pull(buf, 4, 1))
	assert.Equal(t, 0, s.Pull(buf, 4, 1))
}

type sliceReader struct {
	data []float32
	ch   int
}

func (r *sliceReader) SampleRate() int { return 1000 }
func (r *sliceReader) Channels() int   { return r.ch }

func (r *sliceReader) ReadSamples(dst []float32) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(dst, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestStreamSourceFeed(t *testing.T) {
	data := make([]float32, 5000)
	for i := range data {
		data[i] = float32(i%100) / 100
	}
	s := NewStreamSource(1, 1000, 100) // ring smaller than the data
	s.Init(256, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Feed(ctx, &sliceReader{data: data, ch: 1}) }()

	var got []float32
	buf := make([]float32, 256)
	for {
		underruns := s.Underruns()
		n := s.Pull(buf, 256, 1)
		if n == 0 {
			break
		}
		if s.Underruns() != underruns {
			time.Sleep(time.Millisecond)
			continue
		}
		got = append(got, buf[:n]...)
	}
	require.NoError(t, <-done)
	assert.Equal(t, data, got)
}

func TestStreamSourceFeedCancel(t *testing.T) {
	s := NewStreamSource(1, 1000, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Feed(ctx, &sliceReader{data: make([]float32, 100), ch: 1})
	assert.ErrorIs(t, err, context.Canceled)

	buf := make([]float32, 4)
	s.Init(4, 1)
	assert.Equal(t, 1, s.Pull(buf, 4, 1))
	assert.Equal(t, 0, s.Pull(buf, 4, 1), "cancelled feed still ends the source")
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"a.wav", FormatWAV, false},
		{"b.WAV", FormatWAV, false},
		{"c.mp3", FormatMP3, false},
		{"d.ogg", FormatVorbis, false},
		{"e.flac", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatOf(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func writeWAV(t *testing.T, path string, samples []int, channels int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 8000, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Data:           samples,
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: 8000},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestLoadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeWAV(t, path, []int{0, 16384, -16384, 32767, 0, -32768}, 2)

	pcm, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, pcm.Channels())
	assert.Equal(t, 8000, pcm.SampleRate())
	assert.Equal(t, 3, pcm.Frames())

	buf := make([]float32, 6)
	require.Equal(t, 3, pcm.Pull(buf, 3, 2))
	assert.InDelta(t, 0.5, buf[1], 1e-4)
	assert.InDelta(t, -0.5, buf[2], 1e-4)
	assert.InDelta(t, -1, buf[5], 1e-4)
}

func TestLoadInvalidWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a riff file"), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	writeWAV(t, path, []int{100, 200, 300}, 1)

	var loadErr error
	named := Named{
		"sine":    SineProvider{Frequency: 440, Amplitude: 0.5, SampleRate: 48000},
		"clip":    FileProvider{Path: path},
		"missing": FileProvider{Path: filepath.Join(t.TempDir(), "nope.wav"), OnError: func(err error) { loadErr = err }},
	}

	src, err := named.Alloc("sine")
	require.NoError(t, err)
	assert.IsType(t, &Sine{}, src)

	src, err = named.Alloc("clip")
	require.NoError(t, err)
	assert.Equal(t, 3, src.(*PCM).Frames())

	_, err = named.Alloc("missing")
	assert.ErrorIs(t, err, stream.ErrBadState)
	assert.Error(t, loadErr)

	_, err = named.Alloc("unknown")
	assert.ErrorIs(t, err, stream.ErrBadState)
}
