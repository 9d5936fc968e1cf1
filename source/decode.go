package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

var (
	// ErrUnsupportedFormat is returned for files no decoder handles.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrInvalidFile is returned when a file fails its format's validation.
	ErrInvalidFile = errors.New("invalid audio file")
)

// Format names a container the package can decode.
type Format string

const (
	FormatWAV    Format = "wav"
	FormatMP3    Format = "mp3"
	FormatVorbis Format = "ogg"
)

// FormatOf picks a format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	case ".ogg", ".oga":
		return FormatVorbis, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// Decode returns a Reader for r in format f.
func Decode(r io.ReadSeeker, f Format) (Reader, error) {
	switch f {
	case FormatWAV:
		return newWAVReader(r)
	case FormatMP3:
		dec, err := gomp3.NewDecoder(r)
		if err != nil {
			return nil, fmt.Errorf("mp3: %w", err)
		}
		return &mp3Reader{dec: dec}, nil
	case FormatVorbis:
		dec, err := oggvorbis.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("vorbis: %w", err)
		}
		return &vorbisReader{dec: dec}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// OpenFile opens and decodes path. The caller closes the returned closer
// when done reading.
func OpenFile(path string) (Reader, io.Closer, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := Decode(fh, f)
	if err != nil {
		fh.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, fh, nil
}

// ReadAll decodes r to the end into memory.
func ReadAll(r Reader) (*PCM, error) {
	ch := r.Channels()
	if ch <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidFile, ch)
	}
	var out []float32
	buf := make([]float32, 4096*ch)
	for {
		n, err := r.ReadSamples(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	out = out[:len(out)-len(out)%ch]
	return NewPCM(out, ch, r.SampleRate()), nil
}

// LoadFile decodes a whole file into memory.
func LoadFile(path string) (*PCM, error) {
	r, c, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return ReadAll(r)
}

type wavReader struct {
	dec     *wav.Decoder
	scale   float32
	intBuf  *goaudio.IntBuffer
	channel int
}

func newWAVReader(r io.ReadSeeker) (*wavReader, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav: %w", ErrInvalidFile)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("wav: %w: audio format %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	var scale float32
	switch dec.BitDepth {
	case 8:
		scale = 1.0 / 128
	case 16:
		scale = 1.0 / 32768
	case 24:
		scale = 1.0 / 8388608
	case 32:
		scale = 1.0 / 2147483648
	default:
		return nil, fmt.Errorf("wav: %w: %d-bit", ErrUnsupportedFormat, dec.BitDepth)
	}
	return &wavReader{dec: dec, scale: scale, channel: int(dec.NumChans)}, nil
}

func (w *wavReader) SampleRate() int { return int(w.dec.SampleRate) }
func (w *wavReader) Channels() int   { return w.channel }

func (w *wavReader) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if w.intBuf == nil || cap(w.intBuf.Data) < len(dst) {
		w.intBuf = &goaudio.IntBuffer{Data: make([]int, len(dst)), Format: w.dec.Format()}
	}
	w.intBuf.Data = w.intBuf.Data[:len(dst)]

	n, err := w.dec.PCMBuffer(w.intBuf)
	for i := 0; i < n; i++ {
		v := w.intBuf.Data[i]
		if w.dec.BitDepth == 8 {
			v -= 128
		}
		dst[i] = float32(v) * w.scale
	}
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// mp3Reader converts go-mp3's 16-bit stereo little-endian output.
type mp3Reader struct {
	dec *gomp3.Decoder
	buf []byte
}

func (m *mp3Reader) SampleRate() int { return m.dec.SampleRate() }
func (m *mp3Reader) Channels() int   { return 2 }

func (m *mp3Reader) ReadSamples(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(m.buf) < need {
		m.buf = make([]byte, need)
	}
	n, err := io.ReadFull(m.dec, m.buf[:need])
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(uint16(m.buf[2*i]) | uint16(m.buf[2*i+1])<<8)
		dst[i] = float32(v) / 32768
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return samples, err
}

type vorbisReader struct {
	dec *oggvorbis.Reader
}

func (v *vorbisReader) SampleRate() int { return v.dec.SampleRate() }
func (v *vorbisReader) Channels() int   { return v.dec.Channels() }

func (v *vorbisReader) ReadSamples(dst []float32) (int, error) {
	ch := v.dec.Channels()
	return v.dec.Read(dst[:len(dst)-len(dst)%ch])
}
