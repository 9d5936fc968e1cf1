package portaudio

/*
#cgo pkg-config: portaudio-2.0
#include <portaudio.h>
*/
import "C"
import (
	"errors"
	"sync"
	"unsafe"
)

// FramesPerBufferUnspecified lets the host pick the callback size.
const FramesPerBufferUnspecified = 0

// ErrStreamClosed is returned by operations on a closed stream.
var ErrStreamClosed = errors.New("portaudio: stream closed")

// StreamParameters describe one direction of a stream. A SuggestedLatency
// of zero selects the device's default low latency.
type StreamParameters struct {
	Device           int
	Channels         int
	SuggestedLatency Time
}

// OpenParams describe a stream to open. Exactly one of Input and Output is
// usually set; both makes a duplex stream.
type OpenParams struct {
	Input           *StreamParameters
	Output          *StreamParameters
	SampleRate      float64
	FramesPerBuffer int
	Flags           StreamFlags
}

// StreamInfo is the latency and rate a stream actually got.
type StreamInfo struct {
	InputLatency  Time
	OutputLatency Time
	SampleRate    float64
}

// Stream is an open float32 callback stream.
type Stream struct {
	mu     sync.Mutex
	pa     unsafe.Pointer
	id     int
	idPtr  unsafe.Pointer
	params OpenParams
}

// OpenStream opens a callback stream. The library must be initialized.
func OpenStream(p OpenParams, cb Callback) (*Stream, error) {
	if cb == nil {
		return nil, errors.New("portaudio: nil callback")
	}
	if p.Input == nil && p.Output == nil {
		return nil, errors.New("portaudio: stream needs an input or an output")
	}
	if p.FramesPerBuffer < 0 {
		return nil, errors.New("portaudio: negative frames per buffer")
	}

	in, err := cParams(p.Input, true)
	if err != nil {
		return nil, err
	}
	out, err := cParams(p.Output, false)
	if err != nil {
		return nil, err
	}

	reg := &registration{cb: cb}
	if p.Input != nil {
		reg.inChannels = p.Input.Channels
	}
	if p.Output != nil {
		reg.outChannels = p.Output.Channels
	}
	id := register(reg)

	pa, idPtr, err := openCallback(in, out, p.SampleRate, p.FramesPerBuffer, p.Flags, id)
	if err != nil {
		unregister(id)
		return nil, err
	}
	return &Stream{pa: pa, id: id, idPtr: idPtr, params: p}, nil
}

// IsFormatSupported checks p against the host without opening a stream.
func IsFormatSupported(p OpenParams) error {
	in, err := cParams(p.Input, true)
	if err != nil {
		return err
	}
	out, err := cParams(p.Output, false)
	if err != nil {
		return err
	}
	code := C.Pa_IsFormatSupported(in, out, C.double(p.SampleRate))
	if code != C.paFormatIsSupported {
		return newError(code)
	}
	return nil
}

func cParams(sp *StreamParameters, input bool) (*C.PaStreamParameters, error) {
	if sp == nil {
		return nil, nil
	}
	latency := sp.SuggestedLatency
	if latency <= 0 {
		d, err := Device(sp.Device)
		if err != nil {
			return nil, err
		}
		latency = d.LowLatency(input)
	}
	return &C.PaStreamParameters{
		device:           C.PaDeviceIndex(sp.Device),
		channelCount:     C.int(sp.Channels),
		sampleFormat:     C.paFloat32,
		suggestedLatency: C.PaTime(latency),
	}, nil
}

// Params returns the parameters the stream was opened with.
func (s *Stream) Params() OpenParams {
	return s.params
}

func (s *Stream) do(fn func(pa *C.PaStream) C.PaError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pa == nil {
		return ErrStreamClosed
	}
	return newError(fn((*C.PaStream)(s.pa)))
}

// Start begins callbacks.
func (s *Stream) Start() error {
	return s.do(func(pa *C.PaStream) C.PaError { return C.Pa_StartStream(pa) })
}

// Stop ends callbacks after queued output has played. Stopping a stopped
// stream is not an error.
func (s *Stream) Stop() error {
	return s.do(func(pa *C.PaStream) C.PaError {
		if C.Pa_IsStreamStopped(pa) == 1 {
			return C.paNoError
		}
		return C.Pa_StopStream(pa)
	})
}

// Abort ends callbacks immediately, discarding queued output.
func (s *Stream) Abort() error {
	return s.do(func(pa *C.PaStream) C.PaError {
		if C.Pa_IsStreamStopped(pa) == 1 {
			return C.paNoError
		}
		return C.Pa_AbortStream(pa)
	})
}

// Close closes the stream and drops its callback. Closing twice returns
// ErrStreamClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pa == nil {
		return ErrStreamClosed
	}
	err := newError(C.Pa_CloseStream((*C.PaStream)(s.pa)))
	unregister(s.id)
	freeID(s.idPtr)
	s.pa, s.idPtr = nil, nil
	return err
}

// IsActive reports whether the stream is producing callbacks. It turns
// false after a Complete or Abort result, after Stop, and when the host
// drops the device.
func (s *Stream) IsActive() (bool, error) {
	var active bool
	err := s.do(func(pa *C.PaStream) C.PaError {
		r := C.Pa_IsStreamActive(pa)
		if r < 0 {
			return r
		}
		active = r == 1
		return C.paNoError
	})
	return active, err
}

// IsStopped reports whether the stream is stopped by Stop or Abort.
func (s *Stream) IsStopped() (bool, error) {
	var stopped bool
	err := s.do(func(pa *C.PaStream) C.PaError {
		r := C.Pa_IsStreamStopped(pa)
		if r < 0 {
			return r
		}
		stopped = r == 1
		return C.paNoError
	})
	return stopped, err
}

// Info returns the negotiated latency and sample rate.
func (s *Stream) Info() (StreamInfo, error) {
	var info StreamInfo
	err := s.do(func(pa *C.PaStream) C.PaError {
		si := C.Pa_GetStreamInfo(pa)
		if si == nil {
			return C.paBadStreamPtr
		}
		info = StreamInfo{
			InputLatency:  Time(si.inputLatency),
			OutputLatency: Time(si.outputLatency),
			SampleRate:    float64(si.sampleRate),
		}
		return C.paNoError
	})
	return info, err
}

// CPULoad returns the fraction of callback time budget in use.
func (s *Stream) CPULoad() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pa == nil {
		return 0
	}
	return float64(C.Pa_GetStreamCpuLoad((*C.PaStream)(s.pa)))
}
