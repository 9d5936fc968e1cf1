// Package portaudio is a small cgo binding over the PortAudio C library,
// narrowed to what a low-latency stream backend needs: reference-counted
// library lifetime, device and host API enumeration, and float32 callback
// streams with explicit suggested latency.
//
// # Quick Start
//
//	portaudio.Initialize()
//	defer portaudio.Terminate()
//
//	dev, _ := portaudio.DefaultOutputDevice()
//	s, _ := portaudio.OpenStream(portaudio.OpenParams{
//	    Output:     &portaudio.StreamParameters{Device: dev.Index, Channels: 2},
//	    SampleRate: 48000,
//	}, func(in, out []float32, frames int, flags portaudio.CallbackFlags) portaudio.CallbackResult {
//	    clear(out)
//	    return portaudio.Continue
//	})
//	defer s.Close()
//	s.Start()
//
// # Thread Safety
//
// Initialize and Terminate are safe from any goroutine. A Stream serializes
// its own control calls; the callback itself runs on a PortAudio thread and
// must not allocate or block.
package portaudio

/*
#cgo pkg-config: portaudio-2.0
#include <portaudio.h>

PaDeviceIndex Pa_GetDefaultInputDevice(void);
PaDeviceIndex Pa_GetDefaultOutputDevice(void);
const PaHostErrorInfo* Pa_GetLastHostErrorInfo(void);
*/
import "C"
import (
	"errors"
	"fmt"
	"sync"
)

var (
	// refs counts Initialize calls not yet matched by Terminate.
	refs   int
	refsMu sync.Mutex
)

// ErrNoDevice is returned when a default device is requested and the host
// has none.
var ErrNoDevice = errors.New("portaudio: no device available")

// Time is a PortAudio time value in seconds.
type Time float64

// Frames converts t to a frame count at rate, rounding to nearest.
func (t Time) Frames(rate float64) int {
	return int(float64(t)*rate + 0.5)
}

// TimeForFrames is the inverse of Time.Frames.
func TimeForFrames(frames int, rate float64) Time {
	if rate <= 0 {
		return 0
	}
	return Time(float64(frames) / rate)
}

// StreamFlags are PaStreamFlags passed at open.
type StreamFlags uint

const (
	NoFlag                                StreamFlags = 0x00000000
	ClipOff                               StreamFlags = 0x00000001
	DitherOff                             StreamFlags = 0x00000002
	NeverDropInput                        StreamFlags = 0x00000004
	PrimeOutputBuffersUsingStreamCallback StreamFlags = 0x00000008
)

// Error wraps a PaError code.
type Error struct {
	Code int
}

func (e *Error) Error() string {
	return "portaudio: " + ErrorText(e.Code)
}

// HostError carries the host API detail behind paUnanticipatedHostError.
type HostError struct {
	HostAPIType int
	Code        int
	Text        string
}

func (e *HostError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("portaudio: host API %d error %d: %s", e.HostAPIType, e.Code, e.Text)
	}
	return fmt.Sprintf("portaudio: host API %d error %d", e.HostAPIType, e.Code)
}

// ErrorText returns PortAudio's description of code.
func ErrorText(code int) string {
	return C.GoString(C.Pa_GetErrorText(C.PaError(code)))
}

func newError(code C.PaError) error {
	if code >= C.paNoError {
		return nil
	}
	if code == C.paUnanticipatedHostError {
		if hi := C.Pa_GetLastHostErrorInfo(); hi != nil {
			return &HostError{
				HostAPIType: int(hi.hostApiType),
				Code:        int(hi.errorCode),
				Text:        C.GoString(hi.errorText),
			}
		}
	}
	return &Error{Code: int(code)}
}

// Version returns the library version number and text.
func Version() (int, string) {
	vi := C.Pa_GetVersionInfo()
	return int(C.Pa_GetVersion()), C.GoString(vi.versionText)
}

// Initialize initializes the library. Calls nest: the library is only torn
// down by the Terminate matching the first Initialize.
func Initialize() error {
	refsMu.Lock()
	defer refsMu.Unlock()

	if refs == 0 {
		if err := newError(C.Pa_Initialize()); err != nil {
			return err
		}
	}
	refs++
	return nil
}

// Terminate releases one Initialize reference.
func Terminate() error {
	refsMu.Lock()
	defer refsMu.Unlock()

	if refs == 0 {
		return nil
	}
	if refs == 1 {
		if err := newError(C.Pa_Terminate()); err != nil {
			return err
		}
	}
	refs--
	return nil
}

// DeviceInfo describes one device.
type DeviceInfo struct {
	Index                    int
	Name                     string
	HostAPI                  int
	MaxInputChannels         int
	MaxOutputChannels        int
	DefaultLowInputLatency   Time
	DefaultLowOutputLatency  Time
	DefaultHighInputLatency  Time
	DefaultHighOutputLatency Time
	DefaultSampleRate        float64
}

// LowLatency returns the device's low latency for the given direction.
func (d *DeviceInfo) LowLatency(input bool) Time {
	if input {
		return d.DefaultLowInputLatency
	}
	return d.DefaultLowOutputLatency
}

// MaxChannels returns the channel limit for the given direction.
func (d *DeviceInfo) MaxChannels(input bool) int {
	if input {
		return d.MaxInputChannels
	}
	return d.MaxOutputChannels
}

// Device returns the device at index.
func Device(index int) (*DeviceInfo, error) {
	di := C.Pa_GetDeviceInfo(C.PaDeviceIndex(index))
	if di == nil {
		return nil, fmt.Errorf("portaudio: invalid device index %d", index)
	}
	return &DeviceInfo{
		Index:                    index,
		Name:                     C.GoString(di.name),
		HostAPI:                  int(di.hostApi),
		MaxInputChannels:         int(di.maxInputChannels),
		MaxOutputChannels:        int(di.maxOutputChannels),
		DefaultLowInputLatency:   Time(di.defaultLowInputLatency),
		DefaultLowOutputLatency:  Time(di.defaultLowOutputLatency),
		DefaultHighInputLatency:  Time(di.defaultHighInputLatency),
		DefaultHighOutputLatency: Time(di.defaultHighOutputLatency),
		DefaultSampleRate:        float64(di.defaultSampleRate),
	}, nil
}

// Devices lists every device the library sees.
func Devices() ([]*DeviceInfo, error) {
	n := int(C.Pa_GetDeviceCount())
	if n < 0 {
		return nil, newError(C.PaError(n))
	}
	out := make([]*DeviceInfo, 0, n)
	for i := 0; i < n; i++ {
		d, err := Device(i)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DefaultInputDevice returns the host's default capture device.
func DefaultInputDevice() (*DeviceInfo, error) {
	idx := int(C.Pa_GetDefaultInputDevice())
	if idx < 0 {
		return nil, fmt.Errorf("%w: no default input", ErrNoDevice)
	}
	return Device(idx)
}

// DefaultOutputDevice returns the host's default playback device.
func DefaultOutputDevice() (*DeviceInfo, error) {
	idx := int(C.Pa_GetDefaultOutputDevice())
	if idx < 0 {
		return nil, fmt.Errorf("%w: no default output", ErrNoDevice)
	}
	return Device(idx)
}

// HostAPIInfo describes one host API (ALSA, CoreAudio, WASAPI, ...).
type HostAPIInfo struct {
	Index               int
	Type                int
	Name                string
	DeviceCount         int
	DefaultInputDevice  int
	DefaultOutputDevice int
}

// HostAPIs lists the compiled-in host APIs.
func HostAPIs() ([]*HostAPIInfo, error) {
	n := int(C.Pa_GetHostApiCount())
	if n < 0 {
		return nil, newError(C.PaError(n))
	}
	out := make([]*HostAPIInfo, 0, n)
	for i := 0; i < n; i++ {
		hi := C.Pa_GetHostApiInfo(C.PaHostApiIndex(i))
		if hi == nil {
			return nil, fmt.Errorf("portaudio: invalid host API index %d", i)
		}
		out = append(out, &HostAPIInfo{
			Index:               i,
			Type:                int(hi._type),
			Name:                C.GoString(hi.name),
			DeviceCount:         int(hi.deviceCount),
			DefaultInputDevice:  int(hi.defaultInputDevice),
			DefaultOutputDevice: int(hi.defaultOutputDevice),
		})
	}
	return out, nil
}
