package portaudio

/*
#cgo pkg-config: portaudio-2.0
#include <portaudio.h>
#include <stdlib.h>

extern int goStreamCallback(void *input, void *output,
                            unsigned long frameCount,
                            unsigned long statusFlags,
                            long streamId);

static int streamCallback(const void *input, void *output,
                          unsigned long frameCount,
                          const PaStreamCallbackTimeInfo* timeInfo,
                          PaStreamCallbackFlags statusFlags,
                          void *userData) {
    long id = *(long*)userData;
    return goStreamCallback((void*)input, output, frameCount,
                            (unsigned long)statusFlags, id);
}

static int openCallbackStream(PaStream** stream,
                              const PaStreamParameters* in,
                              const PaStreamParameters* out,
                              double sampleRate,
                              unsigned long framesPerBuffer,
                              unsigned long flags,
                              void *userData) {
    return Pa_OpenStream(stream, in, out, sampleRate, framesPerBuffer,
                         (PaStreamFlags)flags, streamCallback, userData);
}
*/
import "C"
import (
	"fmt"
	"os"
	"sync"
	"unsafe"
)

// Callback exchanges one buffer of interleaved float32 frames. in is nil
// for output streams and out is nil for input streams.
//
// It runs on a PortAudio thread: no allocation, no blocking, no locks held
// by control code.
type Callback func(in, out []float32, frames int, flags CallbackFlags) CallbackResult

// CallbackResult tells PortAudio whether to keep calling.
type CallbackResult int

const (
	Continue CallbackResult = 0
	// Complete stops the stream once queued output has played.
	Complete CallbackResult = 1
	// Abort stops the stream immediately.
	Abort CallbackResult = 2
)

// CallbackFlags report under/overflow conditions for the buffer.
type CallbackFlags uint

const (
	InputUnderflow  CallbackFlags = 0x00000001
	InputOverflow   CallbackFlags = 0x00000002
	OutputUnderflow CallbackFlags = 0x00000004
	OutputOverflow  CallbackFlags = 0x00000008
	PrimingOutput   CallbackFlags = 0x00000010
)

// Xrun reports whether any under/overflow flag is set.
func (f CallbackFlags) Xrun() bool {
	return f&(InputUnderflow|InputOverflow|OutputUnderflow|OutputOverflow) != 0
}

type registration struct {
	cb          Callback
	inChannels  int
	outChannels int
}

// Streams are looked up by integer id so no Go pointer crosses into C.
var (
	registry   = make(map[int]*registration)
	registryMu sync.RWMutex
	nextID     = 1
)

func register(r *registration) int {
	registryMu.Lock()
	defer registryMu.Unlock()
	id := nextID
	nextID++
	registry[id] = r
	return id
}

func unregister(id int) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, id)
}

func lookup(id int) (*registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[id]
	return r, ok
}

// openCallback opens a PortAudio stream bound to registration id. The
// returned C pointer holds the id and must be freed after close.
func openCallback(in, out *C.PaStreamParameters, rate float64, framesPerBuffer int, flags StreamFlags, id int) (unsafe.Pointer, unsafe.Pointer, error) {
	idPtr := (*C.long)(C.malloc(C.size_t(unsafe.Sizeof(C.long(0)))))
	*idPtr = C.long(id)

	var pa *C.PaStream
	code := C.openCallbackStream(&pa, in, out,
		C.double(rate), C.ulong(framesPerBuffer), C.ulong(flags), unsafe.Pointer(idPtr))
	if err := newError(C.PaError(code)); err != nil {
		C.free(unsafe.Pointer(idPtr))
		return nil, nil, err
	}
	return unsafe.Pointer(pa), unsafe.Pointer(idPtr), nil
}

func freeID(p unsafe.Pointer) {
	if p != nil {
		C.free(p)
	}
}

//export goStreamCallback
func goStreamCallback(input, output unsafe.Pointer, frameCount C.ulong, statusFlags C.ulong, id C.long) (result C.int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "portaudio: panic in stream %d callback: %v\n", id, r)
			result = C.int(Abort)
		}
	}()

	reg, ok := lookup(int(id))
	if !ok {
		return C.int(Abort)
	}

	frames := int(frameCount)
	var in, out []float32
	if input != nil && reg.inChannels > 0 {
		in = unsafe.Slice((*float32)(input), frames*reg.inChannels)
	}
	if output != nil && reg.outChannels > 0 {
		out = unsafe.Slice((*float32)(output), frames*reg.outChannels)
	}
	return C.int(reg.cb(in, out, frames, CallbackFlags(statusFlags)))
}
