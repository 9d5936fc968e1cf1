package stream

// Direction is the data direction of a stream.
type Direction int

const (
	DirectionOutput Direction = iota
	DirectionInput
)

func (d Direction) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// SharingMode requests exclusive or shared access to the device.
type SharingMode int

const (
	SharingExclusive SharingMode = iota
	SharingShared
)

// PerformanceMode trades latency against power.
type PerformanceMode int

const (
	PerformanceLowLatency PerformanceMode = iota
	PerformanceNone
	PerformancePowerSaving
)

// State is the lifecycle state a backend reports for an open stream.
type State int

const (
	StateUninitialized State = iota
	StateOpen
	StateStarting
	StateStarted
	StateStopping
	StateStopped
	StateClosing
	StateClosed
	StateDisconnected
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateOpen:          "open",
	StateStarting:      "starting",
	StateStarted:       "started",
	StateStopping:      "stopping",
	StateStopped:       "stopped",
	StateClosing:       "closing",
	StateClosed:        "closed",
	StateDisconnected:  "disconnected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CallbackResult tells the engine whether to keep invoking the data callback.
type CallbackResult int

const (
	// Continue keeps the stream running.
	Continue CallbackResult = iota
	// Stop asks the engine to stop the stream after this buffer.
	Stop
)

func (r CallbackResult) String() string {
	if r == Stop {
		return "stop"
	}
	return "continue"
}

// RouteDefault is the route device sentinel meaning "no preference".
const RouteDefault = -1

// Callback is implemented by controllers and invoked by a backend engine.
//
// OnAudioReady runs on the engine's real-time thread. buf holds
// numFrames*channelCount interleaved float32 samples: the callee fills it for
// output streams and reads it for input streams. Implementations must not
// block or allocate.
type Callback interface {
	OnAudioReady(s Stream, buf []float32, numFrames int) CallbackResult
	OnErrorBeforeClose(s Stream, err error)
	OnErrorAfterClose(s Stream, err error)
}

// StreamConfig describes the stream a controller asks a backend to open.
type StreamConfig struct {
	Direction       Direction
	SharingMode     SharingMode
	PerformanceMode PerformanceMode
	ChannelCount    int
	SampleRate      int
	// DeviceID is RouteDefault unless a specific device was requested.
	DeviceID int
	// InputPreset only applies to input streams.
	InputPreset InputPreset
	Callback    Callback
}

// Stream is an open backend stream. It is owned by exactly one controller.
type Stream interface {
	Start() error
	Stop() error
	Close() error

	State() State
	Direction() Direction
	ChannelCount() int
	SampleRate() int
	DeviceID() int

	FramesPerBurst() int
	BufferSizeInFrames() int
	// SetBufferSizeInFrames requests a new buffer size and returns the size
	// actually applied. Backends that cannot resize an open stream return
	// ErrTuningUnsupported.
	SetBufferSizeInFrames(frames int) (int, error)
}

// Backend opens streams on one platform audio API.
type Backend interface {
	Name() string
	Open(cfg StreamConfig) (Stream, error)
}

// WorkaroundSetter is implemented by backends that apply platform
// workarounds which can be switched off to observe unmodified behavior.
type WorkaroundSetter interface {
	SetWorkaroundsEnabled(enabled bool)
}
