package stream

import "sync/atomic"

const recorderBurstFactor = 1

// InputPreset tunes the capture path for a use case. The values follow the
// platform's audio source identifiers.
type InputPreset int

const (
	PresetGeneric            InputPreset = 1
	PresetCamcorder          InputPreset = 5
	PresetVoiceRecognition   InputPreset = 6
	PresetVoiceCommunication InputPreset = 7
	PresetUnprocessed        InputPreset = 9
	PresetVoicePerformance   InputPreset = 10
)

func (p InputPreset) String() string {
	switch p {
	case PresetGeneric:
		return "generic"
	case PresetCamcorder:
		return "camcorder"
	case PresetVoiceRecognition:
		return "voice_recognition"
	case PresetVoiceCommunication:
		return "voice_communication"
	case PresetUnprocessed:
		return "unprocessed"
	case PresetVoicePerformance:
		return "voice_performance"
	default:
		return "unknown"
	}
}

type sinkRef struct{ sink AudioSink }

// Recorder drains an input stream into an AudioSink.
type Recorder struct {
	controller

	sink   atomic.Pointer[sinkRef]
	preset atomic.Int32
}

// NewRecorder returns a recorder that pushes captured frames into sink on
// the backend chosen by subtype. sink is borrowed and must outlive any open
// stream.
func NewRecorder(sink AudioSink, subtype Subtype, backends Backends, opts ...Option) *Recorder {
	r := &Recorder{}
	r.sink.Store(&sinkRef{sink: sink})
	r.preset.Store(int32(PresetVoiceRecognition))
	r.initController("recorder", DirectionInput, recorderBurstFactor, subtype, backends, r, hooks{
		initEndpoint: r.initSink,
		configure: func(cfg *StreamConfig) {
			cfg.InputPreset = InputPreset(r.preset.Load())
		},
		beforeStart: func(bufferFrames, channelCount int) {
			if s := r.Sink(); s != nil {
				s.Init(bufferFrames, channelCount)
				s.Start()
			}
		},
		afterStop: func() {
			if s := r.Sink(); s != nil {
				s.Stop()
			}
		},
	}, opts)
	return r
}

// SetInputPreset sets the preset used by the next setup.
func (r *Recorder) SetInputPreset(p InputPreset) {
	r.preset.Store(int32(p))
}

// InputPreset returns the preset used by the next setup.
func (r *Recorder) InputPreset() InputPreset {
	return InputPreset(r.preset.Load())
}

// IsRecording reports whether the capture stream is started.
func (r *Recorder) IsRecording() bool {
	return r.IsStarted()
}

// SetSink swaps the attached sink. The swap is visible to the next callback.
func (r *Recorder) SetSink(sink AudioSink) {
	r.sink.Store(&sinkRef{sink: sink})
}

// Sink returns the attached sink.
func (r *Recorder) Sink() AudioSink {
	if ref := r.sink.Load(); ref != nil {
		return ref.sink
	}
	return nil
}

func (r *Recorder) initSink(numFrames, channelCount int) {
	if s := r.Sink(); s != nil {
		s.Init(numFrames, channelCount)
	}
}

// OnAudioReady pushes the captured frames to the sink. Capture has no end
// of data, so it always continues.
func (r *Recorder) OnAudioReady(s Stream, buf []float32, numFrames int) CallbackResult {
	r.counters.callbacks.Inc()
	r.checkState(s)

	if ref := r.sink.Load(); ref != nil && ref.sink != nil {
		channels := s.ChannelCount()
		ref.sink.Push(buf[:numFrames*channels], numFrames, channels)
		r.counters.frames.Add(float64(numFrames))
	}
	return Continue
}

// OnErrorBeforeClose logs the error.
func (r *Recorder) OnErrorBeforeClose(_ Stream, err error) {
	r.onErrorBeforeClose(err)
}

// OnErrorAfterClose logs the error. Capture streams are not restarted
// automatically.
func (r *Recorder) OnErrorAfterClose(_ Stream, err error) {
	r.log.Warn().Err(err).Msg("capture stream closed by platform")
}
