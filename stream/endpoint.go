package stream

// AudioSource supplies samples to a Player.
//
// Pull runs on the engine's real-time thread. It writes up to numFrames
// interleaved frames into buf and returns the number of frames written. When
// no data is available it returns early rather than blocking; a return of 0
// means the source is exhausted.
type AudioSource interface {
	Init(numFrames, channelCount int)
	Pull(buf []float32, numFrames, channelCount int) int
}

// AudioSink receives samples from a Recorder.
//
// Start and Stop bracket the active period. Push runs on the engine's
// real-time thread and must not block.
type AudioSink interface {
	Init(numFrames, channelCount int)
	Start()
	Stop()
	Push(buf []float32, numFrames, channelCount int)
}

// SourceProvider allocates sources for builders and the bridge.
type SourceProvider interface {
	AllocSource() AudioSource
}

// SinkProvider allocates sinks for builders and the bridge.
type SinkProvider interface {
	AllocSink() AudioSink
}

// SourceProviderFunc adapts a function to SourceProvider.
type SourceProviderFunc func() AudioSource

func (f SourceProviderFunc) AllocSource() AudioSource { return f() }

// SinkProviderFunc adapts a function to SinkProvider.
type SinkProviderFunc func() AudioSink

func (f SinkProviderFunc) AllocSink() AudioSink { return f() }
