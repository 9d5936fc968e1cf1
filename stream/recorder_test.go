package stream_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drgolem/go-duplexaudio/backend/mock"
	"github.com/drgolem/go-duplexaudio/stream"
)

func TestRecorderLifecycle(t *testing.T) {
	be := mock.New()
	sink := &recordingSink{}
	r := stream.NewRecorder(sink, stream.SubtypeNative, backendsFor(be), quiet)
	defer r.Close()

	require.True(t, r.SetupStream(1, 48000, stream.RouteDefault))
	assert.Equal(t, int32(mock.DefaultBurst), r.BufferFrameCount())
	assert.Equal(t, stream.DirectionInput, be.Last().Config().Direction)
	assert.Equal(t, int64(1), sink.inits.Load())

	require.True(t, r.StartStream())
	assert.True(t, r.IsRecording())
	assert.Equal(t, int64(2), sink.inits.Load(), "sink is initialised again before start")
	assert.True(t, sink.started.Load())

	r.StopStream()
	assert.False(t, r.IsRecording())
	assert.Equal(t, int64(1), sink.stops.Load())

	r.TeardownStream()
	assert.False(t, r.IsRecording())
	assert.Equal(t, int64(1), sink.stops.Load(), "teardown after stop does not stop the sink twice")
}

func TestRecorderTeardownStopsActiveSink(t *testing.T) {
	be := mock.New()
	sink := &recordingSink{}
	r := stream.NewRecorder(sink, stream.SubtypeNative, backendsFor(be), quiet)
	defer r.Close()

	require.True(t, r.SetupStream(2, 48000, stream.RouteDefault))
	require.True(t, r.StartStream())
	r.TeardownStream()

	assert.False(t, sink.started.Load())
	assert.False(t, r.IsRecording())
}

func TestRecorderAlwaysContinues(t *testing.T) {
	be := mock.New(mock.WithBurst(32), mock.WithInput(func(buf []float32, _, _ int) {
		for i := range buf {
			buf[i] = 0.5
		}
	}))
	sink := &recordingSink{}
	r := stream.NewRecorder(sink, stream.SubtypeNative, backendsFor(be), quiet)
	defer r.Close()

	require.True(t, r.SetupStream(2, 48000, stream.RouteDefault))
	require.True(t, r.StartStream())

	for i := 0; i < 5; i++ {
		res, ok := be.Last().Tick()
		require.True(t, ok)
		assert.Equal(t, stream.Continue, res)
	}
	assert.Equal(t, int64(5), sink.pushes.Load())
	assert.Equal(t, int64(5*32), sink.frames.Load())

	r.SetSink(nil)
	res, _ := be.Last().Tick()
	assert.Equal(t, stream.Continue, res)
}

func TestRecorderStartFailureStopsSink(t *testing.T) {
	be := mock.New()
	sink := &recordingSink{}
	r := stream.NewRecorder(sink, stream.SubtypeNative, backendsFor(be), quiet)
	defer r.Close()

	be.FailNextStart(1)
	require.True(t, r.SetupStream(1, 16000, stream.RouteDefault))
	assert.False(t, r.StartStream())
	assert.False(t, r.IsOpen())
	assert.Equal(t, int64(1), sink.starts.Load())
	assert.Equal(t, int64(1), sink.stops.Load())
	assert.ErrorIs(t, r.LastError(), stream.ErrStartFailed)
}

func TestRecorderInputPreset(t *testing.T) {
	be := mock.New()
	r := stream.NewRecorder(&recordingSink{}, stream.SubtypeLegacy, backendsFor(be), quiet)
	defer r.Close()

	assert.Equal(t, stream.PresetVoiceRecognition, r.InputPreset())
	r.SetInputPreset(stream.PresetUnprocessed)
	require.True(t, r.SetupStream(1, 48000, stream.RouteDefault))
	assert.Equal(t, stream.PresetUnprocessed, be.Last().Config().InputPreset)
}

func TestRecorderDoesNotRecover(t *testing.T) {
	be := mock.New()
	r := stream.NewRecorder(&recordingSink{}, stream.SubtypeNative, backendsFor(be), quiet,
		stream.WithRetryPolicy(stream.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond}))
	defer r.Close()

	require.True(t, r.SetupStream(1, 48000, stream.RouteDefault))
	require.True(t, r.StartStream())
	be.Last().Disconnect(nil)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, be.OpenCount())
}

func TestRecorderStartBeforeSetup(t *testing.T) {
	sink := &recordingSink{}
	r := stream.NewRecorder(sink, stream.SubtypeNative, backendsFor(mock.New()), quiet)
	defer r.Close()

	assert.False(t, r.StartStream())
	assert.False(t, r.IsRecording())
	assert.Equal(t, int64(0), sink.starts.Load())
}
