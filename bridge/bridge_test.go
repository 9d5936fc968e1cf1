package bridge

import (
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drgolem/go-duplexaudio/backend/mock"
	"github.com/drgolem/go-duplexaudio/sink"
	"github.com/drgolem/go-duplexaudio/source"
	"github.com/drgolem/go-duplexaudio/stream"
)

func newTestBridge(be *mock.Backend) *Bridge {
	quiet := zerolog.New(io.Discard)
	return New(stream.Backends{
		stream.SubtypeNative: be,
		stream.SubtypeLegacy: be,
	}, WithLogger(quiet), WithStreamOptions(stream.WithLogger(quiet)))
}

type closingSink struct {
	*sink.LevelMeter
	closed int
	err    error
}

func (c *closingSink) Close() error {
	c.closed++
	return c.err
}

func TestPlayerScenario(t *testing.T) {
	be := mock.New()
	b := newTestBridge(be)
	defer b.Close()

	ep := b.RegisterSource(source.NewSine(440, 0.5, 48000))
	require.NotEqual(t, Invalid, ep)
	h := b.Allocate(ep, int32(stream.SubtypeNative))
	require.NotEqual(t, Invalid, h)

	require.True(t, b.SetupStream(h, 2, 48000, stream.RouteDefault))
	assert.Equal(t, int32(mock.DefaultBurst*2), b.GetBufferFrameCount(h))
	assert.Equal(t, int32(mock.DefaultDeviceID), b.GetRoutedDeviceID(h))
	assert.False(t, b.SetupStream(h, 2, 48000, stream.RouteDefault), "already open")

	require.True(t, b.StartStream(h))
	assert.True(t, b.StopStream(h))
	assert.True(t, b.TeardownStream(h))
	assert.True(t, b.TeardownStream(h), "teardown twice")
	assert.False(t, b.IsRecording(h))
	assert.Equal(t, int32(0), b.GetBufferFrameCount(h))

	assert.False(t, b.SetInputPreset(h, int32(stream.PresetUnprocessed)), "players take no preset")
}

func TestRecorderScenario(t *testing.T) {
	be := mock.New()
	b := newTestBridge(be)
	defer b.Close()

	meter := sink.NewLevelMeter()
	h := b.Allocate(b.RegisterSink(meter), int32(stream.SubtypeLegacy))
	require.NotEqual(t, Invalid, h)

	require.True(t, b.SetInputPreset(h, int32(stream.PresetUnprocessed)))
	require.True(t, b.SetupStream(h, 1, 48000, 7))
	assert.Equal(t, int32(mock.DefaultBurst), b.GetBufferFrameCount(h))
	assert.Equal(t, int32(7), b.GetRoutedDeviceID(h))
	assert.Equal(t, stream.PresetUnprocessed, be.Last().Config().InputPreset)

	require.True(t, b.StartStream(h))
	assert.True(t, b.IsRecording(h))
	be.Last().Tick()
	assert.Equal(t, uint64(mock.DefaultBurst), meter.Frames())

	st, err := b.Status(h)
	require.NoError(t, err)
	assert.Equal(t, "recorder", st.Role)
	assert.Equal(t, "legacy", st.Subtype)
	assert.True(t, st.Started)
	assert.Equal(t, "unprocessed", st.InputPreset)

	assert.True(t, b.StopStream(h))
	assert.False(t, b.IsRecording(h))
}

func TestInvalidSubtype(t *testing.T) {
	be := mock.New()
	b := newTestBridge(be)
	defer b.Close()

	h := b.Allocate(b.RegisterSource(source.Silence{}), 99)
	require.NotEqual(t, Invalid, h)
	assert.False(t, b.SetupStream(h, 2, 48000, stream.RouteDefault))
	assert.Equal(t, int32(0), b.GetBufferFrameCount(h))
	assert.Equal(t, 0, be.OpenCount())

	st, err := b.Status(h)
	require.NoError(t, err)
	assert.Contains(t, st.LastError, stream.ErrUnknownSubtype.Error())
}

func TestStartBeforeSetup(t *testing.T) {
	b := newTestBridge(mock.New())
	defer b.Close()

	h := b.Allocate(b.RegisterSource(source.Silence{}), int32(stream.SubtypeNative))
	assert.False(t, b.StartStream(h))
	assert.True(t, b.StopStream(h))
}

func TestStartFailureLeavesNoHandle(t *testing.T) {
	be := mock.New()
	b := newTestBridge(be)
	defer b.Close()

	h := b.Allocate(b.RegisterSource(source.Silence{}), int32(stream.SubtypeNative))
	require.True(t, b.SetupStream(h, 2, 48000, stream.RouteDefault))
	be.FailNextStart(1)
	assert.False(t, b.StartStream(h))
	assert.True(t, b.SetupStream(h, 2, 48000, stream.RouteDefault))
}

func TestUnknownHandles(t *testing.T) {
	b := newTestBridge(mock.New())
	defer b.Close()

	for _, h := range []Handle{Invalid, 42, -1} {
		assert.Equal(t, Invalid, b.Allocate(h, 1))
		assert.False(t, b.SetupStream(h, 2, 48000, stream.RouteDefault))
		assert.False(t, b.StartStream(h))
		assert.False(t, b.StopStream(h))
		assert.False(t, b.TeardownStream(h))
		assert.Equal(t, int32(0), b.GetBufferFrameCount(h))
		assert.Equal(t, int32(stream.RouteDefault), b.GetRoutedDeviceID(h))
		assert.False(t, b.SetInputPreset(h, 1))
		assert.False(t, b.IsRecording(h))
		assert.False(t, b.Release(h))
		assert.False(t, b.UnregisterEndpoint(h))
		_, err := b.Status(h)
		assert.ErrorIs(t, err, ErrUnknownHandle)
	}

	assert.Equal(t, Invalid, b.RegisterSource(nil))
	assert.Equal(t, Invalid, b.RegisterSink(nil))

	// endpoint handles are not controller handles
	ep := b.RegisterSource(source.Silence{})
	assert.False(t, b.StartStream(ep))
}

func TestReleaseAndUnregister(t *testing.T) {
	be := mock.New()
	b := newTestBridge(be)

	cs := &closingSink{LevelMeter: sink.NewLevelMeter()}
	ep := b.RegisterSink(cs)
	h := b.Allocate(ep, int32(stream.SubtypeNative))
	require.True(t, b.SetupStream(h, 1, 48000, stream.RouteDefault))
	require.True(t, b.StartStream(h))

	assert.False(t, b.UnregisterEndpoint(ep), "in use")
	assert.True(t, b.Release(h))
	assert.Equal(t, stream.StateClosed, be.Last().State())
	assert.False(t, b.Release(h), "released twice")

	assert.True(t, b.UnregisterEndpoint(ep))
	assert.Equal(t, 1, cs.closed)
	assert.False(t, b.UnregisterEndpoint(ep))
	require.NoError(t, b.Close())
}

func TestEndpointServesOneController(t *testing.T) {
	be := mock.New()
	b := newTestBridge(be)
	defer b.Close()

	src := b.RegisterSource(source.NewSine(440, 0.5, 48000))
	first := b.Allocate(src, int32(stream.SubtypeNative))
	require.NotEqual(t, Invalid, first)
	assert.Equal(t, Invalid, b.Allocate(src, int32(stream.SubtypeLegacy)), "source in use")

	snk := b.RegisterSink(sink.NewLevelMeter())
	rec := b.Allocate(snk, int32(stream.SubtypeNative))
	require.NotEqual(t, Invalid, rec)
	assert.Equal(t, Invalid, b.Allocate(snk, int32(stream.SubtypeNative)), "sink in use")
	assert.Len(t, b.List(), 2)

	require.True(t, b.Release(first))
	again := b.Allocate(src, int32(stream.SubtypeNative))
	require.NotEqual(t, Invalid, again)
	assert.True(t, b.SetupStream(again, 2, 48000, stream.RouteDefault))
}

func TestCloseReleasesEverything(t *testing.T) {
	be := mock.New()
	b := newTestBridge(be)

	bad := &closingSink{LevelMeter: sink.NewLevelMeter(), err: errors.New("disk full")}
	p := b.Allocate(b.RegisterSource(source.Silence{}), int32(stream.SubtypeNative))
	r := b.Allocate(b.RegisterSink(bad), int32(stream.SubtypeNative))
	require.True(t, b.SetupStream(p, 2, 48000, stream.RouteDefault))
	require.True(t, b.SetupStream(r, 1, 48000, stream.RouteDefault))

	list := b.List()
	require.Len(t, list, 2)
	assert.Equal(t, p, list[0].Handle)
	assert.Equal(t, "player", list[0].Role)
	assert.Equal(t, r, list[1].Handle)

	assert.Error(t, b.Close())
	assert.Equal(t, 1, bad.closed)
	assert.Empty(t, b.List())
	for _, s := range be.Streams() {
		assert.Equal(t, stream.StateClosed, s.State())
	}
}
