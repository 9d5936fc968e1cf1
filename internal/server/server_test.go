package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drgolem/go-duplexaudio/backend/mock"
	"github.com/drgolem/go-duplexaudio/bridge"
	"github.com/drgolem/go-duplexaudio/internal/config"
	"github.com/drgolem/go-duplexaudio/stream"
)

type harness struct {
	t      *testing.T
	be     *mock.Backend
	bridge *bridge.Bridge
	srv    *Server
}

func newHarness(t *testing.T) *harness {
	quiet := zerolog.New(io.Discard)
	be := mock.New(mock.WithInput(func(buf []float32, numFrames, channelCount int) {
		for i := range buf[:numFrames*channelCount] {
			buf[i] = 0.5
		}
	}))
	b := bridge.New(stream.Backends{stream.SubtypeNative: be, stream.SubtypeLegacy: be},
		bridge.WithLogger(quiet), bridge.WithStreamOptions(stream.WithLogger(quiet)))
	t.Cleanup(func() { b.Close() })

	cfg := config.Default()
	cfg.Backend = config.BackendMock
	cfg.RecordDir = t.TempDir()
	return &harness{t: t, be: be, bridge: b, srv: New(b, &cfg, quiet)}
}

func (h *harness) do(method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func handlePath(prefix string, v any) string {
	return prefix + strconv.Itoa(int(v.(float64)))
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPlayerLifecycle(t *testing.T) {
	h := newHarness(t)

	code, ep := h.do(http.MethodPost, "/endpoints/sources", obj{"kind": "sine", "frequency": 1000})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "sine", ep["kind"])

	code, ctl := h.do(http.MethodPost, "/controllers", obj{"endpoint": ep["handle"], "subtype": "native"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "player", ctl["role"])
	base := handlePath("/controllers/", ctl["handle"])

	code, res := h.do(http.MethodPost, base+"/setup", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, res["ok"])
	status := res["status"].(map[string]any)
	assert.Equal(t, float64(mock.DefaultBurst*2), status["buffer_frames"])
	assert.Equal(t, float64(mock.DefaultDeviceID), status["device_id"])

	_, res = h.do(http.MethodPost, base+"/setup", nil)
	assert.Equal(t, false, res["ok"], "already open")

	_, res = h.do(http.MethodPost, base+"/start", nil)
	require.Equal(t, true, res["ok"])
	_, ok := h.be.Last().Tick()
	require.True(t, ok)
	assert.NotEmpty(t, h.be.Last().LastOutput())

	_, res = h.do(http.MethodPost, base+"/stop", nil)
	assert.Equal(t, true, res["ok"])
	_, res = h.do(http.MethodPost, base+"/teardown", nil)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, false, res["status"].(map[string]any)["open"])

	_, res = h.do(http.MethodPut, base+"/input_preset", obj{"preset": 9})
	assert.Equal(t, false, res["ok"], "players take no preset")

	code, _ = h.do(http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = h.do(http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRecorderWithMeter(t *testing.T) {
	h := newHarness(t)

	code, ep := h.do(http.MethodPost, "/endpoints/sinks", obj{"kind": "meter"})
	require.Equal(t, http.StatusCreated, code)
	epPath := handlePath("/endpoints/", ep["handle"])

	_, ctl := h.do(http.MethodPost, "/controllers", obj{"endpoint": ep["handle"], "subtype": "2"})
	base := handlePath("/controllers/", ctl["handle"])

	_, res := h.do(http.MethodPut, base+"/input_preset", obj{"preset": int(stream.PresetUnprocessed)})
	require.Equal(t, true, res["ok"])
	_, res = h.do(http.MethodPost, base+"/setup", obj{"channel_count": 1, "sample_rate": 16000, "route_device_id": 5})
	require.Equal(t, true, res["ok"])
	assert.Equal(t, float64(5), res["status"].(map[string]any)["device_id"])
	assert.Equal(t, 16000, h.be.Last().SampleRate())

	_, res = h.do(http.MethodPost, base+"/start", nil)
	require.Equal(t, true, res["ok"])
	assert.Equal(t, true, res["status"].(map[string]any)["started"])
	h.be.Last().Tick()

	code, view := h.do(http.MethodGet, epPath, nil)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 0.5, view["peak"], 1e-6)
	assert.Equal(t, float64(mock.DefaultBurst), view["frames"])

	code, _ = h.do(http.MethodDelete, epPath, nil)
	assert.Equal(t, http.StatusConflict, code, "endpoint in use")
	h.do(http.MethodDelete, base, nil)
	code, _ = h.do(http.MethodDelete, epPath, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestWAVSink(t *testing.T) {
	h := newHarness(t)
	code, ep := h.do(http.MethodPost, "/endpoints/sinks", obj{"kind": "wav", "channels": 1})
	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, ep["path"])

	_, ctl := h.do(http.MethodPost, "/controllers", obj{"endpoint": ep["handle"]})
	base := handlePath("/controllers/", ctl["handle"])
	_, res := h.do(http.MethodPost, base+"/setup", obj{"channel_count": 1})
	require.Equal(t, true, res["ok"])
	h.do(http.MethodPost, base+"/start", nil)
	h.be.Last().Tick()
	h.do(http.MethodPost, base+"/stop", nil)

	_, view := h.do(http.MethodGet, handlePath("/endpoints/", ep["handle"]), nil)
	assert.Equal(t, float64(mock.DefaultBurst), view["frames"])
}

func TestInvalidSubtypeFailsAtSetup(t *testing.T) {
	h := newHarness(t)
	_, ep := h.do(http.MethodPost, "/endpoints/sources", obj{"kind": "silence"})

	code, ctl := h.do(http.MethodPost, "/controllers", obj{"endpoint": ep["handle"], "subtype": "99"})
	require.Equal(t, http.StatusCreated, code)
	base := handlePath("/controllers/", ctl["handle"])

	_, res := h.do(http.MethodPost, base+"/setup", nil)
	assert.Equal(t, false, res["ok"])
	status := res["status"].(map[string]any)
	assert.Equal(t, float64(0), status["buffer_frames"])
	assert.Contains(t, status["last_error"], "unknown backend subtype")
	assert.Equal(t, 0, h.be.OpenCount())

	_, res = h.do(http.MethodPost, base+"/start", nil)
	assert.Equal(t, false, res["ok"])
}

func TestBadRequests(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad source kind", http.MethodPost, "/endpoints/sources", obj{"kind": "noise"}, http.StatusBadRequest},
		{"missing file", http.MethodPost, "/endpoints/sources", obj{"kind": "file", "path": "/nonexistent.wav"}, http.StatusUnprocessableEntity},
		{"bad sink kind", http.MethodPost, "/endpoints/sinks", obj{"kind": "tape"}, http.StatusBadRequest},
		{"unknown endpoint", http.MethodPost, "/controllers", obj{"endpoint": 77}, http.StatusNotFound},
		{"bad subtype name", http.MethodPost, "/controllers", obj{"endpoint": 1, "subtype": "fancy"}, http.StatusBadRequest},
		{"handle not a number", http.MethodPost, "/controllers/abc/start", nil, http.StatusBadRequest},
		{"unknown controller", http.MethodPost, "/controllers/42/start", nil, http.StatusNotFound},
		{"unknown release", http.MethodDelete, "/controllers/42", nil, http.StatusNotFound},
		{"unknown endpoint view", http.MethodGet, "/endpoints/42", nil, http.StatusNotFound},
		{"preset without body", http.MethodPut, "/controllers/42/input_preset", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := h.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestEndpointInUse(t *testing.T) {
	h := newHarness(t)
	_, ep := h.do(http.MethodPost, "/endpoints/sources", obj{"kind": "sine"})

	code, ctl := h.do(http.MethodPost, "/controllers", obj{"endpoint": ep["handle"]})
	require.Equal(t, http.StatusCreated, code)
	code, _ = h.do(http.MethodPost, "/controllers", obj{"endpoint": ep["handle"]})
	assert.Equal(t, http.StatusConflict, code)

	h.do(http.MethodDelete, handlePath("/controllers/", ctl["handle"]), nil)
	code, _ = h.do(http.MethodPost, "/controllers", obj{"endpoint": ep["handle"]})
	assert.Equal(t, http.StatusCreated, code)
}

func TestListings(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		_, ep := h.do(http.MethodPost, "/endpoints/sources", obj{"kind": "silence"})
		code, _ := h.do(http.MethodPost, "/controllers", obj{"endpoint": ep["handle"]})
		require.Equal(t, http.StatusCreated, code)
	}

	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/controllers", nil))
	var list []bridge.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Less(t, list[0].Handle, list[1].Handle)

	rec = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	var eps []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eps))
	assert.Len(t, eps, 2)
}

// obj is a JSON object literal.
type obj = map[string]any
