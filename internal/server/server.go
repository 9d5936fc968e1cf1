// Package server exposes the bridge over HTTP so an out-of-process test
// runner can drive players and recorders, and serves Prometheus metrics.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/bridge"
	"github.com/drgolem/go-duplexaudio/internal/config"
	"github.com/drgolem/go-duplexaudio/sink"
	"github.com/drgolem/go-duplexaudio/source"
	"github.com/drgolem/go-duplexaudio/stream"
)

const shutdownTimeout = 5 * time.Second

// endpointInfo remembers what the server registered so it can report on it.
type endpointInfo struct {
	Handle bridge.Handle `json:"handle"`
	Kind   string        `json:"kind"`
	Path   string        `json:"path,omitempty"`

	meter *sink.LevelMeter
	wav   *sink.WAVRecorder
}

// Server routes HTTP requests to a bridge.
type Server struct {
	cfg    *config.Config
	bridge *bridge.Bridge
	log    zerolog.Logger
	engine *gin.Engine

	mu        sync.Mutex
	endpoints map[bridge.Handle]*endpointInfo
}

// New returns a server driving b. cfg supplies defaults for requests that
// leave fields out.
func New(b *bridge.Bridge, cfg *config.Config, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		bridge:    b,
		log:       log,
		engine:    gin.New(),
		endpoints: make(map[bridge.Handle]*endpointInfo),
	}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	r := s.engine
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ep := r.Group("/endpoints")
	ep.GET("", s.listEndpoints)
	ep.POST("/sources", s.createSource)
	ep.POST("/sinks", s.createSink)
	ep.GET("/:handle", s.getEndpoint)
	ep.DELETE("/:handle", s.deleteEndpoint)

	ctl := r.Group("/controllers")
	ctl.GET("", s.listControllers)
	ctl.POST("", s.allocate)
	ctl.GET("/:handle", s.getController)
	ctl.DELETE("/:handle", s.release)
	ctl.POST("/:handle/setup", s.setup)
	ctl.POST("/:handle/start", s.start)
	ctl.POST("/:handle/stop", s.stop)
	ctl.POST("/:handle/teardown", s.teardown)
	ctl.PUT("/:handle/input_preset", s.inputPreset)
}

// Run serves on cfg.Server.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("control server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := s.log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// bindOptional decodes a JSON body when one is present, keeping the
// defaults already in obj for missing fields.
func bindOptional(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func handleParam(c *gin.Context) (bridge.Handle, bool) {
	n, err := strconv.ParseInt(c.Param("handle"), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid handle"})
		return bridge.Invalid, false
	}
	return bridge.Handle(n), true
}

type sourceRequest struct {
	Kind       string  `json:"kind" binding:"required,oneof=sine silence file"`
	Frequency  float64 `json:"frequency"`
	Amplitude  float64 `json:"amplitude"`
	SampleRate int     `json:"sample_rate"`
	Path       string  `json:"path"`
	Loop       bool    `json:"loop"`
}

func (s *Server) createSource(c *gin.Context) {
	req := sourceRequest{Frequency: 440, Amplitude: 0.5, SampleRate: s.cfg.SampleRate}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var src stream.AudioSource
	switch req.Kind {
	case "sine":
		src = source.NewSine(req.Frequency, req.Amplitude, req.SampleRate)
	case "silence":
		src = source.Silence{}
	case "file":
		pcm, err := source.LoadFile(req.Path)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		src = pcm.Loop(req.Loop)
	}

	info := &endpointInfo{Kind: req.Kind, Path: req.Path}
	s.register(c, info, s.bridge.RegisterSource(src))
}

type sinkRequest struct {
	Kind       string `json:"kind" binding:"required,oneof=meter wav"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
}

func (s *Server) createSink(c *gin.Context) {
	req := sinkRequest{Channels: s.cfg.Channels, SampleRate: s.cfg.SampleRate}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info := &endpointInfo{Kind: req.Kind}
	var snk stream.AudioSink
	switch req.Kind {
	case "meter":
		info.meter = sink.NewLevelMeter()
		snk = info.meter
	case "wav":
		name := "capture-" + time.Now().Format("20060102-150405.000") + ".wav"
		info.Path = filepath.Join(s.cfg.RecordDir, name)
		w, err := sink.CreateWAV(info.Path, req.SampleRate, req.Channels,
			sink.WithLogger(s.log.With().Str("component", "sink").Logger()))
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		info.wav = w
		snk = w
	}
	s.register(c, info, s.bridge.RegisterSink(snk))
}

func (s *Server) register(c *gin.Context, info *endpointInfo, h bridge.Handle) {
	if h == bridge.Invalid {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	info.Handle = h
	s.mu.Lock()
	s.endpoints[h] = info
	s.mu.Unlock()
	c.JSON(http.StatusCreated, info)
}

func (s *Server) endpoint(h bridge.Handle) *endpointInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[h]
}

func (s *Server) endpointView(info *endpointInfo) gin.H {
	view := gin.H{"handle": info.Handle, "kind": info.Kind}
	if info.Path != "" {
		view["path"] = info.Path
	}
	if m := info.meter; m != nil {
		view["peak"] = m.Peak()
		view["rms"] = m.RMS()
		view["held_peak"] = m.HeldPeak()
		view["frames"] = m.Frames()
	}
	if w := info.wav; w != nil {
		view["frames"] = w.Frames()
		view["dropped"] = w.Dropped()
	}
	return view
}

func (s *Server) listEndpoints(c *gin.Context) {
	s.mu.Lock()
	infos := make([]*endpointInfo, 0, len(s.endpoints))
	for _, info := range s.endpoints {
		infos = append(infos, info)
	}
	s.mu.Unlock()

	views := make([]gin.H, 0, len(infos))
	for _, info := range infos {
		views = append(views, s.endpointView(info))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) getEndpoint(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	info := s.endpoint(h)
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": bridge.ErrUnknownHandle.Error()})
		return
	}
	c.JSON(http.StatusOK, s.endpointView(info))
}

func (s *Server) deleteEndpoint(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	if !s.bridge.UnregisterEndpoint(h) {
		c.JSON(http.StatusConflict, gin.H{"ok": false})
		return
	}
	s.mu.Lock()
	delete(s.endpoints, h)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type allocateRequest struct {
	Endpoint bridge.Handle `json:"endpoint" binding:"required"`
	Subtype  string        `json:"subtype"`
}

func (s *Server) allocate(c *gin.Context) {
	req := allocateRequest{Subtype: s.cfg.Subtype}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Unknown names pass through as an invalid subtype so setup reports the
	// failure the way the bridge does.
	st, err := stream.ParseSubtype(req.Subtype)
	if err != nil {
		n, nerr := strconv.Atoi(req.Subtype)
		if nerr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st = stream.Subtype(n)
	}

	h := s.bridge.Allocate(req.Endpoint, int32(st))
	if h == bridge.Invalid {
		if s.endpoint(req.Endpoint) != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "endpoint already has a controller"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": bridge.ErrUnknownHandle.Error()})
		return
	}
	status, _ := s.bridge.Status(h)
	c.JSON(http.StatusCreated, status)
}

func (s *Server) listControllers(c *gin.Context) {
	c.JSON(http.StatusOK, s.bridge.List())
}

func (s *Server) getController(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	st, err := s.bridge.Status(h)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// respond writes the operation result with the controller's status. An
// unknown handle is a 404; a failed operation is still a 200 with ok=false,
// as the bridge reports it.
func (s *Server) respond(c *gin.Context, h bridge.Handle, ok bool) {
	st, err := s.bridge.Status(h)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok, "status": st})
}

type setupRequest struct {
	ChannelCount  int32 `json:"channel_count"`
	SampleRate    int32 `json:"sample_rate"`
	RouteDeviceID int32 `json:"route_device_id"`
}

func (s *Server) setup(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	req := setupRequest{
		ChannelCount:  int32(s.cfg.Channels),
		SampleRate:    int32(s.cfg.SampleRate),
		RouteDeviceID: int32(s.cfg.DeviceID),
	}
	if !bindOptional(c, &req) {
		return
	}
	s.respond(c, h, s.bridge.SetupStream(h, req.ChannelCount, req.SampleRate, req.RouteDeviceID))
}

func (s *Server) start(c *gin.Context) {
	if h, ok := handleParam(c); ok {
		s.respond(c, h, s.bridge.StartStream(h))
	}
}

func (s *Server) stop(c *gin.Context) {
	if h, ok := handleParam(c); ok {
		s.respond(c, h, s.bridge.StopStream(h))
	}
}

func (s *Server) teardown(c *gin.Context) {
	if h, ok := handleParam(c); ok {
		s.respond(c, h, s.bridge.TeardownStream(h))
	}
}

type presetRequest struct {
	Preset int32 `json:"preset" binding:"required"`
}

func (s *Server) inputPreset(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	var req presetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.respond(c, h, s.bridge.SetInputPreset(h, req.Preset))
}

func (s *Server) release(c *gin.Context) {
	h, ok := handleParam(c)
	if !ok {
		return
	}
	if !s.bridge.Release(h) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": bridge.ErrUnknownHandle.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
