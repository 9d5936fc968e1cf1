// Package config loads program configuration from defaults, an optional
// YAML file, .env files and DUPLEXAUDIO_* environment variables, in that
// order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/drgolem/go-duplexaudio/internal/logging"
	"github.com/drgolem/go-duplexaudio/stream"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DUPLEXAUDIO_"

// Backend kinds.
const (
	BackendPortAudio = "portaudio"
	BackendMock      = "mock"
)

// Config holds everything the programs in this module read at startup.
type Config struct {
	// Backend selects the backend set: "portaudio" or "mock".
	Backend string `yaml:"backend" json:"backend"`
	// Subtype is "native", "legacy" or a numeric subtype.
	Subtype string `yaml:"subtype" json:"subtype"`

	SampleRate int `yaml:"sample_rate" json:"sample_rate"`
	Channels   int `yaml:"channels" json:"channels"`
	// DeviceID is the route device; -1 means no preference.
	DeviceID int `yaml:"device_id" json:"device_id"`
	// FramesPerBurst overrides the backend burst size when positive.
	FramesPerBurst int `yaml:"frames_per_burst" json:"frames_per_burst"`
	// DisableWorkarounds switches platform workarounds off on every start.
	DisableWorkarounds bool `yaml:"disable_workarounds" json:"disable_workarounds"`

	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	Watchdog WatchdogConfig `yaml:"watchdog" json:"watchdog"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Server   ServerConfig   `yaml:"server" json:"server"`

	// RecordDir is where recordings are written.
	RecordDir string `yaml:"record_dir" json:"record_dir"`
}

// RetryConfig mirrors stream.RetryPolicy.
type RetryConfig struct {
	// MaxAttempts caps attempts; 0 means unbounded, -1 disables recovery.
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
}

// WatchdogConfig tunes disconnect detection in the PortAudio backends.
type WatchdogConfig struct {
	Poll       time.Duration `yaml:"poll" json:"poll"`
	StallPolls int           `yaml:"stall_polls" json:"stall_polls"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	// MockTick drives mock streams from a ticker when positive.
	MockTick time.Duration `yaml:"mock_tick" json:"mock_tick"`
}

// Default returns the built-in configuration.
func Default() Config {
	retry := stream.DefaultRetryPolicy()
	return Config{
		Backend:            BackendPortAudio,
		Subtype:            stream.SubtypeNative.String(),
		SampleRate:         48000,
		Channels:           2,
		DeviceID:           stream.RouteDefault,
		DisableWorkarounds: true,
		Retry: RetryConfig{
			MaxAttempts:  retry.MaxAttempts,
			InitialDelay: retry.InitialDelay,
			MaxDelay:     retry.MaxDelay,
			Multiplier:   retry.Multiplier,
		},
		Watchdog: WatchdogConfig{
			Poll:       100 * time.Millisecond,
			StallPolls: 10,
		},
		Log:       LogConfig{Level: "info", Format: "console"},
		Server:    ServerConfig{Addr: ":8089", MockTick: 10 * time.Millisecond},
		RecordDir: ".",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the given .env files (missing ones are skipped) and the process
// environment, then validates it.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		err = cfg.decodeYAML(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse reads YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decodeYAML(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) decodeYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func loadEnvFiles(files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	// godotenv.Load keeps variables already set in the environment.
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("BACKEND", &c.Backend)
	str("SUBTYPE", &c.Subtype)
	num("SAMPLE_RATE", &c.SampleRate)
	num("CHANNELS", &c.Channels)
	num("DEVICE_ID", &c.DeviceID)
	num("FRAMES_PER_BURST", &c.FramesPerBurst)
	if v, ok := lookup(EnvPrefix + "DISABLE_WORKAROUNDS"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDISABLE_WORKAROUNDS: %w", EnvPrefix, err))
		} else {
			c.DisableWorkarounds = b
		}
	}
	num("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	dur("RETRY_INITIAL_DELAY", &c.Retry.InitialDelay)
	dur("RETRY_MAX_DELAY", &c.Retry.MaxDelay)
	num("WATCHDOG_STALL_POLLS", &c.Watchdog.StallPolls)
	dur("WATCHDOG_POLL", &c.Watchdog.Poll)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("SERVER_ADDR", &c.Server.Addr)
	dur("SERVER_MOCK_TICK", &c.Server.MockTick)
	str("RECORD_DIR", &c.RecordDir)

	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendPortAudio, BackendMock:
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendPortAudio, BackendMock, c.Backend))
	}
	if _, err := stream.ParseSubtype(c.Subtype); err != nil {
		errs = append(errs, fmt.Errorf("subtype: %w", err))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels must be positive, got %d", c.Channels))
	}
	if c.DeviceID < stream.RouteDefault {
		errs = append(errs, fmt.Errorf("device_id must be -1 or a device index, got %d", c.DeviceID))
	}
	if c.FramesPerBurst < 0 {
		errs = append(errs, fmt.Errorf("frames_per_burst must not be negative, got %d", c.FramesPerBurst))
	}
	if c.Retry.MaxAttempts < -1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be -1 or more, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.Watchdog.Poll <= 0 {
		errs = append(errs, fmt.Errorf("watchdog.poll must be positive, got %v", c.Watchdog.Poll))
	}
	if c.Watchdog.StallPolls <= 0 {
		errs = append(errs, fmt.Errorf("watchdog.stall_polls must be positive, got %d", c.Watchdog.StallPolls))
	}
	return errors.Join(errs...)
}

// StreamSubtype returns the parsed subtype. Call Validate first.
func (c *Config) StreamSubtype() stream.Subtype {
	st, _ := stream.ParseSubtype(c.Subtype)
	return st
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() stream.RetryPolicy {
	return stream.RetryPolicy{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
	}
}

// StreamOptions returns the controller options the config implies.
func (c *Config) StreamOptions() []stream.Option {
	return []stream.Option{
		stream.WithRetryPolicy(c.RetryPolicy()),
		stream.WithWorkaroundsDisabled(c.DisableWorkarounds),
	}
}

// ConfigureLogging installs the default logger from the log section.
func (c *Config) ConfigureLogging() {
	logging.Configure(logging.Options{Level: c.Log.Level, Format: c.Log.Format})
}
