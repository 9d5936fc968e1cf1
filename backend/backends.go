// Package backend assembles the subtype-to-backend table programs run on.
//
// The PortAudio set maps SubtypeNative to the cgo binding in backend/native
// and SubtypeLegacy to backend/legacy. The mock set runs both subtypes in
// memory, with the legacy mock refusing buffer tuning like the real legacy
// backend does.
package backend

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/backend/legacy"
	"github.com/drgolem/go-duplexaudio/backend/mock"
	"github.com/drgolem/go-duplexaudio/backend/native"
	"github.com/drgolem/go-duplexaudio/internal/config"
	"github.com/drgolem/go-duplexaudio/source"
	"github.com/drgolem/go-duplexaudio/stream"
)

// FromConfig builds the backend table cfg selects.
func FromConfig(cfg *config.Config, log zerolog.Logger) (stream.Backends, error) {
	switch cfg.Backend {
	case config.BackendPortAudio:
		return stream.Backends{
			stream.SubtypeNative: native.New(
				native.WithLogger(log.With().Str("component", "native").Logger()),
				native.WithFramesPerBurst(cfg.FramesPerBurst),
				native.WithPollInterval(cfg.Watchdog.Poll),
			),
			stream.SubtypeLegacy: legacy.New(
				legacy.WithLogger(log.With().Str("component", "legacy").Logger()),
				legacy.WithFramesPerBurst(cfg.FramesPerBurst),
				legacy.WithWatchdog(cfg.Watchdog.Poll, cfg.Watchdog.StallPolls),
			),
		}, nil
	case config.BackendMock:
		return Mock(cfg), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Mock returns in-memory backends driven every cfg.Server.MockTick. Capture
// streams hear a quiet 440 Hz tone.
func Mock(cfg *config.Config) stream.Backends {
	opts := func(extra ...mock.Option) []mock.Option {
		o := []mock.Option{
			mock.WithAutoTick(cfg.Server.MockTick),
			mock.WithInput(toneInput(cfg.SampleRate)),
		}
		if cfg.FramesPerBurst > 0 {
			o = append(o, mock.WithBurst(cfg.FramesPerBurst))
		}
		return append(o, extra...)
	}
	return stream.Backends{
		stream.SubtypeNative: mock.New(opts(mock.WithName("mock-native"))...),
		stream.SubtypeLegacy: mock.New(opts(mock.WithName("mock-legacy"), mock.WithTuningUnsupported())...),
	}
}

func toneInput(sampleRate int) mock.InputFunc {
	tone := source.NewSine(440, 0.25, sampleRate)
	return func(buf []float32, numFrames, channelCount int) {
		tone.Pull(buf, numFrames, channelCount)
	}
}
