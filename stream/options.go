package stream

import (
	"github.com/rs/zerolog"

	"github.com/drgolem/go-duplexaudio/internal/logging"
)

// DefaultBufferFrames is the nominal buffer frame count an endpoint is
// initialised with before the stream negotiates its real size.
const DefaultBufferFrames = 256

type options struct {
	logger             zerolog.Logger
	retry              RetryPolicy
	disableWorkarounds bool
	nominalFrames      int
}

func defaultOptions(component string) options {
	return options{
		logger:             logging.Component(component),
		retry:              DefaultRetryPolicy(),
		disableWorkarounds: true,
		nominalFrames:      DefaultBufferFrames,
	}
}

// Option configures a Player or Recorder.
type Option func(*options)

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryPolicy sets the automatic recovery policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithWorkaroundsDisabled controls whether the backend's platform
// workarounds are switched off on every start. Default true.
func WithWorkaroundsDisabled(disabled bool) Option {
	return func(o *options) { o.disableWorkarounds = disabled }
}

// WithNominalBufferFrames sets the frame count endpoints are initialised
// with at setup.
func WithNominalBufferFrames(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.nominalFrames = n
		}
	}
}
