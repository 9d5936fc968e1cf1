package stream

import "errors"

var (
	// ErrUnknownSubtype is a configuration error: no stream is opened.
	ErrUnknownSubtype = errors.New("unknown backend subtype")
	// ErrAlreadyOpen is returned when setup is attempted on an open controller.
	ErrAlreadyOpen = errors.New("stream already open")
	// ErrNotOpen is returned when an operation needs an open stream.
	ErrNotOpen = errors.New("stream not open")
	// ErrOpenFailed wraps a backend open failure.
	ErrOpenFailed = errors.New("stream open failed")
	// ErrStartFailed wraps a backend start failure. The stream is torn down.
	ErrStartFailed = errors.New("stream start failed")
	// ErrTuningUnsupported is returned by backends that cannot resize an open
	// stream's buffer. It is never fatal.
	ErrTuningUnsupported = errors.New("buffer size tuning not supported")
	// ErrDisconnected is reported by backends when the device goes away.
	ErrDisconnected = errors.New("stream disconnected")
	// ErrBadState is returned by builders missing a required component.
	ErrBadState = errors.New("bad builder state")
	// ErrRetriesExhausted is recorded when automatic recovery gives up.
	ErrRetriesExhausted = errors.New("recovery attempts exhausted")
)
