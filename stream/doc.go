// Package stream manages the lifecycle of one low-latency audio stream per
// controller and exchanges audio with it from the engine's real-time
// callback.
//
// A Player pulls frames from an AudioSource into an output stream. A
// Recorder pushes frames from an input stream into an AudioSink. Both open
// their stream on a Backend selected by Subtype:
//
//	backends := stream.Backends{
//	    stream.SubtypeNative: native.New(),
//	    stream.SubtypeLegacy: legacy.New(),
//	}
//	p := stream.NewPlayer(source.NewSine(440, 0.5, 48000), stream.SubtypeNative, backends)
//	defer p.Close()
//
//	if !p.SetupStream(2, 48000, stream.RouteDefault) {
//	    return p.LastError()
//	}
//	p.StartStream()
//
// # Lifecycle
//
// SetupStream opens the stream and negotiates its buffer (two bursts for
// playback, one for capture). StartStream starts it; a failed start tears the
// stream down so no open, unstarted stream is left behind. StopStream stops
// it and TeardownStream closes it. Teardown is idempotent. Setup on an open
// controller returns false and leaves the existing stream untouched.
//
// Control operations return bool and log the failure. LastError returns the
// classified error for callers that want it.
//
// # Real-time path
//
// OnAudioReady never takes the control mutex. The attached source or sink is
// published through an atomic pointer, so SetSource and SetSink are safe while
// the stream runs. A player whose source returns zero frames stops the stream
// and is not pulled again until the next start.
//
// # Recovery
//
// When the platform closes a playback stream after an error, the player
// reopens and restarts it in the background under its RetryPolicy. The
// default policy gives up after a few attempts with exponential backoff;
// UnboundedRetry restarts immediately forever. StopStream and TeardownStream
// cancel a pending recovery.
package stream
