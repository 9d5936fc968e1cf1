// Package watch detects streams that stop on their own.
//
// PortAudio reports device loss by deactivating the stream rather than
// through an error callback. A Watcher polls a probe while a stream is
// started and fires once when the probe reports the stream gone.
package watch

import (
	"sync"
	"time"
)

// DefaultInterval is the poll period used when none is given.
const DefaultInterval = 100 * time.Millisecond

// Probe reports whether the stream is still alive. A non-nil error counts
// as lost.
type Probe func() (alive bool, err error)

// Watcher polls a Probe on its own goroutine.
type Watcher struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Start begins polling probe every interval. onLost runs at most once, on
// the watcher goroutine, with the probe's error (nil when the probe simply
// reported not alive). Polling ends after onLost or Stop.
func Start(interval time.Duration, probe Probe, onLost func(error)) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	w := &Watcher{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run(interval, probe, onLost)
	return w
}

func (w *Watcher) run(interval time.Duration, probe Probe, onLost func(error)) {
	defer close(w.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			alive, err := probe()
			if alive && err == nil {
				continue
			}
			select {
			case <-w.stop:
				return
			default:
			}
			onLost(err)
			return
		}
	}
}

// Stop ends polling and waits for the watcher goroutine. It may be called
// more than once, but never from onLost.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

// Progress returns a probe that reports alive while counter advances
// between polls. Streams with no activity query use it with a callback
// counter. stall polls without progress are tolerated before the stream
// counts as lost.
func Progress(counter func() uint64, stall int) Probe {
	last := counter()
	idle := 0
	return func() (bool, error) {
		cur := counter()
		if cur != last {
			last = cur
			idle = 0
			return true, nil
		}
		idle++
		return idle <= stall, nil
	}
}
