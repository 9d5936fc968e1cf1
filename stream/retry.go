package stream

import "time"

// RetryPolicy governs automatic recovery after a stream is closed by the
// platform.
type RetryPolicy struct {
	// MaxAttempts caps recovery attempts per disconnect. Zero means no cap.
	MaxAttempts int
	// InitialDelay is waited before the first attempt.
	InitialDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// Multiplier scales the delay after each failed attempt. Values below 1
	// are treated as 1.
	Multiplier float64
}

// DefaultRetryPolicy retries a handful of times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// UnboundedRetry restarts immediately and never gives up. It matches
// harnesses that expect a device to come back eventually.
func UnboundedRetry() RetryPolicy {
	return RetryPolicy{Multiplier: 1}
}

// NoRetry disables automatic recovery.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: -1}
}

// Enabled reports whether any recovery attempt is allowed.
func (p RetryPolicy) Enabled() bool {
	return p.MaxAttempts >= 0
}

// Allows reports whether attempt (1-based) may run.
func (p RetryPolicy) Allows(attempt int) bool {
	if !p.Enabled() {
		return false
	}
	return p.MaxAttempts == 0 || attempt <= p.MaxAttempts
}

// Delay returns the wait before attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}
