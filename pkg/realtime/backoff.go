package realtime

import "time"

// Reconnect defaults: 3s, 6s, 12s, 24s, 48s, then give up.
const (
	DefaultBaseDelay   = 3 * time.Second
	DefaultMaxAttempts = 5
)

// maxShift keeps Base<<n inside time.Duration.
const maxShift = 30

// Backoff is a bounded exponential reconnect schedule.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// Delay returns the wait before attempt n (1-based): Base * 2^(n-1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}
	return b.Base << shift
}

// Exhausted reports whether no further attempt may be scheduled after
// attempts have already been made.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
