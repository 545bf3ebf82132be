// Package clock abstracts time so that every timer-driven component
// (debounce windows, buffer flushes, heartbeats, reconnect backoff,
// detector polling) can run against a fake clock in tests.
package clock

import "time"

// Clock is the subset of the time package the telemetry components use.
// ARCHITECTURAL DISCOVERY: Only Now and AfterFunc are needed. Periodic work
// (heartbeats, polling) re-arms a one-shot callback, which keeps fake-clock
// tests fully synchronous.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f after d elapses. The returned Timer cancels the
	// pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a handle on a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the call from firing. It returns false if the call already
// fired or was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Remaining returns how much of window is left when the last event happened
// at last. It never returns a negative duration.
func Remaining(last, now time.Time, window time.Duration) time.Duration {
	left := window - now.Sub(last)
	if left < 0 {
		return 0
	}
	return left
}
