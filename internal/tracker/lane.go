package tracker

import (
	"sync"
	"time"

	"proctorwire/internal/clock"
	"proctorwire/pkg/types"
)

// lane is one hybrid-debounced message kind: send at once when the window
// has elapsed since the last send, otherwise keep only the latest value and
// send it once when the window closes.
type lane struct {
	tracker *Tracker
	name    string
	window  time.Duration
	slot    *clock.Slot

	mu       sync.Mutex
	lastSent time.Time
	latest   types.Message
}

func newLane(t *Tracker, name string, window time.Duration) *lane {
	return &lane{
		tracker: t,
		name:    name,
		window:  window,
		slot:    clock.NewSlot(t.clock),
	}
}

func (l *lane) reset(now time.Time) {
	l.slot.Cancel()
	l.mu.Lock()
	l.lastSent = now
	l.latest = nil
	l.mu.Unlock()
}

func (l *lane) cancel() {
	l.slot.Cancel()
	l.mu.Lock()
	l.latest = nil
	l.mu.Unlock()
}

func (l *lane) offer(m types.Message) {
	now := l.tracker.clock.Now()

	l.mu.Lock()
	wait := clock.Remaining(l.lastSent, now, l.window)
	if wait == 0 && !l.slot.Pending() {
		l.lastSent = now
		l.latest = nil
		l.mu.Unlock()
		_ = l.tracker.send(m)
		return
	}
	l.latest = m
	l.mu.Unlock()

	l.slot.ScheduleIfIdle(wait, l.fire)
}

func (l *lane) fire() {
	if _, ok := l.tracker.active(); !ok {
		l.cancel()
		return
	}
	l.mu.Lock()
	m := l.latest
	l.latest = nil
	if m == nil {
		l.mu.Unlock()
		return
	}
	l.lastSent = l.tracker.clock.Now()
	l.mu.Unlock()

	_ = l.tracker.send(m)
}
