package clock

import (
	"sync"
	"time"
)

// Slot holds at most one pending callback. It is the single-timer handle
// shared by the tracker's debounce lanes, the pipeline's flush timer and the
// controller's heartbeat and backoff timers.
// TECHNICAL DISCOVERY: A generation counter guards against a real timer that
// already started firing when Cancel ran; the stale callback sees a newer
// generation and returns without calling f.
type Slot struct {
	clock    Clock
	mu       sync.Mutex
	timer    *Timer
	deadline time.Time
	gen      uint64
	pending  bool
}

// NewSlot creates an empty slot on the given clock.
func NewSlot(c Clock) *Slot {
	if c == nil {
		c = Real()
	}
	return &Slot{clock: c}
}

// Schedule replaces any pending callback with f, due after d.
func (s *Slot) Schedule(d time.Duration, f func()) {
	s.mu.Lock()
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.pending = true
	s.deadline = s.clock.Now().Add(d)
	s.mu.Unlock()

	timer := s.clock.AfterFunc(d, func() { s.fire(gen, f) })

	s.mu.Lock()
	if s.gen == gen && s.pending {
		s.timer = timer
	}
	s.mu.Unlock()
}

// ScheduleIfIdle schedules f only when nothing is pending. It reports
// whether f was scheduled.
func (s *Slot) ScheduleIfIdle(d time.Duration, f func()) bool {
	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	s.Schedule(d, f)
	return true
}

func (s *Slot) fire(gen uint64, f func()) {
	s.mu.Lock()
	if s.gen != gen || !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	s.mu.Unlock()
	f()
}

// Cancel drops the pending callback. It reports whether one was pending.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.pending
	s.stopLocked()
	s.gen++
	return was
}

func (s *Slot) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
}

// Pending reports whether a callback is scheduled.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Remaining returns the time left before the pending callback fires, or
// zero when nothing is pending.
func (s *Slot) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return 0
	}
	left := s.deadline.Sub(s.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}
