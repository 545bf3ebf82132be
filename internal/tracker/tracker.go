// Package tracker turns student interactions into outbound telemetry,
// coalescing high-frequency progress and highlight updates.
package tracker

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"proctorwire/internal/clock"
	"proctorwire/pkg/types"
)

// Sender is the outbound side of a connection.
type Sender interface {
	Send(m types.Message) error
}

// CounterReader exposes the violation engine's live counters.
type CounterReader interface {
	Count(kind types.ViolationKind) int
	TotalViolations() int
}

// Config holds the debounce windows.
type Config struct {
	ProgressDebounce  time.Duration `json:"progress_debounce" yaml:"progress_debounce"`
	HighlightDebounce time.Duration `json:"highlight_debounce" yaml:"highlight_debounce"`
}

// DefaultConfig returns 2s windows for both lanes.
func DefaultConfig() Config {
	return Config{
		ProgressDebounce:  2 * time.Second,
		HighlightDebounce: 2 * time.Second,
	}
}

func (c *Config) defaults() {
	if c.ProgressDebounce <= 0 {
		c.ProgressDebounce = 2 * time.Second
	}
	if c.HighlightDebounce <= 0 {
		c.HighlightDebounce = 2 * time.Second
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock driving the debounce lanes.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithCounters attaches violation counters to outgoing violation messages.
func WithCounters(r CounterReader) Option {
	return func(t *Tracker) { t.counters = r }
}

// WithStudent sets the identity stamped on every message.
func WithStudent(studentID, studentName string) Option {
	return func(t *Tracker) {
		t.student = types.Student{StudentID: studentID, StudentName: studentName}
	}
}

// Tracker is bound to one attempt at a time. Every Track call is a no-op
// while disabled or unbound.
type Tracker struct {
	sender   Sender
	cfg      Config
	clock    clock.Clock
	logger   *log.Logger
	counters CounterReader
	student  types.Student

	mu        sync.Mutex
	attemptID string
	enabled   bool
	closed    bool
	progress  *lane
	highlight *lane
}

// New creates an enabled, unbound tracker.
func New(sender Sender, cfg Config, opts ...Option) *Tracker {
	cfg.defaults()
	t := &Tracker{
		sender:  sender,
		cfg:     cfg,
		enabled: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.clock == nil {
		t.clock = clock.Real()
	}
	if t.logger == nil {
		t.logger = log.Default()
	}
	t.progress = newLane(t, "progress", cfg.ProgressDebounce)
	t.highlight = newLane(t, "highlight", cfg.HighlightDebounce)
	return t
}

// Bind starts tracking for attemptID.
// FUNCTIONAL DISCOVERY: Binding counts as the last send of both lanes, so a
// burst right after the test starts is coalesced into one trailing update.
func (t *Tracker) Bind(attemptID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.attemptID = attemptID
	t.mu.Unlock()

	now := t.clock.Now()
	t.progress.reset(now)
	t.highlight.reset(now)
	t.logger.Printf("Tracker bound: attempt_id=%s student_id=%s", attemptID, t.student.StudentID)
}

// Unbind stops tracking and drops pending updates.
func (t *Tracker) Unbind() {
	t.mu.Lock()
	t.attemptID = ""
	t.mu.Unlock()
	t.progress.cancel()
	t.highlight.cancel()
}

// SetEnabled turns tracking on or off. Disabling cancels pending updates.
func (t *Tracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
	if !enabled {
		t.progress.cancel()
		t.highlight.cancel()
	}
}

// Close disables the tracker permanently.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.enabled = false
	t.attemptID = ""
	t.mu.Unlock()
	t.progress.cancel()
	t.highlight.cancel()
}

// Pending reports whether a trailing progress or highlight update is
// scheduled.
func (t *Tracker) Pending() bool {
	return t.progress.slot.Pending() || t.highlight.slot.Pending()
}

// active returns the bound attempt, or false when tracking is off.
func (t *Tracker) active() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || t.closed || t.attemptID == "" {
		return "", false
	}
	return t.attemptID, true
}

// TrackProgress reports the student's position. Debounced.
func (t *Tracker) TrackProgress(passageIndex, questionIndex, questionNumber int) {
	attemptID, ok := t.active()
	if !ok {
		return
	}
	t.progress.offer(&types.StudentProgress{
		Student:        t.student,
		AttemptID:      attemptID,
		PassageIndex:   passageIndex,
		QuestionIndex:  questionIndex,
		QuestionNumber: questionNumber,
	})
}

// TrackHighlight reports a passage highlight. Debounced.
func (t *Tracker) TrackHighlight(passageIndex int, text string, startOffset, endOffset int) {
	attemptID, ok := t.active()
	if !ok {
		return
	}
	t.highlight.offer(&types.StudentHighlight{
		Student:      t.student,
		AttemptID:    attemptID,
		PassageIndex: passageIndex,
		Text:         text,
		StartOffset:  startOffset,
		EndOffset:    endOffset,
	})
}

// TrackAnswer sends an answer immediately.
func (t *Tracker) TrackAnswer(questionID string, answer any, questionNumber int) error {
	attemptID, ok := t.active()
	if !ok {
		return nil
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	return t.send(&types.StudentAnswer{
		Student:        t.student,
		AttemptID:      attemptID,
		QuestionID:     questionID,
		Answer:         raw,
		QuestionNumber: questionNumber,
	})
}

// TrackViolation sends a violation immediately.
func (t *Tracker) TrackViolation(kind types.ViolationKind) error {
	attemptID, ok := t.active()
	if !ok {
		return nil
	}
	msg := &types.Violation{
		Student:       t.student,
		AttemptID:     attemptID,
		ViolationType: kind,
	}
	if t.counters != nil {
		msg.Count = t.counters.Count(kind)
		msg.Total = t.counters.TotalViolations()
	}
	return t.send(msg)
}

func (t *Tracker) send(m types.Message) error {
	types.Stamp(m, "", t.clock.Now())
	if err := t.sender.Send(m); err != nil {
		t.logger.Printf("Tracker send failed: type=%s error=%v", m.MessageType(), err)
		return err
	}
	return nil
}
