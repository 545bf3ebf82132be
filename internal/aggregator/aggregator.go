// Package aggregator folds delivered batches into per-student projections.
package aggregator

import (
	"slices"
	"sync"
	"time"

	"proctorwire/pkg/types"
)

// SessionView is the session-level part of the projection.
type SessionView struct {
	SessionID        string              `json:"session_id"`
	Status           string              `json:"status"`
	Completed        bool                `json:"completed"`
	CompletionReason string              `json:"completion_reason,omitempty"`
	Stats            *types.SessionStats `json:"stats,omitempty"`
	LastError        *types.Error        `json:"last_error,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Totals summarizes the student projections.
type Totals struct {
	Students   int `json:"students"`
	Connected  int `json:"connected"`
	Submitted  int `json:"submitted"`
	Violations int `json:"violations"`
}

// Aggregator owns the projection map. Entries are only removed by Reset.
type Aggregator struct {
	mu       sync.RWMutex
	students map[string]*types.StudentProjection
	session  SessionView
	applied  uint64
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{students: make(map[string]*types.StudentProjection)}
}

// Apply folds one batch, in batch order.
func (a *Aggregator) Apply(batch []types.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f := folder{a: a}
	for _, m := range batch {
		if m == nil {
			continue
		}
		h := types.HeaderOf(m)
		if h.SessionID != "" && a.session.SessionID == "" {
			a.session.SessionID = h.SessionID
		}
		f.ts = h.Timestamp
		types.Dispatch(m, f)
		a.applied++
	}
}

// Applied returns the number of messages folded so far.
func (a *Aggregator) Applied() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.applied
}

// Student returns a copy of one projection.
func (a *Aggregator) Student(id string) (types.StudentProjection, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.students[id]
	if !ok {
		return types.StudentProjection{}, false
	}
	return clone(p), true
}

// Students returns copies of every projection, sorted by student ID.
func (a *Aggregator) Students() []types.StudentProjection {
	a.mu.RLock()
	out := make([]types.StudentProjection, 0, len(a.students))
	for _, p := range a.students {
		out = append(out, clone(p))
	}
	a.mu.RUnlock()
	types.SortProjections(out)
	return out
}

// Session returns the session view.
func (a *Aggregator) Session() SessionView {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v := a.session
	if v.Stats != nil {
		s := *v.Stats
		v.Stats = &s
	}
	if v.LastError != nil {
		e := *v.LastError
		v.LastError = &e
	}
	return v
}

// Totals counts connected and submitted students and all violations.
func (a *Aggregator) Totals() Totals {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t := Totals{Students: len(a.students)}
	for _, p := range a.students {
		if p.Connection == types.PresenceConnected {
			t.Connected++
		}
		if p.IsSubmitted {
			t.Submitted++
		}
		t.Violations += p.ViolationCount
	}
	return t
}

// Restore loads previously saved projections, replacing entries with the
// same student ID.
func (a *Aggregator) Restore(projections []types.StudentProjection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range projections {
		p := clone(&projections[i])
		if p.Violations == nil {
			p.Violations = types.NewViolationCounters()
		}
		a.students[p.StudentID] = &p
	}
}

// Reset drops every projection and the session view.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.students = make(map[string]*types.StudentProjection)
	a.session = SessionView{}
	a.applied = 0
}

func clone(p *types.StudentProjection) types.StudentProjection {
	c := *p
	c.Violations = p.Violations.Clone()
	c.AnsweredQuestions = slices.Clone(p.AnsweredQuestions)
	if p.Score != nil {
		s := *p.Score
		c.Score = &s
	}
	return c
}
