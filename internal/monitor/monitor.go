// Package monitor keeps a server-side projection of every live session. It
// observes routed messages through the same pipeline and aggregator the
// dashboard uses, publishes periodic session_stats to supervisors, and
// persists projection snapshots so a restarted relay resumes with them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"proctorwire/internal/aggregator"
	"proctorwire/internal/clock"
	"proctorwire/internal/pipeline"
	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

// Config controls stats publishing and server-side batching.
type Config struct {
	StatsInterval time.Duration   `json:"stats_interval" yaml:"stats_interval"`
	Pipeline      pipeline.Config `json:"pipeline" yaml:"pipeline"`
}

// DefaultConfig publishes stats every 10 seconds.
func DefaultConfig() Config {
	return Config{
		StatsInterval: 10 * time.Second,
		Pipeline:      pipeline.DefaultConfig(),
	}
}

// Publisher reaches a session's supervisors. The websocket Registry
// implements it.
type Publisher interface {
	BroadcastSupervisors(sessionID string, m types.Message) int
	ConnectedStudents(sessionID string) []string
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock driving batching and the stats tick.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// tracked is one session's server-side view.
type tracked struct {
	id        string
	roster    int
	pipeline  *pipeline.Pipeline
	agg       *aggregator.Aggregator
	mu        sync.Mutex
	lastSaved uint64
	saved     bool
}

// Monitor implements router.Observer.
type Monitor struct {
	cfg       Config
	db        interfaces.DatabaseManager
	publisher Publisher
	clock     clock.Clock
	logger    *log.Logger
	tick      *clock.Slot

	mu       sync.RWMutex
	sessions map[string]*tracked
	finished map[string]bool
	running  bool
}

// New creates a monitor. db may be nil, which disables snapshots.
func New(cfg Config, db interfaces.DatabaseManager, publisher Publisher, opts ...Option) *Monitor {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultConfig().StatsInterval
	}
	m := &Monitor{
		cfg:       cfg,
		db:        db,
		publisher: publisher,
		sessions:  make(map[string]*tracked),
		finished:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	m.tick = clock.NewSlot(m.clock)
	return m
}

// Track starts a projection for session, sized to its roster.
func (m *Monitor) Track(session *types.Session) {
	t := m.session(session.ID)
	if t == nil {
		return
	}
	t.mu.Lock()
	t.roster = len(session.StudentIDs)
	t.mu.Unlock()
}

// session returns the tracked state for id, creating it on first use.
// It returns nil for finished sessions.
func (m *Monitor) session(id string) *tracked {
	m.mu.RLock()
	t, ok := m.sessions[id]
	done := m.finished[id]
	m.mu.RUnlock()
	if ok || done {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.sessions[id]; ok {
		return t
	}
	if m.finished[id] {
		return nil
	}
	t = &tracked{
		id:       id,
		pipeline: pipeline.New(m.cfg.Pipeline, pipeline.WithClock(m.clock), pipeline.WithLogger(m.logger)),
		agg:      aggregator.New(),
	}
	t.pipeline.OnBatch(t.agg.Apply)
	m.sessions[id] = t
	return t
}

// Observe buffers a routed message into its session's projection.
func (m *Monitor) Observe(sessionID string, message types.Message) {
	if sessionID == "" {
		return
	}
	if t := m.session(sessionID); t != nil {
		t.pipeline.Add(message)
	}
}

// Restore rebuilds projections for every non-completed session from its
// last snapshot
// FUNCTIONAL DISCOVERY: Every connection dropped with the old process, so
// restored students start disconnected until they rejoin
func (m *Monitor) Restore(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	sessions, err := m.db.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions for restore: %w", err)
	}

	restored := 0
	for _, session := range sessions {
		m.Track(session)
		snapshot, err := m.db.LoadSnapshot(ctx, session.ID)
		if errors.Is(err, interfaces.ErrSnapshotNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load snapshot for %s: %w", session.ID, err)
		}
		for i := range snapshot.Students {
			snapshot.Students[i].Connection = types.PresenceDisconnected
		}
		if t := m.session(session.ID); t != nil {
			t.agg.Restore(snapshot.Students)
			t.mu.Lock()
			t.saved = true
			t.mu.Unlock()
		}
		restored++
	}
	m.logger.Printf("Restored session projections: sessions=%d snapshots=%d", len(sessions), restored)
	return nil
}

// Start begins the periodic stats and snapshot tick.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	m.tick.Schedule(m.cfg.StatsInterval, m.onTick)
}

// Stop halts the tick, then flushes and snapshots every session.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.tick.Cancel()

	for _, t := range m.all() {
		t.pipeline.Flush()
		if err := m.snapshot(ctx, t); err != nil {
			m.logger.Printf("Snapshot failed on shutdown: session_id=%s err=%v", t.id, err)
		}
	}
}

// onTick re-arms itself so fake clocks can drive it one interval at a time.
func (m *Monitor) onTick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StatsInterval)
	defer cancel()
	m.Publish(ctx)

	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if running {
		m.tick.Schedule(m.cfg.StatsInterval, m.onTick)
	}
}

// Publish sends session_stats to the supervisors of every tracked session
// and saves snapshots for sessions that changed.
func (m *Monitor) Publish(ctx context.Context) {
	for _, t := range m.all() {
		stats := m.stats(t)
		if m.publisher != nil {
			m.publisher.BroadcastSupervisors(t.id, stats)
		}
		if err := m.snapshot(ctx, t); err != nil {
			m.logger.Printf("Snapshot failed: session_id=%s err=%v", t.id, err)
		}
	}
}

// Finish flushes a completed session, publishes its final stats and
// snapshot, and stops tracking it. Messages observed afterwards are dropped.
func (m *Monitor) Finish(ctx context.Context, sessionID string) {
	m.mu.Lock()
	t, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.finished[sessionID] = true
	m.mu.Unlock()
	if !ok {
		return
	}

	t.pipeline.Close()
	if m.publisher != nil {
		m.publisher.BroadcastSupervisors(sessionID, m.stats(t))
	}
	if err := m.snapshot(ctx, t); err != nil {
		m.logger.Printf("Final snapshot failed: session_id=%s err=%v", sessionID, err)
	}
	m.logger.Printf("Session projection finished: session_id=%s applied=%d", sessionID, t.agg.Applied())
}

// Projections returns the current student projections of a session.
func (m *Monitor) Projections(sessionID string) ([]types.StudentProjection, bool) {
	m.mu.RLock()
	t, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.agg.Students(), true
}

// Stats computes the current session_stats for a session.
func (m *Monitor) Stats(sessionID string) (*types.SessionStats, bool) {
	m.mu.RLock()
	t, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.stats(t), true
}

// Sessions returns the number of tracked sessions.
func (m *Monitor) Sessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Monitor) all() []*tracked {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		out = append(out, t)
	}
	return out
}

// stats prefers live connection counts over projected presence.
func (m *Monitor) stats(t *tracked) *types.SessionStats {
	totals := t.agg.Totals()
	t.mu.Lock()
	total := max(t.roster, totals.Students)
	t.mu.Unlock()

	connected := totals.Connected
	if m.publisher != nil {
		connected = len(m.publisher.ConnectedStudents(t.id))
	}
	stats := &types.SessionStats{
		TotalStudents:     total,
		ConnectedStudents: connected,
		SubmittedStudents: totals.Submitted,
		TotalViolations:   totals.Violations,
	}
	types.Stamp(stats, t.id, m.clock.Now())
	return stats
}

// snapshot saves t when its aggregator applied anything since the last save.
func (m *Monitor) snapshot(ctx context.Context, t *tracked) error {
	if m.db == nil {
		return nil
	}
	applied := t.agg.Applied()
	t.mu.Lock()
	unchanged := t.saved && applied == t.lastSaved
	t.mu.Unlock()
	if unchanged || (applied == 0 && len(t.agg.Students()) == 0) {
		return nil
	}

	snapshot := &types.ProjectionSnapshot{
		SessionID: t.id,
		TakenAt:   m.clock.Now().UTC(),
		Applied:   applied,
		Students:  t.agg.Students(),
	}
	if err := m.db.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}
	t.mu.Lock()
	t.lastSaved = applied
	t.saved = true
	t.mu.Unlock()
	return nil
}
