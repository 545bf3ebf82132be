package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proctorwire/internal/clock"
	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

type snapshotStore struct {
	mu        sync.Mutex
	sessions  []*types.Session
	snapshots map[string]*types.ProjectionSnapshot
	saves     int
	loadErr   error
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{snapshots: make(map[string]*types.ProjectionSnapshot)}
}

func (s *snapshotStore) CreateSession(context.Context, *types.Session) error { return nil }
func (s *snapshotStore) GetSession(context.Context, string) (*types.Session, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (s *snapshotStore) UpdateSession(context.Context, *types.Session) error { return nil }
func (s *snapshotStore) ListActiveSessions(context.Context) ([]*types.Session, error) {
	return s.sessions, nil
}
func (s *snapshotStore) SaveSnapshot(ctx context.Context, snapshot *types.ProjectionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.snapshots[snapshot.SessionID] = snapshot
	return nil
}
func (s *snapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (*types.ProjectionSnapshot, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[sessionID]
	if !ok {
		return nil, interfaces.ErrSnapshotNotFound
	}
	return snapshot, nil
}
func (s *snapshotStore) HealthCheck(context.Context) error { return nil }
func (s *snapshotStore) Close() error                      { return nil }

func (s *snapshotStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type fakePublisher struct {
	mu        sync.Mutex
	sent      []*types.SessionStats
	connected map[string][]string
}

func (p *fakePublisher) BroadcastSupervisors(sessionID string, m types.Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stats, ok := m.(*types.SessionStats); ok {
		p.sent = append(p.sent, stats)
	}
	return 1
}

func (p *fakePublisher) ConnectedStudents(sessionID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected[sessionID]
}

func (p *fakePublisher) last() *types.SessionStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return nil
	}
	return p.sent[len(p.sent)-1]
}

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func student(id string) types.Student { return types.Student{StudentID: id} }

func newTestMonitor(t *testing.T) (*Monitor, *snapshotStore, *fakePublisher, *clock.FakeClock) {
	t.Helper()
	store := newSnapshotStore()
	pub := &fakePublisher{connected: map[string][]string{}}
	fc := clock.Fake(start)
	return New(DefaultConfig(), store, pub, WithClock(fc)), store, pub, fc
}

// FUNCTIONAL VALIDATION TEST: observed telemetry reaches the projection after one flush interval
func TestMonitor_ObserveBatches(t *testing.T) {
	m, _, _, fc := newTestMonitor(t)

	m.Observe("s1", &types.StudentProgress{Student: student("st1"), QuestionIndex: 3})
	m.Observe("s1", &types.Violation{Student: student("st1"), ViolationType: types.ViolationTabSwitch})

	if projections, _ := m.Projections("s1"); len(projections) != 0 {
		t.Fatal("Nothing should be applied before the flush interval")
	}

	fc.Advance(300 * time.Millisecond)
	projections, ok := m.Projections("s1")
	if !ok || len(projections) != 1 {
		t.Fatalf("Expected one projection, got %d", len(projections))
	}
	p := projections[0]
	if p.QuestionIndex != 3 || p.ViolationCount != 1 || p.Violations[types.ViolationTabSwitch] != 1 {
		t.Errorf("Unexpected projection: %+v", p)
	}
}

// FUNCTIONAL VALIDATION TEST: supervisors get periodic stats using live connection counts
func TestMonitor_PeriodicStats(t *testing.T) {
	m, store, pub, fc := newTestMonitor(t)
	m.Track(&types.Session{ID: "s1", StudentIDs: []string{"st1", "st2", "st3"}})
	pub.connected["s1"] = []string{"st1", "st2"}

	m.Observe("s1", &types.StudentSubmitted{Student: student("st1")})
	m.Observe("s1", &types.Violation{Student: student("st2"), ViolationType: types.ViolationCopyAttempt})
	m.Start()
	defer m.Stop(context.Background())

	fc.Advance(10 * time.Second)
	stats := pub.last()
	if stats == nil {
		t.Fatal("Expected session_stats after one interval")
	}
	if stats.TotalStudents != 3 || stats.ConnectedStudents != 2 || stats.SubmittedStudents != 1 || stats.TotalViolations != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.SessionID != "s1" || !stats.Timestamp.Equal(start.Add(10*time.Second)) {
		t.Errorf("Stats should be stamped with session and tick time: %+v", stats.Header)
	}
	if store.saveCount() != 1 {
		t.Errorf("Expected one snapshot, got %d", store.saveCount())
	}

	fc.Advance(10 * time.Second)
	if store.saveCount() != 1 {
		t.Error("Unchanged projections should not be saved again")
	}
	pub.mu.Lock()
	sent := len(pub.sent)
	pub.mu.Unlock()
	if sent != 2 {
		t.Errorf("Expected stats every interval, got %d", sent)
	}
}

func TestMonitor_Finish(t *testing.T) {
	m, store, pub, _ := newTestMonitor(t)
	m.Track(&types.Session{ID: "s1", StudentIDs: []string{"st1"}})
	m.Observe("s1", &types.StudentAnswer{Student: student("st1"), QuestionID: "q1"})

	m.Finish(context.Background(), "s1")

	snapshot := store.snapshots["s1"]
	if snapshot == nil || len(snapshot.Students) != 1 || snapshot.Students[0].AnswersSubmitted != 1 {
		t.Fatalf("Final snapshot should include buffered messages: %+v", snapshot)
	}
	if pub.last() == nil {
		t.Error("Final stats should be published")
	}
	if _, ok := m.Projections("s1"); ok {
		t.Error("Finished session should no longer be tracked")
	}

	m.Observe("s1", &types.ParticipantDisconnected{Student: student("st1"), Role: types.RoleStudent})
	if m.Sessions() != 0 {
		t.Error("Messages after finish must not recreate the session")
	}
}

// FUNCTIONAL VALIDATION TEST: a restarted relay resumes from snapshots with everyone disconnected
func TestMonitor_Restore(t *testing.T) {
	store := newSnapshotStore()
	store.sessions = []*types.Session{
		{ID: "s1", StudentIDs: []string{"st1", "st2"}, Status: types.SessionStatusActive},
		{ID: "s2", StudentIDs: []string{"st9"}, Status: types.SessionStatusPaused},
	}
	store.snapshots["s1"] = &types.ProjectionSnapshot{
		SessionID: "s1",
		Students: []types.StudentProjection{{
			StudentID:      "st1",
			Connection:     types.PresenceConnected,
			QuestionIndex:  4,
			ViolationCount: 2,
			Violations:     types.ViolationCounters{types.ViolationTabSwitch: 2},
		}},
	}

	m := New(DefaultConfig(), store, nil, WithClock(clock.Fake(start)))
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if m.Sessions() != 2 {
		t.Errorf("Expected both sessions tracked, got %d", m.Sessions())
	}
	projections, _ := m.Projections("s1")
	if len(projections) != 1 || projections[0].QuestionIndex != 4 || projections[0].Connection != types.PresenceDisconnected {
		t.Errorf("Unexpected restored projection: %+v", projections)
	}
	stats, _ := m.Stats("s1")
	if stats.TotalStudents != 2 || stats.TotalViolations != 2 || stats.ConnectedStudents != 0 {
		t.Errorf("Unexpected stats after restore: %+v", stats)
	}

	m.Publish(context.Background())
	if store.saveCount() != 0 {
		t.Error("Restored state should not be saved again until it changes")
	}
}

func TestMonitor_RestoreLoadError(t *testing.T) {
	store := newSnapshotStore()
	store.sessions = []*types.Session{{ID: "s1", StudentIDs: []string{"st1"}}}
	store.loadErr = errors.New("disk on fire")

	m := New(DefaultConfig(), store, nil)
	if err := m.Restore(context.Background()); err == nil {
		t.Error("Expected load error to surface")
	}
}

func TestMonitor_WithoutDatabase(t *testing.T) {
	m := New(Config{}, nil, nil, WithClock(clock.Fake(start)))
	if err := m.Restore(context.Background()); err != nil {
		t.Errorf("Restore without a database should be a no-op: %v", err)
	}
	m.Observe("s1", &types.StudentProgress{Student: student("st1")})
	m.Publish(context.Background())
	m.Finish(context.Background(), "s1")
	if m.cfg.StatsInterval != 10*time.Second {
		t.Errorf("Expected default stats interval, got %v", m.cfg.StatsInterval)
	}
}

func TestMonitor_StopFlushesAndSnapshots(t *testing.T) {
	m, store, _, _ := newTestMonitor(t)
	m.Start()
	m.Observe("s1", &types.StudentHighlight{Student: student("st1"), EndOffset: 3})

	m.Stop(context.Background())
	if store.saveCount() != 1 {
		t.Errorf("Expected a snapshot on stop, got %d", store.saveCount())
	}
}
