package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/google/uuid"

	"proctorwire/internal/clock"
	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

// Broadcaster reaches the live connections of a session.
// The websocket Registry implements it.
type Broadcaster interface {
	BroadcastSession(sessionID string, m types.Message) int
	CloseSession(sessionID string, code int, reason string) int
	CloseUser(sessionID, userID string, code int, reason string) bool
}

// EndHook runs after a session is marked completed and before its
// connections are closed.
type EndHook func(ctx context.Context, sessionID string)

// CreateHook runs with a copy of every newly created session.
type CreateHook func(session *types.Session)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for start and end times.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithBroadcaster attaches the live connection registry.
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Manager) { m.broadcaster = b }
}

// Manager implements the SessionManager interface
// ARCHITECTURAL DISCOVERY: Non-completed sessions are cached in memory so
// membership validation on every WebSocket upgrade avoids the database
type Manager struct {
	dbManager      interfaces.DatabaseManager
	broadcaster    Broadcaster
	clock          clock.Clock
	activeSessions map[string]*types.Session  // sessionID -> Session
	removed        map[string]map[string]bool // sessionID -> kicked student IDs
	hooks          []EndHook
	created        []CreateHook
	mu             sync.RWMutex
}

// NewManager creates a new session manager
func NewManager(dbManager interfaces.DatabaseManager, opts ...Option) *Manager {
	m := &Manager{
		dbManager:      dbManager,
		clock:          clock.Real(),
		activeSessions: make(map[string]*types.Session),
		removed:        make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetBroadcaster attaches the registry after construction.
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcaster = b
}

// OnEnded registers a hook run for every session that ends.
func (m *Manager) OnEnded(hook EndHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// OnCreated registers a hook run for every session created.
func (m *Manager) OnCreated(hook CreateHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, hook)
}

// LoadActiveSessions loads all non-completed sessions from database into memory
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.dbManager.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSessions = make(map[string]*types.Session, len(sessions))
	for _, session := range sessions {
		m.activeSessions[session.ID] = session
	}

	log.Printf("Loaded %d active sessions", len(sessions))
	return nil
}

// CreateSession creates a new active session
func (m *Manager) CreateSession(ctx context.Context, name string, createdBy string, studentIDs []string) (*types.Session, error) {
	session := &types.Session{
		ID:         uuid.New().String(),
		Name:       name,
		CreatedBy:  createdBy,
		StudentIDs: removeDuplicates(studentIDs),
		StartTime:  m.clock.Now().UTC(),
		Status:     types.SessionStatusActive,
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	for _, studentID := range session.StudentIDs {
		if !types.IsValidUserID(studentID) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStudentID, studentID)
		}
	}

	if err := m.dbManager.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.activeSessions[session.ID] = session
	hooks := slices.Clone(m.created)
	m.mu.Unlock()

	log.Printf("Created session: id=%s name=%q students=%d", session.ID, session.Name, len(session.StudentIDs))
	for _, hook := range hooks {
		hook(clone(session))
	}
	return clone(session), nil
}

// GetSession retrieves a session by ID, cache first
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	if session, exists := m.activeSessions[sessionID]; exists {
		defer m.mu.RUnlock()
		return clone(session), nil
	}
	m.mu.RUnlock()

	// Completed sessions and cache misses
	return m.dbManager.GetSession(ctx, sessionID)
}

// lookup returns the cached session, loading it on a miss.
func (m *Manager) lookup(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	session, exists := m.activeSessions[sessionID]
	m.mu.RUnlock()
	if exists {
		return session, nil
	}

	session, err := m.dbManager.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.Status != types.SessionStatusCompleted {
		m.mu.Lock()
		if cached, ok := m.activeSessions[sessionID]; ok {
			session = cached
		} else {
			m.activeSessions[sessionID] = session
		}
		m.mu.Unlock()
	}
	return session, nil
}

// EndSession completes a session and disconnects everyone in it
// FUNCTIONAL DISCOVERY: session_completed is queued on every connection ahead
// of the 4000 close frame, so clients learn the reason before the socket drops
func (m *Manager) EndSession(ctx context.Context, sessionID, reason string) error {
	session, err := m.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if session.Status == types.SessionStatusCompleted {
		m.mu.Unlock()
		return ErrSessionAlreadyEnded
	}
	previous := session.Status
	updated := clone(session)
	now := m.clock.Now().UTC()
	updated.EndTime = &now
	updated.Status = types.SessionStatusCompleted
	m.mu.Unlock()

	if err := m.dbManager.UpdateSession(ctx, updated); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	m.mu.Lock()
	delete(m.activeSessions, sessionID)
	delete(m.removed, sessionID)
	hooks := slices.Clone(m.hooks)
	broadcaster := m.broadcaster
	m.mu.Unlock()

	log.Printf("Ended session: id=%s name=%q reason=%q", sessionID, session.Name, reason)

	for _, hook := range hooks {
		hook(ctx, sessionID)
	}

	if broadcaster == nil {
		return nil
	}
	changed := &types.SessionStatusChanged{Status: types.SessionStatusCompleted, PreviousStatus: previous}
	types.Stamp(changed, sessionID, now)
	broadcaster.BroadcastSession(sessionID, changed)

	completed := &types.SessionCompleted{Reason: reason}
	types.Stamp(completed, sessionID, now)
	broadcaster.BroadcastSession(sessionID, completed)

	closed := broadcaster.CloseSession(sessionID, types.CloseSessionEnded, types.CloseReason(types.CloseSessionEnded))
	log.Printf("Closed session connections: session_id=%s count=%d", sessionID, closed)
	return nil
}

// SetStatus pauses or resumes a session
func (m *Manager) SetStatus(ctx context.Context, sessionID, status string) error {
	if status != types.SessionStatusActive && status != types.SessionStatusPaused {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	session, err := m.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	previous := session.Status
	if previous == types.SessionStatusCompleted {
		m.mu.Unlock()
		return ErrSessionEnded
	}
	if previous == status {
		m.mu.Unlock()
		return nil
	}
	updated := clone(session)
	updated.Status = status
	m.mu.Unlock()

	if err := m.dbManager.UpdateSession(ctx, updated); err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	m.mu.Lock()
	m.activeSessions[sessionID] = updated
	broadcaster := m.broadcaster
	m.mu.Unlock()

	log.Printf("Session status changed: id=%s from=%s to=%s", sessionID, previous, status)
	if broadcaster != nil {
		changed := &types.SessionStatusChanged{Status: status, PreviousStatus: previous}
		types.Stamp(changed, sessionID, m.clock.Now())
		broadcaster.BroadcastSession(sessionID, changed)
	}
	return nil
}

// ListActiveSessions returns non-completed sessions, newest first
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	m.mu.RLock()
	sessions := make([]*types.Session, 0, len(m.activeSessions))
	for _, session := range m.activeSessions {
		sessions = append(sessions, clone(session))
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *types.Session) int {
		return b.StartTime.Compare(a.StartTime)
	})
	return sessions, nil
}

// ValidateSessionMembership checks if user can join session
// FUNCTIONAL DISCOVERY: Supervisors may join any session that has not
// completed; students only sessions whose roster lists them
func (m *Manager) ValidateSessionMembership(sessionID, userID, role string) error {
	session, err := m.lookup(context.Background(), sessionID)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if session.Status == types.SessionStatusCompleted {
		return ErrSessionEnded
	}

	switch role {
	case types.RoleSupervisor:
		return nil
	case types.RoleStudent:
		if !session.HasStudent(userID) || m.removed[sessionID][userID] {
			return ErrUnauthorized
		}
		return nil
	default:
		return ErrInvalidRole
	}
}

// KickStudent removes a student from a live session
// ARCHITECTURAL DISCOVERY: 4003 stops the client from reconnecting, and the
// student stays blocked from rejoining until the relay restarts
func (m *Manager) KickStudent(ctx context.Context, sessionID, studentID string) error {
	session, err := m.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if session.Status == types.SessionStatusCompleted {
		m.mu.Unlock()
		return ErrSessionEnded
	}
	if !session.HasStudent(studentID) {
		m.mu.Unlock()
		return ErrStudentNotInSession
	}
	if m.removed[sessionID] == nil {
		m.removed[sessionID] = make(map[string]bool)
	}
	m.removed[sessionID][studentID] = true
	broadcaster := m.broadcaster
	m.mu.Unlock()

	connected := broadcaster != nil && broadcaster.CloseUser(sessionID, studentID, types.CloseReplaced, "removed by supervisor")
	log.Printf("Student removed: session_id=%s student_id=%s connected=%t", sessionID, studentID, connected)
	return nil
}

// GetStats returns session manager statistics
func (m *Manager) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paused := 0
	for _, session := range m.activeSessions {
		if session.Status == types.SessionStatusPaused {
			paused++
		}
	}
	return map[string]int{
		"active_sessions": len(m.activeSessions) - paused,
		"paused_sessions": paused,
	}
}

func clone(s *types.Session) *types.Session {
	c := *s
	c.StudentIDs = slices.Clone(s.StudentIDs)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// removeDuplicates keeps the first occurrence of each student ID.
func removeDuplicates(studentIDs []string) []string {
	seen := make(map[string]bool)
	unique := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique
}
