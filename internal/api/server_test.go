package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proctorwire/internal/session"
	"proctorwire/internal/websocket"
	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

// mockSessionManager keeps sessions in memory and returns the same sentinel
// errors as the real manager
type mockSessionManager struct {
	sessions map[string]*types.Session
	kicked   []string
	ended    []string
	failWith error
}

func newMockSessionManager(sessions ...*types.Session) *mockSessionManager {
	m := &mockSessionManager{sessions: make(map[string]*types.Session)}
	for _, s := range sessions {
		m.sessions[s.ID] = s
	}
	return m
}

func (m *mockSessionManager) CreateSession(ctx context.Context, name, createdBy string, studentIDs []string) (*types.Session, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	s := &types.Session{
		ID:         fmt.Sprintf("session-%d", len(m.sessions)+1),
		Name:       name,
		CreatedBy:  createdBy,
		StudentIDs: studentIDs,
		StartTime:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:     types.SessionStatusActive,
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *mockSessionManager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s, nil
}

func (m *mockSessionManager) EndSession(ctx context.Context, sessionID, reason string) error {
	s, ok := m.sessions[sessionID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	if s.Status == types.SessionStatusCompleted {
		return session.ErrSessionAlreadyEnded
	}
	s.Status = types.SessionStatusCompleted
	m.ended = append(m.ended, sessionID+" "+reason)
	return nil
}

func (m *mockSessionManager) SetStatus(ctx context.Context, sessionID, status string) error {
	s, ok := m.sessions[sessionID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	if status != types.SessionStatusActive && status != types.SessionStatusPaused {
		return fmt.Errorf("%w: %q", session.ErrInvalidStatus, status)
	}
	s.Status = status
	return nil
}

func (m *mockSessionManager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []*types.Session
	for _, s := range m.sessions {
		if s.Status != types.SessionStatusCompleted {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSessionManager) ValidateSessionMembership(sessionID, userID, role string) error {
	return nil
}

func (m *mockSessionManager) KickStudent(ctx context.Context, sessionID, studentID string) error {
	s, ok := m.sessions[sessionID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	if !s.HasStudent(studentID) {
		return fmt.Errorf("%w: %s", session.ErrStudentNotInSession, studentID)
	}
	m.kicked = append(m.kicked, studentID)
	return nil
}

type mockDatabaseManager struct {
	healthErr error
}

func (m *mockDatabaseManager) CreateSession(ctx context.Context, s *types.Session) error { return nil }
func (m *mockDatabaseManager) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (m *mockDatabaseManager) UpdateSession(ctx context.Context, s *types.Session) error { return nil }
func (m *mockDatabaseManager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return nil, nil
}
func (m *mockDatabaseManager) SaveSnapshot(ctx context.Context, s *types.ProjectionSnapshot) error {
	return nil
}
func (m *mockDatabaseManager) LoadSnapshot(ctx context.Context, id string) (*types.ProjectionSnapshot, error) {
	return nil, interfaces.ErrSnapshotNotFound
}
func (m *mockDatabaseManager) HealthCheck(ctx context.Context) error { return m.healthErr }
func (m *mockDatabaseManager) Close() error                          { return nil }

type mockRegistry struct {
	connected map[string][]string
}

func (m *mockRegistry) GetSessionConnections(sessionID string) []*websocket.Connection { return nil }
func (m *mockRegistry) ConnectedStudents(sessionID string) []string                    { return m.connected[sessionID] }
func (m *mockRegistry) GetStats() map[string]int {
	return map[string]int{"total_connections": 0}
}

type mockProjections struct {
	projections map[string][]types.StudentProjection
}

func (m *mockProjections) Projections(sessionID string) ([]types.StudentProjection, bool) {
	p, ok := m.projections[sessionID]
	return p, ok
}

func (m *mockProjections) Stats(sessionID string) (*types.SessionStats, bool) {
	p, ok := m.projections[sessionID]
	if !ok {
		return nil, false
	}
	return &types.SessionStats{TotalStudents: len(p)}, true
}

var (
	_ interfaces.SessionManager  = (*mockSessionManager)(nil)
	_ interfaces.DatabaseManager = (*mockDatabaseManager)(nil)
	_ Registry                   = (*websocket.Registry)(nil)
)

func testSession() *types.Session {
	return &types.Session{
		ID:         "exam-1",
		Name:       "Midterm",
		CreatedBy:  "sup1",
		StudentIDs: []string{"st1", "st2"},
		Status:     types.SessionStatusActive,
	}
}

func do(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// FUNCTIONAL VALIDATION TEST: POST /api/sessions endpoint
func TestServer_CreateSession(t *testing.T) {
	sessions := newMockSessionManager()
	server := NewServer(sessions, &mockDatabaseManager{}, &mockRegistry{})

	w := do(t, server, http.MethodPost, "/api/sessions", `{
		"name": "Midterm",
		"created_by": "sup1",
		"student_ids": ["st1", "st2"]
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	resp := decode[CreateSessionResponse](t, w)
	if resp.Session == nil || resp.Session.Name != "Midterm" || len(resp.Session.StudentIDs) != 2 {
		t.Errorf("Unexpected session in response: %+v", resp.Session)
	}
}

// FUNCTIONAL VALIDATION TEST: Request validation happens before the session manager is called
func TestServer_CreateSessionValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{"name":`, http.StatusBadRequest},
		{"missing name", `{"created_by":"sup1","student_ids":["st1"]}`, http.StatusBadRequest},
		{"missing created_by", `{"name":"Midterm","student_ids":["st1"]}`, http.StatusBadRequest},
		{"empty roster", `{"name":"Midterm","created_by":"sup1","student_ids":[]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := newMockSessionManager()
			server := NewServer(sessions, &mockDatabaseManager{}, &mockRegistry{})
			w := do(t, server, http.MethodPost, "/api/sessions", tt.body)
			if w.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, w.Code)
			}
			if len(sessions.sessions) != 0 {
				t.Error("Session manager should not be called for invalid requests")
			}
			if resp := decode[ErrorResponse](t, w); resp.Code != tt.code {
				t.Errorf("Error body code = %d, want %d", resp.Code, tt.code)
			}
		})
	}
}

// FUNCTIONAL VALIDATION TEST: Session manager validation errors map to 400, others to 500
func TestServer_CreateSessionManagerErrors(t *testing.T) {
	body := `{"name":"Midterm","created_by":"sup1","student_ids":["bad id"]}`

	sessions := newMockSessionManager()
	sessions.failWith = fmt.Errorf("%w: %q", session.ErrInvalidStudentID, "bad id")
	w := do(t, NewServer(sessions, &mockDatabaseManager{}, &mockRegistry{}), http.MethodPost, "/api/sessions", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Invalid student ID: expected 400, got %d", w.Code)
	}

	sessions.failWith = errors.New("disk full")
	w = do(t, NewServer(sessions, &mockDatabaseManager{}, &mockRegistry{}), http.MethodPost, "/api/sessions", body)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Storage failure: expected 500, got %d", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Message != "Failed to create session" {
		t.Errorf("Internal errors should not leak details, got %q", resp.Message)
	}
}

// FUNCTIONAL VALIDATION TEST: GET /api/sessions/{id} endpoint
func TestServer_GetSession(t *testing.T) {
	projections := &mockProjections{projections: map[string][]types.StudentProjection{
		"exam-1": {{StudentID: "st1"}, {StudentID: "st2"}},
	}}
	server := NewServer(newMockSessionManager(testSession()), &mockDatabaseManager{}, &mockRegistry{},
		WithProjections(projections))

	w := do(t, server, http.MethodGet, "/api/sessions/exam-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode[SessionResponse](t, w)
	if resp.Session.ID != "exam-1" {
		t.Errorf("Expected session exam-1, got %s", resp.Session.ID)
	}
	if resp.Stats == nil || resp.Stats.TotalStudents != 2 {
		t.Errorf("Expected monitor stats in response, got %+v", resp.Stats)
	}

	w = do(t, server, http.MethodGet, "/api/sessions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d for missing session, got %d", http.StatusNotFound, w.Code)
	}
}

// FUNCTIONAL VALIDATION TEST: DELETE /api/sessions/{id} endpoint
func TestServer_EndSession(t *testing.T) {
	sessions := newMockSessionManager(testSession())
	server := NewServer(sessions, &mockDatabaseManager{}, &mockRegistry{})

	w := do(t, server, http.MethodDelete, "/api/sessions/exam-1?reason=time+up", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if len(sessions.ended) != 1 || sessions.ended[0] != "exam-1 time up" {
		t.Errorf("Expected EndSession with query reason, got %v", sessions.ended)
	}

	w = do(t, server, http.MethodDelete, "/api/sessions/exam-1", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Ending twice: expected %d, got %d", http.StatusConflict, w.Code)
	}

	w = do(t, server, http.MethodDelete, "/api/sessions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Missing session: expected %d, got %d", http.StatusNotFound, w.Code)
	}
}

// FUNCTIONAL VALIDATION TEST: DELETE without a reason uses the supervisor default
func TestServer_EndSessionDefaultReason(t *testing.T) {
	sessions := newMockSessionManager(testSession())
	server := NewServer(sessions, &mockDatabaseManager{}, &mockRegistry{})

	do(t, server, http.MethodDelete, "/api/sessions/exam-1", "")
	if len(sessions.ended) != 1 || sessions.ended[0] != "exam-1 ended by supervisor" {
		t.Errorf("Expected default reason, got %v", sessions.ended)
	}
}

// FUNCTIONAL VALIDATION TEST: POST /api/sessions/{id}/status pauses and resumes
func TestServer_SetStatus(t *testing.T) {
	sessions := newMockSessionManager(testSession())
	server := NewServer(sessions, &mockDatabaseManager{}, &mockRegistry{})

	w := do(t, server, http.MethodPost, "/api/sessions/exam-1/status", `{"status":"paused"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if resp := decode[SessionResponse](t, w); resp.Session.Status != types.SessionStatusPaused {
		t.Errorf("Expected paused, got %s", resp.Session.Status)
	}

	w = do(t, server, http.MethodPost, "/api/sessions/exam-1/status", `{"status":"completed"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Invalid status: expected %d, got %d", http.StatusBadRequest, w.Code)
	}

	w = do(t, server, http.MethodPost, "/api/sessions/exam-1/status", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Invalid JSON: expected %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// FUNCTIONAL VALIDATION TEST: GET /api/sessions endpoint
func TestServer_ListSessions(t *testing.T) {
	ended := testSession()
	ended.ID = "exam-0"
	ended.Status = types.SessionStatusCompleted
	server := NewServer(newMockSessionManager(testSession(), ended), &mockDatabaseManager{}, &mockRegistry{})

	w := do(t, server, http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode[ListSessionsResponse](t, w)
	if len(resp.Sessions) != 1 || resp.Sessions[0].ID != "exam-1" {
		t.Errorf("Expected only the active session, got %+v", resp.Sessions)
	}

	failing := newMockSessionManager()
	failing.failWith = errors.New("db down")
	w = do(t, NewServer(failing, &mockDatabaseManager{}, &mockRegistry{}), http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

// FUNCTIONAL VALIDATION TEST: Roster listing merges presence with monitor projections
func TestServer_ListStudents(t *testing.T) {
	registry := &mockRegistry{connected: map[string][]string{"exam-1": {"st2"}}}
	projections := &mockProjections{projections: map[string][]types.StudentProjection{
		"exam-1": {{StudentID: "st2", ViolationCount: 3}},
	}}
	server := NewServer(newMockSessionManager(testSession()), &mockDatabaseManager{}, registry,
		WithProjections(projections))

	w := do(t, server, http.MethodGet, "/api/sessions/exam-1/students", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode[ListStudentsResponse](t, w)
	if len(resp.Students) != 2 {
		t.Fatalf("Expected full roster, got %+v", resp.Students)
	}
	if st1 := resp.Students[0]; st1.StudentID != "st1" || st1.Connected || st1.Projection != nil {
		t.Errorf("st1 should be offline with no projection: %+v", st1)
	}
	st2 := resp.Students[1]
	if !st2.Connected || st2.Projection == nil || st2.Projection.ViolationCount != 3 {
		t.Errorf("st2 should be connected with 3 violations: %+v", st2)
	}
}

// FUNCTIONAL VALIDATION TEST: DELETE /api/sessions/{id}/students/{studentID}
func TestServer_KickStudent(t *testing.T) {
	sessions := newMockSessionManager(testSession())
	server := NewServer(sessions, &mockDatabaseManager{}, &mockRegistry{})

	w := do(t, server, http.MethodDelete, "/api/sessions/exam-1/students/st1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if len(sessions.kicked) != 1 || sessions.kicked[0] != "st1" {
		t.Errorf("Expected st1 kicked, got %v", sessions.kicked)
	}

	w = do(t, server, http.MethodDelete, "/api/sessions/exam-1/students/intruder", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Unknown student: expected %d, got %d", http.StatusNotFound, w.Code)
	}
}

// FUNCTIONAL VALIDATION TEST: GET /health endpoint
func TestServer_HealthCheck(t *testing.T) {
	server := NewServer(newMockSessionManager(), &mockDatabaseManager{}, &mockRegistry{})
	w := do(t, server, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "healthy" || resp.Database != "healthy" {
		t.Errorf("Expected healthy, got %+v", resp)
	}
	if _, ok := resp.Connections["total_connections"]; !ok {
		t.Error("Expected registry stats in health response")
	}

	unhealthy := NewServer(newMockSessionManager(), &mockDatabaseManager{healthErr: errors.New("locked")}, &mockRegistry{})
	w = do(t, unhealthy, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

// FUNCTIONAL VALIDATION TEST: CORS preflight and unknown routes
func TestServer_CORSAndNotFound(t *testing.T) {
	server := NewServer(newMockSessionManager(), &mockDatabaseManager{}, &mockRegistry{})

	w := do(t, server, http.MethodOptions, "/api/sessions", "")
	if w.Code != http.StatusOK {
		t.Errorf("Preflight: expected %d, got %d", http.StatusOK, w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header on preflight")
	}

	w = do(t, server, http.MethodGet, "/api/nowhere", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected %d, got %d", http.StatusNotFound, w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != http.StatusNotFound {
		t.Errorf("Expected JSON error body, got %+v", resp)
	}
}

// FUNCTIONAL VALIDATION TEST: The WebSocket endpoint is mounted only when configured
func TestServer_WebSocketMount(t *testing.T) {
	called := false
	server := NewServer(newMockSessionManager(), &mockDatabaseManager{}, &mockRegistry{},
		WithWebSocket(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		}))

	w := do(t, server, http.MethodGet, "/ws?user_id=st1", "")
	if !called || w.Code != http.StatusTeapot {
		t.Errorf("Expected WebSocket handler to serve /ws, got %d", w.Code)
	}

	bare := NewServer(newMockSessionManager(), &mockDatabaseManager{}, &mockRegistry{})
	if w := do(t, bare, http.MethodGet, "/ws", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without WebSocket handler, got %d", w.Code)
	}
}
