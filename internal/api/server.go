package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"proctorwire/internal/session"
	"proctorwire/internal/websocket"
	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetSessionConnections(sessionID string) []*websocket.Connection
	ConnectedStudents(sessionID string) []string
	GetStats() map[string]int
}

// Projections exposes the session monitor's server-side view.
type Projections interface {
	Projections(sessionID string) ([]types.StudentProjection, bool)
	Stats(sessionID string) (*types.SessionStats, bool)
}

// Option configures a Server.
type Option func(*Server)

// WithProjections attaches the session monitor.
func WithProjections(p Projections) Option {
	return func(s *Server) { s.projections = p }
}

// WithWebSocket mounts the participant endpoint at GET /ws.
func WithWebSocket(handler http.HandlerFunc) Option {
	return func(s *Server) { s.wsHandler = handler }
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	sessionManager interfaces.SessionManager
	dbManager      interfaces.DatabaseManager
	registry       Registry
	projections    Projections
	wsHandler      http.HandlerFunc
	router         chi.Router
	started        time.Time
}

// NewServer wires the REST routes
func NewServer(sessionManager interfaces.SessionManager, dbManager interfaces.DatabaseManager, registry Registry, opts ...Option) *Server {
	s := &Server{
		sessionManager: sessionManager,
		dbManager:      dbManager,
		registry:       registry,
		started:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// The WebSocket endpoint sits outside the JSON middleware; the upgrade owns its response
func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	if s.wsHandler != nil {
		r.Get("/ws", s.wsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.jsonMiddleware)

		r.Get("/health", s.healthCheck)

		r.Route("/api/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/", s.listSessions)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.endSession)
				r.Post("/status", s.setStatus)
				r.Get("/students", s.listStudents)
				r.Delete("/students/{studentID}", s.kickStudent)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Route not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	s.router = r
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CreateSessionRequest struct {
	Name       string   `json:"name"`
	CreatedBy  string   `json:"created_by"`
	StudentIDs []string `json:"student_ids"`
}

type CreateSessionResponse struct {
	Session *types.Session `json:"session"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type SessionResponse struct {
	Session         *types.Session      `json:"session"`
	ConnectionCount int                 `json:"connection_count"`
	Stats           *types.SessionStats `json:"stats,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []SessionWithConnections `json:"sessions"`
}

type SessionWithConnections struct {
	*types.Session
	ConnectionCount int `json:"connection_count"`
}

// StudentStatus is one roster entry with its live and projected state.
type StudentStatus struct {
	StudentID  string                   `json:"student_id"`
	Connected  bool                     `json:"connected"`
	Projection *types.StudentProjection `json:"projection,omitempty"`
}

type ListStudentsResponse struct {
	SessionID string          `json:"session_id"`
	Students  []StudentStatus `json:"students"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	System      map[string]any `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /api/sessions - Create new session with duplicate student ID removal
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		s.sendError(w, "Session name is required", http.StatusBadRequest)
		return
	}
	if req.CreatedBy == "" {
		s.sendError(w, "created_by is required", http.StatusBadRequest)
		return
	}
	if len(req.StudentIDs) == 0 {
		s.sendError(w, "At least one student ID is required", http.StatusBadRequest)
		return
	}

	created, err := s.sessionManager.CreateSession(r.Context(), req.Name, req.CreatedBy, req.StudentIDs)
	if err != nil {
		s.sendSessionError(w, "Failed to create session", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, CreateSessionResponse{Session: created})
}

// FUNCTIONAL DISCOVERY: GET /api/sessions/{id} - Get session details with connection count
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	found, err := s.sessionManager.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, "Failed to get session", err)
		return
	}

	response := SessionResponse{
		Session:         found,
		ConnectionCount: len(s.registry.GetSessionConnections(sessionID)),
	}
	if s.projections != nil {
		if stats, ok := s.projections.Stats(sessionID); ok {
			response.Stats = stats
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

// FUNCTIONAL DISCOVERY: DELETE /api/sessions/{id} - End session; the session
// manager notifies and disconnects every participant
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "ended by supervisor"
	}

	if err := s.sessionManager.EndSession(r.Context(), sessionID, reason); err != nil {
		s.sendSessionError(w, "Failed to end session", err)
		return
	}
	log.Printf("Session ended via API: session_id=%s reason=%q", sessionID, reason)
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Session ended successfully"})
}

// POST /api/sessions/{id}/status - pause or resume
func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.sessionManager.SetStatus(r.Context(), sessionID, req.Status); err != nil {
		s.sendSessionError(w, "Failed to update session status", err)
		return
	}
	updated, err := s.sessionManager.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, "Failed to get session", err)
		return
	}
	s.writeJSON(w, http.StatusOK, SessionResponse{
		Session:         updated,
		ConnectionCount: len(s.registry.GetSessionConnections(sessionID)),
	})
}

// FUNCTIONAL DISCOVERY: GET /api/sessions - List active sessions with connection counts
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessionManager.ListActiveSessions(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	withConnections := make([]SessionWithConnections, len(sessions))
	for i, sess := range sessions {
		withConnections[i] = SessionWithConnections{
			Session:         sess,
			ConnectionCount: len(s.registry.GetSessionConnections(sess.ID)),
		}
	}
	s.writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: withConnections})
}

// GET /api/sessions/{id}/students - roster with presence and projections
func (s *Server) listStudents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	found, err := s.sessionManager.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, "Failed to get session", err)
		return
	}

	connected := make(map[string]bool)
	for _, id := range s.registry.ConnectedStudents(sessionID) {
		connected[id] = true
	}
	projected := make(map[string]types.StudentProjection)
	if s.projections != nil {
		if projections, ok := s.projections.Projections(sessionID); ok {
			for _, p := range projections {
				projected[p.StudentID] = p
			}
		}
	}

	students := make([]StudentStatus, len(found.StudentIDs))
	for i, id := range found.StudentIDs {
		students[i] = StudentStatus{StudentID: id, Connected: connected[id]}
		if p, ok := projected[id]; ok {
			students[i].Projection = &p
		}
	}
	s.writeJSON(w, http.StatusOK, ListStudentsResponse{SessionID: sessionID, Students: students})
}

// DELETE /api/sessions/{id}/students/{studentID} - remove a student
func (s *Server) kickStudent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	studentID := chi.URLParam(r, "studentID")
	if err := s.sessionManager.KickStudent(r.Context(), sessionID, studentID); err != nil {
		s.sendSessionError(w, "Failed to remove student", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Student removed"})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

// sendSessionError maps session manager errors onto HTTP statuses.
func (s *Server) sendSessionError(w http.ResponseWriter, fallback string, err error) {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrSessionAlreadyEnded), errors.Is(err, interfaces.ErrSessionEnded):
		s.sendError(w, "Session already ended", http.StatusConflict)
	case errors.Is(err, session.ErrStudentNotInSession):
		s.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrInvalidStatus),
		errors.Is(err, session.ErrInvalidStudentID),
		errors.Is(err, types.ErrInvalidSessionName),
		errors.Is(err, types.ErrInvalidCreatedBy),
		errors.Is(err, types.ErrEmptyStudentList):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("API error: %s: %v", fallback, err)
		s.sendError(w, fallback, http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins; dashboards are served from their own origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
