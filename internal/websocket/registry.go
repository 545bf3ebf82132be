package websocket

import (
	"log"
	"slices"
	"strings"
	"sync"

	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

// Registry manages WebSocket connections with thread-safe operations
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and connection operations
type Registry struct {
	mu                 sync.RWMutex                      // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	globalConnections  map[string]*Connection            // sessionID/userID -> Connection for O(1) lookup
	sessionSupervisors map[string]map[string]*Connection // sessionID -> userID -> Connection
	sessionStudents    map[string]map[string]*Connection // sessionID -> userID -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		globalConnections:  make(map[string]*Connection),
		sessionSupervisors: make(map[string]map[string]*Connection),
		sessionStudents:    make(map[string]map[string]*Connection),
	}
}

func connKey(sessionID, userID string) string {
	return sessionID + "/" + userID
}

// RegisterConnection adds a connection to all appropriate maps atomically.
// A connection already registered for the same user and session is replaced
// and closed with CloseReplaced.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	userID := conn.GetUserID()
	sessionID := conn.GetSessionID()
	key := connKey(sessionID, userID)

	r.mu.Lock()
	existing, replaced := r.globalConnections[key]
	if replaced && existing != conn {
		r.removeLocked(existing)
	}
	r.globalConnections[key] = conn
	byRole := r.roleMap(conn.GetRole())
	if byRole[sessionID] == nil {
		byRole[sessionID] = make(map[string]*Connection)
	}
	byRole[sessionID][userID] = conn
	r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Close the replaced connection outside the lock;
	// 4003 tells the old client not to reconnect and fight the new one
	if replaced && existing != conn {
		log.Printf("Connection replaced: user_id=%s session_id=%s", userID, sessionID)
		if err := existing.CloseWithCode(types.CloseReplaced, "connection replaced"); err != nil {
			log.Printf("Failed to close replaced connection: %v", err)
		}
	}
	return nil
}

// UnregisterConnection removes a specific connection from all maps atomically.
// It reports false when conn is not the registered connection, which happens
// after it was replaced.
func (r *Registry) UnregisterConnection(conn *Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.globalConnections[connKey(conn.GetSessionID(), conn.GetUserID())]
	if !exists || registered != conn {
		return false
	}
	r.removeLocked(conn)
	return true
}

func (r *Registry) removeLocked(conn *Connection) {
	userID := conn.GetUserID()
	sessionID := conn.GetSessionID()
	delete(r.globalConnections, connKey(sessionID, userID))

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	byRole := r.roleMap(conn.GetRole())
	if members, exists := byRole[sessionID]; exists {
		delete(members, userID)
		if len(members) == 0 {
			delete(byRole, sessionID)
		}
	}
}

func (r *Registry) roleMap(role string) map[string]map[string]*Connection {
	if role == types.RoleSupervisor {
		return r.sessionSupervisors
	}
	return r.sessionStudents
}

// GetUserConnection returns the current connection for a user in a session
func (r *Registry) GetUserConnection(sessionID, userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.globalConnections[connKey(sessionID, userID)]
	return conn, exists
}

// GetSessionConnections returns all connections in a session for broadcasting
func (r *Registry) GetSessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := collect(r.sessionSupervisors[sessionID])
	return append(connections, collect(r.sessionStudents[sessionID])...)
}

// GetSessionSupervisors returns supervisor connections for a session
// FUNCTIONAL DISCOVERY: All student telemetry is routed through this lookup
func (r *Registry) GetSessionSupervisors(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.sessionSupervisors[sessionID])
}

// GetSessionStudents returns student connections for a session
func (r *Registry) GetSessionStudents(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.sessionStudents[sessionID])
}

// ConnectedStudents returns the IDs of connected students, sorted.
func (r *Registry) ConnectedStudents(sessionID string) []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessionStudents[sessionID]))
	for id := range r.sessionStudents[sessionID] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// collect flattens a member map in user ID order.
func collect(members map[string]*Connection) []*Connection {
	connections := make([]*Connection, 0, len(members))
	for _, conn := range members {
		connections = append(connections, conn)
	}
	slices.SortFunc(connections, func(a, b *Connection) int {
		return strings.Compare(a.GetUserID(), b.GetUserID())
	})
	return connections
}

// BroadcastSession sends m to every connection in a session and returns the
// number of successful sends.
func (r *Registry) BroadcastSession(sessionID string, m types.Message) int {
	return send(r.GetSessionConnections(sessionID), m)
}

// BroadcastSupervisors sends m to every supervisor in a session.
func (r *Registry) BroadcastSupervisors(sessionID string, m types.Message) int {
	return send(r.GetSessionSupervisors(sessionID), m)
}

func send(connections []*Connection, m types.Message) int {
	delivered := 0
	for _, conn := range connections {
		if err := conn.Send(m); err != nil {
			log.Printf("Failed to deliver %s to %s: %v", m.MessageType(), conn.GetUserID(), err)
			continue
		}
		delivered++
	}
	return delivered
}

// CloseSession closes every connection in a session with code.
func (r *Registry) CloseSession(sessionID string, code int, reason string) int {
	connections := r.GetSessionConnections(sessionID)
	for _, conn := range connections {
		if err := conn.CloseWithCode(code, reason); err != nil {
			log.Printf("Failed to close connection %s: %v", conn.GetUserID(), err)
		}
	}
	return len(connections)
}

// CloseUser closes one user's connection in a session with code.
func (r *Registry) CloseUser(sessionID, userID string, code int, reason string) bool {
	conn, ok := r.GetUserConnection(sessionID, userID)
	if !ok {
		return false
	}
	if err := conn.CloseWithCode(code, reason); err != nil {
		log.Printf("Failed to close connection %s: %v", userID, err)
	}
	return true
}

// AsInterfaces converts connections for interface-typed callers.
func AsInterfaces(connections []*Connection) []interfaces.Connection {
	out := make([]interfaces.Connection, len(connections))
	for i, conn := range connections {
		out[i] = conn
	}
	return out
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uniqueSessions := make(map[string]bool)
	supervisors, students := 0, 0
	for sessionID, members := range r.sessionSupervisors {
		uniqueSessions[sessionID] = true
		supervisors += len(members)
	}
	for sessionID, members := range r.sessionStudents {
		uniqueSessions[sessionID] = true
		students += len(members)
	}

	return map[string]int{
		"total_connections": len(r.globalConnections),
		"active_sessions":   len(uniqueSessions),
		"supervisors":       supervisors,
		"students":          students,
	}
}
