package interfaces_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

// Mock implementations for testing

type mockConnection struct{}

func (m *mockConnection) Send(types.Message) error                            { return nil }
func (m *mockConnection) Close() error                                        { return nil }
func (m *mockConnection) CloseWithCode(code int, reason string) error         { return nil }
func (m *mockConnection) GetUserID() string                                   { return "" }
func (m *mockConnection) GetRole() string                                     { return "" }
func (m *mockConnection) GetSessionID() string                                { return "" }
func (m *mockConnection) IsAuthenticated() bool                               { return false }
func (m *mockConnection) SetCredentials(userID, role, sessionID string) error { return nil }

type mockSessionManager struct{}

func (m *mockSessionManager) CreateSession(ctx context.Context, name string, createdBy string, studentIDs []string) (*types.Session, error) {
	return nil, nil
}
func (m *mockSessionManager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return nil, nil
}
func (m *mockSessionManager) EndSession(ctx context.Context, sessionID, reason string) error {
	return nil
}
func (m *mockSessionManager) SetStatus(ctx context.Context, sessionID, status string) error {
	return nil
}
func (m *mockSessionManager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return nil, nil
}
func (m *mockSessionManager) ValidateSessionMembership(sessionID, userID, role string) error {
	return nil
}
func (m *mockSessionManager) KickStudent(ctx context.Context, sessionID, studentID string) error {
	return nil
}

type mockRouter struct{}

func (m *mockRouter) RouteMessage(ctx context.Context, sender interfaces.Connection, message types.Message) error {
	return nil
}
func (m *mockRouter) RouteEvent(ctx context.Context, sessionID string, message types.Message) error {
	return nil
}
func (m *mockRouter) GetRecipients(sessionID string, message types.Message) []interfaces.Connection {
	return nil
}
func (m *mockRouter) ValidateMessage(sender interfaces.Connection, message types.Message) error {
	return nil
}

type mockDB struct{}

func (m *mockDB) CreateSession(ctx context.Context, session *types.Session) error { return nil }
func (m *mockDB) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return nil, nil
}
func (m *mockDB) UpdateSession(ctx context.Context, session *types.Session) error { return nil }
func (m *mockDB) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return nil, nil
}
func (m *mockDB) SaveSnapshot(ctx context.Context, snapshot *types.ProjectionSnapshot) error {
	return nil
}
func (m *mockDB) LoadSnapshot(ctx context.Context, sessionID string) (*types.ProjectionSnapshot, error) {
	return nil, interfaces.ErrSnapshotNotFound
}
func (m *mockDB) HealthCheck(ctx context.Context) error { return nil }
func (m *mockDB) Close() error                          { return nil }

var (
	_ interfaces.Connection      = (*mockConnection)(nil)
	_ interfaces.SessionManager  = (*mockSessionManager)(nil)
	_ interfaces.MessageRouter   = (*mockRouter)(nil)
	_ interfaces.DatabaseManager = (*mockDB)(nil)
)

// ARCHITECTURAL VALIDATION TEST: each interface keeps a focused method set
func TestInterfaces_MethodCounts(t *testing.T) {
	tests := []struct {
		name  string
		typ   reflect.Type
		count int
	}{
		{"Connection", reflect.TypeOf((*interfaces.Connection)(nil)).Elem(), 8},
		{"SessionManager", reflect.TypeOf((*interfaces.SessionManager)(nil)).Elem(), 7},
		{"MessageRouter", reflect.TypeOf((*interfaces.MessageRouter)(nil)).Elem(), 4},
		{"DatabaseManager", reflect.TypeOf((*interfaces.DatabaseManager)(nil)).Elem(), 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.NumMethod(); got != tt.count {
				t.Errorf("%s has %d methods, want %d", tt.name, got, tt.count)
			}
		})
	}
}

// FUNCTIONAL VALIDATION TEST: snapshot lookups report absence with a sentinel
func TestDatabaseManager_SnapshotNotFound(t *testing.T) {
	var db interfaces.DatabaseManager = &mockDB{}

	_, err := db.LoadSnapshot(context.Background(), "missing")
	if !errors.Is(err, interfaces.ErrSnapshotNotFound) {
		t.Errorf("Expected ErrSnapshotNotFound, got %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: membership errors are distinct for close-code mapping
func TestErrors_Distinct(t *testing.T) {
	errs := []error{
		interfaces.ErrSessionNotFound,
		interfaces.ErrSessionEnded,
		interfaces.ErrUnauthorized,
		interfaces.ErrSnapshotNotFound,
	}
	for i := range errs {
		for j := range errs {
			if i != j && errors.Is(errs[i], errs[j]) {
				t.Errorf("%v should not match %v", errs[i], errs[j])
			}
		}
	}
}
