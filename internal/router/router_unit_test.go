package router

import (
	"errors"
	"testing"
	"time"

	"proctorwire/internal/clock"
	"proctorwire/pkg/types"
)

// fakeSender is an authenticated connection that records nothing.
type fakeSender struct {
	userID, role, sessionID string
	authenticated           bool
}

func (f *fakeSender) Send(types.Message) error                    { return nil }
func (f *fakeSender) Close() error                                { return nil }
func (f *fakeSender) CloseWithCode(int, string) error             { return nil }
func (f *fakeSender) GetUserID() string                           { return f.userID }
func (f *fakeSender) GetRole() string                             { return f.role }
func (f *fakeSender) GetSessionID() string                        { return f.sessionID }
func (f *fakeSender) IsAuthenticated() bool                       { return f.authenticated }
func (f *fakeSender) SetCredentials(string, string, string) error { return nil }

func student(id string) *fakeSender {
	return &fakeSender{userID: id, role: types.RoleStudent, sessionID: "s1", authenticated: true}
}

// FUNCTIONAL VALIDATION TEST: only students may send, and only telemetry types
func TestValidateMessage_RolePermissions(t *testing.T) {
	r := &Router{}
	supervisor := &fakeSender{userID: "sup1", role: types.RoleSupervisor, sessionID: "s1", authenticated: true}

	tests := []struct {
		name    string
		sender  *fakeSender
		message types.Message
		wantErr error
	}{
		{"student progress", student("st1"), &types.StudentProgress{}, nil},
		{"student answer", student("st1"), &types.StudentAnswer{QuestionID: "q1"}, nil},
		{"student highlight", student("st1"), &types.StudentHighlight{EndOffset: 4}, nil},
		{"student violation", student("st1"), &types.Violation{ViolationType: types.ViolationCopyAttempt}, nil},
		{"student submitted", student("st1"), &types.StudentSubmitted{}, nil},
		{"student session_stats", student("st1"), &types.SessionStats{}, ErrUnauthorizedMessageType},
		{"student session_completed", student("st1"), &types.SessionCompleted{}, ErrUnauthorizedMessageType},
		{"supervisor progress", supervisor, &types.StudentProgress{}, ErrUnauthorizedMessageType},
		{"unauthenticated", &fakeSender{role: types.RoleStudent}, &types.StudentProgress{}, ErrSenderNotAuthenticated},
		{"answer without question", student("st1"), &types.StudentAnswer{}, types.ErrInvalidMessage},
		{"unknown violation", student("st1"), &types.Violation{ViolationType: "SCREENSHOT"}, types.ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateMessage(tt.sender, tt.message)
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// FUNCTIONAL VALIDATION TEST: exactly limit messages per window are allowed
func TestRateLimiter_ExactLimits(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	limiter := NewRateLimiter(100, time.Minute, fc)

	for i := 0; i < 100; i++ {
		if !limiter.Allow("s1/st1") {
			t.Fatalf("Message %d should be allowed", i+1)
		}
	}
	if limiter.Allow("s1/st1") {
		t.Error("Message 101 should be blocked")
	}

	fc.Advance(59 * time.Second)
	if limiter.Allow("s1/st1") {
		t.Error("Window has not reset yet")
	}

	fc.Advance(time.Second)
	if !limiter.Allow("s1/st1") {
		t.Error("New window should allow messages again")
	}
}

func TestRateLimiter_MultipleUsers(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute, clock.Fake(time.Unix(0, 0)))

	limiter.Allow("s1/a")
	limiter.Allow("s1/a")
	if limiter.Allow("s1/a") {
		t.Error("a should be limited")
	}
	if !limiter.Allow("s1/b") {
		t.Error("b has its own allowance")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	limiter := NewRateLimiter(100, time.Minute, fc)

	limiter.Allow("old")
	fc.Advance(4 * time.Minute)
	limiter.Allow("recent")
	fc.Advance(90 * time.Second)

	if removed := limiter.Cleanup(); removed != 1 {
		t.Errorf("Expected 1 stale entry removed, got %d", removed)
	}
	if limiter.Tracked() != 1 {
		t.Errorf("Expected 1 tracked client, got %d", limiter.Tracked())
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0, nil)
	if limiter.limit != 100 || limiter.window != time.Minute {
		t.Errorf("Expected 100/min defaults, got %d/%v", limiter.limit, limiter.window)
	}
}
