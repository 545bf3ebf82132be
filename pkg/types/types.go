package types

import (
	"sort"
	"time"
)

// Participant roles accepted on the WebSocket endpoint.
const (
	RoleStudent    = "student"
	RoleSupervisor = "supervisor"
)

// Session lifecycle states.
const (
	SessionStatusActive    = "active"
	SessionStatusPaused    = "paused"
	SessionStatusCompleted = "completed"
)

// Session represents one proctored test-taking instance.
// FUNCTIONAL DISCOVERY: Session is immutable after creation except for end_time and status
// This prevents race conditions and simplifies session validation caching
type Session struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	CreatedBy  string     `json:"created_by" db:"created_by"`
	StudentIDs []string   `json:"student_ids" db:"student_ids"`
	StartTime  time.Time  `json:"start_time" db:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty" db:"end_time"`
	Status     string     `json:"status" db:"status"`
}

// HasStudent reports whether studentID is on the session roster.
func (s *Session) HasStudent(studentID string) bool {
	for _, id := range s.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// ConnectionStatus is the client-side connection lifecycle state.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// Application close codes. The whole 4000-4004 band is non-retryable.
// ARCHITECTURAL DISCOVERY: Browsers cannot read the HTTP status of a failed
// upgrade, so session validation failures are reported after the upgrade as
// close codes the client can classify.
const (
	CloseSessionEnded     = 4000
	CloseSessionNotFound  = 4001
	CloseAccessDenied     = 4002
	CloseReplaced         = 4003 // kicked, or superseded by a newer connection
	CloseApplicationError = 4004
)

// Standard WebSocket close codes the controller interprets.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
)

// IsNonRetryableClose reports whether a close code forbids reconnection.
func IsNonRetryableClose(code int) bool {
	return code >= CloseSessionEnded && code <= CloseApplicationError
}

// CloseReason returns the canonical reason text for an application close code.
func CloseReason(code int) string {
	switch code {
	case CloseSessionEnded:
		return "session ended"
	case CloseSessionNotFound:
		return "session not found"
	case CloseAccessDenied:
		return "access denied"
	case CloseReplaced:
		return "connection replaced"
	case CloseApplicationError:
		return "application error"
	case CloseNormalClosure:
		return "normal closure"
	case CloseAbnormalClosure:
		return "abnormal closure"
	default:
		return ""
	}
}

// ViolationKind names a detected anti-cheating signal.
type ViolationKind string

const (
	ViolationTabSwitch      ViolationKind = "TAB_SWITCH"
	ViolationCopyAttempt    ViolationKind = "COPY_ATTEMPT"
	ViolationPasteAttempt   ViolationKind = "PASTE_ATTEMPT"
	ViolationRightClick     ViolationKind = "RIGHT_CLICK"
	ViolationDevTools       ViolationKind = "DEV_TOOLS"
	ViolationFullScreenExit ViolationKind = "FULL_SCREEN_EXIT"
)

// ViolationKinds lists every kind in display order.
var ViolationKinds = []ViolationKind{
	ViolationTabSwitch,
	ViolationCopyAttempt,
	ViolationPasteAttempt,
	ViolationRightClick,
	ViolationDevTools,
	ViolationFullScreenExit,
}

// Valid reports whether k is a known violation kind.
func (k ViolationKind) Valid() bool {
	for _, known := range ViolationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ViolationCounters maps each kind to a monotonically increasing count.
type ViolationCounters map[ViolationKind]int

// NewViolationCounters returns counters with every kind present at zero.
func NewViolationCounters() ViolationCounters {
	c := make(ViolationCounters, len(ViolationKinds))
	for _, k := range ViolationKinds {
		c[k] = 0
	}
	return c
}

// Total sums all counters.
func (c ViolationCounters) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Clone returns an independent copy.
func (c ViolationCounters) Clone() ViolationCounters {
	out := make(ViolationCounters, len(c))
	for k, n := range c {
		out[k] = n
	}
	return out
}

// StudentProjection is the dashboard's per-student view of a session.
// FUNCTIONAL DISCOVERY: Pointer and status fields are last-write-wins, counters
// only grow, and IsSubmitted never reverts within a session.
type StudentProjection struct {
	StudentID         string            `json:"student_id" cbor:"student_id"`
	DisplayName       string            `json:"display_name" cbor:"display_name"`
	Placeholder       bool              `json:"placeholder" cbor:"placeholder"`
	Connection        string            `json:"connection" cbor:"connection"`
	PassageIndex      int               `json:"passage_index" cbor:"passage_index"`
	QuestionIndex     int               `json:"question_index" cbor:"question_index"`
	QuestionNumber    int               `json:"question_number" cbor:"question_number"`
	AnsweredQuestions []string          `json:"answered_questions,omitempty" cbor:"answered_questions"`
	AnswersSubmitted  int               `json:"answers_submitted" cbor:"answers_submitted"`
	ViolationCount    int               `json:"violation_count" cbor:"violation_count"`
	Violations        ViolationCounters `json:"violations" cbor:"violations"`
	HighlightCount    int               `json:"highlight_count" cbor:"highlight_count"`
	IsSubmitted       bool              `json:"is_submitted" cbor:"is_submitted"`
	Score             *float64          `json:"score,omitempty" cbor:"score"`
	ProgressAt        time.Time         `json:"progress_at" cbor:"progress_at"`
	LastActivity      time.Time         `json:"last_activity" cbor:"last_activity"`
}

// Connection states recorded in a projection.
const (
	PresenceConnected    = "connected"
	PresenceDisconnected = "disconnected"
)

// SortProjections orders projections by student ID.
func SortProjections(p []StudentProjection) {
	sort.Slice(p, func(i, j int) bool { return p[i].StudentID < p[j].StudentID })
}

// ProjectionSnapshot is a persisted copy of a session's projections.
type ProjectionSnapshot struct {
	SessionID string              `json:"session_id" cbor:"session_id"`
	TakenAt   time.Time           `json:"taken_at" cbor:"taken_at"`
	Applied   uint64              `json:"applied" cbor:"applied"`
	Students  []StudentProjection `json:"students" cbor:"students"`
}
