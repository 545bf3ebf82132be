package types

import (
	"encoding/json"
	"time"
)

// Wire message types.
const (
	TypeHeartbeat               = "heartbeat"
	TypePong                    = "pong"
	TypeConnected               = "connected"
	TypeSessionStatusChanged    = "session_status_changed"
	TypeSessionCompleted        = "session_completed"
	TypeParticipantJoined       = "participant_joined"
	TypeParticipantDisconnected = "participant_disconnected"
	TypeStudentProgress         = "student_progress"
	TypeStudentAnswer           = "student_answer"
	TypeStudentHighlight        = "student_highlight"
	TypeViolation               = "violation"
	TypeStudentSubmitted        = "student_submitted"
	TypeSessionStats            = "session_stats"
	TypeError                   = "error"
)

// Header carries the fields every message variant shares.
type Header struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Header) header() *Header { return h }

// Message is the closed union of wire messages.
// ARCHITECTURAL DISCOVERY: The unexported methods seal the union to this
// package; Visitor gives callers compile-time exhaustive matching.
type Message interface {
	MessageType() string
	header() *Header
	accept(v Visitor)
}

// HeaderOf returns a copy of m's shared header fields.
func HeaderOf(m Message) Header {
	return *m.header()
}

// Stamp fills in the session ID and, when unset, the timestamp.
func Stamp(m Message, sessionID string, now time.Time) {
	h := m.header()
	h.Type = m.MessageType()
	if sessionID != "" {
		h.SessionID = sessionID
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = now
	}
}

// Restamp overwrites the session ID and timestamp with relay-trusted values.
func Restamp(m Message, sessionID string, now time.Time) {
	h := m.header()
	h.Type = m.MessageType()
	h.SessionID = sessionID
	h.Timestamp = now
}

// Student identifies the test-taker a message is about.
type Student struct {
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name,omitempty"`
}

// Subject returns the student reference.
func (s *Student) Subject() *Student { return s }

// StudentMessage is implemented by every student-scoped variant.
type StudentMessage interface {
	Message
	Subject() *Student
}

// StudentIDOf returns the student a message is about, if any.
func StudentIDOf(m Message) (string, bool) {
	sm, ok := m.(StudentMessage)
	if !ok {
		return "", false
	}
	return sm.Subject().StudentID, true
}

// Heartbeat is the client's latency probe.
type Heartbeat struct {
	Header
}

// Pong answers a heartbeat.
type Pong struct {
	Header
	Echo time.Time `json:"echo,omitempty"`
}

// Connected is synthesized locally by the controller when a connection opens.
type Connected struct {
	Header
	ConnectionID string `json:"connection_id,omitempty"`
	Local        bool   `json:"local,omitempty"`
}

// SessionStatusChanged reports a session lifecycle transition.
type SessionStatusChanged struct {
	Header
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
}

// SessionCompleted is the terminal event of a session.
type SessionCompleted struct {
	Header
	Reason string `json:"reason,omitempty"`
}

// ParticipantJoined announces a new connection in the session.
type ParticipantJoined struct {
	Header
	Student
	Role string `json:"role"`
}

// ParticipantDisconnected announces a dropped connection.
type ParticipantDisconnected struct {
	Header
	Student
	Role   string `json:"role"`
	Reason string `json:"reason,omitempty"`
}

// StudentProgress moves a student's position pointer.
type StudentProgress struct {
	Header
	Student
	AttemptID      string `json:"attempt_id,omitempty"`
	PassageIndex   int    `json:"passage_index"`
	QuestionIndex  int    `json:"question_index"`
	QuestionNumber int    `json:"question_number,omitempty"`
}

// StudentAnswer records an answer to one question.
type StudentAnswer struct {
	Header
	Student
	AttemptID      string          `json:"attempt_id,omitempty"`
	QuestionID     string          `json:"question_id"`
	Answer         json.RawMessage `json:"answer,omitempty"`
	QuestionNumber int             `json:"question_number,omitempty"`
}

// StudentHighlight records a passage highlight.
type StudentHighlight struct {
	Header
	Student
	AttemptID    string `json:"attempt_id,omitempty"`
	PassageIndex int    `json:"passage_index"`
	Text         string `json:"text"`
	StartOffset  int    `json:"start_offset"`
	EndOffset    int    `json:"end_offset"`
}

// Violation reports one detected anti-cheating signal.
type Violation struct {
	Header
	Student
	AttemptID     string        `json:"attempt_id,omitempty"`
	ViolationType ViolationKind `json:"violation_type"`
	Count         int           `json:"count,omitempty"`
	Total         int           `json:"total,omitempty"`
}

// StudentSubmitted marks an attempt as handed in.
type StudentSubmitted struct {
	Header
	Student
	AttemptID string   `json:"attempt_id,omitempty"`
	Score     *float64 `json:"score,omitempty"`
}

// SessionStats is a periodic summary computed by the relay.
type SessionStats struct {
	Header
	TotalStudents     int `json:"total_students"`
	ConnectedStudents int `json:"connected_students"`
	SubmittedStudents int `json:"submitted_students"`
	TotalViolations   int `json:"total_violations"`
}

// Error reports a failure to the receiving side.
type Error struct {
	Header
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Unknown holds a message whose type this build does not recognize.
type Unknown struct {
	Header
	Raw json.RawMessage `json:"-"`
}

// MarshalJSON re-emits the original bytes.
func (u *Unknown) MarshalJSON() ([]byte, error) {
	if len(u.Raw) > 0 {
		return u.Raw, nil
	}
	return json.Marshal(u.Header)
}

func (*Heartbeat) MessageType() string               { return TypeHeartbeat }
func (*Pong) MessageType() string                    { return TypePong }
func (*Connected) MessageType() string               { return TypeConnected }
func (*SessionStatusChanged) MessageType() string    { return TypeSessionStatusChanged }
func (*SessionCompleted) MessageType() string        { return TypeSessionCompleted }
func (*ParticipantJoined) MessageType() string       { return TypeParticipantJoined }
func (*ParticipantDisconnected) MessageType() string { return TypeParticipantDisconnected }
func (*StudentProgress) MessageType() string         { return TypeStudentProgress }
func (*StudentAnswer) MessageType() string           { return TypeStudentAnswer }
func (*StudentHighlight) MessageType() string        { return TypeStudentHighlight }
func (*Violation) MessageType() string               { return TypeViolation }
func (*StudentSubmitted) MessageType() string        { return TypeStudentSubmitted }
func (*SessionStats) MessageType() string            { return TypeSessionStats }
func (*Error) MessageType() string                   { return TypeError }
func (u *Unknown) MessageType() string               { return u.Type }
