package types

import (
	"fmt"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxHighlightLength caps highlight text carried on the wire.
const maxHighlightLength = 4096

// Validate ensures the session meets all requirements
// ARCHITECTURAL DISCOVERY: Validation at type level ensures consistency
// across all components without duplicating validation logic
func (s *Session) Validate() error {
	if len(s.Name) < 1 || len(s.Name) > 200 {
		return ErrInvalidSessionName
	}
	if len(s.StudentIDs) == 0 {
		return ErrEmptyStudentList
	}
	if !IsValidUserID(s.CreatedBy) {
		return ErrInvalidCreatedBy
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements
// FUNCTIONAL DISCOVERY: 1-50 character limit prevents database issues
// and ensures reasonable display in UI components
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole checks the role query parameter.
func IsValidRole(role string) bool {
	return role == RoleStudent || role == RoleSupervisor
}

// IsStudentOriginated reports whether a student connection may send m.
func IsStudentOriginated(m Message) bool {
	switch m.(type) {
	case *StudentProgress, *StudentAnswer, *StudentHighlight, *Violation, *StudentSubmitted:
		return true
	default:
		return false
	}
}

// ValidateStudentMessage checks the content of a student-originated message.
// TECHNICAL DISCOVERY: Client signals are spoofable anyway; validation only
// rejects shapes the aggregator cannot fold.
func ValidateStudentMessage(m Message) error {
	switch msg := m.(type) {
	case *StudentProgress:
		if msg.PassageIndex < 0 || msg.QuestionIndex < 0 || msg.QuestionNumber < 0 {
			return fmt.Errorf("%w: negative progress index", ErrInvalidMessage)
		}
	case *StudentAnswer:
		if msg.QuestionID == "" {
			return fmt.Errorf("%w: answer without question_id", ErrInvalidMessage)
		}
	case *StudentHighlight:
		if msg.StartOffset < 0 || msg.EndOffset < msg.StartOffset {
			return fmt.Errorf("%w: highlight offsets out of order", ErrInvalidMessage)
		}
		if len(msg.Text) > maxHighlightLength {
			return fmt.Errorf("%w: highlight text exceeds %d bytes", ErrInvalidMessage, maxHighlightLength)
		}
	case *Violation:
		if !msg.ViolationType.Valid() {
			return fmt.Errorf("%w: unknown violation type %q", ErrInvalidMessage, msg.ViolationType)
		}
	case *StudentSubmitted:
	default:
		return ErrNotStudentMessage
	}
	return nil
}
