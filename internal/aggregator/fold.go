package aggregator

import (
	"slices"
	"time"

	"proctorwire/pkg/types"
)

// folder applies one message under the aggregator's lock.
// FUNCTIONAL DISCOVERY: Pointer and presence fields are last-write-wins;
// answer, highlight and violation tallies only grow; submission is sticky.
type folder struct {
	a  *Aggregator
	ts time.Time
}

// student returns the projection for s, inserting a placeholder when the
// student is new. A display name on any later event refines the placeholder.
func (f folder) student(s types.Student) *types.StudentProjection {
	p, ok := f.a.students[s.StudentID]
	if !ok {
		p = &types.StudentProjection{
			StudentID:   s.StudentID,
			DisplayName: s.StudentID,
			Placeholder: true,
			Violations:  types.NewViolationCounters(),
		}
		f.a.students[s.StudentID] = p
	}
	if s.StudentName != "" {
		p.DisplayName = s.StudentName
		p.Placeholder = false
	}
	if f.ts.After(p.LastActivity) {
		p.LastActivity = f.ts
	}
	return p
}

// active marks telemetry from a student of unknown presence as connected.
func active(p *types.StudentProjection) {
	if p.Connection == "" {
		p.Connection = types.PresenceConnected
	}
}

func (f folder) touchSession() {
	if f.ts.After(f.a.session.UpdatedAt) {
		f.a.session.UpdatedAt = f.ts
	}
}

func (folder) VisitHeartbeat(*types.Heartbeat) {}
func (folder) VisitPong(*types.Pong)           {}
func (folder) VisitUnknown(*types.Unknown)     {}

func (f folder) VisitConnected(*types.Connected) {
	f.touchSession()
}

func (f folder) VisitSessionStatusChanged(m *types.SessionStatusChanged) {
	f.a.session.Status = m.Status
	if m.Status == types.SessionStatusCompleted {
		f.a.session.Completed = true
	}
	f.touchSession()
}

func (f folder) VisitSessionCompleted(m *types.SessionCompleted) {
	f.a.session.Status = types.SessionStatusCompleted
	f.a.session.Completed = true
	f.a.session.CompletionReason = m.Reason
	f.touchSession()
}

func (f folder) VisitParticipantJoined(m *types.ParticipantJoined) {
	if m.Role != types.RoleStudent {
		return
	}
	f.student(m.Student).Connection = types.PresenceConnected
}

func (f folder) VisitParticipantDisconnected(m *types.ParticipantDisconnected) {
	if m.Role != types.RoleStudent {
		return
	}
	f.student(m.Student).Connection = types.PresenceDisconnected
}

func (f folder) VisitStudentProgress(m *types.StudentProgress) {
	p := f.student(m.Student)
	active(p)
	if !p.ProgressAt.IsZero() && f.ts.Before(p.ProgressAt) {
		return
	}
	p.PassageIndex = m.PassageIndex
	p.QuestionIndex = m.QuestionIndex
	if m.QuestionNumber > 0 {
		p.QuestionNumber = m.QuestionNumber
	}
	p.ProgressAt = f.ts
}

func (f folder) VisitStudentAnswer(m *types.StudentAnswer) {
	p := f.student(m.Student)
	active(p)
	if m.QuestionID == "" || slices.Contains(p.AnsweredQuestions, m.QuestionID) {
		return
	}
	p.AnsweredQuestions = append(p.AnsweredQuestions, m.QuestionID)
	p.AnswersSubmitted = len(p.AnsweredQuestions)
}

func (f folder) VisitStudentHighlight(m *types.StudentHighlight) {
	p := f.student(m.Student)
	active(p)
	p.HighlightCount++
}

func (f folder) VisitViolation(m *types.Violation) {
	p := f.student(m.Student)
	active(p)
	if !m.ViolationType.Valid() {
		return
	}
	// Every message is one occurrence. The client's counters only raise the
	// floor: they restart at 1 when a student reloads, so they cannot replace
	// what has been folded already.
	p.Violations[m.ViolationType] = max(p.Violations[m.ViolationType]+1, m.Count)
	p.ViolationCount = max(p.ViolationCount+1, p.Violations.Total(), m.Total)
}

func (f folder) VisitStudentSubmitted(m *types.StudentSubmitted) {
	p := f.student(m.Student)
	p.IsSubmitted = true
	if m.Score != nil {
		s := *m.Score
		p.Score = &s
	}
}

func (f folder) VisitSessionStats(m *types.SessionStats) {
	s := *m
	f.a.session.Stats = &s
	f.touchSession()
}

func (f folder) VisitError(m *types.Error) {
	e := *m
	f.a.session.LastError = &e
	f.touchSession()
}
