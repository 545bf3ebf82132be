package types

// Visitor has one method per message variant. Implementations must handle
// every variant, so adding a variant is a compile error everywhere it matters.
type Visitor interface {
	VisitHeartbeat(*Heartbeat)
	VisitPong(*Pong)
	VisitConnected(*Connected)
	VisitSessionStatusChanged(*SessionStatusChanged)
	VisitSessionCompleted(*SessionCompleted)
	VisitParticipantJoined(*ParticipantJoined)
	VisitParticipantDisconnected(*ParticipantDisconnected)
	VisitStudentProgress(*StudentProgress)
	VisitStudentAnswer(*StudentAnswer)
	VisitStudentHighlight(*StudentHighlight)
	VisitViolation(*Violation)
	VisitStudentSubmitted(*StudentSubmitted)
	VisitSessionStats(*SessionStats)
	VisitError(*Error)
	VisitUnknown(*Unknown)
}

// Dispatch calls the visitor method matching m's variant.
func Dispatch(m Message, v Visitor) {
	m.accept(v)
}

func (m *Heartbeat) accept(v Visitor)               { v.VisitHeartbeat(m) }
func (m *Pong) accept(v Visitor)                    { v.VisitPong(m) }
func (m *Connected) accept(v Visitor)               { v.VisitConnected(m) }
func (m *SessionStatusChanged) accept(v Visitor)    { v.VisitSessionStatusChanged(m) }
func (m *SessionCompleted) accept(v Visitor)        { v.VisitSessionCompleted(m) }
func (m *ParticipantJoined) accept(v Visitor)       { v.VisitParticipantJoined(m) }
func (m *ParticipantDisconnected) accept(v Visitor) { v.VisitParticipantDisconnected(m) }
func (m *StudentProgress) accept(v Visitor)         { v.VisitStudentProgress(m) }
func (m *StudentAnswer) accept(v Visitor)           { v.VisitStudentAnswer(m) }
func (m *StudentHighlight) accept(v Visitor)        { v.VisitStudentHighlight(m) }
func (m *Violation) accept(v Visitor)               { v.VisitViolation(m) }
func (m *StudentSubmitted) accept(v Visitor)        { v.VisitStudentSubmitted(m) }
func (m *SessionStats) accept(v Visitor)            { v.VisitSessionStats(m) }
func (m *Error) accept(v Visitor)                   { v.VisitError(m) }
func (m *Unknown) accept(v Visitor)                 { v.VisitUnknown(m) }
