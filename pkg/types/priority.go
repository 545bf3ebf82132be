package types

// Priority bands, most urgent first.
const (
	PriorityTerminal = iota
	PriorityIntegrity
	PriorityInteractive
	PriorityInformational
	PriorityLow
)

// Priority returns the delivery band for m. Lower is more urgent.
func Priority(m Message) int {
	switch m.MessageType() {
	case TypeError, TypeSessionCompleted, TypeSessionStatusChanged:
		return PriorityTerminal
	case TypeViolation, TypeStudentSubmitted:
		return PriorityIntegrity
	case TypeStudentAnswer, TypeParticipantJoined, TypeParticipantDisconnected, TypeConnected:
		return PriorityInteractive
	case TypeStudentHighlight:
		return PriorityLow
	default:
		return PriorityInformational
	}
}
