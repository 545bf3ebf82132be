package types

import (
	"encoding/json"
	"fmt"
)

// newMessage returns an empty value for a known type, or nil.
func newMessage(msgType string) Message {
	switch msgType {
	case TypeHeartbeat:
		return &Heartbeat{}
	case TypePong:
		return &Pong{}
	case TypeConnected:
		return &Connected{}
	case TypeSessionStatusChanged:
		return &SessionStatusChanged{}
	case TypeSessionCompleted:
		return &SessionCompleted{}
	case TypeParticipantJoined:
		return &ParticipantJoined{}
	case TypeParticipantDisconnected:
		return &ParticipantDisconnected{}
	case TypeStudentProgress:
		return &StudentProgress{}
	case TypeStudentAnswer:
		return &StudentAnswer{}
	case TypeStudentHighlight:
		return &StudentHighlight{}
	case TypeViolation:
		return &Violation{}
	case TypeStudentSubmitted:
		return &StudentSubmitted{}
	case TypeSessionStats:
		return &SessionStats{}
	case TypeError:
		return &Error{}
	default:
		return nil
	}
}

// IsKnownType reports whether msgType is part of the union.
func IsKnownType(msgType string) bool {
	return newMessage(msgType) != nil
}

// Decode parses one wire message.
// FUNCTIONAL DISCOVERY: An unrecognized type is not an error; it decodes to
// *Unknown so the pipeline can still classify and deliver it.
func Decode(data []byte) (Message, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if h.Type == "" {
		return nil, ErrMissingType
	}

	m := newMessage(h.Type)
	if m == nil {
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return &Unknown{Header: h, Raw: raw}, nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, h.Type, err)
	}
	return m, nil
}

// Encode serializes m with its type discriminator set.
func Encode(m Message) ([]byte, error) {
	if _, ok := m.(*Unknown); !ok {
		m.header().Type = m.MessageType()
	}
	return json.Marshal(m)
}
