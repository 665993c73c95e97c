package communication

import "fmt"

// MessageType tells a replica what to do with a received state.
type MessageType int

const (
	// STATE pushes the full state of the sender.
	STATE MessageType = iota
	// SYNC pushes the full state of the sender and asks the
	// receiver to push its own state back.
	SYNC
)

func (t MessageType) String() string {
	switch t {
	case STATE:
		return "STATE"
	case SYNC:
		return "SYNC"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// Message carries an encoded element set between replicas.
type Message struct {
	Type     MessageType // what the receiver should do
	OriginID string      // replica which produced the payload
	Payload  []byte      // encoded state, see Encode
}

// NewMessage creates a message of the given type.
func NewMessage(tp MessageType, originID string, payload []byte) Message {
	return Message{Type: tp, OriginID: originID, Payload: payload}
}

func (m Message) String() string {
	return fmt.Sprintf("{%s from %s, %d bytes}", m.Type, m.OriginID, len(m.Payload))
}
