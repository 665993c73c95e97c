package communication

import (
	"encoding/json"

	"github.com/pkg/errors"

	"library/lwwset/crdt"
)

// Encode serializes both logs of s.
func Encode[T comparable](s *crdt.ElementSet[T]) ([]byte, error) {
	payload, err := json.Marshal(s.State())
	if err != nil {
		return nil, errors.Wrap(err, "encode element set")
	}
	return payload, nil
}

// Decode rebuilds an element set from a payload produced by Encode.
func Decode[T comparable](payload []byte, opts ...crdt.Option) (*crdt.ElementSet[T], error) {
	var state crdt.State[T]
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode element set")
	}
	return crdt.FromState(state, opts...), nil
}

// NewStateMessage encodes s into a STATE message.
func NewStateMessage[T comparable](originID string, s *crdt.ElementSet[T]) (Message, error) {
	return newSetMessage(STATE, originID, s)
}

// NewSyncMessage encodes s into a SYNC message.
func NewSyncMessage[T comparable](originID string, s *crdt.ElementSet[T]) (Message, error) {
	return newSetMessage(SYNC, originID, s)
}

func newSetMessage[T comparable](tp MessageType, originID string, s *crdt.ElementSet[T]) (Message, error) {
	payload, err := Encode(s)
	if err != nil {
		return Message{}, err
	}
	return NewMessage(tp, originID, payload), nil
}
