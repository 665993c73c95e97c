package crdt

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// State is the flattened, transport-friendly form of an
// ElementSet: both logs as ordered event lists.
type State[T comparable] struct {
	Adds    []Element[T] `json:"adds"`
	Removes []Element[T] `json:"removes"`
}

// State returns a deterministic snapshot of both logs, ordered by
// timestamp and then by the printed value.
func (s *ElementSet[T]) State() State[T] {
	adds, removes := s.snapshot()
	return State[T]{
		Adds:    sortElements(adds.Elements()),
		Removes: sortElements(removes.Elements()),
	}
}

func sortElements[T comparable](elements []Element[T]) []Element[T] {
	sort.Slice(elements, func(i, j int) bool {
		a, b := elements[i], elements[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return fmt.Sprint(a.Value) < fmt.Sprint(b.Value)
	})
	return elements
}

// FromState rebuilds a set from a snapshot.
func FromState[T comparable](state State[T], opts ...Option) *ElementSet[T] {
	s := New[T](opts...)
	s.load(state)
	return s
}

func (s *ElementSet[T]) load(state State[T]) {
	for _, e := range state.Adds {
		s.adds.insert(s.element(e.Value, e.Timestamp))
	}
	for _, e := range state.Removes {
		s.removes.insert(s.element(e.Value, e.Timestamp))
	}
	s.resolveConflicts()
}

// MarshalJSON encodes the set as its State.
func (s *ElementSet[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.State())
}

// UnmarshalJSON replaces the logs of s with the decoded State.
// Options already set on s are kept.
func (s *ElementSet[T]) UnmarshalJSON(data []byte) error {
	var state State[T]
	if err := json.Unmarshal(data, &state); err != nil {
		return errors.Wrap(err, "decode element set state")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds = make(Log[T])
	s.removes = make(Log[T])
	s.load(state)
	return nil
}
