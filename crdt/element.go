package crdt

import (
	"fmt"
	"time"
)

// Element records one add or remove event: the value it
// applies to and the instant it was issued at.
// Two elements are equal iff value and timestamp are equal.
type Element[T comparable] struct {
	Value     T         `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// NewElement returns the event for value v at instant ts.
func NewElement[T comparable](v T, ts time.Time) Element[T] {
	return Element[T]{Value: v, Timestamp: normalize(ts)}
}

// normalize drops the monotonic reading and the location so
// that == on two instants means the same point in time.
func normalize(ts time.Time) time.Time {
	return ts.Round(0).UTC()
}

// Before orders elements by timestamp.
func (e Element[T]) Before(other Element[T]) bool {
	return e.Timestamp.Before(other.Timestamp)
}

func (e Element[T]) String() string {
	return fmt.Sprintf("(%v @ %s)", e.Value, e.Timestamp.Format(time.RFC3339Nano))
}
