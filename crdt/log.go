package crdt

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Log maps a value to every event recorded for it.
// A key present in a Log never maps to an empty set.
type Log[T comparable] map[T]mapset.Set[Element[T]]

func newEvents[T comparable](elements ...Element[T]) mapset.Set[Element[T]] {
	return mapset.NewThreadUnsafeSet[Element[T]](elements...)
}

// insert records e under its own value.
func (l Log[T]) insert(e Element[T]) {
	events, ok := l[e.Value]
	if !ok {
		l[e.Value] = newEvents(e)
		return
	}
	events.Add(e)
}

// Contains reports whether exactly this event is recorded.
func (l Log[T]) Contains(e Element[T]) bool {
	events, ok := l[e.Value]
	return ok && events.Contains(e)
}

// Copy returns a log with a fresh map and fresh event sets.
func (l Log[T]) Copy() Log[T] {
	cp := make(Log[T], len(l))
	for v, events := range l {
		cp[v] = events.Clone()
	}
	return cp
}

// union adds every event of other to l.
func (l Log[T]) union(other Log[T]) {
	for v, events := range other {
		if own, ok := l[v]; ok {
			l[v] = own.Union(events)
		} else {
			l[v] = events.Clone()
		}
	}
}

// subsetOf reports whether every event of l is also recorded in other.
func (l Log[T]) subsetOf(other Log[T]) bool {
	for v, events := range l {
		theirs, ok := other[v]
		if !ok || !events.IsSubset(theirs) {
			return false
		}
	}
	return true
}

// latest returns the maximum timestamp recorded for v.
func (l Log[T]) latest(v T) (time.Time, bool) {
	events, ok := l[v]
	if !ok {
		return time.Time{}, false
	}
	var ts time.Time
	found := false
	for _, e := range events.ToSlice() {
		if !found || e.Timestamp.After(ts) {
			ts = e.Timestamp
			found = true
		}
	}
	return ts, found
}

// Len returns the number of recorded events.
func (l Log[T]) Len() int {
	n := 0
	for _, events := range l {
		n += events.Cardinality()
	}
	return n
}

// Keys returns every value with at least one event.
func (l Log[T]) Keys() []T {
	keys := make([]T, 0, len(l))
	for v := range l {
		keys = append(keys, v)
	}
	return keys
}

// Elements flattens the log into a slice.
func (l Log[T]) Elements() []Element[T] {
	elements := make([]Element[T], 0, l.Len())
	for _, events := range l {
		elements = append(elements, events.ToSlice()...)
	}
	return elements
}
