package crdt

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ElementSet is a state-based last-write-wins element set.
// Every add and remove is kept as a timestamped event in one of
// two logs; membership is derived from the latest event of each
// kind and two states are joined by unioning their logs.
//
// Concurrent add and remove at the same instant resolve to the
// add, both in Lookup and in Merge.
type ElementSet[T comparable] struct {
	mu        sync.RWMutex
	clock     Clock
	canonical func(T) T
	adds      Log[T]
	removes   Log[T]
}

// New returns an empty set.
func New[T comparable](opts ...Option) *ElementSet[T] {
	clock, canonical := buildOptions[T](opts)
	return &ElementSet[T]{
		clock:     clock,
		canonical: canonical,
		adds:      make(Log[T]),
		removes:   make(Log[T]),
	}
}

// FromLogs returns a set seeded with copies of the given logs.
// Events are filed under their own canonical value, so malformed
// keys in the input cannot break the log invariants.
func FromLogs[T comparable](adds, removes Log[T], opts ...Option) *ElementSet[T] {
	s := New[T](opts...)
	for _, events := range adds {
		for _, e := range events.ToSlice() {
			s.adds.insert(s.element(e.Value, e.Timestamp))
		}
	}
	for _, events := range removes {
		for _, e := range events.ToSlice() {
			s.removes.insert(s.element(e.Value, e.Timestamp))
		}
	}
	s.resolveConflicts()
	return s
}

func (s *ElementSet[T]) canon(v T) T {
	if s.canonical == nil {
		return v
	}
	return s.canonical(v)
}

func (s *ElementSet[T]) element(v T, ts time.Time) Element[T] {
	return NewElement(s.canon(v), ts)
}

func (s *ElementSet[T]) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

// Lookup reports whether v is currently in the set.
func (s *ElementSet[T]) Lookup(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.canon(v))
}

func (s *ElementSet[T]) lookup(v T) bool {
	added, ok := s.adds.latest(v)
	if !ok {
		return false
	}
	removed, ok := s.removes.latest(v)
	if !ok {
		return true
	}
	return !added.Before(removed)
}

// Add records an add of v at the current time.
func (s *ElementSet[T]) Add(v T) {
	s.AddAt(v, s.now())
}

// AddAt records an add of v at ts. Adding is always allowed;
// repeated adds accumulate events. A remove of v recorded at
// exactly ts is dropped.
func (s *ElementSet[T]) AddAt(v T, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.element(v, ts)
	s.adds.insert(e)
	s.resolve(e.Value)
}

// Remove records a remove of v at the current time.
func (s *ElementSet[T]) Remove(v T) error {
	return s.RemoveAt(v, s.now())
}

// RemoveAt records a remove of v at ts. It fails with
// ErrPreconditionViolation and leaves the set untouched if v is
// not present. A remove at the timestamp of an add of v loses
// the tie and is not recorded.
func (s *ElementSet[T]) RemoveAt(v T, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v = s.canon(v)
	if !s.lookup(v) {
		return errors.Wrapf(ErrPreconditionViolation, "remove %v", v)
	}
	s.removes.insert(NewElement(v, ts))
	s.resolve(v)
	return nil
}

// snapshot returns private copies of both logs.
func (s *ElementSet[T]) snapshot() (Log[T], Log[T]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adds.Copy(), s.removes.Copy()
}

// Compare reports whether s ⊑ other: every event recorded in s
// is recorded in other, log by log.
func (s *ElementSet[T]) Compare(other *ElementSet[T]) bool {
	adds, removes := s.snapshot()
	if s == other {
		return true
	}
	otherAdds, otherRemoves := other.snapshot()
	return adds.subsetOf(other.rekey(otherAdds, s)) &&
		removes.subsetOf(other.rekey(otherRemoves, s))
}

// rekey files the events of l under the canonical values of
// target. It returns l unchanged when both sets share the same
// notion of equality.
func (s *ElementSet[T]) rekey(l Log[T], target *ElementSet[T]) Log[T] {
	if target.canonical == nil && s.canonical == nil {
		return l
	}
	out := make(Log[T], len(l))
	for _, events := range l {
		for _, e := range events.ToSlice() {
			out.insert(target.element(e.Value, e.Timestamp))
		}
	}
	return out
}

// Merge returns the join of s and other. Neither operand is
// modified. The result keeps the options of s.
func (s *ElementSet[T]) Merge(other *ElementSet[T]) *ElementSet[T] {
	adds, removes := s.snapshot()
	otherAdds, otherRemoves := other.snapshot()

	merged := &ElementSet[T]{
		clock:     s.clock,
		canonical: s.canonical,
		adds:      adds,
		removes:   removes,
	}
	merged.adds.union(other.rekey(otherAdds, s))
	merged.removes.union(other.rekey(otherRemoves, s))
	merged.resolveConflicts()
	return merged
}

// resolveConflicts drops every remove that shares its timestamp
// with an add of the same value, biasing exact ties towards the add.
func (s *ElementSet[T]) resolveConflicts() {
	for v := range s.removes {
		s.resolve(v)
	}
}

// resolve applies the add bias to the events of v alone.
func (s *ElementSet[T]) resolve(v T) {
	removals, ok := s.removes[v]
	if !ok {
		return
	}
	additions, ok := s.adds[v]
	if !ok {
		return
	}
	stamps := make(map[time.Time]struct{}, additions.Cardinality())
	for _, a := range additions.ToSlice() {
		stamps[a.Timestamp] = struct{}{}
	}
	kept := newEvents[T]()
	for _, r := range removals.ToSlice() {
		if _, clash := stamps[r.Timestamp]; !clash {
			kept.Add(r)
		}
	}
	if kept.Cardinality() == 0 {
		delete(s.removes, v)
	} else {
		s.removes[v] = kept
	}
}

// Clone returns an independent copy with identical logs.
func (s *ElementSet[T]) Clone() *ElementSet[T] {
	adds, removes := s.snapshot()
	return &ElementSet[T]{
		clock:     s.clock,
		canonical: s.canonical,
		adds:      adds,
		removes:   removes,
	}
}

// AddLog returns a copy of the add log.
func (s *ElementSet[T]) AddLog() Log[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adds.Copy()
}

// RemoveLog returns a copy of the remove log.
func (s *ElementSet[T]) RemoveLog() Log[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.removes.Copy()
}

// Values returns the values currently in the set, in no
// particular order.
func (s *ElementSet[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]T, 0, len(s.adds))
	for v := range s.adds {
		if s.lookup(v) {
			values = append(values, v)
		}
	}
	return values
}

// Len returns the number of values currently in the set.
func (s *ElementSet[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for v := range s.adds {
		if s.lookup(v) {
			n++
		}
	}
	return n
}

// Latest returns the latest timestamp recorded in either log,
// or the zero time for an empty set.
func (s *ElementSet[T]) Latest() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for _, l := range []Log[T]{s.adds, s.removes} {
		for v := range l {
			if ts, _ := l.latest(v); ts.After(latest) {
				latest = ts
			}
		}
	}
	return latest
}
