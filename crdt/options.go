package crdt

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock supplies default timestamps. Any clockwork.Clock satisfies
// it, as does clock.Monotonic.
type Clock interface {
	Now() time.Time
}

type options struct {
	clock     Clock
	canonical any
}

// Option configures an ElementSet.
type Option func(*options)

// WithClock sets the clock used when Add or Remove is called
// without an explicit timestamp.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithCanonical sets the equivalence used for values: two values
// are the same element iff fn maps them to the same canonical form.
// The canonical form is what the set stores.
func WithCanonical[T comparable](fn func(T) T) Option {
	return func(o *options) {
		o.canonical = fn
	}
}

func buildOptions[T comparable](opts []Option) (Clock, func(T) T) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.canonical == nil {
		return o.clock, nil
	}
	fn, ok := o.canonical.(func(T) T)
	if !ok {
		panic(fmt.Sprintf("crdt: canonical function %T does not match element type %T", o.canonical, *new(T)))
	}
	return o.clock, fn
}
