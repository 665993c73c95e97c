package crdt

import "github.com/pkg/errors"

// ErrPreconditionViolation is returned by Remove when the value
// is not currently present in the set. It marks a caller bug and
// is never retried.
var ErrPreconditionViolation = errors.New("element is not in the set")
