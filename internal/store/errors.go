package store

import "errors"

// ErrWrongType is returned when an operation is applied to a key holding a
// different representation (e.g. Expire on a hash, Incr on a non-integer).
var ErrWrongType = errors.New("store: operation against key holding wrong kind of value")

// ErrNotInteger is returned by Incr when the current value does not parse
// as a decimal integer.
var ErrNotInteger = errors.New("store: value is not an integer")
