package model

import "errors"

// Programmer errors. The kernel raises these with panic; they are never
// returned as recoverable results.
var (
	ErrInvalidValueKind = errors.New("value kind cannot be coerced to a number")
	ErrValueOutOfRange  = errors.New("value does not fit the target field type")
	ErrIndexOutOfRange  = errors.New("cell index out of range")
	ErrImmutableField   = errors.New("field is not mutable")
)
