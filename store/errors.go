package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a guard fails or a uniqueness rule
	// would be broken. The batch was not applied.
	ErrConflict = errors.New("store: conflict")
	// ErrInvalidOp is returned for malformed ops.
	ErrInvalidOp = errors.New("store: invalid op")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)
