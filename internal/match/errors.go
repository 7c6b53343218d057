package match

import "errors"

// Error classes for match operations. Callers match them with errors.Is to
// pick an HTTP status or build an error snapshot.
var (
	// ErrValidation is returned for bad creation input (too few players,
	// duplicate names, unsupported starting score) or a malformed dart.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned when an operation is illegal for the
	// match's current status, e.g. a throw before the game started.
	ErrInvalidState = errors.New("invalid state")
)
