package correlation

import "errors"

// Domain-specific errors for the correlation registry.
var (
	// ErrDuplicateID is returned when an id is registered while already outstanding.
	ErrDuplicateID = errors.New("correlation: id already outstanding")

	// ErrEmptyID is returned when registering without an id.
	ErrEmptyID = errors.New("correlation: id is required")

	// ErrInvalidDeadline is returned for a zero or negative deadline.
	ErrInvalidDeadline = errors.New("correlation: deadline must be positive")

	// ErrClosed is returned when registering on a closed registry.
	ErrClosed = errors.New("correlation: registry closed")
)
