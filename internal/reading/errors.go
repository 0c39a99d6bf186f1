package reading

import "errors"

var (
	// ErrInvalidReading is returned when a reading is missing a field or
	// carries a non-finite value.
	ErrInvalidReading = errors.New("reading: invalid")

	// ErrNotFound is returned when a device has no readings.
	ErrNotFound = errors.New("reading: not found")
)
