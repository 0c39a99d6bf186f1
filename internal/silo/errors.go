package silo

import "errors"

// Domain errors for the silo package.
var (
	// ErrNotFound is returned when a silo id or identifier does not exist.
	ErrNotFound = errors.New("silo: not found")

	// ErrInvalidSilo is returned when a silo fails validation.
	ErrInvalidSilo = errors.New("silo: invalid")

	// ErrInvalidName is returned for an empty or overlong name.
	ErrInvalidName = errors.New("silo: invalid name")

	// ErrInvalidKind is returned for an unsupported kind.
	ErrInvalidKind = errors.New("silo: invalid kind")

	// ErrInvalidMAC is returned for a MAC address that cannot be normalised.
	ErrInvalidMAC = errors.New("silo: invalid MAC address")

	// ErrInvalidIdentifier is returned for an empty or malformed device identifier.
	ErrInvalidIdentifier = errors.New("silo: invalid device identifier")

	// ErrIdentityInUse is returned when a MAC address or identifier already
	// belongs to another silo.
	ErrIdentityInUse = errors.New("silo: MAC address or identifier already in use")
)
