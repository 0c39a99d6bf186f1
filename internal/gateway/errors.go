package gateway

import "errors"

// Domain-specific errors for gateway transports.
var (
	// ErrTransport is returned when a command cannot be handed to the
	// channel (broker down, store write failed, transport closed).
	ErrTransport = errors.New("gateway: transport unavailable")

	// ErrMalformedResponse is returned for a response payload that cannot be
	// parsed or carries no id.
	ErrMalformedResponse = errors.New("gateway: malformed response")

	// ErrPathNotFound is returned by a PathStore read of an empty path.
	ErrPathNotFound = errors.New("gateway: path not found")

	// ErrUnknownAction is returned for an action name the gateway does not support.
	ErrUnknownAction = errors.New("gateway: unknown action")
)
