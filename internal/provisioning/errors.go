package provisioning

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Validation, NotFound and Conflict are decided before any
// command is published.
var (
	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("provisioning: validation failed")

	// ErrNotFound is returned when the silo does not exist.
	ErrNotFound = errors.New("provisioning: silo not found")

	// ErrConflict is returned when the silo's state does not allow the
	// operation, or a MAC address or identifier is already taken.
	ErrConflict = errors.New("provisioning: conflict")

	// ErrTransport is returned when the command could not be published.
	ErrTransport = errors.New("provisioning: gateway unavailable")

	// ErrTimeout is returned when no matching response arrived before the
	// deadline.
	ErrTimeout = errors.New("provisioning: gateway did not respond")
)

// Gateway status codes with known meanings.
const (
	CodeScanFailed = "erro_scan"
	CodeNotFound   = "erro_nao_encontrado"
	CodeBLE        = "erro_ble"
)

var remoteMessages = map[string]string{
	CodeScanFailed: "no BLE device found",
	CodeNotFound:   "silo not found in BLE scan",
	CodeBLE:        "could not connect to the device over BLE",
}

// RemoteError is a response in which the gateway reported failure.
type RemoteError struct {
	Code    string
	Message string
}

func newRemoteError(status, detail string) *RemoteError {
	msg := detail
	if known, ok := remoteMessages[strings.ToLower(status)]; ok && msg == "" {
		msg = known
	}
	if msg == "" {
		msg = "gateway reported an error"
	}
	return &RemoteError{Code: status, Message: msg}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("provisioning: gateway error %q: %s", e.Code, e.Message)
}

// IsRemoteError reports whether err carries a *RemoteError and returns it.
func IsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
