package gateway

import (
	"errors"
)

// Drop reasons reported to DispatcherOptions.OnDrop.
const (
	DropMalformed = "malformed"
	DropUnmatched = "unmatched"
	DropStale     = "stale"
)

// Completer receives responses. *correlation.Registry[Response] implements it.
type Completer interface {
	Complete(id string, resp Response) bool
}

// Tracker is a Completer that can also say whether an id is still awaited.
type Tracker interface {
	Completer
	IsPending(id string) bool
}

// Logger is the logging surface used by this package. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DispatcherOptions configures a Dispatcher. All fields are optional.
type DispatcherOptions struct {
	Logger Logger

	// OnDrop is called for every response that resolves nothing.
	OnDrop func(reason string)
}

// Dispatcher is the single path from any transport to the Completer. It
// forwards purely by id; the topic or path a response arrived on is only
// used for logging.
type Dispatcher struct {
	completer Completer
	logger    Logger
	onDrop    func(reason string)
}

// NewDispatcher creates a dispatcher forwarding to c.
func NewDispatcher(c Completer, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		completer: c,
		logger:    opts.Logger,
		onDrop:    opts.OnDrop,
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	if d.onDrop == nil {
		d.onDrop = func(string) {}
	}
	return d
}

// Dispatch decodes a raw payload seen on source and forwards it. It reports
// whether a pending request was resolved.
func (d *Dispatcher) Dispatch(source string, payload []byte) bool {
	resp, err := DecodeResponse(payload)
	if err != nil {
		d.Drop(DropMalformed, source, "", err)
		return false
	}
	resp.Topic = source
	return d.Deliver(resp)
}

// Deliver forwards an already decoded response.
func (d *Dispatcher) Deliver(resp Response) bool {
	if d.completer.Complete(resp.ID, resp) {
		d.logger.Debug("gateway response matched", "id", resp.ID, "status", resp.Status, "source", resp.Topic)
		return true
	}
	d.Drop(DropUnmatched, resp.Topic, resp.ID, nil)
	return false
}

// Drop records a discarded response.
func (d *Dispatcher) Drop(reason, source, id string, err error) {
	d.onDrop(reason)

	args := []any{"reason", reason, "source", source}
	if id != "" {
		args = append(args, "id", id)
	}
	if err != nil && !errors.Is(err, ErrPathNotFound) {
		args = append(args, "error", err)
	}
	d.logger.Debug("gateway response dropped", args...)
}
