package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

// PathEntry is one stored relay path.
type PathEntry struct {
	Path      string    `json:"path"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PathStore is a key/value store of relay paths shared with the gateway.
type PathStore interface {
	Write(ctx context.Context, p string, payload []byte) error
	// Read returns ErrPathNotFound for an empty path.
	Read(ctx context.Context, p string) ([]byte, error)
	Remove(ctx context.Context, p string) error
	// CompareAndRemove removes p only if it still holds payload.
	CompareAndRemove(ctx context.Context, p string, payload []byte) (bool, error)
	List(ctx context.Context, prefix string) ([]PathEntry, error)
	Clear(ctx context.Context, prefix string) (int64, error)
}

// PullConfig configures a PullTransport.
type PullConfig struct {
	Interval     time.Duration
	CommandRoot  string
	ResponseRoot string
}

// PullTransport relays commands through a PathStore for gateways that poll
// instead of holding a broker connection.
//
// Each action has one command path and one response path. Publish clears
// the response path first, then the command path, and only then writes the
// new command; a leftover response from an earlier command therefore cannot
// be read as the answer to this one. A poller then reads the response path
// every Interval until it finds this command's id, the request stops being
// pending, or deadline/Interval attempts are used up.
//
// Two concurrent commands of the same action share paths: the later write
// replaces the earlier command. The earlier request then times out.
type PullTransport struct {
	store      PathStore
	tracker    Tracker
	dispatcher *Dispatcher
	cfg        PullConfig
	logger     Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPullTransport creates a pull transport. tracker is consulted to stop
// polling early; dispatcher receives matching responses.
func NewPullTransport(store PathStore, tracker Tracker, dispatcher *Dispatcher, cfg PullConfig, logger Logger) *PullTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PullTransport{
		store:      store,
		tracker:    tracker,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Name implements Transport.
func (t *PullTransport) Name() string {
	return "poll"
}

// CommandPath returns where commands for the wire action are written.
func (t *PullTransport) CommandPath(acao string) string {
	return path.Join(t.cfg.CommandRoot, acao)
}

// ResponsePath returns where the gateway writes responses for the wire action.
func (t *PullTransport) ResponsePath(acao string) string {
	return path.Join(t.cfg.ResponseRoot, acao)
}

// Attempts returns how many reads fit in deadline (at least one).
func (t *PullTransport) Attempts(deadline time.Duration) int {
	n := int(deadline / t.cfg.Interval)
	if n < 1 {
		return 1
	}
	return n
}

// Publish writes cmd to its command path and starts polling for the response.
func (t *PullTransport) Publish(ctx context.Context, cmd Command) error {
	if _, ok := ParseWireAction(cmd.Action); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}

	t.mu.Lock()
	closed := t.closed
	if !closed {
		t.wg.Add(1)
	}
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: pull transport closed", ErrTransport)
	}

	cmdPath := t.CommandPath(cmd.Action)
	respPath := t.ResponsePath(cmd.Action)

	payload, err := t.write(ctx, cmd, cmdPath, respPath)
	if err != nil {
		t.wg.Done()
		return err
	}

	go t.poll(cmd, cmdPath, respPath, payload)
	return nil
}

// write clears both paths, response first, then stores the command.
func (t *PullTransport) write(ctx context.Context, cmd Command, cmdPath, respPath string) ([]byte, error) {
	if err := t.store.Remove(ctx, respPath); err != nil {
		return nil, fmt.Errorf("%w: clearing %s: %w", ErrTransport, respPath, err)
	}
	if err := t.store.Remove(ctx, cmdPath); err != nil {
		return nil, fmt.Errorf("%w: clearing %s: %w", ErrTransport, cmdPath, err)
	}

	payload, err := cmd.Encode()
	if err != nil {
		return nil, err
	}
	if err := t.store.Write(ctx, cmdPath, payload); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %w", ErrTransport, cmdPath, err)
	}

	t.logger.Debug("gateway command written", "id", cmd.ID, "acao", cmd.Action, "path", cmdPath)
	return payload, nil
}

func (t *PullTransport) poll(cmd Command, cmdPath, respPath string, cmdPayload []byte) {
	defer t.wg.Done()
	// Only remove the command if a later one has not replaced it.
	defer t.cleanup(cmdPath, cmdPayload)

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	var lastSeen []byte
	for attempt := 0; attempt < t.Attempts(cmd.Deadline); attempt++ {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}

		if !t.tracker.IsPending(cmd.ID) {
			return
		}

		raw, err := t.store.Read(t.ctx, respPath)
		if errors.Is(err, ErrPathNotFound) {
			continue
		}
		if err != nil {
			t.logger.Warn("gateway response read failed", "id", cmd.ID, "path", respPath, "error", err)
			continue
		}
		if bytes.Equal(raw, lastSeen) {
			continue
		}
		lastSeen = raw

		resp, err := DecodeResponse(raw)
		if err != nil {
			t.dispatcher.Drop(DropMalformed, respPath, "", err)
			continue
		}
		if resp.ID != cmd.ID {
			t.dispatcher.Drop(DropStale, respPath, resp.ID, nil)
			continue
		}

		resp.Topic = respPath
		t.dispatcher.Deliver(resp)
		t.cleanup(respPath, raw)
		return
	}
}

func (t *PullTransport) cleanup(p string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := t.store.CompareAndRemove(ctx, p, payload); err != nil {
		t.logger.Warn("gateway path cleanup failed", "path", p, "error", err)
	}
}

// Close stops all pollers and waits for them to exit. Pending requests are
// left to their deadlines.
func (t *PullTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	return nil
}

// PendingCommand returns the command waiting on the path of the wire action
// acao. It returns ErrPathNotFound when there is none.
func (t *PullTransport) PendingCommand(ctx context.Context, acao string) ([]byte, error) {
	if _, ok := ParseWireAction(acao); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, acao)
	}
	return t.store.Read(ctx, t.CommandPath(acao))
}

// StoreResponse writes a gateway response for the wire action acao, where
// the poller of the matching command picks it up. Payloads that cannot be
// decoded are rejected with ErrMalformedResponse.
func (t *PullTransport) StoreResponse(ctx context.Context, acao string, payload []byte) error {
	if _, ok := ParseWireAction(acao); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, acao)
	}
	if _, err := DecodeResponse(payload); err != nil {
		return err
	}
	return t.store.Write(ctx, t.ResponsePath(acao), payload)
}

// StoredPaths lists the command and response paths currently held in the
// store, commands first.
func (t *PullTransport) StoredPaths(ctx context.Context) ([]PathEntry, error) {
	entries := []PathEntry{}
	for _, root := range t.roots() {
		found, err := t.store.List(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", root, err)
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

// ClearPaths removes every command and response path and returns how many
// were removed. Outstanding requests are left to their deadlines.
func (t *PullTransport) ClearPaths(ctx context.Context) (int64, error) {
	var total int64
	for _, root := range t.roots() {
		n, err := t.store.Clear(ctx, root)
		if err != nil {
			return total, fmt.Errorf("clearing %s: %w", root, err)
		}
		total += n
	}
	return total, nil
}

// roots returns the store prefixes of the two path trees. The trailing slash
// keeps a root from matching a sibling that merely shares its prefix.
func (t *PullTransport) roots() []string {
	return []string{
		strings.TrimSuffix(t.cfg.CommandRoot, "/") + "/",
		strings.TrimSuffix(t.cfg.ResponseRoot, "/") + "/",
	}
}
