package correlation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Resolution says how a pending request ended.
type Resolution int

const (
	// Matched means a response carrying the request's id arrived in time.
	Matched Resolution = iota + 1

	// TimedOut means the deadline fired before any matching response.
	TimedOut

	// Cancelled means the request was withdrawn (publish failure, caller
	// gone, or registry shutdown).
	Cancelled
)

// String returns the resolution name used in logs, metrics and the journal.
func (r Resolution) String() string {
	switch r {
	case Matched:
		return "matched"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is delivered exactly once to the waiter of a pending request.
// Response is only meaningful when Resolution is Matched.
type Result[R any] struct {
	Response   R
	Resolution Resolution
}

type entry[R any] struct {
	ch        chan Result[R]
	timer     *time.Timer
	createdAt time.Time
	deadline  time.Duration
}

// Outstanding describes one unresolved request.
type Outstanding struct {
	ID       string        `json:"id"`
	Age      time.Duration `json:"age"`
	Deadline time.Duration `json:"deadline"`
}

// Registry tracks outstanding requests by correlation id and resolves each
// exactly once, by a matching response, by its deadline, or by cancellation.
//
// Removal from the map under mu is the only way to resolve an entry. Whoever
// removes it sends the single Result; every later attempt finds nothing and
// is a no-op. This holds for Complete racing the deadline timer, for
// duplicate deliveries and for responses arriving after the deadline.
//
// All methods are safe for concurrent use.
type Registry[R any] struct {
	mu      sync.Mutex
	pending map[string]*entry[R]
	closed  bool
}

// New creates an empty registry.
func New[R any]() *Registry[R] {
	return &Registry[R]{
		pending: make(map[string]*entry[R]),
	}
}

// Register creates the pending request for id. Its deadline timer starts now.
//
// It fails with ErrDuplicateID while another request with the same id is
// outstanding. The id may be reused once the earlier request has resolved.
func (r *Registry[R]) Register(id string, deadline time.Duration) (*Pending[R], error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if deadline <= 0 {
		return nil, ErrInvalidDeadline
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, exists := r.pending[id]; exists {
		return nil, ErrDuplicateID
	}

	e := &entry[R]{
		ch:        make(chan Result[R], 1),
		createdAt: time.Now(),
		deadline:  deadline,
	}
	r.pending[id] = e
	// The callback needs mu, so it cannot run before e.timer is assigned.
	e.timer = time.AfterFunc(deadline, func() {
		r.resolve(id, e, Result[R]{Resolution: TimedOut})
	})

	return &Pending[R]{id: id, registry: r, entry: e}, nil
}

// Complete resolves the request for id with resp. It reports whether a
// request was waiting; a false return means the response is dropped.
func (r *Registry[R]) Complete(id string, resp R) bool {
	return r.resolve(id, nil, Result[R]{Response: resp, Resolution: Matched})
}

// Cancel withdraws the request for id. It reports whether one was pending.
func (r *Registry[R]) Cancel(id string) bool {
	return r.resolve(id, nil, Result[R]{Resolution: Cancelled})
}

// IsPending reports whether a request with id is outstanding.
func (r *Registry[R]) IsPending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// Outstanding returns the number of unresolved requests.
func (r *Registry[R]) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Snapshot lists the unresolved requests, oldest first.
func (r *Registry[R]) Snapshot() []Outstanding {
	now := time.Now()

	r.mu.Lock()
	out := make([]Outstanding, 0, len(r.pending))
	for id, e := range r.pending {
		out = append(out, Outstanding{ID: id, Age: now.Sub(e.createdAt), Deadline: e.deadline})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Age > out[j].Age })
	return out
}

// Close cancels every outstanding request and rejects new registrations.
func (r *Registry[R]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	drained := r.pending
	r.pending = make(map[string]*entry[R])
	r.mu.Unlock()

	for _, e := range drained {
		e.timer.Stop()
		e.ch <- Result[R]{Resolution: Cancelled}
	}
}

// resolve removes the entry for id and delivers res to its waiter. When
// want is set, the entry is only removed if it is that exact entry, so a
// stale timer or waiter cannot resolve a later request that reused the id.
func (r *Registry[R]) resolve(id string, want *entry[R], res Result[R]) bool {
	r.mu.Lock()
	e, ok := r.pending[id]
	if !ok || (want != nil && e != want) {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, id)
	r.mu.Unlock()

	e.timer.Stop()
	e.ch <- res
	return true
}

// Pending is the waiter side of a registered request.
type Pending[R any] struct {
	id       string
	registry *Registry[R]
	entry    *entry[R]
}

// ID returns the correlation id.
func (p *Pending[R]) ID() string {
	return p.id
}

// Deadline returns the deadline the request was registered with.
func (p *Pending[R]) Deadline() time.Duration {
	return p.entry.deadline
}

// Done returns a channel that receives the Result once. Prefer Wait unless
// selecting on other channels as well.
func (p *Pending[R]) Done() <-chan Result[R] {
	return p.entry.ch
}

// Wait blocks until the request resolves or ctx ends.
//
// If ctx ends first the request is cancelled so it cannot leak, and ctx.Err()
// is returned. If the request resolved at the same moment, that result wins
// and is returned instead.
func (p *Pending[R]) Wait(ctx context.Context) (Result[R], error) {
	select {
	case res := <-p.entry.ch:
		return res, nil
	case <-ctx.Done():
		if p.registry.resolve(p.id, p.entry, Result[R]{Resolution: Cancelled}) {
			<-p.entry.ch
			return Result[R]{Resolution: Cancelled}, ctx.Err()
		}
		return <-p.entry.ch, nil
	}
}
