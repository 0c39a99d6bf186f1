package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/correlation"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database/dbtest"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/mqtt"
)

// fakeBus records publishes and lets tests inject inbound messages.
type fakeBus struct {
	mu         sync.Mutex
	published  map[string][][]byte
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (b *fakeBus) PublishDefault(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBus) QoS() byte { return 1 }

// deliver simulates the broker routing a message to the wildcard handler.
func (b *fakeBus) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	b.mu.Lock()
	h := b.handlers["gateway/resposta/#"]
	b.mu.Unlock()
	if h == nil {
		t.Fatal("no wildcard subscription")
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

type dropCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (d *dropCounter) inc(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.counts == nil {
		d.counts = make(map[string]int)
	}
	d.counts[reason]++
}

func (d *dropCounter) get(reason string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[reason]
}

func waitFor(t *testing.T, p *correlation.Pending[Response]) correlation.Result[Response] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return res
}

func TestPushTransport(t *testing.T) {
	bus := newFakeBus()
	reg := correlation.New[Response]()
	defer reg.Close()
	drops := &dropCounter{}
	d := NewDispatcher(reg, DispatcherOptions{OnDrop: drops.inc})
	tr := NewPushTransport(bus, PushConfig{}, d, nil)

	ctx := context.Background()
	cmd := NewIDGenerator().NewCommand(ActionScan, time.Minute)

	if err := tr.Publish(ctx, cmd); !errors.Is(err, ErrTransport) {
		t.Fatalf("Publish() before Start error = %v, want %v", err, ErrTransport)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	p, err := reg.Register(cmd.ID, time.Minute)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := tr.Publish(ctx, cmd); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n := len(bus.published["gateway/comando"]); n != 1 {
		t.Fatalf("published %d commands on gateway/comando, want 1", n)
	}

	// Noise on the shared channel is dropped.
	bus.deliver(t, "gateway/resposta/scan", `not json`)
	bus.deliver(t, "gateway/resposta/scan", `{"id":"scan_0","dispositivos":[]}`)
	// The match is by id, not by topic.
	bus.deliver(t, "gateway/resposta/other", `{"id":"`+cmd.ID+`","dispositivos":[{"mac":"AA:BB:CC:DD:EE:FF"}]}`)
	// Duplicate delivery after the match is dropped.
	bus.deliver(t, "gateway/resposta/scan", `{"id":"`+cmd.ID+`","dispositivos":[]}`)

	res := waitFor(t, p)
	if res.Resolution != correlation.Matched {
		t.Fatalf("Resolution = %v, want matched", res.Resolution)
	}
	if len(res.Response.Devices) != 1 || res.Response.Devices[0].MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Devices = %+v", res.Response.Devices)
	}
	if res.Response.Topic != "gateway/resposta/other" {
		t.Errorf("Topic = %q", res.Response.Topic)
	}

	if drops.get(DropMalformed) != 1 || drops.get(DropUnmatched) != 2 {
		t.Errorf("drops = malformed %d, unmatched %d; want 1 and 2",
			drops.get(DropMalformed), drops.get(DropUnmatched))
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(bus.handlers) != 0 {
		t.Error("Close() left the subscription in place")
	}
}

func TestPushTransport_PublishError(t *testing.T) {
	bus := newFakeBus()
	bus.publishErr = mqtt.ErrNotConnected
	tr := NewPushTransport(bus, PushConfig{}, NewDispatcher(correlation.New[Response](), DispatcherOptions{}), nil)
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	err := tr.Publish(context.Background(), NewIDGenerator().NewCommand(ActionPing, time.Second))
	if !errors.Is(err, ErrTransport) || !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrTransport wrapping ErrNotConnected", err)
	}
}

func newPullFixture(t *testing.T) (*PullTransport, *SQLitePathStore, *correlation.Registry[Response], *dropCounter) {
	t.Helper()
	store := NewSQLitePathStore(dbtest.Open(t))
	reg := correlation.New[Response]()
	t.Cleanup(reg.Close)
	drops := &dropCounter{}
	d := NewDispatcher(reg, DispatcherOptions{OnDrop: drops.inc})
	tr := NewPullTransport(store, reg, d, PullConfig{
		Interval:     10 * time.Millisecond,
		CommandRoot:  "gateway/commands",
		ResponseRoot: "gateway/responses",
	}, nil)
	t.Cleanup(func() { tr.Close() }) //nolint:errcheck // Test cleanup
	return tr, store, reg, drops
}

func TestPullTransport_ClearsStaleResponseBeforePublishing(t *testing.T) {
	tr, store, reg, _ := newPullFixture(t)
	ctx := context.Background()

	// A response left over from an earlier provision.
	stale := `{"id":"provisionar_1","status":"provisionado"}`
	if err := store.Write(ctx, "gateway/responses/provisionar", []byte(stale)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	cmd := NewIDGenerator().NewCommand(ActionProvision, 200*time.Millisecond)
	p, _ := reg.Register(cmd.ID, cmd.Deadline)
	if err := tr.Publish(ctx, cmd); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if _, err := store.Read(ctx, "gateway/responses/provisionar"); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("stale response still present: err = %v", err)
	}
	written, err := store.Read(ctx, "gateway/commands/provisionar")
	if err != nil {
		t.Fatalf("command not written: %v", err)
	}
	if got, _ := DecodeResponse(written); got.ID != cmd.ID {
		t.Errorf("command path holds id %q, want %q", got.ID, cmd.ID)
	}

	// Nobody answers; the registry deadline resolves it.
	if res := waitFor(t, p); res.Resolution != correlation.TimedOut {
		t.Errorf("Resolution = %v, want timed_out", res.Resolution)
	}
}

func TestPullTransport_MatchesAndCleansUp(t *testing.T) {
	tr, store, reg, drops := newPullFixture(t)
	ctx := context.Background()

	cmd := NewIDGenerator().NewCommand(ActionScan, 2*time.Second)
	p, _ := reg.Register(cmd.ID, cmd.Deadline)
	if err := tr.Publish(ctx, cmd); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// The gateway first writes garbage, then a late answer to another
	// command, then the real answer.
	respPath := tr.ResponsePath(cmd.Action)
	store.Write(ctx, respPath, []byte(`garbage`)) //nolint:errcheck // test setup
	time.Sleep(30 * time.Millisecond)
	store.Write(ctx, respPath, []byte(`{"id":"scan_1","dispositivos":[]}`)) //nolint:errcheck // test setup
	time.Sleep(30 * time.Millisecond)
	store.Write(ctx, respPath, []byte(`{"id":"`+cmd.ID+`","dispositivos":[{"mac":"11:22:33:44:55:66"}]}`)) //nolint:errcheck // test setup

	res := waitFor(t, p)
	if res.Resolution != correlation.Matched {
		t.Fatalf("Resolution = %v, want matched", res.Resolution)
	}
	if len(res.Response.Devices) != 1 {
		t.Errorf("Devices = %+v", res.Response.Devices)
	}
	// Each bad value is reported at most once however often it is polled.
	if drops.get(DropMalformed) > 1 || drops.get(DropStale) > 1 {
		t.Errorf("drops = malformed %d, stale %d; want at most 1 each",
			drops.get(DropMalformed), drops.get(DropStale))
	}

	// Poller cleanup runs after delivery.
	deadline := time.Now().Add(time.Second)
	for {
		entries, err := store.List(ctx, "")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("paths not cleaned up: %+v", entries)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPullTransport_KeepsNewerCommand(t *testing.T) {
	tr, store, reg, _ := newPullFixture(t)
	ctx := context.Background()
	gen := NewIDGenerator()

	first := gen.NewCommand(ActionPing, 50*time.Millisecond)
	reg.Register(first.ID, first.Deadline) //nolint:errcheck // unique id
	if err := tr.Publish(ctx, first); err != nil {
		t.Fatalf("Publish(first) error = %v", err)
	}

	second := gen.NewCommand(ActionPing, time.Minute)
	reg.Register(second.ID, second.Deadline) //nolint:errcheck // unique id
	if err := tr.Publish(ctx, second); err != nil {
		t.Fatalf("Publish(second) error = %v", err)
	}

	// Let the first poller exhaust its attempts and clean up.
	time.Sleep(150 * time.Millisecond)

	raw, err := store.Read(ctx, tr.CommandPath("ping"))
	if err != nil {
		t.Fatalf("second command removed by first poller: %v", err)
	}
	if got, _ := DecodeResponse(raw); got.ID != second.ID {
		t.Errorf("command path holds %q, want %q", got.ID, second.ID)
	}
}

func TestPullTransport_Attempts(t *testing.T) {
	tr := NewPullTransport(nil, nil, nil, PullConfig{Interval: 500 * time.Millisecond}, nil)
	defer tr.Close() //nolint:errcheck // Test cleanup

	tests := map[time.Duration]int{
		30 * time.Second:       60,
		5 * time.Second:        10,
		700 * time.Millisecond: 1,
		100 * time.Millisecond: 1,
	}
	for deadline, want := range tests {
		if got := tr.Attempts(deadline); got != want {
			t.Errorf("Attempts(%v) = %d, want %d", deadline, got, want)
		}
	}
}

func TestPullTransport_Rejects(t *testing.T) {
	tr, _, _, _ := newPullFixture(t)
	ctx := context.Background()

	if err := tr.Publish(ctx, Command{Action: "reboot", ID: "reboot_1"}); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("unknown action error = %v, want %v", err, ErrUnknownAction)
	}

	tr.Close() //nolint:errcheck // closing early on purpose
	err := tr.Publish(ctx, NewIDGenerator().NewCommand(ActionPing, time.Second))
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Publish() after Close error = %v, want %v", err, ErrTransport)
	}
}

func TestPullTransport_RelayAccessors(t *testing.T) {
	tr, store, reg, _ := newPullFixture(t)
	ctx := context.Background()

	if _, err := tr.PendingCommand(ctx, "scan"); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("PendingCommand() on empty path error = %v, want %v", err, ErrPathNotFound)
	}
	if _, err := tr.PendingCommand(ctx, "reboot"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("PendingCommand(reboot) error = %v, want %v", err, ErrUnknownAction)
	}

	cmd := NewIDGenerator().NewCommand(ActionScan, 2*time.Second)
	p, _ := reg.Register(cmd.ID, cmd.Deadline)
	if err := tr.Publish(ctx, cmd); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	raw, err := tr.PendingCommand(ctx, "scan")
	if err != nil {
		t.Fatalf("PendingCommand() error = %v", err)
	}
	if got, _ := DecodeResponse(raw); got.ID != cmd.ID {
		t.Errorf("pending command id = %q, want %q", got.ID, cmd.ID)
	}

	if err := tr.StoreResponse(ctx, "scan", []byte(`not json`)); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("StoreResponse(garbage) error = %v, want %v", err, ErrMalformedResponse)
	}
	if err := tr.StoreResponse(ctx, "scan", []byte(`{"id":"`+cmd.ID+`","dispositivos":[]}`)); err != nil {
		t.Fatalf("StoreResponse() error = %v", err)
	}
	if res := waitFor(t, p); res.Resolution != correlation.Matched {
		t.Errorf("Resolution = %v, want matched", res.Resolution)
	}

	store.Write(ctx, tr.CommandPath("ping"), []byte(`{}`))      //nolint:errcheck // test setup
	store.Write(ctx, tr.ResponsePath("ping"), []byte(`{}`))     //nolint:errcheck // test setup
	store.Write(ctx, "elsewhere/ping", []byte(`{"id":"keep"}`)) //nolint:errcheck // test setup

	stored, err := tr.StoredPaths(ctx)
	if err != nil {
		t.Fatalf("StoredPaths() error = %v", err)
	}
	seen := map[string]bool{}
	for _, e := range stored {
		seen[e.Path] = true
	}
	if !seen[tr.CommandPath("ping")] || !seen[tr.ResponsePath("ping")] || seen["elsewhere/ping"] {
		t.Errorf("StoredPaths() = %+v, want both ping paths and nothing outside the roots", stored)
	}

	if _, err := tr.ClearPaths(ctx); err != nil {
		t.Fatalf("ClearPaths() error = %v", err)
	}
	entries, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "elsewhere/ping" {
		t.Errorf("remaining paths = %+v, want only elsewhere/ping", entries)
	}
}

func TestSQLitePathStore(t *testing.T) {
	store := NewSQLitePathStore(dbtest.Open(t))
	ctx := context.Background()

	if _, err := store.Read(ctx, "gateway/commands/ping"); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("Read() empty error = %v, want %v", err, ErrPathNotFound)
	}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(store.Write(ctx, "gateway/commands/ping", []byte("a")))
	must(store.Write(ctx, "gateway/commands/ping", []byte("b")))
	must(store.Write(ctx, "gateway/responses/ping", []byte("c")))

	got, err := store.Read(ctx, "gateway/commands/ping")
	must(err)
	if string(got) != "b" {
		t.Errorf("Read() = %q, want overwrite %q", got, "b")
	}

	removed, err := store.CompareAndRemove(ctx, "gateway/commands/ping", []byte("a"))
	must(err)
	if removed {
		t.Error("CompareAndRemove() removed a path holding a different value")
	}

	entries, err := store.List(ctx, "gateway/commands/")
	must(err)
	if len(entries) != 1 || entries[0].Path != "gateway/commands/ping" {
		t.Errorf("List() = %+v", entries)
	}

	n, err := store.Clear(ctx, "gateway/")
	must(err)
	if n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	must(store.Remove(ctx, "gateway/commands/ping"))
}
