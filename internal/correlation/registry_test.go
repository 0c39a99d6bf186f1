package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type response struct {
	ID     string
	Status string
}

func waitResult(t *testing.T, p *Pending[response]) Result[response] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return res
}

func TestRegister(t *testing.T) {
	t.Run("rejects duplicate while outstanding", func(t *testing.T) {
		reg := New[response]()
		defer reg.Close()

		if _, err := reg.Register("ping_1", time.Minute); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if _, err := reg.Register("ping_1", time.Minute); !errors.Is(err, ErrDuplicateID) {
			t.Errorf("second Register() error = %v, want %v", err, ErrDuplicateID)
		}
		if reg.Outstanding() != 1 {
			t.Errorf("Outstanding() = %d, want 1", reg.Outstanding())
		}
	})

	t.Run("allows reuse after resolution", func(t *testing.T) {
		reg := New[response]()
		defer reg.Close()

		p, _ := reg.Register("ping_1", time.Minute)
		reg.Complete("ping_1", response{ID: "ping_1"})
		waitResult(t, p)

		if _, err := reg.Register("ping_1", time.Minute); err != nil {
			t.Errorf("Register() after resolution error = %v", err)
		}
	})

	t.Run("validates arguments", func(t *testing.T) {
		reg := New[response]()
		defer reg.Close()

		if _, err := reg.Register("", time.Second); !errors.Is(err, ErrEmptyID) {
			t.Errorf("empty id error = %v, want %v", err, ErrEmptyID)
		}
		if _, err := reg.Register("x", 0); !errors.Is(err, ErrInvalidDeadline) {
			t.Errorf("zero deadline error = %v, want %v", err, ErrInvalidDeadline)
		}
	})

	t.Run("rejects after close", func(t *testing.T) {
		reg := New[response]()
		reg.Close()
		if _, err := reg.Register("x", time.Second); !errors.Is(err, ErrClosed) {
			t.Errorf("Register() after Close() error = %v, want %v", err, ErrClosed)
		}
	})
}

func TestComplete(t *testing.T) {
	reg := New[response]()
	defer reg.Close()

	p, err := reg.Register("scan_1", time.Minute)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if !reg.Complete("scan_1", response{ID: "scan_1", Status: "ok"}) {
		t.Fatal("Complete() = false, want true")
	}
	// Duplicate delivery is dropped.
	if reg.Complete("scan_1", response{ID: "scan_1", Status: "dup"}) {
		t.Error("second Complete() = true, want false")
	}
	// Unknown id is dropped.
	if reg.Complete("scan_2", response{ID: "scan_2"}) {
		t.Error("Complete() for unknown id = true, want false")
	}

	res := waitResult(t, p)
	if res.Resolution != Matched {
		t.Errorf("Resolution = %v, want %v", res.Resolution, Matched)
	}
	if res.Response.Status != "ok" {
		t.Errorf("Response.Status = %q, want %q", res.Response.Status, "ok")
	}
	if reg.IsPending("scan_1") {
		t.Error("IsPending() = true after completion")
	}
}

func TestDeadline(t *testing.T) {
	reg := New[response]()
	defer reg.Close()

	p, err := reg.Register("ping_1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res := waitResult(t, p)
	if res.Resolution != TimedOut {
		t.Fatalf("Resolution = %v, want %v", res.Resolution, TimedOut)
	}

	// A late response finds nothing to resolve.
	if reg.Complete("ping_1", response{ID: "ping_1"}) {
		t.Error("Complete() after deadline = true, want false")
	}
	if reg.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", reg.Outstanding())
	}
}

func TestLateResponseNotDeliveredToLaterRequest(t *testing.T) {
	reg := New[response]()
	defer reg.Close()

	first, _ := reg.Register("scan_1", 10*time.Millisecond)
	if res := waitResult(t, first); res.Resolution != TimedOut {
		t.Fatalf("first Resolution = %v, want %v", res.Resolution, TimedOut)
	}

	second, _ := reg.Register("scan_2", time.Minute)
	reg.Complete("scan_1", response{ID: "scan_1", Status: "late"})

	select {
	case res := <-second.Done():
		t.Fatalf("later request resolved by stale response: %+v", res)
	case <-time.After(20 * time.Millisecond):
	}
	if !reg.IsPending("scan_2") {
		t.Error("scan_2 should still be pending")
	}
}

func TestCancel(t *testing.T) {
	reg := New[response]()
	defer reg.Close()

	p, _ := reg.Register("provision_1", time.Minute)
	if !reg.Cancel("provision_1") {
		t.Fatal("Cancel() = false, want true")
	}
	if reg.Cancel("provision_1") {
		t.Error("second Cancel() = true, want false")
	}
	if res := waitResult(t, p); res.Resolution != Cancelled {
		t.Errorf("Resolution = %v, want %v", res.Resolution, Cancelled)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	reg := New[response]()
	defer reg.Close()

	p, _ := reg.Register("rename_1", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want %v", err, context.Canceled)
	}
	if reg.IsPending("rename_1") {
		t.Error("entry leaked after caller context ended")
	}
}

func TestWait_ContextCancelledAfterResolution(t *testing.T) {
	reg := New[response]()
	defer reg.Close()

	p, _ := reg.Register("ping_1", time.Minute)
	reg.Complete("ping_1", response{ID: "ping_1", Status: "ok"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either select branch may win, but the matched result is never lost.
	res, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v, want nil", err)
	}
	if res.Resolution != Matched {
		t.Errorf("Resolution = %v, want %v", res.Resolution, Matched)
	}
}

func TestClose(t *testing.T) {
	reg := New[response]()

	var pendings []*Pending[response]
	for i := 0; i < 5; i++ {
		p, err := reg.Register(fmt.Sprintf("ping_%d", i), time.Minute)
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		pendings = append(pendings, p)
	}

	reg.Close()
	reg.Close()

	for _, p := range pendings {
		if res := waitResult(t, p); res.Resolution != Cancelled {
			t.Errorf("%s Resolution = %v, want %v", p.ID(), res.Resolution, Cancelled)
		}
	}
	if reg.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", reg.Outstanding())
	}
}

func TestSnapshot(t *testing.T) {
	reg := New[response]()
	defer reg.Close()

	reg.Register("scan_1", time.Minute)    //nolint:errcheck // ids are unique
	time.Sleep(2 * time.Millisecond)
	reg.Register("ping_2", 5*time.Second) //nolint:errcheck // ids are unique

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(snap))
	}
	if snap[0].ID != "scan_1" {
		t.Errorf("oldest entry = %q, want scan_1", snap[0].ID)
	}
	if snap[1].Deadline != 5*time.Second {
		t.Errorf("Deadline = %v, want 5s", snap[1].Deadline)
	}
}

// TestCompleteRacesDeadline fires a response and the deadline in the same
// tick many times and checks that exactly one of them resolves each request.
func TestCompleteRacesDeadline(t *testing.T) {
	reg := New[response]()
	defer reg.Close()

	const rounds = 500
	var matched, timedOut atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()

			id := fmt.Sprintf("ping_%d", i)
			p, err := reg.Register(id, time.Millisecond)
			if err != nil {
				t.Errorf("Register(%s) error = %v", id, err)
				return
			}

			time.Sleep(time.Millisecond)
			won := reg.Complete(id, response{ID: id})

			res, err := p.Wait(context.Background())
			if err != nil {
				t.Errorf("Wait(%s) error = %v", id, err)
				return
			}

			switch res.Resolution {
			case Matched:
				if !won {
					t.Errorf("%s matched but Complete() reported a drop", id)
				}
				matched.Add(1)
			case TimedOut:
				if won {
					t.Errorf("%s timed out but Complete() reported delivery", id)
				}
				timedOut.Add(1)
			default:
				t.Errorf("%s unexpected resolution %v", id, res.Resolution)
			}

			// No second result is ever queued.
			if n := len(p.entry.ch); n != 0 {
				t.Errorf("%s has %d extra results", id, n)
			}
		}()
	}
	wg.Wait()

	if got := matched.Load() + timedOut.Load(); got != rounds {
		t.Errorf("resolutions = %d, want %d", got, rounds)
	}
	if reg.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0 (leaked entries)", reg.Outstanding())
	}
}

func TestResolutionString(t *testing.T) {
	tests := map[Resolution]string{
		Matched:       "matched",
		TimedOut:      "timed_out",
		Cancelled:     "cancelled",
		Resolution(0): "unknown",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", r, got, want)
		}
	}
}
