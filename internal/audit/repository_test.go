package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database/dbtest"
)

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{CommandID: "ping_1", Action: "ping", Result: ResultTimedOut, Duration: 5 * time.Second, CreatedAt: base},
		{CommandID: "provisionar_2", Action: "provision", SiloID: "s1", Result: ResultMatched, Status: "provisionado", Duration: 1200 * time.Millisecond, CreatedAt: base.Add(time.Second)},
		{CommandID: "provisionar_3", Action: "provision", SiloID: "s2", Result: ResultRemoteError, Status: "erro_ble", Detail: "BLE connection failed", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create(%s) error = %v", e.CommandID, err)
		}
		if e.ID == "" {
			t.Errorf("Create(%s) did not assign an id", e.CommandID)
		}
	}

	t.Run("all, newest first", func(t *testing.T) {
		got, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if got.Total != 3 || len(got.Entries) != 3 {
			t.Fatalf("List() total = %d len = %d, want 3", got.Total, len(got.Entries))
		}
		if got.Entries[0].CommandID != "provisionar_3" {
			t.Errorf("first entry = %s, want provisionar_3", got.Entries[0].CommandID)
		}
		if got.Limit != 50 {
			t.Errorf("Limit = %d, want default 50", got.Limit)
		}
		if got.Entries[1].Duration != 1200*time.Millisecond {
			t.Errorf("Duration = %v, want 1.2s", got.Entries[1].Duration)
		}
	})

	t.Run("filters", func(t *testing.T) {
		tests := []struct {
			name   string
			filter Filter
			want   int
		}{
			{"by action", Filter{Action: "provision"}, 2},
			{"by silo", Filter{SiloID: "s1"}, 1},
			{"by result", Filter{Result: ResultTimedOut}, 1},
			{"page", Filter{Limit: 1, Offset: 2}, 1},
			{"no match", Filter{Action: "rename"}, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.List(ctx, tt.filter)
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				if len(got.Entries) != tt.want {
					t.Errorf("List() len = %d, want %d", len(got.Entries), tt.want)
				}
			})
		}
	})
}

func TestSQLiteRepository_CreateInvalid(t *testing.T) {
	repo := NewSQLiteRepository(dbtest.Open(t))
	err := repo.Create(context.Background(), &Entry{Action: "ping", Result: ResultMatched})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Create() error = %v, want ErrInvalidEntry", err)
	}
}

func TestEntry_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Entry{CommandID: "ping_1", Action: "ping", Result: ResultMatched, Duration: 1500 * time.Millisecond})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out["duration_ms"] != float64(1500) {
		t.Errorf("duration_ms = %v, want 1500", out["duration_ms"])
	}
	if out["result"] != "matched" {
		t.Errorf("result = %v, want matched", out["result"])
	}
}
