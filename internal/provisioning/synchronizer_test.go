package provisioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database/dbtest"
	"github.com/joao-cbj/silo-watch-backend/internal/reading"
	"github.com/joao-cbj/silo-watch-backend/internal/silo"
)

func TestSynchronizer_ApplyProvision(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	silos := silo.NewSQLiteRepository(db)
	s := NewSQLiteSynchronizer(db, nil)

	rec := &silo.Silo{Name: "Silo Um", Kind: silo.KindTrench}
	if err := silos.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.ApplyProvision(ctx, rec.ID, "aa:bb:cc:dd:ee:01", "Silo_Um")
	if err != nil {
		t.Fatalf("ApplyProvision() error = %v", err)
	}
	if !got.Integrated || got.MACAddress != "AA:BB:CC:DD:EE:01" {
		t.Errorf("silo = %+v", got)
	}

	t.Run("same binding is a no-op", func(t *testing.T) {
		again, err := s.ApplyProvision(ctx, rec.ID, "AA:BB:CC:DD:EE:01", "Silo_Um")
		if err != nil {
			t.Fatalf("ApplyProvision() error = %v", err)
		}
		if !again.UpdatedAt.Equal(got.UpdatedAt) {
			t.Errorf("UpdatedAt changed: %v -> %v", got.UpdatedAt, again.UpdatedAt)
		}
	})

	t.Run("binding taken by another silo", func(t *testing.T) {
		other := &silo.Silo{Name: "Silo Dois", Kind: silo.KindBag}
		if err := silos.Create(ctx, other); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		_, err := s.ApplyProvision(ctx, other.ID, "AA:BB:CC:DD:EE:01", "Silo_Dois")
		if !errors.Is(err, ErrConflict) {
			t.Errorf("ApplyProvision() error = %v, want ErrConflict", err)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		if _, err := s.ApplyProvision(ctx, rec.ID, "zz", "Silo_Um"); !errors.Is(err, ErrValidation) {
			t.Errorf("bad MAC error = %v, want ErrValidation", err)
		}
		if _, err := s.ApplyProvision(ctx, "missing", "AA:BB:CC:DD:EE:09", "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("unknown silo error = %v, want ErrNotFound", err)
		}
	})
}

func TestSynchronizer_ApplyDesintegrate(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	silos := silo.NewSQLiteRepository(db)
	s := NewSQLiteSynchronizer(db, nil)

	rec := &silo.Silo{Name: "Silo Tres", Kind: silo.KindCylinder}
	if err := silos.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.ApplyProvision(ctx, rec.ID, "AA:BB:CC:DD:EE:03", "Silo_Tres"); err != nil {
		t.Fatalf("ApplyProvision() error = %v", err)
	}

	got, err := s.ApplyDesintegrate(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ApplyDesintegrate() error = %v", err)
	}
	if got.Integrated || got.MACAddress != "" || got.Identifier != "" {
		t.Errorf("silo = %+v, want cleared", got)
	}

	// Twice is fine.
	if _, err := s.ApplyDesintegrate(ctx, rec.ID); err != nil {
		t.Errorf("second ApplyDesintegrate() error = %v", err)
	}

	// The MAC is free again.
	taken, err := silos.Exists(ctx, "AA:BB:CC:DD:EE:03", "")
	if err != nil || taken {
		t.Errorf("Exists() = %v, %v; want false", taken, err)
	}
}

func TestSynchronizer_ApplyRename(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, transactional bool) (*Synchronizer, *silo.Silo, *reading.SQLiteRepository) {
		t.Helper()
		db := dbtest.Open(t)
		silos := silo.NewSQLiteRepository(db)
		readings := reading.NewSQLiteRepository(db)

		s := NewSynchronizer(silos, readings, nil)
		if transactional {
			s = NewSQLiteSynchronizer(db, nil)
		}

		rec := &silo.Silo{Name: "Silo Antigo", Kind: silo.KindSurface}
		if err := silos.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := s.ApplyProvision(ctx, rec.ID, "AA:BB:CC:DD:EE:04", "Silo_Antigo"); err != nil {
			t.Fatalf("ApplyProvision() error = %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := readings.Record(ctx, &reading.Reading{Identifier: "Silo_Antigo", Temperature: 18, Humidity: 60}); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
		}
		return s, rec, readings
	}

	for _, transactional := range []bool{true, false} {
		name := "without transaction"
		if transactional {
			name = "in transaction"
		}
		t.Run(name, func(t *testing.T) {
			s, rec, readings := setup(t, transactional)

			got, moved, err := s.ApplyRename(ctx, rec.ID, "Silo Novo", "Silo_Novo")
			if err != nil {
				t.Fatalf("ApplyRename() error = %v", err)
			}
			if moved != 2 {
				t.Errorf("moved = %d, want 2", moved)
			}
			if got.Name != "Silo Novo" || got.Identifier != "Silo_Novo" || got.MACAddress != "AA:BB:CC:DD:EE:04" {
				t.Errorf("silo = %+v", got)
			}

			latest, err := readings.Latest(ctx, "Silo_Novo")
			if err != nil {
				t.Fatalf("Latest() error = %v", err)
			}
			if latest.Identifier != "Silo_Novo" {
				t.Errorf("latest identifier = %q", latest.Identifier)
			}
		})
	}

	t.Run("conflict rolls back", func(t *testing.T) {
		db := dbtest.Open(t)
		silos := silo.NewSQLiteRepository(db)
		readings := reading.NewSQLiteRepository(db)
		s := NewSQLiteSynchronizer(db, nil)

		a := &silo.Silo{Name: "A", Kind: silo.KindSurface}
		b := &silo.Silo{Name: "B", Kind: silo.KindSurface}
		for _, rec := range []*silo.Silo{a, b} {
			if err := silos.Create(ctx, rec); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}
		if _, err := s.ApplyProvision(ctx, a.ID, "AA:BB:CC:DD:EE:0A", "A"); err != nil {
			t.Fatalf("ApplyProvision(a) error = %v", err)
		}
		if _, err := s.ApplyProvision(ctx, b.ID, "AA:BB:CC:DD:EE:0B", "B"); err != nil {
			t.Fatalf("ApplyProvision(b) error = %v", err)
		}
		if err := readings.Record(ctx, &reading.Reading{Identifier: "A", Temperature: 1, Humidity: 1}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}

		_, _, err := s.ApplyRename(ctx, a.ID, "B", "B")
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("ApplyRename() error = %v, want ErrConflict", err)
		}

		got, err := silos.GetByID(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Name != "A" || got.Identifier != "A" {
			t.Errorf("silo = %+v, want unchanged", got)
		}
		hist, err := readings.History(ctx, "A", time.Time{}, time.Now().Add(time.Minute))
		if err != nil || len(hist) != 1 {
			t.Errorf("History(A) = %d readings, %v; want 1", len(hist), err)
		}
	})

	t.Run("not integrated", func(t *testing.T) {
		db := dbtest.Open(t)
		silos := silo.NewSQLiteRepository(db)
		s := NewSQLiteSynchronizer(db, nil)

		rec := &silo.Silo{Name: "Livre", Kind: silo.KindSurface}
		if err := silos.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, _, err := s.ApplyRename(ctx, rec.ID, "Outro", "Outro"); !errors.Is(err, ErrConflict) {
			t.Errorf("ApplyRename() error = %v, want ErrConflict", err)
		}
	})
}
