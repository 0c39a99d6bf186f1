package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database"
	"github.com/joao-cbj/silo-watch-backend/internal/reading"
	"github.com/joao-cbj/silo-watch-backend/internal/silo"
)

// DeviceStore is the silo persistence the core needs.
type DeviceStore interface {
	GetByID(ctx context.Context, id string) (*silo.Silo, error)
	Update(ctx context.Context, s *silo.Silo) error
	Exists(ctx context.Context, value, excludingID string) (bool, error)
}

// ReadingStore is the reading persistence the core needs.
type ReadingStore interface {
	BulkRetag(ctx context.Context, oldIdentifier, newIdentifier string) (int64, error)
	DeleteByIdentifier(ctx context.Context, identifier string) (int64, error)
}

// Transactor runs fn inside one SQL transaction. *database.DB implements it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(q database.Querier) error) error
}

// StoreBinder returns stores that operate on q, typically a transaction.
type StoreBinder func(q database.Querier) (DeviceStore, ReadingStore)

// Synchronizer is the only writer of a silo's integration fields.
type Synchronizer struct {
	devices  DeviceStore
	readings ReadingStore
	tx       Transactor
	bind     StoreBinder
	logger   Logger
}

// NewSynchronizer creates a Synchronizer without transactions. Rename then
// updates the silo and re-tags readings as two separate writes.
func NewSynchronizer(devices DeviceStore, readings ReadingStore, logger Logger) *Synchronizer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Synchronizer{devices: devices, readings: readings, logger: logger}
}

// NewSQLiteSynchronizer creates a Synchronizer on db whose rename runs in a
// single transaction.
func NewSQLiteSynchronizer(db *database.DB, logger Logger) *Synchronizer {
	s := NewSynchronizer(silo.NewSQLiteRepository(db), reading.NewSQLiteRepository(db), logger)
	s.tx = db
	s.bind = func(q database.Querier) (DeviceStore, ReadingStore) {
		return silo.NewSQLiteRepository(q), reading.NewSQLiteRepository(q)
	}
	return s
}

// Devices returns the store the Synchronizer reads and writes.
func (s *Synchronizer) Devices() DeviceStore {
	return s.devices
}

// ApplyProvision binds mac and identifier to the silo and marks it
// integrated. Applying the same binding again is a no-op.
func (s *Synchronizer) ApplyProvision(ctx context.Context, siloID, mac, identifier string) (*silo.Silo, error) {
	normalized, err := silo.NormalizeMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	rec, err := s.load(ctx, s.devices, siloID)
	if err != nil {
		return nil, err
	}
	if rec.Integrated && rec.MACAddress == normalized && rec.Identifier == identifier {
		return rec, nil
	}

	rec.Integrate(normalized, identifier)
	if err := s.save(ctx, s.devices, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyDesintegrate clears the silo's binding. Readings keep their tag.
func (s *Synchronizer) ApplyDesintegrate(ctx context.Context, siloID string) (*silo.Silo, error) {
	rec, err := s.load(ctx, s.devices, siloID)
	if err != nil {
		return nil, err
	}
	if !rec.Integrated {
		return rec, nil
	}

	rec.Release()
	if err := s.save(ctx, s.devices, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyRename renames the silo, moves it to newIdentifier and re-tags its
// readings. It returns the silo and the number of re-tagged readings.
func (s *Synchronizer) ApplyRename(ctx context.Context, siloID, newName, newIdentifier string) (*silo.Silo, int64, error) {
	var rec *silo.Silo
	var moved int64
	applyFn := func(devices DeviceStore, readings ReadingStore) error {
		var err error
		rec, moved, err = s.rename(ctx, devices, readings, siloID, newName, newIdentifier)
		return err
	}

	if s.tx != nil && s.bind != nil {
		err := s.tx.WithTx(ctx, func(q database.Querier) error {
			return applyFn(s.bind(q))
		})
		if err != nil {
			return nil, 0, err
		}
		return rec, moved, nil
	}

	s.logger.Warn("renaming without a transaction; readings recorded between the two writes keep the old tag",
		"silo_id", siloID)
	if err := applyFn(s.devices, s.readings); err != nil {
		return nil, 0, err
	}
	return rec, moved, nil
}

func (s *Synchronizer) rename(ctx context.Context, devices DeviceStore, readings ReadingStore, siloID, newName, newIdentifier string) (*silo.Silo, int64, error) {
	rec, err := s.load(ctx, devices, siloID)
	if err != nil {
		return nil, 0, err
	}
	if !rec.Integrated {
		return nil, 0, fmt.Errorf("%w: silo %s is not integrated", ErrConflict, siloID)
	}

	oldIdentifier := rec.Identifier
	rec.Name = strings.TrimSpace(newName)
	rec.Identifier = newIdentifier
	if err := s.save(ctx, devices, rec); err != nil {
		return nil, 0, err
	}

	moved, err := readings.BulkRetag(ctx, oldIdentifier, newIdentifier)
	if err != nil {
		return nil, 0, fmt.Errorf("re-tagging readings %s -> %s: %w", oldIdentifier, newIdentifier, err)
	}
	return rec, moved, nil
}

func (s *Synchronizer) load(ctx context.Context, devices DeviceStore, siloID string) (*silo.Silo, error) {
	rec, err := devices.GetByID(ctx, siloID)
	if errors.Is(err, silo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, siloID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading silo %s: %w", siloID, err)
	}
	return rec, nil
}

func (s *Synchronizer) save(ctx context.Context, devices DeviceStore, rec *silo.Silo) error {
	err := devices.Update(ctx, rec)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, silo.ErrIdentityInUse):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, silo.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	case isValidationError(err):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return fmt.Errorf("saving silo %s: %w", rec.ID, err)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, silo.ErrInvalidSilo) ||
		errors.Is(err, silo.ErrInvalidName) ||
		errors.Is(err, silo.ErrInvalidKind) ||
		errors.Is(err, silo.ErrInvalidMAC) ||
		errors.Is(err, silo.ErrInvalidIdentifier)
}
