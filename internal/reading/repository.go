package reading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database"
)

// timeLayout has fixed precision so recorded_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Repository defines reading persistence.
type Repository interface {
	Record(ctx context.Context, r *Reading) error

	// History returns readings for identifier in [from, to], oldest first.
	History(ctx context.Context, identifier string, from, to time.Time) ([]Reading, error)

	// Latest returns the newest reading of identifier.
	Latest(ctx context.Context, identifier string) (*Reading, error)

	// LatestPerDevice returns the newest reading of every device.
	LatestPerDevice(ctx context.Context) ([]Reading, error)

	// List pages through all readings, newest first, with the match total.
	List(ctx context.Context, opts ListOptions) ([]Reading, int, error)

	// Stats aggregates the readings of identifier in [from, to].
	Stats(ctx context.Context, identifier string, from, to time.Time) (*DeviceStats, error)

	// GlobalMetrics aggregates the newest reading of every device.
	GlobalMetrics(ctx context.Context) (*GlobalMetrics, error)

	// BulkRetag moves every reading tagged oldIdentifier to newIdentifier.
	BulkRetag(ctx context.Context, oldIdentifier, newIdentifier string) (int64, error)

	DeleteByIdentifier(ctx context.Context, identifier string) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db database.Querier
}

// NewSQLiteRepository creates a repository on db, which may be a *sql.Tx.
func NewSQLiteRepository(db database.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record validates and inserts rd. RecordedAt defaults to now.
func (r *SQLiteRepository) Record(ctx context.Context, rd *Reading) error {
	if err := rd.Validate(); err != nil {
		return err
	}
	rd.Identifier = strings.TrimSpace(rd.Identifier)
	if rd.RecordedAt.IsZero() {
		rd.RecordedAt = time.Now()
	}
	rd.RecordedAt = rd.RecordedAt.UTC().Truncate(time.Millisecond)

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (device_identifier, temperature, humidity, recorded_at) VALUES (?, ?, ?, ?)`,
		rd.Identifier, rd.Temperature, rd.Humidity, rd.RecordedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading insert id: %w", err)
	}
	rd.ID = id
	return nil
}

// History returns readings between from and to inclusive.
func (r *SQLiteRepository) History(ctx context.Context, identifier string, from, to time.Time) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_identifier, temperature, humidity, recorded_at FROM readings
		 WHERE device_identifier = ? AND recorded_at >= ? AND recorded_at <= ?
		 ORDER BY recorded_at, id`,
		identifier, from.UTC().Format(timeLayout), to.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("querying reading history: %w", err)
	}
	return collect(rows)
}

// Latest returns the newest reading of identifier or ErrNotFound.
func (r *SQLiteRepository) Latest(ctx context.Context, identifier string) (*Reading, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, device_identifier, temperature, humidity, recorded_at FROM readings
		 WHERE device_identifier = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		identifier,
	)
	rd, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest reading: %w", err)
	}
	return rd, nil
}

// LatestPerDevice returns one reading per device, ordered by identifier.
func (r *SQLiteRepository) LatestPerDevice(ctx context.Context) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.device_identifier, r.temperature, r.humidity, r.recorded_at FROM readings r
		 WHERE r.id = (
		     SELECT l.id FROM readings l WHERE l.device_identifier = r.device_identifier
		     ORDER BY l.recorded_at DESC, l.id DESC LIMIT 1
		 )
		 ORDER BY r.device_identifier`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest readings: %w", err)
	}
	return collect(rows)
}

// BulkRetag re-tags readings and returns how many moved.
func (r *SQLiteRepository) BulkRetag(ctx context.Context, oldIdentifier, newIdentifier string) (int64, error) {
	if oldIdentifier == newIdentifier {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE readings SET device_identifier = ? WHERE device_identifier = ?",
		newIdentifier, oldIdentifier,
	)
	if err != nil {
		return 0, fmt.Errorf("retagging readings: %w", err)
	}
	return res.RowsAffected()
}

// DeleteByIdentifier removes every reading of identifier.
func (r *SQLiteRepository) DeleteByIdentifier(ctx context.Context, identifier string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM readings WHERE device_identifier = ?", identifier)
	if err != nil {
		return 0, fmt.Errorf("deleting readings: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*Reading, error) {
	var rd Reading
	var recordedAt string
	if err := row.Scan(&rd.ID, &rd.Identifier, &rd.Temperature, &rd.Humidity, &recordedAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing reading timestamp %q: %w", recordedAt, err)
	}
	rd.RecordedAt = t
	return &rd, nil
}

func collect(rows *sql.Rows) ([]Reading, error) {
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, *rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}
