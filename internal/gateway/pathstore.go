package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database"
)

// SQLitePathStore implements PathStore on the gateway_paths table.
type SQLitePathStore struct {
	db database.Querier
}

// NewSQLitePathStore creates a path store.
func NewSQLitePathStore(db database.Querier) *SQLitePathStore {
	return &SQLitePathStore{db: db}
}

// Write stores payload at p, replacing any previous value.
func (s *SQLitePathStore) Write(ctx context.Context, p string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gateway_paths (path, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		p, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing path %s: %w", p, err)
	}
	return nil
}

// Read returns the value at p or ErrPathNotFound.
func (s *SQLitePathStore) Read(ctx context.Context, p string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM gateway_paths WHERE path = ?", p).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPathNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading path %s: %w", p, err)
	}
	return []byte(payload), nil
}

// Remove deletes p. Removing an empty path is not an error.
func (s *SQLitePathStore) Remove(ctx context.Context, p string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM gateway_paths WHERE path = ?", p); err != nil {
		return fmt.Errorf("removing path %s: %w", p, err)
	}
	return nil
}

// CompareAndRemove deletes p only while it holds payload.
func (s *SQLitePathStore) CompareAndRemove(ctx context.Context, p string, payload []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM gateway_paths WHERE path = ? AND payload = ?", p, string(payload))
	if err != nil {
		return false, fmt.Errorf("removing path %s: %w", p, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("removing path %s: %w", p, err)
	}
	return n > 0, nil
}

// List returns every path under prefix, sorted by path. An empty prefix lists all.
func (s *SQLitePathStore) List(ctx context.Context, prefix string) ([]PathEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, payload, updated_at FROM gateway_paths
		 WHERE substr(path, 1, length(?)) = ? ORDER BY path`,
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("listing paths: %w", err)
	}
	defer rows.Close()

	var entries []PathEntry
	for rows.Next() {
		var e PathEntry
		var payload, updatedAt string
		if err := rows.Scan(&e.Path, &payload, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning path: %w", err)
		}
		e.Payload = []byte(payload)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating paths: %w", err)
	}
	return entries, nil
}

// Clear removes every path under prefix and returns how many were removed.
func (s *SQLitePathStore) Clear(ctx context.Context, prefix string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM gateway_paths WHERE substr(path, 1, length(?)) = ?", prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("clearing paths: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clearing paths: %w", err)
	}
	return n, nil
}
