package silo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database"
)

// Repository defines silo persistence.
type Repository interface {
	// Create inserts a new, not integrated silo. The ID is generated if empty.
	Create(ctx context.Context, s *Silo) error

	// GetByID returns ErrNotFound if the silo does not exist.
	GetByID(ctx context.Context, id string) (*Silo, error)

	// GetByIdentifier finds the integrated silo tagged with identifier.
	GetByIdentifier(ctx context.Context, identifier string) (*Silo, error)

	List(ctx context.Context, filter Filter) ([]Silo, error)
	Counts(ctx context.Context) (Counts, error)

	// Update writes every field of s, including the integration fields.
	Update(ctx context.Context, s *Silo) error

	Delete(ctx context.Context, id string) error

	// Exists reports whether value is the MAC address or identifier of any
	// silo other than excludingID.
	Exists(ctx context.Context, value, excludingID string) (bool, error)
}

const selectColumns = `SELECT id, name, kind, mac_address, device_identifier, integrated, created_at, updated_at FROM silos`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db database.Querier
}

// NewSQLiteRepository creates a repository on db, which may be a *sql.Tx.
func NewSQLiteRepository(db database.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new silo.
func (r *SQLiteRepository) Create(ctx context.Context, s *Silo) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Integrated || s.MACAddress != "" || s.Identifier != "" {
		return fmt.Errorf("%w: new silos start not integrated", ErrInvalidSilo)
	}
	if err := Validate(s); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO silos (id, name, kind, mac_address, device_identifier, integrated, created_at, updated_at)
		 VALUES (?, ?, ?, NULL, NULL, 0, ?, ?)`,
		s.ID, strings.TrimSpace(s.Name), string(s.Kind),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: id %s", ErrInvalidSilo, s.ID)
		}
		return fmt.Errorf("inserting silo: %w", err)
	}
	s.Name = strings.TrimSpace(s.Name)
	return nil
}

// GetByID retrieves a silo by id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Silo, error) {
	return r.getOne(ctx, selectColumns+" WHERE id = ?", id)
}

// GetByIdentifier retrieves the silo whose device identifier is identifier.
func (r *SQLiteRepository) GetByIdentifier(ctx context.Context, identifier string) (*Silo, error) {
	return r.getOne(ctx, selectColumns+" WHERE device_identifier = ?", identifier)
}

func (r *SQLiteRepository) getOne(ctx context.Context, query string, arg string) (*Silo, error) {
	s, err := scanSilo(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying silo: %w", err)
	}
	return s, nil
}

// List returns silos matching filter, ordered by name.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Silo, error) {
	var conditions []string
	var args []any

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Integrated != nil {
		conditions = append(conditions, "integrated = ?")
		args = append(args, boolToInt(*filter.Integrated))
	}

	query := selectColumns
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name COLLATE NOCASE, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing silos: %w", err)
	}
	defer rows.Close()

	silos := []Silo{}
	for rows.Next() {
		s, err := scanSilo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning silo: %w", err)
		}
		silos = append(silos, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating silos: %w", err)
	}
	return silos, nil
}

// Counts returns the total and integrated counts.
func (r *SQLiteRepository) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(integrated), 0) FROM silos",
	).Scan(&c.Total, &c.Integrated)
	if err != nil {
		return Counts{}, fmt.Errorf("counting silos: %w", err)
	}
	c.NotIntegrated = c.Total - c.Integrated
	return c, nil
}

// Update writes s. The integration invariant is checked here and again by
// the table's CHECK constraint.
func (r *SQLiteRepository) Update(ctx context.Context, s *Silo) error {
	if err := Validate(s); err != nil {
		return err
	}

	s.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	res, err := r.db.ExecContext(ctx,
		`UPDATE silos SET name = ?, kind = ?, mac_address = ?, device_identifier = ?, integrated = ?, updated_at = ?
		 WHERE id = ?`,
		strings.TrimSpace(s.Name), string(s.Kind),
		nullableString(s.MACAddress), nullableString(s.Identifier),
		boolToInt(s.Integrated), s.UpdatedAt.Format(time.RFC3339),
		s.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrIdentityInUse
		}
		return fmt.Errorf("updating silo: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a silo.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM silos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting silo: %w", err)
	}
	return requireAffected(res)
}

// Exists reports whether value is taken by a silo other than excludingID.
func (r *SQLiteRepository) Exists(ctx context.Context, value, excludingID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM silos WHERE (mac_address = ? OR device_identifier = ?) AND id != ?`,
		value, value, excludingID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking silo identity: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSilo(row rowScanner) (*Silo, error) {
	var s Silo
	var kind string
	var mac, identifier sql.NullString
	var integrated int
	var createdAt, updatedAt string

	if err := row.Scan(&s.ID, &s.Name, &kind, &mac, &identifier, &integrated, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	s.Kind = Kind(kind)
	s.MACAddress = mac.String
	s.Identifier = identifier.String
	s.Integrated = integrated == 1
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &s, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
