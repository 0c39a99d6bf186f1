// Package audit journals gateway command exchanges in the command_journal
// table, one row per command, for the provisioning history view.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database"
)

// timeLayout has fixed precision so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// ErrInvalidEntry is returned when an entry lacks its command id, action or result.
var ErrInvalidEntry = errors.New("audit: entry needs command id, action and result")

// Result is how a command exchange ended.
type Result string

// Exchange results.
const (
	ResultMatched        Result = "matched"
	ResultTimedOut       Result = "timed_out"
	ResultRemoteError    Result = "remote_error"
	ResultTransportError Result = "transport_error"
	ResultCancelled      Result = "cancelled"
)

// Entry is one journaled command.
type Entry struct {
	ID        string        `json:"id"`
	CommandID string        `json:"command_id"`
	Action    string        `json:"action"`
	SiloID    string        `json:"silo_id,omitempty"`
	Result    Result        `json:"result"`
	Status    string        `json:"status,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	CreatedAt time.Time     `json:"created_at"`
}

// MarshalJSON writes Duration in milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	return json.Marshal(struct {
		plain
		Duration int64 `json:"duration_ms"`
	}{plain(e), e.Duration.Milliseconds()})
}

// Filter controls which entries to return.
type Filter struct {
	Action string // optional
	SiloID string // optional
	Result Result // optional
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult contains a page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for journal operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the journal in SQLite.
type SQLiteRepository struct {
	db database.Querier
}

// NewSQLiteRepository creates a new journal repository.
func NewSQLiteRepository(db database.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.CommandID == "" || e.Action == "" || e.Result == "" {
		return ErrInvalidEntry
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_journal (id, command_id, action, silo_id, result, status, detail, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CommandID, e.Action,
		nullableString(e.SiloID), string(e.Result),
		nullableString(e.Status), nullableString(e.Detail),
		e.Duration.Milliseconds(),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings. Used for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.SiloID != "" {
		conditions = append(conditions, "silo_id = ?")
		args = append(args, filter.SiloID)
	}
	if filter.Result != "" {
		conditions = append(conditions, "result = ?")
		args = append(args, string(filter.Result))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_journal %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, command_id, action, COALESCE(silo_id, ''), result, COALESCE(status, ''), COALESCE(detail, ''), duration_ms, created_at
		 FROM command_journal %s ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var result, createdAt string
		var durationMS int64

		if err := rows.Scan(&e.ID, &e.CommandID, &e.Action, &e.SiloID, &result,
			&e.Status, &e.Detail, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.Result = Result(result)
		e.Duration = time.Duration(durationMS) * time.Millisecond

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
