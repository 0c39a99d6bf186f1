package reading

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// Alert thresholds on a device's latest reading.
const (
	AlertTemperature = 35.0
	AlertHumidity    = 80.0
)

// List paging bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Summary aggregates one quantity. Values are rounded to two decimals.
type Summary struct {
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Range float64 `json:"range"`
}

func newSummary(mean, lo, hi float64) Summary {
	return Summary{
		Mean:  round2(mean),
		Min:   round2(lo),
		Max:   round2(hi),
		Range: round2(hi - lo),
	}
}

// DeviceStats summarises one device's readings over a window.
type DeviceStats struct {
	Identifier  string     `json:"device_identifier"`
	From        time.Time  `json:"from"`
	To          time.Time  `json:"to"`
	Count       int        `json:"count"`
	Temperature Summary    `json:"temperature"`
	Humidity    Summary    `json:"humidity"`
	LastReading *time.Time `json:"last_reading,omitempty"`
}

// GlobalMetrics summarises the latest reading of every device.
type GlobalMetrics struct {
	ActiveDevices   int     `json:"active_devices"`
	AlertingDevices int     `json:"alerting_devices"`
	Temperature     Summary `json:"temperature"`
	Humidity        Summary `json:"humidity"`
}

// ListOptions pages through all readings, newest first.
type ListOptions struct {
	Identifier string // optional filter
	Limit      int
	Offset     int
}

// Stats aggregates the readings of identifier in [from, to]. A device with
// no readings in the window yields zero counts, not an error.
func (r *SQLiteRepository) Stats(ctx context.Context, identifier string, from, to time.Time) (*DeviceStats, error) {
	var (
		count             int
		tMean, tMin, tMax float64
		hMean, hMin, hMax float64
		last              sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(temperature), 0.0), COALESCE(MIN(temperature), 0.0), COALESCE(MAX(temperature), 0.0),
		        COALESCE(AVG(humidity), 0.0), COALESCE(MIN(humidity), 0.0), COALESCE(MAX(humidity), 0.0),
		        MAX(recorded_at)
		 FROM readings
		 WHERE device_identifier = ? AND recorded_at >= ? AND recorded_at <= ?`,
		identifier, from.UTC().Format(timeLayout), to.UTC().Format(timeLayout),
	).Scan(&count, &tMean, &tMin, &tMax, &hMean, &hMin, &hMax, &last)
	if err != nil {
		return nil, fmt.Errorf("aggregating readings: %w", err)
	}

	stats := &DeviceStats{
		Identifier:  identifier,
		From:        from,
		To:          to,
		Count:       count,
		Temperature: newSummary(tMean, tMin, tMax),
		Humidity:    newSummary(hMean, hMin, hMax),
	}
	if last.Valid {
		t, parseErr := time.Parse(timeLayout, last.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing reading timestamp %q: %w", last.String, parseErr)
		}
		stats.LastReading = &t
	}
	return stats, nil
}

// GlobalMetrics aggregates the newest reading of each device. A device
// alerts when it is at or above AlertTemperature or AlertHumidity.
func (r *SQLiteRepository) GlobalMetrics(ctx context.Context) (*GlobalMetrics, error) {
	var (
		m                 GlobalMetrics
		tMean, tMin, tMax float64
		hMean, hMin, hMax float64
	)
	err := r.db.QueryRowContext(ctx,
		`WITH latest AS (
		     SELECT r.temperature, r.humidity FROM readings r
		     WHERE r.id = (
		         SELECT l.id FROM readings l WHERE l.device_identifier = r.device_identifier
		         ORDER BY l.recorded_at DESC, l.id DESC LIMIT 1
		     )
		 )
		 SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN temperature >= ? OR humidity >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(temperature), 0.0), COALESCE(MIN(temperature), 0.0), COALESCE(MAX(temperature), 0.0),
		        COALESCE(AVG(humidity), 0.0), COALESCE(MIN(humidity), 0.0), COALESCE(MAX(humidity), 0.0)
		 FROM latest`,
		AlertTemperature, AlertHumidity,
	).Scan(&m.ActiveDevices, &m.AlertingDevices, &tMean, &tMin, &tMax, &hMean, &hMin, &hMax)
	if err != nil {
		return nil, fmt.Errorf("aggregating latest readings: %w", err)
	}
	m.Temperature = newSummary(tMean, tMin, tMax)
	m.Humidity = newSummary(hMean, hMin, hMax)
	return &m, nil
}

// List returns one page of readings, newest first, and the total number of
// readings matching the filter.
func (r *SQLiteRepository) List(ctx context.Context, opts ListOptions) ([]Reading, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(opts.Offset, 0)

	where, args := "", []any{}
	if opts.Identifier != "" {
		where = " WHERE device_identifier = ?"
		args = append(args, opts.Identifier)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting readings: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_identifier, temperature, humidity, recorded_at FROM readings`+where+
			` ORDER BY recorded_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing readings: %w", err)
	}
	readings, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return readings, total, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
