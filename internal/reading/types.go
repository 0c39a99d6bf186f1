package reading

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultHistoryWindow is the history range used when a query gives none.
const DefaultHistoryWindow = 24 * time.Hour

// Reading is one sample from a silo sensor.
type Reading struct {
	ID          int64     `json:"id"`
	Identifier  string    `json:"device_identifier"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Validate checks that r can be stored.
func (r *Reading) Validate() error {
	if strings.TrimSpace(r.Identifier) == "" {
		return fmt.Errorf("%w: device identifier is required", ErrInvalidReading)
	}
	if math.IsNaN(r.Temperature) || math.IsInf(r.Temperature, 0) {
		return fmt.Errorf("%w: temperature is not a number", ErrInvalidReading)
	}
	if math.IsNaN(r.Humidity) || math.IsInf(r.Humidity, 0) {
		return fmt.Errorf("%w: humidity is not a number", ErrInvalidReading)
	}
	return nil
}
