package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReading = "silo_reading"
	MeasurementCommand = "gateway_command"
)

// WriteReading mirrors one sensor reading, tagged by device identifier.
func (c *Client) WriteReading(identifier string, temperature, humidity float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementReading,
		map[string]string{"device": identifier},
		map[string]any{
			"temperature": temperature,
			"humidity":    humidity,
		},
		at,
	))
}

// WriteCommand records the outcome of a gateway command exchange.
func (c *Client) WriteCommand(action, result string, d time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementCommand,
		map[string]string{"action": action, "result": result},
		map[string]any{"duration_ms": d.Milliseconds()},
		at,
	))
}
