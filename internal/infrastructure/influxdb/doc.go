// Package influxdb mirrors sensor readings and gateway command outcomes to
// InfluxDB for long-range dashboards.
//
// SQLite remains the system of record. The mirror is optional
// (influxdb.enabled) and write failures never reach the caller; they are
// reported through SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil { ... }
//	defer client.Close()
//	client.WriteReading("Silo_Norte", 21.5, 63.0, time.Now())
package influxdb
