// Package reading stores the temperature and humidity history reported by
// silo sensors.
//
// Readings are tagged with the device identifier the sensor reports, not the
// silo id, so renaming a silo re-tags its history with BulkRetag.
package reading
