// Package silo stores silos and the identity of the sensor bound to each.
//
// A silo is either not integrated (no sensor) or integrated, in which case
// it carries the sensor's normalised MAC address and the device identifier
// its readings are tagged with. The repository enforces that both are set
// together; the provisioning package is the only writer of those fields.
package silo
