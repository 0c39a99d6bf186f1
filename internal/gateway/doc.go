// Package gateway speaks to the BLE gateway.
//
// It defines the command and response wire format, generates correlation
// ids, and provides two interchangeable transports:
//
//   - PushTransport publishes on an MQTT topic and receives all responses
//     through one wildcard subscription.
//   - PullTransport writes commands to a relay path store and polls the
//     matching response path.
//
// Both hand every response to a single Dispatcher, which forwards it to the
// correlation registry by id. Neither transport waits for responses itself;
// waiting, deadlines and exactly-once resolution belong to the registry.
package gateway
