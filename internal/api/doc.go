// Package api implements the HTTP REST API and WebSocket server for the
// silo watch backend.
//
// This package provides:
//   - REST endpoints for silo CRUD, sensor readings and user accounts
//   - Provisioning endpoints (ping, scan, provision, desintegrate, rename)
//     backed by the provisioning orchestrator
//   - Relay endpoints for gateways that poll instead of using MQTT
//   - A WebSocket hub broadcasting silo and reading events
//   - JWT authentication with role permissions
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Gateway operations
//
// State-changing gateway operations are serialised by the server: the
// gateway holds one BLE connection at a time. Errors map to HTTP as
// validation 400, not found 404, conflict 409, gateway timeout 408,
// gateway-reported failure 400 with remote_code, and transport 503.
//
// # Public routes
//
// Sensors post readings and look up their silo without credentials, and the
// polling gateway reads commands and writes responses the same way.
package api
