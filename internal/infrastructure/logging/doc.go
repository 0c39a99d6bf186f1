// Package logging provides structured logging for the silo watch backend.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level and format settings:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	gw := logger.Component("gateway")
//	gw.Info("command published", "id", cmd.ID)
//
// Never log secrets, tokens or passwords. MQTT and InfluxDB credentials
// are only ever logged by presence ("auth", true), never by value.
package logging
