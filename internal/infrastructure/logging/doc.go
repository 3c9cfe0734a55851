// Package logging provides structured logging for stolenwatch.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same shape: JSON in production, text for local runs, and the
// default fields service and version on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("poll cycle complete", "devices", 12)
//	logger.Error("alert delivery failed", "device_id", id, "error", err)
//
// # Security
//
// Never log bearer tokens, client secrets or SMTP passwords.
package logging
