// Package logging provides structured logging for Pourwell Core.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text on a bench, with service and version attached to
// every entry.
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Dispenser debug mode (dispenser.debug or POURWELL_DEBUG) forces the
// debug level so dry-run pours are visible.
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("pump started", "channel", 3)
//	pumpLog := logger.With("component", "pump")
package logging
