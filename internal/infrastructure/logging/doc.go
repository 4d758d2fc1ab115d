// Package logging provides structured logging for the Ariston bridge.
//
// It wraps log/slog with default fields (service, version), level filtering
// and redaction of attributes named password, token, secret or cookie.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("engine started", "plant_id", plantID)
package logging
