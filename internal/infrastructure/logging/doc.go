// Package logging provides structured logging for Gray Logic Connect.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire daemon.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("link established", "slot", "public")
//	logger.Error("poll failed", "error", err)
//
// # Security
//
// Never log secrets, tokens, passwords, or API keys. The controller
// link carries profile credentials — log the username at most, never
// the password.
package logging
