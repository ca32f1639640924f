// Package logging provides the structured logging used across the gateway:
// a thin, subsystem-tagged wrapper around log/slog.
//
// # Log Levels
//   - Debug: detailed information for debugging and development
//   - Info: general informational messages about gateway operation
//   - Warn: warning messages that indicate potential issues
//   - Error: error messages for failures and exceptional conditions
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("registry", "backend %s registered with %d tools", name, n)
//	logging.Error("adapter", err, "backend %s handshake failed", name)
//
// Subsystem strings used across the gateway: "adapter", "registry",
// "gateway", "serve". InitForCLI must run once at startup;
// until then, log calls are silently dropped.
package logging
