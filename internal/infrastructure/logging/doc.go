// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components receive a *Logger and derive a named child from it. A nil
// logger is always acceptable; OrNop turns it into a discarding logger.
//
// Secrets (mainframe password, bearer token) are never passed as fields.
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: "info", File: paths.Log()})
//	cache := resource.New(backend, session, resource.Options{Logger: logger})
//	logger.Warn("save failed", zap.String("member", key), zap.Error(err))
package logging
