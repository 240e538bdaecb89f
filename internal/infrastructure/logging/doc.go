// Package logging provides structured logging for Lockstead Core.
//
// It wraps the standard library's log/slog with configuration-driven level,
// format, and output selection, plus default service/version attributes on
// every record. Components that want logging accept a small Logger interface
// of their own and receive this package's *Logger at wiring time, which keeps
// them testable with no-op implementations.
package logging
