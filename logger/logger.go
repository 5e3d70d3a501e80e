package logger

import "context"

// Fields holds structured log fields.
type Fields map[string]interface{}

// Logger defines the interface for structured logging with context support.
type Logger interface {
	// Debug logs a debug-level message with optional fields
	Debug(ctx context.Context, msg string, fields Fields)

	// Info logs an info-level message with optional fields
	Info(ctx context.Context, msg string, fields Fields)

	// Warn logs a warning-level message with optional fields
	Warn(ctx context.Context, msg string, fields Fields)

	// Error logs an error-level message with optional fields
	Error(ctx context.Context, msg string, fields Fields)

	// WithField returns a new logger with the given field added to all subsequent log entries
	WithField(key string, value interface{}) Logger

	// WithFields returns a new logger with the given fields added to all subsequent log entries
	WithFields(fields Fields) Logger
}
