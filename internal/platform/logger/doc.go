// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels and optional rotating file output, and carries
// request- or pass-scoped loggers through a context.Context.
package logger
