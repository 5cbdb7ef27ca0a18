// Package shared holds request-scoped context keys and the JSON request and
// response helpers used by the api handlers and middleware.
package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// SubjectContextKey holds the client name from a validated service token.
	SubjectContextKey ContextKey = "subject"

	// TraceIDKey holds the per-request trace ID.
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of random bytes in a trace ID (32 hex characters).
	TraceIDLength = 16
)

// SetTraceID returns a copy of ctx carrying a fresh trace ID.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, newTraceID())
}

// GetTraceID returns the trace ID of ctx, or "" if none was set.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// WithSubject returns a copy of ctx carrying the authenticated client name.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectContextKey, subject)
}

// Subject returns the authenticated client name, or "" for anonymous requests.
func Subject(ctx context.Context) string {
	subject, _ := ctx.Value(SubjectContextKey).(string)
	return subject
}

func newTraceID() string {
	b := make([]byte, TraceIDLength)
	// crypto/rand.Read never fails as of Go 1.24.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
