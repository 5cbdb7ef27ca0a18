package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider error taxonomy. Every error an Adapter returns wraps one of these.
var (
	// ErrProviderUnavailable covers network failures, timeouts, rate
	// limiting and server errors. Retryable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAuthExpired means the credentials must be refreshed by the user.
	ErrAuthExpired = errors.New("provider authorization expired")

	// ErrMalformed means the provider rejected a payload.
	ErrMalformed = errors.New("provider rejected malformed payload")

	// ErrConflict means a version precondition failed.
	ErrConflict = errors.New("provider version conflict")

	// ErrNotFound means the remote item or list does not exist.
	ErrNotFound = errors.New("remote item not found")

	// ErrUnknownProvider is returned by the registry for unregistered kinds.
	ErrUnknownProvider = errors.New("unknown provider kind")
)

// Error adds provider context to a classified error.
type Error struct {
	Provider string
	Op       string
	RemoteID string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Provider, e.Op)
	if e.RemoteID != "" {
		fmt.Fprintf(&b, " %s", e.RemoteID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with provider context after classifying it.
func NewError(provider, op, remoteID string, err error) *Error {
	return &Error{Provider: provider, Op: op, RemoteID: remoteID, Err: Classify(err)}
}

// Classify maps err onto the provider taxonomy. Errors already in the
// taxonomy are returned unchanged. Deadlines and network errors become
// ErrProviderUnavailable, and so does anything unrecognized. Cancellation
// is passed through so callers can tell it apart from provider failure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTaxonomy(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}

// IsTaxonomy reports whether err already wraps a provider taxonomy error.
func IsTaxonomy(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound)
}

// Retryable reports whether a failed pass may be retried with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
