package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
)

// BindingStore persists list bindings and their committed change markers.
type BindingStore interface {
	// Create saves a new binding.
	// Returns ErrBindingExists if the list is already bound.
	Create(ctx context.Context, binding *domain.ListBinding) error

	// Get retrieves the binding of a local list.
	// Returns ErrBindingNotFound if the list is not bound.
	Get(ctx context.Context, listID uuid.UUID) (*domain.ListBinding, error)

	// List returns all bindings.
	List(ctx context.Context) ([]*domain.ListBinding, error)

	// CommitMarker stores the change marker of a completed sync pass.
	CommitMarker(ctx context.Context, listID uuid.UUID, marker string, syncedAt time.Time) error

	// Delete removes the binding.
	// Returns ErrBindingNotFound if the list is not bound.
	Delete(ctx context.Context, listID uuid.UUID) error

	// WithTx returns a new BindingStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) BindingStore
}

// SnapshotStore keeps the last committed enumeration of a remote list
// (remote id to version marker). Providers without a partial-delta primitive
// diff against it to detect deletions.
type SnapshotStore interface {
	// Snapshot returns the committed snapshot; empty if none was committed.
	Snapshot(ctx context.Context, listID uuid.UUID) (map[string]string, error)

	// ReplaceSnapshot atomically swaps in a new snapshot.
	ReplaceSnapshot(ctx context.Context, listID uuid.UUID, snapshot map[string]string) error

	// DeleteSnapshot drops the snapshot of a list.
	DeleteSnapshot(ctx context.Context, listID uuid.UUID) error

	// WithTx returns a new SnapshotStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) SnapshotStore
}

// CredentialStore persists sealed credential blobs by reference.
type CredentialStore interface {
	// Get returns the sealed blob for ref.
	// Returns ErrCredentialNotFound if the reference is unknown.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Put inserts or replaces the sealed blob for ref.
	Put(ctx context.Context, ref string, sealed []byte) error

	// Delete removes ref. Unknown references are not an error.
	Delete(ctx context.Context, ref string) error
}
