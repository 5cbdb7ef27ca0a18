package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
)

// TombstoneStore persists deletion tombstones keyed by (list, remote id).
type TombstoneStore interface {
	// Save inserts a tombstone. An existing tombstone for the same key is
	// kept; its confirmed bit is only ever raised, never lowered.
	Save(ctx context.Context, tombstone *domain.Tombstone) error

	// Find returns the tombstone for a remote id on a list.
	// Returns ErrTombstoneNotFound if none exists.
	Find(ctx context.Context, listID uuid.UUID, remoteID string) (*domain.Tombstone, error)

	// ListByList returns every tombstone of a list.
	ListByList(ctx context.Context, listID uuid.UUID) ([]*domain.Tombstone, error)

	// ListOrphaned returns every tombstone whose list was unlinked.
	ListOrphaned(ctx context.Context) ([]*domain.Tombstone, error)

	// Confirm raises the confirmed bit.
	// Returns ErrTombstoneNotFound if none exists.
	Confirm(ctx context.Context, listID uuid.UUID, remoteID string) error

	// MarkListRemoved stamps every tombstone of a list with the unlink time.
	MarkListRemoved(ctx context.Context, listID uuid.UUID, at time.Time) error

	// Delete removes a tombstone. Missing tombstones are not an error.
	Delete(ctx context.Context, listID uuid.UUID, remoteID string) error

	// WithTx returns a new TombstoneStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) TombstoneStore
}

// TriggerStore persists the current trigger generation of each task and the
// triggers scheduled for it.
type TriggerStore interface {
	// State returns the current generation and schedule fingerprint of a
	// task; zero values if the task never had triggers.
	State(ctx context.Context, taskID uuid.UUID) (generation int64, fingerprint string, err error)

	// Replace sets the generation and fingerprint and swaps in triggers.
	Replace(ctx context.Context, taskID uuid.UUID, generation int64, fingerprint string, triggers []domain.PendingTrigger) error

	// List returns the pending triggers of a task.
	List(ctx context.Context, taskID uuid.UUID) ([]domain.PendingTrigger, error)

	// Remove deletes one pending trigger.
	Remove(ctx context.Context, taskID uuid.UUID, kind domain.TriggerKind, generation int64) error

	// WithTx returns a new TriggerStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) TriggerStore
}
