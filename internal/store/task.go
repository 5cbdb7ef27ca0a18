package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
)

// TaskStore defines the interface for task persistence. Every task carries
// a revision number; writes that race a concurrent edit are rejected with
// ErrRevisionConflict instead of silently overwriting it.
type TaskStore interface {
	// Create saves a new task together with its remote references.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task, including soft-deleted ones.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// FindByRemoteID retrieves the task bound to a remote id on a remote
	// list, including soft-deleted tasks.
	// Returns ErrTaskNotFound if no task carries that remote id.
	FindByRemoteID(ctx context.Context, kind domain.ProviderKind, remoteListID, remoteID string) (*domain.Task, error)

	// ListByList returns the live tasks of a list in the requested order.
	ListByList(ctx context.Context, listID uuid.UUID, sort domain.SortMode, includeCompleted bool) ([]*domain.Task, error)

	// ListDirty returns live dirty tasks of a list, skipping tasks whose
	// current revision was already rejected by the provider.
	ListDirty(ctx context.Context, listID uuid.UUID) ([]*domain.Task, error)

	// CountOpen returns the number of live, incomplete tasks of a list.
	CountOpen(ctx context.Context, listID uuid.UUID) (int, error)

	// Update writes every mutable field of task if the stored revision still
	// equals expectedRevision. Remote references are not touched.
	// Returns ErrRevisionConflict on a revision mismatch and ErrTaskNotFound
	// if the task does not exist.
	Update(ctx context.Context, task *domain.Task, expectedRevision int64) error

	// BumpRevision increments the revision, sets dirty and stamps the
	// modification time. Returns the new revision.
	BumpRevision(ctx context.Context, id uuid.UUID, modifiedAt time.Time) (int64, error)

	// ClearDirty clears the dirty flag only if the stored revision still
	// equals uptoRevision. Reports whether the flag was cleared.
	ClearDirty(ctx context.Context, id uuid.UUID, uptoRevision int64) (bool, error)

	// MarkRejected records that revision was rejected by a provider.
	MarkRejected(ctx context.Context, id uuid.UUID, revision int64) error

	// SetRemote inserts or replaces the task's reference on ref's remote list.
	// Returns ErrRemoteIDTaken if another task owns the remote id.
	SetRemote(ctx context.Context, taskID uuid.UUID, ref domain.RemoteRef) error

	// ClearRemotes drops the references of a list's tasks to a remote list,
	// leaving the tasks as purely local. Returns the number removed.
	ClearRemotes(ctx context.Context, listID uuid.UUID, kind domain.ProviderKind, remoteListID string) (int64, error)

	// Purge hard-deletes a soft-deleted task and its references.
	Purge(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) TaskStore
}
