package changetrack

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

// Tracker is the single writer of a task's dirty flag and revision.
type Tracker struct {
	tasks  store.TaskStore
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker over the given task store.
func NewTracker(tasks store.TaskStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		tasks:  tasks,
		locks:  newKeyedMutex(),
		logger: logger.With(slog.String("component", "change_tracker")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a Tracker writing through tx. Task locks are shared with t.
func (t *Tracker) WithTx(tx *sql.Tx) *Tracker {
	c := *t
	c.tasks = t.tasks.WithTx(tx)
	return &c
}

// Create stores a new local task as dirty at revision 1.
func (t *Tracker) Create(ctx context.Context, task *domain.Task) error {
	now := t.now()
	task.Dirty = true
	task.Revision = 1
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.ModifiedAt = now
	if err := task.Validate(); err != nil {
		return err
	}
	return t.tasks.Create(ctx, task)
}

// MarkDirty increments the task's revision and sets its dirty flag.
// Returns the new revision.
func (t *Tracker) MarkDirty(ctx context.Context, taskID uuid.UUID) (int64, error) {
	unlock := t.locks.lock(taskID)
	defer unlock()

	rev, err := t.tasks.BumpRevision(ctx, taskID, t.now())
	if err != nil {
		return 0, fmt.Errorf("failed to mark task %s dirty: %w", taskID, err)
	}
	return rev, nil
}

// Mutate applies fn to the current state of a task and stores the result as
// a new dirty revision, all under the task's lock. fn may return an error to
// abandon the edit. Soft-deleted tasks cannot be edited.
func (t *Tracker) Mutate(ctx context.Context, taskID uuid.UUID, fn func(*domain.Task) error) (*domain.Task, error) {
	unlock := t.locks.lock(taskID)
	defer unlock()

	task, err := t.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Deleted {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskDeleted, taskID)
	}

	expected := task.Revision
	if err := fn(task); err != nil {
		return nil, err
	}
	task.Revision = expected + 1
	task.Dirty = true
	task.ModifiedAt = t.now()
	if err := task.Validate(); err != nil {
		return nil, err
	}

	if err := t.tasks.Update(ctx, task, expected); err != nil {
		return nil, fmt.Errorf("failed to store edit of task %s: %w", taskID, err)
	}
	return task, nil
}

// CollectDirty returns snapshots of every live dirty task of a list, without
// clearing anything. Tasks rejected by a provider at their current revision
// are left out until they are edited again.
func (t *Tracker) CollectDirty(ctx context.Context, listID uuid.UUID) ([]domain.Task, error) {
	tasks, err := t.tasks.ListDirty(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect dirty tasks of list %s: %w", listID, err)
	}
	snapshots := make([]domain.Task, 0, len(tasks))
	for _, task := range tasks {
		snapshots = append(snapshots, task.Clone())
	}
	return snapshots, nil
}

// ClearDirty clears the dirty flag only if the task is still at
// uptoRevision. A newer edit made in the meantime keeps the flag set and the
// call reports false; that is not an error.
func (t *Tracker) ClearDirty(ctx context.Context, taskID uuid.UUID, uptoRevision int64) (bool, error) {
	unlock := t.locks.lock(taskID)
	defer unlock()

	cleared, err := t.tasks.ClearDirty(ctx, taskID, uptoRevision)
	if err != nil {
		return false, fmt.Errorf("failed to clear dirty flag of task %s: %w", taskID, err)
	}
	if !cleared {
		logger.FromContextOrDefault(ctx, t.logger).Debug("dirty flag kept, task edited during push",
			slog.String("task_id", taskID.String()),
			slog.Int64("pushed_revision", uptoRevision))
	}
	return cleared, nil
}

// ApplyRemote applies fn to the stored task only if it is still at the
// revision of snapshot. The result is stored as a new clean revision.
// Reports false without error if the task was edited concurrently; the
// local edit is then left for the next pass.
func (t *Tracker) ApplyRemote(ctx context.Context, snapshot *domain.Task, fn func(*domain.Task)) (*domain.Task, bool, error) {
	unlock := t.locks.lock(snapshot.ID)
	defer unlock()

	task := snapshot.Clone()
	fn(&task)
	task.Revision = snapshot.Revision + 1
	task.Dirty = false

	err := t.tasks.Update(ctx, &task, snapshot.Revision)
	if errors.Is(err, store.ErrRevisionConflict) {
		logger.FromContextOrDefault(ctx, t.logger).Debug("remote change skipped, task edited concurrently",
			slog.String("task_id", snapshot.ID.String()),
			slog.Int64("snapshot_revision", snapshot.Revision))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to apply remote change to task %s: %w", snapshot.ID, err)
	}
	return &task, true, nil
}

// MarkRejected records that the task's current revision was rejected by a
// provider, so it is not pushed again until edited.
func (t *Tracker) MarkRejected(ctx context.Context, taskID uuid.UUID, revision int64) error {
	unlock := t.locks.lock(taskID)
	defer unlock()

	if err := t.tasks.MarkRejected(ctx, taskID, revision); err != nil {
		return fmt.Errorf("failed to mark task %s rejected: %w", taskID, err)
	}
	return nil
}
