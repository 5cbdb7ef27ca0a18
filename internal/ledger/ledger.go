package ledger

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

// DefaultRetention bounds how long unconfirmed tombstones of an unlinked
// list are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Ledger records and reaps deletion tombstones.
type Ledger struct {
	tombstones store.TombstoneStore
	tasks      store.TaskStore
	retention  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Ledger. A non-positive retention selects DefaultRetention.
func New(tombstones store.TombstoneStore, tasks store.TaskStore, retention time.Duration, logger *slog.Logger) *Ledger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		tombstones: tombstones,
		tasks:      tasks,
		retention:  retention,
		logger:     logger.With(slog.String("component", "deletion_ledger")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a Ledger whose stores use tx.
func (l *Ledger) WithTx(tx *sql.Tx) *Ledger {
	c := *l
	c.tombstones = l.tombstones.WithTx(tx)
	c.tasks = l.tasks.WithTx(tx)
	return &c
}

// RecordLocalDeletion tombstones a locally deleted task on binding's remote
// list. The tombstone stays unconfirmed until the remote delete succeeds.
// Tasks never pushed to the list need no tombstone; false is returned.
func (l *Ledger) RecordLocalDeletion(ctx context.Context, task *domain.Task, binding *domain.ListBinding) (bool, error) {
	ref, ok := task.RemoteFor(binding.ProviderKind, binding.RemoteListID)
	if !ok {
		return false, nil
	}
	err := l.tombstones.Save(ctx, &domain.Tombstone{
		TaskID:            task.ID,
		ListID:            binding.ListID,
		ProviderKind:      binding.ProviderKind,
		RemoteID:          ref.RemoteID,
		DeletedAtRevision: task.Revision,
		Origin:            domain.DeletionLocal,
		CreatedAt:         l.now(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to record local deletion of task %s: %w", task.ID, err)
	}
	return true, nil
}

// RecordRemoteDeletion tombstones a task whose remote item disappeared. The
// remote side is already gone, so the tombstone is confirmed immediately.
func (l *Ledger) RecordRemoteDeletion(ctx context.Context, task *domain.Task, binding *domain.ListBinding, remoteID string) error {
	err := l.tombstones.Save(ctx, &domain.Tombstone{
		TaskID:            task.ID,
		ListID:            binding.ListID,
		ProviderKind:      binding.ProviderKind,
		RemoteID:          remoteID,
		DeletedAtRevision: task.Revision,
		Origin:            domain.DeletionRemote,
		Confirmed:         true,
		CreatedAt:         l.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to record remote deletion of %s: %w", remoteID, err)
	}
	return nil
}

// Lookup returns the tombstone for remoteID on a list, or nil if there is none.
func (l *Ledger) Lookup(ctx context.Context, listID uuid.UUID, remoteID string) (*domain.Tombstone, error) {
	t, err := l.tombstones.Find(ctx, listID, remoteID)
	if errors.Is(err, store.ErrTombstoneNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up tombstone for %s: %w", remoteID, err)
	}
	return t, nil
}

// IsTombstoned reports whether remoteID was deleted on the list.
func (l *Ledger) IsTombstoned(ctx context.Context, remoteID string, listID uuid.UUID) (bool, error) {
	t, err := l.Lookup(ctx, listID, remoteID)
	return t != nil, err
}

// Confirm marks the remote side of a deletion as converged.
func (l *Ledger) Confirm(ctx context.Context, listID uuid.UUID, remoteID string) error {
	if err := l.tombstones.Confirm(ctx, listID, remoteID); err != nil {
		return fmt.Errorf("failed to confirm tombstone for %s: %w", remoteID, err)
	}
	return nil
}

// PendingLocal returns local deletions whose remote delete has not
// succeeded yet.
func (l *Ledger) PendingLocal(ctx context.Context, listID uuid.UUID) ([]*domain.Tombstone, error) {
	all, err := l.tombstones.ListByList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones of list %s: %w", listID, err)
	}
	var pending []*domain.Tombstone
	for _, t := range all {
		if t.Origin == domain.DeletionLocal && !t.Confirmed {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

// MarkListRemoved starts the retention window for every tombstone of an
// unlinked list.
func (l *Ledger) MarkListRemoved(ctx context.Context, listID uuid.UUID) error {
	if err := l.tombstones.MarkListRemoved(ctx, listID, l.now()); err != nil {
		return fmt.Errorf("failed to mark tombstones of list %s removed: %w", listID, err)
	}
	return nil
}

// Reap deletes the reapable tombstones of a list and returns how many were
// removed. Soft-deleted tasks stay behind with their remote references, so
// a stale remote create for the same id is still recognised.
func (l *Ledger) Reap(ctx context.Context, listID uuid.UUID) (int, error) {
	all, err := l.tombstones.ListByList(ctx, listID)
	if err != nil {
		return 0, fmt.Errorf("failed to list tombstones of list %s: %w", listID, err)
	}
	return l.reap(ctx, all)
}

// ReapOrphaned reaps tombstones of unlinked lists whose retention window
// has passed, purging their soft-deleted tasks.
func (l *Ledger) ReapOrphaned(ctx context.Context) (int, error) {
	orphaned, err := l.tombstones.ListOrphaned(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned tombstones: %w", err)
	}
	return l.reap(ctx, orphaned)
}

func (l *Ledger) reap(ctx context.Context, tombstones []*domain.Tombstone) (int, error) {
	log := logger.FromContextOrDefault(ctx, l.logger)
	now := l.now()
	reaped := 0
	for _, t := range tombstones {
		if !t.Reapable(now, l.retention) {
			continue
		}
		if t.ListRemovedAt != nil {
			if err := l.tasks.Purge(ctx, t.TaskID); err != nil && !errors.Is(err, store.ErrTaskNotFound) {
				return reaped, fmt.Errorf("failed to purge task %s: %w", t.TaskID, err)
			}
		}
		if err := l.tombstones.Delete(ctx, t.ListID, t.RemoteID); err != nil {
			return reaped, fmt.Errorf("failed to delete tombstone for %s: %w", t.RemoteID, err)
		}
		reaped++
	}
	if reaped > 0 {
		log.Debug("reaped tombstones", slog.Int("count", reaped))
	}
	return reaped, nil
}
