package service_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/changetrack"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/ledger"
	"github.com/phrazzld/tasksync/internal/platform/postgres"
	"github.com/phrazzld/tasksync/internal/platform/sqlite"
	"github.com/phrazzld/tasksync/internal/service"
	"github.com/phrazzld/tasksync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

// flakyTombstones fails the next Save calls while failures is positive.
type flakyTombstones struct {
	store.TombstoneStore
	failures *atomic.Int32
}

func (f flakyTombstones) Save(ctx context.Context, t *domain.Tombstone) error {
	if f.failures.Add(-1) >= 0 {
		return errDiskFull
	}
	return f.TombstoneStore.Save(ctx, t)
}

func (f flakyTombstones) WithTx(tx *sql.Tx) store.TombstoneStore {
	return flakyTombstones{TombstoneStore: f.TombstoneStore.WithTx(tx), failures: f.failures}
}

func TestTaskService_DeleteIsAtomic(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, postgres.Migrate(ctx, db, sqlite.Dialect, sqlite.Migrations(), "up", nil))

	tasks := postgres.NewPostgresTaskStore(db, testLogger())
	bindings := postgres.NewPostgresBindingStore(db, testLogger())
	failures := &atomic.Int32{}
	tombstones := flakyTombstones{
		TombstoneStore: postgres.NewPostgresTombstoneStore(db, testLogger()),
		failures:       failures,
	}
	led := ledger.New(tombstones, tasks, 24*time.Hour, testLogger())
	alarms := &fakeAlarms{}

	svc, err := service.NewTaskService(
		tasks,
		bindings,
		changetrack.NewTracker(tasks, testLogger()),
		led,
		store.DBTransactor{DB: db},
		nil,
		alarms,
		nil,
		testLogger(),
	)
	require.NoError(t, err)

	listID := uuid.New()
	binding, err := domain.NewListBinding(listID, domain.ProviderCalDAV, "/cal/tasks/", "creds-1")
	require.NoError(t, err)
	require.NoError(t, bindings.Create(ctx, binding))

	task, err := svc.Create(ctx, listID, "Synced", service.TaskPatch{})
	require.NoError(t, err)
	require.NoError(t, tasks.SetRemote(ctx, task.ID, binding.Remote("r-1", "1")))

	failures.Store(1)
	err = svc.Delete(ctx, task.ID)
	require.ErrorIs(t, err, errDiskFull)

	stored, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, stored.Deleted, "failed delete must leave the task live")
	assert.Equal(t, task.Revision, stored.Revision)
	assert.NotContains(t, alarms.cleared, task.ID)

	require.NoError(t, svc.Delete(ctx, task.ID))

	stored, err = tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
	pending, err := led.PendingLocal(ctx, listID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r-1", pending[0].RemoteID)
	assert.Contains(t, alarms.cleared, task.ID)
}
