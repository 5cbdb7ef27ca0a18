package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ledger     *Ledger
	tombstones *mocks.MockTombstoneStore
	tasks      *mocks.MockTaskStore
	binding    *domain.ListBinding
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tombstones: mocks.NewMockTombstoneStore(),
		tasks:      mocks.NewMockTaskStore(),
		clock:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.ledger = New(f.tombstones, f.tasks, 24*time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.ledger.now = func() time.Time { return f.clock }

	b, err := domain.NewListBinding(uuid.New(), domain.ProviderCalDAV, "/cal/tasks/", "cred-1")
	require.NoError(t, err)
	f.binding = b
	return f
}

func (f *fixture) deletedTask(t *testing.T, remoteID string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(f.binding.ListID, "task "+remoteID)
	require.NoError(t, err)
	task.SetRemote(f.binding.Remote(remoteID, "etag-1"))
	task.Deleted = true
	task.Revision = 4
	f.tasks.Put(task)
	return task
}

func TestLedger_LocalDeletionLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := f.deletedTask(t, "R1")

	recorded, err := f.ledger.RecordLocalDeletion(ctx, task, f.binding)
	require.NoError(t, err)
	assert.True(t, recorded)

	tombstoned, err := f.ledger.IsTombstoned(ctx, "R1", f.binding.ListID)
	require.NoError(t, err)
	assert.True(t, tombstoned)

	pending, err := f.ledger.PendingLocal(ctx, f.binding.ListID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(4), pending[0].DeletedAtRevision)

	n, err := f.ledger.Reap(ctx, f.binding.ListID)
	require.NoError(t, err)
	assert.Zero(t, n, "unconfirmed tombstones stay")

	require.NoError(t, f.ledger.Confirm(ctx, f.binding.ListID, "R1"))
	n, err = f.ledger.Reap(ctx, f.binding.ListID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tombstoned, err = f.ledger.IsTombstoned(ctx, "R1", f.binding.ListID)
	require.NoError(t, err)
	assert.False(t, tombstoned)

	stored, ok := f.tasks.Get(task.ID)
	require.True(t, ok, "soft-deleted task survives reaping on a live list")
	_, hasRef := stored.RemoteFor(f.binding.ProviderKind, f.binding.RemoteListID)
	assert.True(t, hasRef)
}

func TestLedger_LocalDeletionWithoutRemote(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	task, err := domain.NewTask(f.binding.ListID, "never pushed")
	require.NoError(t, err)

	recorded, err := f.ledger.RecordLocalDeletion(context.Background(), task, f.binding)
	require.NoError(t, err)
	assert.False(t, recorded)
}

func TestLedger_RemoteDeletionIsConfirmed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := f.deletedTask(t, "R2")

	require.NoError(t, f.ledger.RecordRemoteDeletion(ctx, task, f.binding, "R2"))

	ts, err := f.ledger.Lookup(ctx, f.binding.ListID, "R2")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, ts.Confirmed)
	assert.Equal(t, domain.DeletionRemote, ts.Origin)

	pending, err := f.ledger.PendingLocal(ctx, f.binding.ListID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLedger_RecordingTwiceNeverUnconfirms(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := f.deletedTask(t, "R3")

	require.NoError(t, f.ledger.RecordRemoteDeletion(ctx, task, f.binding, "R3"))
	_, err := f.ledger.RecordLocalDeletion(ctx, task, f.binding)
	require.NoError(t, err)

	ts, err := f.ledger.Lookup(ctx, f.binding.ListID, "R3")
	require.NoError(t, err)
	assert.True(t, ts.Confirmed)
}

func TestLedger_OrphanedTombstonesWaitForRetention(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := f.deletedTask(t, "R4")

	_, err := f.ledger.RecordLocalDeletion(ctx, task, f.binding)
	require.NoError(t, err)
	require.NoError(t, f.ledger.MarkListRemoved(ctx, f.binding.ListID))

	n, err := f.ledger.ReapOrphaned(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock = f.clock.Add(25 * time.Hour)
	n, err = f.ledger.ReapOrphaned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := f.tasks.Get(task.ID)
	assert.False(t, ok, "soft-deleted task of a removed list is purged")
}

func TestLedger_LookupMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ts, err := f.ledger.Lookup(context.Background(), f.binding.ListID, "nope")
	require.NoError(t, err)
	assert.Nil(t, ts)
}
