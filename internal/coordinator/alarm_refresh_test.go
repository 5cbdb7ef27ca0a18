package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/changetrack"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/events"
	"github.com/phrazzld/tasksync/internal/ledger"
	"github.com/phrazzld/tasksync/internal/mocks"
	"github.com/phrazzld/tasksync/internal/provider"
	"github.com/phrazzld/tasksync/internal/reconcile"
	"github.com/phrazzld/tasksync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type singleAdapter struct {
	adapter provider.Adapter
}

func (s singleAdapter) AdapterFor(ctx context.Context, binding *domain.ListBinding) (provider.Adapter, error) {
	return s.adapter, nil
}

type recordingAlarms struct {
	mu          sync.Mutex
	rescheduled []uuid.UUID
	cleared     []uuid.UUID
}

func (a *recordingAlarms) Reschedule(ctx context.Context, task *domain.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rescheduled = append(a.rescheduled, task.ID)
	return nil
}

func (a *recordingAlarms) Clear(ctx context.Context, taskID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleared = append(a.cleared, taskID)
	return nil
}

func (a *recordingAlarms) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rescheduled = nil
	a.cleared = nil
}

// engine wires a real reconciler and alarm refresher behind a coordinator.
type engine struct {
	tasks   *mocks.MockTaskStore
	tracker *changetrack.Tracker
	remote  *mocks.MockAdapter
	alarms  *recordingAlarms
	coord   *Coordinator
	listID  uuid.UUID
}

const remoteList = "/calendars/me/tasks/"

func newEngine(t *testing.T, maxRetries int) *engine {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &engine{
		tasks:  mocks.NewMockTaskStore(),
		remote: mocks.NewMockAdapter(domain.ProviderCalDAV),
		alarms: &recordingAlarms{},
		listID: uuid.New(),
	}
	bindings := mocks.NewMockBindingStore()
	e.tracker = changetrack.NewTracker(e.tasks, log)
	led := ledger.New(mocks.NewMockTombstoneStore(), e.tasks, time.Hour, log)
	rec := reconcile.NewReconciler(e.tasks, bindings, mocks.NewMockSnapshotStore(), &mocks.MockTransactor{}, e.tracker, led, log)

	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(service.NewAlarmRefresher(e.tasks, e.alarms, log))

	e.coord = New(bindings, singleAdapter{adapter: e.remote}, rec, led, emitter,
		Config{MaxRetries: maxRetries, RetryBaseDelay: time.Millisecond}, log)
	t.Cleanup(e.coord.Stop)

	b, err := domain.NewListBinding(e.listID, domain.ProviderCalDAV, remoteList, "cred")
	require.NoError(t, err)
	require.NoError(t, bindings.Create(context.Background(), b))
	return e
}

func (e *engine) create(t *testing.T, title string) *domain.Task {
	t.Helper()
	task := &domain.Task{ID: uuid.New(), ListID: e.listID, Title: title}
	require.NoError(t, e.tracker.Create(context.Background(), task))
	return task
}

func (e *engine) remoteID(t *testing.T, id uuid.UUID) string {
	t.Helper()
	stored, ok := e.tasks.Get(id)
	require.True(t, ok)
	ref, ok := stored.RemoteFor(domain.ProviderCalDAV, remoteList)
	require.True(t, ok)
	return ref.RemoteID
}

// prepare syncs two tasks, then deletes one and moves the other remotely
// and leaves a dirty local task whose first push fails.
func (e *engine) prepare(t *testing.T) (gone, moved *domain.Task) {
	t.Helper()
	ctx := context.Background()
	gone = e.create(t, "gone")
	moved = e.create(t, "moved")
	_, err := e.coord.SyncNow(ctx, e.listID)
	require.NoError(t, err)

	e.remote.RemoteDelete(e.remoteID(t, gone.ID))
	e.remote.RemoteUpdate(e.remoteID(t, moved.ID), func(rt *provider.RemoteTask) {
		due := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)
		rt.Title = "moved remotely"
		rt.DueAt = &due
		rt.DueHasTime = true
		rt.ModifiedAt = time.Now().UTC().Add(time.Minute)
	})
	e.create(t, "written offline")

	e.remote.PushFn = func(ctx context.Context, b *domain.ListBinding, items []provider.PushItem) ([]provider.PushResult, error) {
		e.remote.PushFn = nil
		return nil, provider.NewError("caldav", "put", "", provider.ErrProviderUnavailable)
	}
	e.alarms.reset()
	return gone, moved
}

func TestRetriedPassRefreshesAlarmsOfEarlierAttempts(t *testing.T) {
	e := newEngine(t, 2)
	gone, moved := e.prepare(t)

	res, err := e.coord.SyncNow(context.Background(), e.listID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{gone.ID, moved.ID}, res.ChangedTasks)

	stored, _ := e.tasks.Get(gone.ID)
	assert.True(t, stored.Deleted)
	assert.Contains(t, e.alarms.cleared, gone.ID)
	assert.Contains(t, e.alarms.rescheduled, moved.ID)
	assert.NotContains(t, e.alarms.rescheduled, gone.ID)
}

func TestFailedPassRefreshesAlarmsOfAppliedChanges(t *testing.T) {
	e := newEngine(t, 0)
	gone, moved := e.prepare(t)

	_, err := e.coord.SyncNow(context.Background(), e.listID)
	require.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Contains(t, e.alarms.cleared, gone.ID)
	assert.Contains(t, e.alarms.rescheduled, moved.ID)

	// The next pass skips what was already applied and still succeeds.
	e.alarms.reset()
	res, err := e.coord.SyncNow(context.Background(), e.listID)
	require.NoError(t, err)
	assert.Empty(t, res.ChangedTasks)
}
