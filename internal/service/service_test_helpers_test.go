package service_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/changetrack"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/ledger"
	"github.com/phrazzld/tasksync/internal/mocks"
	"github.com/phrazzld/tasksync/internal/service"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAlarms records Reschedule and Clear calls.
type fakeAlarms struct {
	mu          sync.Mutex
	rescheduled []uuid.UUID
	cleared     []uuid.UUID
}

func (f *fakeAlarms) Reschedule(ctx context.Context, task *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled = append(f.rescheduled, task.ID)
	return nil
}

func (f *fakeAlarms) Clear(ctx context.Context, taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, taskID)
	return nil
}

// fakeSync records coordinator calls.
type fakeSync struct {
	mu        sync.Mutex
	triggered []uuid.UUID
	forgotten []uuid.UUID
	resumed   []uuid.UUID
}

func (f *fakeSync) Trigger(listID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, listID)
}

func (f *fakeSync) Forget(listID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, listID)
}

func (f *fakeSync) ResumeAuth(listID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, listID)
}

type fixture struct {
	tasks      *mocks.MockTaskStore
	bindings   *mocks.MockBindingStore
	snapshots  *mocks.MockSnapshotStore
	tombstones *mocks.MockTombstoneStore
	ledger     *ledger.Ledger
	alarms     *fakeAlarms
	sync       *fakeSync
	svc        service.TaskService
	listID     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tasks:      mocks.NewMockTaskStore(),
		bindings:   mocks.NewMockBindingStore(),
		snapshots:  mocks.NewMockSnapshotStore(),
		tombstones: mocks.NewMockTombstoneStore(),
		alarms:     &fakeAlarms{},
		sync:       &fakeSync{},
		listID:     uuid.New(),
	}
	f.ledger = ledger.New(f.tombstones, f.tasks, 24*time.Hour, testLogger())
	svc, err := service.NewTaskService(
		f.tasks,
		f.bindings,
		changetrack.NewTracker(f.tasks, testLogger()),
		f.ledger,
		&mocks.MockTransactor{},
		nil,
		f.alarms,
		f.sync,
		testLogger(),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

// bind links the fixture's list to a CalDAV collection.
func (f *fixture) bind(t *testing.T) *domain.ListBinding {
	t.Helper()
	b, err := domain.NewListBinding(f.listID, domain.ProviderCalDAV, "/cal/tasks/", "creds-1")
	require.NoError(t, err)
	require.NoError(t, f.bindings.Create(context.Background(), b))
	return b
}

func ptr[T any](v T) *T { return &v }
