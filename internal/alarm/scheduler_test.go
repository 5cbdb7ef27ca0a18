package alarm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/events"
	"github.com/phrazzld/tasksync/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records scheduled jobs and dedupes them by key.
type fakeRunner struct {
	mu        sync.Mutex
	jobs      map[string][]byte
	schedules int
	cancelled []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{jobs: make(map[string][]byte)}
}

func (f *fakeRunner) ScheduleAt(ctx context.Context, key string, at time.Time, payload []byte) error {
	return f.add(key, payload)
}

func (f *fakeRunner) ScheduleRegion(ctx context.Context, key string, region domain.Region, payload []byte) error {
	return f.add(key, payload)
}

func (f *fakeRunner) add(key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules++
	if _, ok := f.jobs[key]; !ok {
		f.jobs[key] = payload
	}
	return nil
}

func (f *fakeRunner) Cancel(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, key)
	delete(f.jobs, key)
	return nil
}

func (f *fakeRunner) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.jobs))
	for k := range f.jobs {
		out = append(out, k)
	}
	return out
}

type recordingSink struct {
	mu   sync.Mutex
	got  []Notification
	fail error
}

func (s *recordingSink) Notify(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, n)
	return nil
}

type fixture struct {
	triggers  *mocks.MockTriggerStore
	tasks     *mocks.MockTaskStore
	runner    *fakeRunner
	sink      *recordingSink
	scheduler *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	f := &fixture{
		triggers: mocks.NewMockTriggerStore(),
		tasks:    mocks.NewMockTaskStore(),
		runner:   newFakeRunner(),
		sink:     &recordingSink{},
	}
	f.scheduler = NewScheduler(f.triggers, f.tasks, f.runner, f.sink,
		Config{DefaultReminderHour: 9, Location: ny},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func dueTask(due time.Time, hasTime bool) *domain.Task {
	return &domain.Task{
		ID:         uuid.New(),
		ListID:     uuid.New(),
		Title:      "pay rent",
		DueAt:      &due,
		DueHasTime: hasTime,
		Revision:   1,
	}
}

func TestDerive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	t.Run("date-only due alarms at default hour in configured zone", func(t *testing.T) {
		task := dueTask(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), false)
		got := f.scheduler.Derive(task)
		require.Len(t, got, 1)
		assert.Equal(t, domain.TriggerTime, got[0].Kind)
		assert.Equal(t, time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC), *got[0].ScheduledAt)
	})

	t.Run("due time is used as is", func(t *testing.T) {
		due := time.Date(2024, 1, 10, 17, 30, 0, 0, time.UTC)
		got := f.scheduler.Derive(dueTask(due, true))
		require.Len(t, got, 1)
		assert.Equal(t, due, *got[0].ScheduledAt)
	})

	t.Run("explicit reminder wins over due date", func(t *testing.T) {
		task := dueTask(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), false)
		remind := time.Date(2024, 1, 9, 20, 0, 0, 0, time.UTC)
		task.RemindAt = &remind
		got := f.scheduler.Derive(task)
		require.Len(t, got, 1)
		assert.Equal(t, remind, *got[0].ScheduledAt)
	})

	t.Run("geofence splits into enter and exit triggers", func(t *testing.T) {
		task := &domain.Task{ID: uuid.New(), Location: &domain.Region{
			Latitude: 1, Longitude: 2, RadiusMeters: 100, OnEnter: true, OnExit: true,
		}}
		got := f.scheduler.Derive(task)
		require.Len(t, got, 2)
		assert.Equal(t, domain.TriggerGeofenceEnter, got[0].Kind)
		assert.True(t, got[0].Region.OnEnter)
		assert.False(t, got[0].Region.OnExit)
		assert.Equal(t, domain.TriggerGeofenceExit, got[1].Kind)
		assert.False(t, got[1].Region.OnEnter)
		assert.True(t, got[1].Region.OnExit)
		assert.True(t, task.Location.OnEnter, "task region must not be modified")
	})

	t.Run("completed and deleted tasks have no triggers", func(t *testing.T) {
		done := dueTask(time.Now(), true)
		now := time.Now()
		done.CompletedAt = &now
		assert.Empty(t, f.scheduler.Derive(done))

		gone := dueTask(time.Now(), true)
		gone.Deleted = true
		assert.Empty(t, f.scheduler.Derive(gone))

		assert.Empty(t, f.scheduler.Derive(&domain.Task{ID: uuid.New(), Title: "no dates"}))
	})
}

func TestReschedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := dueTask(time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), true)

	require.NoError(t, f.scheduler.Reschedule(ctx, task))
	gen, _, err := f.triggers.State(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Equal(t, []string{domain.TriggerKey(task.ID, 1, domain.TriggerTime)}, f.runner.keys())

	t.Run("unchanged task reuses generation and key", func(t *testing.T) {
		task.Title = "renamed only"
		require.NoError(t, f.scheduler.Reschedule(ctx, task))
		gen, _, err := f.triggers.State(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), gen)
		assert.Len(t, f.runner.keys(), 1)
		assert.Equal(t, 2, f.runner.schedules)
	})

	t.Run("changed due date moves to a new generation", func(t *testing.T) {
		later := task.DueAt.Add(24 * time.Hour)
		task.DueAt = &later
		require.NoError(t, f.scheduler.Reschedule(ctx, task))

		gen, _, err := f.triggers.State(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), gen)
		assert.Contains(t, f.runner.cancelled, domain.TriggerKey(task.ID, 1, domain.TriggerTime))
		assert.Equal(t, []string{domain.TriggerKey(task.ID, 2, domain.TriggerTime)}, f.runner.keys())
	})
}

func TestFire(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := dueTask(time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), true)
	f.tasks.Put(task)

	require.NoError(t, f.scheduler.Reschedule(ctx, task))
	stale := f.runner.jobs[domain.TriggerKey(task.ID, 1, domain.TriggerTime)]
	require.NotNil(t, stale)

	later := task.DueAt.Add(time.Hour)
	task.DueAt = &later
	f.tasks.Put(task)
	require.NoError(t, f.scheduler.Reschedule(ctx, task))
	current := f.runner.jobs[domain.TriggerKey(task.ID, 2, domain.TriggerTime)]
	require.NotNil(t, current)

	t.Run("stale generation is suppressed", func(t *testing.T) {
		fired, err := f.scheduler.Fire(ctx, stale)
		require.NoError(t, err)
		assert.False(t, fired)
		assert.Empty(t, f.sink.got)
	})

	t.Run("sink failure keeps trigger for redelivery", func(t *testing.T) {
		f.sink.fail = errors.New("sink down")
		_, err := f.scheduler.Fire(ctx, current)
		assert.ErrorContains(t, err, "sink down")
		f.sink.fail = nil
	})

	t.Run("current generation is delivered once", func(t *testing.T) {
		fired, err := f.scheduler.Fire(ctx, current)
		require.NoError(t, err)
		assert.True(t, fired)
		require.Len(t, f.sink.got, 1)
		n := f.sink.got[0]
		assert.Equal(t, task.ID, n.TaskID)
		assert.Equal(t, task.ListID, n.ListID)
		assert.Equal(t, int64(2), n.Generation)
		assert.Equal(t, later, *n.ScheduledAt)

		fired, err = f.scheduler.Fire(ctx, current)
		require.NoError(t, err)
		assert.False(t, fired, "redelivery of a fired trigger is a no-op")
		assert.Len(t, f.sink.got, 1)
	})

	t.Run("malformed payload", func(t *testing.T) {
		err := f.scheduler.HandleJob(ctx, &domain.Job{Key: "x", Payload: []byte("{")})
		assert.ErrorIs(t, err, domain.ErrInvalidFormat)
	})
}

func TestHandleJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, *domain.Task, []byte) {
		f := newFixture(t)
		task := dueTask(time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), true)
		f.tasks.Put(task)
		require.NoError(t, f.scheduler.Reschedule(ctx, task))
		raw := f.runner.jobs[domain.TriggerKey(task.ID, 1, domain.TriggerTime)]
		require.NotNil(t, raw)
		return f, task, raw
	}

	t.Run("fires the trigger named by the key", func(t *testing.T) {
		f, task, raw := setup(t)
		job := &domain.Job{Key: domain.TriggerKey(task.ID, 1, domain.TriggerTime), Payload: raw}

		require.NoError(t, f.scheduler.HandleJob(ctx, job))
		require.Len(t, f.sink.got, 1)
		assert.Equal(t, task.ID, f.sink.got[0].TaskID)
	})

	t.Run("rejects a payload of another trigger", func(t *testing.T) {
		f, task, raw := setup(t)
		job := &domain.Job{Key: domain.TriggerKey(task.ID, 7, domain.TriggerTime), Payload: raw}

		err := f.scheduler.HandleJob(ctx, job)
		assert.ErrorIs(t, err, domain.ErrInvalidFormat)
		assert.Empty(t, f.sink.got)
	})

	t.Run("rejects keys that are not trigger keys", func(t *testing.T) {
		f, task, raw := setup(t)
		job := &domain.Job{Key: "trigger/" + task.ID.String() + "/one/time", Payload: raw}

		err := f.scheduler.HandleJob(ctx, job)
		assert.ErrorIs(t, err, domain.ErrInvalidFormat)
		assert.Empty(t, f.sink.got)
	})
}

func TestFireSuppressesFinishedTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name  string
		store func(f *fixture, task *domain.Task)
	}{
		{"deleted task", func(f *fixture, task *domain.Task) {
			task.Deleted = true
			f.tasks.Put(task)
		}},
		{"completed task", func(f *fixture, task *domain.Task) {
			task.CompletedAt = &now
			f.tasks.Put(task)
		}},
		{"purged task", func(f *fixture, task *domain.Task) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			task := dueTask(time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), true)
			require.NoError(t, f.scheduler.Reschedule(ctx, task))
			payload := f.runner.jobs[domain.TriggerKey(task.ID, 1, domain.TriggerTime)]
			require.NotNil(t, payload)

			// The task changed but its triggers were never refreshed.
			stored := task.Clone()
			tt.store(f, &stored)

			fired, err := f.scheduler.Fire(ctx, payload)
			require.NoError(t, err)
			assert.False(t, fired)
			assert.Empty(t, f.sink.got)
			assert.Empty(t, f.runner.keys())

			pending, err := f.triggers.List(ctx, task.ID)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := dueTask(time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), true)

	require.NoError(t, f.scheduler.Reschedule(ctx, task))
	payload := f.runner.jobs[domain.TriggerKey(task.ID, 1, domain.TriggerTime)]

	now := time.Now()
	task.CompletedAt = &now
	require.NoError(t, f.scheduler.Reschedule(ctx, task))

	assert.Empty(t, f.runner.keys())
	gen, fp, err := f.triggers.State(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
	assert.Empty(t, fp)

	fired, err := f.scheduler.Fire(ctx, payload)
	require.NoError(t, err)
	assert.False(t, fired, "in-flight job of a completed task is stale")

	t.Run("clearing twice is a no-op", func(t *testing.T) {
		require.NoError(t, f.scheduler.Clear(ctx, task.ID))
		gen, _, err := f.triggers.State(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), gen)
	})

	t.Run("task without triggers is untouched", func(t *testing.T) {
		id := uuid.New()
		require.NoError(t, f.scheduler.Clear(ctx, id))
		gen, _, err := f.triggers.State(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, gen)
	})

	t.Run("uncompleting rearms with a fresh generation", func(t *testing.T) {
		task.CompletedAt = nil
		require.NoError(t, f.scheduler.Reschedule(ctx, task))
		assert.Equal(t, []string{domain.TriggerKey(task.ID, 3, domain.TriggerTime)}, f.runner.keys())
	})
}

func TestEventSink(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := events.NewInMemoryEventEmitter(logger)

	var got *events.Event
	emitter.RegisterHandler(events.EventHandlerFunc(func(ctx context.Context, e *events.Event) error {
		got = e
		return nil
	}))

	n := Notification{TaskID: uuid.New(), ListID: uuid.New(), Kind: domain.TriggerGeofenceEnter, Generation: 4}
	require.NoError(t, EventSink{Emitter: emitter}.Notify(context.Background(), n))
	require.NotNil(t, got)
	assert.Equal(t, events.TypeAlarmFired, got.Type)
	assert.Equal(t, n.ListID, got.ListID)

	var decoded Notification
	require.NoError(t, got.UnmarshalPayload(&decoded))
	assert.Equal(t, n.TaskID, decoded.TaskID)
	assert.Equal(t, int64(4), decoded.Generation)

	assert.NoError(t, LogSink{Logger: logger}.Notify(context.Background(), n))
}
