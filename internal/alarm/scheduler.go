package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

// JobRunner schedules external jobs. Implementations must treat a key that
// is already scheduled as a no-op and deliver fired jobs at least once.
type JobRunner interface {
	ScheduleAt(ctx context.Context, key string, at time.Time, payload []byte) error
	ScheduleRegion(ctx context.Context, key string, region domain.Region, payload []byte) error
	Cancel(ctx context.Context, key string) error
}

// TaskReader loads the current state of a task.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// Notification is a fired, current trigger.
type Notification struct {
	TaskID      uuid.UUID          `json:"task_id"`
	ListID      uuid.UUID          `json:"list_id"`
	Kind        domain.TriggerKind `json:"kind"`
	Generation  int64              `json:"generation"`
	ScheduledAt *time.Time         `json:"scheduled_at,omitempty"`
	Region      *domain.Region     `json:"region,omitempty"`
	FiredAt     time.Time          `json:"fired_at"`
}

// NotificationSink presents fired triggers to the user.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// Config controls how triggers are derived from tasks.
type Config struct {
	// DefaultReminderHour is the hour of day date-only due dates alarm at.
	DefaultReminderHour int
	// Location is the timezone DefaultReminderHour is interpreted in.
	Location *time.Location
}

// payload is what the scheduler hands to the job runner and gets back when
// a job fires.
type payload struct {
	ListID uuid.UUID `json:"list_id"`
	domain.PendingTrigger
}

// Scheduler derives pending triggers from tasks and keeps the external job
// runner in step with them.
type Scheduler struct {
	triggers store.TriggerStore
	tasks    TaskReader
	runner   JobRunner
	sink     NotificationSink
	config   Config
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.Mutex
}

// NewScheduler creates a Scheduler. When tasks is non-nil, Fire checks the
// task before notifying and drops triggers of deleted or completed tasks.
func NewScheduler(
	triggers store.TriggerStore,
	tasks TaskReader,
	runner JobRunner,
	sink NotificationSink,
	config Config,
	logger *slog.Logger,
) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		triggers: triggers,
		tasks:    tasks,
		runner:   runner,
		sink:     sink,
		config:   config,
		logger:   logger.With(slog.String("component", "alarm_scheduler")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Derive computes the triggers a task should currently have. Completed and
// deleted tasks have none. Generation is left zero.
func (s *Scheduler) Derive(task *domain.Task) []domain.PendingTrigger {
	if task.Deleted || task.IsCompleted() {
		return nil
	}

	var out []domain.PendingTrigger
	if at := s.alarmTime(task); at != nil {
		out = append(out, domain.PendingTrigger{TaskID: task.ID, Kind: domain.TriggerTime, ScheduledAt: at})
	}
	if loc := task.Location; loc != nil {
		if loc.OnEnter {
			region := *loc
			region.OnExit = false
			out = append(out, domain.PendingTrigger{TaskID: task.ID, Kind: domain.TriggerGeofenceEnter, Region: &region})
		}
		if loc.OnExit {
			region := *loc
			region.OnEnter = false
			out = append(out, domain.PendingTrigger{TaskID: task.ID, Kind: domain.TriggerGeofenceExit, Region: &region})
		}
	}
	return out
}

// alarmTime is the explicit reminder if set, else the due time. Date-only
// due dates alarm at the default reminder hour of their day.
func (s *Scheduler) alarmTime(task *domain.Task) *time.Time {
	switch {
	case task.RemindAt != nil:
		at := task.RemindAt.UTC()
		return &at
	case task.DueAt == nil:
		return nil
	case task.DueHasTime:
		at := task.DueAt.UTC()
		return &at
	default:
		y, m, d := task.DueAt.UTC().Date()
		at := time.Date(y, m, d, s.config.DefaultReminderHour, 0, 0, 0, s.config.Location).UTC()
		return &at
	}
}

// Reschedule brings the task's triggers up to date. If the fields that
// drive triggers changed since the last call, the task moves to a new
// generation: stale jobs are cancelled and fresh ones scheduled. Otherwise
// the current jobs are scheduled again, which the runner dedupes by key.
func (s *Scheduler) Reschedule(ctx context.Context, task *domain.Task) error {
	derived := s.Derive(task)
	if len(derived) == 0 {
		return s.Clear(ctx, task.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	log := logger.FromContextOrDefault(ctx, s.logger)

	generation, fingerprint, err := s.triggers.State(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("failed to load trigger state of task %s: %w", task.ID, err)
	}
	current, err := s.triggers.List(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("failed to load triggers of task %s: %w", task.ID, err)
	}

	fp := task.ScheduleFingerprint()
	if generation > 0 && fp == fingerprint {
		return s.schedule(ctx, task.ListID, current)
	}

	next := generation + 1
	for i := range derived {
		derived[i].Generation = next
	}
	if err := s.triggers.Replace(ctx, task.ID, next, fp, derived); err != nil {
		return fmt.Errorf("failed to store triggers of task %s: %w", task.ID, err)
	}
	log.Debug("task triggers rescheduled",
		slog.String("task_id", task.ID.String()),
		slog.Int64("generation", next),
		slog.Int("triggers", len(derived)))

	if err := s.cancel(ctx, current); err != nil {
		return err
	}
	return s.schedule(ctx, task.ListID, derived)
}

// Clear drops every trigger of a task and moves it to a new generation so
// that jobs already in flight fire as stale.
func (s *Scheduler) Clear(ctx context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx, taskID)
}

func (s *Scheduler) clearLocked(ctx context.Context, taskID uuid.UUID) error {
	generation, fingerprint, err := s.triggers.State(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load trigger state of task %s: %w", taskID, err)
	}
	current, err := s.triggers.List(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load triggers of task %s: %w", taskID, err)
	}
	if fingerprint == "" && len(current) == 0 {
		return nil
	}

	if err := s.triggers.Replace(ctx, taskID, generation+1, "", nil); err != nil {
		return fmt.Errorf("failed to clear triggers of task %s: %w", taskID, err)
	}
	return s.cancel(ctx, current)
}

// Fire handles a fired job payload. Triggers of an older generation,
// triggers already delivered, and triggers of tasks that were deleted or
// completed are suppressed and reported as false.
func (s *Scheduler) Fire(ctx context.Context, raw []byte) (bool, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return false, err
	}
	return s.fire(ctx, p)
}

func decodePayload(raw []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return payload{}, fmt.Errorf("%w: trigger payload: %w", domain.ErrInvalidFormat, err)
	}
	return p, nil
}

func (s *Scheduler) fire(ctx context.Context, p payload) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("task_id", p.TaskID.String()),
		slog.String("kind", string(p.Kind)),
		slog.Int64("generation", p.Generation))

	s.mu.Lock()
	defer s.mu.Unlock()

	generation, _, err := s.triggers.State(ctx, p.TaskID)
	if err != nil {
		return false, fmt.Errorf("failed to load trigger state of task %s: %w", p.TaskID, err)
	}
	if p.Generation != generation {
		log.Debug("suppressing stale trigger", slog.Int64("current_generation", generation))
		return false, nil
	}

	current, err := s.triggers.List(ctx, p.TaskID)
	if err != nil {
		return false, fmt.Errorf("failed to load triggers of task %s: %w", p.TaskID, err)
	}
	pending := false
	for _, tr := range current {
		if tr.Kind == p.Kind && tr.Generation == p.Generation {
			pending = true
			break
		}
	}
	if !pending {
		log.Debug("trigger already delivered")
		return false, nil
	}

	if s.tasks != nil {
		task, err := s.tasks.GetByID(ctx, p.TaskID)
		switch {
		case store.IsNotFoundError(err), err == nil && (task.Deleted || task.IsCompleted()):
			log.Debug("suppressing trigger of finished task")
			if err := s.clearLocked(ctx, p.TaskID); err != nil {
				return false, err
			}
			return false, nil
		case err != nil:
			return false, fmt.Errorf("failed to load task %s: %w", p.TaskID, err)
		}
	}

	n := Notification{
		TaskID:      p.TaskID,
		ListID:      p.ListID,
		Kind:        p.Kind,
		Generation:  p.Generation,
		ScheduledAt: p.ScheduledAt,
		Region:      p.Region,
		FiredAt:     s.now(),
	}
	if err := s.sink.Notify(ctx, n); err != nil {
		return false, fmt.Errorf("failed to deliver trigger of task %s: %w", p.TaskID, err)
	}
	if err := s.triggers.Remove(ctx, p.TaskID, p.Kind, p.Generation); err != nil {
		return true, fmt.Errorf("failed to drop fired trigger of task %s: %w", p.TaskID, err)
	}
	log.Info("trigger fired")
	return true, nil
}

// HandleJob lets the Scheduler receive fired jobs from the job runner. The
// job key must name the trigger its payload carries.
func (s *Scheduler) HandleJob(ctx context.Context, job *domain.Job) error {
	taskID, generation, kind, err := domain.ParseTriggerKey(job.Key)
	if err != nil {
		return err
	}
	p, err := decodePayload(job.Payload)
	if err != nil {
		return err
	}
	if p.TaskID != taskID || p.Generation != generation || p.Kind != kind {
		return fmt.Errorf("%w: job %s carries trigger %s", domain.ErrInvalidFormat, job.Key, p.Key())
	}
	_, err = s.fire(ctx, p)
	return err
}

func (s *Scheduler) schedule(ctx context.Context, listID uuid.UUID, triggers []domain.PendingTrigger) error {
	for _, tr := range triggers {
		raw, err := json.Marshal(payload{ListID: listID, PendingTrigger: tr})
		if err != nil {
			return fmt.Errorf("failed to encode trigger %s: %w", tr.Key(), err)
		}
		switch {
		case tr.Kind == domain.TriggerTime && tr.ScheduledAt != nil:
			err = s.runner.ScheduleAt(ctx, tr.Key(), *tr.ScheduledAt, raw)
		case tr.Region != nil:
			err = s.runner.ScheduleRegion(ctx, tr.Key(), *tr.Region, raw)
		default:
			err = fmt.Errorf("%w: trigger %s has nothing to fire on", domain.ErrInvalidFormat, tr.Key())
		}
		if err != nil {
			return fmt.Errorf("failed to schedule trigger %s: %w", tr.Key(), err)
		}
	}
	return nil
}

func (s *Scheduler) cancel(ctx context.Context, triggers []domain.PendingTrigger) error {
	for _, tr := range triggers {
		if err := s.runner.Cancel(ctx, tr.Key()); err != nil {
			return fmt.Errorf("failed to cancel trigger %s: %w", tr.Key(), err)
		}
	}
	return nil
}
