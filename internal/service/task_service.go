package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/changetrack"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/domain/recurrence"
	"github.com/phrazzld/tasksync/internal/ledger"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

// AlarmScheduler keeps a task's alarm and geofence triggers current.
// *alarm.Scheduler implements it.
type AlarmScheduler interface {
	Reschedule(ctx context.Context, task *domain.Task) error
	Clear(ctx context.Context, taskID uuid.UUID) error
}

// SyncTrigger requests a sync pass. *coordinator.Coordinator implements it.
type SyncTrigger interface {
	Trigger(listID uuid.UUID)
}

// TaskPatch holds the fields of an edit. Nil fields are left unchanged;
// the Clear flags remove optional values.
type TaskPatch struct {
	Title         *string        `json:"title,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
	DueAt         *time.Time     `json:"due_at,omitempty"`
	DueHasTime    *bool          `json:"due_has_time,omitempty"`
	ClearDue      bool           `json:"clear_due,omitempty"`
	RemindAt      *time.Time     `json:"remind_at,omitempty"`
	ClearRemind   bool           `json:"clear_remind,omitempty"`
	Recurrence    *string        `json:"recurrence,omitempty"`
	Location      *domain.Region `json:"location,omitempty"`
	ClearLocation bool           `json:"clear_location,omitempty"`
	Priority      *int           `json:"priority,omitempty"`
}

// ListOptions shapes a task listing.
type ListOptions struct {
	Sort             domain.SortMode
	IncludeCompleted bool
	// Reverse flips the whole order, tie-breaks included.
	Reverse bool
}

// TaskService provides the local task operations.
type TaskService interface {
	// Create stores a new task and schedules its triggers.
	Create(ctx context.Context, listID uuid.UUID, title string, patch TaskPatch) (*domain.Task, error)

	// Get returns a live task.
	Get(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// Update applies an edit as a new dirty revision.
	Update(ctx context.Context, taskID uuid.UUID, patch TaskPatch) (*domain.Task, error)

	// Complete marks a task done. A recurring task is moved to its next
	// occurrence instead and stays open.
	Complete(ctx context.Context, taskID uuid.UUID, at time.Time) (*domain.Task, error)

	// Uncomplete reopens a completed task.
	Uncomplete(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// Delete soft-deletes a task and tombstones it on its remote list.
	Delete(ctx context.Context, taskID uuid.UUID) error

	// List returns the live tasks of a list in the requested order.
	List(ctx context.Context, listID uuid.UUID, opts ListOptions) ([]*domain.Task, error)
}

type taskServiceImpl struct {
	tasks      store.TaskStore
	bindings   store.BindingStore
	tracker    *changetrack.Tracker
	ledger     *ledger.Ledger
	tx         store.Transactor
	recurrence recurrence.Service
	alarms     AlarmScheduler
	sync       SyncTrigger
	logger     *slog.Logger
}

// NewTaskService creates a TaskService. alarms and sync may be nil.
func NewTaskService(
	tasks store.TaskStore,
	bindings store.BindingStore,
	tracker *changetrack.Tracker,
	ledger *ledger.Ledger,
	tx store.Transactor,
	recurrenceService recurrence.Service,
	alarms AlarmScheduler,
	sync SyncTrigger,
	logger *slog.Logger,
) (TaskService, error) {
	switch {
	case tasks == nil:
		return nil, fmt.Errorf("%w: tasks store cannot be nil", domain.ErrValidation)
	case bindings == nil:
		return nil, fmt.Errorf("%w: bindings store cannot be nil", domain.ErrValidation)
	case tracker == nil:
		return nil, fmt.Errorf("%w: tracker cannot be nil", domain.ErrValidation)
	case ledger == nil:
		return nil, fmt.Errorf("%w: ledger cannot be nil", domain.ErrValidation)
	case tx == nil:
		return nil, fmt.Errorf("%w: transactor cannot be nil", domain.ErrValidation)
	}
	if recurrenceService == nil {
		recurrenceService = recurrence.NewDefaultService()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &taskServiceImpl{
		tasks:      tasks,
		bindings:   bindings,
		tracker:    tracker,
		ledger:     ledger,
		tx:         tx,
		recurrence: recurrenceService,
		alarms:     alarms,
		sync:       sync,
		logger:     logger.With(slog.String("component", "task_service")),
	}, nil
}

func (s *taskServiceImpl) Create(ctx context.Context, listID uuid.UUID, title string, patch TaskPatch) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := domain.NewTask(listID, title)
	if err != nil {
		return nil, NewTaskServiceError("create", "invalid task", err)
	}
	if err := s.apply(task, patch); err != nil {
		return nil, NewTaskServiceError("create", "invalid task", err)
	}
	if err := s.tracker.Create(ctx, task); err != nil {
		log.Error("failed to create task",
			slog.String("list_id", listID.String()),
			slog.String("error", err.Error()))
		return nil, NewTaskServiceError("create", "failed to save task", err)
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("list_id", listID.String()))
	s.afterEdit(ctx, task)
	return task, nil
}

func (s *taskServiceImpl) Get(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, NewTaskServiceError("get", "failed to load task", err)
	}
	if task.Deleted {
		return nil, NewTaskServiceError("get", "task not available", ErrTaskGone)
	}
	return task, nil
}

func (s *taskServiceImpl) Update(ctx context.Context, taskID uuid.UUID, patch TaskPatch) (*domain.Task, error) {
	task, err := s.tracker.Mutate(ctx, taskID, func(t *domain.Task) error {
		return s.apply(t, patch)
	})
	if err != nil {
		return nil, s.mutationError("update", err)
	}
	s.afterEdit(ctx, task)
	return task, nil
}

func (s *taskServiceImpl) Complete(ctx context.Context, taskID uuid.UUID, at time.Time) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	at = at.UTC()

	var advanced bool
	task, err := s.tracker.Mutate(ctx, taskID, func(t *domain.Task) error {
		if t.Recurrence == "" {
			t.CompletedAt = &at
			return nil
		}
		next, err := s.recurrence.Advance(t, at)
		if err != nil {
			// An unreadable or exhausted rule completes the task as a one-off.
			log.Warn("recurrence rule not usable, completing task",
				slog.String("task_id", taskID.String()),
				slog.String("rule", t.Recurrence),
				slog.String("error", err.Error()))
			t.CompletedAt = &at
			return nil
		}
		*t = *next
		advanced = true
		return nil
	})
	if err != nil {
		return nil, s.mutationError("complete", err)
	}

	if advanced {
		log.Info("recurring task advanced",
			slog.String("task_id", taskID.String()),
			slog.Time("due_at", *task.DueAt))
	}
	s.afterEdit(ctx, task)
	return task, nil
}

func (s *taskServiceImpl) Uncomplete(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.tracker.Mutate(ctx, taskID, func(t *domain.Task) error {
		t.CompletedAt = nil
		return nil
	})
	if err != nil {
		return nil, s.mutationError("uncomplete", err)
	}
	s.afterEdit(ctx, task)
	return task, nil
}

func (s *taskServiceImpl) Delete(ctx context.Context, taskID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	// The soft delete and its tombstone commit together.
	var (
		task       *domain.Task
		tombstoned bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		deleted, err := s.tracker.WithTx(tx).Mutate(ctx, taskID, func(t *domain.Task) error {
			t.Deleted = true
			return nil
		})
		if err != nil {
			return s.mutationError("delete", err)
		}
		task = deleted

		binding, err := s.bindings.WithTx(tx).Get(ctx, task.ListID)
		switch {
		case errors.Is(err, store.ErrBindingNotFound):
			return nil
		case err != nil:
			return NewTaskServiceError("delete", "failed to load binding", err)
		}
		tombstoned, err = s.ledger.WithTx(tx).RecordLocalDeletion(ctx, task, binding)
		if err != nil {
			log.Error("failed to tombstone deleted task",
				slog.String("task_id", taskID.String()),
				slog.String("error", err.Error()))
			return NewTaskServiceError("delete", "failed to record deletion", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.alarms != nil {
		if err := s.alarms.Clear(ctx, taskID); err != nil {
			log.Warn("failed to clear triggers of deleted task",
				slog.String("task_id", taskID.String()),
				slog.String("error", err.Error()))
		}
	}
	if tombstoned && s.sync != nil {
		s.sync.Trigger(task.ListID)
	}

	log.Info("task deleted",
		slog.String("task_id", taskID.String()),
		slog.Bool("tombstoned", tombstoned))
	return nil
}

func (s *taskServiceImpl) List(ctx context.Context, listID uuid.UUID, opts ListOptions) ([]*domain.Task, error) {
	if opts.Sort == "" {
		opts.Sort = domain.SortAuto
	}
	tasks, err := s.tasks.ListByList(ctx, listID, opts.Sort, opts.IncludeCompleted)
	if err != nil {
		return nil, NewTaskServiceError("list", "failed to list tasks", err)
	}
	if opts.Reverse {
		slices.Reverse(tasks)
	}
	return tasks, nil
}

// apply copies patch onto t and validates the recurrence rule.
func (s *taskServiceImpl) apply(t *domain.Task, p TaskPatch) error {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	switch {
	case p.ClearDue:
		t.DueAt = nil
		t.DueHasTime = false
	case p.DueAt != nil:
		due := p.DueAt.UTC()
		t.DueAt = &due
		t.DueHasTime = true
		if p.DueHasTime != nil {
			t.DueHasTime = *p.DueHasTime
		}
		if !t.DueHasTime {
			d := domain.DateOnly(due)
			t.DueAt = &d
		}
	}
	switch {
	case p.ClearRemind:
		t.RemindAt = nil
	case p.RemindAt != nil:
		remind := p.RemindAt.UTC()
		t.RemindAt = &remind
	}
	if p.Recurrence != nil {
		rule := strings.TrimSpace(*p.Recurrence)
		if rule != "" {
			if _, err := s.recurrence.Parse(rule); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrValidation, err)
			}
		}
		t.Recurrence = rule
	}
	switch {
	case p.ClearLocation:
		t.Location = nil
	case p.Location != nil:
		loc := *p.Location
		t.Location = &loc
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	return t.Validate()
}

// afterEdit reschedules triggers and asks for a sync. Failures are logged;
// the edit itself is already stored.
func (s *taskServiceImpl) afterEdit(ctx context.Context, task *domain.Task) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if s.alarms != nil {
		var err error
		if task.IsCompleted() {
			err = s.alarms.Clear(ctx, task.ID)
		} else {
			err = s.alarms.Reschedule(ctx, task)
		}
		if err != nil {
			log.Warn("failed to update task triggers",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	if s.sync != nil {
		s.sync.Trigger(task.ListID)
	}
}

func (s *taskServiceImpl) mutationError(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrTaskDeleted):
		return NewTaskServiceError(op, "task not available", ErrTaskGone)
	case store.IsNotFoundError(err):
		return NewTaskServiceError(op, "task not found", err)
	default:
		return NewTaskServiceError(op, "failed to store edit", err)
	}
}
