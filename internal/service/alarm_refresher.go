package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/events"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

// AlarmRefresher reschedules the triggers of tasks a sync pass changed.
// It handles the end-of-pass events (completed, failed, reauth required),
// since a failed pass may still have applied remote changes.
type AlarmRefresher struct {
	tasks  store.TaskStore
	alarms AlarmScheduler
	logger *slog.Logger
}

// NewAlarmRefresher creates an AlarmRefresher.
func NewAlarmRefresher(tasks store.TaskStore, alarms AlarmScheduler, logger *slog.Logger) *AlarmRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlarmRefresher{
		tasks:  tasks,
		alarms: alarms,
		logger: logger.With(slog.String("component", "alarm_refresher")),
	}
}

// HandleEvent implements events.EventHandler.
func (r *AlarmRefresher) HandleEvent(ctx context.Context, event *events.Event) error {
	switch event.Type {
	case events.TypeSyncCompleted, events.TypeSyncFailed, events.TypeSyncReauthRequired:
	default:
		return nil
	}
	if len(event.Payload) == 0 {
		return nil
	}
	// Both end-of-pass payloads carry changed_tasks.
	var payload struct {
		ChangedTasks []uuid.UUID `json:"changed_tasks"`
	}
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}

	log := logger.FromContextOrDefault(ctx, r.logger)
	for _, id := range payload.ChangedTasks {
		task, err := r.tasks.GetByID(ctx, id)
		switch {
		case store.IsNotFoundError(err):
			err = r.alarms.Clear(ctx, id)
		case err != nil:
		case task.Deleted || task.IsCompleted():
			err = r.alarms.Clear(ctx, id)
		default:
			err = r.alarms.Reschedule(ctx, task)
		}
		if err != nil {
			log.Warn("failed to refresh task triggers",
				slog.String("task_id", id.String()),
				slog.String("list_id", event.ListID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

var _ events.EventHandler = (*AlarmRefresher)(nil)
