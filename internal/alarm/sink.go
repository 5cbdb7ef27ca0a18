package alarm

import (
	"context"
	"log/slog"

	"github.com/phrazzld/tasksync/internal/events"
)

// LogSink writes fired triggers to the log.
type LogSink struct {
	Logger *slog.Logger
}

// Notify implements NotificationSink.
func (s LogSink) Notify(ctx context.Context, n Notification) error {
	s.Logger.InfoContext(ctx, "reminder",
		slog.String("task_id", n.TaskID.String()),
		slog.String("kind", string(n.Kind)))
	return nil
}

// EventSink publishes fired triggers as events.TypeAlarmFired.
type EventSink struct {
	Emitter events.EventEmitter
}

// Notify implements NotificationSink.
func (s EventSink) Notify(ctx context.Context, n Notification) error {
	event, err := events.NewEvent(events.TypeAlarmFired, n.ListID, n)
	if err != nil {
		return err
	}
	return s.Emitter.EmitEvent(ctx, event)
}
