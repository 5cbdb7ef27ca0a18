package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// OpenTaskCounter counts the live, incomplete tasks of a list.
type OpenTaskCounter interface {
	CountOpen(ctx context.Context, listID uuid.UUID) (int, error)
}

// ChangeNotifier is told when a list's contents changed underneath the
// user, e.g. to refresh badges and widgets.
type ChangeNotifier interface {
	NotifyListChanged(ctx context.Context, listID uuid.UUID, open int) error
}

// RefreshHandler recounts a list's open tasks after every completed sync
// pass and passes the count on to a ChangeNotifier.
type RefreshHandler struct {
	counter  OpenTaskCounter
	notifier ChangeNotifier
	logger   *slog.Logger
}

// NewRefreshHandler creates a RefreshHandler.
func NewRefreshHandler(counter OpenTaskCounter, notifier ChangeNotifier, logger *slog.Logger) *RefreshHandler {
	return &RefreshHandler{
		counter:  counter,
		notifier: notifier,
		logger:   logger.With("component", "refresh_handler"),
	}
}

// HandleEvent implements EventHandler.
func (h *RefreshHandler) HandleEvent(ctx context.Context, event *Event) error {
	if event.Type != TypeSyncCompleted {
		return nil
	}

	open, err := h.counter.CountOpen(ctx, event.ListID)
	if err != nil {
		return fmt.Errorf("failed to count open tasks of list %s: %w", event.ListID, err)
	}
	h.logger.Debug("list refreshed after sync", "list_id", event.ListID, "open", open)
	return h.notifier.NotifyListChanged(ctx, event.ListID, open)
}

// EmittingNotifier publishes list changes as TypeListCountChanged events.
type EmittingNotifier struct {
	Emitter EventEmitter
}

// NotifyListChanged implements ChangeNotifier.
func (n EmittingNotifier) NotifyListChanged(ctx context.Context, listID uuid.UUID, open int) error {
	event, err := NewEvent(TypeListCountChanged, listID, ListCount{Open: open})
	if err != nil {
		return err
	}
	return n.Emitter.EmitEvent(ctx, event)
}
