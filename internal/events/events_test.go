package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	listID := uuid.New()
	changed := []uuid.UUID{uuid.New(), uuid.New()}

	event, err := NewEvent(TypeSyncCompleted, listID, SyncCompleted{Marker: "m2", Pushed: 3, ChangedTasks: changed})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, TypeSyncCompleted, event.Type)
	assert.Equal(t, listID, event.ListID)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)

	var payload SyncCompleted
	require.NoError(t, event.UnmarshalPayload(&payload))
	assert.Equal(t, "m2", payload.Marker)
	assert.Equal(t, 3, payload.Pushed)
	assert.Equal(t, changed, payload.ChangedTasks)
}

func TestNewEventWithoutPayload(t *testing.T) {
	event, err := NewEvent(TypeSyncStarted, uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, event.Payload)
}

func TestNewEventUnencodablePayload(t *testing.T) {
	_, err := NewEvent(TypeSyncStarted, uuid.New(), make(chan int))
	assert.Error(t, err)
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	mu sync.Mutex
	// The last event received by this handler
	LastEvent *Event
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestEventHandlerFunc(t *testing.T) {
	var got *Event
	handler := EventHandlerFunc(func(ctx context.Context, event *Event) error {
		got = event
		return errors.New("handler error")
	})

	event, err := NewEvent(TypeSyncFailed, uuid.New(), SyncFailed{Error: "boom"})
	require.NoError(t, err)

	assert.EqualError(t, handler.HandleEvent(context.Background(), event), "handler error")
	assert.Same(t, event, got)
}
