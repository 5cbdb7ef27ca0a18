package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypeSyncStarted        = "sync.started"
	TypeSyncCompleted      = "sync.completed"
	TypeSyncFailed         = "sync.failed"
	TypeSyncReauthRequired = "sync.reauth_required"
	TypeAlarmFired         = "alarm.fired"
	TypeListCountChanged   = "list.count_changed"
)

// Event is a notification about something that happened to a list.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// ListID is the list the event concerns
	ListID uuid.UUID `json:"list_id"`

	// Payload contains the type-specific data serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates a new Event with the specified type, list and payload.
// A nil payload leaves the Payload field empty.
func NewEvent(eventType string, listID uuid.UUID, payload interface{}) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		ListID:    listID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SyncCompleted is the payload of TypeSyncCompleted.
type SyncCompleted struct {
	Marker       string      `json:"marker"`
	Pulled       int         `json:"pulled"`
	Pushed       int         `json:"pushed"`
	Conflicts    int         `json:"conflicts"`
	Deferred     int         `json:"deferred"`
	Rejected     int         `json:"rejected"`
	ChangedTasks []uuid.UUID `json:"changed_tasks,omitempty"`
	DurationMS   int64       `json:"duration_ms"`
}

// SyncFailed is the payload of TypeSyncFailed and TypeSyncReauthRequired.
// ChangedTasks lists local changes the failed pass applied before it
// stopped; they are kept even though the marker was not committed.
type SyncFailed struct {
	Error        string      `json:"error"`
	Retryable    bool        `json:"retryable"`
	Attempt      int         `json:"attempt"`
	ChangedTasks []uuid.UUID `json:"changed_tasks,omitempty"`
}

// ListCount is the payload of TypeListCountChanged.
type ListCount struct {
	Open int `json:"open"`
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}
