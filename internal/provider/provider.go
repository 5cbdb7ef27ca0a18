package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
)

// ChangeKind classifies a remote change.
type ChangeKind string

// Remote change kinds
const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Outcome is the terminal result of pushing one item.
type Outcome string

// Push outcomes
const (
	OutcomeApplied  Outcome = "applied"
	OutcomeConflict Outcome = "conflict"
	OutcomeRejected Outcome = "rejected"
)

// Field is a set of payload fields.
type Field uint8

// Payload fields some providers cannot store
const (
	FieldRecurrence Field = 1 << iota
	FieldPriority
	// FieldDueTime means the provider keeps due dates without a time of day.
	FieldDueTime
)

// RemoteTask is the provider-neutral payload of a remote task.
type RemoteTask struct {
	Title       string
	Notes       string
	DueAt       *time.Time
	DueHasTime  bool
	CompletedAt *time.Time
	Recurrence  string
	Priority    int
	// ModifiedAt is the provider's last-modification time, used for
	// last-write-wins against local edits.
	ModifiedAt time.Time
	// Unsupported marks fields the provider cannot store; ApplyTo keeps
	// the local values for them.
	Unsupported Field
}

// ApplyTo copies the payload onto a local task. Local-only fields
// (reminders, location, revision bookkeeping) are left untouched.
func (r *RemoteTask) ApplyTo(t *domain.Task) {
	t.Title = r.Title
	t.Notes = r.Notes
	t.CompletedAt = r.CompletedAt

	keepTime := r.Unsupported&FieldDueTime != 0 &&
		r.DueAt != nil && t.DueAt != nil && t.DueHasTime &&
		sameDate(*r.DueAt, *t.DueAt)
	if !keepTime {
		t.DueAt = r.DueAt
		t.DueHasTime = r.DueHasTime
	}
	if r.Unsupported&FieldRecurrence == 0 {
		t.Recurrence = r.Recurrence
	}
	if r.Unsupported&FieldPriority == 0 {
		t.Priority = r.Priority
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// FromTask builds the payload pushed for a local task.
func FromTask(t *domain.Task) *RemoteTask {
	c := t.Clone()
	return &RemoteTask{
		Title:       c.Title,
		Notes:       c.Notes,
		DueAt:       c.DueAt,
		DueHasTime:  c.DueHasTime,
		CompletedAt: c.CompletedAt,
		Recurrence:  c.Recurrence,
		Priority:    c.Priority,
		ModifiedAt:  c.ModifiedAt,
	}
}

// RemoteChange is one change observed on a remote list.
type RemoteChange struct {
	RemoteID string
	Kind     ChangeKind
	// Payload is nil for deletions.
	Payload       *RemoteTask
	VersionMarker string
}

// PullResult is the outcome of enumerating remote changes since the
// binding's committed marker.
type PullResult struct {
	Changes []RemoteChange
	// Marker is the list-level change marker to commit once the pass
	// finishes.
	Marker string
	// Snapshot is the full remote-id to version-marker map after this pull.
	// Adapters that track deltas natively return the committed snapshot
	// patched with the pulled changes.
	Snapshot map[string]string
}

// PushItem is one local change to send to the provider.
type PushItem struct {
	Task *domain.Task
	// RemoteID is empty for tasks never pushed to this list.
	RemoteID string
	// VersionMarker is the last known remote version, used as a
	// precondition.
	VersionMarker string
	// Delete requests removal of RemoteID.
	Delete bool
}

// PushResult reports the outcome of one PushItem.
type PushResult struct {
	TaskID           uuid.UUID
	RemoteID         string
	NewRemoteID      string
	NewVersionMarker string
	Outcome          Outcome
	// Err carries the classified cause of a rejected outcome.
	Err error
}

// Adapter is implemented once per provider kind.
type Adapter interface {
	// Kind returns the provider kind served by this adapter.
	Kind() domain.ProviderKind

	// Pull returns remote changes since binding.Marker. An empty marker
	// requests a full enumeration.
	Pull(ctx context.Context, binding *domain.ListBinding) (*PullResult, error)

	// PullOne fetches the current state of a single remote item. A remote
	// item that no longer exists is returned as a ChangeDeleted change.
	PullOne(ctx context.Context, binding *domain.ListBinding, remoteID string) (*RemoteChange, error)

	// Push sends items in order. Per-item failures are reported through
	// PushResult; a returned error aborts the push and means the
	// provider is unavailable or the credentials expired.
	Push(ctx context.Context, binding *domain.ListBinding, items []PushItem) ([]PushResult, error)

	// CompareMarkers orders two per-item version markers. It returns a
	// negative number when a is older than b, zero when they are equal and
	// a positive number when a is newer or the markers are unordered but
	// distinct.
	CompareMarkers(a, b string) int
}

// SnapshotReader gives adapters read-only access to the last committed
// remote snapshot of a list.
type SnapshotReader interface {
	Snapshot(ctx context.Context, listID uuid.UUID) (map[string]string, error)
}
