package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ProviderKind identifies a family of remote task providers.
type ProviderKind string

// Supported provider kinds
const (
	ProviderCalDAV      ProviderKind = "caldav"
	ProviderGoogleTasks ProviderKind = "google_tasks"
)

// Valid reports whether k is a provider kind the engine can sync.
func (k ProviderKind) Valid() bool {
	return k == ProviderCalDAV || k == ProviderGoogleTasks
}

// Priority values, lowest first.
const (
	PriorityNone   = 0
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
)

// MaxTitleLength bounds task titles after normalization.
const MaxTitleLength = 1024

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskListID  = errors.New("task list ID cannot be empty")
	ErrEmptyTaskTitle   = errors.New("task title cannot be empty")
	ErrInvalidPriority  = errors.New("invalid task priority")
	ErrNegativeRevision = errors.New("task revision cannot be negative")
)

// RemoteRef ties a local task to its identity on one remote list.
type RemoteRef struct {
	ProviderKind  ProviderKind `json:"provider_kind"`
	RemoteListID  string       `json:"remote_list_id"`
	RemoteID      string       `json:"remote_id"`
	VersionMarker string       `json:"version_marker"`
}

// Region is a circular geofence.
type Region struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// RadiusMeters is the fence radius in meters.
	RadiusMeters float64 `json:"radius_meters"`
	OnEnter      bool    `json:"on_enter"`
	OnExit       bool    `json:"on_exit"`
}

// Validate checks coordinate ranges and radius.
func (r Region) Validate() error {
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f", ErrInvalidRegion, r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f", ErrInvalidRegion, r.Longitude)
	}
	if r.RadiusMeters <= 0 {
		return fmt.Errorf("%w: radius must be positive", ErrInvalidRegion)
	}
	return nil
}

// Task is a locally owned task. The local store is the only owner; sync
// passes work on snapshots.
type Task struct {
	ID     uuid.UUID `json:"id"`
	ListID uuid.UUID `json:"list_id"`
	Title  string    `json:"title"`
	Notes  string    `json:"notes,omitempty"`

	// DueAt is nil when the task has no due date. DueHasTime distinguishes
	// a date-only due date (stored at midnight UTC) from a date-time.
	DueAt      *time.Time `json:"due_at,omitempty"`
	DueHasTime bool       `json:"due_has_time"`
	RemindAt   *time.Time `json:"remind_at,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Recurrence  string     `json:"recurrence,omitempty"`
	Location    *Region    `json:"location,omitempty"`
	Priority    int        `json:"priority"`

	Remotes []RemoteRef `json:"remotes,omitempty"`

	Dirty    bool  `json:"dirty"`
	Revision int64 `json:"revision"`
	// RejectedRevision records the revision a provider last rejected as
	// malformed; the task is not pushed again until it is edited.
	RejectedRevision int64 `json:"rejected_revision"`
	Deleted          bool  `json:"deleted"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewTask creates a new, locally dirty task in the given list.
func NewTask(listID uuid.UUID, title string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:         uuid.New(),
		ListID:     listID,
		Title:      title,
		Dirty:      true,
		Revision:   1,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.ListID == uuid.Nil {
		return ErrEmptyTaskListID
	}

	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTaskTitle
	}

	if t.Priority < PriorityNone || t.Priority > PriorityHigh {
		return ErrInvalidPriority
	}

	if t.Revision < 0 {
		return ErrNegativeRevision
	}

	if t.Location != nil {
		if err := t.Location.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// IsCompleted reports whether the task has a completion timestamp.
func (t *Task) IsCompleted() bool {
	return t.CompletedAt != nil
}

// RemoteFor returns the remote reference for a provider list, if any.
func (t *Task) RemoteFor(kind ProviderKind, remoteListID string) (RemoteRef, bool) {
	for _, ref := range t.Remotes {
		if ref.ProviderKind == kind && ref.RemoteListID == remoteListID {
			return ref, true
		}
	}
	return RemoteRef{}, false
}

// SetRemote inserts or replaces the reference for ref's provider list.
func (t *Task) SetRemote(ref RemoteRef) {
	for i := range t.Remotes {
		if t.Remotes[i].ProviderKind == ref.ProviderKind && t.Remotes[i].RemoteListID == ref.RemoteListID {
			t.Remotes[i] = ref
			return
		}
	}
	t.Remotes = append(t.Remotes, ref)
}

// Clone returns a deep copy so snapshots never alias stored state.
func (t Task) Clone() Task {
	c := t
	c.DueAt = cloneTime(t.DueAt)
	c.RemindAt = cloneTime(t.RemindAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	if t.Location != nil {
		loc := *t.Location
		c.Location = &loc
	}
	if t.Remotes != nil {
		c.Remotes = make([]RemoteRef, len(t.Remotes))
		copy(c.Remotes, t.Remotes)
	}
	return c
}

// Normalize rewrites user-entered fields into a canonical form: trimmed
// text without control characters, a bounded title, a clamped priority,
// and date-only due dates pinned to midnight UTC. It is applied before a
// push is retried after a provider rejected the payload.
func (t *Task) Normalize() {
	t.Title = truncateRunes(stripControl(strings.TrimSpace(t.Title)), MaxTitleLength)
	t.Notes = stripControl(strings.TrimSpace(t.Notes))
	t.Recurrence = strings.TrimSpace(t.Recurrence)

	if t.Priority < PriorityNone {
		t.Priority = PriorityNone
	}
	if t.Priority > PriorityHigh {
		t.Priority = PriorityHigh
	}

	if t.DueAt != nil && !t.DueHasTime {
		d := DateOnly(*t.DueAt)
		t.DueAt = &d
	}
}

// ScheduleFingerprint summarizes the fields that drive alarm and geofence
// triggers. Two snapshots with the same fingerprint produce the same
// triggers.
func (t *Task) ScheduleFingerprint() string {
	var b strings.Builder
	b.WriteString(formatOptionalTime(t.DueAt))
	fmt.Fprintf(&b, "|%t|", t.DueHasTime)
	b.WriteString(formatOptionalTime(t.RemindAt))
	b.WriteString("|")
	b.WriteString(t.Recurrence)
	if t.Location != nil {
		fmt.Fprintf(&b, "|%.6f,%.6f,%.1f,%t,%t",
			t.Location.Latitude, t.Location.Longitude, t.Location.RadiusMeters,
			t.Location.OnEnter, t.Location.OnExit)
	}
	fmt.Fprintf(&b, "|%t|%t", t.IsCompleted(), t.Deleted)
	return b.String()
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
