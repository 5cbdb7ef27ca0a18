package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriggerKind identifies what fires a pending trigger.
type TriggerKind string

// Trigger kinds
const (
	TriggerTime          TriggerKind = "time"
	TriggerGeofenceEnter TriggerKind = "geofence_enter"
	TriggerGeofenceExit  TriggerKind = "geofence_exit"
)

// PendingTrigger is a reminder handed to the external job runner. Exactly
// one of ScheduledAt and Region is set, depending on Kind.
type PendingTrigger struct {
	TaskID      uuid.UUID   `json:"task_id"`
	Kind        TriggerKind `json:"kind"`
	ScheduledAt *time.Time  `json:"scheduled_at,omitempty"`
	Region      *Region     `json:"region,omitempty"`
	Generation  int64       `json:"generation"`
}

// Key is the stable composite key used to dedupe external jobs.
func (p PendingTrigger) Key() string {
	return TriggerKey(p.TaskID, p.Generation, p.Kind)
}

// TriggerKey formats the dedupe key for a task, generation and kind.
func TriggerKey(taskID uuid.UUID, generation int64, kind TriggerKind) string {
	return fmt.Sprintf("trigger/%s/%d/%s", taskID, generation, kind)
}

// ParseTriggerKey is the inverse of TriggerKey.
func ParseTriggerKey(key string) (uuid.UUID, int64, TriggerKind, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "trigger" {
		return uuid.Nil, 0, "", fmt.Errorf("%w: trigger key %q", ErrInvalidFormat, key)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, 0, "", fmt.Errorf("%w: trigger key %q", ErrInvalidID, key)
	}
	gen, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return uuid.Nil, 0, "", fmt.Errorf("%w: trigger generation %q", ErrInvalidFormat, parts[2])
	}
	return id, gen, TriggerKind(parts[3]), nil
}
