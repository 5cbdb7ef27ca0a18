package reconcile

import (
	"time"

	"github.com/google/uuid"
)

// State is a sync pass state.
type State string

// Pass states
const (
	StateIdle        State = "idle"
	StatePullStarted State = "pull_started"
	StatePullApplied State = "pull_applied"
	StatePushStarted State = "push_started"
	StatePushApplied State = "push_applied"
	StateCommitted   State = "committed"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// PassResult summarizes one sync pass.
type PassResult struct {
	ListID uuid.UUID `json:"list_id"`
	State  State     `json:"state"`
	// Marker is the list-level marker committed by the pass; empty unless
	// State is StateCommitted.
	Marker string `json:"marker,omitempty"`

	Pulled    int `json:"pulled"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Conflicts int `json:"conflicts"`
	Pushed    int `json:"pushed"`
	Deferred  int `json:"deferred"`
	Rejected  int `json:"rejected"`
	Confirmed int `json:"confirmed"`
	Reaped    int `json:"reaped"`

	// ChangedTasks lists tasks whose local state was changed by the pull.
	ChangedTasks []uuid.UUID `json:"changed_tasks,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
