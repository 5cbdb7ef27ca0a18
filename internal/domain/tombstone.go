package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeletionOrigin records which side observed a deletion first.
type DeletionOrigin string

// Deletion origins
const (
	DeletionLocal  DeletionOrigin = "local"
	DeletionRemote DeletionOrigin = "remote"
)

// Tombstone marks a deleted task so the deletion propagates exactly once
// and a late remote create cannot resurrect it.
type Tombstone struct {
	TaskID            uuid.UUID      `json:"task_id"`
	ListID            uuid.UUID      `json:"list_id"`
	ProviderKind      ProviderKind   `json:"provider_kind"`
	RemoteID          string         `json:"remote_id"`
	DeletedAtRevision int64          `json:"deleted_at_revision"`
	Origin            DeletionOrigin `json:"origin"`

	// Confirmed is set once both sides agree the task is gone.
	Confirmed bool `json:"confirmed"`

	// ListRemovedAt is set when the binding was unlinked; unconfirmed
	// tombstones of removed lists are reaped after the retention window.
	ListRemovedAt *time.Time `json:"list_removed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Reapable reports whether the tombstone can be garbage-collected at now.
func (t *Tombstone) Reapable(now time.Time, retention time.Duration) bool {
	if t.Confirmed {
		return true
	}
	return t.ListRemovedAt != nil && now.Sub(*t.ListRemovedAt) >= retention
}
