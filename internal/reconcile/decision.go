package reconcile

import (
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/provider"
)

// Decision is the action taken for one remote change.
type Decision int

// Decisions, in the order Resolve considers them.
const (
	DecisionSkip Decision = iota
	DecisionConfirmTombstone
	DecisionCreateLocal
	DecisionSoftDelete
	DecisionKeepLocal
	DecisionApplyRemote
)

func (d Decision) String() string {
	switch d {
	case DecisionSkip:
		return "skip"
	case DecisionConfirmTombstone:
		return "confirm_tombstone"
	case DecisionCreateLocal:
		return "create_local"
	case DecisionSoftDelete:
		return "soft_delete"
	case DecisionKeepLocal:
		return "keep_local"
	case DecisionApplyRemote:
		return "apply_remote"
	default:
		return "unknown"
	}
}

// Input is everything Resolve needs to know about one remote change.
type Input struct {
	Change provider.RemoteChange
	// Local is the task carrying Change.RemoteID on this list, soft-deleted
	// or not; nil if no local task does.
	Local *domain.Task
	// Ref is Local's reference on this list.
	Ref domain.RemoteRef
	// Tombstone is the ledger entry for Change.RemoteID, if any.
	Tombstone *domain.Tombstone
	// Compare orders version markers, see provider.Adapter.CompareMarkers.
	Compare func(a, b string) int
}

// Resolve decides what to do with one remote change. It is pure.
//
// Parameters:
//   - in: the remote change plus the local task, its reference and the
//     tombstone for the same remote id
//
// Returns:
//   - The Decision to apply
//
// Algorithm behavior:
//  1. A tombstoned remote id is never recreated. A deletion of a tombstoned
//     id confirms an unconfirmed tombstone whose revision is at least the
//     local one; anything else is skipped.
//  2. An unknown remote id is created locally; an unknown deletion is skipped.
//  3. A soft-deleted local task is never resurrected.
//  4. A create or update whose version marker is not newer than the one
//     already recorded is skipped, so re-delivered changes are idempotent.
//  5. A remote deletion soft-deletes the local task.
//  6. A remote edit against a dirty local task is a conflict: the local
//     edit is kept only if it is strictly newer than the remote
//     modification; the remote side wins ties.
//  7. Otherwise the remote payload is applied.
func Resolve(in Input) Decision {
	ch := in.Change

	if in.Tombstone != nil {
		if ch.Kind != provider.ChangeDeleted || in.Tombstone.Confirmed {
			return DecisionSkip
		}
		if in.Local != nil && in.Tombstone.DeletedAtRevision < in.Local.Revision {
			return DecisionSkip
		}
		return DecisionConfirmTombstone
	}

	if in.Local == nil {
		if ch.Kind == provider.ChangeDeleted || ch.Payload == nil {
			return DecisionSkip
		}
		return DecisionCreateLocal
	}

	if in.Local.Deleted {
		return DecisionSkip
	}

	if ch.Kind == provider.ChangeDeleted {
		return DecisionSoftDelete
	}

	if ch.Payload == nil {
		return DecisionSkip
	}

	if in.Ref.VersionMarker != "" && ch.VersionMarker != "" && in.Compare != nil &&
		in.Compare(ch.VersionMarker, in.Ref.VersionMarker) <= 0 {
		return DecisionSkip
	}

	if in.Local.Dirty && in.Local.ModifiedAt.After(ch.Payload.ModifiedAt) {
		return DecisionKeepLocal
	}
	return DecisionApplyRemote
}
