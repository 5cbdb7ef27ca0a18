package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/changetrack"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/ledger"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/provider"
	"github.com/phrazzld/tasksync/internal/store"
)

// maxApplyAttempts bounds how often one remote change is re-resolved after
// losing a race against a local edit.
const maxApplyAttempts = 2

// Reconciler runs sync passes. It holds no task state between passes.
type Reconciler struct {
	tasks     store.TaskStore
	bindings  store.BindingStore
	snapshots store.SnapshotStore
	tx        store.Transactor
	tracker   *changetrack.Tracker
	ledger    *ledger.Ledger
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	tasks store.TaskStore,
	bindings store.BindingStore,
	snapshots store.SnapshotStore,
	tx store.Transactor,
	tracker *changetrack.Tracker,
	ledger *ledger.Ledger,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		tasks:     tasks,
		bindings:  bindings,
		snapshots: snapshots,
		tx:        tx,
		tracker:   tracker,
		ledger:    ledger,
		logger:    logger.With(slog.String("component", "reconciler")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one sync pass for binding through adapter.
//
// Provider errors abort the pass before the marker is committed and are
// returned classified (provider.ErrProviderUnavailable, provider.ErrAuthExpired).
// Cancellation is honored after the pull and after every pushed item. The
// returned PassResult is never nil and reflects the work done so far.
func (r *Reconciler) Run(ctx context.Context, binding *domain.ListBinding, adapter provider.Adapter) (*PassResult, error) {
	log := logger.FromContextOrDefault(ctx, r.logger).With(
		slog.String("list_id", binding.ListID.String()),
		slog.String("provider", string(binding.ProviderKind)),
	)
	ctx = logger.WithLogger(ctx, log)

	p := &pass{
		r:           r,
		binding:     binding,
		adapter:     adapter,
		state:       StateIdle,
		snapshot:    make(map[string]string),
		softDeleted: make(map[uuid.UUID]bool),
		changed:     make(map[uuid.UUID]bool),
		log:         log,
		result: &PassResult{
			ListID:    binding.ListID,
			State:     StateIdle,
			StartedAt: r.now(),
		},
	}

	err := p.run(ctx)
	p.result.FinishedAt = r.now()
	if errors.Is(err, context.DeadlineExceeded) && !provider.IsTaxonomy(err) {
		err = fmt.Errorf("%w: %w", provider.ErrProviderUnavailable, err)
	}
	if err != nil {
		p.fail(err)
		return p.result, err
	}
	log.Info("sync pass committed",
		slog.Int("pulled", p.result.Pulled),
		slog.Int("pushed", p.result.Pushed),
		slog.Int("conflicts", p.result.Conflicts),
		slog.Int("deferred", p.result.Deferred),
		slog.Int("rejected", p.result.Rejected),
		slog.Duration("duration", p.result.FinishedAt.Sub(p.result.StartedAt)))
	return p.result, nil
}

// pass is the working state of one Run.
type pass struct {
	r       *Reconciler
	binding *domain.ListBinding
	adapter provider.Adapter
	state   State
	result  *PassResult
	// snapshot starts as the pulled remote enumeration and is patched with
	// push outcomes before it is committed.
	snapshot    map[string]string
	softDeleted map[uuid.UUID]bool
	changed     map[uuid.UUID]bool
	log         *slog.Logger
}

func (p *pass) run(ctx context.Context) error {
	listID := p.binding.ListID

	p.transition(StatePullStarted)
	pulled, err := p.adapter.Pull(ctx, p.binding)
	if err != nil {
		return fmt.Errorf("pull: %w", provider.Classify(err))
	}
	p.result.Pulled = len(pulled.Changes)
	if pulled.Snapshot != nil {
		p.snapshot = maps.Clone(pulled.Snapshot)
	}
	for _, ch := range pulled.Changes {
		if _, err := p.applyChange(ctx, ch); err != nil {
			return err
		}
	}
	p.transition(StatePullApplied)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.transition(StatePushStarted)
	dirty, err := p.r.tracker.CollectDirty(ctx, listID)
	if err != nil {
		return err
	}
	for _, task := range dirty {
		if p.softDeleted[task.ID] {
			continue
		}
		if err := p.pushTask(ctx, task); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	pending, err := p.r.ledger.PendingLocal(ctx, listID)
	if err != nil {
		return err
	}
	for _, ts := range pending {
		if ts.ProviderKind != p.binding.ProviderKind {
			continue
		}
		if err := p.pushDeletion(ctx, ts); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	p.transition(StatePushApplied)

	if err := p.commit(ctx, pulled.Marker); err != nil {
		return err
	}
	p.transition(StateCommitted)

	reaped, err := p.r.ledger.Reap(ctx, listID)
	if err != nil {
		p.log.Warn("failed to reap tombstones after commit", slog.String("error", err.Error()))
	}
	p.result.Reaped = reaped
	return nil
}

// applyChange resolves one remote change and applies the decision.
func (p *pass) applyChange(ctx context.Context, ch provider.RemoteChange) (Decision, error) {
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		local, err := p.lookupLocal(ctx, ch.RemoteID)
		if err != nil {
			return DecisionSkip, err
		}
		tombstone, err := p.r.ledger.Lookup(ctx, p.binding.ListID, ch.RemoteID)
		if err != nil {
			return DecisionSkip, err
		}

		in := Input{Change: ch, Local: local, Tombstone: tombstone, Compare: p.adapter.CompareMarkers}
		if local != nil {
			in.Ref, _ = local.RemoteFor(p.binding.ProviderKind, p.binding.RemoteListID)
		}
		decision := Resolve(in)

		done, err := p.apply(ctx, decision, in)
		if err != nil {
			return decision, err
		}
		if done {
			return decision, nil
		}
	}
	p.log.Debug("remote change left for next pass, task keeps changing locally",
		slog.String("remote_id", ch.RemoteID))
	return DecisionSkip, nil
}

// apply carries out a decision. It reports false if the local task changed
// underneath and the change must be resolved again.
func (p *pass) apply(ctx context.Context, decision Decision, in Input) (bool, error) {
	ch := in.Change

	switch decision {
	case DecisionSkip:
		return true, nil

	case DecisionConfirmTombstone:
		if err := p.r.ledger.Confirm(ctx, p.binding.ListID, ch.RemoteID); err != nil {
			return false, err
		}
		p.result.Confirmed++
		return true, nil

	case DecisionCreateLocal:
		task, err := p.newLocalTask(ch)
		if err != nil {
			p.log.Warn("skipping malformed remote item",
				slog.String("remote_id", ch.RemoteID),
				slog.String("error", err.Error()))
			return true, nil
		}
		if err := p.r.tasks.Create(ctx, task); err != nil {
			return false, fmt.Errorf("failed to create task for %s: %w", ch.RemoteID, err)
		}
		p.result.Created++
		p.markChanged(task.ID)
		return true, nil

	case DecisionSoftDelete:
		var deleted *domain.Task
		err := p.r.tx.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			task, ok, err := p.r.tracker.WithTx(tx).ApplyRemote(ctx, in.Local, func(t *domain.Task) {
				t.Deleted = true
			})
			if err != nil || !ok {
				return err
			}
			if err := p.r.ledger.WithTx(tx).RecordRemoteDeletion(ctx, task, p.binding, ch.RemoteID); err != nil {
				return err
			}
			deleted = task
			return nil
		})
		if err != nil || deleted == nil {
			return false, err
		}
		p.softDeleted[deleted.ID] = true
		p.result.Deleted++
		p.markChanged(deleted.ID)
		return true, nil

	case DecisionKeepLocal:
		p.result.Conflicts++
		p.log.Debug("conflict resolved for local edit",
			slog.String("task_id", in.Local.ID.String()),
			slog.String("remote_id", ch.RemoteID))
		// Push against the version just seen so the precondition holds.
		return true, p.setRemote(ctx, in.Local.ID, ch.RemoteID, ch.VersionMarker)

	case DecisionApplyRemote:
		if strings.TrimSpace(ch.Payload.Title) == "" {
			p.log.Warn("skipping malformed remote update",
				slog.String("remote_id", ch.RemoteID),
				slog.String("error", domain.ErrEmptyTaskTitle.Error()))
			return true, nil
		}
		updated, ok, err := p.r.tracker.ApplyRemote(ctx, in.Local, func(t *domain.Task) {
			ch.Payload.ApplyTo(t)
			if !ch.Payload.ModifiedAt.IsZero() {
				t.ModifiedAt = ch.Payload.ModifiedAt
			}
		})
		if err != nil || !ok {
			return false, err
		}
		if in.Local.Dirty {
			p.result.Conflicts++
			p.log.Debug("conflict resolved for remote edit",
				slog.String("task_id", in.Local.ID.String()),
				slog.String("remote_id", ch.RemoteID))
		}
		if err := p.setRemote(ctx, updated.ID, ch.RemoteID, ch.VersionMarker); err != nil {
			return false, err
		}
		p.result.Updated++
		p.markChanged(updated.ID)
		return true, nil
	}
	return false, fmt.Errorf("unhandled decision %s", decision)
}

func (p *pass) newLocalTask(ch provider.RemoteChange) (*domain.Task, error) {
	now := p.r.now()
	task := &domain.Task{
		ID:         uuid.New(),
		ListID:     p.binding.ListID,
		Revision:   1,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	ch.Payload.ApplyTo(task)
	if !ch.Payload.ModifiedAt.IsZero() {
		task.ModifiedAt = ch.Payload.ModifiedAt
	}
	task.SetRemote(p.binding.Remote(ch.RemoteID, ch.VersionMarker))
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

func (p *pass) lookupLocal(ctx context.Context, remoteID string) (*domain.Task, error) {
	task, err := p.r.tasks.FindByRemoteID(ctx, p.binding.ProviderKind, p.binding.RemoteListID, remoteID)
	if errors.Is(err, store.ErrTaskNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up task for %s: %w", remoteID, err)
	}
	return task, nil
}

func (p *pass) setRemote(ctx context.Context, taskID uuid.UUID, remoteID, marker string) error {
	if err := p.r.tasks.SetRemote(ctx, taskID, p.binding.Remote(remoteID, marker)); err != nil {
		return fmt.Errorf("failed to record remote id %s for task %s: %w", remoteID, taskID, err)
	}
	return nil
}

func (p *pass) itemFor(task *domain.Task) provider.PushItem {
	item := provider.PushItem{Task: task}
	if ref, ok := task.RemoteFor(p.binding.ProviderKind, p.binding.RemoteListID); ok {
		item.RemoteID = ref.RemoteID
		item.VersionMarker = ref.VersionMarker
	}
	return item
}

func (p *pass) pushOne(ctx context.Context, item provider.PushItem) (provider.PushResult, error) {
	results, err := p.adapter.Push(ctx, p.binding, []provider.PushItem{item})
	if err != nil {
		return provider.PushResult{}, fmt.Errorf("push task %s: %w", item.Task.ID, provider.Classify(err))
	}
	if len(results) != 1 {
		return provider.PushResult{}, fmt.Errorf("push task %s: %w: got %d results for one item",
			item.Task.ID, provider.ErrProviderUnavailable, len(results))
	}
	return results[0], nil
}

// pushTask pushes one dirty snapshot and drives it to a terminal outcome:
// applied, rejected-and-logged, or deferred to the next pass.
func (p *pass) pushTask(ctx context.Context, task domain.Task) error {
	res, err := p.pushOne(ctx, p.itemFor(&task))
	if err != nil {
		return err
	}

	switch {
	case res.Outcome == provider.OutcomeApplied:
		return p.recordApplied(ctx, &task, res)
	case res.Outcome == provider.OutcomeConflict, errors.Is(res.Err, provider.ErrNotFound):
		return p.resolvePushConflict(ctx, &task)
	default:
		return p.retryNormalized(ctx, &task, res)
	}
}

// retryNormalized re-sends a rejected task once in normalized form. A
// second rejection marks the revision rejected so it is not retried until
// the next local edit.
func (p *pass) retryNormalized(ctx context.Context, task *domain.Task, first provider.PushResult) error {
	normalized := task.Clone()
	normalized.Normalize()

	res, err := p.pushOne(ctx, p.itemFor(&normalized))
	if err != nil {
		return err
	}
	switch res.Outcome {
	case provider.OutcomeApplied:
		return p.recordApplied(ctx, task, res)
	case provider.OutcomeConflict:
		p.result.Deferred++
		return nil
	}

	p.result.Rejected++
	cause := res.Err
	if cause == nil {
		cause = first.Err
	}
	p.log.Warn("provider rejected task, skipping until next edit",
		slog.String("task_id", task.ID.String()),
		slog.Int64("revision", task.Revision),
		slog.Any("error", cause))
	return p.r.tracker.MarkRejected(ctx, task.ID, task.Revision)
}

// resolvePushConflict re-pulls the conflicting item, resolves it again and
// retries the push once if the local edit still wins.
func (p *pass) resolvePushConflict(ctx context.Context, task *domain.Task) error {
	ref, ok := task.RemoteFor(p.binding.ProviderKind, p.binding.RemoteListID)
	if !ok {
		p.result.Deferred++
		p.log.Info("create conflicted remotely, deferring", slog.String("task_id", task.ID.String()))
		return nil
	}

	ch, err := p.adapter.PullOne(ctx, p.binding, ref.RemoteID)
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref.RemoteID, provider.Classify(err))
	}
	if _, err := p.applyChange(ctx, *ch); err != nil {
		return err
	}

	current, err := p.r.tasks.GetByID(ctx, task.ID)
	if err != nil {
		return err
	}
	if current.Deleted || !current.Dirty {
		return nil
	}
	if ch.Kind != provider.ChangeDeleted && ch.VersionMarker != "" {
		if err := p.setRemote(ctx, current.ID, ref.RemoteID, ch.VersionMarker); err != nil {
			return err
		}
		current.SetRemote(p.binding.Remote(ref.RemoteID, ch.VersionMarker))
	}

	res, err := p.pushOne(ctx, p.itemFor(current))
	if err != nil {
		return err
	}
	switch res.Outcome {
	case provider.OutcomeApplied:
		return p.recordApplied(ctx, current, res)
	case provider.OutcomeConflict:
		p.result.Deferred++
		p.log.Info("push conflicted twice, deferring to next pass",
			slog.String("task_id", current.ID.String()))
		return nil
	default:
		p.result.Rejected++
		p.log.Warn("provider rejected task after conflict, skipping until next edit",
			slog.String("task_id", current.ID.String()),
			slog.Any("error", res.Err))
		return p.r.tracker.MarkRejected(ctx, current.ID, current.Revision)
	}
}

func (p *pass) recordApplied(ctx context.Context, task *domain.Task, res provider.PushResult) error {
	remoteID := res.NewRemoteID
	if remoteID == "" {
		if ref, ok := task.RemoteFor(p.binding.ProviderKind, p.binding.RemoteListID); ok {
			remoteID = ref.RemoteID
		}
	}
	if remoteID == "" {
		p.result.Deferred++
		p.log.Warn("provider applied a create without returning an id",
			slog.String("task_id", task.ID.String()))
		return nil
	}

	if err := p.setRemote(ctx, task.ID, remoteID, res.NewVersionMarker); err != nil {
		return err
	}
	p.snapshot[remoteID] = res.NewVersionMarker
	if _, err := p.r.tracker.ClearDirty(ctx, task.ID, task.Revision); err != nil {
		return err
	}
	p.result.Pushed++
	return nil
}

// pushDeletion propagates one local deletion. A concurrent remote edit does
// not save the item: the delete is retried once without a precondition.
// Not-found counts as success.
func (p *pass) pushDeletion(ctx context.Context, ts *domain.Tombstone) error {
	item := provider.PushItem{
		Task:     &domain.Task{ID: ts.TaskID, ListID: ts.ListID, Deleted: true},
		RemoteID: ts.RemoteID,
		Delete:   true,
	}
	if local, err := p.r.tasks.GetByID(ctx, ts.TaskID); err == nil {
		item.Task = local
		if ref, ok := local.RemoteFor(p.binding.ProviderKind, p.binding.RemoteListID); ok && ref.RemoteID == ts.RemoteID {
			item.VersionMarker = ref.VersionMarker
		}
	} else if !errors.Is(err, store.ErrTaskNotFound) {
		return err
	}

	res, err := p.pushOne(ctx, item)
	if err != nil {
		return err
	}
	if res.Outcome == provider.OutcomeConflict {
		item.VersionMarker = ""
		if res, err = p.pushOne(ctx, item); err != nil {
			return err
		}
	}

	switch {
	case res.Outcome == provider.OutcomeApplied, errors.Is(res.Err, provider.ErrNotFound):
		if err := p.r.ledger.Confirm(ctx, ts.ListID, ts.RemoteID); err != nil {
			return err
		}
		delete(p.snapshot, ts.RemoteID)
		p.result.Pushed++
		p.result.Confirmed++
	case res.Outcome == provider.OutcomeConflict:
		p.result.Deferred++
	default:
		p.result.Rejected++
		p.log.Warn("provider rejected deletion",
			slog.String("remote_id", ts.RemoteID),
			slog.Any("error", res.Err))
	}
	return nil
}

// commit stores the new list marker and remote snapshot atomically.
func (p *pass) commit(ctx context.Context, marker string) error {
	listID := p.binding.ListID
	err := p.r.tx.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := p.r.snapshots.WithTx(tx).ReplaceSnapshot(ctx, listID, p.snapshot); err != nil {
			return fmt.Errorf("failed to store remote snapshot: %w", err)
		}
		if err := p.r.bindings.WithTx(tx).CommitMarker(ctx, listID, marker, p.r.now()); err != nil {
			return fmt.Errorf("failed to commit change marker: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.result.Marker = marker
	return nil
}

func (p *pass) markChanged(id uuid.UUID) {
	if !p.changed[id] {
		p.changed[id] = true
		p.result.ChangedTasks = append(p.result.ChangedTasks, id)
	}
}

func (p *pass) transition(to State) {
	p.log.Debug("sync pass transition",
		slog.String("from", string(p.state)),
		slog.String("to", string(to)))
	p.state = to
	p.result.State = to
}

func (p *pass) fail(err error) {
	from := p.state
	p.transition(StateFailed)

	attrs := []any{slog.String("failed_in", string(from)), slog.String("error", err.Error())}
	switch {
	case errors.Is(err, context.Canceled):
		p.log.Info("sync pass cancelled", attrs...)
	case errors.Is(err, provider.ErrAuthExpired):
		p.log.Error("sync pass aborted, re-authorization required", attrs...)
	case errors.Is(err, provider.ErrProviderUnavailable):
		p.log.Warn("sync pass aborted, provider unavailable", attrs...)
	default:
		p.log.Error("sync pass failed", attrs...)
	}
}
