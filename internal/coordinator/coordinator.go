package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/events"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/provider"
	"github.com/phrazzld/tasksync/internal/reconcile"
	"github.com/phrazzld/tasksync/internal/store"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// ErrNeedsReauth is returned for lists paused after their credentials expired.
var ErrNeedsReauth = errors.New("list needs re-authorization")

// PassRunner runs one sync pass. *reconcile.Reconciler implements it.
type PassRunner interface {
	Run(ctx context.Context, binding *domain.ListBinding, adapter provider.Adapter) (*reconcile.PassResult, error)
}

// AdapterSource builds provider adapters. *provider.Registry implements it.
type AdapterSource interface {
	AdapterFor(ctx context.Context, binding *domain.ListBinding) (provider.Adapter, error)
}

// Reaper reaps tombstones of unlinked lists. *ledger.Ledger implements it.
type Reaper interface {
	ReapOrphaned(ctx context.Context) (int, error)
}

// Config holds the coordinator settings.
type Config struct {
	// Interval between periodic sync rounds. Zero disables the ticker.
	Interval time.Duration
	// MaxConcurrentLists bounds SyncAll fan-out.
	MaxConcurrentLists int
	// PassTimeout bounds one pass attempt; exceeding it counts as the
	// provider being unavailable.
	PassTimeout time.Duration
	// RetryBaseDelay is the first backoff delay, doubled per retry.
	RetryBaseDelay time.Duration
	// MaxRetries bounds retries of passes that failed as unavailable.
	MaxRetries int
}

// ListStatus is the externally visible sync state of one list.
type ListStatus struct {
	ListID       uuid.UUID             `json:"list_id"`
	Running      bool                  `json:"running"`
	NeedsReauth  bool                  `json:"needs_reauth"`
	LastResult   *reconcile.PassResult `json:"last_result,omitempty"`
	LastError    string                `json:"last_error,omitempty"`
	LastSyncedAt *time.Time            `json:"last_synced_at,omitempty"`
	Attempts     int                   `json:"attempts"`
}

type listState struct {
	running     bool
	followUp    bool
	needsReauth bool
	cancel      context.CancelFunc
	// done is closed when the current run, follow-ups included, ends.
	done   chan struct{}
	status ListStatus
}

// Coordinator schedules sync passes across lists.
type Coordinator struct {
	bindings store.BindingStore
	adapters AdapterSource
	runner   PassRunner
	reaper   Reaper
	emitter  events.EventEmitter
	config   Config
	logger   *slog.Logger

	mu    sync.Mutex
	lists map[uuid.UUID]*listState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator. emitter and reaper may be nil.
func New(
	bindings store.BindingStore,
	adapters AdapterSource,
	runner PassRunner,
	reaper Reaper,
	emitter events.EventEmitter,
	config Config,
	logger *slog.Logger,
) *Coordinator {
	if config.MaxConcurrentLists <= 0 {
		config.MaxConcurrentLists = 4
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 2 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		bindings: bindings,
		adapters: adapters,
		runner:   runner,
		reaper:   reaper,
		emitter:  emitter,
		config:   config,
		logger:   logger.With(slog.String("component", "sync_coordinator")),
		lists:    make(map[uuid.UUID]*listState),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the periodic sync ticker. It returns immediately; Stop
// ends the ticker and every in-flight pass.
func (c *Coordinator) Start(ctx context.Context) {
	if c.config.Interval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()

		c.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

func (c *Coordinator) tick(ctx context.Context) {
	if err := c.TriggerAll(ctx); err != nil {
		c.logger.Error("periodic sync round failed", slog.String("error", err.Error()))
	}
	if c.reaper == nil {
		return
	}
	if n, err := c.reaper.ReapOrphaned(ctx); err != nil {
		c.logger.Warn("failed to reap tombstones of unlinked lists", slog.String("error", err.Error()))
	} else if n > 0 {
		c.logger.Info("reaped tombstones of unlinked lists", slog.Int("count", n))
	}
}

// Stop cancels in-flight passes and waits for background work to end.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Trigger requests a pass for a list without waiting for it. A trigger that
// arrives while a pass is in flight is folded into one follow-up pass.
func (c *Coordinator) Trigger(listID uuid.UUID) {
	st, _ := c.acquire(listID, true)
	if st == nil {
		return
	}
	c.drain(listID, st, false)
}

// TriggerAll triggers every bound list that is not paused.
func (c *Coordinator) TriggerAll(ctx context.Context) error {
	bindings, err := c.bindings.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list bindings: %w", err)
	}
	for _, b := range bindings {
		if c.paused(b.ListID) {
			continue
		}
		c.Trigger(b.ListID)
	}
	return nil
}

// SyncNow runs a pass for a list and waits for it. If a pass is already in
// flight, SyncNow waits for it to finish and then runs its own.
func (c *Coordinator) SyncNow(ctx context.Context, listID uuid.UUID) (*reconcile.PassResult, error) {
	var st *listState
	for {
		var wait <-chan struct{}
		st, wait = c.acquire(listID, false)
		if st != nil {
			break
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res, err := c.runPass(ctx, listID, st)
	c.drain(listID, st, true)
	return res, err
}

// SyncAll runs a pass for every bound list that is not paused, at most
// MaxConcurrentLists at a time, and waits for all of them. Failures of
// individual lists are joined into the returned error.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	bindings, err := c.bindings.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list bindings: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrentLists)
	for _, b := range bindings {
		listID := b.ListID
		if c.paused(listID) {
			continue
		}
		g.Go(func() error {
			if _, err := c.SyncNow(gctx, listID); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("list %s: %w", listID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Cancel aborts the in-flight pass of a list, if any, and drops a pending
// follow-up. The aborted pass leaves the committed marker untouched.
func (c *Coordinator) Cancel(listID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.lists[listID]
	if !ok {
		return
	}
	st.followUp = false
	if st.cancel != nil {
		st.cancel()
	}
}

// Forget drops the state of a list that was unlinked. A pass still in
// flight is cancelled.
func (c *Coordinator) Forget(listID uuid.UUID) {
	c.Cancel(listID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.lists[listID]; ok && !st.running {
		delete(c.lists, listID)
	}
}

// ResumeAuth lifts the re-authorization pause of a list and triggers a pass.
func (c *Coordinator) ResumeAuth(listID uuid.UUID) {
	c.mu.Lock()
	st := c.state(listID)
	st.needsReauth = false
	st.status.NeedsReauth = false
	c.mu.Unlock()

	c.logger.Info("list re-authorized, resuming sync", slog.String("list_id", listID.String()))
	c.Trigger(listID)
}

// Status returns the sync state of a list.
func (c *Coordinator) Status(listID uuid.UUID) (ListStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.lists[listID]
	if !ok {
		return ListStatus{ListID: listID}, false
	}
	return st.snapshot(), true
}

// Statuses returns the sync state of every list seen so far.
func (c *Coordinator) Statuses() []ListStatus {
	c.mu.Lock()
	out := make([]ListStatus, 0, len(c.lists))
	for _, st := range c.lists {
		out = append(out, st.snapshot())
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ListID.String() < out[j].ListID.String() })
	return out
}

func (s *listState) snapshot() ListStatus {
	out := s.status
	out.Running = s.running
	out.NeedsReauth = s.needsReauth
	return out
}

// state returns the state of a list, creating it. Callers hold c.mu.
func (c *Coordinator) state(listID uuid.UUID) *listState {
	st, ok := c.lists[listID]
	if !ok {
		st = &listState{status: ListStatus{ListID: listID}}
		c.lists[listID] = st
	}
	return st
}

func (c *Coordinator) paused(listID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.lists[listID]
	return ok && st.needsReauth
}

// acquire takes the per-list token. If a pass is in flight it returns nil
// and a channel closed when that pass ends; with coalesce set it also
// records a follow-up request.
func (c *Coordinator) acquire(listID uuid.UUID, coalesce bool) (*listState, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(listID)
	if st.running {
		if coalesce {
			st.followUp = true
		}
		return nil, st.done
	}
	st.running = true
	st.done = make(chan struct{})
	return st, nil
}

// release gives the token back unless a follow-up was requested, in which
// case the caller keeps it and must run again.
func (c *Coordinator) release(st *listState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.followUp && !st.needsReauth && c.ctx.Err() == nil {
		st.followUp = false
		return false
	}
	st.followUp = false
	st.running = false
	st.cancel = nil
	close(st.done)
	return true
}

// drain runs passes in the background while follow-ups keep arriving.
// With ranOnce set the caller already ran a pass under the token.
func (c *Coordinator) drain(listID uuid.UUID, st *listState, ranOnce bool) {
	if ranOnce && c.release(st) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			_, _ = c.runPass(c.ctx, listID, st)
			if c.release(st) {
				return
			}
		}
	}()
}

// runPass runs one pass for a list under its token, retrying with
// exponential backoff while the provider is unavailable.
func (c *Coordinator) runPass(ctx context.Context, listID uuid.UUID, st *listState) (*reconcile.PassResult, error) {
	log := logger.FromContextOrDefault(ctx, c.logger).With(slog.String("list_id", listID.String()))

	c.mu.Lock()
	if st.needsReauth {
		c.mu.Unlock()
		return nil, ErrNeedsReauth
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	st.cancel = cancel
	c.mu.Unlock()
	defer stop()
	defer cancel()

	c.emit(ctx, events.TypeSyncStarted, listID, nil)

	var (
		result   *reconcile.PassResult
		attempts int
		changed  []uuid.UUID
	)
	backoff := retry.WithMaxRetries(uint64(c.config.MaxRetries), retry.NewExponential(c.config.RetryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		res, err := c.attempt(ctx, listID)
		if res != nil {
			result = res
			// A retried attempt skips changes an earlier attempt already
			// applied, so the union is what the pass changed.
			changed = mergeIDs(changed, res.ChangedTasks)
		}
		if provider.Retryable(err) {
			log.Warn("sync attempt failed, will retry",
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})

	if result != nil {
		result.ChangedTasks = changed
	}
	c.finish(ctx, listID, st, result, attempts, err)
	return result, err
}

func mergeIDs(into, ids []uuid.UUID) []uuid.UUID {
	for _, id := range ids {
		if !slices.Contains(into, id) {
			into = append(into, id)
		}
	}
	return into
}

func (c *Coordinator) attempt(ctx context.Context, listID uuid.UUID) (*reconcile.PassResult, error) {
	binding, err := c.bindings.Get(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to load binding: %w", err)
	}
	adapter, err := c.adapters.AdapterFor(ctx, binding)
	if err != nil {
		return nil, err
	}
	if c.config.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.PassTimeout)
		defer cancel()
	}
	return c.runner.Run(ctx, binding, adapter)
}

func (c *Coordinator) finish(ctx context.Context, listID uuid.UUID, st *listState, result *reconcile.PassResult, attempts int, err error) {
	c.mu.Lock()
	st.status.Attempts = attempts
	if result != nil {
		st.status.LastResult = result
	}
	if err == nil {
		st.status.LastError = ""
		if result != nil {
			at := result.FinishedAt
			st.status.LastSyncedAt = &at
		}
	} else {
		st.status.LastError = err.Error()
	}
	if errors.Is(err, provider.ErrAuthExpired) {
		st.needsReauth = true
	}
	c.mu.Unlock()

	// Events must go out even when the pass itself was cancelled.
	emitCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		payload := events.SyncCompleted{}
		if result != nil {
			payload = events.SyncCompleted{
				Marker:       result.Marker,
				Pulled:       result.Pulled,
				Pushed:       result.Pushed,
				Conflicts:    result.Conflicts,
				Deferred:     result.Deferred,
				Rejected:     result.Rejected,
				ChangedTasks: result.ChangedTasks,
				DurationMS:   result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
			}
		}
		c.emit(emitCtx, events.TypeSyncCompleted, listID, payload)
	case errors.Is(err, provider.ErrAuthExpired):
		c.logger.Warn("sync paused until list is re-authorized", slog.String("list_id", listID.String()))
		c.emit(emitCtx, events.TypeSyncReauthRequired, listID, events.SyncFailed{
			Error:        err.Error(),
			Attempt:      attempts,
			ChangedTasks: changedTasks(result),
		})
	default:
		c.emit(emitCtx, events.TypeSyncFailed, listID, events.SyncFailed{
			Error:        err.Error(),
			Retryable:    provider.Retryable(err),
			Attempt:      attempts,
			ChangedTasks: changedTasks(result),
		})
	}
}

func changedTasks(result *reconcile.PassResult) []uuid.UUID {
	if result == nil {
		return nil
	}
	return result.ChangedTasks
}

func (c *Coordinator) emit(ctx context.Context, eventType string, listID uuid.UUID, payload interface{}) {
	if c.emitter == nil {
		return
	}
	event, err := events.NewEvent(eventType, listID, payload)
	if err != nil {
		c.logger.Error("failed to build event", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	if err := c.emitter.EmitEvent(ctx, event); err != nil {
		c.logger.Warn("event handler failed",
			slog.String("type", eventType),
			slog.String("list_id", listID.String()),
			slog.String("error", err.Error()))
	}
}
