package googletasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/phrazzld/tasksync/internal/credentials"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/provider"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	tasks "google.golang.org/api/tasks/v1"
)

const (
	providerName = "google_tasks"

	statusCompleted   = "completed"
	statusNeedsAction = "needsAction"
)

// Adapter implements provider.Adapter over a Tasks API Client.
type Adapter struct {
	client    Client
	snapshots provider.SnapshotReader
	logger    *slog.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(client Client, snapshots provider.SnapshotReader, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:    client,
		snapshots: snapshots,
		logger:    logger.With(slog.String("component", "google_tasks_adapter")),
	}
}

// NewFactory returns a provider.Factory that opens the binding's OAuth
// credentials from the vault. Refreshed tokens are written back and each
// account shares one rate limiter across passes.
func NewFactory(
	vault *credentials.Vault,
	snapshots provider.SnapshotReader,
	oauthConfig *oauth2.Config,
	requestsPerSecond float64,
	logger *slog.Logger,
) provider.Factory {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(ref string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[ref]
		if !ok {
			burst := int(math.Max(1, math.Ceil(requestsPerSecond)))
			l = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
			limiters[ref] = l
		}
		return l
	}

	return func(ctx context.Context, binding *domain.ListBinding) (provider.Adapter, error) {
		creds, err := vault.Get(ctx, binding.CredentialsRef)
		if err != nil {
			if errors.Is(err, credentials.ErrNotFound) || errors.Is(err, credentials.ErrCorrupt) {
				return nil, provider.NewError(providerName, "connect", "", fmt.Errorf("%w: %v", provider.ErrAuthExpired, err))
			}
			return nil, err
		}
		if creds.RefreshToken == "" && creds.AccessToken == "" {
			return nil, provider.NewError(providerName, "connect", "", fmt.Errorf("%w: no token stored", provider.ErrAuthExpired))
		}
		ts := credentials.NewPersistingTokenSource(ctx, vault, binding.CredentialsRef, creds, oauthConfig, logger)
		client, err := NewAPIClient(ctx, ts, limiterFor(binding.CredentialsRef))
		if err != nil {
			return nil, err
		}
		return NewAdapter(client, snapshots, logger), nil
	}
}

// Kind implements provider.Adapter.
func (a *Adapter) Kind() domain.ProviderKind {
	return domain.ProviderGoogleTasks
}

// Pull implements provider.Adapter. Ids gone from the enumeration become
// deletions; ids missing from the snapshot are creations.
func (a *Adapter) Pull(ctx context.Context, binding *domain.ListBinding) (*provider.PullResult, error) {
	snapshot, err := a.snapshots.Snapshot(ctx, binding.ListID)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote snapshot: %w", err)
	}

	items, err := a.client.ListTasks(ctx, binding.RemoteListID)
	if err != nil {
		return nil, provider.NewError(providerName, "pull", "", err)
	}
	etag, err := a.client.ListEtag(ctx, binding.RemoteListID)
	if err != nil {
		return nil, provider.NewError(providerName, "pull", "", err)
	}

	next := make(map[string]string, len(items))
	res := &provider.PullResult{Marker: etag, Snapshot: next}
	for _, item := range items {
		if item.Deleted {
			continue
		}
		prev, known := snapshot[item.Id]
		if known && prev == item.Updated {
			next[item.Id] = item.Updated
			continue
		}
		payload, err := fromAPI(item)
		if err != nil {
			a.logger.Warn("skipping malformed remote item",
				slog.String("remote_id", item.Id),
				slog.String("error", err.Error()))
			// Keep the last good version so the item is neither deleted
			// nor taken as seen.
			if known {
				next[item.Id] = prev
			}
			continue
		}
		next[item.Id] = item.Updated
		kind := provider.ChangeUpdated
		if !known {
			kind = provider.ChangeCreated
		}
		res.Changes = append(res.Changes, provider.RemoteChange{
			RemoteID:      item.Id,
			Kind:          kind,
			Payload:       payload,
			VersionMarker: item.Updated,
		})
	}
	for id := range snapshot {
		if _, live := next[id]; !live {
			res.Changes = append(res.Changes, provider.RemoteChange{RemoteID: id, Kind: provider.ChangeDeleted})
		}
	}
	return res, nil
}

// PullOne implements provider.Adapter.
func (a *Adapter) PullOne(ctx context.Context, binding *domain.ListBinding, remoteID string) (*provider.RemoteChange, error) {
	item, err := a.client.GetTask(ctx, binding.RemoteListID, remoteID)
	if errors.Is(err, provider.ErrNotFound) || (err == nil && item.Deleted) {
		return &provider.RemoteChange{RemoteID: remoteID, Kind: provider.ChangeDeleted}, nil
	}
	if err != nil {
		return nil, provider.NewError(providerName, "pull_one", remoteID, err)
	}
	payload, err := fromAPI(item)
	if err != nil {
		return nil, provider.NewError(providerName, "pull_one", remoteID, fmt.Errorf("%w: %v", provider.ErrMalformed, err))
	}
	return &provider.RemoteChange{
		RemoteID:      remoteID,
		Kind:          provider.ChangeUpdated,
		Payload:       payload,
		VersionMarker: item.Updated,
	}, nil
}

// Push implements provider.Adapter.
func (a *Adapter) Push(ctx context.Context, binding *domain.ListBinding, items []provider.PushItem) ([]provider.PushResult, error) {
	results := make([]provider.PushResult, 0, len(items))
	for _, item := range items {
		res, err := a.pushOne(ctx, binding, item)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (a *Adapter) pushOne(ctx context.Context, binding *domain.ListBinding, item provider.PushItem) (provider.PushResult, error) {
	res := provider.PushResult{TaskID: item.Task.ID, RemoteID: item.RemoteID}
	listID := binding.RemoteListID

	var (
		op  string
		err error
	)
	switch {
	case item.Delete:
		op = "delete"
		err = a.precondition(ctx, listID, item)
		if err == nil {
			err = a.client.DeleteTask(ctx, listID, item.RemoteID)
		}
		if errors.Is(err, provider.ErrNotFound) {
			err = nil
		}

	case item.RemoteID == "":
		op = "create"
		var created *tasks.Task
		created, err = a.client.InsertTask(ctx, listID, toAPI(item.Task))
		if err == nil {
			res.NewRemoteID = created.Id
			res.NewVersionMarker = created.Updated
		}

	default:
		op = "update"
		var current *tasks.Task
		current, err = a.client.GetTask(ctx, listID, item.RemoteID)
		if err == nil && (current.Deleted || (item.VersionMarker != "" && current.Updated != item.VersionMarker)) {
			err = provider.ErrConflict
			if current.Deleted {
				err = provider.ErrNotFound
			}
		}
		if err == nil {
			body := toAPI(item.Task)
			body.Id = item.RemoteID
			var updated *tasks.Task
			updated, err = a.client.UpdateTask(ctx, listID, body, current.Etag)
			if err == nil {
				res.NewVersionMarker = updated.Updated
			}
		}
	}

	switch {
	case err == nil:
		res.Outcome = provider.OutcomeApplied
	case errors.Is(err, provider.ErrConflict):
		res.Outcome = provider.OutcomeConflict
	case errors.Is(err, provider.ErrProviderUnavailable),
		errors.Is(err, provider.ErrAuthExpired),
		errors.Is(err, context.Canceled):
		return res, provider.NewError(providerName, op, item.RemoteID, err)
	default:
		res.Outcome = provider.OutcomeRejected
		res.Err = provider.NewError(providerName, op, item.RemoteID, err)
	}
	return res, nil
}

// precondition emulates If-Match for deletes, which the API does not
// support: a delete carrying a version marker fails as a conflict when the
// remote item changed since.
func (a *Adapter) precondition(ctx context.Context, listID string, item provider.PushItem) error {
	if item.VersionMarker == "" {
		return nil
	}
	current, err := a.client.GetTask(ctx, listID, item.RemoteID)
	if err != nil {
		return err
	}
	if current.Deleted {
		return provider.ErrNotFound
	}
	if current.Updated != item.VersionMarker {
		return provider.ErrConflict
	}
	return nil
}

// CompareMarkers implements provider.Adapter. Markers are RFC 3339
// timestamps; unparsable markers fall back to inequality.
func (a *Adapter) CompareMarkers(x, y string) int {
	if x == y {
		return 0
	}
	tx, errX := time.Parse(time.RFC3339Nano, x)
	ty, errY := time.Parse(time.RFC3339Nano, y)
	if errX != nil || errY != nil {
		return 1
	}
	return tx.Compare(ty)
}

func toAPI(t *domain.Task) *tasks.Task {
	out := &tasks.Task{
		Title:  t.Title,
		Notes:  t.Notes,
		Status: statusNeedsAction,
	}
	if t.DueAt != nil {
		// The API keeps only the date part of due.
		y, m, d := t.DueAt.UTC().Date()
		out.Due = time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	} else {
		out.NullFields = append(out.NullFields, "Due")
	}
	if t.CompletedAt != nil {
		out.Status = statusCompleted
		completed := t.CompletedAt.UTC().Format(time.RFC3339)
		out.Completed = &completed
	} else {
		out.NullFields = append(out.NullFields, "Completed")
	}
	return out
}

func fromAPI(item *tasks.Task) (*provider.RemoteTask, error) {
	out := &provider.RemoteTask{
		Title:       item.Title,
		Notes:       item.Notes,
		Unsupported: provider.FieldRecurrence | provider.FieldPriority | provider.FieldDueTime,
	}
	if item.Updated != "" {
		updated, err := time.Parse(time.RFC3339Nano, item.Updated)
		if err != nil {
			return nil, fmt.Errorf("updated: %w", err)
		}
		out.ModifiedAt = updated.UTC()
	}
	if item.Due != "" {
		due, err := time.Parse(time.RFC3339Nano, item.Due)
		if err != nil {
			return nil, fmt.Errorf("due: %w", err)
		}
		y, m, d := due.UTC().Date()
		date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		out.DueAt = &date
	}
	switch {
	case item.Completed != nil && *item.Completed != "":
		completed, err := time.Parse(time.RFC3339Nano, *item.Completed)
		if err != nil {
			return nil, fmt.Errorf("completed: %w", err)
		}
		completed = completed.UTC()
		out.CompletedAt = &completed
	case item.Status == statusCompleted:
		at := out.ModifiedAt
		out.CompletedAt = &at
	}
	return out, nil
}

var _ provider.Adapter = (*Adapter)(nil)
