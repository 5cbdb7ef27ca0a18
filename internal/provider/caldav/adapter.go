package caldav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/tasksync/internal/credentials"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/provider"
)

const providerName = "caldav"

// Adapter implements provider.Adapter over a CalDAV Client.
type Adapter struct {
	client    Client
	snapshots provider.SnapshotReader
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	uids map[string]string
}

// NewAdapter creates an Adapter.
func NewAdapter(client Client, snapshots provider.SnapshotReader, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:    client,
		snapshots: snapshots,
		logger:    logger.With(slog.String("component", "caldav_adapter")),
		now:       func() time.Time { return time.Now().UTC() },
		uids:      make(map[string]string),
	}
}

// NewFactory returns a provider.Factory that resolves a binding's
// credentials through the vault and connects to the CalDAV server they
// name. Missing credentials mean the account must be linked again.
func NewFactory(vault *credentials.Vault, snapshots provider.SnapshotReader, timeout time.Duration, logger *slog.Logger) provider.Factory {
	hc := &http.Client{Timeout: timeout}
	return func(ctx context.Context, binding *domain.ListBinding) (provider.Adapter, error) {
		creds, err := vault.Get(ctx, binding.CredentialsRef)
		if err != nil {
			if errors.Is(err, credentials.ErrNotFound) || errors.Is(err, credentials.ErrCorrupt) {
				return nil, provider.NewError(providerName, "connect", "", fmt.Errorf("%w: %v", provider.ErrAuthExpired, err))
			}
			return nil, err
		}
		client, err := NewHTTPClient(creds.BaseURL, creds.Username, creds.Password, hc)
		if err != nil {
			return nil, provider.NewError(providerName, "connect", "", fmt.Errorf("%w: %v", provider.ErrAuthExpired, err))
		}
		return NewAdapter(client, snapshots, logger), nil
	}
}

// Kind implements provider.Adapter.
func (a *Adapter) Kind() domain.ProviderKind {
	return domain.ProviderCalDAV
}

// Pull implements provider.Adapter. A rejected sync-token falls back to a
// full enumeration diffed against the committed snapshot.
func (a *Adapter) Pull(ctx context.Context, binding *domain.ListBinding) (*provider.PullResult, error) {
	snapshot, err := a.snapshots.Snapshot(ctx, binding.ListID)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote snapshot: %w", err)
	}

	if binding.Marker != "" {
		res, err := a.client.SyncCollection(ctx, binding.RemoteListID, binding.Marker)
		if err == nil {
			return a.applyDelta(snapshot, res), nil
		}
		if !errors.Is(err, ErrInvalidSyncToken) {
			return nil, provider.NewError(providerName, "pull", "", err)
		}
		a.logger.Warn("sync token rejected, enumerating collection",
			slog.String("list_id", binding.ListID.String()))
	}

	res, err := a.client.SyncCollection(ctx, binding.RemoteListID, "")
	if err != nil {
		return nil, provider.NewError(providerName, "pull", "", err)
	}
	return a.diffFull(snapshot, res), nil
}

func (a *Adapter) applyDelta(snapshot map[string]string, res *SyncResult) *provider.PullResult {
	next := make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		next[k] = v
	}

	out := &provider.PullResult{Marker: res.Token, Snapshot: next}
	for _, obj := range res.Updated {
		kind := provider.ChangeUpdated
		if _, known := snapshot[obj.Href]; !known {
			kind = provider.ChangeCreated
		}
		a.collect(out, snapshot, obj, kind)
	}
	for _, href := range res.Deleted {
		delete(next, href)
		out.Changes = append(out.Changes, provider.RemoteChange{RemoteID: href, Kind: provider.ChangeDeleted})
	}
	return out
}

func (a *Adapter) diffFull(snapshot map[string]string, res *SyncResult) *provider.PullResult {
	next := make(map[string]string, len(res.Updated))
	out := &provider.PullResult{Marker: res.Token, Snapshot: next}
	for _, obj := range res.Updated {
		prev, known := snapshot[obj.Href]
		if known && prev == obj.ETag {
			next[obj.Href] = obj.ETag
			continue
		}
		kind := provider.ChangeUpdated
		if !known {
			kind = provider.ChangeCreated
		}
		a.collect(out, snapshot, obj, kind)
	}
	for href := range snapshot {
		if _, live := next[href]; !live {
			out.Changes = append(out.Changes, provider.RemoteChange{RemoteID: href, Kind: provider.ChangeDeleted})
		}
	}
	return out
}

// collect decodes one resource into out. Resources that are not tasks are
// recorded as seen. A malformed task keeps its last good version in the
// snapshot so it is neither deleted nor taken as seen.
func (a *Adapter) collect(out *provider.PullResult, snapshot map[string]string, obj Object, kind provider.ChangeKind) {
	task, uid, err := decodeVTODO(obj.Data)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoVTODO):
		out.Snapshot[obj.Href] = obj.ETag
		return
	default:
		a.logger.Warn("skipping malformed remote item",
			slog.String("href", obj.Href),
			slog.String("error", err.Error()))
		if prev, known := snapshot[obj.Href]; known {
			out.Snapshot[obj.Href] = prev
		} else {
			delete(out.Snapshot, obj.Href)
		}
		return
	}
	a.rememberUID(obj.Href, uid)
	out.Snapshot[obj.Href] = obj.ETag
	out.Changes = append(out.Changes, provider.RemoteChange{
		RemoteID:      obj.Href,
		Kind:          kind,
		Payload:       task,
		VersionMarker: obj.ETag,
	})
}

// PullOne implements provider.Adapter.
func (a *Adapter) PullOne(ctx context.Context, binding *domain.ListBinding, remoteID string) (*provider.RemoteChange, error) {
	obj, err := a.client.Get(ctx, remoteID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return &provider.RemoteChange{RemoteID: remoteID, Kind: provider.ChangeDeleted}, nil
		}
		return nil, provider.NewError(providerName, "pull_one", remoteID, err)
	}
	task, uid, err := decodeVTODO(obj.Data)
	if err != nil {
		return nil, provider.NewError(providerName, "pull_one", remoteID, fmt.Errorf("%w: %v", provider.ErrMalformed, err))
	}
	a.rememberUID(remoteID, uid)
	return &provider.RemoteChange{
		RemoteID:      remoteID,
		Kind:          provider.ChangeUpdated,
		Payload:       task,
		VersionMarker: obj.ETag,
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

	var (
		op  string
		err error
	)
	switch {
	case item.Delete:
		op = "delete"
		err = a.client.Delete(ctx, item.RemoteID, item.VersionMarker)
		if errors.Is(err, provider.ErrNotFound) {
			err = nil
		}

	case item.RemoteID == "":
		op = "create"
		uid := item.Task.ID.String()
		href := path.Join(binding.RemoteListID, uid+".ics")
		data := encodeVTODO(uid, provider.FromTask(item.Task), a.now())
		var etag string
		etag, err = a.client.Put(ctx, href, data, "", true)
		if err == nil {
			a.rememberUID(href, uid)
			res.NewRemoteID = href
			res.NewVersionMarker = etag
		}

	default:
		op = "update"
		data := encodeVTODO(a.uidFor(item.RemoteID), provider.FromTask(item.Task), a.now())
		var etag string
		etag, err = a.client.Put(ctx, item.RemoteID, data, item.VersionMarker, false)
		if err == nil {
			res.NewVersionMarker = etag
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

// CompareMarkers implements provider.Adapter. ETags carry no order, so any
// difference counts as newer.
func (a *Adapter) CompareMarkers(x, y string) int {
	if x == y {
		return 0
	}
	return 1
}

func (a *Adapter) rememberUID(href, uid string) {
	if uid == "" {
		return
	}
	a.mu.Lock()
	a.uids[href] = uid
	a.mu.Unlock()
}

// uidFor returns the UID of a resource. Resources not seen in this pass
// fall back to the file name, which is how most clients name them.
func (a *Adapter) uidFor(href string) string {
	a.mu.Lock()
	uid, ok := a.uids[href]
	a.mu.Unlock()
	if ok {
		return uid
	}
	return strings.TrimSuffix(path.Base(href), ".ics")
}

var _ provider.Adapter = (*Adapter)(nil)
