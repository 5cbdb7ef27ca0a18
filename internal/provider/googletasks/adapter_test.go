package googletasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tasks "google.golang.org/api/tasks/v1"
)

const remoteList = "MDk1NTEwMDE1MDAxMzI5NjQ0Njg6MDow"

// fakeClient is an in-memory task list. Every write advances a clock that
// stamps "updated" one second later than the previous write.
type fakeClient struct {
	mu     sync.Mutex
	items  map[string]*tasks.Task
	clock  time.Time
	nextID int
	etag   int

	UpdateErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		items: map[string]*tasks.Task{},
		clock: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeClient) stamp(t *tasks.Task) {
	f.clock = f.clock.Add(time.Second)
	f.etag++
	t.Updated = f.clock.Format(time.RFC3339Nano)
	t.Etag = fmt.Sprintf(`"etag-%d"`, f.etag)
}

func (f *fakeClient) add(title string) *tasks.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := &tasks.Task{Id: fmt.Sprintf("t%d", f.nextID), Title: title, Status: statusNeedsAction}
	f.stamp(t)
	f.items[t.Id] = t
	copied := *t
	return &copied
}

func (f *fakeClient) edit(id string, fn func(*tasks.Task)) *tasks.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.items[id]
	fn(t)
	f.stamp(t)
	copied := *t
	return &copied
}

func (f *fakeClient) ListTasks(ctx context.Context, listID string) ([]*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*tasks.Task, 0, len(ids))
	for _, id := range ids {
		copied := *f.items[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeClient) GetTask(ctx context.Context, listID, taskID string) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.items[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, taskID)
	}
	copied := *t
	return &copied, nil
}

func (f *fakeClient) InsertTask(ctx context.Context, listID string, task *tasks.Task) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := *task
	t.Id = fmt.Sprintf("t%d", f.nextID)
	f.stamp(&t)
	f.items[t.Id] = &t
	copied := t
	return &copied, nil
}

func (f *fakeClient) UpdateTask(ctx context.Context, listID string, task *tasks.Task, etag string) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}
	cur, ok := f.items[task.Id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	if etag != "" && etag != cur.Etag {
		return nil, provider.ErrConflict
	}
	t := *task
	f.stamp(&t)
	f.items[t.Id] = &t
	copied := t
	return &copied, nil
}

func (f *fakeClient) DeleteTask(ctx context.Context, listID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[taskID]; !ok {
		return provider.ErrNotFound
	}
	delete(f.items, taskID)
	f.etag++
	return nil
}

func (f *fakeClient) ListEtag(ctx context.Context, listID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf(`"list-%d"`, f.etag), nil
}

type snapshotMap map[string]string

func (s snapshotMap) Snapshot(ctx context.Context, listID uuid.UUID) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

func testBinding(t *testing.T) *domain.ListBinding {
	t.Helper()
	b, err := domain.NewListBinding(uuid.New(), domain.ProviderGoogleTasks, remoteList, "acct")
	require.NoError(t, err)
	return b
}

func newTestAdapter(client Client, snap snapshotMap) *Adapter {
	return NewAdapter(client, snap, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPullDiffsAgainstSnapshot(t *testing.T) {
	client := newFakeClient()
	kept := client.add("unchanged")
	edited := client.add("before")
	snap := snapshotMap{
		kept.Id:   kept.Updated,
		edited.Id: edited.Updated,
		"gone":    "2026-01-01T00:00:00.000Z",
	}
	client.edit(edited.Id, func(t *tasks.Task) { t.Title = "after" })
	fresh := client.add("fresh")

	res, err := newTestAdapter(client, snap).Pull(context.Background(), testBinding(t))
	require.NoError(t, err)

	kinds := map[string]provider.ChangeKind{}
	for _, ch := range res.Changes {
		kinds[ch.RemoteID] = ch.Kind
	}
	assert.Equal(t, map[string]provider.ChangeKind{
		edited.Id: provider.ChangeUpdated,
		fresh.Id:  provider.ChangeCreated,
		"gone":    provider.ChangeDeleted,
	}, kinds)
	assert.Len(t, res.Snapshot, 3)
	assert.NotContains(t, res.Snapshot, "gone")
	assert.Equal(t, `"list-4"`, res.Marker)
}

func TestPullKeepsLastGoodVersionOfMalformedItem(t *testing.T) {
	client := newFakeClient()
	known := client.add("known")
	snap := snapshotMap{known.Id: known.Updated}
	client.edit(known.Id, func(t *tasks.Task) { t.Due = "next tuesday" })
	fresh := client.add("fresh")
	client.edit(fresh.Id, func(t *tasks.Task) { t.Due = "soon" })

	res, err := newTestAdapter(client, snap).Pull(context.Background(), testBinding(t))
	require.NoError(t, err)

	assert.Empty(t, res.Changes, "malformed items are neither changed nor deleted")
	assert.Equal(t, map[string]string{known.Id: known.Updated}, res.Snapshot)

	// Once the item decodes again it is reported against the old version.
	fixed := client.edit(known.Id, func(t *tasks.Task) { t.Due = "" })
	res, err = newTestAdapter(client, snapshotMap(res.Snapshot)).Pull(context.Background(), testBinding(t))
	require.NoError(t, err)
	kinds := map[string]provider.ChangeKind{}
	for _, ch := range res.Changes {
		kinds[ch.RemoteID] = ch.Kind
	}
	assert.Equal(t, provider.ChangeUpdated, kinds[known.Id])
	assert.Equal(t, fixed.Updated, res.Snapshot[known.Id])
}

func TestPullConvertsPayload(t *testing.T) {
	client := newFakeClient()
	item := client.add("file taxes")
	client.edit(item.Id, func(t *tasks.Task) {
		t.Notes = "form 1040"
		t.Due = "2026-04-15T00:00:00.000Z"
		t.Status = statusCompleted
	})

	res, err := newTestAdapter(client, snapshotMap{}).Pull(context.Background(), testBinding(t))
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)

	p := res.Changes[0].Payload
	assert.Equal(t, "form 1040", p.Notes)
	require.NotNil(t, p.DueAt)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), *p.DueAt)
	assert.False(t, p.DueHasTime)
	require.NotNil(t, p.CompletedAt, "completed status without timestamp uses updated")
	assert.Equal(t, p.ModifiedAt, *p.CompletedAt)
	assert.NotZero(t, p.Unsupported&provider.FieldRecurrence)
}

func TestPushCreateAndUpdate(t *testing.T) {
	client := newFakeClient()
	adapter := newTestAdapter(client, snapshotMap{})
	binding := testBinding(t)

	task, err := domain.NewTask(binding.ListID, "renew passport")
	require.NoError(t, err)
	due := time.Date(2026, 6, 1, 17, 45, 0, 0, time.UTC)
	task.DueAt = &due
	task.DueHasTime = true

	results, err := adapter.Push(context.Background(), binding, []provider.PushItem{{Task: task}})
	require.NoError(t, err)
	created := results[0]
	require.Equal(t, provider.OutcomeApplied, created.Outcome)
	require.NotEmpty(t, created.NewRemoteID)

	stored, err := client.GetTask(context.Background(), remoteList, created.NewRemoteID)
	require.NoError(t, err)
	assert.Equal(t, "2026-06-01T00:00:00Z", stored.Due)
	assert.Equal(t, statusNeedsAction, stored.Status)

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	task.CompletedAt = &now
	results, err = adapter.Push(context.Background(), binding, []provider.PushItem{{
		Task: task, RemoteID: created.NewRemoteID, VersionMarker: created.NewVersionMarker,
	}})
	require.NoError(t, err)
	require.Equal(t, provider.OutcomeApplied, results[0].Outcome)
	assert.Equal(t, 1, adapter.CompareMarkers(results[0].NewVersionMarker, created.NewVersionMarker))

	stored, _ = client.GetTask(context.Background(), remoteList, created.NewRemoteID)
	assert.Equal(t, statusCompleted, stored.Status)
}

func TestPushUpdateConflictsOnStaleMarker(t *testing.T) {
	client := newFakeClient()
	adapter := newTestAdapter(client, snapshotMap{})
	binding := testBinding(t)
	item := client.add("shared")
	client.edit(item.Id, func(t *tasks.Task) { t.Title = "edited elsewhere" })

	task, err := domain.NewTask(binding.ListID, "edited here")
	require.NoError(t, err)
	results, err := adapter.Push(context.Background(), binding, []provider.PushItem{{
		Task: task, RemoteID: item.Id, VersionMarker: item.Updated,
	}})
	require.NoError(t, err)
	assert.Equal(t, provider.OutcomeConflict, results[0].Outcome)

	results, err = adapter.Push(context.Background(), binding, []provider.PushItem{{
		Task: task, RemoteID: "missing", VersionMarker: item.Updated,
	}})
	require.NoError(t, err)
	assert.Equal(t, provider.OutcomeRejected, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, provider.ErrNotFound)
}

func TestPushDelete(t *testing.T) {
	client := newFakeClient()
	adapter := newTestAdapter(client, snapshotMap{})
	binding := testBinding(t)
	task, err := domain.NewTask(binding.ListID, "x")
	require.NoError(t, err)

	stale := client.add("stale")
	client.edit(stale.Id, func(t *tasks.Task) { t.Notes = "changed" })
	fresh := client.add("fresh")

	results, err := adapter.Push(context.Background(), binding, []provider.PushItem{
		{Task: task, RemoteID: stale.Id, VersionMarker: stale.Updated, Delete: true},
		{Task: task, RemoteID: fresh.Id, VersionMarker: fresh.Updated, Delete: true},
		{Task: task, RemoteID: "already-gone", Delete: true},
		{Task: task, RemoteID: stale.Id, Delete: true},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, provider.OutcomeConflict, results[0].Outcome)
	assert.Equal(t, provider.OutcomeApplied, results[1].Outcome)
	assert.Equal(t, provider.OutcomeApplied, results[2].Outcome)
	assert.Equal(t, provider.OutcomeApplied, results[3].Outcome)

	_, err = client.GetTask(context.Background(), remoteList, stale.Id)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestPushAbortsOnUnavailable(t *testing.T) {
	client := newFakeClient()
	adapter := newTestAdapter(client, snapshotMap{})
	binding := testBinding(t)
	item := client.add("a")
	client.UpdateErr = fmt.Errorf("%w: 503", provider.ErrProviderUnavailable)

	task, err := domain.NewTask(binding.ListID, "a2")
	require.NoError(t, err)
	results, err := adapter.Push(context.Background(), binding, []provider.PushItem{{
		Task: task, RemoteID: item.Id, VersionMarker: item.Updated,
	}})
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Empty(t, results)
}

func TestPullOneMissingIsDeleted(t *testing.T) {
	adapter := newTestAdapter(newFakeClient(), snapshotMap{})
	ch, err := adapter.PullOne(context.Background(), testBinding(t), "nope")
	require.NoError(t, err)
	assert.Equal(t, provider.ChangeDeleted, ch.Kind)
}

func TestCompareMarkers(t *testing.T) {
	a := newTestAdapter(newFakeClient(), snapshotMap{})
	older := "2026-04-01T12:00:00.000Z"
	newer := "2026-04-01T12:00:01.5Z"
	assert.Equal(t, 0, a.CompareMarkers(older, older))
	assert.Equal(t, -1, a.CompareMarkers(older, newer))
	assert.Equal(t, 1, a.CompareMarkers(newer, older))
	assert.Equal(t, 1, a.CompareMarkers("garbage", older))
}
