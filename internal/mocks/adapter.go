package mocks

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/provider"
)

type remoteItem struct {
	task       provider.RemoteTask
	createdSeq int64
	seq        int64
	deleted    bool
}

// MockAdapter is an in-memory remote list implementing provider.Adapter.
// Every remote write takes the next value of a global sequence; item
// version markers and the list marker are that sequence in decimal, so
// markers compare numerically. Preconditions behave like a real server:
// a stale version marker yields a conflict.
type MockAdapter struct {
	mu     sync.Mutex
	kind   domain.ProviderKind
	items  map[string]*remoteItem
	seq    int64
	nextID int

	PullFn    func(ctx context.Context, binding *domain.ListBinding) (*provider.PullResult, error)
	PullOneFn func(ctx context.Context, binding *domain.ListBinding, remoteID string) (*provider.RemoteChange, error)
	PushFn    func(ctx context.Context, binding *domain.ListBinding, items []provider.PushItem) ([]provider.PushResult, error)
	// PushHook may replace the outcome of a single item; returning nil
	// keeps the default behavior.
	PushHook func(item provider.PushItem) *provider.PushResult

	PullCalls int
	PushCalls int
}

// NewMockAdapter creates an empty remote list of the given kind.
func NewMockAdapter(kind domain.ProviderKind) *MockAdapter {
	return &MockAdapter{kind: kind, items: make(map[string]*remoteItem)}
}

// RemoteCreate adds an item as if another client created it.
func (m *MockAdapter) RemoteCreate(task provider.RemoteTask) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(task)
}

// RemoteUpdate edits an item as if another client changed it.
func (m *MockAdapter) RemoteUpdate(remoteID string, fn func(*provider.RemoteTask)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[remoteID]
	if !ok || it.deleted {
		return
	}
	fn(&it.task)
	m.seq++
	it.seq = m.seq
}

// RemoteDelete removes an item as if another client deleted it.
func (m *MockAdapter) RemoteDelete(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[remoteID]; ok && !it.deleted {
		m.seq++
		it.seq = m.seq
		it.deleted = true
	}
}

// Item returns a live item and its version marker.
func (m *MockAdapter) Item(remoteID string) (provider.RemoteTask, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[remoteID]
	if !ok || it.deleted {
		return provider.RemoteTask{}, "", false
	}
	return it.task, marker(it.seq), true
}

// Live returns the number of live remote items.
func (m *MockAdapter) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

// Kind implements provider.Adapter.
func (m *MockAdapter) Kind() domain.ProviderKind {
	return m.kind
}

// Pull implements provider.Adapter.
func (m *MockAdapter) Pull(ctx context.Context, binding *domain.ListBinding) (*provider.PullResult, error) {
	m.mu.Lock()
	m.PullCalls++
	m.mu.Unlock()
	if m.PullFn != nil {
		return m.PullFn(ctx, binding)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	since, _ := strconv.ParseInt(binding.Marker, 10, 64)

	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.items[ids[i]].seq < m.items[ids[j]].seq })

	res := &provider.PullResult{Marker: marker(m.seq), Snapshot: make(map[string]string)}
	for _, id := range ids {
		it := m.items[id]
		if !it.deleted {
			res.Snapshot[id] = marker(it.seq)
		}
		if it.seq <= since {
			continue
		}
		switch {
		case it.deleted:
			res.Changes = append(res.Changes, provider.RemoteChange{RemoteID: id, Kind: provider.ChangeDeleted})
		default:
			kind := provider.ChangeUpdated
			if it.createdSeq > since {
				kind = provider.ChangeCreated
			}
			payload := it.task
			res.Changes = append(res.Changes, provider.RemoteChange{
				RemoteID:      id,
				Kind:          kind,
				Payload:       &payload,
				VersionMarker: marker(it.seq),
			})
		}
	}
	return res, nil
}

// PullOne implements provider.Adapter.
func (m *MockAdapter) PullOne(ctx context.Context, binding *domain.ListBinding, remoteID string) (*provider.RemoteChange, error) {
	if m.PullOneFn != nil {
		return m.PullOneFn(ctx, binding, remoteID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[remoteID]
	if !ok || it.deleted {
		return &provider.RemoteChange{RemoteID: remoteID, Kind: provider.ChangeDeleted}, nil
	}
	payload := it.task
	return &provider.RemoteChange{
		RemoteID:      remoteID,
		Kind:          provider.ChangeUpdated,
		Payload:       &payload,
		VersionMarker: marker(it.seq),
	}, nil
}

// Push implements provider.Adapter.
func (m *MockAdapter) Push(ctx context.Context, binding *domain.ListBinding, items []provider.PushItem) ([]provider.PushResult, error) {
	m.mu.Lock()
	m.PushCalls++
	m.mu.Unlock()
	if m.PushFn != nil {
		return m.PushFn(ctx, binding, items)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]provider.PushResult, 0, len(items))
	for _, item := range items {
		if m.PushHook != nil {
			if res := m.PushHook(item); res != nil {
				results = append(results, *res)
				continue
			}
		}
		results = append(results, m.pushItem(item))
	}
	return results, nil
}

func (m *MockAdapter) pushItem(item provider.PushItem) provider.PushResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := provider.PushResult{TaskID: item.Task.ID, RemoteID: item.RemoteID}
	it, exists := m.items[item.RemoteID]
	live := exists && !it.deleted

	switch {
	case item.Delete:
		if !live {
			res.Outcome = provider.OutcomeApplied
			return res
		}
		if item.VersionMarker != "" && item.VersionMarker != marker(it.seq) {
			res.Outcome = provider.OutcomeConflict
			return res
		}
		m.seq++
		it.seq = m.seq
		it.deleted = true
		res.Outcome = provider.OutcomeApplied

	case item.RemoteID == "":
		id := m.create(*provider.FromTask(item.Task))
		res.NewRemoteID = id
		res.NewVersionMarker = marker(m.items[id].seq)
		res.Outcome = provider.OutcomeApplied

	case !live:
		res.Outcome = provider.OutcomeRejected
		res.Err = provider.ErrNotFound

	case item.VersionMarker != marker(it.seq):
		res.Outcome = provider.OutcomeConflict

	default:
		it.task = *provider.FromTask(item.Task)
		m.seq++
		it.seq = m.seq
		res.NewVersionMarker = marker(it.seq)
		res.Outcome = provider.OutcomeApplied
	}
	return res
}

// CompareMarkers implements provider.Adapter.
func (m *MockAdapter) CompareMarkers(a, b string) int {
	x, _ := strconv.ParseInt(a, 10, 64)
	y, _ := strconv.ParseInt(b, 10, 64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func (m *MockAdapter) create(task provider.RemoteTask) string {
	m.nextID++
	m.seq++
	id := fmt.Sprintf("r-%d", m.nextID)
	m.items[id] = &remoteItem{task: task, createdSeq: m.seq, seq: m.seq}
	return id
}

func marker(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

var _ provider.Adapter = (*MockAdapter)(nil)
