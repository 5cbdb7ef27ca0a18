package mocks

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/store"
)

// MockTaskStore is an in-memory store.TaskStore. Stored tasks are deep
// copies, so callers never alias stored state. Fn fields override the
// in-memory behavior of individual methods.
type MockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]domain.Task

	CreateFn     func(ctx context.Context, task *domain.Task) error
	GetByIDFn    func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateFn     func(ctx context.Context, task *domain.Task, expectedRevision int64) error
	ClearDirtyFn func(ctx context.Context, id uuid.UUID, uptoRevision int64) (bool, error)
	ListDirtyFn  func(ctx context.Context, listID uuid.UUID) ([]*domain.Task, error)
}

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{tasks: make(map[uuid.UUID]domain.Task)}
}

// Put stores a copy of task as-is, bypassing every hook.
func (m *MockTaskStore) Put(task *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task.Clone()
}

// Get returns a copy of the stored task, bypassing every hook.
func (m *MockTaskStore) Get(id uuid.UUID) (*domain.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	c := t.Clone()
	return &c, true
}

// Len returns the number of stored tasks, including soft-deleted ones.
func (m *MockTaskStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Create implements store.TaskStore.
func (m *MockTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, task)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}
	for _, ref := range task.Remotes {
		if owner, ok := m.ownerOf(ref); ok && owner != task.ID {
			return store.ErrRemoteIDTaken
		}
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

// GetByID implements store.TaskStore.
func (m *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	t, ok := m.Get(id)
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

// FindByRemoteID implements store.TaskStore.
func (m *MockTaskStore) FindByRemoteID(ctx context.Context, kind domain.ProviderKind, remoteListID, remoteID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ownerOf(domain.RemoteRef{ProviderKind: kind, RemoteListID: remoteListID, RemoteID: remoteID})
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	c := m.tasks[id].Clone()
	return &c, nil
}

func (m *MockTaskStore) ownerOf(ref domain.RemoteRef) (uuid.UUID, bool) {
	for id, t := range m.tasks {
		if r, ok := t.RemoteFor(ref.ProviderKind, ref.RemoteListID); ok && r.RemoteID == ref.RemoteID {
			return id, true
		}
	}
	return uuid.Nil, false
}

// ListByList implements store.TaskStore.
func (m *MockTaskStore) ListByList(ctx context.Context, listID uuid.UUID, sort domain.SortMode, includeCompleted bool) ([]*domain.Task, error) {
	out := m.filter(func(t *domain.Task) bool {
		return t.ListID == listID && !t.Deleted && (includeCompleted || !t.IsCompleted())
	})
	domain.SortTasks(out, sort)
	return out, nil
}

// ListDirty implements store.TaskStore.
func (m *MockTaskStore) ListDirty(ctx context.Context, listID uuid.UUID) ([]*domain.Task, error) {
	if m.ListDirtyFn != nil {
		return m.ListDirtyFn(ctx, listID)
	}
	out := m.filter(func(t *domain.Task) bool {
		return t.ListID == listID && t.Dirty && !t.Deleted && t.RejectedRevision != t.Revision
	})
	domain.SortTasks(out, domain.SortCreated)
	return out, nil
}

// CountOpen implements store.TaskStore.
func (m *MockTaskStore) CountOpen(ctx context.Context, listID uuid.UUID) (int, error) {
	return len(m.filter(func(t *domain.Task) bool {
		return t.ListID == listID && !t.Deleted && !t.IsCompleted()
	})), nil
}

func (m *MockTaskStore) filter(keep func(*domain.Task) bool) []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if keep(&t) {
			c := t.Clone()
			out = append(out, &c)
		}
	}
	return out
}

// Update implements store.TaskStore.
func (m *MockTaskStore) Update(ctx context.Context, task *domain.Task, expectedRevision int64) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, task, expectedRevision)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tasks[task.ID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if current.Revision != expectedRevision {
		return store.ErrRevisionConflict
	}
	next := task.Clone()
	next.Remotes = current.Remotes
	next.CreatedAt = current.CreatedAt
	m.tasks[task.ID] = next
	return nil
}

// BumpRevision implements store.TaskStore.
func (m *MockTaskStore) BumpRevision(ctx context.Context, id uuid.UUID, modifiedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return 0, store.ErrTaskNotFound
	}
	t.Revision++
	t.Dirty = true
	t.ModifiedAt = modifiedAt
	m.tasks[id] = t
	return t.Revision, nil
}

// ClearDirty implements store.TaskStore.
func (m *MockTaskStore) ClearDirty(ctx context.Context, id uuid.UUID, uptoRevision int64) (bool, error) {
	if m.ClearDirtyFn != nil {
		return m.ClearDirtyFn(ctx, id, uptoRevision)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Revision != uptoRevision {
		return false, nil
	}
	t.Dirty = false
	m.tasks[id] = t
	return true, nil
}

// MarkRejected implements store.TaskStore.
func (m *MockTaskStore) MarkRejected(ctx context.Context, id uuid.UUID, revision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.RejectedRevision = revision
	m.tasks[id] = t
	return nil
}

// SetRemote implements store.TaskStore.
func (m *MockTaskStore) SetRemote(ctx context.Context, taskID uuid.UUID, ref domain.RemoteRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if owner, ok := m.ownerOf(ref); ok && owner != taskID {
		return store.ErrRemoteIDTaken
	}
	c := t.Clone()
	c.SetRemote(ref)
	m.tasks[taskID] = c
	return nil
}

// ClearRemotes implements store.TaskStore.
func (m *MockTaskStore) ClearRemotes(ctx context.Context, listID uuid.UUID, kind domain.ProviderKind, remoteListID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tasks {
		if t.ListID != listID {
			continue
		}
		kept := t.Remotes[:0:0]
		for _, ref := range t.Remotes {
			if ref.ProviderKind == kind && ref.RemoteListID == remoteListID {
				n++
				continue
			}
			kept = append(kept, ref)
		}
		t.Remotes = kept
		m.tasks[id] = t
	}
	return n, nil
}

// Purge implements store.TaskStore.
func (m *MockTaskStore) Purge(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || !t.Deleted {
		return store.ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

// WithTx implements store.TaskStore. The mock has no transactions.
func (m *MockTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return m
}

var _ store.TaskStore = (*MockTaskStore)(nil)
