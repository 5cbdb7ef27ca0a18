package mocks

import (
	"context"
	"database/sql"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/store"
)

// MockBindingStore is an in-memory store.BindingStore.
type MockBindingStore struct {
	mu       sync.Mutex
	bindings map[uuid.UUID]domain.ListBinding

	CommitMarkerFn func(ctx context.Context, listID uuid.UUID, marker string, syncedAt time.Time) error
}

// NewMockBindingStore creates an empty MockBindingStore.
func NewMockBindingStore() *MockBindingStore {
	return &MockBindingStore{bindings: make(map[uuid.UUID]domain.ListBinding)}
}

// Create implements store.BindingStore.
func (m *MockBindingStore) Create(ctx context.Context, binding *domain.ListBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bindings[binding.ListID]; exists {
		return store.ErrBindingExists
	}
	m.bindings[binding.ListID] = *binding
	return nil
}

// Get implements store.BindingStore.
func (m *MockBindingStore) Get(ctx context.Context, listID uuid.UUID) (*domain.ListBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[listID]
	if !ok {
		return nil, store.ErrBindingNotFound
	}
	return &b, nil
}

// List implements store.BindingStore.
func (m *MockBindingStore) List(ctx context.Context) ([]*domain.ListBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ListBinding, 0, len(m.bindings))
	for _, b := range m.bindings {
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CommitMarker implements store.BindingStore.
func (m *MockBindingStore) CommitMarker(ctx context.Context, listID uuid.UUID, marker string, syncedAt time.Time) error {
	if m.CommitMarkerFn != nil {
		return m.CommitMarkerFn(ctx, listID, marker, syncedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[listID]
	if !ok {
		return store.ErrBindingNotFound
	}
	b.Marker = marker
	b.LastSyncedAt = &syncedAt
	b.UpdatedAt = syncedAt
	m.bindings[listID] = b
	return nil
}

// Delete implements store.BindingStore.
func (m *MockBindingStore) Delete(ctx context.Context, listID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bindings[listID]; !ok {
		return store.ErrBindingNotFound
	}
	delete(m.bindings, listID)
	return nil
}

// WithTx implements store.BindingStore.
func (m *MockBindingStore) WithTx(tx *sql.Tx) store.BindingStore {
	return m
}

// MockSnapshotStore is an in-memory store.SnapshotStore.
type MockSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]map[string]string
}

// NewMockSnapshotStore creates an empty MockSnapshotStore.
func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{snapshots: make(map[uuid.UUID]map[string]string)}
}

// Snapshot implements store.SnapshotStore.
func (m *MockSnapshotStore) Snapshot(ctx context.Context, listID uuid.UUID) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.snapshots[listID]))
	maps.Copy(out, m.snapshots[listID])
	return out, nil
}

// ReplaceSnapshot implements store.SnapshotStore.
func (m *MockSnapshotStore) ReplaceSnapshot(ctx context.Context, listID uuid.UUID, snapshot map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[listID] = maps.Clone(snapshot)
	return nil
}

// DeleteSnapshot implements store.SnapshotStore.
func (m *MockSnapshotStore) DeleteSnapshot(ctx context.Context, listID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, listID)
	return nil
}

// WithTx implements store.SnapshotStore.
func (m *MockSnapshotStore) WithTx(tx *sql.Tx) store.SnapshotStore {
	return m
}

// MockCredentialStore is an in-memory store.CredentialStore.
type MockCredentialStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMockCredentialStore creates an empty MockCredentialStore.
func NewMockCredentialStore() *MockCredentialStore {
	return &MockCredentialStore{blobs: make(map[string][]byte)}
}

// Get implements store.CredentialStore.
func (m *MockCredentialStore) Get(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[ref]
	if !ok {
		return nil, store.ErrCredentialNotFound
	}
	return append([]byte(nil), b...), nil
}

// Put implements store.CredentialStore.
func (m *MockCredentialStore) Put(ctx context.Context, ref string, sealed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref] = append([]byte(nil), sealed...)
	return nil
}

// Delete implements store.CredentialStore.
func (m *MockCredentialStore) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, ref)
	return nil
}

var (
	_ store.BindingStore    = (*MockBindingStore)(nil)
	_ store.SnapshotStore   = (*MockSnapshotStore)(nil)
	_ store.CredentialStore = (*MockCredentialStore)(nil)
)
