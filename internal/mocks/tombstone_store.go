package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/store"
)

type tombstoneKey struct {
	listID   uuid.UUID
	remoteID string
}

// MockTombstoneStore is an in-memory store.TombstoneStore.
type MockTombstoneStore struct {
	mu         sync.Mutex
	tombstones map[tombstoneKey]domain.Tombstone
}

// NewMockTombstoneStore creates an empty MockTombstoneStore.
func NewMockTombstoneStore() *MockTombstoneStore {
	return &MockTombstoneStore{tombstones: make(map[tombstoneKey]domain.Tombstone)}
}

// Save implements store.TombstoneStore.
func (m *MockTombstoneStore) Save(ctx context.Context, t *domain.Tombstone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tombstoneKey{t.ListID, t.RemoteID}
	if existing, ok := m.tombstones[key]; ok {
		if t.Confirmed && !existing.Confirmed {
			existing.Confirmed = true
			m.tombstones[key] = existing
		}
		return nil
	}
	m.tombstones[key] = *t
	return nil
}

// Find implements store.TombstoneStore.
func (m *MockTombstoneStore) Find(ctx context.Context, listID uuid.UUID, remoteID string) (*domain.Tombstone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tombstones[tombstoneKey{listID, remoteID}]
	if !ok {
		return nil, store.ErrTombstoneNotFound
	}
	return &t, nil
}

// ListByList implements store.TombstoneStore.
func (m *MockTombstoneStore) ListByList(ctx context.Context, listID uuid.UUID) ([]*domain.Tombstone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Tombstone
	for key, t := range m.tombstones {
		if key.listID == listID {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

// ListOrphaned implements store.TombstoneStore.
func (m *MockTombstoneStore) ListOrphaned(ctx context.Context) ([]*domain.Tombstone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Tombstone
	for _, t := range m.tombstones {
		if t.ListRemovedAt != nil {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

// Confirm implements store.TombstoneStore.
func (m *MockTombstoneStore) Confirm(ctx context.Context, listID uuid.UUID, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tombstoneKey{listID, remoteID}
	t, ok := m.tombstones[key]
	if !ok {
		return store.ErrTombstoneNotFound
	}
	t.Confirmed = true
	m.tombstones[key] = t
	return nil
}

// MarkListRemoved implements store.TombstoneStore.
func (m *MockTombstoneStore) MarkListRemoved(ctx context.Context, listID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, t := range m.tombstones {
		if key.listID == listID {
			t.ListRemovedAt = &at
			m.tombstones[key] = t
		}
	}
	return nil
}

// Delete implements store.TombstoneStore.
func (m *MockTombstoneStore) Delete(ctx context.Context, listID uuid.UUID, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tombstones, tombstoneKey{listID, remoteID})
	return nil
}

// WithTx implements store.TombstoneStore.
func (m *MockTombstoneStore) WithTx(tx *sql.Tx) store.TombstoneStore {
	return m
}

type triggerState struct {
	generation  int64
	fingerprint string
	triggers    []domain.PendingTrigger
}

// MockTriggerStore is an in-memory store.TriggerStore.
type MockTriggerStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]triggerState
}

// NewMockTriggerStore creates an empty MockTriggerStore.
func NewMockTriggerStore() *MockTriggerStore {
	return &MockTriggerStore{states: make(map[uuid.UUID]triggerState)}
}

// State implements store.TriggerStore.
func (m *MockTriggerStore) State(ctx context.Context, taskID uuid.UUID) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[taskID]
	return s.generation, s.fingerprint, nil
}

// Replace implements store.TriggerStore.
func (m *MockTriggerStore) Replace(ctx context.Context, taskID uuid.UUID, generation int64, fingerprint string, triggers []domain.PendingTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[taskID] = triggerState{
		generation:  generation,
		fingerprint: fingerprint,
		triggers:    append([]domain.PendingTrigger(nil), triggers...),
	}
	return nil
}

// List implements store.TriggerStore.
func (m *MockTriggerStore) List(ctx context.Context, taskID uuid.UUID) ([]domain.PendingTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PendingTrigger(nil), m.states[taskID].triggers...), nil
}

// Remove implements store.TriggerStore.
func (m *MockTriggerStore) Remove(ctx context.Context, taskID uuid.UUID, kind domain.TriggerKind, generation int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[taskID]
	kept := s.triggers[:0:0]
	for _, tr := range s.triggers {
		if tr.Kind == kind && tr.Generation == generation {
			continue
		}
		kept = append(kept, tr)
	}
	s.triggers = kept
	m.states[taskID] = s
	return nil
}

// WithTx implements store.TriggerStore.
func (m *MockTriggerStore) WithTx(tx *sql.Tx) store.TriggerStore {
	return m
}

var (
	_ store.TombstoneStore = (*MockTombstoneStore)(nil)
	_ store.TriggerStore   = (*MockTriggerStore)(nil)
)
