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

// MockJobStore is an in-memory store.JobStore. Jobs are keyed by their
// dedupe key, like the unique index of the SQL store.
type MockJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job

	SaveJobFn         func(ctx context.Context, job *domain.Job) error
	UpdateJobStatusFn func(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error
}

// NewMockJobStore creates an empty MockJobStore.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{jobs: make(map[string]domain.Job)}
}

// SaveJob implements store.JobStore.
func (m *MockJobStore) SaveJob(ctx context.Context, job *domain.Job) error {
	if m.SaveJobFn != nil {
		return m.SaveJobFn(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.Key]; exists {
		return store.ErrJobExists
	}
	m.jobs[job.Key] = cloneJob(*job)
	return nil
}

// GetJob implements store.JobStore.
func (m *MockJobStore) GetJob(ctx context.Context, key string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[key]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	c := cloneJob(job)
	return &c, nil
}

// DeleteJob implements store.JobStore.
func (m *MockJobStore) DeleteJob(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[key]; !ok {
		return false, nil
	}
	delete(m.jobs, key)
	return true, nil
}

// ClaimJob implements store.JobStore.
func (m *MockJobStore) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, job := range m.jobs {
		if job.ID != id {
			continue
		}
		if job.Status != domain.JobStatusPending {
			return false, nil
		}
		job.Status = domain.JobStatusProcessing
		job.Attempts++
		job.UpdatedAt = time.Now().UTC()
		m.jobs[key] = job
		return true, nil
	}
	return false, nil
}

// UpdateJobStatus implements store.JobStore.
func (m *MockJobStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	if m.UpdateJobStatusFn != nil {
		return m.UpdateJobStatusFn(ctx, id, status, errorMsg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, job := range m.jobs {
		if job.ID == id {
			job.Status = status
			job.LastError = errorMsg
			job.UpdatedAt = time.Now().UTC()
			m.jobs[key] = job
			return nil
		}
	}
	return store.ErrJobNotFound
}

// GetPendingJobs implements store.JobStore.
func (m *MockJobStore) GetPendingJobs(ctx context.Context, kind domain.JobKind) ([]*domain.Job, error) {
	return m.filter(func(j domain.Job) bool {
		return j.Status == domain.JobStatusPending && j.Kind == kind
	}), nil
}

// GetProcessingJobs implements store.JobStore.
func (m *MockJobStore) GetProcessingJobs(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return m.filter(func(j domain.Job) bool {
		return j.Status == domain.JobStatusProcessing && (olderThan == 0 || j.UpdatedAt.Before(cutoff))
	}), nil
}

// WithTx implements store.JobStore.
func (m *MockJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return m
}

// Status returns the status of the job with key, or "" if there is none.
func (m *MockJobStore) Status(key string) domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[key].Status
}

// Put stores job as is, bypassing dedupe. Tests use it to seed state.
func (m *MockJobStore) Put(job domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.Key] = cloneJob(job)
}

// Len returns the number of stored jobs.
func (m *MockJobStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *MockJobStore) filter(keep func(domain.Job) bool) []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, job := range m.jobs {
		if keep(job) {
			c := cloneJob(job)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneJob(j domain.Job) domain.Job {
	c := j
	if j.RunAt != nil {
		at := *j.RunAt
		c.RunAt = &at
	}
	if j.Region != nil {
		r := *j.Region
		c.Region = &r
	}
	c.Payload = append([]byte(nil), j.Payload...)
	return c
}

var _ store.JobStore = (*MockJobStore)(nil)
