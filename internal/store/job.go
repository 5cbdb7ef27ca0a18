package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
)

// JobStore defines the interface for persisting external jobs.
type JobStore interface {
	// SaveJob persists a new job.
	// Returns ErrJobExists if a job with the same key was already saved.
	SaveJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by key.
	// Returns ErrJobNotFound if no job carries the key.
	GetJob(ctx context.Context, key string) (*domain.Job, error)

	// DeleteJob removes the job with key. Reports whether a job was removed.
	DeleteJob(ctx context.Context, key string) (bool, error)

	// ClaimJob moves a pending job to processing and counts the attempt.
	// Reports false if another worker claimed it first.
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)

	// UpdateJobStatus updates the status of a job
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error

	// GetPendingJobs retrieves all pending jobs of the given kind.
	GetPendingJobs(ctx context.Context, kind domain.JobKind) ([]*domain.Job, error)

	// GetProcessingJobs retrieves jobs with "processing" status.
	// If olderThan is non-zero, only returns jobs that have been in this state
	// longer than the specified duration.
	GetProcessingJobs(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error)

	// WithTx returns a new JobStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) JobStore
}
