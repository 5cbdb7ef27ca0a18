package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

const jobColumns = `id, key, kind, run_at, region, payload, status, attempts, last_error, created_at, updated_at`

// PostgresJobStore implements store.JobStore.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
		now:    time.Now,
	}
}

var _ store.JobStore = (*PostgresJobStore)(nil)

// SaveJob saves a job to the database
func (s *PostgresJobStore) SaveJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	region, err := regionArg(job.Region)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.Key,
		string(job.Kind),
		nullTimeArg(job.RunAt),
		region,
		job.Payload,
		string(job.Status),
		job.Attempts,
		job.LastError,
		timeArg(job.CreatedAt),
		timeArg(job.UpdatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrJobExists
		}
		log.Error("failed to save job",
			slog.String("error", err.Error()),
			slog.String("key", job.Key))
		return store.NewStoreError("job", "save", "insert failed", MapError(err))
	}

	log.Debug("job saved",
		slog.String("key", job.Key),
		slog.String("kind", string(job.Kind)))
	return nil
}

// GetJob retrieves a job by key.
func (s *PostgresJobStore) GetJob(ctx context.Context, key string) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE key = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("job", "get", "query failed", MapError(err))
	}
	return job, nil
}

// DeleteJob removes a job by key.
func (s *PostgresJobStore) DeleteJob(ctx context.Context, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE key = $1`, key)
	if err != nil {
		return false, store.NewStoreError("job", "delete", "delete failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ClaimJob moves a pending job to processing.
func (s *PostgresJobStore) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, string(domain.JobStatusProcessing), timeArg(s.now()), id, string(domain.JobStatusPending))
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to claim job",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return false, store.NewStoreError("job", "claim", "update failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateJobStatus updates the status of a job in the database
func (s *PostgresJobStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, last_error = $2, updated_at = $3
		WHERE id = $4
	`, string(status), errorMsg, timeArg(s.now()), id)
	if err != nil {
		log.Error("failed to update job status",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()),
			slog.String("status", string(status)))
		return store.NewStoreError("job", "update status", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrJobNotFound)
}

// GetPendingJobs retrieves all pending jobs of a kind.
func (s *PostgresJobStore) GetPendingJobs(ctx context.Context, kind domain.JobKind) ([]*domain.Job, error) {
	return s.jobsByStatus(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND kind = $2`,
		string(domain.JobStatusPending), string(kind))
}

// GetProcessingJobs retrieves jobs with "processing" status. The age filter
// runs in Go so the query stays identical on both backends.
func (s *PostgresJobStore) GetProcessingJobs(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	jobs, err := s.jobsByStatus(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1`,
		string(domain.JobStatusProcessing))
	if err != nil || olderThan <= 0 {
		return jobs, err
	}

	cutoff := s.now().UTC().Add(-olderThan)
	stale := jobs[:0]
	for _, job := range jobs {
		if job.UpdatedAt.Before(cutoff) {
			stale = append(stale, job)
		}
	}
	return stale, nil
}

func (s *PostgresJobStore) jobsByStatus(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query jobs by status",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("job", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			log.Error("failed to scan job row", slog.String("error", err.Error()))
			return nil, store.NewStoreError("job", "list", "scan failed", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("job", "list", "row iteration failed", MapError(err))
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// WithTx returns a new JobStore instance that uses the provided transaction.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{db: tx, logger: s.logger, now: s.now}
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                  domain.Job
		kind, status         string
		runAt                nullTime
		createdAt, updatedAt nullTime
		region               sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.Key,
		&kind,
		&runAt,
		&region,
		&job.Payload,
		&status,
		&job.Attempts,
		&job.LastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	job.RunAt = runAt.Ptr()
	job.CreatedAt = createdAt.Time
	job.UpdatedAt = updatedAt.Time
	if job.Region, err = scanRegion(region); err != nil {
		return nil, err
	}
	return &job, nil
}
