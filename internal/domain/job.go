package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of an external job.
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobKind tells the runner how a job becomes due.
type JobKind string

// Job kinds
const (
	// JobAt fires once RunAt has passed.
	JobAt JobKind = "at"
	// JobRegion fires when a reported location crosses Region.
	JobRegion JobKind = "region"
)

// Common validation errors for Job
var (
	ErrEmptyJobKey     = errors.New("job key cannot be empty")
	ErrInvalidJobKind  = errors.New("invalid job kind")
	ErrMissingJobRunAt = errors.New("time job requires a run time")
)

// Job is a unit of deferred work owned by the external job runner. Key is
// unique across all jobs, so scheduling the same key twice is a no-op.
type Job struct {
	ID        uuid.UUID  `json:"id"`
	Key       string     `json:"key"`
	Kind      JobKind    `json:"kind"`
	RunAt     *time.Time `json:"run_at,omitempty"`
	Region    *Region    `json:"region,omitempty"`
	Payload   []byte     `json:"payload"`
	Status    JobStatus  `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewTimeJob creates a pending job that fires at runAt.
func NewTimeJob(key string, runAt time.Time, payload []byte) (*Job, error) {
	at := runAt.UTC()
	return newJob(key, JobAt, &at, nil, payload)
}

// NewRegionJob creates a pending job that fires on a region transition.
func NewRegionJob(key string, region Region, payload []byte) (*Job, error) {
	return newJob(key, JobRegion, nil, &region, payload)
}

func newJob(key string, kind JobKind, runAt *time.Time, region *Region, payload []byte) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New(),
		Key:       key,
		Kind:      kind,
		RunAt:     runAt,
		Region:    region,
		Payload:   payload,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Key) == "" {
		return ErrEmptyJobKey
	}
	switch j.Kind {
	case JobAt:
		if j.RunAt == nil {
			return ErrMissingJobRunAt
		}
	case JobRegion:
		if j.Region == nil {
			return ErrInvalidRegion
		}
		if err := j.Region.Validate(); err != nil {
			return err
		}
	default:
		return ErrInvalidJobKind
	}
	return nil
}

// Due reports whether a pending time job should run at now.
func (j *Job) Due(now time.Time) bool {
	return j.Kind == JobAt && j.Status == JobStatusPending && j.RunAt != nil && !j.RunAt.After(now)
}
