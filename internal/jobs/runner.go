package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/store"
)

// Handler receives fired jobs. An error leaves the job pending for another
// attempt until Config.MaxAttempts is reached.
type Handler interface {
	HandleJob(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *domain.Job) error

// HandleJob calls f.
func (f HandlerFunc) HandleJob(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

// Config holds configuration for the job runner
type Config struct {
	// WorkerCount determines how many concurrent workers process jobs
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory job queue
	QueueSize int

	// PollInterval is how often pending time jobs are checked for due ones
	PollInterval time.Duration

	// StuckJobAge defines how long a job can be in processing state
	// before it's considered stuck and reset
	StuckJobAge time.Duration

	// StuckJobCheckInterval defines how often to check for stuck jobs
	StuckJobCheckInterval time.Duration

	// MaxAttempts bounds deliveries of a failing job before it is marked failed
	MaxAttempts int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		WorkerCount:           2,
		QueueSize:             100,
		PollInterval:          5 * time.Second,
		StuckJobAge:           10 * time.Minute,
		StuckJobCheckInterval: 5 * time.Minute,
		MaxAttempts:           5,
	}
}

// Runner persists, polls and dispatches external jobs.
type Runner struct {
	store   store.JobStore
	handler Handler
	queue   *Queue
	pool    *WorkerPool
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}
}

// NewRunner creates a new Runner delivering fired jobs to handler.
func NewRunner(jobStore store.JobStore, handler Handler, config Config, logger *slog.Logger) *Runner {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.StuckJobCheckInterval <= 0 {
		config.StuckJobCheckInterval = defaults.StuckJobCheckInterval
	}
	if config.StuckJobAge <= 0 {
		config.StuckJobAge = defaults.StuckJobAge
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "job_runner"))

	queue := NewQueue(config.QueueSize, logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		store:   jobStore,
		handler: handler,
		queue:   queue,
		pool:    NewWorkerPool(queue, config.WorkerCount, logger),
		config:  config,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
	}
}

// SetHandler replaces the job handler. It must be called before Start.
func (r *Runner) SetHandler(handler Handler) {
	r.handler = handler
}

// ScheduleAt persists a time job. Scheduling a key that already exists is
// a no-op.
func (r *Runner) ScheduleAt(ctx context.Context, key string, at time.Time, payload []byte) error {
	job, err := domain.NewTimeJob(key, at, payload)
	if err != nil {
		return fmt.Errorf("invalid time job %s: %w", key, err)
	}
	if err := r.save(ctx, job); err != nil {
		return err
	}
	if job.Due(r.now()) {
		r.poke()
	}
	return nil
}

// ScheduleRegion persists a region job. Scheduling a key that already
// exists is a no-op.
func (r *Runner) ScheduleRegion(ctx context.Context, key string, region domain.Region, payload []byte) error {
	job, err := domain.NewRegionJob(key, region, payload)
	if err != nil {
		return fmt.Errorf("invalid region job %s: %w", key, err)
	}
	return r.save(ctx, job)
}

func (r *Runner) save(ctx context.Context, job *domain.Job) error {
	err := r.store.SaveJob(ctx, job)
	if errors.Is(err, store.ErrJobExists) {
		r.logger.Debug("job already scheduled", "job_key", job.Key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.Key, err)
	}
	r.logger.Debug("job scheduled", "job_key", job.Key, "job_kind", job.Kind)
	return nil
}

// Cancel removes the job with key. Unknown keys are not an error.
func (r *Runner) Cancel(ctx context.Context, key string) error {
	removed, err := r.store.DeleteJob(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", key, err)
	}
	if removed {
		r.logger.Debug("job cancelled", "job_key", key)
	}
	return nil
}

// ReportRegionEvent dispatches the pending region jobs triggered by a
// position reported for a geofence transition. Returns the number of jobs
// dispatched.
func (r *Runner) ReportRegionEvent(ctx context.Context, lat, lng float64, transition Transition) (int, error) {
	if !transition.Valid() {
		return 0, fmt.Errorf("%w: transition %q", domain.ErrInvalidFormat, transition)
	}
	point := domain.Region{Latitude: lat, Longitude: lng, RadiusMeters: 1}
	if err := point.Validate(); err != nil {
		return 0, err
	}

	pending, err := r.store.GetPendingJobs(ctx, domain.JobRegion)
	if err != nil {
		return 0, fmt.Errorf("failed to load region jobs: %w", err)
	}
	dispatched := 0
	for _, job := range pending {
		if job.Region == nil || !matches(*job.Region, lat, lng, transition) {
			continue
		}
		ok, err := r.dispatch(ctx, job)
		if err != nil {
			return dispatched, err
		}
		if ok {
			dispatched++
		}
	}
	r.logger.Debug("region event reported",
		"transition", transition,
		"dispatched", dispatched)
	return dispatched, nil
}

// Start recovers interrupted jobs and begins processing.
func (r *Runner) Start() error {
	if err := r.Recover(); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	r.pool.Start(r.process)

	r.wg.Add(2)
	go r.pollLoop()
	go r.stuckJobMonitor()

	return nil
}

// Stop gracefully shuts down the runner. Jobs still queued stay in
// processing and are recovered on the next Start.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.pool.Stop()
	r.queue.Close()
}

// Recover resets jobs left in processing by a previous run back to pending.
func (r *Runner) Recover() error {
	ctx := context.Background()

	processing, err := r.store.GetProcessingJobs(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to get processing jobs: %w", err)
	}

	r.logger.Info("recovering unfinished jobs", "processing_count", len(processing))

	for _, job := range processing {
		if err := r.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusPending, "Reset after recovery"); err != nil {
			r.logger.Error("failed to reset processing job status",
				"job_key", job.Key,
				"error", err)
		}
	}
	return nil
}

// PollOnce claims every due time job and hands it to the workers. Returns
// the number of jobs dispatched.
func (r *Runner) PollOnce(ctx context.Context) (int, error) {
	pending, err := r.store.GetPendingJobs(ctx, domain.JobAt)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	now := r.now()
	dispatched := 0
	for _, job := range pending {
		if !job.Due(now) {
			continue
		}
		ok, err := r.dispatch(ctx, job)
		if err != nil {
			return dispatched, err
		}
		if !ok {
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// dispatch claims a pending job and enqueues it. A full queue releases the
// claim so a later poll picks the job up again.
func (r *Runner) dispatch(ctx context.Context, job *domain.Job) (bool, error) {
	claimed, err := r.store.ClaimJob(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", job.Key, err)
	}
	if !claimed {
		return false, nil
	}
	job.Status = domain.JobStatusProcessing
	job.Attempts++

	if err := r.queue.Enqueue(job); err != nil {
		r.logger.Warn("failed to enqueue job, releasing claim", "job_key", job.Key, "error", err)
		if err := r.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusPending, job.LastError); err != nil {
			r.logger.Error("failed to release job claim", "job_key", job.Key, "error", err)
		}
		return false, nil
	}
	return true, nil
}

// process handles execution of a single job
func (r *Runner) process(ctx context.Context, job *domain.Job, workerID int) {
	logger := r.logger.With(
		"job_key", job.Key,
		"job_kind", job.Kind,
		"worker_id", workerID,
	)

	if r.handler == nil {
		logger.Error("no job handler configured")
		return
	}

	err := r.handler.HandleJob(ctx, job)

	// Status writes must survive shutdown of the worker context.
	statusCtx := context.WithoutCancel(ctx)
	status, msg := domain.JobStatusCompleted, ""
	if err != nil {
		msg = err.Error()
		status = domain.JobStatusPending
		if job.Attempts >= r.config.MaxAttempts {
			status = domain.JobStatusFailed
		}
		logger.Error("job execution failed",
			"error", err,
			"attempts", job.Attempts,
			"next_status", status)
	} else {
		logger.Debug("job completed")
	}

	if updateErr := r.store.UpdateJobStatus(statusCtx, job.ID, status, msg); updateErr != nil {
		if errors.Is(updateErr, store.ErrJobNotFound) {
			logger.Debug("job cancelled while running")
			return
		}
		logger.Error("failed to update job status", "status", status, "error", updateErr)
	}
}

func (r *Runner) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) pollLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if _, err := r.PollOnce(r.ctx); err != nil && r.ctx.Err() == nil {
			r.logger.Error("failed to poll due jobs", "error", err)
		}
	}
}

// stuckJobMonitor periodically resets jobs that have been in "processing"
// state for too long.
func (r *Runner) stuckJobMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckJobCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			r.resetStuck(r.ctx)
		}
	}
}

func (r *Runner) resetStuck(ctx context.Context) int {
	stuck, err := r.store.GetProcessingJobs(ctx, r.config.StuckJobAge)
	if err != nil {
		r.logger.Error("failed to check for stuck jobs", "error", err)
		return 0
	}
	if len(stuck) == 0 {
		return 0
	}

	r.logger.Info("found stuck jobs", "count", len(stuck))
	reset := 0
	for _, job := range stuck {
		if err := r.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusPending,
			"Reset after being stuck in processing state"); err != nil {
			r.logger.Error("failed to reset stuck job status",
				"job_key", job.Key,
				"error", err)
			continue
		}
		reset++
	}
	r.poke()
	return reset
}
