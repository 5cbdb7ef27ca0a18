package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

const taskColumns = `id, list_id, title, notes, due_at, due_has_time, remind_at, completed_at,
	recurrence, location, priority, dirty, revision, rejected_revision, deleted, created_at, modified_at`

// PostgresTaskStore implements store.TaskStore. The SQL is portable to
// SQLite; placeholders are always numbered in order of first use.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a task store on db.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create implements store.TaskStore. The task row and its remote
// references are written in one transaction.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	db, ok := s.db.(*sql.DB)
	if !ok || len(task.Remotes) == 0 {
		return s.create(ctx, task)
	}
	return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		return (&PostgresTaskStore{db: tx, logger: s.logger}).create(ctx, task)
	})
}

func (s *PostgresTaskStore) create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	location, err := regionArg(task.Location)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.ListID,
		task.Title,
		task.Notes,
		nullTimeArg(task.DueAt),
		task.DueHasTime,
		nullTimeArg(task.RemindAt),
		nullTimeArg(task.CompletedAt),
		task.Recurrence,
		location,
		task.Priority,
		task.Dirty,
		task.Revision,
		task.RejectedRevision,
		task.Deleted,
		timeArg(task.CreatedAt),
		timeArg(task.ModifiedAt),
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return store.NewStoreError("task", "create", "insert failed", MapError(err))
	}

	for _, ref := range task.Remotes {
		if err := s.SetRemote(ctx, task.ID, ref); err != nil {
			return err
		}
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("list_id", task.ListID.String()))
	return nil
}

// GetByID implements store.TaskStore.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return s.getOne(ctx, query, id)
}

// FindByRemoteID implements store.TaskStore.
func (s *PostgresTaskStore) FindByRemoteID(ctx context.Context, kind domain.ProviderKind, remoteListID, remoteID string) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE id = (
			SELECT task_id FROM task_remotes
			WHERE provider_kind = $1 AND remote_list_id = $2 AND remote_id = $3
		)
	`
	return s.getOne(ctx, query, string(kind), remoteListID, remoteID)
}

func (s *PostgresTaskStore) getOne(ctx context.Context, query string, args ...any) (*domain.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to load task",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "get", "query failed", MapError(err))
	}

	remotes, err := s.loadRemotes(ctx,
		`SELECT task_id, provider_kind, remote_list_id, remote_id, version_marker
		FROM task_remotes WHERE task_id = $1
		ORDER BY provider_kind, remote_list_id`, task.ID)
	if err != nil {
		return nil, err
	}
	task.Remotes = remotes[task.ID]
	return task, nil
}

// ListByList implements store.TaskStore. Ordering happens in Go so both
// backends agree on ties.
func (s *PostgresTaskStore) ListByList(ctx context.Context, listID uuid.UUID, sort domain.SortMode, includeCompleted bool) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE list_id = $1 AND NOT deleted`
	if !includeCompleted {
		query += ` AND completed_at IS NULL`
	}

	tasks, err := s.listWithRemotes(ctx, listID, query)
	if err != nil {
		return nil, err
	}
	domain.SortTasks(tasks, sort)
	return tasks, nil
}

// ListDirty implements store.TaskStore.
func (s *PostgresTaskStore) ListDirty(ctx context.Context, listID uuid.UUID) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE list_id = $1 AND dirty AND NOT deleted AND rejected_revision <> revision
	`
	tasks, err := s.listWithRemotes(ctx, listID, query)
	if err != nil {
		return nil, err
	}
	domain.SortTasks(tasks, domain.SortCreated)
	return tasks, nil
}

func (s *PostgresTaskStore) listWithRemotes(ctx context.Context, listID uuid.UUID, query string) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, listID)
	if err != nil {
		log.Error("failed to list tasks",
			slog.String("error", err.Error()),
			slog.String("list_id", listID.String()))
		return nil, store.NewStoreError("task", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "list", "scan failed", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list", "row iteration failed", MapError(err))
	}
	if len(tasks) == 0 {
		return tasks, nil
	}

	remotes, err := s.loadRemotes(ctx,
		`SELECT r.task_id, r.provider_kind, r.remote_list_id, r.remote_id, r.version_marker
		FROM task_remotes r JOIN tasks t ON t.id = r.task_id
		WHERE t.list_id = $1
		ORDER BY r.provider_kind, r.remote_list_id`, listID)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		task.Remotes = remotes[task.ID]
	}
	return tasks, nil
}

func (s *PostgresTaskStore) loadRemotes(ctx context.Context, query string, args ...any) (map[uuid.UUID][]domain.RemoteRef, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("task", "load remotes", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	out := make(map[uuid.UUID][]domain.RemoteRef)
	for rows.Next() {
		var taskID uuid.UUID
		var kind string
		var ref domain.RemoteRef
		if err := rows.Scan(&taskID, &kind, &ref.RemoteListID, &ref.RemoteID, &ref.VersionMarker); err != nil {
			return nil, store.NewStoreError("task", "load remotes", "scan failed", err)
		}
		ref.ProviderKind = domain.ProviderKind(kind)
		out[taskID] = append(out[taskID], ref)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "load remotes", "row iteration failed", MapError(err))
	}
	return out, nil
}

// CountOpen implements store.TaskStore.
func (s *PostgresTaskStore) CountOpen(ctx context.Context, listID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE list_id = $1 AND NOT deleted AND completed_at IS NULL`,
		listID).Scan(&n)
	if err != nil {
		return 0, store.NewStoreError("task", "count", "query failed", MapError(err))
	}
	return n, nil
}

// Update implements store.TaskStore.
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.Task, expectedRevision int64) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	location, err := regionArg(task.Location)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks SET
			list_id = $1, title = $2, notes = $3, due_at = $4, due_has_time = $5,
			remind_at = $6, completed_at = $7, recurrence = $8, location = $9,
			priority = $10, dirty = $11, revision = $12, rejected_revision = $13,
			deleted = $14, modified_at = $15
		WHERE id = $16 AND revision = $17
	`
	result, err := s.db.ExecContext(ctx, query,
		task.ListID,
		task.Title,
		task.Notes,
		nullTimeArg(task.DueAt),
		task.DueHasTime,
		nullTimeArg(task.RemindAt),
		nullTimeArg(task.CompletedAt),
		task.Recurrence,
		location,
		task.Priority,
		task.Dirty,
		task.Revision,
		task.RejectedRevision,
		task.Deleted,
		timeArg(task.ModifiedAt),
		task.ID,
		expectedRevision,
	)
	if err != nil {
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return store.NewStoreError("task", "update", "update failed", MapError(err))
	}

	if err := CheckRowsAffected(result, store.ErrRevisionConflict); err != nil {
		if !errors.Is(err, store.ErrRevisionConflict) {
			return err
		}
		if _, getErr := s.revision(ctx, task.ID); getErr != nil {
			return getErr
		}
		log.Debug("task revision moved during update",
			slog.String("task_id", task.ID.String()),
			slog.Int64("expected_revision", expectedRevision))
		return store.ErrRevisionConflict
	}
	return nil
}

func (s *PostgresTaskStore) revision(ctx context.Context, id uuid.UUID) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT revision FROM tasks WHERE id = $1`, id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrTaskNotFound
	}
	if err != nil {
		return 0, store.NewStoreError("task", "get revision", "query failed", MapError(err))
	}
	return rev, nil
}

// BumpRevision implements store.TaskStore.
func (s *PostgresTaskStore) BumpRevision(ctx context.Context, id uuid.UUID, modifiedAt time.Time) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET revision = revision + 1, dirty = $1, modified_at = $2
		WHERE id = $3
		RETURNING revision
	`, true, timeArg(modifiedAt), id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrTaskNotFound
	}
	if err != nil {
		return 0, store.NewStoreError("task", "bump revision", "update failed", MapError(err))
	}
	return rev, nil
}

// ClearDirty implements store.TaskStore.
func (s *PostgresTaskStore) ClearDirty(ctx context.Context, id uuid.UUID, uptoRevision int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET dirty = $1 WHERE id = $2 AND revision = $3`,
		false, id, uptoRevision)
	if err != nil {
		return false, store.NewStoreError("task", "clear dirty", "update failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		logger.FromContextOrDefault(ctx, s.logger).Debug("dirty flag kept, task edited during push",
			slog.String("task_id", id.String()),
			slog.Int64("pushed_revision", uptoRevision))
	}
	return n > 0, nil
}

// MarkRejected implements store.TaskStore.
func (s *PostgresTaskStore) MarkRejected(ctx context.Context, id uuid.UUID, revision int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET rejected_revision = $1 WHERE id = $2`, revision, id)
	if err != nil {
		return store.NewStoreError("task", "mark rejected", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrTaskNotFound)
}

// SetRemote implements store.TaskStore.
func (s *PostgresTaskStore) SetRemote(ctx context.Context, taskID uuid.UUID, ref domain.RemoteRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_remotes (task_id, provider_kind, remote_list_id, remote_id, version_marker)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id, provider_kind, remote_list_id)
		DO UPDATE SET remote_id = excluded.remote_id, version_marker = excluded.version_marker
	`, taskID, string(ref.ProviderKind), ref.RemoteListID, ref.RemoteID, ref.VersionMarker)
	if err == nil {
		return nil
	}

	switch {
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %s", store.ErrRemoteIDTaken, ref.RemoteID)
	case IsForeignKeyViolation(err):
		return store.ErrTaskNotFound
	default:
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to set remote reference",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return store.NewStoreError("task", "set remote", "upsert failed", MapError(err))
	}
}

// ClearRemotes implements store.TaskStore.
func (s *PostgresTaskStore) ClearRemotes(ctx context.Context, listID uuid.UUID, kind domain.ProviderKind, remoteListID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM task_remotes
		WHERE provider_kind = $1 AND remote_list_id = $2
		  AND task_id IN (SELECT id FROM tasks WHERE list_id = $3)
	`, string(kind), remoteListID, listID)
	if err != nil {
		return 0, store.NewStoreError("task", "clear remotes", "delete failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Purge implements store.TaskStore.
func (s *PostgresTaskStore) Purge(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_remotes WHERE task_id = $1`, id); err != nil {
		return store.NewStoreError("task", "purge", "delete remotes failed", MapError(err))
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND deleted`, id)
	if err != nil {
		return store.NewStoreError("task", "purge", "delete failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrTaskNotFound)
}

// WithTx implements store.TaskStore.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx, logger: s.logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                         domain.Task
		dueAt, remindAt, completedAt nullTime
		createdAt, modifiedAt        nullTime
		location                     sql.NullString
	)
	err := row.Scan(
		&task.ID,
		&task.ListID,
		&task.Title,
		&task.Notes,
		&dueAt,
		&task.DueHasTime,
		&remindAt,
		&completedAt,
		&task.Recurrence,
		&location,
		&task.Priority,
		&task.Dirty,
		&task.Revision,
		&task.RejectedRevision,
		&task.Deleted,
		&createdAt,
		&modifiedAt,
	)
	if err != nil {
		return nil, err
	}

	task.DueAt = dueAt.Ptr()
	task.RemindAt = remindAt.Ptr()
	task.CompletedAt = completedAt.Ptr()
	task.CreatedAt = createdAt.Time
	task.ModifiedAt = modifiedAt.Time
	if task.Location, err = scanRegion(location); err != nil {
		return nil, err
	}
	return &task, nil
}
