package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

// PostgresTriggerStore implements store.TriggerStore.
type PostgresTriggerStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTriggerStore creates a trigger store on db.
func NewPostgresTriggerStore(db store.DBTX, logger *slog.Logger) *PostgresTriggerStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTriggerStore{
		db:     db,
		logger: logger.With(slog.String("component", "trigger_store")),
	}
}

var _ store.TriggerStore = (*PostgresTriggerStore)(nil)

// State implements store.TriggerStore.
func (s *PostgresTriggerStore) State(ctx context.Context, taskID uuid.UUID) (int64, string, error) {
	var gen int64
	var fp string
	err := s.db.QueryRowContext(ctx,
		`SELECT generation, fingerprint FROM trigger_states WHERE task_id = $1`, taskID).Scan(&gen, &fp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", store.NewStoreError("trigger", "state", "query failed", MapError(err))
	}
	return gen, fp, nil
}

// Replace implements store.TriggerStore.
func (s *PostgresTriggerStore) Replace(ctx context.Context, taskID uuid.UUID, generation int64, fingerprint string, triggers []domain.PendingTrigger) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_states (task_id, generation, fingerprint) VALUES ($1, $2, $3)
		ON CONFLICT (task_id) DO UPDATE SET generation = excluded.generation, fingerprint = excluded.fingerprint
	`, taskID, generation, fingerprint)
	if err != nil {
		log.Error("failed to store trigger state",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return store.NewStoreError("trigger", "replace", "state upsert failed", MapError(err))
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_triggers WHERE task_id = $1`, taskID); err != nil {
		return store.NewStoreError("trigger", "replace", "delete failed", MapError(err))
	}

	for _, p := range triggers {
		region, err := regionArg(p.Region)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO pending_triggers (task_id, kind, generation, scheduled_at, region)
			VALUES ($1, $2, $3, $4, $5)
		`, taskID, string(p.Kind), p.Generation, nullTimeArg(p.ScheduledAt), region)
		if err != nil {
			log.Error("failed to store pending trigger",
				slog.String("error", err.Error()),
				slog.String("task_id", taskID.String()),
				slog.String("kind", string(p.Kind)))
			return store.NewStoreError("trigger", "replace", "insert failed", MapError(err))
		}
	}

	log.Debug("triggers replaced",
		slog.String("task_id", taskID.String()),
		slog.Int64("generation", generation),
		slog.Int("count", len(triggers)))
	return nil
}

// List implements store.TriggerStore.
func (s *PostgresTriggerStore) List(ctx context.Context, taskID uuid.UUID) ([]domain.PendingTrigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, kind, generation, scheduled_at, region
		FROM pending_triggers WHERE task_id = $1
	`, taskID)
	if err != nil {
		return nil, store.NewStoreError("trigger", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []domain.PendingTrigger
	for rows.Next() {
		var (
			p           domain.PendingTrigger
			kind        string
			scheduledAt nullTime
			region      sql.NullString
		)
		if err := rows.Scan(&p.TaskID, &kind, &p.Generation, &scheduledAt, &region); err != nil {
			return nil, store.NewStoreError("trigger", "list", "scan failed", err)
		}
		p.Kind = domain.TriggerKind(kind)
		p.ScheduledAt = scheduledAt.Ptr()
		if p.Region, err = scanRegion(region); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("trigger", "list", "row iteration failed", MapError(err))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

// Remove implements store.TriggerStore.
func (s *PostgresTriggerStore) Remove(ctx context.Context, taskID uuid.UUID, kind domain.TriggerKind, generation int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_triggers WHERE task_id = $1 AND kind = $2 AND generation = $3`,
		taskID, string(kind), generation)
	if err != nil {
		return store.NewStoreError("trigger", "remove", "delete failed", MapError(err))
	}
	return nil
}

// WithTx implements store.TriggerStore.
func (s *PostgresTriggerStore) WithTx(tx *sql.Tx) store.TriggerStore {
	return &PostgresTriggerStore{db: tx, logger: s.logger}
}
