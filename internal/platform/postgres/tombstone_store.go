package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

const tombstoneColumns = `task_id, list_id, provider_kind, remote_id, deleted_at_revision,
	origin, confirmed, list_removed_at, created_at`

// PostgresTombstoneStore implements store.TombstoneStore.
type PostgresTombstoneStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTombstoneStore creates a tombstone store on db.
func NewPostgresTombstoneStore(db store.DBTX, logger *slog.Logger) *PostgresTombstoneStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTombstoneStore{
		db:     db,
		logger: logger.With(slog.String("component", "tombstone_store")),
	}
}

var _ store.TombstoneStore = (*PostgresTombstoneStore)(nil)

// Save implements store.TombstoneStore.
func (s *PostgresTombstoneStore) Save(ctx context.Context, t *domain.Tombstone) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tombstones (`+tombstoneColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (list_id, remote_id)
		DO UPDATE SET confirmed = tombstones.confirmed OR excluded.confirmed
	`,
		t.TaskID,
		t.ListID,
		string(t.ProviderKind),
		t.RemoteID,
		t.DeletedAtRevision,
		string(t.Origin),
		t.Confirmed,
		nullTimeArg(t.ListRemovedAt),
		timeArg(t.CreatedAt),
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to save tombstone",
			slog.String("error", err.Error()),
			slog.String("list_id", t.ListID.String()),
			slog.String("remote_id", t.RemoteID))
		return store.NewStoreError("tombstone", "save", "upsert failed", MapError(err))
	}
	return nil
}

// Find implements store.TombstoneStore.
func (s *PostgresTombstoneStore) Find(ctx context.Context, listID uuid.UUID, remoteID string) (*domain.Tombstone, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tombstoneColumns+` FROM tombstones WHERE list_id = $1 AND remote_id = $2`,
		listID, remoteID)
	t, err := scanTombstone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTombstoneNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("tombstone", "find", "query failed", MapError(err))
	}
	return t, nil
}

// ListByList implements store.TombstoneStore.
func (s *PostgresTombstoneStore) ListByList(ctx context.Context, listID uuid.UUID) ([]*domain.Tombstone, error) {
	return s.list(ctx, `SELECT `+tombstoneColumns+` FROM tombstones WHERE list_id = $1`, listID)
}

// ListOrphaned implements store.TombstoneStore.
func (s *PostgresTombstoneStore) ListOrphaned(ctx context.Context) ([]*domain.Tombstone, error) {
	return s.list(ctx, `SELECT `+tombstoneColumns+` FROM tombstones WHERE list_removed_at IS NOT NULL`)
}

func (s *PostgresTombstoneStore) list(ctx context.Context, query string, args ...any) ([]*domain.Tombstone, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("tombstone", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Tombstone
	for rows.Next() {
		t, err := scanTombstone(rows)
		if err != nil {
			return nil, store.NewStoreError("tombstone", "list", "scan failed", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("tombstone", "list", "row iteration failed", MapError(err))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

// Confirm implements store.TombstoneStore.
func (s *PostgresTombstoneStore) Confirm(ctx context.Context, listID uuid.UUID, remoteID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tombstones SET confirmed = $1 WHERE list_id = $2 AND remote_id = $3`,
		true, listID, remoteID)
	if err != nil {
		return store.NewStoreError("tombstone", "confirm", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrTombstoneNotFound)
}

// MarkListRemoved implements store.TombstoneStore.
func (s *PostgresTombstoneStore) MarkListRemoved(ctx context.Context, listID uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tombstones SET list_removed_at = $1 WHERE list_id = $2`,
		timeArg(at), listID)
	if err != nil {
		return store.NewStoreError("tombstone", "mark list removed", "update failed", MapError(err))
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Debug("tombstones orphaned by unlink",
			slog.String("list_id", listID.String()),
			slog.Int64("count", n))
	}
	return nil
}

// Delete implements store.TombstoneStore.
func (s *PostgresTombstoneStore) Delete(ctx context.Context, listID uuid.UUID, remoteID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tombstones WHERE list_id = $1 AND remote_id = $2`, listID, remoteID)
	if err != nil {
		return store.NewStoreError("tombstone", "delete", "delete failed", MapError(err))
	}
	return nil
}

// WithTx implements store.TombstoneStore.
func (s *PostgresTombstoneStore) WithTx(tx *sql.Tx) store.TombstoneStore {
	return &PostgresTombstoneStore{db: tx, logger: s.logger}
}

func scanTombstone(row rowScanner) (*domain.Tombstone, error) {
	var (
		t                    domain.Tombstone
		kind, origin         string
		removedAt, createdAt nullTime
	)
	err := row.Scan(
		&t.TaskID,
		&t.ListID,
		&kind,
		&t.RemoteID,
		&t.DeletedAtRevision,
		&origin,
		&t.Confirmed,
		&removedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	t.ProviderKind = domain.ProviderKind(kind)
	t.Origin = domain.DeletionOrigin(origin)
	t.ListRemovedAt = removedAt.Ptr()
	t.CreatedAt = createdAt.Time
	return &t, nil
}
