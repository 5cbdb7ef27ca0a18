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

// PostgresBindingStore implements store.BindingStore.
type PostgresBindingStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresBindingStore creates a binding store on db.
func NewPostgresBindingStore(db store.DBTX, logger *slog.Logger) *PostgresBindingStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresBindingStore{
		db:     db,
		logger: logger.With(slog.String("component", "binding_store")),
	}
}

var _ store.BindingStore = (*PostgresBindingStore)(nil)

// Create implements store.BindingStore.
func (s *PostgresBindingStore) Create(ctx context.Context, binding *domain.ListBinding) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := binding.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO list_bindings
			(list_id, provider_kind, remote_list_id, credentials_ref, marker, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		binding.ListID,
		string(binding.ProviderKind),
		binding.RemoteListID,
		binding.CredentialsRef,
		binding.Marker,
		nullTimeArg(binding.LastSyncedAt),
		timeArg(binding.CreatedAt),
		timeArg(binding.UpdatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrBindingExists
		}
		log.Error("failed to create binding",
			slog.String("error", err.Error()),
			slog.String("list_id", binding.ListID.String()))
		return store.NewStoreError("binding", "create", "insert failed", MapError(err))
	}

	log.Debug("binding created",
		slog.String("list_id", binding.ListID.String()),
		slog.String("provider_kind", string(binding.ProviderKind)))
	return nil
}

// Get implements store.BindingStore.
func (s *PostgresBindingStore) Get(ctx context.Context, listID uuid.UUID) (*domain.ListBinding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT list_id, provider_kind, remote_list_id, credentials_ref, marker, last_synced_at, created_at, updated_at
		FROM list_bindings WHERE list_id = $1
	`, listID)
	binding, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBindingNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("binding", "get", "query failed", MapError(err))
	}
	return binding, nil
}

// List implements store.BindingStore.
func (s *PostgresBindingStore) List(ctx context.Context) ([]*domain.ListBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT list_id, provider_kind, remote_list_id, credentials_ref, marker, last_synced_at, created_at, updated_at
		FROM list_bindings
	`)
	if err != nil {
		return nil, store.NewStoreError("binding", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var bindings []*domain.ListBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, store.NewStoreError("binding", "list", "scan failed", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("binding", "list", "row iteration failed", MapError(err))
	}

	sort.SliceStable(bindings, func(i, j int) bool {
		if !bindings[i].CreatedAt.Equal(bindings[j].CreatedAt) {
			return bindings[i].CreatedAt.Before(bindings[j].CreatedAt)
		}
		return bindings[i].ListID.String() < bindings[j].ListID.String()
	})
	return bindings, nil
}

// CommitMarker implements store.BindingStore.
func (s *PostgresBindingStore) CommitMarker(ctx context.Context, listID uuid.UUID, marker string, syncedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE list_bindings SET marker = $1, last_synced_at = $2, updated_at = $3
		WHERE list_id = $4
	`, marker, timeArg(syncedAt), timeArg(syncedAt), listID)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to commit marker",
			slog.String("error", err.Error()),
			slog.String("list_id", listID.String()))
		return store.NewStoreError("binding", "commit marker", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrBindingNotFound)
}

// Delete implements store.BindingStore.
func (s *PostgresBindingStore) Delete(ctx context.Context, listID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM list_bindings WHERE list_id = $1`, listID)
	if err != nil {
		return store.NewStoreError("binding", "delete", "delete failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrBindingNotFound)
}

// WithTx implements store.BindingStore.
func (s *PostgresBindingStore) WithTx(tx *sql.Tx) store.BindingStore {
	return &PostgresBindingStore{db: tx, logger: s.logger}
}

func scanBinding(row rowScanner) (*domain.ListBinding, error) {
	var (
		b                    domain.ListBinding
		kind                 string
		lastSynced           nullTime
		createdAt, updatedAt nullTime
	)
	err := row.Scan(
		&b.ListID,
		&kind,
		&b.RemoteListID,
		&b.CredentialsRef,
		&b.Marker,
		&lastSynced,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.ProviderKind = domain.ProviderKind(kind)
	b.LastSyncedAt = lastSynced.Ptr()
	b.CreatedAt = createdAt.Time
	b.UpdatedAt = updatedAt.Time
	return &b, nil
}

// PostgresSnapshotStore implements store.SnapshotStore.
type PostgresSnapshotStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSnapshotStore creates a snapshot store on db.
func NewPostgresSnapshotStore(db store.DBTX, logger *slog.Logger) *PostgresSnapshotStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSnapshotStore{
		db:     db,
		logger: logger.With(slog.String("component", "snapshot_store")),
	}
}

var _ store.SnapshotStore = (*PostgresSnapshotStore)(nil)

// Snapshot implements store.SnapshotStore.
func (s *PostgresSnapshotStore) Snapshot(ctx context.Context, listID uuid.UUID) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT remote_id, version_marker FROM remote_snapshots WHERE list_id = $1`, listID)
	if err != nil {
		return nil, store.NewStoreError("snapshot", "get", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	snapshot := make(map[string]string)
	for rows.Next() {
		var id, marker string
		if err := rows.Scan(&id, &marker); err != nil {
			return nil, store.NewStoreError("snapshot", "get", "scan failed", err)
		}
		snapshot[id] = marker
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("snapshot", "get", "row iteration failed", MapError(err))
	}
	return snapshot, nil
}

// ReplaceSnapshot implements store.SnapshotStore. Callers wanting atomicity
// run it inside a transaction.
func (s *PostgresSnapshotStore) ReplaceSnapshot(ctx context.Context, listID uuid.UUID, snapshot map[string]string) error {
	if err := s.DeleteSnapshot(ctx, listID); err != nil {
		return err
	}

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO remote_snapshots (list_id, remote_id, version_marker) VALUES ($1, $2, $3)`,
			listID, id, snapshot[id])
		if err != nil {
			logger.FromContextOrDefault(ctx, s.logger).Error("failed to write snapshot entry",
				slog.String("error", err.Error()),
				slog.String("list_id", listID.String()))
			return store.NewStoreError("snapshot", "replace", "insert failed", MapError(err))
		}
	}
	return nil
}

// DeleteSnapshot implements store.SnapshotStore.
func (s *PostgresSnapshotStore) DeleteSnapshot(ctx context.Context, listID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM remote_snapshots WHERE list_id = $1`, listID); err != nil {
		return store.NewStoreError("snapshot", "delete", "delete failed", MapError(err))
	}
	return nil
}

// WithTx implements store.SnapshotStore.
func (s *PostgresSnapshotStore) WithTx(tx *sql.Tx) store.SnapshotStore {
	return &PostgresSnapshotStore{db: tx, logger: s.logger}
}
