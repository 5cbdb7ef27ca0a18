package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/tasksync/internal/store"
)

// PostgresCredentialStore implements store.CredentialStore. It only ever
// sees sealed blobs.
type PostgresCredentialStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresCredentialStore creates a credential store on db.
func NewPostgresCredentialStore(db store.DBTX, logger *slog.Logger) *PostgresCredentialStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCredentialStore{
		db:     db,
		logger: logger.With(slog.String("component", "credential_store")),
		now:    time.Now,
	}
}

var _ store.CredentialStore = (*PostgresCredentialStore)(nil)

// Get implements store.CredentialStore.
func (s *PostgresCredentialStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT sealed FROM credentials WHERE ref = $1`, ref).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCredentialNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("credential", "get", "query failed", MapError(err))
	}
	return sealed, nil
}

// Put implements store.CredentialStore.
func (s *PostgresCredentialStore) Put(ctx context.Context, ref string, sealed []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (ref, sealed, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (ref) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at
	`, ref, sealed, timeArg(s.now()))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store credentials",
			slog.String("error", err.Error()),
			slog.String("ref", ref))
		return store.NewStoreError("credential", "put", "upsert failed", MapError(err))
	}
	return nil
}

// Delete implements store.CredentialStore.
func (s *PostgresCredentialStore) Delete(ctx context.Context, ref string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE ref = $1`, ref); err != nil {
		return store.NewStoreError("credential", "delete", "delete failed", MapError(err))
	}
	return nil
}
