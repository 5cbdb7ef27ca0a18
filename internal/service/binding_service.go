package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/credentials"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/ledger"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

// SyncControl is the part of the sync coordinator the binding service
// drives. *coordinator.Coordinator implements it.
type SyncControl interface {
	SyncTrigger
	Forget(listID uuid.UUID)
	ResumeAuth(listID uuid.UUID)
}

// CredentialWriter stores credentials under a reference.
// *credentials.Vault implements it.
type CredentialWriter interface {
	Put(ctx context.Context, ref string, creds *credentials.Credentials) error
}

// LinkRequest describes a new binding.
type LinkRequest struct {
	ListID         uuid.UUID           `json:"list_id"`
	ProviderKind   domain.ProviderKind `json:"provider_kind"`
	RemoteListID   string              `json:"remote_list_id"`
	CredentialsRef string              `json:"credentials_ref"`
}

// BindingService manages the pairing of local lists with remote lists.
type BindingService interface {
	// Link binds a local list to a remote list and schedules a first pass.
	Link(ctx context.Context, req LinkRequest) (*domain.ListBinding, error)

	// Get returns the binding of a list.
	Get(ctx context.Context, listID uuid.UUID) (*domain.ListBinding, error)

	// List returns every binding.
	List(ctx context.Context) ([]*domain.ListBinding, error)

	// Unlink removes a binding. Its tasks stay as purely local tasks.
	Unlink(ctx context.Context, listID uuid.UUID) error

	// Reauthorize stores fresh credentials for a list and resumes a list
	// paused on expired authorization.
	Reauthorize(ctx context.Context, listID uuid.UUID, creds *credentials.Credentials) error
}

type bindingServiceImpl struct {
	bindings  store.BindingStore
	tasks     store.TaskStore
	snapshots store.SnapshotStore
	ledger    *ledger.Ledger
	tx        store.Transactor
	creds     CredentialWriter
	sync      SyncControl
	logger    *slog.Logger
}

// NewBindingService creates a BindingService. sync may be nil.
func NewBindingService(
	bindings store.BindingStore,
	tasks store.TaskStore,
	snapshots store.SnapshotStore,
	ledger *ledger.Ledger,
	tx store.Transactor,
	creds CredentialWriter,
	sync SyncControl,
	logger *slog.Logger,
) (BindingService, error) {
	switch {
	case bindings == nil:
		return nil, fmt.Errorf("%w: bindings store cannot be nil", domain.ErrValidation)
	case tasks == nil:
		return nil, fmt.Errorf("%w: tasks store cannot be nil", domain.ErrValidation)
	case snapshots == nil:
		return nil, fmt.Errorf("%w: snapshot store cannot be nil", domain.ErrValidation)
	case ledger == nil:
		return nil, fmt.Errorf("%w: ledger cannot be nil", domain.ErrValidation)
	case tx == nil:
		return nil, fmt.Errorf("%w: transactor cannot be nil", domain.ErrValidation)
	case creds == nil:
		return nil, fmt.Errorf("%w: credential writer cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &bindingServiceImpl{
		bindings:  bindings,
		tasks:     tasks,
		snapshots: snapshots,
		ledger:    ledger,
		tx:        tx,
		creds:     creds,
		sync:      sync,
		logger:    logger.With(slog.String("component", "binding_service")),
	}, nil
}

func (s *bindingServiceImpl) Link(ctx context.Context, req LinkRequest) (*domain.ListBinding, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	binding, err := domain.NewListBinding(req.ListID, req.ProviderKind, req.RemoteListID, req.CredentialsRef)
	if err != nil {
		return nil, NewBindingServiceError("link", "invalid binding", err)
	}
	if err := s.bindings.Create(ctx, binding); err != nil {
		return nil, NewBindingServiceError("link", "failed to save binding", err)
	}

	log.Info("list linked",
		slog.String("list_id", binding.ListID.String()),
		slog.String("provider", string(binding.ProviderKind)),
		slog.String("remote_list_id", binding.RemoteListID))
	if s.sync != nil {
		s.sync.Trigger(binding.ListID)
	}
	return binding, nil
}

func (s *bindingServiceImpl) Get(ctx context.Context, listID uuid.UUID) (*domain.ListBinding, error) {
	binding, err := s.bindings.Get(ctx, listID)
	if err != nil {
		return nil, NewBindingServiceError("get", "failed to load binding", err)
	}
	return binding, nil
}

func (s *bindingServiceImpl) List(ctx context.Context) ([]*domain.ListBinding, error) {
	bindings, err := s.bindings.List(ctx)
	if err != nil {
		return nil, NewBindingServiceError("list", "failed to list bindings", err)
	}
	return bindings, nil
}

func (s *bindingServiceImpl) Unlink(ctx context.Context, listID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	binding, err := s.bindings.Get(ctx, listID)
	if err != nil {
		return NewBindingServiceError("unlink", "failed to load binding", err)
	}

	// Stop any in-flight pass before its results can land.
	if s.sync != nil {
		s.sync.Forget(listID)
	}

	var cleared int64
	err = s.tx.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		cleared, err = s.tasks.WithTx(tx).ClearRemotes(ctx, listID, binding.ProviderKind, binding.RemoteListID)
		if err != nil {
			return err
		}
		if err := s.snapshots.WithTx(tx).DeleteSnapshot(ctx, listID); err != nil {
			return err
		}
		if err := s.ledger.WithTx(tx).MarkListRemoved(ctx, listID); err != nil {
			return err
		}
		return s.bindings.WithTx(tx).Delete(ctx, listID)
	})
	if err != nil {
		log.Error("failed to unlink list",
			slog.String("list_id", listID.String()),
			slog.String("error", err.Error()))
		return NewBindingServiceError("unlink", "failed to remove binding", err)
	}

	log.Info("list unlinked",
		slog.String("list_id", listID.String()),
		slog.Int64("remote_refs_cleared", cleared))
	return nil
}

func (s *bindingServiceImpl) Reauthorize(ctx context.Context, listID uuid.UUID, creds *credentials.Credentials) error {
	if creds == nil {
		return NewBindingServiceError("reauthorize", "missing credentials", domain.ErrValidation)
	}
	binding, err := s.bindings.Get(ctx, listID)
	if err != nil {
		return NewBindingServiceError("reauthorize", "failed to load binding", err)
	}
	if creds.Kind == "" {
		creds.Kind = binding.ProviderKind
	}
	if creds.Kind != binding.ProviderKind {
		return NewBindingServiceError("reauthorize", "credentials are for another provider",
			fmt.Errorf("%w: %s", domain.ErrInvalidProviderKind, creds.Kind))
	}
	if err := s.creds.Put(ctx, binding.CredentialsRef, creds); err != nil {
		return NewBindingServiceError("reauthorize", "failed to store credentials", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("list reauthorized",
		slog.String("list_id", listID.String()))
	if s.sync != nil {
		s.sync.ResumeAuth(listID)
	}
	return nil
}

// IsNotBound reports whether err means the list has no binding.
func IsNotBound(err error) bool {
	return errors.Is(err, store.ErrBindingNotFound) || errors.Is(err, ErrListNotBound)
}
