package bindingfile

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/service"
	"github.com/phrazzld/tasksync/internal/store"
)

// Binder is the part of service.BindingService the applier uses.
type Binder interface {
	Link(ctx context.Context, req service.LinkRequest) (*domain.ListBinding, error)
	Get(ctx context.Context, listID uuid.UUID) (*domain.ListBinding, error)
	Unlink(ctx context.Context, listID uuid.UUID) error
}

// Applier reconciles bindings with successive versions of the file. It
// remembers which lists the file declared so that removing a record
// unlinks only bindings the file created.
type Applier struct {
	binder Binder
	logger *slog.Logger

	mu      sync.Mutex
	managed map[uuid.UUID]service.LinkRequest
}

// NewApplier creates an Applier that has seen no file yet.
func NewApplier(binder Binder, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		binder:  binder,
		logger:  logger.With(slog.String("component", "bindingfile")),
		managed: make(map[uuid.UUID]service.LinkRequest),
	}
}

// Changes counts what one Apply did.
type Changes struct {
	Linked   int
	Unlinked int
	Relinked int
}

// Apply makes the bindings match declared. Lists dropped from the file are
// unlinked; records whose target changed are unlinked and linked again; new
// records are linked unless the list is already bound to the same target.
// Errors for individual lists are joined; the rest are still applied.
func (a *Applier) Apply(ctx context.Context, declared map[uuid.UUID]service.LinkRequest) (Changes, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var changes Changes
	var errs []error

	for _, listID := range sortedIDs(a.managed) {
		if _, still := declared[listID]; still {
			continue
		}
		if err := a.binder.Unlink(ctx, listID); err != nil && !errors.Is(err, store.ErrBindingNotFound) {
			errs = append(errs, err)
			continue
		}
		delete(a.managed, listID)
		changes.Unlinked++
		a.logger.Info("binding removed from file", slog.String("list_id", listID.String()))
	}

	for _, listID := range sortedIDs(declared) {
		req := declared[listID]
		relink := false
		existing, err := a.binder.Get(ctx, listID)
		switch {
		case err == nil && sameTarget(existing, req):
			a.managed[listID] = req
			continue
		case err == nil:
			if _, owned := a.managed[listID]; !owned {
				a.logger.Warn("list already bound elsewhere, ignoring file record",
					slog.String("list_id", listID.String()),
					slog.String("bound_to", existing.RemoteListID))
				continue
			}
			if err := a.binder.Unlink(ctx, listID); err != nil {
				errs = append(errs, err)
				continue
			}
			relink = true
		case !errors.Is(err, store.ErrBindingNotFound):
			errs = append(errs, err)
			continue
		}

		if _, err := a.binder.Link(ctx, req); err != nil {
			errs = append(errs, err)
			continue
		}
		a.managed[listID] = req
		if relink {
			changes.Relinked++
		} else {
			changes.Linked++
		}
	}

	return changes, errors.Join(errs...)
}

func sameTarget(b *domain.ListBinding, req service.LinkRequest) bool {
	return b.ProviderKind == req.ProviderKind &&
		b.RemoteListID == req.RemoteListID &&
		b.CredentialsRef == req.CredentialsRef
}

func sortedIDs(m map[uuid.UUID]service.LinkRequest) []uuid.UUID {
	return slices.SortedFunc(maps.Keys(m), func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
}
