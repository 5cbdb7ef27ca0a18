package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/tasksync/internal/provider"
	"golang.org/x/oauth2"
)

// PersistingTokenSource writes every newly issued token back to the vault
// so a restart does not need a fresh authorization.
type PersistingTokenSource struct {
	mu     sync.Mutex
	ctx    context.Context
	vault  *Vault
	ref    string
	base   oauth2.TokenSource
	last   string
	logger *slog.Logger
}

// NewPersistingTokenSource wraps the refreshing token source of config,
// seeded with the stored credentials.
func NewPersistingTokenSource(
	ctx context.Context,
	vault *Vault,
	ref string,
	creds *Credentials,
	config *oauth2.Config,
	logger *slog.Logger,
) *PersistingTokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	seed := creds.Token()
	return &PersistingTokenSource{
		ctx:    context.WithoutCancel(ctx),
		vault:  vault,
		ref:    ref,
		base:   config.TokenSource(ctx, seed),
		last:   seed.AccessToken,
		logger: logger.With(slog.String("component", "token_source")),
	}
}

// Token implements oauth2.TokenSource. A refresh rejected by the
// authorization server maps to provider.ErrAuthExpired.
func (s *PersistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.base.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("%w: %v", provider.ErrAuthExpired, err)
		}
		return nil, fmt.Errorf("%w: token refresh: %v", provider.ErrProviderUnavailable, err)
	}
	if tok.AccessToken == s.last {
		return tok, nil
	}

	creds, err := s.vault.Get(s.ctx, s.ref)
	if err != nil {
		s.logger.Warn("failed to load credentials for token update",
			slog.String("ref", s.ref),
			slog.String("error", err.Error()))
		return tok, nil
	}
	creds.SetToken(tok)
	if err := s.vault.Put(s.ctx, s.ref, creds); err != nil {
		s.logger.Warn("failed to persist refreshed token",
			slog.String("ref", s.ref),
			slog.String("error", err.Error()))
		return tok, nil
	}
	s.last = tok.AccessToken
	s.logger.Debug("persisted refreshed token", slog.String("ref", s.ref))
	return tok, nil
}
