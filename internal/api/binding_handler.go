package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/tasksync/internal/api/shared"
	"github.com/phrazzld/tasksync/internal/credentials"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/service"
)

// BindingHandler handles list binding HTTP requests.
type BindingHandler struct {
	bindings service.BindingService
	logger   *slog.Logger
}

// NewBindingHandler creates a new BindingHandler.
func NewBindingHandler(bindings service.BindingService, logger *slog.Logger) *BindingHandler {
	if bindings == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("binding service cannot be nil for BindingHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for BindingHandler")
	}

	return &BindingHandler{
		bindings: bindings,
		logger:   logger.With(slog.String("component", "binding_handler")),
	}
}

// ListBindings handles GET /bindings.
func (h *BindingHandler) ListBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.bindings.List(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list bindings")
		return
	}
	if bindings == nil {
		bindings = []*domain.ListBinding{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, BindingListResponse{Bindings: bindings})
}

// GetBinding handles GET /bindings/{listID}.
func (h *BindingHandler) GetBinding(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathUUID(w, r, "listID")
	if !ok {
		return
	}
	binding, err := h.bindings.Get(r.Context(), listID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get binding")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, binding)
}

// Link handles POST /bindings.
func (h *BindingHandler) Link(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req LinkRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	binding, err := h.bindings.Link(r.Context(), service.LinkRequest{
		ListID:         req.ListID,
		ProviderKind:   domain.ProviderKind(req.ProviderKind),
		RemoteListID:   req.RemoteListID,
		CredentialsRef: req.CredentialsRef,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to link list")
		return
	}

	log.Info("list linked via API", slog.String("list_id", binding.ListID.String()))
	shared.RespondWithJSON(w, r, http.StatusCreated, binding)
}

// Unlink handles DELETE /bindings/{listID}.
func (h *BindingHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathUUID(w, r, "listID")
	if !ok {
		return
	}
	if err := h.bindings.Unlink(r.Context(), listID); err != nil {
		HandleAPIError(w, r, err, "Failed to unlink list")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reauthorize handles POST /bindings/{listID}/reauth. The new credentials
// replace the stored ones and a paused list resumes syncing.
func (h *BindingHandler) Reauthorize(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathUUID(w, r, "listID")
	if !ok {
		return
	}
	var req ReauthRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	creds := &credentials.Credentials{
		BaseURL:      req.BaseURL,
		Username:     req.Username,
		Password:     req.Password,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    req.TokenType,
		Expiry:       req.Expiry,
	}
	if err := h.bindings.Reauthorize(r.Context(), listID, creds); err != nil {
		HandleAPIError(w, r, err, "Failed to reauthorize list")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
