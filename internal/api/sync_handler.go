package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/api/shared"
	"github.com/phrazzld/tasksync/internal/coordinator"
	"github.com/phrazzld/tasksync/internal/events"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/reconcile"
)

const streamWriteTimeout = 5 * time.Second

// SyncController is the part of the sync coordinator the API drives.
type SyncController interface {
	SyncNow(ctx context.Context, listID uuid.UUID) (*reconcile.PassResult, error)
	Status(listID uuid.UUID) (coordinator.ListStatus, bool)
	Statuses() []coordinator.ListStatus
}

// EventSource hands out event subscriptions. A nil list id subscribes to
// every list.
type EventSource interface {
	Subscribe(listID uuid.UUID) (<-chan *events.Event, func())
}

// SyncHandler handles sync control, status and the event stream.
type SyncHandler struct {
	sync           SyncController
	events         EventSource
	originPatterns []string
	logger         *slog.Logger
}

// NewSyncHandler creates a new SyncHandler. originPatterns is passed to the
// websocket handshake; empty means same-origin only.
func NewSyncHandler(sync SyncController, source EventSource, originPatterns []string, logger *slog.Logger) *SyncHandler {
	if sync == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("sync controller cannot be nil for SyncHandler")
	}
	if source == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("event source cannot be nil for SyncHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SyncHandler")
	}

	return &SyncHandler{
		sync:           sync,
		events:         source,
		originPatterns: originPatterns,
		logger:         logger.With(slog.String("component", "sync_handler")),
	}
}

// SyncNow handles POST /lists/{listID}/sync. It runs a pass, or waits for
// the one already in flight, and returns its result.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathUUID(w, r, "listID")
	if !ok {
		return
	}

	result, err := h.sync.SyncNow(r.Context(), listID)
	if err != nil {
		HandleAPIError(w, r, err, "Sync failed")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// ListStatus handles GET /lists/{listID}/sync.
func (h *SyncHandler) ListStatus(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathUUID(w, r, "listID")
	if !ok {
		return
	}

	status, found := h.sync.Status(listID)
	if !found {
		status = coordinator.ListStatus{ListID: listID}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// AllStatuses handles GET /sync/status.
func (h *SyncHandler) AllStatuses(w http.ResponseWriter, r *http.Request) {
	statuses := h.sync.Statuses()
	if statuses == nil {
		statuses = []coordinator.ListStatus{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, statuses)
}

// Stream handles GET /sync/stream. It upgrades to a websocket and writes
// every event as a JSON text message until either side goes away. The
// optional list_id query parameter narrows the stream to one list.
func (h *SyncHandler) Stream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var listID uuid.UUID
	if raw := r.URL.Query().Get("list_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid list_id")
			return
		}
		listID = id
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ch, unsubscribe := h.events.Subscribe(listID)
	defer unsubscribe()

	log.Debug("event stream opened", slog.String("list_id", listID.String()))

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer closes.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return

		case event, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				log.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
