package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/tasksync/internal/api/shared"
	"github.com/phrazzld/tasksync/internal/jobs"
	"github.com/phrazzld/tasksync/internal/platform/logger"
)

// RegionReporter dispatches the geofence triggers matching a crossing.
type RegionReporter interface {
	ReportRegionEvent(ctx context.Context, lat, lng float64, transition jobs.Transition) (int, error)
}

// GeofenceHandler receives location transitions reported by clients.
type GeofenceHandler struct {
	reporter RegionReporter
	logger   *slog.Logger
}

// NewGeofenceHandler creates a new GeofenceHandler.
func NewGeofenceHandler(reporter RegionReporter, logger *slog.Logger) *GeofenceHandler {
	if reporter == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("region reporter cannot be nil for GeofenceHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for GeofenceHandler")
	}

	return &GeofenceHandler{
		reporter: reporter,
		logger:   logger.With(slog.String("component", "geofence_handler")),
	}
}

// ReportEvent handles POST /geofence-events.
func (h *GeofenceHandler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	var req GeofenceEventRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	n, err := h.reporter.ReportRegionEvent(r.Context(), req.Latitude, req.Longitude, jobs.Transition(req.Transition))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to process geofence event")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Debug("geofence event processed",
		slog.String("transition", req.Transition),
		slog.Int("dispatched", n))
	shared.RespondWithJSON(w, r, http.StatusOK, GeofenceEventResponse{Dispatched: n})
}
