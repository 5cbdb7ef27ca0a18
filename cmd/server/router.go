package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/tasksync/internal/api"
	apiMiddleware "github.com/phrazzld/tasksync/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)
	taskHandler := api.NewTaskHandler(app.taskService, app.logger)
	bindingHandler := api.NewBindingHandler(app.bindingService, app.logger)
	syncHandler := api.NewSyncHandler(app.coordinator, app.broadcaster, app.config.Server.AllowedOrigins, app.logger)
	geofenceHandler := api.NewGeofenceHandler(app.jobRunner, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// Tasks
		r.Get("/lists/{listID}/tasks", taskHandler.ListTasks)
		r.Post("/lists/{listID}/tasks", taskHandler.CreateTask)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Patch("/tasks/{id}", taskHandler.UpdateTask)
		r.Delete("/tasks/{id}", taskHandler.DeleteTask)
		r.Post("/tasks/{id}/complete", taskHandler.CompleteTask)
		r.Delete("/tasks/{id}/complete", taskHandler.UncompleteTask)

		// Bindings
		r.Get("/bindings", bindingHandler.ListBindings)
		r.Post("/bindings", bindingHandler.Link)
		r.Get("/bindings/{listID}", bindingHandler.GetBinding)
		r.Delete("/bindings/{listID}", bindingHandler.Unlink)
		r.Post("/bindings/{listID}/reauth", bindingHandler.Reauthorize)

		// Sync
		r.Post("/lists/{listID}/sync", syncHandler.SyncNow)
		r.Get("/lists/{listID}/sync", syncHandler.ListStatus)
		r.Get("/sync/status", syncHandler.AllStatuses)
		r.Get("/sync/stream", syncHandler.Stream)

		// Geofences
		r.Post("/geofence/events", geofenceHandler.ReportEvent)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
