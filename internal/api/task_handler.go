package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/tasksync/internal/api/shared"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/service"
)

// TaskHandler handles task HTTP requests.
type TaskHandler struct {
	tasks  service.TaskService
	logger *slog.Logger
	now    func() time.Time
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks service.TaskService, logger *slog.Logger) *TaskHandler {
	if tasks == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("task service cannot be nil for TaskHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		tasks:  tasks,
		logger: logger.With(slog.String("component", "task_handler")),
		now:    time.Now,
	}
}

// ListTasks handles GET /lists/{listID}/tasks.
// Query parameters: sort (auto, due, priority, alpha, modified, created),
// reverse (bool) and include_completed (bool).
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathUUID(w, r, "listID")
	if !ok {
		return
	}

	mode, err := domain.ParseSortMode(r.URL.Query().Get("sort"))
	if err != nil {
		HandleAPIError(w, r, err, "Invalid sort mode")
		return
	}
	opts := service.ListOptions{Sort: mode}
	if opts.IncludeCompleted, ok = queryBool(w, r, "include_completed"); !ok {
		return
	}
	if opts.Reverse, ok = queryBool(w, r, "reverse"); !ok {
		return
	}

	tasks, err := h.tasks.List(r.Context(), listID, opts)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{ListID: listID, Tasks: tasks})
}

// CreateTask handles POST /lists/{listID}/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	listID, ok := pathUUID(w, r, "listID")
	if !ok {
		return
	}
	var req CreateTaskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	task, err := h.tasks.Create(r.Context(), listID, req.Title, req.patch())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("list_id", listID.String()))
	shared.RespondWithJSON(w, r, http.StatusCreated, task)
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	task, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// UpdateTask handles PATCH /tasks/{id}.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateTaskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	task, err := h.tasks.Update(r.Context(), id, req.patch())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// CompleteTask handles POST /tasks/{id}/complete. The body is optional;
// completed_at defaults to now. A recurring task comes back advanced to
// its next occurrence.
func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	at := h.now()
	if r.ContentLength != 0 {
		var req CompleteTaskRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		if req.CompletedAt != nil {
			at = *req.CompletedAt
		}
	}

	task, err := h.tasks.Complete(r.Context(), id, at)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to complete task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// UncompleteTask handles DELETE /tasks/{id}/complete.
func (h *TaskHandler) UncompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	task, err := h.tasks.Uncomplete(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to reopen task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// DeleteTask handles DELETE /tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.tasks.Delete(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
