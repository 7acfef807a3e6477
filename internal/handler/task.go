package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/tasksync"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// listResponse is the data contract the UI renders.
type listResponse struct {
	Tasks   []model.Task   `json:"tasks"`
	Loading bool           `json:"loading"`
	State   tasksync.State `json:"state"`
	UserID  string         `json:"user_id,omitempty"`
	Counts  model.Counts   `json:"counts"`
	Filter  model.Filter   `json:"filter"`
	Query   string         `json:"q,omitempty"`
}

type toggleRequest struct {
	Completed *bool `json:"completed"`
}

// ListTasks returns the current view, optionally filtered and searched.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	const route = "/api/v1/tasks"

	ctx, span := tracer.Start(ctx, "Handler.ListTasks")
	defer span.End()

	filter, err := model.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		h.logger.WarnContext(ctx, "invalid filter", slog.Any("error", err))
		h.respondError(w, http.StatusBadRequest, err.Error())
		h.recordMetrics(ctx, http.MethodGet, route, http.StatusBadRequest, start)
		return
	}
	q := r.URL.Query().Get("q")

	view := h.tasks.View()
	tasks, counts := view.Filtered(filter, q, h.now())

	span.SetAttributes(
		attribute.Int("task.count", len(tasks)),
		attribute.String("task.filter", string(filter)),
	)

	h.respondJSON(w, http.StatusOK, listResponse{
		Tasks:   tasks,
		Loading: view.Loading,
		State:   view.State,
		UserID:  view.UserID,
		Counts:  counts,
		Filter:  filter,
		Query:   q,
	})
	h.recordMetrics(ctx, http.MethodGet, route, http.StatusOK, start)
}

// CreateTask adds a task. The task shows up in the list once the live query
// delivers it, so the response only carries the new id.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	const route = "/api/v1/tasks"

	ctx, span := tracer.Start(ctx, "Handler.CreateTask")
	defer span.End()

	var req model.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		h.recordMetrics(ctx, http.MethodPost, route, http.StatusBadRequest, start)
		return
	}

	id, err := h.tasks.Add(ctx, req)
	if err != nil {
		status, msg := statusFor(err)
		h.respondError(w, status, msg)
		h.recordMetrics(ctx, http.MethodPost, route, status, start)
		return
	}

	span.SetAttributes(attribute.String("task.id", id))
	h.respondJSON(w, http.StatusAccepted, map[string]string{"id": id})
	h.recordMetrics(ctx, http.MethodPost, route, http.StatusAccepted, start)
}

// UpdateTask writes the supplied fields of a task.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")
	const route = "/api/v1/tasks/{id}"

	ctx, span := tracer.Start(ctx, "Handler.UpdateTask",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var req model.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		h.recordMetrics(ctx, http.MethodPatch, route, http.StatusBadRequest, start)
		return
	}

	if err := h.tasks.Update(ctx, id, req); err != nil {
		status, msg := statusFor(err)
		h.respondError(w, status, msg)
		h.recordMetrics(ctx, http.MethodPatch, route, status, start)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"id": id})
	h.recordMetrics(ctx, http.MethodPatch, route, http.StatusAccepted, start)
}

// ToggleTask flips completion relative to the client's last-known value.
func (h *Handler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")
	const route = "/api/v1/tasks/{id}/toggle"

	ctx, span := tracer.Start(ctx, "Handler.ToggleTask",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Completed == nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.respondError(w, http.StatusBadRequest, "completed is required")
		h.recordMetrics(ctx, http.MethodPost, route, http.StatusBadRequest, start)
		return
	}

	if err := h.tasks.Toggle(ctx, id, *req.Completed); err != nil {
		status, msg := statusFor(err)
		h.respondError(w, status, msg)
		h.recordMetrics(ctx, http.MethodPost, route, status, start)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"id": id})
	h.recordMetrics(ctx, http.MethodPost, route, http.StatusAccepted, start)
}

// DeleteTask removes a task.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")
	const route = "/api/v1/tasks/{id}"

	ctx, span := tracer.Start(ctx, "Handler.DeleteTask",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if err := h.tasks.Remove(ctx, id); err != nil {
		status, msg := statusFor(err)
		h.respondError(w, status, msg)
		h.recordMetrics(ctx, http.MethodDelete, route, status, start)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"id": id})
	h.recordMetrics(ctx, http.MethodDelete, route, http.StatusAccepted, start)
}
