// Package handler exposes the synchronization service over HTTP. It is a thin
// presentation bridge: it renders the current view, forwards user intents and
// streams changes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/notify"
	"github.com/hiroki-koketsu/go-tasksync/internal/session"
	"github.com/hiroki-koketsu/go-tasksync/internal/tasksync"
	"github.com/hiroki-koketsu/go-tasksync/internal/telemetry"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-tasksync/internal/handler")

// requestTimeout bounds every route except the event stream.
const requestTimeout = 60 * time.Second

// Tasks is the synchronization service as seen by the handlers.
type Tasks interface {
	View() tasksync.View
	Watch() (<-chan tasksync.View, func())
	Add(ctx context.Context, in model.TaskInput) (string, error)
	Update(ctx context.Context, id string, patch model.TaskPatch) error
	Toggle(ctx context.Context, id string, current bool) error
	Remove(ctx context.Context, id string) error
}

// Sessions is the identity provider as seen by the handlers.
type Sessions interface {
	Current() session.State
	SignIn(id session.Identity)
	SignOut()
}

// Verifier checks sign-in tokens.
type Verifier interface {
	Verify(token string) (session.Identity, error)
}

// Notifications is the notification feed as seen by the handlers.
type Notifications interface {
	Recent() []notify.Notification
	Subscribe() (<-chan notify.Notification, func())
}

// Handler serves the task API.
type Handler struct {
	tasks    Tasks
	sessions Sessions
	verifier Verifier
	notes    Notifications
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// New creates a Handler.
func New(tasks Tasks, sessions Sessions, verifier Verifier, notes Notifications, logger *slog.Logger, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		tasks:    tasks,
		sessions: sessions,
		verifier: verifier,
		notes:    notes,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Routes returns the API router, to be mounted under /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/session", h.GetSession)
		r.Post("/session", h.SignIn)
		r.Delete("/session", h.SignOut)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Patch("/tasks/{id}", h.UpdateTask)
		r.Post("/tasks/{id}/toggle", h.ToggleTask)
		r.Delete("/tasks/{id}", h.DeleteTask)

		r.Get("/notifications", h.ListNotifications)
	})

	// Long-lived; no request timeout.
	r.Get("/events", h.Events)

	return r
}

// Health returns a health check response.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a service error to an HTTP status and client message.
func statusFor(err error) (int, string) {
	var (
		writeErr *model.StoreWriteError
		taskErr  model.TaskError
	)
	switch {
	case errors.Is(err, model.ErrSessionAbsent):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &writeErr):
		return http.StatusBadGateway, "store rejected the write"
	case errors.As(err, &taskErr):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) recordMetrics(ctx context.Context, method, route string, status int, start time.Time) {
	h.metrics.RecordRequest(ctx, method, route, status, start)
}
