package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// keepAlive is how often an idle event stream sends a comment line.
const keepAlive = 25 * time.Second

// ListNotifications returns the most recent notifications, oldest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	h.respondJSON(w, http.StatusOK, h.notes.Recent())
	h.recordMetrics(ctx, http.MethodGet, "/api/v1/notifications", http.StatusOK, start)
}

// Events streams view changes and notifications as Server-Sent Events. The
// current view is sent first. Each view event renders View() so a session
// change is reflected even before the sync loop has applied it.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	// The server write timeout would otherwise cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.DebugContext(ctx, "cannot clear write deadline", slog.Any("error", err))
	}

	views, stopViews := h.tasks.Watch()
	defer stopViews()
	notes, stopNotes := h.notes.Subscribe()
	defer stopNotes()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WarnContext(ctx, "event stream unsupported", slog.Any("error", err))
		return
	}

	h.logger.InfoContext(ctx, "event stream opened")
	defer h.logger.InfoContext(ctx, "event stream closed")

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-views:
			err = writeEvent(w, "view", h.tasks.View())
		case n := <-notes:
			err = writeEvent(w, "notification", n)
		case <-ticker.C:
			_, err = fmt.Fprint(w, ": keep-alive\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			h.logger.DebugContext(ctx, "event stream write failed", slog.Any("error", err))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}
