package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/session"
	"go.opentelemetry.io/otel/attribute"
)

type signInRequest struct {
	Token string `json:"token"`
}

// GetSession returns the current identity and whether it is still resolving.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	h.respondJSON(w, http.StatusOK, h.sessions.Current())
	h.recordMetrics(ctx, http.MethodGet, "/api/v1/session", http.StatusOK, start)
}

// SignIn verifies a sign-in token and makes its user the current identity.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	const route = "/api/v1/session"

	ctx, span := tracer.Start(ctx, "Handler.SignIn")
	defer span.End()

	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.respondError(w, http.StatusBadRequest, "token is required")
		h.recordMetrics(ctx, http.MethodPost, route, http.StatusBadRequest, start)
		return
	}

	id, err := h.verifier.Verify(req.Token)
	if err != nil {
		h.logger.WarnContext(ctx, "sign-in rejected", slog.Any("error", err))
		msg := "invalid token"
		if errors.Is(err, session.ErrExpiredToken) {
			msg = "token has expired"
		}
		h.respondError(w, http.StatusUnauthorized, msg)
		h.recordMetrics(ctx, http.MethodPost, route, http.StatusUnauthorized, start)
		return
	}

	h.sessions.SignIn(id)
	span.SetAttributes(attribute.String("user.id", id.UserID))
	h.logger.InfoContext(ctx, "signed in", slog.String("user_id", id.UserID))

	h.respondJSON(w, http.StatusOK, h.sessions.Current())
	h.recordMetrics(ctx, http.MethodPost, route, http.StatusOK, start)
}

// SignOut clears the current identity.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	h.sessions.SignOut()
	h.logger.InfoContext(ctx, "signed out")

	w.WriteHeader(http.StatusNoContent)
	h.recordMetrics(ctx, http.MethodDelete, "/api/v1/session", http.StatusNoContent, start)
}
