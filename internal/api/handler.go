// Package api provides the HTTP status endpoints for sprintbot.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dcervantes/sprintbot/internal/bot"
)

// Pinger reports database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves operational endpoints: service status and database health.
type Handler struct {
	db        Pinger
	sessions  *bot.SessionStore
	aiEnabled bool
	startedAt time.Time
}

// NewHandler creates a new Handler.
func NewHandler(db Pinger, sessions *bot.SessionStore, aiEnabled bool) *Handler {
	return &Handler{
		db:        db,
		sessions:  sessions,
		aiEnabled: aiEnabled,
		startedAt: time.Now(),
	}
}

// RegisterRoutes mounts the handler's endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/status", h.Status)
	r.Get("/api/health/db", h.DBHealth)
}

// Status reports service liveness and coarse usage numbers.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"ai_enabled":           h.aiEnabled,
		"active_conversations": h.sessions.Len(),
		"uptime_seconds":       int(time.Since(h.startedAt).Seconds()),
	})
}

// DBHealth verifies the database connection.
func (h *Handler) DBHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"database": "up"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
