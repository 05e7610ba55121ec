package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/parokia/presence/internal/broadcast"
	"github.com/parokia/presence/internal/gate"
	"github.com/parokia/presence/internal/monitor"
	"github.com/parokia/presence/internal/presence"
	"github.com/parokia/presence/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	registry    *presence.Registry
	broadcaster *broadcast.Service
	monitor     *monitor.Monitor
	gate        *gate.Gate
	db          store.DataStore
	redis       *store.RedisStore // may be nil
}

// NewHandler creates a new Handler with the given services.
func NewHandler(registry *presence.Registry, broadcaster *broadcast.Service, mon *monitor.Monitor, g *gate.Gate, db store.DataStore, redis *store.RedisStore) *Handler {
	return &Handler{
		registry:    registry,
		broadcaster: broadcaster,
		monitor:     mon,
		gate:        g,
		db:          db,
		redis:       redis,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
