package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/parokia/presence/internal/models"
)

const defaultHistoryLimit = 100

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ConnectionID   string `json:"connection_id"`
	ClientAddress  string `json:"client_address"`
	Hostname       string `json:"hostname,omitempty"`
	Status         string `json:"status"`
	ConnectTime    string `json:"connect_time"`
	DisconnectTime string `json:"disconnect_time,omitempty"`
	LastActivity   string `json:"last_activity"`
}

func toSessionResponse(sess models.Session) SessionResponse {
	resp := SessionResponse{
		ConnectionID:  sess.ID.String(),
		ClientAddress: sess.ClientAddress,
		Hostname:      sess.Hostname,
		Status:        string(sess.Status),
		ConnectTime:   sess.ConnectTime.UTC().Format(timeLayout),
		LastActivity:  sess.LastActivity.UTC().Format(timeLayout),
	}
	if sess.DisconnectTime != nil {
		resp.DisconnectTime = sess.DisconnectTime.UTC().Format(timeLayout)
	}
	return resp
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// ActiveSessionsResponse represents the dashboard response.
type ActiveSessionsResponse struct {
	Data                []SessionResponse `json:"data"`
	TimeoutDisconnected int               `json:"timeout_disconnected"`
}

// ActiveSessions runs a reclamation pass and returns the surviving
// connected sessions plus how many the pass reclaimed.
func (h *Handler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	active, reclaimed, err := h.monitor.Dashboard(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list active sessions")
		return
	}

	data := make([]SessionResponse, 0, len(active))
	for _, sess := range active {
		data = append(data, toSessionResponse(sess))
	}

	h.JSON(w, http.StatusOK, ActiveSessionsResponse{
		Data:                data,
		TimeoutDisconnected: reclaimed,
	})
}

// HistoryEntryResponse is one past connection with its duration.
type HistoryEntryResponse struct {
	SessionResponse
	Duration string `json:"duration"`
}

// HistoryResponse represents the activity history response.
type HistoryResponse struct {
	Data         []HistoryEntryResponse `json:"data"`
	TotalRecords int64                  `json:"total_records"`
}

// ActivityHistory returns past connections, most recently disconnected
// first.
func (h *Handler) ActivityHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, total, err := h.registry.ListHistory(r.Context(), limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list activity history")
		return
	}

	data := make([]HistoryEntryResponse, 0, len(entries))
	for _, entry := range entries {
		data = append(data, HistoryEntryResponse{
			SessionResponse: toSessionResponse(entry.Session),
			Duration:        entry.Duration,
		})
	}

	h.JSON(w, http.StatusOK, HistoryResponse{Data: data, TotalRecords: total})
}

// ServiceStateResponse represents the service gate state.
type ServiceStateResponse struct {
	Enabled bool `json:"enabled"`
}

// GetServiceState reports whether client traffic is being served.
func (h *Handler) GetServiceState(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, ServiceStateResponse{Enabled: h.gate.Enabled()})
}

// SetServiceStateRequest represents the gate toggle request body.
type SetServiceStateRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetServiceState flips the service gate.
func (h *Handler) SetServiceState(w http.ResponseWriter, r *http.Request) {
	var req SetServiceStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		h.Error(w, http.StatusBadRequest, "enabled is required")
		return
	}

	h.gate.Set(*req.Enabled)
	h.JSON(w, http.StatusOK, ServiceStateResponse{Enabled: h.gate.Enabled()})
}
