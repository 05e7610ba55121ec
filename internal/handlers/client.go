package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/parokia/presence/internal/broadcast"
	"github.com/parokia/presence/internal/presence"
)

// RegisterRequest represents the client registration request body.
type RegisterRequest struct {
	ClientAddress string `json:"client_address"`
	Hostname      string `json:"hostname"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	ConnectionID string `json:"connection_id"`
	Status       string `json:"status"`
}

// Register handles client session registration. Registration is
// idempotent per (client_address, hostname): a client that comes back
// after transient network loss gets its existing connection ID.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, _, err := h.registry.Register(r.Context(), req.ClientAddress, req.Hostname)
	if err != nil {
		if errors.Is(err, presence.ErrMissingAddress) {
			h.Error(w, http.StatusBadRequest, "client_address is required")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to register session")
		return
	}

	h.JSON(w, http.StatusOK, RegisterResponse{
		ConnectionID: sess.ID.String(),
		Status:       string(sess.Status),
	})
}

// SessionRefRequest identifies a session by connection ID or by the
// identity pair.
type SessionRefRequest struct {
	ConnectionID  string `json:"connection_id"`
	ClientAddress string `json:"client_address"`
	Hostname      string `json:"hostname"`
}

func (req *SessionRefRequest) ref() (presence.SessionRef, error) {
	ref := presence.SessionRef{
		ClientAddress: req.ClientAddress,
		Hostname:      req.Hostname,
	}
	if req.ConnectionID != "" {
		id, err := uuid.Parse(req.ConnectionID)
		if err != nil {
			return ref, err
		}
		ref.ID = &id
	}
	return ref, nil
}

// Heartbeat handles liveness pings. A 404 tells the client its session
// was reclaimed and it must register again.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req SessionRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ref, err := req.ref()
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid connection_id format")
		return
	}

	if err := h.registry.Heartbeat(r.Context(), ref); err != nil {
		switch {
		case errors.Is(err, presence.ErrNotFound):
			h.Error(w, http.StatusNotFound, "session not found or not active")
		case errors.Is(err, presence.ErrMissingAddress):
			h.Error(w, http.StatusBadRequest, "connection_id or client_address is required")
		default:
			h.Error(w, http.StatusInternalServerError, "failed to record heartbeat")
		}
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Disconnect handles explicit disconnects. Idempotent: disconnecting a
// session that is already gone succeeds.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req SessionRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ref, err := req.ref()
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid connection_id format")
		return
	}

	if err := h.registry.Disconnect(r.Context(), ref); err != nil {
		if errors.Is(err, presence.ErrMissingAddress) {
			h.Error(w, http.StatusBadRequest, "connection_id or client_address is required")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to disconnect session")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MessagesResponse wraps a list of messages.
type MessagesResponse struct {
	Data []MessageResponse `json:"data"`
}

// PollMessages returns broadcast messages newer than the client's
// cursor, newest first.
func (h *Handler) PollMessages(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid since parameter")
		return
	}
	limit := parseLimit(r)

	messages, err := h.broadcaster.Poll(r.Context(), since, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	h.JSON(w, http.StatusOK, MessagesResponse{Data: toMessageResponses(messages)})
}

// parseSince reads the optional unix-millisecond cursor.
func parseSince(r *http.Request) (*time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ms)
	return &t, nil
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return broadcast.DefaultPollLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return broadcast.DefaultPollLimit
	}
	return limit
}
