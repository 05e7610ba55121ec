package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parokia/presence/internal/broadcast"
	"github.com/parokia/presence/internal/models"
)

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	SenderKind  string `json:"sender_kind"`
	SenderID    string `json:"sender_id"`
	Body        string `json:"body"`
	IsBroadcast bool   `json:"is_broadcast"`
	Scope       string `json:"scope"`
	Target      string `json:"target"`
}

// SendMessageResponse represents the send message response.
type SendMessageResponse struct {
	PesanID string `json:"pesan_id"`
	SentAt  int64  `json:"sent_at"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID          string        `json:"id"`
	Sender      models.Sender `json:"sender"`
	Body        string        `json:"body"`
	IsBroadcast bool          `json:"is_broadcast"`
	Scope       string        `json:"scope,omitempty"`
	Target      string        `json:"target,omitempty"`
	SentAt      int64         `json:"sent_at"`
	Status      string        `json:"status"`
}

func toMessageResponses(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, MessageResponse{
			ID:          msg.ID,
			Sender:      msg.Sender,
			Body:        msg.Body,
			IsBroadcast: msg.IsBroadcast,
			Scope:       string(msg.Scope),
			Target:      msg.Target,
			SentAt:      msg.SentAtMillis(),
			Status:      string(msg.Status),
		})
	}
	return out
}

// SendMessage handles message creation for both POST /pesan and
// POST /client/send-message. Fire-and-forget: the contract is that the
// message is durably stored, not that anyone has seen it.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sender := models.Sender{Kind: models.SenderKind(req.SenderKind), ID: req.SenderID}
	switch sender.Kind {
	case models.SenderAdmin, models.SenderUser:
	case "", models.SenderSystem:
		sender = models.SystemSender
	default:
		h.Error(w, http.StatusBadRequest, "sender_kind must be admin, user or system")
		return
	}

	msg, err := h.broadcaster.Send(r.Context(), sender, req.Body,
		req.IsBroadcast, models.BroadcastScope(req.Scope), req.Target)
	if err != nil {
		switch {
		case errors.Is(err, broadcast.ErrEmptyBody):
			h.Error(w, http.StatusBadRequest, "body is required")
		case errors.Is(err, broadcast.ErrBodyTooLong):
			h.Error(w, http.StatusBadRequest, "body too long")
		default:
			h.Error(w, http.StatusInternalServerError, "failed to store message")
		}
		return
	}

	h.JSON(w, http.StatusOK, SendMessageResponse{
		PesanID: msg.ID,
		SentAt:  msg.SentAtMillis(),
	})
}

// ListMessages returns all messages regardless of broadcast flag, for
// the admin message view.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid since parameter")
		return
	}
	limit := parseLimit(r)

	messages, err := h.broadcaster.PollAll(r.Context(), since, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	h.JSON(w, http.StatusOK, MessagesResponse{Data: toMessageResponses(messages)})
}

// UpdateMessageStatusRequest represents the mark-read request body.
type UpdateMessageStatusRequest struct {
	Status string `json:"status"`
}

// UpdateMessageStatus sets the advisory delivery status of a message.
func (h *Handler) UpdateMessageStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateMessageStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	status := models.DeliveryStatus(req.Status)
	switch status {
	case "", models.DeliverySent, models.DeliveryRead:
	default:
		h.Error(w, http.StatusBadRequest, "status must be sent or read")
		return
	}

	if err := h.broadcaster.MarkRead(r.Context(), id, status); err != nil {
		if errors.Is(err, broadcast.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "message not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to update message")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
