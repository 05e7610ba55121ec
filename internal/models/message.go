package models

import "time"

// SenderKind discriminates who produced a message.
type SenderKind string

const (
	SenderAdmin  SenderKind = "admin"
	SenderUser   SenderKind = "user"
	SenderSystem SenderKind = "system"
)

// Sender is a tagged variant: ID is meaningful for admin and user
// senders and empty for system messages.
type Sender struct {
	Kind SenderKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// SystemSender is the sender attached to server-originated messages.
var SystemSender = Sender{Kind: SenderSystem}

// BroadcastScope narrows who a broadcast is meant for.
type BroadcastScope string

const (
	ScopeAll    BroadcastScope = "all"
	ScopeClient BroadcastScope = "client"
)

// DeliveryStatus is advisory only; the delivery mechanism is polling and
// does not enforce it.
type DeliveryStatus string

const (
	DeliverySent DeliveryStatus = "sent"
	DeliveryRead DeliveryStatus = "read"
)

// Message is one announcement or direct note in the durable log.
// Messages are never deleted; clients replay against the log using the
// sent_at cursor.
type Message struct {
	ID          string         `json:"id"` // ULID
	Sender      Sender         `json:"sender"`
	Body        string         `json:"body"`
	IsBroadcast bool           `json:"is_broadcast"`
	Scope       BroadcastScope `json:"scope,omitempty"`
	Target      string         `json:"target,omitempty"`
	SentAt      time.Time      `json:"sent_at"` // millisecond precision
	Status      DeliveryStatus `json:"status"`
}

// SentAtMillis returns the cursor value clients pass back to Poll.
func (m *Message) SentAtMillis() int64 {
	return m.SentAt.UnixMilli()
}
