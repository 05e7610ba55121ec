package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the liveness state of a client session.
type SessionStatus string

const (
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
)

// Session represents one registered client connection. Rows are never
// deleted; a disconnected session stays behind as history.
type Session struct {
	ID             uuid.UUID     `json:"connection_id"`
	ClientAddress  string        `json:"client_address"`
	Hostname       string        `json:"hostname,omitempty"`
	Status         SessionStatus `json:"status"`
	ConnectTime    time.Time     `json:"connect_time"`
	DisconnectTime *time.Time    `json:"disconnect_time,omitempty"`
	LastActivity   time.Time     `json:"last_activity"`
}

// Identity returns the de-duplication key for the session. Two sessions
// from the same address with different hostnames (an admin tool and a
// client app on one machine) are distinct.
func (s *Session) Identity() (string, string) {
	return s.ClientAddress, s.Hostname
}

// Duration returns how long the session was (or has been) connected.
// For disconnected rows missing a disconnect timestamp, last activity
// stands in for the end of the session.
func (s *Session) Duration() time.Duration {
	if s.DisconnectTime != nil {
		return s.DisconnectTime.Sub(s.ConnectTime)
	}
	if s.Status == StatusDisconnected {
		return s.LastActivity.Sub(s.ConnectTime)
	}
	return time.Since(s.ConnectTime)
}
