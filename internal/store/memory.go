package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parokia/presence/internal/models"
)

// MemoryStore is an in-process DataStore for development and tests.
// It enforces the same connected-identity uniqueness as the SQL stores.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
	messages []*models.Message
	byID     map[string]*models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*models.Session),
		byID:     make(map[string]*models.Message),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) connectedLocked(clientAddress, hostname string) *models.Session {
	for _, sess := range s.sessions {
		if sess.Status == models.StatusConnected &&
			sess.ClientAddress == clientAddress && sess.Hostname == hostname {
			return sess
		}
	}
	return nil
}

// CreateSession inserts a new connected session row.
func (s *MemoryStore) CreateSession(ctx context.Context, clientAddress, hostname string, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connectedLocked(clientAddress, hostname) != nil {
		return nil, ErrDuplicateSession
	}

	sess := &models.Session{
		ID:            uuid.New(),
		ClientAddress: clientAddress,
		Hostname:      hostname,
		Status:        models.StatusConnected,
		ConnectTime:   now,
		LastActivity:  now,
	}
	s.sessions[sess.ID] = sess

	copied := *sess
	return &copied, nil
}

// GetSession retrieves a session by ID.
func (s *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

// GetConnectedSession retrieves the connected session for an identity pair.
func (s *MemoryStore) GetConnectedSession(ctx context.Context, clientAddress, hostname string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.connectedLocked(clientAddress, hostname)
	if sess == nil {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

// TouchSession bumps last_activity on a connected session.
func (s *MemoryStore) TouchSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status != models.StatusConnected {
		return false, nil
	}
	sess.LastActivity = now
	return true, nil
}

func disconnectLocked(sess *models.Session, now time.Time) {
	sess.Status = models.StatusDisconnected
	t := now
	sess.DisconnectTime = &t
}

// DisconnectSession transitions a connected session to disconnected.
func (s *MemoryStore) DisconnectSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status != models.StatusConnected {
		return false, nil
	}
	disconnectLocked(sess, now)
	return true, nil
}

// DisconnectByAddress disconnects every connected session from one address.
func (s *MemoryStore) DisconnectByAddress(ctx context.Context, clientAddress string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.Status == models.StatusConnected && sess.ClientAddress == clientAddress {
			disconnectLocked(sess, now)
			count++
		}
	}
	return count, nil
}

// ReclaimExpired disconnects connected sessions stale since before cutoff.
func (s *MemoryStore) ReclaimExpired(ctx context.Context, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.Status == models.StatusConnected && sess.LastActivity.Before(cutoff) {
			disconnectLocked(sess, now)
			count++
		}
	}
	return count, nil
}

// ListConnected retrieves all connected sessions, most recently active first.
func (s *MemoryStore) ListConnected(ctx context.Context) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []models.Session
	for _, sess := range s.sessions {
		if sess.Status == models.StatusConnected {
			sessions = append(sessions, *sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions, nil
}

// ListDisconnected retrieves disconnected sessions, most recently
// disconnected first.
func (s *MemoryStore) ListDisconnected(ctx context.Context, limit int) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []models.Session
	for _, sess := range s.sessions {
		if sess.Status == models.StatusDisconnected {
			sessions = append(sessions, *sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		ti, tj := sessions[i].LastActivity, sessions[j].LastActivity
		if sessions[i].DisconnectTime != nil {
			ti = *sessions[i].DisconnectTime
		}
		if sessions[j].DisconnectTime != nil {
			tj = *sessions[j].DisconnectTime
		}
		return ti.After(tj)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// CountDisconnected returns the total number of history rows.
func (s *MemoryStore) CountDisconnected(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, sess := range s.sessions {
		if sess.Status == models.StatusDisconnected {
			count++
		}
	}
	return count, nil
}

// InsertMessage appends a message to the log.
func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *msg
	s.messages = append(s.messages, &copied)
	s.byID[copied.ID] = &copied
	return nil
}

// GetMessage retrieves a message by ID.
func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *msg
	return &copied, nil
}

// ListBroadcasts retrieves broadcast messages newer than since, newest first.
func (s *MemoryStore) ListBroadcasts(ctx context.Context, since *time.Time, limit int) ([]models.Message, error) {
	return s.listMessages(since, limit, true)
}

// ListMessages is the admin variant without the broadcast filter.
func (s *MemoryStore) ListMessages(ctx context.Context, since *time.Time, limit int) ([]models.Message, error) {
	return s.listMessages(since, limit, false)
}

func (s *MemoryStore) listMessages(since *time.Time, limit int, broadcastOnly bool) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var messages []models.Message
	for _, msg := range s.messages {
		if broadcastOnly && !msg.IsBroadcast {
			continue
		}
		if since != nil && !msg.SentAt.After(*since) {
			continue
		}
		messages = append(messages, *msg)
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].SentAt.Equal(messages[j].SentAt) {
			return messages[i].ID > messages[j].ID
		}
		return messages[i].SentAt.After(messages[j].SentAt)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// UpdateMessageStatus sets the advisory delivery status.
func (s *MemoryStore) UpdateMessageStatus(ctx context.Context, id string, status models.DeliveryStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	msg.Status = status
	return true, nil
}
