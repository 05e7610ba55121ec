// Package presence tracks which clients are currently connected and
// evicts the ones that stopped heartbeating.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parokia/presence/internal/metrics"
	"github.com/parokia/presence/internal/models"
	"github.com/parokia/presence/internal/store"
)

// DefaultTimeout is the liveness window: a connected session with no
// heartbeat for this long is considered dead.
const DefaultTimeout = 2 * time.Minute

var (
	// ErrMissingAddress is returned by Register when no client address
	// was supplied.
	ErrMissingAddress = errors.New("presence: client address is required")

	// ErrNotFound is returned by Heartbeat when the referenced session
	// does not exist or is no longer connected. The client recovers by
	// re-registering.
	ErrNotFound = errors.New("presence: session not found or not active")
)

// SessionRef identifies a session either by its connection ID or by the
// (client_address, hostname) identity pair.
type SessionRef struct {
	ID            *uuid.UUID
	ClientAddress string
	Hostname      string
}

// Registry implements session registration, heartbeat liveness and
// timeout reclamation against a DataStore.
type Registry struct {
	store   store.DataStore
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout overrides the liveness window.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithClock overrides the time source. Tests use this to make expiry
// deterministic.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(s store.DataStore, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:   s,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns the configured liveness window.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// Register records a client connection. Re-registering an identity that
// is already connected refreshes its liveness and returns the existing
// session, so a client recovering from transient network loss keeps its
// connection ID. Otherwise a fresh row is created, even when the same
// identity has disconnected rows behind it: one history entry per
// connection lifetime. The second return reports whether a new session
// was created.
func (r *Registry) Register(ctx context.Context, clientAddress, hostname string) (*models.Session, bool, error) {
	if clientAddress == "" {
		return nil, false, ErrMissingAddress
	}

	now := r.now()

	existing, err := r.store.GetConnectedSession(ctx, clientAddress, hostname)
	if err != nil {
		return nil, false, fmt.Errorf("lookup session: %w", err)
	}
	if existing != nil {
		touched, err := r.store.TouchSession(ctx, existing.ID, now)
		if err != nil {
			return nil, false, fmt.Errorf("refresh session: %w", err)
		}
		if touched {
			existing.LastActivity = now
			return existing, false, nil
		}
		// Reclaimed between lookup and refresh; register a fresh row.
	}

	sess, err := r.store.CreateSession(ctx, clientAddress, hostname, now)
	if errors.Is(err, store.ErrDuplicateSession) {
		// Lost the race against a concurrent registration for the same
		// identity; the winner's row is the session.
		existing, lerr := r.store.GetConnectedSession(ctx, clientAddress, hostname)
		if lerr != nil {
			return nil, false, fmt.Errorf("lookup session after conflict: %w", lerr)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("create session: %w", err)
		}
		if _, err := r.store.TouchSession(ctx, existing.ID, now); err != nil {
			return nil, false, fmt.Errorf("refresh session: %w", err)
		}
		existing.LastActivity = now
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsRegistered.Inc()
	r.logger.Info().
		Str("connection_id", sess.ID.String()).
		Str("client_address", clientAddress).
		Str("hostname", hostname).
		Msg("client registered")

	return sess, true, nil
}

// Heartbeat bumps last_activity on a connected session. A disconnected
// or unknown session yields ErrNotFound with no state change, which
// forces the client back through Register after a reclamation.
func (r *Registry) Heartbeat(ctx context.Context, ref SessionRef) error {
	now := r.now()

	id := ref.ID
	if id == nil {
		if ref.ClientAddress == "" {
			return ErrMissingAddress
		}
		sess, err := r.store.GetConnectedSession(ctx, ref.ClientAddress, ref.Hostname)
		if err != nil {
			return fmt.Errorf("lookup session: %w", err)
		}
		if sess == nil {
			return ErrNotFound
		}
		id = &sess.ID
	}

	touched, err := r.store.TouchSession(ctx, *id, now)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if !touched {
		return ErrNotFound
	}

	metrics.Heartbeats.Inc()
	return nil
}

// Disconnect transitions the referenced connected session(s) to
// disconnected. Idempotent: a missing or already-disconnected target is
// not an error.
func (r *Registry) Disconnect(ctx context.Context, ref SessionRef) error {
	now := r.now()

	if ref.ID != nil {
		if _, err := r.store.DisconnectSession(ctx, *ref.ID, now); err != nil {
			return fmt.Errorf("disconnect session: %w", err)
		}
		return nil
	}
	if ref.ClientAddress == "" {
		return ErrMissingAddress
	}
	if _, err := r.store.DisconnectByAddress(ctx, ref.ClientAddress, now); err != nil {
		return fmt.Errorf("disconnect by address: %w", err)
	}
	return nil
}

// ReclaimExpired transitions every connected session whose last activity
// predates the liveness window to disconnected and returns the count.
func (r *Registry) ReclaimExpired(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.timeout)

	count, err := r.store.ReclaimExpired(ctx, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired: %w", err)
	}
	if count > 0 {
		metrics.SessionsReclaimed.Add(float64(count))
		r.logger.Info().Int("count", count).Dur("timeout", r.timeout).Msg("reclaimed stale sessions")
	}
	return count, nil
}

// ListActive runs a reclamation pass, then returns the connected
// sessions ordered by most recent activity.
func (r *Registry) ListActive(ctx context.Context) ([]models.Session, error) {
	if _, err := r.ReclaimExpired(ctx); err != nil {
		return nil, err
	}
	return r.ListConnected(ctx)
}

// ListConnected returns the connected sessions without reclaiming
// first. The dashboard uses it after its own reclamation pass.
func (r *Registry) ListConnected(ctx context.Context) ([]models.Session, error) {
	return r.store.ListConnected(ctx)
}

// HistoryEntry is one past connection with its computed duration.
type HistoryEntry struct {
	models.Session
	Duration string `json:"duration"`
}

// ListHistory returns disconnected sessions, most recently disconnected
// first, with human-readable durations, plus the total history size.
func (r *Registry) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, int64, error) {
	sessions, err := r.store.ListDisconnected(ctx, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	total, err := r.store.CountDisconnected(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(sessions))
	for _, sess := range sessions {
		entries = append(entries, HistoryEntry{
			Session:  sess,
			Duration: FormatDuration(sess.Duration()),
		})
	}
	return entries, total, nil
}

// FormatDuration renders a session duration the way the history view
// shows it: "45s", "3m 20s", "2h 05m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
