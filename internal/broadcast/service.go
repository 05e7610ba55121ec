// Package broadcast persists announcements and serves them to polling
// clients. Delivery is at-least-once: the durable log is the contract,
// clients replay it with a sent_at cursor.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/parokia/presence/internal/metrics"
	"github.com/parokia/presence/internal/models"
	"github.com/parokia/presence/internal/store"
)

const (
	// DefaultPollLimit is used when a poll does not specify a limit.
	DefaultPollLimit = 50
	// MaxPollLimit caps any single poll.
	MaxPollLimit = 200
	// MaxBodyLength caps message bodies.
	MaxBodyLength = 4096
)

var (
	// ErrEmptyBody is returned by Send for an empty message body.
	ErrEmptyBody = errors.New("broadcast: message body is required")

	// ErrBodyTooLong is returned by Send when the body exceeds MaxBodyLength.
	ErrBodyTooLong = errors.New("broadcast: message body too long")

	// ErrNotFound is returned by MarkRead for an unknown message ID.
	ErrNotFound = errors.New("broadcast: message not found")
)

// Service implements message send, poll and advisory read-marking.
type Service struct {
	store  store.DataStore
	cache  *store.RedisStore // optional hot cache, may be nil
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache attaches a Redis hot cache for recent broadcasts.
func WithCache(cache *store.RedisStore) Option {
	return func(s *Service) { s.cache = cache }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over the given store.
func NewService(st store.DataStore, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send validates and durably stores a message, returning it with its
// assigned ID. Fire-and-forget: no delivery confirmation is awaited.
// Validation failures leave nothing persisted.
func (s *Service) Send(ctx context.Context, sender models.Sender, body string, isBroadcast bool, scope models.BroadcastScope, target string) (*models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	if len(body) > MaxBodyLength {
		return nil, ErrBodyTooLong
	}
	if sender.Kind == "" {
		sender = models.SystemSender
	}
	if isBroadcast && scope == "" {
		scope = models.ScopeAll
	}

	msg := &models.Message{
		ID:          ulid.Make().String(),
		Sender:      sender,
		Body:        body,
		IsBroadcast: isBroadcast,
		Scope:       scope,
		Target:      target,
		// Millisecond precision: the stored value must equal the cursor
		// clients echo back, and the cache scores in unix-ms.
		SentAt: s.now().Truncate(time.Millisecond),
		Status: models.DeliverySent,
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if s.cache != nil && msg.IsBroadcast {
		if err := s.cache.CacheBroadcast(ctx, msg); err != nil {
			// Cache is best-effort; the store of record has the row.
			s.logger.Warn().Err(err).Str("id", msg.ID).Msg("broadcast cache write failed")
		}
	}

	metrics.MessagesSent.WithLabelValues(string(sender.Kind)).Inc()
	return msg, nil
}

// Poll returns broadcast messages with sent_at strictly after since
// (all of them when since is nil), newest first, capped at limit.
// A message sent between two polls is guaranteed to show up in the
// next one; deduplication is the client's cursor discipline.
func (s *Service) Poll(ctx context.Context, since *time.Time, limit int) ([]models.Message, error) {
	limit = clampLimit(limit)
	metrics.Polls.Inc()

	if s.cache != nil && since != nil {
		messages, ok, err := s.cache.BroadcastsSince(ctx, *since, limit)
		if err != nil {
			s.logger.Warn().Err(err).Msg("broadcast cache read failed")
		} else if ok {
			return messages, nil
		}
	}

	return s.store.ListBroadcasts(ctx, since, limit)
}

// PollAll is the admin variant of Poll without the broadcast filter.
func (s *Service) PollAll(ctx context.Context, since *time.Time, limit int) ([]models.Message, error) {
	return s.store.ListMessages(ctx, since, clampLimit(limit))
}

// MarkRead updates the advisory delivery status of a message. An
// unknown ID yields ErrNotFound; nothing about delivery is enforced.
func (s *Service) MarkRead(ctx context.Context, id string, status models.DeliveryStatus) error {
	if status == "" {
		status = models.DeliveryRead
	}
	found, err := s.store.UpdateMessageStatus(ctx, id, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPollLimit
	}
	if limit > MaxPollLimit {
		return MaxPollLimit
	}
	return limit
}
