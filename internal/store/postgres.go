package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parokia/presence/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const sessionColumns = `id, client_address, hostname, status, connect_time, disconnect_time, last_activity`

func scanSession(row pgx.Row) (*models.Session, error) {
	sess := &models.Session{}
	err := row.Scan(
		&sess.ID,
		&sess.ClientAddress,
		&sess.Hostname,
		&sess.Status,
		&sess.ConnectTime,
		&sess.DisconnectTime,
		&sess.LastActivity,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// CreateSession inserts a new connected session row. The partial unique
// index on (client_address, hostname) for connected rows turns a lost
// race into ErrDuplicateSession.
func (s *PostgresStore) CreateSession(ctx context.Context, clientAddress, hostname string, now time.Time) (*models.Session, error) {
	sess := &models.Session{
		ID:            uuid.New(),
		ClientAddress: clientAddress,
		Hostname:      hostname,
		Status:        models.StatusConnected,
		ConnectTime:   now,
		LastActivity:  now,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, client_address, hostname, status, connect_time, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sess.ID, sess.ClientAddress, sess.Hostname, sess.Status, sess.ConnectTime, sess.LastActivity)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateSession
		}
		return nil, err
	}
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// GetConnectedSession retrieves the connected session for an identity
// pair, if any.
func (s *PostgresStore) GetConnectedSession(ctx context.Context, clientAddress, hostname string) (*models.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE client_address = $1 AND hostname = $2 AND status = 'connected'
	`, clientAddress, hostname))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// TouchSession bumps last_activity on a connected session. Returns false
// when no connected row matched.
func (s *PostgresStore) TouchSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET last_activity = $2
		WHERE id = $1 AND status = 'connected'
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DisconnectSession transitions a connected session to disconnected.
func (s *PostgresStore) DisconnectSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = 'disconnected', disconnect_time = $2
		WHERE id = $1 AND status = 'connected'
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DisconnectByAddress disconnects every connected session from one
// client address.
func (s *PostgresStore) DisconnectByAddress(ctx context.Context, clientAddress string, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = 'disconnected', disconnect_time = $2
		WHERE client_address = $1 AND status = 'connected'
	`, clientAddress, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ReclaimExpired disconnects every connected session whose last_activity
// is before the cutoff and returns how many rows it transitioned.
func (s *PostgresStore) ReclaimExpired(ctx context.Context, cutoff, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = 'disconnected', disconnect_time = $2
		WHERE status = 'connected' AND last_activity < $1
	`, cutoff, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListConnected retrieves all connected sessions, most recently active
// first.
func (s *PostgresStore) ListConnected(ctx context.Context) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'connected'
		ORDER BY last_activity DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessions(rows)
}

// ListDisconnected retrieves disconnected sessions, most recently
// disconnected first.
func (s *PostgresStore) ListDisconnected(ctx context.Context, limit int) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'disconnected'
		ORDER BY disconnect_time DESC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]models.Session, error) {
	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// CountDisconnected returns the total number of history rows.
func (s *PostgresStore) CountDisconnected(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions WHERE status = 'disconnected'
	`).Scan(&count)
	return count, err
}

const messageColumns = `id, sender_kind, sender_id, body, is_broadcast, scope, target, sent_at, delivery_status`

func scanMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(
		&msg.ID,
		&msg.Sender.Kind,
		&msg.Sender.ID,
		&msg.Body,
		&msg.IsBroadcast,
		&msg.Scope,
		&msg.Target,
		&msg.SentAt,
		&msg.Status,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// InsertMessage appends a message to the durable log.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, sender_kind, sender_id, body, is_broadcast, scope, target, sent_at, delivery_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.Sender.Kind, msg.Sender.ID, msg.Body, msg.IsBroadcast, msg.Scope, msg.Target, msg.SentAt, msg.Status)
	return err
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListBroadcasts retrieves broadcast messages newer than since (all when
// since is nil), newest first. Ties on sent_at break by ULID, which
// sorts in creation order.
func (s *PostgresStore) ListBroadcasts(ctx context.Context, since *time.Time, limit int) ([]models.Message, error) {
	return s.listMessages(ctx, since, limit, true)
}

// ListMessages is the admin variant without the broadcast filter.
func (s *PostgresStore) ListMessages(ctx context.Context, since *time.Time, limit int) ([]models.Message, error) {
	return s.listMessages(ctx, since, limit, false)
}

func (s *PostgresStore) listMessages(ctx context.Context, since *time.Time, limit int, broadcastOnly bool) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1=1`
	args := []any{}
	if broadcastOnly {
		query += ` AND is_broadcast = TRUE`
	}
	if since != nil {
		args = append(args, *since)
		query += ` AND sent_at > $1`
	}
	args = append(args, limit)
	if since != nil {
		query += ` ORDER BY sent_at DESC, id DESC LIMIT $2`
	} else {
		query += ` ORDER BY sent_at DESC, id DESC LIMIT $1`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// UpdateMessageStatus sets the advisory delivery status. Returns false
// when the message does not exist.
func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id string, status models.DeliveryStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET delivery_status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
