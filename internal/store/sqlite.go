package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/parokia/presence/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the default
// store for single-machine deployments without a Postgres URL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/presence.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/presence.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_loc=UTC")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		client_address TEXT NOT NULL,
		hostname TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'connected',
		connect_time DATETIME NOT NULL,
		disconnect_time DATETIME,
		last_activity DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_connected_identity
		ON sessions (client_address, hostname)
		WHERE status = 'connected';

	CREATE INDEX IF NOT EXISTS idx_sessions_status_activity
		ON sessions (status, last_activity);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_kind TEXT NOT NULL DEFAULT 'system',
		sender_id TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		is_broadcast INTEGER NOT NULL DEFAULT 0,
		scope TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL DEFAULT '',
		sent_at DATETIME NOT NULL,
		delivery_status TEXT NOT NULL DEFAULT 'sent'
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages (sent_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_broadcast ON messages (is_broadcast, sent_at DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// CreateSession inserts a new connected session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, clientAddress, hostname string, now time.Time) (*models.Session, error) {
	sess := &models.Session{
		ID:            uuid.New(),
		ClientAddress: clientAddress,
		Hostname:      hostname,
		Status:        models.StatusConnected,
		ConnectTime:   now,
		LastActivity:  now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, client_address, hostname, status, connect_time, last_activity)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID.String(), sess.ClientAddress, sess.Hostname, string(sess.Status), sess.ConnectTime, sess.LastActivity)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSession
		}
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) scanSessionRow(row *sql.Row) (*models.Session, error) {
	sess := &models.Session{}
	var id, status string
	err := row.Scan(&id, &sess.ClientAddress, &sess.Hostname, &status,
		&sess.ConnectTime, &sess.DisconnectTime, &sess.LastActivity)
	if err != nil {
		return nil, err
	}
	sess.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	sess.Status = models.SessionStatus(status)
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	sess, err := s.scanSessionRow(s.db.QueryRowContext(ctx, `
		SELECT id, client_address, hostname, status, connect_time, disconnect_time, last_activity
		FROM sessions WHERE id = ?
	`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// GetConnectedSession retrieves the connected session for an identity pair.
func (s *SQLiteStore) GetConnectedSession(ctx context.Context, clientAddress, hostname string) (*models.Session, error) {
	sess, err := s.scanSessionRow(s.db.QueryRowContext(ctx, `
		SELECT id, client_address, hostname, status, connect_time, disconnect_time, last_activity
		FROM sessions
		WHERE client_address = ? AND hostname = ? AND status = 'connected'
	`, clientAddress, hostname))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// TouchSession bumps last_activity on a connected session.
func (s *SQLiteStore) TouchSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = ?
		WHERE id = ? AND status = 'connected'
	`, now, id.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DisconnectSession transitions a connected session to disconnected.
func (s *SQLiteStore) DisconnectSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'disconnected', disconnect_time = ?
		WHERE id = ? AND status = 'connected'
	`, now, id.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DisconnectByAddress disconnects every connected session from one address.
func (s *SQLiteStore) DisconnectByAddress(ctx context.Context, clientAddress string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'disconnected', disconnect_time = ?
		WHERE client_address = ? AND status = 'connected'
	`, now, clientAddress)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ReclaimExpired disconnects connected sessions stale since before cutoff.
func (s *SQLiteStore) ReclaimExpired(ctx context.Context, cutoff, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'disconnected', disconnect_time = ?
		WHERE status = 'connected' AND last_activity < ?
	`, now, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		var id, status string
		if err := rows.Scan(&id, &sess.ClientAddress, &sess.Hostname, &status,
			&sess.ConnectTime, &sess.DisconnectTime, &sess.LastActivity); err != nil {
			return nil, err
		}
		sess.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		sess.Status = models.SessionStatus(status)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListConnected retrieves all connected sessions, most recently active first.
func (s *SQLiteStore) ListConnected(ctx context.Context) ([]models.Session, error) {
	return s.querySessions(ctx, `
		SELECT id, client_address, hostname, status, connect_time, disconnect_time, last_activity
		FROM sessions
		WHERE status = 'connected'
		ORDER BY last_activity DESC
	`)
}

// ListDisconnected retrieves disconnected sessions, most recently
// disconnected first.
func (s *SQLiteStore) ListDisconnected(ctx context.Context, limit int) ([]models.Session, error) {
	return s.querySessions(ctx, `
		SELECT id, client_address, hostname, status, connect_time, disconnect_time, last_activity
		FROM sessions
		WHERE status = 'disconnected'
		ORDER BY disconnect_time DESC
		LIMIT ?
	`, limit)
}

// CountDisconnected returns the total number of history rows.
func (s *SQLiteStore) CountDisconnected(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE status = 'disconnected'
	`).Scan(&count)
	return count, err
}

// InsertMessage appends a message to the durable log.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_kind, sender_id, body, is_broadcast, scope, target, sent_at, delivery_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, string(msg.Sender.Kind), msg.Sender.ID, msg.Body, msg.IsBroadcast,
		string(msg.Scope), msg.Target, msg.SentAt, string(msg.Status))
	return err
}

func scanMessageRow(dest interface {
	Scan(...any) error
}) (*models.Message, error) {
	msg := &models.Message{}
	var kind, scope, status string
	err := dest.Scan(&msg.ID, &kind, &msg.Sender.ID, &msg.Body, &msg.IsBroadcast,
		&scope, &msg.Target, &msg.SentAt, &status)
	if err != nil {
		return nil, err
	}
	msg.Sender.Kind = models.SenderKind(kind)
	msg.Scope = models.BroadcastScope(scope)
	msg.Status = models.DeliveryStatus(status)
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessageRow(s.db.QueryRowContext(ctx, `
		SELECT id, sender_kind, sender_id, body, is_broadcast, scope, target, sent_at, delivery_status
		FROM messages WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListBroadcasts retrieves broadcast messages newer than since, newest first.
func (s *SQLiteStore) ListBroadcasts(ctx context.Context, since *time.Time, limit int) ([]models.Message, error) {
	return s.listMessages(ctx, since, limit, true)
}

// ListMessages is the admin variant without the broadcast filter.
func (s *SQLiteStore) ListMessages(ctx context.Context, since *time.Time, limit int) ([]models.Message, error) {
	return s.listMessages(ctx, since, limit, false)
}

func (s *SQLiteStore) listMessages(ctx context.Context, since *time.Time, limit int, broadcastOnly bool) ([]models.Message, error) {
	query := `
		SELECT id, sender_kind, sender_id, body, is_broadcast, scope, target, sent_at, delivery_status
		FROM messages WHERE 1=1`
	args := []any{}
	if broadcastOnly {
		query += ` AND is_broadcast = 1`
	}
	if since != nil {
		query += ` AND sent_at > ?`
		args = append(args, *since)
	}
	query += ` ORDER BY sent_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// UpdateMessageStatus sets the advisory delivery status.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id string, status models.DeliveryStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET delivery_status = ? WHERE id = ?
	`, string(status), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
