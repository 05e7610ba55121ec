package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/parokia/presence/internal/models"
)

// ErrDuplicateSession is returned by CreateSession when a connected row
// already exists for the (client_address, hostname) identity. The unique
// index behind it closes the register check-then-act race: of two
// concurrent registrations, exactly one insert wins.
var ErrDuplicateSession = errors.New("store: connected session already exists for identity")

// DataStore is the persistence boundary for sessions and messages.
// PostgresStore, SQLiteStore and MemoryStore implement it.
//
// Mutating calls take the effective time as a parameter so the presence
// registry can own the clock; stores never call time.Now themselves.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Session operations
	CreateSession(ctx context.Context, clientAddress, hostname string, now time.Time) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetConnectedSession(ctx context.Context, clientAddress, hostname string) (*models.Session, error)
	TouchSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	DisconnectSession(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	DisconnectByAddress(ctx context.Context, clientAddress string, now time.Time) (int, error)
	ReclaimExpired(ctx context.Context, cutoff, now time.Time) (int, error)
	ListConnected(ctx context.Context) ([]models.Session, error)
	ListDisconnected(ctx context.Context, limit int) ([]models.Session, error)
	CountDisconnected(ctx context.Context) (int64, error)

	// Message operations
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListBroadcasts(ctx context.Context, since *time.Time, limit int) ([]models.Message, error)
	ListMessages(ctx context.Context, since *time.Time, limit int) ([]models.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status models.DeliveryStatus) (bool, error)
}
