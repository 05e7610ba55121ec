package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parokia/presence/internal/models"
)

func TestMemoryStoreDuplicateSession(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)

	_, err := st.CreateSession(ctx, "10.0.0.5", "deskA", now)
	require.NoError(t, err)

	_, err = st.CreateSession(ctx, "10.0.0.5", "deskA", now)
	assert.ErrorIs(t, err, ErrDuplicateSession)

	// A different hostname on the same address is a distinct identity
	_, err = st.CreateSession(ctx, "10.0.0.5", "deskB", now)
	assert.NoError(t, err)

	// After disconnecting, the identity is free again
	n, err := st.DisconnectByAddress(ctx, "10.0.0.5", now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = st.CreateSession(ctx, "10.0.0.5", "deskA", now)
	assert.NoError(t, err)
}

func TestMemoryStoreReclaimCutoff(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)

	old, err := st.CreateSession(ctx, "10.0.0.1", "a", base)
	require.NoError(t, err)
	_, err = st.CreateSession(ctx, "10.0.0.2", "b", base.Add(time.Minute))
	require.NoError(t, err)

	// Cutoff equal to a row's last_activity does not reclaim it;
	// strictly-older only.
	count, err := st.ReclaimExpired(ctx, base, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = st.ReclaimExpired(ctx, base.Add(time.Second), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := st.GetSession(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisconnected, got.Status)
}

func TestMemoryStoreMessageOrderAndTieBreak(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)

	// Two messages share a sent_at; ULIDs assigned later sort higher.
	for _, m := range []models.Message{
		{ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", Body: "first", IsBroadcast: true, SentAt: at, Status: models.DeliverySent},
		{ID: "01BBBBBBBBBBBBBBBBBBBBBBBB", Body: "second", IsBroadcast: true, SentAt: at, Status: models.DeliverySent},
		{ID: "01CCCCCCCCCCCCCCCCCCCCCCCC", Body: "third", IsBroadcast: true, SentAt: at.Add(time.Second), Status: models.DeliverySent},
	} {
		msg := m
		require.NoError(t, st.InsertMessage(ctx, &msg))
	}

	got, err := st.ListBroadcasts(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "third", got[0].Body)
	assert.Equal(t, "second", got[1].Body, "equal sent_at breaks ties by id, newest id first")
	assert.Equal(t, "first", got[2].Body)
}

func TestMemoryStoreUpdateMessageStatus(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	msg := &models.Message{ID: "01AAAAAAAAAAAAAAAAAAAAAAAA", Body: "x", SentAt: time.Now(), Status: models.DeliverySent}
	require.NoError(t, st.InsertMessage(ctx, msg))

	found, err := st.UpdateMessageStatus(ctx, msg.ID, models.DeliveryRead)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = st.UpdateMessageStatus(ctx, "missing", models.DeliveryRead)
	require.NoError(t, err)
	assert.False(t, found)
}
