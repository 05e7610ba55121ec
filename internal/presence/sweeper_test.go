package presence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parokia/presence/internal/models"
)

func TestSweeperReclaimsWithoutReads(t *testing.T) {
	r, st, clk := newTestRegistry(t, WithTimeout(2*time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, _, err := r.Register(ctx, "10.0.0.5", "deskA")
	require.NoError(t, err)

	clk.Advance(3 * time.Minute)

	sweeper := NewSweeper(r, 10*time.Millisecond, zerolog.Nop())
	go sweeper.Run(ctx)

	// The sweeper must evict the stale session with nobody touching the
	// dashboard.
	require.Eventually(t, func() bool {
		got, err := st.GetSession(context.Background(), sess.ID)
		return err == nil && got.Status == models.StatusDisconnected
	}, time.Second, 5*time.Millisecond)

	got, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DisconnectTime)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	sweeper := NewSweeper(r, 5*time.Millisecond, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}

func TestSweeperDefaultInterval(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	sweeper := NewSweeper(r, 0, zerolog.Nop())
	assert.Equal(t, DefaultSweepInterval, sweeper.interval)
}
