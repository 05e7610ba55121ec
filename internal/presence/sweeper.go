package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often the background sweeper runs a
// reclamation pass.
const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically reclaims expired sessions so eviction does not
// depend on anyone polling the dashboard.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper over the registry. An interval <= 0
// falls back to DefaultSweepInterval.
func NewSweeper(registry *Registry, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{registry: registry, interval: interval, logger: logger}
}

// Run executes reclamation passes until ctx is cancelled. Store errors
// are logged and the sweeper keeps going; the next pass retries.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("session sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.registry.ReclaimExpired(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
