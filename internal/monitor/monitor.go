// Package monitor is the operator-facing composite view over the
// presence registry.
package monitor

import (
	"context"

	"github.com/parokia/presence/internal/models"
	"github.com/parokia/presence/internal/presence"
)

// Monitor serves the admin dashboard.
type Monitor struct {
	registry *presence.Registry
}

// NewMonitor creates a Monitor over the registry.
func NewMonitor(registry *presence.Registry) *Monitor {
	return &Monitor{registry: registry}
}

// Dashboard runs a reclamation pass and returns the resulting active
// sessions together with how many rows that pass reclaimed. Reclaim and
// list run back-to-back, so every session the pass evicted is absent
// from the returned list.
func (m *Monitor) Dashboard(ctx context.Context) ([]models.Session, int, error) {
	reclaimed, err := m.registry.ReclaimExpired(ctx)
	if err != nil {
		return nil, 0, err
	}
	active, err := m.registry.ListConnected(ctx)
	if err != nil {
		return nil, 0, err
	}
	return active, reclaimed, nil
}
