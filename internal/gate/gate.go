// Package gate holds the process-wide service-enabled switch. It
// replaces the status file the desktop deployment used to flip: the
// flag lives in memory, is seeded from config at startup, and changes
// only through the admin endpoint.
package gate

import (
	"net/http"
	"sync/atomic"
)

// Gate is the service-enabled flag.
type Gate struct {
	enabled atomic.Bool
}

// New creates a gate in the given initial state.
func New(enabled bool) *Gate {
	g := &Gate{}
	g.enabled.Store(enabled)
	return g
}

// Enabled reports whether client traffic is being served.
func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}

// Set flips the flag.
func (g *Gate) Set(enabled bool) {
	g.enabled.Store(enabled)
}

// Middleware rejects requests with 503 while the gate is closed. Admin
// routes mount without it so operators can re-enable the service.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"service disabled"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
