package handlers_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parokia/presence/internal/api"
	"github.com/parokia/presence/internal/broadcast"
	"github.com/parokia/presence/internal/gate"
	"github.com/parokia/presence/internal/handlers"
	"github.com/parokia/presence/internal/monitor"
	"github.com/parokia/presence/internal/presence"
	"github.com/parokia/presence/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testAPI struct {
	router http.Handler
	store  *store.MemoryStore
	clock  *fakeClock
	gate   *gate.Gate
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	clk := &fakeClock{t: time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore()
	logger := zerolog.Nop()

	registry := presence.NewRegistry(st, logger,
		presence.WithClock(clk.Now), presence.WithTimeout(2*time.Minute))
	broadcaster := broadcast.NewService(st, logger, broadcast.WithClock(clk.Now))
	mon := monitor.NewMonitor(registry)
	g := gate.New(true)

	h := handlers.NewHandler(registry, broadcaster, mon, g, st, nil)
	router := api.NewRouter(logger, h, g, nil, nil)

	return &testAPI{router: router, store: st, clock: clk, gate: g}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest))
}

func (a *testAPI) register(t *testing.T, address, hostname string) string {
	t.Helper()
	w := a.do(t, "POST", "/client/register",
		fmt.Sprintf(`{"client_address":%q,"hostname":%q}`, address, hostname))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		ConnectionID string `json:"connection_id"`
	}
	decode(t, w, &resp)
	require.NotEmpty(t, resp.ConnectionID)
	return resp.ConnectionID
}

func TestRegisterEndpoint(t *testing.T) {
	a := newTestAPI(t)

	id := a.register(t, "10.0.0.5", "deskA")

	// Same identity again: same connection ID
	again := a.register(t, "10.0.0.5", "deskA")
	assert.Equal(t, id, again)

	// Missing address
	w := a.do(t, "POST", "/client/register", `{"hostname":"deskA"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Malformed body
	w = a.do(t, "POST", "/client/register", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHeartbeatEndpoint(t *testing.T) {
	a := newTestAPI(t)
	id := a.register(t, "10.0.0.5", "deskA")

	w := a.do(t, "POST", "/client/heartbeat", fmt.Sprintf(`{"connection_id":%q}`, id))
	assert.Equal(t, http.StatusOK, w.Code)

	// By identity pair
	w = a.do(t, "POST", "/client/heartbeat", `{"client_address":"10.0.0.5","hostname":"deskA"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// After the session expires, heartbeat turns into a 404
	a.clock.Advance(3 * time.Minute)
	w = a.do(t, "GET", "/admin/active-sessions", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, "POST", "/client/heartbeat", fmt.Sprintf(`{"connection_id":%q}`, id))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Unknown identity
	w = a.do(t, "POST", "/client/heartbeat", `{"client_address":"10.9.9.9","hostname":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Garbage connection ID
	w = a.do(t, "POST", "/client/heartbeat", `{"connection_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisconnectEndpoint(t *testing.T) {
	a := newTestAPI(t)
	id := a.register(t, "10.0.0.5", "deskA")

	w := a.do(t, "POST", "/client/disconnect", fmt.Sprintf(`{"connection_id":%q}`, id))
	assert.Equal(t, http.StatusOK, w.Code)

	// Idempotent
	w = a.do(t, "POST", "/client/disconnect", fmt.Sprintf(`{"connection_id":%q}`, id))
	assert.Equal(t, http.StatusOK, w.Code)

	// No identity at all
	w = a.do(t, "POST", "/client/disconnect", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActiveSessionsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "10.0.0.5", "deskA")

	a.clock.Advance(90 * time.Second)
	a.register(t, "10.0.0.6", "deskB")

	a.clock.Advance(90 * time.Second)

	w := a.do(t, "GET", "/admin/active-sessions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			ClientAddress string `json:"client_address"`
			Status        string `json:"status"`
		} `json:"data"`
		TimeoutDisconnected int `json:"timeout_disconnected"`
	}
	decode(t, w, &resp)

	assert.Equal(t, 1, resp.TimeoutDisconnected, "deskA went stale")
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "10.0.0.6", resp.Data[0].ClientAddress)
	assert.Equal(t, "connected", resp.Data[0].Status)
}

func TestActivityHistoryEndpoint(t *testing.T) {
	a := newTestAPI(t)
	id := a.register(t, "10.0.0.5", "deskA")

	a.clock.Advance(45 * time.Second)
	w := a.do(t, "POST", "/client/disconnect", fmt.Sprintf(`{"connection_id":%q}`, id))
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, "GET", "/admin/client-activity-history?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			Duration string `json:"duration"`
			Status   string `json:"status"`
		} `json:"data"`
		TotalRecords int64 `json:"total_records"`
	}
	decode(t, w, &resp)

	assert.EqualValues(t, 1, resp.TotalRecords)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "45s", resp.Data[0].Duration)
	assert.Equal(t, "disconnected", resp.Data[0].Status)
}

func TestSendMessageEndpoint(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, "POST", "/pesan",
		`{"sender_kind":"admin","sender_id":"admin1","body":"Misa pukul 7","is_broadcast":true,"scope":"all"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		PesanID string `json:"pesan_id"`
	}
	decode(t, w, &resp)
	assert.NotEmpty(t, resp.PesanID)

	// The client-facing alias behaves the same
	w = a.do(t, "POST", "/client/send-message",
		`{"sender_kind":"user","sender_id":"u1","body":"halo","is_broadcast":true}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// Empty body
	w = a.do(t, "POST", "/pesan", `{"body":"","is_broadcast":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Bogus sender kind
	w = a.do(t, "POST", "/pesan", `{"sender_kind":"bot","body":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPollMessagesEndpoint(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, "POST", "/pesan", `{"body":"first","is_broadcast":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	a.clock.Advance(time.Second)
	w = a.do(t, "POST", "/pesan", `{"body":"second","is_broadcast":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, "GET", "/client/messages", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			Body   string `json:"body"`
			SentAt int64  `json:"sent_at"`
		} `json:"data"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "second", resp.Data[0].Body, "newest first")

	// Poll from the newest cursor: empty
	w = a.do(t, "GET", fmt.Sprintf("/client/messages?since=%d", resp.Data[0].SentAt), "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Empty(t, resp.Data)

	// Poll from the older cursor: only the newer one
	w = a.do(t, "GET", fmt.Sprintf("/client/messages?since=%d", a.clock.Now().Add(-time.Second).UnixMilli()), "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "second", resp.Data[0].Body)

	// Bad cursor
	w = a.do(t, "GET", "/client/messages?since=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPollMessagesCursorEcho(t *testing.T) {
	// Feeding the sent_at from the send response straight back as the
	// since cursor must return nothing, even when the server clock sits
	// partway through a millisecond.
	a := newTestAPI(t)

	a.clock.Advance(456 * time.Microsecond)
	w := a.do(t, "POST", "/pesan", `{"body":"halo","is_broadcast":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var sent struct {
		SentAt int64 `json:"sent_at"`
	}
	decode(t, w, &sent)

	w = a.do(t, "GET", fmt.Sprintf("/client/messages?since=%d", sent.SentAt), "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			Body string `json:"body"`
		} `json:"data"`
	}
	decode(t, w, &resp)
	assert.Empty(t, resp.Data, "own cursor must not re-deliver the message")

	a.clock.Advance(5 * time.Millisecond)
	w = a.do(t, "POST", "/pesan", `{"body":"lagi","is_broadcast":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, "GET", fmt.Sprintf("/client/messages?since=%d", sent.SentAt), "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "lagi", resp.Data[0].Body)
}

func TestUpdateMessageStatusEndpoint(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, "POST", "/pesan", `{"body":"halo","is_broadcast":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	var sent struct {
		PesanID string `json:"pesan_id"`
	}
	decode(t, w, &sent)

	w = a.do(t, "PUT", "/pesan/"+sent.PesanID+"/status", `{"status":"read"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, "PUT", "/pesan/unknown-id/status", `{"status":"read"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, "PUT", "/pesan/"+sent.PesanID+"/status", `{"status":"teleported"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServiceGateEndpoints(t *testing.T) {
	a := newTestAPI(t)

	// Close the gate
	w := a.do(t, "PUT", "/admin/service", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	// Client traffic is refused
	w = a.do(t, "POST", "/client/register", `{"client_address":"10.0.0.5"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Admin traffic still works
	w = a.do(t, "GET", "/admin/active-sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, "GET", "/admin/service", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state struct {
		Enabled bool `json:"enabled"`
	}
	decode(t, w, &state)
	assert.False(t, state.Enabled)

	// Reopen
	w = a.do(t, "PUT", "/admin/service", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, "POST", "/client/register", `{"client_address":"10.0.0.5"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// Missing field
	w = a.do(t, "PUT", "/admin/service", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "pass", resp.Checks["store"].Status)
}

func TestContentTypeValidation(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest("POST", "/client/register", strings.NewReader(`{"client_address":"10.0.0.5"}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}
