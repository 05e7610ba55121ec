package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// fakeServer is a minimal in-memory presence API for client tests.
type fakeServer struct {
	registered int
	sessions   map[string]bool // connection_id -> active
	messages   []Message
}

func newFakeServer() *fakeServer {
	return &fakeServer{sessions: make(map[string]bool)}
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /client/register", func(w http.ResponseWriter, r *http.Request) {
		s.registered++
		id := "conn-" + time.Now().Format("150405.000000000")
		s.sessions[id] = true
		json.NewEncoder(w).Encode(map[string]string{"connection_id": id})
	})

	mux.HandleFunc("POST /client/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConnectionID string `json:"connection_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if !s.sessions[req.ConnectionID] {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "session not found or not active"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /client/disconnect", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /client/messages", func(w http.ResponseWriter, r *http.Request) {
		cursor, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		var out []Message
		for _, msg := range s.messages {
			if msg.SentAt <= cursor {
				continue
			}
			out = append(out, msg)
		}
		// newest first
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		json.NewEncoder(w).Encode(map[string]any{"data": out})
	})

	return mux
}

func TestClientRegisterAndPollCursor(t *testing.T) {
	srv := newFakeServer()
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	client := NewClient(ts.URL, "10.0.0.5", "deskA")
	ctx := context.Background()

	id, err := client.Register(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || client.ConnectionID != id {
		t.Fatalf("expected stored connection id, got %q", client.ConnectionID)
	}

	srv.messages = append(srv.messages,
		Message{ID: "m1", Body: "first", SentAt: 1000},
		Message{ID: "m2", Body: "second", SentAt: 2000},
	)

	got, err := client.Poll(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if client.Cursor() != 2000 {
		t.Fatalf("expected cursor 2000, got %d", client.Cursor())
	}

	// Nothing new: cursor keeps re-delivery away
	got, err = client.Poll(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no messages, got %d", len(got))
	}

	// A new message shows up on the next poll
	srv.messages = append(srv.messages, Message{ID: "m3", Body: "third", SentAt: 3000})
	got, err = client.Poll(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "m3" {
		t.Fatalf("expected only m3, got %+v", got)
	}
}

func TestClientHeartbeatReregisters(t *testing.T) {
	srv := newFakeServer()
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	client := NewClient(ts.URL, "10.0.0.5", "deskA")
	ctx := context.Background()

	if _, err := client.Register(ctx); err != nil {
		t.Fatal(err)
	}

	// Server reclaims the session behind the client's back
	srv.sessions[client.ConnectionID] = false

	if err := client.Heartbeat(ctx); err != nil {
		t.Fatalf("heartbeat should recover by re-registering: %v", err)
	}
	if srv.registered != 2 {
		t.Fatalf("expected a second registration, got %d", srv.registered)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(&APIError{Status: 404}) {
		t.Fatal("404 should be not-found")
	}
	if IsNotFound(&APIError{Status: 500}) {
		t.Fatal("500 is not not-found")
	}
	if IsNotFound(nil) {
		t.Fatal("nil is not not-found")
	}
}
