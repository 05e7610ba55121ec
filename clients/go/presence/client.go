// Package presence provides a client for the parokia presence and
// announcement API.
package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client is a presence API client. It keeps the connection ID assigned
// at registration and the poll cursor (sent_at of the newest message
// seen), so repeated polls never re-deliver messages.
type Client struct {
	BaseURL       string
	ClientAddress string
	Hostname      string
	ConnectionID  string
	HTTPClient    *http.Client

	cursor int64 // unix ms of newest message seen
}

// NewClient creates a new presence client. Hostname defaults to the
// machine's hostname.
func NewClient(baseURL, clientAddress, hostname string) *Client {
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return &Client{
		BaseURL:       baseURL,
		ClientAddress: clientAddress,
		Hostname:      hostname,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	return respBody, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("presence error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server, meaning the
// session was reclaimed and the client must register again.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

type registerRequest struct {
	ClientAddress string `json:"client_address"`
	Hostname      string `json:"hostname"`
}

type registerResponse struct {
	ConnectionID string `json:"connection_id"`
}

// Register registers this client's session and stores the connection ID.
func (c *Client) Register(ctx context.Context) (string, error) {
	body, _ := json.Marshal(registerRequest{
		ClientAddress: c.ClientAddress,
		Hostname:      c.Hostname,
	})

	respBody, err := c.doRequest(ctx, "POST", "/client/register", body)
	if err != nil {
		return "", err
	}

	var resp registerResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}
	c.ConnectionID = resp.ConnectionID
	return resp.ConnectionID, nil
}

type sessionRefRequest struct {
	ConnectionID string `json:"connection_id"`
}

// Heartbeat reports liveness. On a 404 the server has reclaimed the
// session; Heartbeat re-registers once and retries.
func (c *Client) Heartbeat(ctx context.Context) error {
	body, _ := json.Marshal(sessionRefRequest{ConnectionID: c.ConnectionID})
	_, err := c.doRequest(ctx, "POST", "/client/heartbeat", body)
	if err == nil || !IsNotFound(err) {
		return err
	}

	if _, err := c.Register(ctx); err != nil {
		return err
	}
	body, _ = json.Marshal(sessionRefRequest{ConnectionID: c.ConnectionID})
	_, err = c.doRequest(ctx, "POST", "/client/heartbeat", body)
	return err
}

// Disconnect ends the session.
func (c *Client) Disconnect(ctx context.Context) error {
	body, _ := json.Marshal(sessionRefRequest{ConnectionID: c.ConnectionID})
	_, err := c.doRequest(ctx, "POST", "/client/disconnect", body)
	return err
}

// Message is a broadcast message as returned by the API.
type Message struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	SentAt int64  `json:"sent_at"`
	Sender struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"sender"`
}

type messagesResponse struct {
	Data []Message `json:"data"`
}

// Poll fetches broadcast messages newer than the last one seen and
// advances the cursor. Messages come back newest first.
func (c *Client) Poll(ctx context.Context, limit int) ([]Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if c.cursor > 0 {
		q.Set("since", strconv.FormatInt(c.cursor, 10))
	}
	path := "/client/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	respBody, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	for _, msg := range resp.Data {
		if msg.SentAt > c.cursor {
			c.cursor = msg.SentAt
		}
	}
	return resp.Data, nil
}

// Cursor returns the sent_at of the newest message seen, in unix ms.
func (c *Client) Cursor() int64 {
	return c.cursor
}

type sendRequest struct {
	SenderKind  string `json:"sender_kind"`
	SenderID    string `json:"sender_id,omitempty"`
	Body        string `json:"body"`
	IsBroadcast bool   `json:"is_broadcast"`
}

type sendResponse struct {
	PesanID string `json:"pesan_id"`
}

// Send stores a broadcast message.
func (c *Client) Send(ctx context.Context, senderKind, senderID, body string) (string, error) {
	reqBody, _ := json.Marshal(sendRequest{
		SenderKind:  senderKind,
		SenderID:    senderID,
		Body:        body,
		IsBroadcast: true,
	})

	respBody, err := c.doRequest(ctx, "POST", "/client/send-message", reqBody)
	if err != nil {
		return "", err
	}

	var resp sendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}
	return resp.PesanID, nil
}

// Run registers, then heartbeats every interval until ctx is cancelled,
// delivering polled messages to onMessage (may be nil). It disconnects
// on the way out.
func (c *Client) Run(ctx context.Context, interval time.Duration, onMessage func(Message)) error {
	if _, err := c.Register(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return c.Disconnect(shutdownCtx)
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				return err
			}
			if onMessage != nil {
				messages, err := c.Poll(ctx, 0)
				if err != nil {
					return err
				}
				// Deliver oldest first
				for i := len(messages) - 1; i >= 0; i-- {
					onMessage(messages[i])
				}
			}
		}
	}
}
