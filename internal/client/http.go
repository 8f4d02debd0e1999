package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agentping/relay/internal/ws"
)

// HTTPClient makes REST calls to the relay.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client for the relay at base (same forms as
// WSURL).
func NewHTTPClient(base, token string) (*HTTPClient, error) {
	u, err := HTTPURL(base)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		baseURL: u,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Health is the body of GET /healthz.
type Health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Emitters int    `json:"emitters"`
	Viewers  int    `json:"viewers"`
}

func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Sessions fetches GET /api/sessions.
func (c *HTTPClient) Sessions(ctx context.Context) (*ws.SnapshotMessage, error) {
	var s ws.SnapshotMessage
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Session fetches GET /api/sessions/{id}. An unknown id is not an error;
// check Found.
func (c *HTTPClient) Session(ctx context.Context, id string) (*ws.StatusMessage, error) {
	var s ws.StatusMessage
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Command sends POST /api/sessions/{id}/command.
func (c *HTTPClient) Command(ctx context.Context, id, payload string) (*ws.CommandAck, error) {
	var ack ws.CommandAck
	body := map[string]string{"payload": payload}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/command", body, &ack); err != nil {
		return nil, err
	}
	if !ack.OK {
		return &ack, fmt.Errorf("command to %s: %w", id, ws.CodeError(ack.Error, ""))
	}
	return &ack, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	// Not-found status bodies and failed command acks still decode.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return json.Unmarshal(data, out)
}
