// Package client talks to an agentping relay as an emitter or a viewer.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentping/relay/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pingInterval       = 10 * time.Second
)

// WSURL turns a relay base URL ("http://host:8765", "host:8765" or a ws://
// URL) into the relay's WebSocket endpoint.
func WSURL(base string) (string, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("relay url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// HTTPURL is the http(s) form of a relay base URL.
func HTTPURL(base string) (string, error) {
	wsURL, err := WSURL(base)
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(wsURL)
	if u.Scheme == "wss" {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	u.Path = ""
	return u.String(), nil
}

// Conn is a handshaken connection to the relay. Writes are serialised; only
// one goroutine may read.
type Conn struct {
	Welcome ws.Welcome

	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
}

// Dial connects to the relay at base and completes the handshake. The
// context bounds the dial and the wait for the welcome frame.
func Dial(ctx context.Context, base, token string, hello ws.Envelope) (*Conn, error) {
	wsURL, err := WSURL(base)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	hello.Type = ws.MsgHello
	hello.Token = token
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("waiting for welcome: %w", err)
	}
	typ, _ := ws.PeekType(data)
	switch typ {
	case ws.MsgWelcome:
	case ws.MsgError:
		conn.Close()
		return nil, decodeError(data)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected %q before welcome", typ)
	}

	c := &Conn{conn: conn}
	if err := json.Unmarshal(data, &c.Welcome); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Time{})
	conn.SetReadDeadline(time.Time{})

	pingCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.pingLoop(pingCtx)
	return c, nil
}

func decodeError(data []byte) error {
	var e ws.ErrorMessage
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	return ws.CodeError(e.Code, e.Message)
}

// Send writes one frame.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// Read blocks for the next frame. Pings from the relay are answered while
// reading.
func (c *Conn) Read() (ws.MessageType, []byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	typ, err := ws.PeekType(data)
	return typ, data, err
}

// ReadUntil reads frames until one of type want arrives or ctx is done. A
// relay error frame ends the wait with the matching error.
func (c *Conn) ReadUntil(ctx context.Context, want ws.MessageType) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	for {
		typ, data, err := c.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		switch typ {
		case want:
			return data, nil
		case ws.MsgError:
			return nil, decodeError(data)
		}
	}
}

// Close says goodbye and closes the socket.
func (c *Conn) Close() error {
	c.cancel()
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// pingLoop keeps the relay's read deadline fresh even when this side never
// reads.
func (c *Conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func backoff(delay time.Duration) time.Duration {
	return min(delay*2, reconnectMaxDelay)
}

// closeReason turns the relay's close frame text back into its sentinel
// error.
func closeReason(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Text != "" {
		return fmt.Errorf("%w (close %d)", ws.CodeError(ce.Text, ""), ce.Code)
	}
	return err
}
