package progress

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
}

func dialWebSocket(ctx context.Context, dialer *websocket.Dialer, ep endpoint) (*wsTransport, error) {
	u := ep.connectURL()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	header := http.Header{}
	if ep.token != "" {
		header.Set("Authorization", "Bearer "+ep.token)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket %s: %w", redact(u), err)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Type() TransportType {
	return TransportWebSockets
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive honors the ctx deadline; cancellation without a deadline is
// observed through Close.
func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	_ = t.conn.SetReadDeadline(deadline)
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

// redact drops the access token from URLs that end up in logs
func redact(u *url.URL) string {
	c := *u
	q := c.Query()
	if q.Has("access_token") {
		q.Set("access_token", "REDACTED")
		c.RawQuery = q.Encode()
	}
	return c.String()
}
