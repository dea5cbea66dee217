package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/conduit/pkg/types"
)

// queueSize bounds events waiting for the dispatch goroutine. A full queue
// applies backpressure to the read loop instead of dropping events.
const queueSize = 256

// session spans one Connect..Disconnect lifetime, across reconnects
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   <-chan struct{}
	queue  chan types.ProgressEvent

	// guarded by Client.mu
	conn     *connection
	attempts int
}

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		ctx:    ctx,
		cancel: cancel,
		done:   ctx.Done(),
		queue:  make(chan types.ProgressEvent, queueSize),
	}
}

func (s *session) stop() {
	s.cancel()
}

func (s *session) current() *connection {
	return s.conn
}

func (s *session) setCurrent(conn *connection) {
	s.conn = conn
}

func (s *session) enqueue(ev types.ProgressEvent) {
	select {
	case s.queue <- ev:
	case <-s.done:
	}
}

// connection is one transport plus its pending invocations
type connection struct {
	t      transport
	ctx    context.Context
	cancel context.CancelFunc

	// records (and a trailing fragment) that arrived with the handshake
	// response
	backlog [][]byte
	partial []byte

	mu      sync.Mutex
	pending map[string]chan error

	lastRecv atomic.Int64
	once     sync.Once
}

func newConnection(t transport) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		t:       t,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan error),
	}
	c.touch()
	return c
}

// handshake sends the protocol request and waits for the response. Data
// that followed the response in the same frame is kept for the read loop.
func (c *connection) handshake(ctx context.Context) error {
	req, err := EncodeRecord(HandshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return err
	}
	if err := c.t.Send(ctx, req); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	var buf []byte
	for {
		frame, err := c.t.Receive(ctx)
		if err != nil {
			return fmt.Errorf("failed to read handshake response: %w", err)
		}
		buf = append(buf, frame...)

		records, rest := SplitRecords(buf)
		if len(records) == 0 {
			continue
		}

		var resp HandshakeResponse
		if err := json.Unmarshal(records[0], &resp); err != nil {
			return fmt.Errorf("invalid handshake response: %w", err)
		}
		if resp.Error != "" {
			return fmt.Errorf("hub rejected handshake: %s", resp.Error)
		}
		c.backlog = records[1:]
		c.partial = rest
		c.touch()
		return nil
	}
}

func (c *connection) touch() {
	c.lastRecv.Store(time.Now().UnixNano())
}

func (c *connection) silentFor() time.Duration {
	return time.Since(time.Unix(0, c.lastRecv.Load()))
}

func (c *connection) expect(id string) <-chan error {
	ch := make(chan error, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *connection) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *connection) complete(id, errMsg string) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	if errMsg != "" {
		ch <- fmt.Errorf("hub error: %s", errMsg)
		return
	}
	ch <- nil
}

func (c *connection) close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.t.Close()
	})
}
