package progress

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/conduit/pkg/events"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
	"github.com/cuemby/conduit/pkg/tokenstore"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	// ErrNotAuthenticated is returned by Connect when no token is stored
	ErrNotAuthenticated = errors.New("progress hub requires an authenticated session")

	// ErrDisconnected is returned for operations interrupted by Disconnect
	// or by a lost connection
	ErrDisconnected = errors.New("progress hub disconnected")
)

// DefaultReconnectDelays is the wait before each reconnection attempt
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// Config holds the hub client settings
type Config struct {
	// HubURL is the absolute hub endpoint, e.g. https://console/hubs/migration
	HubURL string

	// ReconnectDelays has one entry per reconnection attempt. Nil means
	// DefaultReconnectDelays; an empty non-nil slice disables reconnection.
	ReconnectDelays []time.Duration

	// Transports lists acceptable transports in order of preference
	Transports []TransportType

	HandshakeTimeout time.Duration
	InvokeTimeout    time.Duration

	// KeepAliveInterval is how often the client pings the hub
	KeepAliveInterval time.Duration
	// ServerTimeout drops a connection that has been silent this long
	ServerTimeout time.Duration

	TLS *tls.Config
}

func (c *Config) setDefaults() {
	if c.ReconnectDelays == nil {
		c.ReconnectDelays = DefaultReconnectDelays
	}
	if len(c.Transports) == 0 {
		c.Transports = []TransportType{TransportWebSockets, TransportLongPolling}
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.InvokeTimeout <= 0 {
		c.InvokeTimeout = 30 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 15 * time.Second
	}
	if c.ServerTimeout <= 0 {
		c.ServerTimeout = 30 * time.Second
	}
}

// Handler receives progress events
type Handler func(types.ProgressEvent)

// Subscription identifies a registered handler
type Subscription struct {
	id uint64
}

// Client streams migration progress from the hub. All methods are safe
// for concurrent use. Handlers run on a single dispatch goroutine in
// arrival order.
type Client struct {
	cfg    Config
	hubURL *url.URL
	store  tokenstore.Store
	http   *http.Client
	dialer *websocket.Dialer
	bus    *events.Broker
	logger zerolog.Logger

	connectMu sync.Mutex

	mu        sync.Mutex
	state     State
	sess      *session
	groups    map[string]bool
	completed map[string]bool
	handlers  map[uint64]Handler
	nextSub   uint64
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient sets the client used for negotiate and long polling
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithEvents publishes state changes and progress on bus
func WithEvents(bus *events.Broker) Option {
	return func(c *Client) { c.bus = bus }
}

// WithDialer replaces the WebSocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// NewClient creates a hub client. It does not connect.
func NewClient(cfg Config, store tokenstore.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("token store cannot be nil")
	}
	hubURL, err := url.Parse(cfg.HubURL)
	if err != nil || hubURL.Host == "" {
		return nil, fmt.Errorf("invalid hub URL %q", cfg.HubURL)
	}
	cfg.setDefaults()

	c := &Client{
		cfg:       cfg,
		hubURL:    hubURL,
		store:     store,
		logger:    log.WithComponent("progress"),
		groups:    make(map[string]bool),
		completed: make(map[string]bool),
		handlers:  make(map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TLS != nil {
			t.TLSClientConfig = cfg.TLS
		}
		c.http = &http.Client{Transport: t, Timeout: cfg.HandshakeTimeout}
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  cfg.TLS,
			Jar:              c.http.Jar,
		}
	}
	return c, nil
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Groups returns the groups joined and remembered for rejoin
func (c *Client) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	groups := make([]string, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// ReconnectAttempts returns the attempts made in the current reconnection
// cycle; zero while connected.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0
	}
	return c.sess.attempts
}

// OnProgress registers a handler for progress events
func (c *Client) OnProgress(fn Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	c.handlers[c.nextSub] = fn
	return Subscription{id: c.nextSub}
}

// OffProgress removes a handler. Unknown subscriptions are ignored.
func (c *Client) OffProgress(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, sub.id)
}

// Connect opens the hub connection. It is a no-op while connected or
// reconnecting.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == Connected || c.state == Reconnecting {
		c.mu.Unlock()
		return nil
	}
	if !c.store.IsAuthenticated() {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	sess := newSession()
	c.sess = sess
	c.setState(Connecting)
	c.mu.Unlock()

	go c.dispatch(sess)

	conn, err := c.dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		// Disconnect ran while dialing
		if conn != nil {
			conn.close()
		}
		return ErrDisconnected
	}
	if err != nil {
		sess.stop()
		c.sess = nil
		c.setState(Disconnected)
		return err
	}
	c.attach(sess, conn)
	c.setState(Connected)
	c.logger.Info().Str("transport", string(conn.t.Type())).Msg("Connected to progress hub")
	return nil
}

// Disconnect closes the connection and stops reconnection. Remembered
// groups are forgotten. Safe to call at any time, any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.groups = make(map[string]bool)
	if c.state != Disconnected {
		c.setState(Disconnected)
	}
	c.mu.Unlock()

	if sess == nil {
		return
	}
	sess.stop()
	if conn := sess.current(); conn != nil {
		conn.close()
	}
	c.logger.Debug().Msg("Disconnected from progress hub")
}

// JoinGroup subscribes to a migration group, connecting first if needed.
// Joining resets the group's completion latch so a re-run delivers again.
func (c *Client) JoinGroup(ctx context.Context, groupID string) error {
	if groupID == "" {
		return fmt.Errorf("group ID cannot be empty")
	}

	c.mu.Lock()
	c.groups[groupID] = true
	delete(c.completed, groupID)
	reconnecting := c.state == Reconnecting
	c.mu.Unlock()

	// The reconnect loop rejoins remembered groups
	if reconnecting {
		return nil
	}

	if err := c.Connect(ctx); err != nil {
		c.forget(groupID)
		return err
	}

	if err := c.invoke(ctx, TargetJoinGroup, groupID); err != nil {
		c.forget(groupID)
		return fmt.Errorf("failed to join group %s: %w", groupID, err)
	}
	groupLogger(groupID).Debug().Msg("Joined migration group")
	return nil
}

// LeaveGroup unsubscribes from a group. Failures are logged, not returned.
func (c *Client) LeaveGroup(ctx context.Context, groupID string) {
	c.forget(groupID)

	if c.State() != Connected {
		return
	}
	if err := c.invoke(ctx, TargetLeaveGroup, groupID); err != nil {
		groupLogger(groupID).Warn().Err(err).Msg("Failed to leave migration group")
	}
}

func (c *Client) forget(groupID string) {
	c.mu.Lock()
	delete(c.groups, groupID)
	c.mu.Unlock()
}

// setState must be called with c.mu held
func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	metrics.HubConnectionState.Set(float64(s))
	if c.bus != nil {
		c.bus.Publish(&events.Event{
			Type:     events.EventHubStateChanged,
			Message:  s.String(),
			Metadata: map[string]string{"state": s.String()},
		})
	}
}

// dial negotiates, opens a transport and performs the hub handshake
func (c *Client) dial(ctx context.Context) (*connection, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	token, err := c.store.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	ep, err := negotiate(ctx, c.http, c.hubURL, token)
	if err != nil {
		return nil, err
	}

	t, err := c.openTransport(ctx, ep)
	if err != nil {
		return nil, err
	}

	conn := newConnection(t)
	if err := conn.handshake(ctx); err != nil {
		conn.close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) openTransport(ctx context.Context, ep endpoint) (transport, error) {
	var lastErr error
	for _, tt := range c.cfg.Transports {
		if !ep.neg.offers(tt) {
			continue
		}
		switch tt {
		case TransportWebSockets:
			t, err := dialWebSocket(ctx, c.dialer, ep)
			if err != nil {
				c.logger.Warn().Err(err).Msg("WebSocket transport failed, trying next transport")
				lastErr = err
				continue
			}
			return t, nil
		case TransportLongPolling:
			return openLongPolling(c.http, ep), nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoTransport
}

// attach installs conn in the session and starts its goroutines. Must be
// called with c.mu held.
func (c *Client) attach(sess *session, conn *connection) {
	sess.setCurrent(conn)
	sess.attempts = 0
	go c.readLoop(sess, conn)
	go c.keepAlive(sess, conn)
}

func (c *Client) readLoop(sess *session, conn *connection) {
	for _, rec := range conn.backlog {
		if !c.handleRecord(sess, conn, rec) {
			return
		}
	}

	rest := conn.partial
	for {
		frame, err := conn.t.Receive(conn.ctx)
		if err != nil {
			c.connectionLost(sess, conn, err, true)
			return
		}
		conn.touch()

		var recs [][]byte
		recs, rest = SplitRecords(append(rest, frame...))
		for _, rec := range recs {
			if !c.handleRecord(sess, conn, rec) {
				return
			}
		}
	}
}

// handleRecord processes one hub message and reports whether reading
// should continue.
func (c *Client) handleRecord(sess *session, conn *connection, rec []byte) bool {
	var msg Message
	if err := json.Unmarshal(rec, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("Ignoring malformed hub message")
		return true
	}

	switch msg.Type {
	case MessageInvocation:
		if !strings.EqualFold(msg.Target, TargetProgressUpdate) || len(msg.Arguments) == 0 {
			return true
		}
		var ev types.ProgressEvent
		if err := json.Unmarshal(msg.Arguments[0], &ev); err != nil {
			c.logger.Warn().Err(err).Msg("Ignoring malformed progress event")
			return true
		}
		sess.enqueue(ev)

	case MessageCompletion:
		conn.complete(msg.InvocationID, msg.Error)

	case MessagePing:

	case MessageClose:
		reason := fmt.Errorf("hub closed connection")
		if msg.Error != "" {
			reason = fmt.Errorf("hub closed connection: %s", msg.Error)
		}
		// An explicit error without allowReconnect is final
		reconnect := msg.Error == "" || msg.AllowReconnect
		c.connectionLost(sess, conn, reason, reconnect)
		return false
	}
	return true
}

func (c *Client) keepAlive(sess *session, conn *connection) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	ping, _ := EncodeRecord(Message{Type: MessagePing})
	for {
		select {
		case <-conn.ctx.Done():
			return
		case <-ticker.C:
			if conn.silentFor() > c.cfg.ServerTimeout {
				c.connectionLost(sess, conn, fmt.Errorf("no message from hub for %s", c.cfg.ServerTimeout), true)
				return
			}
			ctx, cancel := context.WithTimeout(conn.ctx, c.cfg.KeepAliveInterval)
			_ = conn.t.Send(ctx, ping)
			cancel()
		}
	}
}

// connectionLost tears down conn and, unless the session ended, starts the
// reconnect cycle.
func (c *Client) connectionLost(sess *session, conn *connection, cause error, reconnect bool) {
	conn.close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess || sess.current() != conn {
		return
	}
	sess.setCurrent(nil)

	if !reconnect || len(c.cfg.ReconnectDelays) == 0 {
		c.logger.Warn().Err(cause).Msg("Progress hub connection closed")
		sess.stop()
		c.sess = nil
		c.setState(Disconnected)
		return
	}

	c.logger.Warn().Err(cause).Msg("Progress hub connection lost, reconnecting")
	c.setState(Reconnecting)
	go c.reconnect(sess)
}

func (c *Client) reconnect(sess *session) {
	for i, delay := range c.cfg.ReconnectDelays {
		c.mu.Lock()
		if c.sess != sess {
			c.mu.Unlock()
			return
		}
		sess.attempts = i + 1
		c.mu.Unlock()

		select {
		case <-sess.done:
			return
		case <-time.After(delay):
		}

		if !c.store.IsAuthenticated() {
			c.logger.Warn().Msg("Session ended, giving up on progress hub reconnection")
			metrics.HubReconnectsTotal.WithLabelValues("unauthenticated").Inc()
			break
		}

		ctx, cancel := context.WithCancel(context.Background())
		stop := context.AfterFunc(sess.ctx, cancel)
		conn, err := c.dial(ctx)
		stop()
		cancel()

		if err != nil {
			metrics.HubReconnectsTotal.WithLabelValues("failure").Inc()
			c.logger.Warn().Err(err).Int("attempt", i+1).Msg("Progress hub reconnection failed")
			continue
		}

		c.mu.Lock()
		if c.sess != sess {
			c.mu.Unlock()
			conn.close()
			return
		}
		c.attach(sess, conn)
		c.setState(Connected)
		groups := make([]string, 0, len(c.groups))
		for g := range c.groups {
			groups = append(groups, g)
		}
		c.mu.Unlock()

		metrics.HubReconnectsTotal.WithLabelValues("success").Inc()
		c.logger.Info().Int("attempt", i+1).Int("groups", len(groups)).Msg("Reconnected to progress hub")
		c.rejoin(groups)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	metrics.HubReconnectsTotal.WithLabelValues("exhausted").Inc()
	c.logger.Error().Int("attempts", len(c.cfg.ReconnectDelays)).Msg("Progress hub reconnection attempts exhausted")
	sess.stop()
	c.sess = nil
	c.setState(Disconnected)
}

func (c *Client) rejoin(groups []string) {
	sort.Strings(groups)
	for _, g := range groups {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.InvokeTimeout)
		err := c.invoke(ctx, TargetJoinGroup, g)
		cancel()
		if err != nil {
			groupLogger(g).Warn().Err(err).Msg("Failed to rejoin migration group")
		}
	}
}

// invoke calls a hub method on the current connection and waits for its
// completion message.
func (c *Client) invoke(ctx context.Context, target string, args ...any) error {
	c.mu.Lock()
	var conn *connection
	if c.sess != nil {
		conn = c.sess.current()
	}
	c.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.InvokeTimeout)
	defer cancel()

	id := uuid.New().String()
	msg, err := newInvocation(id, target, args...)
	if err != nil {
		return err
	}
	data, err := EncodeRecord(msg)
	if err != nil {
		return err
	}

	done := conn.expect(id)
	defer conn.forget(id)

	if err := conn.t.Send(ctx, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", target, err)
	}

	select {
	case err := <-done:
		return err
	case <-conn.ctx.Done():
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch delivers queued events to handlers in order until the session
// ends.
func (c *Client) dispatch(sess *session) {
	for {
		select {
		case <-sess.done:
			return
		case ev := <-sess.queue:
			c.deliver(ev)
		}
	}
}

func (c *Client) deliver(ev types.ProgressEvent) {
	c.mu.Lock()
	if c.completed[ev.GroupID] {
		c.mu.Unlock()
		metrics.ProgressEventsTotal.WithLabelValues("dropped").Inc()
		groupLogger(ev.GroupID).Debug().Msg("Dropping progress event after completion")
		return
	}
	if ev.IsCompleted {
		c.completed[ev.GroupID] = true
	}
	ids := make([]uint64, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, c.handlers[id])
	}
	c.mu.Unlock()

	metrics.ProgressEventsTotal.WithLabelValues("delivered").Inc()
	for _, h := range handlers {
		c.safeCall(h, ev)
	}

	if c.bus != nil {
		evType := events.EventProgress
		if ev.IsCompleted {
			evType = events.EventMigrationDone
		}
		c.bus.Publish(&events.Event{
			Type:    evType,
			Message: ev.Message,
			Metadata: map[string]string{
				"group_id":  ev.GroupID,
				"processed": fmt.Sprint(ev.ProcessedCount),
				"total":     fmt.Sprint(ev.TotalCount),
			},
		})
	}
}

func (c *Client) safeCall(h Handler, ev types.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			groupLogger(ev.GroupID).Error().Interface("panic", r).Msg("Progress handler panicked")
		}
	}()
	h(ev)
}

func groupLogger(groupID string) *zerolog.Logger {
	l := log.WithGroupID(groupID)
	return &l
}
