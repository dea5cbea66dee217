package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	hubWriteTimeout = 5 * time.Second
	hubQueueSize    = 256
	maxHubFrame     = 1 << 20
)

type transportOffer struct {
	Transport       progress.TransportType `json:"transport"`
	TransferFormats []string               `json:"transferFormats"`
}

type negotiateResult struct {
	ConnectionID        string           `json:"connectionId"`
	ConnectionToken     string           `json:"connectionToken"`
	NegotiateVersion    int              `json:"negotiateVersion"`
	AvailableTransports []transportOffer `json:"availableTransports"`
}

// Hub fans migration progress out to subscribed connections. Connections
// are created by negotiate and then attached to a WebSocket or served by
// long polling.
type Hub struct {
	upgrader     websocket.Upgrader
	pollTimeout  time.Duration
	pingInterval time.Duration
	idleTimeout  time.Duration
	logger       zerolog.Logger

	mu     sync.Mutex
	conns  map[string]*hubConn
	groups map[string]map[*hubConn]struct{}
	last   map[string]types.ProgressEvent
}

func newHub(pollTimeout, pingInterval time.Duration) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pollTimeout:  pollTimeout,
		pingInterval: pingInterval,
		idleTimeout:  2 * pollTimeout,
		logger:       log.WithComponent("hub"),
		conns:        make(map[string]*hubConn),
		groups:       make(map[string]map[*hubConn]struct{}),
		last:         make(map[string]types.ProgressEvent),
	}
}

type hubConn struct {
	id     string
	userID string
	hub    *Hub

	ws      *websocket.Conn
	writeMu sync.Mutex

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	handshaken bool
	partial    []byte
	groups     map[string]struct{}
	lastSeen   time.Time
}

// negotiate godoc
// @Summary  Negotiate a hub connection
// @Tags     hub
// @Produce  json
// @Success  200  {object}  negotiateResult
// @Router   /hubs/migration/negotiate [post]
func (h *Hub) negotiate(c *gin.Context) {
	conn := &hubConn{
		id:       uuid.New().String(),
		userID:   currentUser(c).ID,
		hub:      h,
		out:      make(chan []byte, hubQueueSize),
		closed:   make(chan struct{}),
		groups:   make(map[string]struct{}),
		lastSeen: time.Now(),
	}

	h.mu.Lock()
	h.conns[conn.id] = conn
	metrics.ServerHubConnections.Set(float64(len(h.conns)))
	h.mu.Unlock()

	text := []string{"Text"}
	c.JSON(http.StatusOK, negotiateResult{
		ConnectionID:     conn.id,
		ConnectionToken:  conn.id,
		NegotiateVersion: 1,
		AvailableTransports: []transportOffer{
			{Transport: progress.TransportWebSockets, TransferFormats: text},
			{Transport: progress.TransportLongPolling, TransferFormats: text},
		},
	})
}

// connect serves an established connection over either transport
func (h *Hub) connect(c *gin.Context) {
	conn := h.lookup(c.Query("id"))
	if conn == nil || conn.userID != currentUser(c).ID {
		respondWithError(c, http.StatusNotFound, apierror.CodeResourceNotFound, "unknown hub connection")
		return
	}

	if websocket.IsWebSocketUpgrade(c.Request) {
		h.serveWebSocket(c, conn)
		return
	}

	switch c.Request.Method {
	case http.MethodGet:
		h.poll(c, conn)
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxHubFrame))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, apierror.CodeValidationFailed, "unreadable frame")
			return
		}
		conn.touch()
		conn.receive(body)
		c.Status(http.StatusOK)
	case http.MethodDelete:
		conn.close()
		c.Status(http.StatusAccepted)
	default:
		c.Status(http.StatusMethodNotAllowed)
	}
}

func (h *Hub) serveWebSocket(c *gin.Context, conn *hubConn) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str("connection_id", conn.id).Msg("WebSocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxHubFrame)

	conn.writeMu.Lock()
	conn.ws = ws
	conn.writeMu.Unlock()
	defer conn.close()

	h.logger.Debug().Str("connection_id", conn.id).Msg("Hub connection opened")

	if h.pingInterval > 0 {
		go conn.keepAlive(h.pingInterval)
	}

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug().Err(err).Str("connection_id", conn.id).Msg("Hub connection read ended")
			}
			return
		}
		conn.receive(frame)
	}
}

// poll answers with queued records, an empty 200 on timeout, or 204 once
// the connection is closed
func (h *Hub) poll(c *gin.Context, conn *hubConn) {
	conn.touch()
	timer := time.NewTimer(h.pollTimeout)
	defer timer.Stop()

	select {
	case data := <-conn.out:
		for more := true; more; {
			select {
			case next := <-conn.out:
				data = append(data, next...)
			default:
				more = false
			}
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
	case <-conn.closed:
		c.Status(http.StatusNoContent)
	case <-timer.C:
		c.Status(http.StatusOK)
	case <-c.Request.Context().Done():
	}
	conn.touch()
}

func (h *Hub) lookup(id string) *hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id]
}

func (h *Hub) remove(conn *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn.id)
	for group := range conn.groups {
		if members, ok := h.groups[group]; ok {
			delete(members, conn)
			if len(members) == 0 {
				delete(h.groups, group)
			}
		}
	}
	metrics.ServerHubConnections.Set(float64(len(h.conns)))
}

func (h *Hub) join(conn *hubConn, group string) {
	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*hubConn]struct{})
		h.groups[group] = members
	}
	members[conn] = struct{}{}
	conn.mu.Lock()
	conn.groups[group] = struct{}{}
	conn.mu.Unlock()

	// A late subscriber still sees where the group stands. The replay is
	// written under the lock so no newer broadcast can overtake it.
	var err error
	if last, ok := h.last[group]; ok {
		var data []byte
		if data, err = progressRecord(last); err == nil {
			err = conn.write(data)
		}
	}
	h.mu.Unlock()

	if err != nil {
		conn.close()
	}
}

func (h *Hub) leave(conn *hubConn, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[group]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	conn.mu.Lock()
	delete(conn.groups, group)
	conn.mu.Unlock()
}

// Broadcast sends ev to every connection subscribed to its group
func (h *Hub) Broadcast(ev types.ProgressEvent) {
	data, err := progressRecord(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("group_id", ev.GroupID).Msg("Failed to encode progress event")
		return
	}

	h.mu.Lock()
	h.last[ev.GroupID] = ev
	members := make([]*hubConn, 0, len(h.groups[ev.GroupID]))
	for conn := range h.groups[ev.GroupID] {
		members = append(members, conn)
	}
	h.mu.Unlock()

	for _, conn := range members {
		conn.send(data)
	}
}

// forget drops the replay state of purged groups
func (h *Hub) forget(groups ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range groups {
		delete(h.last, g)
	}
}

// sweep closes long-polling connections that stopped polling
func (h *Hub) sweep(now time.Time) int {
	h.mu.Lock()
	var idle []*hubConn
	for _, conn := range h.conns {
		if conn.idleSince(now) > h.idleTimeout {
			idle = append(idle, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range idle {
		conn.close()
	}
	return len(idle)
}

// Close ends every connection with a close message
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	closeMsg, _ := progress.EncodeRecord(progress.Message{Type: progress.MessageClose})
	for _, conn := range conns {
		conn.send(closeMsg)
		conn.close()
	}
}

// Connections returns the number of open hub connections
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func progressRecord(ev types.ProgressEvent) ([]byte, error) {
	arg, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return progress.EncodeRecord(progress.Message{
		Type:      progress.MessageInvocation,
		Target:    progress.TargetProgressUpdate,
		Arguments: []json.RawMessage{arg},
	})
}

func (c *hubConn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// idleSince is zero for WebSocket connections
func (c *hubConn) idleSince(now time.Time) time.Duration {
	c.writeMu.Lock()
	ws := c.ws
	c.writeMu.Unlock()
	if ws != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSeen)
}

// receive handles a frame from the client
func (c *hubConn) receive(frame []byte) {
	c.mu.Lock()
	records, rest := progress.SplitRecords(append(c.partial, frame...))
	c.partial = append([]byte(nil), rest...)
	c.mu.Unlock()

	for _, rec := range records {
		if !c.handleRecord(rec) {
			c.close()
			return
		}
	}
}

// handleRecord returns false when the connection must close
func (c *hubConn) handleRecord(rec []byte) bool {
	c.mu.Lock()
	handshaken := c.handshaken
	c.mu.Unlock()

	if !handshaken {
		var req progress.HandshakeRequest
		if err := json.Unmarshal(rec, &req); err != nil || req.Protocol != "json" {
			resp, _ := progress.EncodeRecord(progress.HandshakeResponse{Error: "unsupported protocol"})
			c.send(resp)
			return false
		}
		c.mu.Lock()
		c.handshaken = true
		c.mu.Unlock()
		resp, _ := progress.EncodeRecord(progress.HandshakeResponse{})
		c.send(resp)
		return true
	}

	var msg progress.Message
	if err := json.Unmarshal(rec, &msg); err != nil {
		c.hub.logger.Debug().Err(err).Str("connection_id", c.id).Msg("Dropping malformed hub record")
		return true
	}

	switch msg.Type {
	case progress.MessageInvocation:
		c.invoke(msg)
	case progress.MessageClose:
		return false
	}
	return true
}

func (c *hubConn) invoke(msg progress.Message) {
	var group string
	if len(msg.Arguments) > 0 {
		_ = json.Unmarshal(msg.Arguments[0], &group)
	}

	var errMsg string
	switch {
	case msg.Target != progress.TargetJoinGroup && msg.Target != progress.TargetLeaveGroup:
		errMsg = "unknown hub method " + msg.Target
	case group == "":
		errMsg = "group id is required"
	}

	if errMsg == "" && msg.Target == progress.TargetLeaveGroup {
		c.hub.leave(c, group)
	}
	if msg.InvocationID != "" {
		completion, _ := progress.EncodeRecord(progress.Message{
			Type:         progress.MessageCompletion,
			InvocationID: msg.InvocationID,
			Error:        errMsg,
		})
		c.send(completion)
	}
	// Joining after the completion keeps the replayed event behind it
	if errMsg == "" && msg.Target == progress.TargetJoinGroup {
		c.hub.join(c, group)
	}
}

// send writes data or queues it for the next poll, closing the
// connection on failure
func (c *hubConn) send(data []byte) {
	if err := c.write(data); err != nil {
		c.close()
	}
}

var errSlowConsumer = errors.New("long-poll client fell behind")

// write never closes the connection itself. A long-poll client that falls
// hubQueueSize records behind gets errSlowConsumer.
func (c *hubConn) write(data []byte) error {
	select {
	case <-c.closed:
		return nil
	default:
	}

	c.writeMu.Lock()
	if ws := c.ws; ws != nil {
		defer c.writeMu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		return ws.WriteMessage(websocket.TextMessage, data)
	}
	c.writeMu.Unlock()

	select {
	case c.out <- data:
		return nil
	default:
		c.hub.logger.Warn().Str("connection_id", c.id).Msg("Long-poll client fell behind, closing")
		return errSlowConsumer
	}
}

func (c *hubConn) keepAlive(interval time.Duration) {
	ping, _ := progress.EncodeRecord(progress.Message{Type: progress.MessagePing})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.send(ping)
		}
	}
}

func (c *hubConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.writeMu.Unlock()
		c.hub.remove(c)
		c.hub.logger.Debug().Str("connection_id", c.id).Msg("Hub connection closed")
	})
}
