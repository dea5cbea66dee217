package progress

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/conduit/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const hubPath = "/hubs/migration"

// fakeHub is a minimal migration hub speaking the JSON hub protocol over
// WebSockets and long polling.
type fakeHub struct {
	t     *testing.T
	srv   *httptest.Server
	token string

	upgrader websocket.Upgrader

	mu          sync.Mutex
	offer       []TransportType
	rejectNeg   bool
	conns       map[string]*hubConn
	latest      *hubConn
	negotiated  int
	joined      chan string
	invocations []string
}

type hubConn struct {
	id string

	// websocket
	ws      *websocket.Conn
	writeMu sync.Mutex

	// long polling
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *hubConn) send(data []byte) {
	if c.ws != nil {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		_ = c.ws.WriteMessage(websocket.TextMessage, data)
		return
	}
	select {
	case c.out <- data:
	case <-c.closed:
	}
}

func (c *hubConn) drop() {
	if c.ws != nil {
		_ = c.ws.Close()
		return
	}
	c.once.Do(func() { close(c.closed) })
}

func newFakeHub(t *testing.T, token string, offer ...TransportType) *fakeHub {
	t.Helper()
	if len(offer) == 0 {
		offer = []TransportType{TransportWebSockets}
	}
	h := &fakeHub{
		t:      t,
		token:  token,
		offer:  offer,
		conns:  make(map[string]*hubConn),
		joined: make(chan string, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(hubPath+"/negotiate", h.handleNegotiate)
	mux.HandleFunc(hubPath, h.handleHub)
	h.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		h.dropAll()
		h.srv.Close()
	})
	return h
}

func (h *fakeHub) url() string {
	return h.srv.URL + hubPath
}

func (h *fakeHub) setRejectNegotiate(reject bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejectNeg = reject
}

func (h *fakeHub) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("access_token") != h.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	reject := h.rejectNeg
	h.negotiated++
	offer := h.offer
	h.mu.Unlock()

	if reject {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var transports []availableTransport
	for _, t := range offer {
		transports = append(transports, availableTransport{Transport: t, TransferFormats: []string{"Text"}})
	}
	_ = json.NewEncoder(w).Encode(negotiateResponse{
		ConnectionToken:     uuid.New().String(),
		NegotiateVersion:    1,
		AvailableTransports: transports,
	})
}

func (h *fakeHub) handleHub(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("access_token") != h.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id := r.URL.Query().Get("id")

	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.poll(w, r, id)
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		conn := h.longPollConn(id)
		h.handleFrame(conn, body)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if conn := h.lookup(id); conn != nil {
			conn.drop()
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *fakeHub) serveWebSocket(w http.ResponseWriter, r *http.Request, id string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &hubConn{id: id, ws: ws}
	h.register(conn)

	var rest []byte
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var recs [][]byte
		recs, rest = SplitRecords(append(rest, frame...))
		for _, rec := range recs {
			h.handleRecord(conn, rec)
		}
	}
}

func (h *fakeHub) longPollConn(id string) *hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.conns[id]; ok {
		return conn
	}
	conn := &hubConn{id: id, out: make(chan []byte, 64), closed: make(chan struct{})}
	h.conns[id] = conn
	h.latest = conn
	return conn
}

func (h *fakeHub) poll(w http.ResponseWriter, r *http.Request, id string) {
	conn := h.longPollConn(id)
	select {
	case data := <-conn.out:
		_, _ = w.Write(data)
	case <-conn.closed:
		w.WriteHeader(http.StatusNoContent)
	case <-time.After(200 * time.Millisecond):
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
	}
}

func (h *fakeHub) register(conn *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.id] = conn
	h.latest = conn
}

func (h *fakeHub) lookup(id string) *hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id]
}

func (h *fakeHub) handleFrame(conn *hubConn, frame []byte) {
	recs, _ := SplitRecords(frame)
	for _, rec := range recs {
		h.handleRecord(conn, rec)
	}
}

func (h *fakeHub) handleRecord(conn *hubConn, rec []byte) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(rec, &probe); err != nil {
		return
	}
	if _, ok := probe["protocol"]; ok {
		conn.send([]byte("{}\x1e"))
		return
	}

	var msg Message
	if err := json.Unmarshal(rec, &msg); err != nil || msg.Type != MessageInvocation {
		return
	}

	var group string
	if len(msg.Arguments) > 0 {
		_ = json.Unmarshal(msg.Arguments[0], &group)
	}

	h.mu.Lock()
	h.invocations = append(h.invocations, msg.Target+":"+group)
	h.mu.Unlock()

	completion, _ := EncodeRecord(Message{Type: MessageCompletion, InvocationID: msg.InvocationID})
	conn.send(completion)

	if msg.Target == TargetJoinGroup {
		h.joined <- group
	}
}

// push sends a ProgressUpdate on the most recent connection
func (h *fakeHub) push(ev types.ProgressEvent) {
	h.mu.Lock()
	conn := h.latest
	h.mu.Unlock()
	if conn == nil {
		h.t.Fatal("no hub connection to push to")
	}

	arg, _ := json.Marshal(ev)
	data, _ := EncodeRecord(Message{
		Type:      MessageInvocation,
		Target:    TargetProgressUpdate,
		Arguments: []json.RawMessage{arg},
	})
	conn.send(data)
}

func (h *fakeHub) dropAll() {
	h.mu.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*hubConn)
	h.latest = nil
	h.mu.Unlock()

	for _, c := range conns {
		c.drop()
	}
}

func (h *fakeHub) waitJoin(t *testing.T, group string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case g := <-h.joined:
			if g == group {
				return
			}
		case <-deadline:
			t.Fatalf("group %s was never joined", group)
		}
	}
}

func (h *fakeHub) negotiations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.negotiated
}

func (h *fakeHub) invoked(target string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, inv := range h.invocations {
		if strings.HasPrefix(inv, target+":") {
			out = append(out, strings.TrimPrefix(inv, target+":"))
		}
	}
	return out
}
