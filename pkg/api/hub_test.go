package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func negotiateID(t *testing.T, ts *httptest.Server, token string) string {
	t.Helper()
	resp := call(t, ts, http.MethodPost, "/hubs/migration/negotiate", token, nil)
	require.Equal(t, http.StatusOK, resp.Status, string(resp.Raw))

	var neg negotiateResult
	require.NoError(t, json.Unmarshal(resp.Raw, &neg))
	require.Len(t, neg.AvailableTransports, 2)
	assert.Equal(t, neg.ConnectionID, neg.ConnectionToken)
	return neg.ConnectionToken
}

func dialHub(t *testing.T, ts *httptest.Server, token, id string) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/hubs/migration"
	u.RawQuery = url.Values{"id": {id}, "access_token": {token}}.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readRecords(t *testing.T, ws *websocket.Conn) []string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	recs, _ := progress.SplitRecords(frame)
	var out []string
	for _, r := range recs {
		out = append(out, string(r))
	}
	return out
}

func sendRecord(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	data, err := progress.EncodeRecord(v)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func TestHubRequiresAuthAndKnownConnection(t *testing.T) {
	_, ts := newTestServer(t)

	unauth := call(t, ts, http.MethodPost, "/hubs/migration/negotiate", "", nil)
	assert.Equal(t, http.StatusUnauthorized, unauth.Status)

	token := login(t, ts, adminUser, adminPassword)
	unknown := call(t, ts, http.MethodGet, "/hubs/migration?id=nope", token, nil)
	assert.Equal(t, http.StatusNotFound, unknown.Status)
}

func TestHubHandshakeAndGroups(t *testing.T) {
	srv, ts := newTestServer(t)
	token := login(t, ts, adminUser, adminPassword)
	ws := dialHub(t, ts, token, negotiateID(t, ts, token))

	sendRecord(t, ws, progress.HandshakeRequest{Protocol: "json", Version: 1})
	assert.Equal(t, []string{"{}"}, readRecords(t, ws))

	arg, _ := json.Marshal("group-1")
	sendRecord(t, ws, progress.Message{
		Type:         progress.MessageInvocation,
		Target:       progress.TargetJoinGroup,
		InvocationID: "1",
		Arguments:    []json.RawMessage{arg},
	})
	recs := readRecords(t, ws)
	require.Len(t, recs, 1)
	assert.JSONEq(t, `{"type":3,"invocationId":"1"}`, recs[0])

	srv.Hub().Broadcast(types.ProgressEvent{GroupID: "group-1", ProcessedCount: 5, TotalCount: 10})
	srv.Hub().Broadcast(types.ProgressEvent{GroupID: "other", ProcessedCount: 1, TotalCount: 10})

	recs = readRecords(t, ws)
	require.Len(t, recs, 1)
	var msg progress.Message
	require.NoError(t, json.Unmarshal([]byte(recs[0]), &msg))
	assert.Equal(t, progress.TargetProgressUpdate, msg.Target)
	var ev types.ProgressEvent
	require.NoError(t, json.Unmarshal(msg.Arguments[0], &ev))
	assert.Equal(t, "group-1", ev.GroupID)
	assert.Equal(t, 5, ev.ProcessedCount)
}

func TestHubRejectsUnknownMethodAndEmptyGroup(t *testing.T) {
	_, ts := newTestServer(t)
	token := login(t, ts, adminUser, adminPassword)
	ws := dialHub(t, ts, token, negotiateID(t, ts, token))

	sendRecord(t, ws, progress.HandshakeRequest{Protocol: "json", Version: 1})
	readRecords(t, ws)

	sendRecord(t, ws, progress.Message{Type: progress.MessageInvocation, Target: "DropTables", InvocationID: "7"})
	recs := readRecords(t, ws)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "unknown hub method DropTables")

	sendRecord(t, ws, progress.Message{Type: progress.MessageInvocation, Target: progress.TargetJoinGroup, InvocationID: "8"})
	recs = readRecords(t, ws)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "group id is required")
}

func TestHubRejectsUnsupportedProtocol(t *testing.T) {
	_, ts := newTestServer(t)
	token := login(t, ts, adminUser, adminPassword)
	ws := dialHub(t, ts, token, negotiateID(t, ts, token))

	sendRecord(t, ws, progress.HandshakeRequest{Protocol: "messagepack", Version: 1})
	recs := readRecords(t, ws)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "unsupported protocol")

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestHubLongPollingFrames(t *testing.T) {
	srv, ts := newTestServer(t)
	token := login(t, ts, adminUser, adminPassword)
	id := negotiateID(t, ts, token)
	path := "/hubs/migration?id=" + id

	post := func(v any) {
		data, err := progress.EncodeRecord(v)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(string(data)))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	post(progress.HandshakeRequest{Protocol: "json", Version: 1})
	arg, _ := json.Marshal("g")
	post(progress.Message{Type: progress.MessageInvocation, Target: progress.TargetJoinGroup, InvocationID: "1", Arguments: []json.RawMessage{arg}})

	// Handshake ack and completion arrive in one poll
	polled := call(t, ts, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, polled.Status)
	recs, _ := progress.SplitRecords(polled.Raw)
	require.Len(t, recs, 2)
	assert.Equal(t, "{}", string(recs[0]))

	// Empty poll on timeout
	empty := call(t, ts, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusOK, empty.Status)
	assert.Empty(t, empty.Raw)

	srv.Hub().Broadcast(types.ProgressEvent{GroupID: "g", IsCompleted: true, IsSuccessful: true})
	event := call(t, ts, http.MethodGet, path, token, nil)
	assert.Contains(t, string(event.Raw), progress.TargetProgressUpdate)

	closed := call(t, ts, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusAccepted, closed.Status)
	assert.Equal(t, 0, srv.Hub().Connections())

	gone := call(t, ts, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusNotFound, gone.Status)
}

func TestHubSweepClosesIdleLongPollers(t *testing.T) {
	srv, ts := newTestServer(t)
	token := login(t, ts, adminUser, adminPassword)
	negotiateID(t, ts, token)
	require.Equal(t, 1, srv.Hub().Connections())

	assert.Equal(t, 0, srv.Hub().sweep(time.Now()))
	assert.Equal(t, 1, srv.Hub().sweep(time.Now().Add(time.Hour)))
	assert.Equal(t, 0, srv.Hub().Connections())
}

func TestHubConnectionsOwnedByUser(t *testing.T) {
	_, ts := newTestServer(t)
	admin := login(t, ts, adminUser, adminPassword)
	id := negotiateID(t, ts, admin)

	created := call(t, ts, http.MethodPost, "/api/users", admin, map[string]any{
		"username": "mallory",
		"password": "mallory-password",
	})
	require.Equal(t, http.StatusCreated, created.Status)
	other := login(t, ts, "mallory", "mallory-password")

	resp := call(t, ts, http.MethodGet, "/hubs/migration?id="+id, other, nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

