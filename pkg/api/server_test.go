package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/conduit/pkg/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Disable()
	gin.SetMode(gin.TestMode)
}

const (
	adminUser     = "admin"
	adminPassword = "admin-password"
)

func newTestServer(t *testing.T, mutate ...func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := Config{
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()),
		Username:     adminUser,
		Password:     adminPassword,
		StepInterval: 20 * time.Millisecond,
		PollTimeout:  200 * time.Millisecond,
		PingInterval: time.Second,
		Version:      "test",
	}
	for _, m := range mutate {
		m(&cfg)
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return srv, ts
}

type response struct {
	Status int
	Header http.Header
	Body   map[string]any
	Raw    []byte
}

func (r response) data() map[string]any {
	d, _ := r.Body["data"].(map[string]any)
	return d
}

func (r response) list() []any {
	l, _ := r.Body["data"].([]any)
	return l
}

func (r response) errorCode() string {
	e, _ := r.Body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{Status: resp.StatusCode, Header: resp.Header, Raw: raw}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.Body))
	}
	return out
}

func login(t *testing.T, ts *httptest.Server, username, password string) string {
	t.Helper()
	resp := call(t, ts, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.Status, string(resp.Raw))
	token, _ := resp.data()["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestLoginAndSession(t *testing.T) {
	_, ts := newTestServer(t)
	token := login(t, ts, adminUser, adminPassword)

	me := call(t, ts, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, me.Status)
	assert.Equal(t, adminUser, me.data()["username"])
	assert.NotContains(t, string(me.Raw), "password")

	valid := call(t, ts, http.MethodGet, "/api/auth/validate", token, nil)
	require.Equal(t, http.StatusOK, valid.Status)
	assert.Equal(t, true, valid.data()["valid"])

	out := call(t, ts, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, out.Status)

	after := call(t, ts, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, after.Status)
	assert.Equal(t, "UNAUTHORIZED", after.errorCode())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, ts := newTestServer(t)

	resp := call(t, ts, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": adminUser,
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, false, resp.Body["success"])
	assert.Equal(t, "UNAUTHORIZED", resp.errorCode())
}

func TestAuthRequired(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/api/applications", "/api/migrations", "/api/auth/me"} {
		resp := call(t, ts, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Status, path)
	}

	resp := call(t, ts, http.MethodGet, "/api/applications", "not-a-session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
}

func TestRequestIDEchoed(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-123")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "trace-123", resp.Header.Get("X-Request-ID"))
	var body struct {
		Error struct {
			TraceID string `json:"traceId"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "trace-123", body.Error.TraceID)
}

func TestApplicationCRUD(t *testing.T) {
	_, ts := newTestServer(t)
	token := login(t, ts, adminUser, adminPassword)

	created := call(t, ts, http.MethodPost, "/api/applications", token, map[string]any{
		"name":        "billing",
		"description": "Billing service",
	})
	require.Equal(t, http.StatusCreated, created.Status, string(created.Raw))
	id, _ := created.data()["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, created.data()["enabled"])

	dup := call(t, ts, http.MethodPost, "/api/applications", token, map[string]any{"name": "billing"})
	assert.Equal(t, http.StatusConflict, dup.Status)
	assert.Equal(t, "DUPLICATE_RESOURCE", dup.errorCode())

	updated := call(t, ts, http.MethodPut, "/api/applications/"+id, token, map[string]any{
		"name":    "billing-v2",
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, updated.Status)
	assert.Equal(t, "billing-v2", updated.data()["name"])
	assert.Equal(t, false, updated.data()["enabled"])

	call(t, ts, http.MethodPost, "/api/applications", token, map[string]any{"name": "inventory"})
	listed := call(t, ts, http.MethodGet, "/api/applications?search=BILL", token, nil)
	require.Equal(t, http.StatusOK, listed.Status)
	assert.Len(t, listed.list(), 1)

	paged := call(t, ts, http.MethodGet, "/api/applications?page=2&pageSize=1", token, nil)
	assert.Len(t, paged.list(), 1)

	deleted := call(t, ts, http.MethodDelete, "/api/applications/"+id, token, nil)
	assert.Equal(t, http.StatusNoContent, deleted.Status)

	missing := call(t, ts, http.MethodGet, "/api/applications/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, missing.Status)
	assert.Equal(t, "RESOURCE_NOT_FOUND", missing.errorCode())

	again := call(t, ts, http.MethodDelete, "/api/applications/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, again.Status)
}

func TestValidationErrorsUseProblemDetails(t *testing.T) {
	_, ts := newTestServer(t)
	token := login(t, ts, adminUser, adminPassword)

	resp := call(t, ts, http.MethodPost, "/api/connections", token, map[string]any{
		"provider": "oracle",
	})
	require.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "One or more validation errors occurred.", resp.Body["title"])

	fields, ok := resp.Body["errors"].(map[string]any)
	require.True(t, ok, string(resp.Raw))
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "provider")
	assert.Contains(t, fields, "database")

	malformed, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	malformed.Body.Close()
	assert.Equal(t, http.StatusBadRequest, malformed.StatusCode)
}

func TestConnectionSecretsNotReturned(t *testing.T) {
	_, ts := newTestServer(t)
	token := login(t, ts, adminUser, adminPassword)

	created := call(t, ts, http.MethodPost, "/api/connections", token, map[string]any{
		"name":     "orders-db",
		"provider": "postgres",
		"host":     "db.internal",
		"port":     5432,
		"database": "orders",
		"username": "app",
		"password": "s3cret",
	})
	require.Equal(t, http.StatusCreated, created.Status, string(created.Raw))
	assert.NotContains(t, string(created.Raw), "s3cret")

	id := created.data()["id"].(string)
	got := call(t, ts, http.MethodGet, "/api/connections/"+id, token, nil)
	assert.NotContains(t, string(got.Raw), "s3cret")
}

func TestAdminOnlyRoutes(t *testing.T) {
	_, ts := newTestServer(t)
	admin := login(t, ts, adminUser, adminPassword)

	created := call(t, ts, http.MethodPost, "/api/users", admin, map[string]any{
		"username": "viewer1",
		"email":    "viewer1@example.com",
		"roles":    []string{"viewer"},
		"password": "viewer-password",
	})
	require.Equal(t, http.StatusCreated, created.Status, string(created.Raw))
	assert.NotContains(t, string(created.Raw), "viewer-password")

	viewer := login(t, ts, "viewer1", "viewer-password")
	forbidden := call(t, ts, http.MethodPost, "/api/roles", viewer, map[string]any{"name": "ops"})
	assert.Equal(t, http.StatusForbidden, forbidden.Status)
	assert.Equal(t, "OPERATION_NOT_ALLOWED", forbidden.errorCode())

	roles := call(t, ts, http.MethodGet, "/api/roles", viewer, nil)
	require.Equal(t, http.StatusOK, roles.Status)
	assert.Len(t, roles.list(), 3)
}

func TestCreateUserValidation(t *testing.T) {
	_, ts := newTestServer(t)
	admin := login(t, ts, adminUser, adminPassword)

	noPassword := call(t, ts, http.MethodPost, "/api/users", admin, map[string]any{"username": "ana"})
	assert.Equal(t, http.StatusBadRequest, noPassword.Status)
	assert.Equal(t, "VALIDATION_FAILED", noPassword.errorCode())

	badRole := call(t, ts, http.MethodPost, "/api/users", admin, map[string]any{
		"username": "ana",
		"password": "long-enough",
		"roles":    []string{"root"},
	})
	assert.Equal(t, http.StatusBadRequest, badRole.Status)
	assert.Contains(t, string(badRole.Raw), "Unknown role root.")
}

func TestCannotDeleteSelf(t *testing.T) {
	_, ts := newTestServer(t)
	admin := login(t, ts, adminUser, adminPassword)

	me := call(t, ts, http.MethodGet, "/api/auth/me", admin, nil)
	id := me.data()["id"].(string)

	resp := call(t, ts, http.MethodDelete, "/api/users/"+id, admin, nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	health := call(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, health.Status)
	assert.Equal(t, "healthy", health.Body["status"])
	assert.Equal(t, "test", health.Body["version"])

	ready := call(t, ts, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, ready.Status)

	live := call(t, ts, http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, live.Status)

	// Generate a counted request before scraping
	call(t, ts, http.MethodGet, "/api/auth/me", "", nil)
	metricsResp := call(t, ts, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, metricsResp.Status)
	assert.Contains(t, string(metricsResp.Raw), "conduit_devserver_requests_total")

	doc := call(t, ts, http.MethodGet, "/swagger/doc.json", "", nil)
	assert.Equal(t, http.StatusOK, doc.Status)
	assert.Contains(t, string(doc.Raw), "conduit dev server")
}

func TestRateLimitAnswers503(t *testing.T) {
	_, ts := newTestServer(t, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})

	first := call(t, ts, http.MethodGet, "/api/applications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, first.Status)

	second := call(t, ts, http.MethodGet, "/api/applications", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, second.Status)
	assert.Equal(t, "1", second.Header.Get("Retry-After"))
	assert.Equal(t, "EXTERNAL_SERVICE_ERROR", second.errorCode())

	// Health probes are not limited
	health := call(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, health.Status)
}

func TestInvalidJanitorSchedule(t *testing.T) {
	_, err := NewServer(Config{
		DSN:             fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()),
		JanitorSchedule: "every now and then",
	})
	assert.Error(t, err)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewServer(Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = NewServer(Config{Driver: DriverPostgres})
	assert.ErrorContains(t, err, "requires a DSN")
}

func TestRunShutsDownOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.Addr = "127.0.0.1:0" })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
