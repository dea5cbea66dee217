package console

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/client"
	"github.com/cuemby/conduit/pkg/events"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/tokenstore"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Disable()
}

type call struct {
	method string
	path   string
	body   any
}

// fakeAPI records calls and answers with canned JSON
type fakeAPI struct {
	calls    []call
	response string
	err      error
	token    string
}

func (f *fakeAPI) do(method, path string, body, out any) error {
	f.calls = append(f.calls, call{method, path, body})
	if f.err != nil {
		return f.err
	}
	if out != nil && f.response != "" {
		return json.Unmarshal([]byte(f.response), out)
	}
	return nil
}

func (f *fakeAPI) Get(_ context.Context, path string, out any) error {
	return f.do(http.MethodGet, path, nil, out)
}

func (f *fakeAPI) Post(_ context.Context, path string, body, out any) error {
	return f.do(http.MethodPost, path, body, out)
}

func (f *fakeAPI) Put(_ context.Context, path string, body, out any) error {
	return f.do(http.MethodPut, path, body, out)
}

func (f *fakeAPI) Patch(_ context.Context, path string, body, out any) error {
	return f.do(http.MethodPatch, path, body, out)
}

func (f *fakeAPI) Delete(_ context.Context, path string, out any) error {
	return f.do(http.MethodDelete, path, nil, out)
}

func (f *fakeAPI) SetToken(token string) error { f.token = token; return nil }
func (f *fakeAPI) GetToken() (string, error)   { return f.token, nil }
func (f *fakeAPI) RemoveToken() error          { f.token = ""; return nil }
func (f *fakeAPI) IsAuthenticated() bool       { return f.token != "" }

var _ client.API = (*fakeAPI)(nil)

func TestResourcePaths(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		call   func(c *Client) error
		method string
		path   string
	}{
		{"list applications", func(c *Client) error { _, err := c.ListApplications(ctx, ListOptions{}); return err },
			http.MethodGet, "/api/applications"},
		{"list with options", func(c *Client) error {
			_, err := c.ListUsers(ctx, ListOptions{Page: 2, PageSize: 50, Search: " ana "})
			return err
		}, http.MethodGet, "/api/users?page=2&pageSize=50&search=ana"},
		{"list migrations by status", func(c *Client) error {
			_, err := c.ListMigrations(ctx, ListOptions{Status: types.JobStatusRunning})
			return err
		}, http.MethodGet, "/api/migrations?status=running"},
		{"get escapes id", func(c *Client) error { _, err := c.GetConnection(ctx, "a/b"); return err },
			http.MethodGet, "/api/connections/a%2Fb"},
		{"update application", func(c *Client) error {
			_, err := c.UpdateApplication(ctx, &types.Application{ID: "a1"})
			return err
		}, http.MethodPut, "/api/applications/a1"},
		{"delete role", func(c *Client) error { return c.DeleteRole(ctx, "r1") },
			http.MethodDelete, "/api/roles/r1"},
		{"create user", func(c *Client) error { _, err := c.CreateUser(ctx, &types.User{Username: "ana"}); return err },
			http.MethodPost, "/api/users"},
		{"test connection", func(c *Client) error { _, err := c.TestConnection(ctx, "c1"); return err },
			http.MethodPost, "/api/connections/c1/test"},
		{"cancel migration", func(c *Client) error { _, err := c.CancelMigration(ctx, "m1"); return err },
			http.MethodPost, "/api/migrations/m1/cancel"},
		{"validate", func(c *Client) error { _, err := c.Validate(ctx); return err },
			http.MethodGet, "/api/auth/validate"},
		{"me", func(c *Client) error { _, err := c.Me(ctx); return err },
			http.MethodGet, "/api/auth/me"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{response: "{}"}
			if strings.HasPrefix(tt.name, "list") {
				api.response = "[]"
			}
			require.NoError(t, tt.call(New(api)))
			require.Len(t, api.calls, 1)
			assert.Equal(t, tt.method, api.calls[0].method)
			assert.Equal(t, tt.path, api.calls[0].path)
		})
	}
}

func TestLoginStoresToken(t *testing.T) {
	api := &fakeAPI{response: `{"token":"t-1","user":{"id":"u1","username":"ana"}}`}
	c := New(api)

	resp, err := c.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	assert.Equal(t, "ana", resp.User.Username)
	assert.Equal(t, "t-1", api.token)
	assert.Equal(t, types.LoginRequest{Username: "ana", Password: "secret"}, api.calls[0].body)
}

func TestLoginRequiresCredentials(t *testing.T) {
	api := &fakeAPI{}
	_, err := New(api).Login(context.Background(), "ana", "")
	assert.True(t, apierror.IsCode(err, apierror.CodeValidationFailed))
	assert.Empty(t, api.calls)
}

func TestLogoutClearsTokenEvenWhenExpired(t *testing.T) {
	api := &fakeAPI{token: "t", err: apierror.New(apierror.CodeUnauthorized, "expired")}
	require.NoError(t, New(api).Logout(context.Background()))
	assert.Empty(t, api.token)

	api = &fakeAPI{token: "t", err: apierror.New(apierror.CodeNetworkError, "down")}
	err := New(api).Logout(context.Background())
	assert.True(t, apierror.IsCode(err, apierror.CodeNetworkError))
	assert.Empty(t, api.token)
}

func TestStartMigrationValidates(t *testing.T) {
	api := &fakeAPI{}
	_, err := New(api).StartMigration(context.Background(), types.StartMigrationRequest{SourceConnectionID: "c1"})

	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.CodeValidationFailed, apiErr.Code)
	assert.Contains(t, apiErr.Details, "targetConnectionId")
	assert.Empty(t, api.calls)
}

func TestErrorsPassThrough(t *testing.T) {
	api := &fakeAPI{err: apierror.New(apierror.CodeResourceNotFound, "no such application")}
	app, err := New(api).GetApplication(context.Background(), "missing")
	assert.Nil(t, app)
	assert.True(t, apierror.IsCode(err, apierror.CodeResourceNotFound))
}

// Through the real facade against an HTTP server
func TestLoginThenMigrationOverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req types.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"success":false,"error":{"code":"UNAUTHORIZED","message":"bad credentials"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"data":{"token":"tok-42"}}`)
	})
	mux.HandleFunc("/api/migrations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-42", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"success":true,"data":{"id":"m1","groupId":"g1","status":"pending"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api, err := client.New(client.Config{BaseURL: srv.URL}, tokenstore.NewMemoryStore())
	require.NoError(t, err)
	defer api.Close()
	c := New(api)
	ctx := context.Background()
	sessions := api.Events().Subscribe(events.EventLoggedIn)
	defer api.Events().Unsubscribe(sessions)

	_, err = c.Login(ctx, "ana", "wrong")
	assert.True(t, apierror.IsCode(err, apierror.CodeUnauthorized))
	assert.False(t, api.IsAuthenticated())

	_, err = c.Login(ctx, "ana", "secret")
	require.NoError(t, err)
	assert.True(t, api.IsAuthenticated())

	select {
	case ev := <-sessions:
		assert.Equal(t, "ana", ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no login event published")
	}

	job, err := c.StartMigration(ctx, types.StartMigrationRequest{SourceConnectionID: "c1", TargetConnectionID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, "g1", job.GroupID)
	assert.Equal(t, types.JobStatusPending, job.Status)
}
