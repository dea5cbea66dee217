package framework

import (
	"fmt"
	"net/http/httptest"

	"github.com/cuemby/conduit/pkg/api"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Env is a running dev server plus the settings clients need to reach it
type Env struct {
	Config *EnvConfig
	Server *api.Server
	HTTP   *httptest.Server

	t TestingT
}

// NewEnv starts a dev server on an in-memory SQLite database. It is shut
// down by t.Cleanup.
func NewEnv(t TestingT, cfg *EnvConfig) *Env {
	t.Helper()
	if cfg == nil {
		cfg = DefaultEnvConfig()
	}
	if cfg.StateDir == "" {
		cfg.StateDir = t.TempDir()
	}
	gin.SetMode(gin.TestMode)

	srv, err := api.NewServer(api.Config{
		Driver:       api.DriverSQLite,
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()),
		Username:     cfg.Username,
		Password:     cfg.Password,
		StepInterval: cfg.StepInterval,
		PollTimeout:  cfg.PollTimeout,
		Version:      "e2e",
	})
	if err != nil {
		t.Fatalf("Failed to create dev server: %v", err)
	}

	env := &Env{
		Config: cfg,
		Server: srv,
		HTTP:   httptest.NewServer(srv.Handler()),
		t:      t,
	}
	t.Cleanup(env.Stop)
	t.Logf("Dev server listening on %s", env.URL())
	return env
}

// URL returns the API base URL
func (e *Env) URL() string {
	return e.HTTP.URL
}

// HubURL returns the migration hub endpoint
func (e *Env) HubURL() string {
	return e.HTTP.URL + "/hubs/migration"
}

// DropHubConnections closes every hub connection server-side, as a
// restarting server would
func (e *Env) DropHubConnections() {
	e.Server.Hub().Close()
}

// Stop shuts the server down. It is safe to call more than once.
func (e *Env) Stop() {
	e.HTTP.Close()
	_ = e.Server.Close()
}
