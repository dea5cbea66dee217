package framework

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cuemby/conduit/pkg/client"
	"github.com/cuemby/conduit/pkg/console"
	"github.com/cuemby/conduit/pkg/events"
	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/retry"
	"github.com/cuemby/conduit/pkg/storage"
	"github.com/cuemby/conduit/pkg/tokenstore"
)

// Client wraps the full client stack the CLI uses: local state, the
// sealed token store, the API client, the console facade and the hub
type Client struct {
	Store   *storage.BoltStore
	Tokens  tokenstore.Store
	API     *client.Client
	Console *console.Client
	Hub     *progress.Client
	Events  *events.Broker
}

// NewClient opens a client against env. Each profile has its own state
// directory, so a profile reopened later finds its stored token. Only one
// client per profile may be open at a time.
func (e *Env) NewClient(profile string) (*Client, error) {
	dir := filepath.Join(e.Config.StateDir, profile)
	store, err := storage.NewBoltStore(dir)
	if err != nil {
		return nil, err
	}
	tokens, err := tokenstore.Open(tokenstore.Config{
		Backend: tokenstore.BackendBolt,
		Profile: profile,
		KeyFile: filepath.Join(dir, "token.key"),
	}, tokenstore.Deps{Storage: store})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := events.NewBroker()
	bus.Start()

	rc := retry.DefaultConfig()
	rc.InitialDelay = 10 * time.Millisecond
	rc.MaxDelay = 50 * time.Millisecond

	api, err := client.New(client.Config{
		BaseURL: e.URL(),
		Timeout: 10 * time.Second,
		Retry:   rc,
	}, tokens, client.WithEvents(bus))
	if err != nil {
		bus.Stop()
		_ = store.Close()
		return nil, err
	}

	hub, err := progress.NewClient(progress.Config{
		HubURL:          e.HubURL(),
		Transports:      e.Config.Transports,
		ReconnectDelays: e.Config.ReconnectDelays,
	}, tokens, progress.WithHTTPClient(api.HTTPClient()), progress.WithEvents(bus))
	if err != nil {
		api.Close()
		bus.Stop()
		_ = store.Close()
		return nil, err
	}

	return &Client{
		Store:   store,
		Tokens:  tokens,
		API:     api,
		Console: console.New(api),
		Hub:     hub,
		Events:  bus,
	}, nil
}

// MustClient is NewClient for tests; the client is closed by t.Cleanup
func (e *Env) MustClient(profile string) *Client {
	e.t.Helper()
	c, err := e.NewClient(profile)
	if err != nil {
		e.t.Fatalf("Failed to create client: %v", err)
	}
	e.t.Cleanup(c.Close)
	return c
}

// Login signs in with the seeded admin account
func (c *Client) Login(ctx context.Context, env *Env) error {
	_, err := c.Console.Login(ctx, env.Config.Username, env.Config.Password)
	return err
}

// Close disconnects the hub and releases local state. Safe to call twice.
func (c *Client) Close() {
	c.Hub.Disconnect()
	c.API.Close()
	c.Events.Stop()
	_ = c.Store.Close()
}
