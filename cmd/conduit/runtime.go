package main

import (
	"errors"
	"fmt"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/client"
	"github.com/cuemby/conduit/pkg/config"
	"github.com/cuemby/conduit/pkg/console"
	"github.com/cuemby/conduit/pkg/events"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/storage"
	"github.com/cuemby/conduit/pkg/tokenstore"
)

// runtime wires the client layer for one command invocation
type runtime struct {
	cfg     *config.Config
	bus     *events.Broker
	store   *storage.BoltStore
	tokens  tokenstore.Store
	api     *client.Client
	console *console.Client
	expired events.Subscriber
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg, bus: events.NewBroker()}
	rt.bus.Start()

	store, err := storage.NewBoltStore(cfg.StateDir)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store

	tokens, err := tokenstore.Open(cfg.Token, tokenstore.Deps{Storage: store, BaseURL: cfg.API.BaseURL})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	rt.tokens = tokens

	cc, err := cfg.ClientConfig()
	if err != nil {
		rt.Close()
		return nil, err
	}
	api, err := client.New(cc, tokens, client.WithEvents(rt.bus))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.api = api
	rt.console = console.New(api)

	rt.expired = rt.bus.Subscribe(events.EventUnauthorized)
	go func(sub events.Subscriber) {
		for range sub {
			logger := log.WithComponent("cli")
			logger.Warn().Msg("Session expired, run `conduit login` again")
		}
	}(rt.expired)
	return rt, nil
}

// hub builds a progress client sharing the API's HTTP settings
func (rt *runtime) hub() (*progress.Client, error) {
	pc := rt.cfg.ProgressConfig()
	if cc, err := rt.cfg.ClientConfig(); err == nil {
		pc.TLS = cc.TLS
	}
	return progress.NewClient(pc, rt.tokens,
		progress.WithHTTPClient(rt.api.HTTPClient()),
		progress.WithEvents(rt.bus),
	)
}

// requireLogin fails fast before any request is sent
func (rt *runtime) requireLogin() error {
	if !rt.api.IsAuthenticated() {
		return apierror.New(apierror.CodeUnauthorized, "not logged in, run `conduit login` first")
	}
	return nil
}

func (rt *runtime) Close() {
	if rt.expired != nil {
		rt.bus.Unsubscribe(rt.expired)
	}
	if rt.api != nil {
		rt.api.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
	rt.bus.Stop()
}

// exitCode maps failures to process exit codes
func exitCode(err error) int {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		return 1
	}
	switch apiErr.Code {
	case apierror.CodeValidationFailed:
		return 2
	case apierror.CodeUnauthorized, apierror.CodeOperationNotAllowed:
		return 3
	case apierror.CodeNetworkError, apierror.CodeTimeout, apierror.CodeExternalServiceError:
		return 4
	}
	return 1
}
