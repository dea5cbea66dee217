package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/events"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
	"github.com/cuemby/conduit/pkg/retry"
	"github.com/cuemby/conduit/pkg/tokenstore"
	"github.com/google/uuid"
)

const (
	defaultUserAgent  = "conduit/0.1"
	defaultTimeout    = 30 * time.Second
	defaultLogoutPath = "/api/auth/logout"

	// Responses larger than this are truncated before parsing
	maxResponseBytes = 16 << 20

	// RequestIDHeader carries the per-request trace identifier
	RequestIDHeader = "X-Request-ID"
)

// Config holds the facade settings
type Config struct {
	// BaseURL is the console API root, e.g. https://console.example.com
	BaseURL string

	// Timeout bounds one logical request, retries included
	Timeout time.Duration

	UserAgent string

	// LogoutPath is exempt from the unauthorized session reset
	LogoutPath string

	Retry retry.Config

	// TLS overrides the transport's TLS settings when set
	TLS *tls.Config
}

// API is the contract consumers program against
type API interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Patch(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
	SetToken(token string) error
	GetToken() (string, error)
	RemoveToken() error
	IsAuthenticated() bool
}

// Ensure Client implements API at compile time.
var _ API = (*Client)(nil)

// Client is the single entry point for console API calls. It injects the
// bearer token and a request ID, retries transient failures, and turns
// every failure into an *apierror.Error.
type Client struct {
	baseURL    *url.URL
	http       *http.Client
	store      tokenstore.Store
	bus        *events.Broker
	ownsBus    bool
	userAgent  string
	logoutPath string
	useBearer  bool
}

// Option customizes a Client
type Option func(*options)

type options struct {
	bus       *events.Broker
	base      http.RoundTripper
	retryOpts []retry.Option
}

// WithEvents publishes session events on an existing broker instead of a
// private one.
func WithEvents(bus *events.Broker) Option {
	return func(o *options) { o.bus = bus }
}

// WithTransport replaces the underlying round tripper (retries still wrap it)
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// WithRetryOptions passes options to the retry transport
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOpts = append(o.retryOpts, opts...) }
}

// New creates a client facade
func New(cfg Config, store tokenstore.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("token store cannot be nil")
	}

	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.Retry.InitialDelay == 0 && cfg.Retry.MaxRetries == 0 && cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.LogoutPath == "" {
		cfg.LogoutPath = defaultLogoutPath
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TLS != nil {
			t.TLSClientConfig = cfg.TLS
		}
		o.base = t
	}

	c := &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: retry.NewTransport(o.base, cfg.Retry, o.retryOpts...),
		},
		store:      store,
		bus:        o.bus,
		userAgent:  cfg.UserAgent,
		logoutPath: "/" + strings.Trim(cfg.LogoutPath, "/"),
		useBearer:  true,
	}

	if jp, ok := store.(tokenstore.JarProvider); ok {
		c.http.Jar = jp.Jar()
		c.useBearer = false
	}

	if c.bus == nil {
		c.bus = events.NewBroker()
		c.bus.Start()
		c.ownsBus = true
	}

	return c, nil
}

// Close releases the private event broker, if any
func (c *Client) Close() {
	if c.ownsBus {
		c.bus.Stop()
	}
}

// BaseURL returns the API root
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Events returns the broker carrying session events
func (c *Client) Events() *events.Broker {
	return c.bus
}

// HTTPClient exposes the configured client (retry transport, TLS, jar)
// for components that speak other protocols to the same server.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) SetToken(token string) error {
	return c.store.Set(token)
}

func (c *Client) GetToken() (string, error) {
	return c.store.Get()
}

func (c *Client) RemoveToken() error {
	return c.store.Remove()
}

func (c *Client) IsAuthenticated() bool {
	return c.store.IsAuthenticated()
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends one logical request. body is JSON-encoded when non-nil; a
// successful response (envelope data unwrapped) is decoded into out when
// non-nil. The returned error, if any, is always an *apierror.Error.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	requestID := uuid.New().String()
	logger := log.WithComponent("client").With().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Logger()
	timer := metrics.NewTimer()

	status, apiErr := c.send(ctx, method, path, requestID, body, out)
	timer.ObserveDurationVec(metrics.ClientRequestDuration, method)

	if apiErr == nil {
		metrics.ClientRequestsTotal.WithLabelValues(method, "OK").Inc()
		logger.Debug().Int("status", status).Dur("duration", timer.Duration()).Msg("Request completed")
		return nil
	}

	if apiErr.TraceID == "" {
		apiErr.TraceID = requestID
	}
	metrics.ClientRequestsTotal.WithLabelValues(method, string(apiErr.Code)).Inc()
	logger.Debug().
		Int("status", status).
		Str("code", string(apiErr.Code)).
		Dur("duration", timer.Duration()).
		Msg(apiErr.Message)

	if apiErr.Code == apierror.CodeUnauthorized && !c.isLogout(path) {
		c.endSession(apiErr)
	}
	return apiErr
}

func (c *Client) send(ctx context.Context, method, path, requestID string, body, out any) (int, *apierror.Error) {
	reqURL, err := c.resolve(path)
	if err != nil {
		return 0, apierror.Newf(apierror.CodeInternalError, "invalid request path %q", path)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, apierror.Newf(apierror.CodeInternalError, "failed to encode request body: %v", err)
		}
		// bytes.Reader gives the request a GetBody, so retries can replay it
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return 0, apierror.Newf(apierror.CodeInternalError, "failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.useBearer {
		if token, err := c.store.Get(); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, apierror.Normalize(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, apierror.Normalize(&apierror.NetworkError{Err: err})
	}

	raw := apierror.Parse(resp.StatusCode, data)
	success, ok := raw.(apierror.RawSuccess)
	if !ok {
		return resp.StatusCode, apierror.FromRaw(raw, resp.Header)
	}

	if out == nil || len(success.Data) == 0 || string(success.Data) == "null" {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(success.Data, out); err != nil {
		e := apierror.Newf(apierror.CodeInternalError, "failed to decode response: %v", err)
		e.Status = resp.StatusCode
		return resp.StatusCode, e
	}
	return resp.StatusCode, nil
}

// endSession clears the stored token and signals listeners once
func (c *Client) endSession(apiErr *apierror.Error) {
	if err := c.store.Remove(); err != nil {
		logger := log.WithComponent("client")
		logger.Warn().Err(err).Msg("Failed to clear token after unauthorized response")
	}
	metrics.UnauthorizedTotal.Inc()
	c.bus.Publish(&events.Event{
		Type:    events.EventUnauthorized,
		Message: apiErr.Message,
		Metadata: map[string]string{
			"trace_id": apiErr.TraceID,
		},
	})
}

func (c *Client) isLogout(path string) bool {
	p := path
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return "/"+strings.Trim(p, "/") == c.logoutPath
}

func (c *Client) resolve(path string) (*url.URL, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if rel.IsAbs() {
		return rel, nil
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(rel.Path, "/")
	u.RawPath = ""
	u.RawQuery = rel.RawQuery
	return &u, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing host", raw)
	}
	return u, nil
}
