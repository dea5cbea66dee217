package console

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/cuemby/conduit/pkg/client"
	"github.com/cuemby/conduit/pkg/events"
	"github.com/cuemby/conduit/pkg/types"
)

// API paths
const (
	pathLogin        = "/api/auth/login"
	pathLogout       = "/api/auth/logout"
	pathValidate     = "/api/auth/validate"
	pathMe           = "/api/auth/me"
	pathApplications = "/api/applications"
	pathConnections  = "/api/connections"
	pathUsers        = "/api/users"
	pathRoles        = "/api/roles"
	pathMigrations   = "/api/migrations"
)

// Client wraps the facade with typed calls for each console resource
type Client struct {
	api client.API
}

// New creates a console client on top of the facade
func New(api client.API) *Client {
	return &Client{api: api}
}

// API returns the underlying facade
func (c *Client) API() client.API {
	return c.api
}

// publish sends a session event when the facade carries a bus
func (c *Client) publish(t events.EventType, message string) {
	src, ok := c.api.(interface{ Events() *events.Broker })
	if !ok || src.Events() == nil {
		return
	}
	src.Events().Publish(&events.Event{Type: t, Message: message})
}

// ListOptions narrows list calls. Zero values are omitted from the query.
type ListOptions struct {
	Page     int
	PageSize int
	Search   string

	// Status filters migrations
	Status types.JobStatus
}

func (o ListOptions) encode() string {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(o.PageSize))
	}
	if s := strings.TrimSpace(o.Search); s != "" {
		q.Set("search", s)
	}
	if o.Status != "" {
		q.Set("status", string(o.Status))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func itemPath(base, id string) string {
	return base + "/" + url.PathEscape(id)
}

// The helpers below cover the uniform CRUD endpoints.

func list[T any](ctx context.Context, api client.API, base string, opts ListOptions) ([]T, error) {
	var items []T
	if err := api.Get(ctx, base+opts.encode(), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func get[T any](ctx context.Context, api client.API, base, id string) (*T, error) {
	var item T
	if err := api.Get(ctx, itemPath(base, id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func create[T any](ctx context.Context, api client.API, base string, body *T) (*T, error) {
	var item T
	if err := api.Post(ctx, base, body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func update[T any](ctx context.Context, api client.API, base, id string, body *T) (*T, error) {
	var item T
	if err := api.Put(ctx, itemPath(base, id), body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func remove(ctx context.Context, api client.API, base, id string) error {
	return api.Delete(ctx, itemPath(base, id), nil)
}
