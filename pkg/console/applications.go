package console

import (
	"context"

	"github.com/cuemby/conduit/pkg/types"
)

func (c *Client) ListApplications(ctx context.Context, opts ListOptions) ([]types.Application, error) {
	return list[types.Application](ctx, c.api, pathApplications, opts)
}

func (c *Client) GetApplication(ctx context.Context, id string) (*types.Application, error) {
	return get[types.Application](ctx, c.api, pathApplications, id)
}

func (c *Client) CreateApplication(ctx context.Context, app *types.Application) (*types.Application, error) {
	return create(ctx, c.api, pathApplications, app)
}

func (c *Client) UpdateApplication(ctx context.Context, app *types.Application) (*types.Application, error) {
	return update(ctx, c.api, pathApplications, app.ID, app)
}

func (c *Client) DeleteApplication(ctx context.Context, id string) error {
	return remove(ctx, c.api, pathApplications, id)
}
