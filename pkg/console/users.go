package console

import (
	"context"

	"github.com/cuemby/conduit/pkg/types"
)

func (c *Client) ListUsers(ctx context.Context, opts ListOptions) ([]types.User, error) {
	return list[types.User](ctx, c.api, pathUsers, opts)
}

func (c *Client) GetUser(ctx context.Context, id string) (*types.User, error) {
	return get[types.User](ctx, c.api, pathUsers, id)
}

func (c *Client) CreateUser(ctx context.Context, user *types.User) (*types.User, error) {
	return create(ctx, c.api, pathUsers, user)
}

func (c *Client) UpdateUser(ctx context.Context, user *types.User) (*types.User, error) {
	return update(ctx, c.api, pathUsers, user.ID, user)
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return remove(ctx, c.api, pathUsers, id)
}

func (c *Client) ListRoles(ctx context.Context, opts ListOptions) ([]types.Role, error) {
	return list[types.Role](ctx, c.api, pathRoles, opts)
}

func (c *Client) GetRole(ctx context.Context, id string) (*types.Role, error) {
	return get[types.Role](ctx, c.api, pathRoles, id)
}

func (c *Client) CreateRole(ctx context.Context, role *types.Role) (*types.Role, error) {
	return create(ctx, c.api, pathRoles, role)
}

func (c *Client) UpdateRole(ctx context.Context, role *types.Role) (*types.Role, error) {
	return update(ctx, c.api, pathRoles, role.ID, role)
}

func (c *Client) DeleteRole(ctx context.Context, id string) error {
	return remove(ctx, c.api, pathRoles, id)
}
