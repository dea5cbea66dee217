package console

import (
	"context"

	"github.com/cuemby/conduit/pkg/types"
)

func (c *Client) ListConnections(ctx context.Context, opts ListOptions) ([]types.DatabaseConnection, error) {
	return list[types.DatabaseConnection](ctx, c.api, pathConnections, opts)
}

func (c *Client) GetConnection(ctx context.Context, id string) (*types.DatabaseConnection, error) {
	return get[types.DatabaseConnection](ctx, c.api, pathConnections, id)
}

func (c *Client) CreateConnection(ctx context.Context, conn *types.DatabaseConnection) (*types.DatabaseConnection, error) {
	return create(ctx, c.api, pathConnections, conn)
}

func (c *Client) UpdateConnection(ctx context.Context, conn *types.DatabaseConnection) (*types.DatabaseConnection, error) {
	return update(ctx, c.api, pathConnections, conn.ID, conn)
}

func (c *Client) DeleteConnection(ctx context.Context, id string) error {
	return remove(ctx, c.api, pathConnections, id)
}

// TestConnection asks the server to open the connection and report back.
// A failed check is a successful call with Success false.
func (c *Client) TestConnection(ctx context.Context, id string) (*types.ConnectionTestResult, error) {
	var result types.ConnectionTestResult
	if err := c.api.Post(ctx, itemPath(pathConnections, id)+"/test", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
