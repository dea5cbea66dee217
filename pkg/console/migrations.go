package console

import (
	"context"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/types"
)

// StartMigration queues a migration. The returned job's GroupID is the hub
// group carrying its progress.
func (c *Client) StartMigration(ctx context.Context, req types.StartMigrationRequest) (*types.MigrationJob, error) {
	if req.SourceConnectionID == "" || req.TargetConnectionID == "" {
		return nil, apierror.New(apierror.CodeValidationFailed, "source and target connections are required").
			WithDetails(map[string][]string{
				"sourceConnectionId": {"required"},
				"targetConnectionId": {"required"},
			})
	}
	var job types.MigrationJob
	if err := c.api.Post(ctx, pathMigrations, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) ListMigrations(ctx context.Context, opts ListOptions) ([]types.MigrationJob, error) {
	return list[types.MigrationJob](ctx, c.api, pathMigrations, opts)
}

func (c *Client) GetMigration(ctx context.Context, id string) (*types.MigrationJob, error) {
	return get[types.MigrationJob](ctx, c.api, pathMigrations, id)
}

// CancelMigration stops a running migration; the hub still sends a final
// completion event for its group.
func (c *Client) CancelMigration(ctx context.Context, id string) (*types.MigrationJob, error) {
	var job types.MigrationJob
	if err := c.api.Post(ctx, itemPath(pathMigrations, id)+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
