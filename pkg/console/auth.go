package console

import (
	"context"
	"fmt"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/events"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/types"
)

// Login exchanges credentials for a session and stores the returned token.
// Servers that manage the session through a cookie may omit the token.
func (c *Client) Login(ctx context.Context, username, password string) (*types.LoginResponse, error) {
	if username == "" || password == "" {
		return nil, apierror.New(apierror.CodeValidationFailed, "username and password are required")
	}

	var resp types.LoginResponse
	req := types.LoginRequest{Username: username, Password: password}
	if err := c.api.Post(ctx, pathLogin, req, &resp); err != nil {
		return nil, err
	}

	if resp.Token != "" {
		if err := c.api.SetToken(resp.Token); err != nil {
			return nil, apierror.Normalize(fmt.Errorf("failed to store token: %w", err))
		}
	}
	c.publish(events.EventLoggedIn, username)
	return &resp, nil
}

// Logout ends the server session and always clears the local token. An
// already expired session is not an error.
func (c *Client) Logout(ctx context.Context) error {
	err := c.api.Post(ctx, pathLogout, nil, nil)

	if rmErr := c.api.RemoveToken(); rmErr != nil {
		logger := log.WithComponent("console")
		logger.Warn().Err(rmErr).Msg("Failed to remove local token")
	}
	c.publish(events.EventLoggedOut, "")

	if err != nil && !apierror.IsCode(err, apierror.CodeUnauthorized) {
		return err
	}
	return nil
}

// Validate asks the server whether the current token is still accepted
func (c *Client) Validate(ctx context.Context) (*types.SessionInfo, error) {
	var info types.SessionInfo
	if err := c.api.Get(ctx, pathValidate, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Me returns the authenticated user
func (c *Client) Me(ctx context.Context) (*types.User, error) {
	var user types.User
	if err := c.api.Get(ctx, pathMe, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
