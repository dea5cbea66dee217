package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var (
		username      string
		password      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the console",
		Long: `Log in and store the session token for later commands.

The token is kept in the local state database, sealed with a key from
the state directory (or CONDUIT_TOKEN_PASSPHRASE).

Examples:
  conduit login -u admin
  echo "$PASSWORD" | conduit login -u admin --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			if passwordStdin || password == "" {
				p, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), !passwordStdin)
				if err != nil {
					return err
				}
				password = p
			}

			rt, err := newRuntime(opts.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			resp, err := rt.console.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			out := newPrinter(cmd.OutOrStdout(), opts.output)
			if out.json {
				return out.raw(resp.User)
			}
			out.success("Logged in to %s as %s", opts.cfg.API.BaseURL, resp.User.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

// readPassword reads one line from in, prompting on prompt when asked
func readPassword(in io.Reader, prompt io.Writer, ask bool) (string, error) {
	if ask {
		fmt.Fprint(prompt, "Password: ")
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !rt.api.IsAuthenticated() {
				newPrinter(cmd.OutOrStdout(), opts.output).success("Not logged in")
				return nil
			}
			if err := rt.console.Logout(cmd.Context()); err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout(), opts.output).success("Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireLogin(); err != nil {
				return err
			}

			user, err := rt.console.Me(cmd.Context())
			if err != nil {
				return err
			}
			session, err := rt.console.Validate(cmd.Context())
			if err != nil {
				return err
			}

			return newPrinter(cmd.OutOrStdout(), opts.output).fields(user,
				[2]string{"Username", user.Username},
				[2]string{"Full name", user.FullName},
				[2]string{"Email", user.Email},
				[2]string{"Roles", joinOrDash(user.Roles)},
				[2]string{"Expires", formatTime(session.ExpiresAt)},
			)
		},
	}
}
