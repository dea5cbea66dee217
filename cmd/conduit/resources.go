package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cuemby/conduit/pkg/console"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/spf13/cobra"
)

// withRuntime runs fn with a logged-in runtime
func withRuntime(opts *globalOptions, fn func(ctx context.Context, rt *runtime, out *printer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(opts.cfg)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.requireLogin(); err != nil {
			return err
		}
		return fn(cmd.Context(), rt, newPrinter(cmd.OutOrStdout(), opts.output))
	}
}

func addListFlags(cmd *cobra.Command, lo *console.ListOptions) {
	cmd.Flags().IntVar(&lo.Page, "page", 0, "Page number")
	cmd.Flags().IntVar(&lo.PageSize, "page-size", 0, "Items per page")
	cmd.Flags().StringVar(&lo.Search, "search", "", "Filter by name")
}

// Applications

func newAppsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apps",
		Aliases: []string{"applications"},
		Short:   "Manage applications",
	}

	var lo console.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
			apps, err := rt.console.ListApplications(ctx, lo)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(apps))
			for _, a := range apps {
				rows = append(rows, []string{a.ID, a.Name, yesNo(a.Enabled), formatTime(a.CreatedAt)})
			}
			return out.table(apps, []string{"ID", "NAME", "ENABLED", "CREATED"}, rows)
		}),
	}
	addListFlags(list, &lo)

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				a, err := rt.console.GetApplication(ctx, args[0])
				if err != nil {
					return err
				}
				return out.fields(a,
					[2]string{"ID", a.ID},
					[2]string{"Name", a.Name},
					[2]string{"Description", orDash(a.Description)},
					[2]string{"Enabled", yesNo(a.Enabled)},
					[2]string{"Created", formatTime(a.CreatedAt)},
					[2]string{"Updated", formatTime(a.UpdatedAt)},
				)
			})(cmd, args)
		},
	}

	var app types.Application
	var disabled bool
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Register an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				app.Name = args[0]
				app.Enabled = !disabled
				created, err := rt.console.CreateApplication(ctx, &app)
				if err != nil {
					return err
				}
				if out.json {
					return out.raw(created)
				}
				out.success("Application %s created (%s)", created.Name, created.ID)
				return nil
			})(cmd, args)
		},
	}
	create.Flags().StringVar(&app.Description, "description", "", "Description")
	create.Flags().BoolVar(&disabled, "disabled", false, "Create the application disabled")

	var patch types.Application
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				app, err := rt.console.GetApplication(ctx, args[0])
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("name") {
					app.Name = patch.Name
				}
				if flags.Changed("description") {
					app.Description = patch.Description
				}
				if flags.Changed("enabled") {
					app.Enabled = patch.Enabled
				}
				updated, err := rt.console.UpdateApplication(ctx, app)
				if err != nil {
					return err
				}
				if out.json {
					return out.raw(updated)
				}
				out.success("Application %s updated", updated.ID)
				return nil
			})(cmd, args)
		},
	}
	update.Flags().StringVar(&patch.Name, "name", "", "New name")
	update.Flags().StringVar(&patch.Description, "description", "", "New description")
	update.Flags().BoolVar(&patch.Enabled, "enabled", true, "Enable or disable the application")

	del := deleteCmd(opts, "application", func(ctx context.Context, c *console.Client, id string) error {
		return c.DeleteApplication(ctx, id)
	})

	cmd.AddCommand(list, get, create, update, del)
	return cmd
}

// deleteCmd builds a `delete ID...` command
func deleteCmd(opts *globalOptions, what string, del func(ctx context.Context, c *console.Client, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID...",
		Aliases: []string{"rm"},
		Short:   "Delete one or more " + what + "s",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				for _, id := range args {
					if err := del(ctx, rt.console, id); err != nil {
						return fmt.Errorf("failed to delete %s %s: %w", what, id, err)
					}
					out.success("Deleted %s %s", what, id)
				}
				return nil
			})(cmd, args)
		},
	}
}

// Connections

func newConnectionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage database connections",
	}

	var lo console.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List database connections",
		RunE: withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
			conns, err := rt.console.ListConnections(ctx, lo)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(conns))
			for _, c := range conns {
				rows = append(rows, []string{c.ID, c.Name, string(c.Provider), endpoint(c), c.Database})
			}
			return out.table(conns, []string{"ID", "NAME", "PROVIDER", "ENDPOINT", "DATABASE"}, rows)
		}),
	}
	addListFlags(list, &lo)

	var conn types.DatabaseConnection
	var provider string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a database connection",
		Long: `Create a database connection.

Examples:
  conduit connections create orders --provider postgres --host db.internal --database orders --username app
  conduit connections create local --provider sqlite --database ./local.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				conn.Name = args[0]
				conn.Provider = types.DatabaseProvider(provider)
				created, err := rt.console.CreateConnection(ctx, &conn)
				if err != nil {
					return err
				}
				if out.json {
					return out.raw(created)
				}
				out.success("Connection %s created (%s)", created.Name, created.ID)
				return nil
			})(cmd, args)
		},
	}
	create.Flags().StringVar(&provider, "provider", string(types.ProviderPostgres), "postgres, mysql, sqlserver or sqlite")
	create.Flags().StringVar(&conn.Host, "host", "", "Database host")
	create.Flags().IntVar(&conn.Port, "port", 0, "Database port (provider default when 0)")
	create.Flags().StringVar(&conn.Database, "database", "", "Database name, or file for sqlite")
	create.Flags().StringVar(&conn.Username, "username", "", "Database user")
	create.Flags().StringVar(&conn.Password, "password", "", "Database password")
	create.Flags().StringVar(&conn.ApplicationID, "app", "", "Owning application ID")

	test := &cobra.Command{
		Use:   "test ID",
		Short: "Check that a connection is reachable from the console",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				res, err := rt.console.TestConnection(ctx, args[0])
				if err != nil {
					return err
				}
				state := successStyle.Render("ok")
				if !res.Success {
					state = failureStyle.Render("failed")
				}
				if err := out.fields(res,
					[2]string{"Result", state},
					[2]string{"Message", orDash(res.Message)},
					[2]string{"Latency", fmt.Sprintf("%dms", res.LatencyMs)},
				); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("connection test failed")
				}
				return nil
			})(cmd, args)
		},
	}

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show a database connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				c, err := rt.console.GetConnection(ctx, args[0])
				if err != nil {
					return err
				}
				return out.fields(c,
					[2]string{"ID", c.ID},
					[2]string{"Name", c.Name},
					[2]string{"Provider", string(c.Provider)},
					[2]string{"Endpoint", endpoint(*c)},
					[2]string{"Database", c.Database},
					[2]string{"Username", orDash(c.Username)},
					[2]string{"Application", orDash(c.ApplicationID)},
					[2]string{"Created", formatTime(c.CreatedAt)},
				)
			})(cmd, args)
		},
	}

	var patch types.DatabaseConnection
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change a database connection",
		Long: `Change a database connection. Only the flags given are changed; the
stored password is kept unless --password is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				c, err := rt.console.GetConnection(ctx, args[0])
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("host") {
					c.Host = patch.Host
				}
				if flags.Changed("port") {
					c.Port = patch.Port
				}
				if flags.Changed("database") {
					c.Database = patch.Database
				}
				if flags.Changed("username") {
					c.Username = patch.Username
				}
				c.Password = patch.Password
				updated, err := rt.console.UpdateConnection(ctx, c)
				if err != nil {
					return err
				}
				if out.json {
					return out.raw(updated)
				}
				out.success("Connection %s updated", updated.ID)
				return nil
			})(cmd, args)
		},
	}
	update.Flags().StringVar(&patch.Host, "host", "", "Database host")
	update.Flags().IntVar(&patch.Port, "port", 0, "Database port")
	update.Flags().StringVar(&patch.Database, "database", "", "Database name")
	update.Flags().StringVar(&patch.Username, "username", "", "Database user")
	update.Flags().StringVar(&patch.Password, "password", "", "New database password")

	del := deleteCmd(opts, "connection", func(ctx context.Context, c *console.Client, id string) error {
		return c.DeleteConnection(ctx, id)
	})

	cmd.AddCommand(list, get, create, update, test, del)
	return cmd
}

func endpoint(c types.DatabaseConnection) string {
	if c.Host == "" {
		return "-"
	}
	if c.Port == 0 {
		return c.Host
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Users and roles

func newUsersCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage console users",
	}

	var lo console.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
			users, err := rt.console.ListUsers(ctx, lo)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(users))
			for _, u := range users {
				rows = append(rows, []string{u.ID, u.Username, orDash(u.Email), joinOrDash(u.Roles), yesNo(u.Active)})
			}
			return out.table(users, []string{"ID", "USERNAME", "EMAIL", "ROLES", "ACTIVE"}, rows)
		}),
	}
	addListFlags(list, &lo)

	var user types.User
	create := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				user.Username = args[0]
				user.Active = true
				if user.Password == "" {
					p, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), true)
					if err != nil {
						return err
					}
					user.Password = p
				}
				created, err := rt.console.CreateUser(ctx, &user)
				if err != nil {
					return err
				}
				if out.json {
					return out.raw(created)
				}
				out.success("User %s created (%s)", created.Username, created.ID)
				return nil
			})(cmd, args)
		},
	}
	create.Flags().StringVar(&user.Email, "email", "", "Email address")
	create.Flags().StringVar(&user.FullName, "full-name", "", "Full name")
	create.Flags().StringSliceVar(&user.Roles, "role", nil, "Role to assign (repeatable)")
	create.Flags().StringVar(&user.Password, "password", "", "Initial password (prompted when omitted)")

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				u, err := rt.console.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return out.fields(u,
					[2]string{"ID", u.ID},
					[2]string{"Username", u.Username},
					[2]string{"Full name", orDash(u.FullName)},
					[2]string{"Email", orDash(u.Email)},
					[2]string{"Roles", joinOrDash(u.Roles)},
					[2]string{"Active", yesNo(u.Active)},
				)
			})(cmd, args)
		},
	}

	var patch types.User
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change a user",
		Long: `Change a user. Only the flags given are changed.

Examples:
  conduit users update 42 --active=false
  conduit users update 42 --role operator --role viewer`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				u, err := rt.console.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("email") {
					u.Email = patch.Email
				}
				if flags.Changed("full-name") {
					u.FullName = patch.FullName
				}
				if flags.Changed("role") {
					u.Roles = patch.Roles
				}
				if flags.Changed("active") {
					u.Active = patch.Active
				}
				u.Password = patch.Password
				updated, err := rt.console.UpdateUser(ctx, u)
				if err != nil {
					return err
				}
				if out.json {
					return out.raw(updated)
				}
				out.success("User %s updated", updated.Username)
				return nil
			})(cmd, args)
		},
	}
	update.Flags().StringVar(&patch.Email, "email", "", "Email address")
	update.Flags().StringVar(&patch.FullName, "full-name", "", "Full name")
	update.Flags().StringSliceVar(&patch.Roles, "role", nil, "Replace roles (repeatable)")
	update.Flags().BoolVar(&patch.Active, "active", true, "Activate or deactivate the user")
	update.Flags().StringVar(&patch.Password, "password", "", "New password")

	del := deleteCmd(opts, "user", func(ctx context.Context, c *console.Client, id string) error {
		return c.DeleteUser(ctx, id)
	})

	cmd.AddCommand(list, get, create, update, del)
	return cmd
}

func newRolesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage roles",
	}

	var lo console.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
			roles, err := rt.console.ListRoles(ctx, lo)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(roles))
			for _, r := range roles {
				rows = append(rows, []string{r.ID, r.Name, orDash(r.Description), joinOrDash(r.Permissions)})
			}
			return out.table(roles, []string{"ID", "NAME", "DESCRIPTION", "PERMISSIONS"}, rows)
		}),
	}
	addListFlags(list, &lo)

	var role types.Role
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				role.Name = args[0]
				created, err := rt.console.CreateRole(ctx, &role)
				if err != nil {
					return err
				}
				if out.json {
					return out.raw(created)
				}
				out.success("Role %s created (%s)", created.Name, created.ID)
				return nil
			})(cmd, args)
		},
	}
	create.Flags().StringVar(&role.Description, "description", "", "Description")
	create.Flags().StringSliceVar(&role.Permissions, "permission", nil, "Permission to grant (repeatable)")

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				r, err := rt.console.GetRole(ctx, args[0])
				if err != nil {
					return err
				}
				return out.fields(r,
					[2]string{"ID", r.ID},
					[2]string{"Name", r.Name},
					[2]string{"Description", orDash(r.Description)},
					[2]string{"Permissions", joinOrDash(r.Permissions)},
				)
			})(cmd, args)
		},
	}

	var patch types.Role
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				r, err := rt.console.GetRole(ctx, args[0])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("description") {
					r.Description = patch.Description
				}
				if cmd.Flags().Changed("permission") {
					r.Permissions = patch.Permissions
				}
				updated, err := rt.console.UpdateRole(ctx, r)
				if err != nil {
					return err
				}
				if out.json {
					return out.raw(updated)
				}
				out.success("Role %s updated", updated.Name)
				return nil
			})(cmd, args)
		},
	}
	update.Flags().StringVar(&patch.Description, "description", "", "Description")
	update.Flags().StringSliceVar(&patch.Permissions, "permission", nil, "Replace permissions (repeatable)")

	del := deleteCmd(opts, "role", func(ctx context.Context, c *console.Client, id string) error {
		return c.DeleteRole(ctx, id)
	})

	cmd.AddCommand(list, get, create, update, del)
	return cmd
}
