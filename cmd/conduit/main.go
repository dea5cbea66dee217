package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/conduit/pkg/config"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configPath string
	apiURL     string
	profile    string
	logLevel   string
	logJSON    bool
	output     string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "conduit - command line client for the migration console",
		Long: `conduit talks to the migration console API: it manages applications,
database connections, users and roles, starts bulk data migrations and
streams their progress in real time.

Failed requests are retried with exponential backoff, sessions are kept
encrypted in a local state database, and the progress stream reconnects
on its own when the connection drops.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"conduit version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default: <state dir>/config.yaml)")
	flags.StringVar(&opts.apiURL, "api-url", "", "Console API base URL")
	flags.StringVar(&opts.profile, "profile", "", "Credential profile")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON")
	flags.StringVarP(&opts.output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(newLoginCmd(opts))
	rootCmd.AddCommand(newLogoutCmd(opts))
	rootCmd.AddCommand(newWhoamiCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newAppsCmd(opts))
	rootCmd.AddCommand(newConnectionsCmd(opts))
	rootCmd.AddCommand(newUsersCmd(opts))
	rootCmd.AddCommand(newRolesCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newStateCmd(opts))
	rootCmd.AddCommand(newDevServerCmd(opts))

	return rootCmd
}

// load reads the configuration and applies flag overrides
func (o *globalOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.profile != "" {
		cfg.Token.Profile = o.profile
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = o.logJSON
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if o.output != "table" && o.output != "json" {
		return fmt.Errorf("unknown output format %q", o.output)
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     cmd.ErrOrStderr(),
	})
	o.cfg = cfg
	return nil
}
