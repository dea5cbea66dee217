package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/conduit/pkg/storage"
	"github.com/spf13/cobra"
)

func newStateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and back up the local state database",
	}

	var outPath string
	backup := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the state database",
		Long: `Write a consistent copy of the state database. The database stays
usable while the backup is taken.

Examples:
  conduit state backup
  conduit state backup --out /tmp/conduit.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewBoltStore(opts.cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			path := outPath
			if path == "" {
				path = filepath.Join(opts.cfg.StateDir,
					fmt.Sprintf("conduit-%s.db.bak", time.Now().UTC().Format("20060102-150405")))
			}
			n, err := store.BackupFile(path)
			if err != nil {
				return err
			}
			out := newPrinter(cmd.OutOrStdout(), opts.output)
			if out.json {
				return out.raw(map[string]any{"path": path, "bytes": n})
			}
			out.success("Backed up %d bytes to %s", n, path)
			return nil
		},
	}
	backup.Flags().StringVar(&outPath, "out", "", "Backup file (defaults to a timestamped file in the state directory)")

	info := &cobra.Command{
		Use:   "info",
		Short: "Show the state database location and contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewBoltStore(opts.cfg.StateDir)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Stats()
			if err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), opts.output).fields(
				map[string]any{"path": store.Path(), "credentials": st.Credentials, "jobs": st.Jobs, "sizeBytes": st.SizeBytes},
				[2]string{"Path", store.Path()},
				[2]string{"Credentials", strconv.Itoa(st.Credentials)},
				[2]string{"Jobs", strconv.Itoa(st.Jobs)},
				[2]string{"Size", strconv.FormatInt(st.SizeBytes, 10) + " bytes"},
			)
		},
	}

	cmd.AddCommand(backup, info)
	return cmd
}
