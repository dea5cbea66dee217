package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/console"
	"github.com/cuemby/conduit/pkg/events"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type watchOptions struct {
	tui         bool
	timeout     time.Duration
	metricsAddr string
}

func (w *watchOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&w.tui, "tui", false, "Show an interactive progress view")
	cmd.Flags().DurationVar(&w.timeout, "timeout", 0, "Give up watching after this long (0 waits forever)")
	cmd.Flags().StringVar(&w.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching")
}

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "migrate",
		Aliases: []string{"migrations"},
		Short:   "Run and follow data migrations",
	}
	cmd.AddCommand(
		newMigrateStartCmd(opts),
		newMigrateWatchCmd(opts),
		newMigrateJobsCmd(opts),
		newMigrateCancelCmd(opts),
	)
	return cmd
}

func newMigrateStartCmd(opts *globalOptions) *cobra.Command {
	var (
		req   types.StartMigrationRequest
		watch bool
		wo    watchOptions
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a migration between two connections",
		Long: `Start a migration between two connections.

Examples:
  conduit migrate start --source c1 --target c2
  conduit migrate start --source c1 --target c2 --tables users,orders --watch --tui`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				job, err := rt.console.StartMigration(ctx, req)
				if err != nil {
					return err
				}
				if err := rt.store.SaveJob(job); err != nil {
					return err
				}
				if !watch {
					if out.json {
						return out.raw(job)
					}
					out.success("Migration %s started (group %s)", job.ID, job.GroupID)
					return nil
				}
				if !out.json {
					out.success("Migration %s started, watching progress", job.ID)
				}
				return watchJobs(ctx, rt, out, wo, []*types.MigrationJob{job})
			})(cmd, args)
		},
	}

	cmd.Flags().StringVar(&req.SourceConnectionID, "source", "", "Source connection ID")
	cmd.Flags().StringVar(&req.TargetConnectionID, "target", "", "Target connection ID")
	cmd.Flags().StringSliceVar(&req.Tables, "tables", nil, "Tables to copy (all when omitted)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the migration completes")
	wo.register(cmd)
	return cmd
}

func newMigrateWatchCmd(opts *globalOptions) *cobra.Command {
	var wo watchOptions

	cmd := &cobra.Command{
		Use:   "watch ID...",
		Short: "Follow the progress of one or more migrations",
		Long: `Follow the progress of one or more migrations until each completes.

A migration that already finished reports its final result right away.
Progress is recorded in the local state database as it arrives.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				jobs := make([]*types.MigrationJob, 0, len(args))
				for _, id := range args {
					job, err := rt.console.GetMigration(ctx, id)
					if err != nil {
						return fmt.Errorf("failed to look up migration %s: %w", id, err)
					}
					jobs = append(jobs, job)
				}
				return watchJobs(ctx, rt, out, wo, jobs)
			})(cmd, args)
		},
	}
	wo.register(cmd)
	return cmd
}

func newMigrateJobsCmd(opts *globalOptions) *cobra.Command {
	var (
		remote bool
		status string
		prune  time.Duration
		lo     console.ListOptions
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List migrations",
		Long: `List migrations recorded in the local state database, or on the
server with --remote.

Examples:
  conduit migrate jobs
  conduit migrate jobs --remote --status running
  conduit migrate jobs --prune 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			out := newPrinter(cmd.OutOrStdout(), opts.output)

			if prune > 0 {
				n, err := rt.store.PruneJobs(time.Now().Add(-prune))
				if err != nil {
					return err
				}
				out.success("Pruned %d finished job(s)", n)
				return nil
			}

			var jobs []types.MigrationJob
			if remote {
				if err := rt.requireLogin(); err != nil {
					return err
				}
				lo.Status = types.JobStatus(status)
				jobs, err = rt.console.ListMigrations(cmd.Context(), lo)
				if err != nil {
					return err
				}
			} else {
				local, err := rt.store.ListJobs()
				if err != nil {
					return err
				}
				for _, j := range local {
					if status == "" || string(j.Status) == status {
						jobs = append(jobs, *j)
					}
				}
				sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID, statusText(j.Status), progressText(j.ProcessedCount, j.TotalCount),
					orDash(j.Message), formatTime(j.UpdatedAt),
				})
			}
			return out.table(jobs, []string{"ID", "STATUS", "PROGRESS", "MESSAGE", "UPDATED"}, rows)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "List migrations from the server")
	cmd.Flags().StringVar(&status, "status", "", "Only show jobs with this status")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete local snapshots of jobs finished longer ago than this")
	addListFlags(cmd, &lo)
	return cmd
}

func newMigrateCancelCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *runtime, out *printer) error {
				job, err := rt.console.CancelMigration(ctx, args[0])
				if err != nil {
					return err
				}
				if err := rt.store.SaveJob(job); err != nil {
					return err
				}
				if out.json {
					return out.raw(job)
				}
				out.success("Migration %s %s", job.ID, job.Status)
				return nil
			})(cmd, args)
		},
	}
}

// watcher folds progress events into job snapshots until every group
// completes
type watcher struct {
	rt *runtime

	mu   sync.Mutex
	jobs map[string]*types.MigrationJob
	done map[string]chan struct{}

	// onUpdate runs on the hub's dispatch goroutine
	onUpdate func(types.MigrationJob)
}

func newWatcher(rt *runtime, jobs []*types.MigrationJob) *watcher {
	w := &watcher{
		rt:       rt,
		jobs:     make(map[string]*types.MigrationJob, len(jobs)),
		done:     make(map[string]chan struct{}, len(jobs)),
		onUpdate: func(types.MigrationJob) {},
	}
	for _, j := range jobs {
		w.jobs[j.GroupID] = j
		if !j.Status.Terminal() {
			w.done[j.GroupID] = make(chan struct{})
		}
	}
	return w
}

func (w *watcher) handle(ev types.ProgressEvent) {
	w.mu.Lock()
	job, ok := w.jobs[ev.GroupID]
	if !ok {
		w.mu.Unlock()
		return
	}
	job.Apply(ev, time.Now())
	snapshot := *job
	if ch, open := w.done[ev.GroupID]; open && ev.IsCompleted {
		close(ch)
		delete(w.done, ev.GroupID)
	}
	w.mu.Unlock()

	if err := w.rt.store.SaveJob(&snapshot); err != nil {
		logger := log.WithGroupID(ev.GroupID)
		logger.Warn().Err(err).Msg("Failed to save job snapshot")
	}
	w.onUpdate(snapshot)
}

func (w *watcher) waitFor(groupID string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.done[groupID]; ok {
		return ch
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// pending lists groups still waiting for completion
func (w *watcher) pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	groups := make([]string, 0, len(w.done))
	for g := range w.done {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// errHubLost reports a hub connection that gave up reconnecting while
// groups were still running
var errHubLost = apierror.New(apierror.CodeNetworkError,
	"lost connection to the progress hub; run `conduit migrate watch` again to resume")

// run joins every unfinished group and blocks until all completed or the
// hub connection is gone for good
func (w *watcher) run(ctx context.Context) error {
	groups := w.pending()
	if len(groups) == 0 {
		return nil
	}
	hub, err := w.rt.hub()
	if err != nil {
		return err
	}
	sub := hub.OnProgress(w.handle)
	defer hub.Disconnect()
	defer hub.OffProgress(sub)

	states := w.rt.bus.Subscribe(events.EventHubStateChanged)
	defer w.rt.bus.Unsubscribe(states)
	lost := make(chan struct{})
	go watchHubState(states, hub, lost)

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		g.Go(func() error {
			if err := hub.JoinGroup(gctx, group); err != nil {
				return err
			}
			select {
			case <-w.waitFor(group):
				return nil
			case <-lost:
				return errHubLost
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

// watchHubState closes lost once the hub drops back to disconnected after
// having been connected
func watchHubState(states events.Subscriber, hub *progress.Client, lost chan<- struct{}) {
	connected := false
	for ev := range states {
		switch ev.Message {
		case progress.Connected.String():
			connected = true
		case progress.Disconnected.String():
			if connected && hub.State() == progress.Disconnected {
				logger := log.WithComponent("cli")
				logger.Warn().Msg("Progress hub stopped reconnecting")
				close(lost)
				return
			}
		}
	}
}

// finalize refreshes each job from the server so canceled jobs read as
// canceled rather than failed
func (w *watcher) finalize(ctx context.Context) []types.MigrationJob {
	w.mu.Lock()
	jobs := make([]*types.MigrationJob, 0, len(w.jobs))
	for _, j := range w.jobs {
		jobs = append(jobs, j)
	}
	w.mu.Unlock()

	result := make([]types.MigrationJob, 0, len(jobs))
	for _, j := range jobs {
		if fresh, err := w.rt.console.GetMigration(ctx, j.ID); err == nil && fresh.Status.Terminal() {
			j = fresh
			if err := w.rt.store.SaveJob(j); err != nil {
				logger := log.WithGroupID(j.GroupID)
				logger.Warn().Err(err).Msg("Failed to save job snapshot")
			}
		}
		result = append(result, *j)
	}
	sort.Slice(result, func(a, b int) bool { return result[a].ID < result[b].ID })
	return result
}

// watchJobs follows jobs to completion and reports the outcome. It fails
// when any job did not succeed.
func watchJobs(ctx context.Context, rt *runtime, out *printer, wo watchOptions, jobs []*types.MigrationJob) error {
	if wo.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wo.timeout)
		defer cancel()
	}
	if wo.metricsAddr != "" {
		stop, err := serveMetrics(wo.metricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	w := newWatcher(rt, jobs)
	var err error
	switch {
	case wo.tui && !out.json:
		err = runTUI(ctx, w, out, jobs)
	default:
		stop := func() {}
		if !out.json {
			var mu sync.Mutex
			w.onUpdate = func(j types.MigrationJob) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out.w, "%s  %-10s %s  %s\n",
					mutedStyle.Render(j.ID), statusText(j.Status),
					progressText(j.ProcessedCount, j.TotalCount), j.Message)
			}

			stop = followHubState(rt, out, &mu)
		}
		err = w.run(ctx)
		stop()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("gave up watching after %s", wo.timeout)
		}
		return err
	}

	final := w.finalize(context.WithoutCancel(ctx))
	if out.json {
		if err := out.raw(final); err != nil {
			return err
		}
	}
	var failed []string
	for _, j := range final {
		if j.Status != types.JobStatusSucceeded {
			failed = append(failed, fmt.Sprintf("%s (%s)", j.ID, j.Status))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("migration did not succeed: %s", strings.Join(failed, ", "))
	}
	out.success("All migrations completed")
	return nil
}

// followHubState prints a notice whenever the hub connection starts
// reconnecting. stop waits for the printer to exit.
func followHubState(rt *runtime, out *printer, mu *sync.Mutex) (stop func()) {
	states := rt.bus.Subscribe(events.EventHubStateChanged)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range states {
			if ev.Message != progress.Reconnecting.String() {
				continue
			}
			mu.Lock()
			fmt.Fprintln(out.w, mutedStyle.Render("connection to progress hub lost, reconnecting"))
			mu.Unlock()
		}
	}()
	return func() {
		rt.bus.Unsubscribe(states)
		wg.Wait()
	}
}

// serveMetrics exposes the client metrics until stop is called
func serveMetrics(addr string) (stop func(), err error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return nil, fmt.Errorf("failed to serve metrics on %s: %w", addr, err)
	case <-time.After(50 * time.Millisecond):
	}

	logger := log.WithComponent("cli")
	logger.Info().Str("addr", addr).Msg("Serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
