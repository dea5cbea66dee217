package e2e

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/cuemby/conduit/test/framework"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const streamTimeout = 10 * time.Second

// setup logs a client in and creates a source and target connection
func setup(t *testing.T, cfg *framework.EnvConfig) (*framework.Env, *framework.Client, types.StartMigrationRequest) {
	t.Helper()
	env := framework.NewEnv(t, cfg)
	c := env.MustClient("default")
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, env))

	dir := t.TempDir()
	conns := make([]string, 2)
	for i, name := range []string{"source", "target"} {
		conn, err := c.Console.CreateConnection(ctx, &types.DatabaseConnection{
			Name:     name,
			Provider: types.ProviderSQLite,
			Database: filepath.Join(dir, name+".db"),
		})
		require.NoError(t, err)
		conns[i] = conn.ID
	}
	return env, c, types.StartMigrationRequest{SourceConnectionID: conns[0], TargetConnectionID: conns[1]}
}

func TestMigrationStreams(t *testing.T) {
	tests := []struct {
		name       string
		transports []progress.TransportType
	}{
		{"websockets", []progress.TransportType{progress.TransportWebSockets}},
		{"long polling", []progress.TransportType{progress.TransportLongPolling}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := framework.DefaultEnvConfig()
			cfg.Transports = tt.transports
			_, c, req := setup(t, cfg)
			assert := framework.NewAssertions(t)
			ctx := context.Background()

			rec := framework.Record(c)
			defer rec.Stop()

			req.Tables = []string{"users", "orders"}
			job, err := c.Console.StartMigration(ctx, req)
			require.NoError(t, err)
			require.NoError(t, c.Hub.JoinGroup(ctx, job.GroupID))

			events, err := rec.WaitForCompletion(ctx, job.GroupID, streamTimeout)
			require.NoError(t, err)
			assert.ProgressStream(events, true)
			require.Equal(t, 500, events[len(events)-1].ProcessedCount)

			final, err := c.Console.GetMigration(ctx, job.ID)
			require.NoError(t, err)
			assert.JobStatus(final, types.JobStatusSucceeded)
		})
	}
}

func TestMigrationFailure(t *testing.T) {
	_, c, req := setup(t, nil)
	assert := framework.NewAssertions(t)
	ctx := context.Background()

	rec := framework.Record(c)
	defer rec.Stop()

	req.Tables = []string{"users", "fail_orders", "items"}
	job, err := c.Console.StartMigration(ctx, req)
	require.NoError(t, err)
	require.NoError(t, c.Hub.JoinGroup(ctx, job.GroupID))

	events, err := rec.WaitForCompletion(ctx, job.GroupID, streamTimeout)
	require.NoError(t, err)
	assert.ProgressStream(events, false)

	last := events[len(events)-1]
	require.Equal(t, 375, last.ProcessedCount)
	require.Equal(t, "copy failed on table fail_orders", last.Message)

	final, err := c.Console.GetMigration(ctx, job.ID)
	require.NoError(t, err)
	assert.JobStatus(final, types.JobStatusFailed)
}

func TestMigrationCancel(t *testing.T) {
	cfg := framework.DefaultEnvConfig()
	cfg.StepInterval = 100 * time.Millisecond
	_, c, req := setup(t, cfg)
	assert := framework.NewAssertions(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	rec := framework.Record(c)
	defer rec.Stop()

	job, err := c.Console.StartMigration(ctx, req)
	require.NoError(t, err)
	require.NoError(t, c.Hub.JoinGroup(ctx, job.GroupID))
	_, err = waiter.WaitForJobStatus(ctx, c, job.ID, types.JobStatusRunning)
	require.NoError(t, err)

	canceled, err := c.Console.CancelMigration(ctx, job.ID)
	require.NoError(t, err)
	assert.JobStatus(canceled, types.JobStatusCanceled)

	events, err := rec.WaitForCompletion(ctx, job.GroupID, streamTimeout)
	require.NoError(t, err)
	assert.ProgressStream(events, false)
	require.Equal(t, "migration canceled", events[len(events)-1].Message)

	_, err = c.Console.CancelMigration(ctx, job.ID)
	assert.ErrorCode(err, apierror.CodeOperationNotAllowed)
}

// TestLateJoinerGetsFinalResult joins a group after its migration ended
func TestLateJoinerGetsFinalResult(t *testing.T) {
	_, c, req := setup(t, nil)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	job, err := c.Console.StartMigration(ctx, req)
	require.NoError(t, err)
	_, err = waiter.WaitForJobStatus(ctx, c, job.ID, types.JobStatusSucceeded)
	require.NoError(t, err)

	rec := framework.Record(c)
	defer rec.Stop()
	require.NoError(t, c.Hub.JoinGroup(ctx, job.GroupID))

	events := rec.Drain(500 * time.Millisecond)
	require.Len(t, events, 1)
	require.True(t, events[0].IsCompleted)
	require.True(t, events[0].IsSuccessful)
	require.Equal(t, job.GroupID, events[0].GroupID)
}

// TestConcurrentMigrations follows several groups over one hub connection
func TestConcurrentMigrations(t *testing.T) {
	env, c, req := setup(t, nil)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	var (
		mu        sync.Mutex
		completed = map[string]types.ProgressEvent{}
	)
	sub := c.Hub.OnProgress(func(ev types.ProgressEvent) {
		if ev.IsCompleted {
			mu.Lock()
			completed[ev.GroupID] = ev
			mu.Unlock()
		}
	})
	defer c.Hub.OffProgress(sub)

	const n = 4
	jobs := make([]*types.MigrationJob, n)
	for i := range jobs {
		r := req
		r.Tables = []string{fmt.Sprintf("table_%d", i)}
		if i == n-1 {
			r.Tables = []string{"fail_table"}
		}
		job, err := c.Console.StartMigration(ctx, r)
		require.NoError(t, err)
		jobs[i] = job
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error { return c.Hub.JoinGroup(gctx, job.GroupID) })
	}
	require.NoError(t, g.Wait())
	require.Len(t, c.Hub.Groups(), n)
	require.NoError(t, waiter.WaitForHubConnections(ctx, env, 1))

	require.NoError(t, waiter.WaitFor(ctx, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == n
	}, "every group to complete"))

	mu.Lock()
	defer mu.Unlock()
	for i, job := range jobs {
		ev := completed[job.GroupID]
		require.Equal(t, i != n-1, ev.IsSuccessful, "job %d", i)
	}
}

// TestReconnectResumesStream drops the hub connection server-side while a
// migration runs; the client reconnects, rejoins and still sees the end
func TestReconnectResumesStream(t *testing.T) {
	cfg := framework.DefaultEnvConfig()
	cfg.StepInterval = 50 * time.Millisecond
	env, c, req := setup(t, cfg)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	rec := framework.Record(c)
	defer rec.Stop()

	req.Tables = []string{"a", "b", "c", "d"}
	job, err := c.Console.StartMigration(ctx, req)
	require.NoError(t, err)
	require.NoError(t, c.Hub.JoinGroup(ctx, job.GroupID))
	require.NoError(t, waiter.WaitForHubConnections(ctx, env, 1))

	env.DropHubConnections()

	events, err := rec.WaitForCompletion(ctx, job.GroupID, streamTimeout)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.True(t, last.IsSuccessful)
	require.Equal(t, 1000, last.ProcessedCount)

	require.NoError(t, waiter.WaitForHubState(ctx, c, progress.Connected))
	require.Equal(t, []string{job.GroupID}, c.Hub.Groups())
}

func TestStartMigrationValidation(t *testing.T) {
	_, c, req := setup(t, nil)
	assert := framework.NewAssertions(t)
	ctx := context.Background()

	_, err := c.Console.StartMigration(ctx, types.StartMigrationRequest{
		SourceConnectionID: req.SourceConnectionID,
		TargetConnectionID: "missing",
	})
	assert.ErrorCode(err, apierror.CodeValidationFailed)

	_, err = c.Console.StartMigration(ctx, types.StartMigrationRequest{
		SourceConnectionID: req.SourceConnectionID,
		TargetConnectionID: req.SourceConnectionID,
	})
	assert.ErrorCode(err, apierror.CodeValidationFailed)

	_, err = c.Console.GetMigration(ctx, "missing")
	assert.ErrorCode(err, apierror.CodeResourceNotFound)
}
