package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/conduit/pkg/client"
	"github.com/cuemby/conduit/pkg/console"
	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/tokenstore"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv     *Server
	ts      *httptest.Server
	store   *tokenstore.MemoryStore
	console *console.Client
	src     string
	dst     string
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	srv, ts := newTestServer(t, mutate...)
	store := tokenstore.NewMemoryStore()

	api, err := client.New(client.Config{BaseURL: ts.URL}, store)
	require.NoError(t, err)
	t.Cleanup(api.Close)

	h := &harness{srv: srv, ts: ts, store: store, console: console.New(api)}
	ctx := context.Background()
	_, err = h.console.Login(ctx, adminUser, adminPassword)
	require.NoError(t, err)

	for _, name := range []string{"source", "target"} {
		conn, err := h.console.CreateConnection(ctx, &types.DatabaseConnection{
			Name:     name,
			Provider: types.ProviderPostgres,
			Host:     "db.internal",
			Database: name,
		})
		require.NoError(t, err)
		if name == "source" {
			h.src = conn.ID
		} else {
			h.dst = conn.ID
		}
	}
	return h
}

func (h *harness) hubClient(t *testing.T, transports ...progress.TransportType) *progress.Client {
	t.Helper()
	hub, err := progress.NewClient(progress.Config{
		HubURL:          h.ts.URL + "/hubs/migration",
		ReconnectDelays: []time.Duration{},
		Transports:      transports,
	}, h.store)
	require.NoError(t, err)
	t.Cleanup(hub.Disconnect)
	return hub
}

// watch joins the job's group and returns the completion event
func watch(t *testing.T, hub *progress.Client, groupID string) (types.ProgressEvent, []types.ProgressEvent) {
	t.Helper()
	events := make(chan types.ProgressEvent, 128)
	hub.OnProgress(func(ev types.ProgressEvent) { events <- ev })
	require.NoError(t, hub.JoinGroup(context.Background(), groupID))

	var seen []types.ProgressEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			require.Equal(t, groupID, ev.GroupID)
			seen = append(seen, ev)
			if ev.IsCompleted {
				return ev, seen
			}
		case <-deadline:
			t.Fatalf("no completion for group %s after %d events", groupID, len(seen))
		}
	}
}

func TestMigrationStreamsProgressOverWebSockets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.console.StartMigration(ctx, types.StartMigrationRequest{
		SourceConnectionID: h.src,
		TargetConnectionID: h.dst,
		Tables:             []string{"orders"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Equal(t, rowsPerTable, job.TotalCount)
	assert.NotEmpty(t, job.GroupID)

	hub := h.hubClient(t, progress.TransportWebSockets)
	done, seen := watch(t, hub, job.GroupID)
	assert.True(t, done.IsSuccessful)
	assert.Equal(t, rowsPerTable, done.ProcessedCount)

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].ProcessedCount, seen[i-1].ProcessedCount)
	}

	final, err := h.console.GetMigration(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSucceeded, final.Status)
	assert.Equal(t, rowsPerTable, final.ProcessedCount)
}

func TestMigrationStreamsProgressOverLongPolling(t *testing.T) {
	h := newHarness(t)

	job, err := h.console.StartMigration(context.Background(), types.StartMigrationRequest{
		SourceConnectionID: h.src,
		TargetConnectionID: h.dst,
	})
	require.NoError(t, err)
	assert.Equal(t, defaultRows, job.TotalCount)

	hub := h.hubClient(t, progress.TransportLongPolling)
	done, _ := watch(t, hub, job.GroupID)
	assert.True(t, done.IsSuccessful)
	assert.Equal(t, defaultRows, done.ProcessedCount)
}

func TestMigrationFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.console.StartMigration(ctx, types.StartMigrationRequest{
		SourceConnectionID: h.src,
		TargetConnectionID: h.dst,
		Tables:             []string{"orders", "fail_items"},
	})
	require.NoError(t, err)

	done, _ := watch(t, h.hubClient(t), job.GroupID)
	assert.False(t, done.IsSuccessful)
	assert.Equal(t, "copy failed on table fail_items", done.Message)
	assert.Equal(t, rowsPerTable+rowsPerTable/2, done.ProcessedCount)

	final, err := h.console.GetMigration(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, final.Status)
}

func TestLateJoinerSeesCompletion(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.StepInterval = time.Millisecond })
	ctx := context.Background()

	job, err := h.console.StartMigration(ctx, types.StartMigrationRequest{
		SourceConnectionID: h.src,
		TargetConnectionID: h.dst,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := h.console.GetMigration(ctx, job.ID)
		return err == nil && j.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	done, seen := watch(t, h.hubClient(t), job.GroupID)
	assert.True(t, done.IsSuccessful)
	assert.Len(t, seen, 1)
}

func TestStartMigrationValidation(t *testing.T) {
	h := newHarness(t)
	token, err := h.store.Get()
	require.NoError(t, err)

	same := call(t, h.ts, http.MethodPost, "/api/migrations", token, map[string]any{
		"sourceConnectionId": h.src,
		"targetConnectionId": h.src,
	})
	assert.Equal(t, http.StatusBadRequest, same.Status)
	assert.Contains(t, string(same.Raw), "targetConnectionId")

	unknown := call(t, h.ts, http.MethodPost, "/api/migrations", token, map[string]any{
		"sourceConnectionId": h.src,
		"targetConnectionId": "missing",
	})
	assert.Equal(t, http.StatusBadRequest, unknown.Status)
	assert.Equal(t, "VALIDATION_FAILED", unknown.errorCode())
}

func TestCancelMigration(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.StepInterval = time.Hour })
	ctx := context.Background()

	job, err := h.console.StartMigration(ctx, types.StartMigrationRequest{
		SourceConnectionID: h.src,
		TargetConnectionID: h.dst,
	})
	require.NoError(t, err)

	canceled, err := h.console.CancelMigration(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCanceled, canceled.Status)
	assert.Equal(t, 0, h.srv.runner.active())

	token, _ := h.store.Get()
	again := call(t, h.ts, http.MethodPost, "/api/migrations/"+job.ID+"/cancel", token, nil)
	assert.Equal(t, http.StatusConflict, again.Status)
	assert.Equal(t, "OPERATION_NOT_ALLOWED", again.errorCode())

	filtered, err := h.console.ListMigrations(ctx, console.ListOptions{})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	byStatus := call(t, h.ts, http.MethodGet, "/api/migrations?status=running", token, nil)
	assert.Empty(t, byStatus.list())
}

func TestFailurePoint(t *testing.T) {
	at, table := failurePoint([]string{"a", "b"})
	assert.Equal(t, -1, at)
	assert.Empty(t, table)

	at, table = failurePoint([]string{"a", "FAIL_b", "fail_c"})
	assert.Equal(t, rowsPerTable+rowsPerTable/2, at)
	assert.Equal(t, "FAIL_b", table)

	assert.Equal(t, defaultRows, totalRows(nil))
	assert.Equal(t, 3*rowsPerTable, totalRows([]string{"a", "b", "c"}))
}
