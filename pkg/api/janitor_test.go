package api

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/conduit/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertMigration(t *testing.T, s *Server, status types.JobStatus, updated time.Time) migrationModel {
	t.Helper()
	m := migrationModel{
		ID:        uuid.New().String(),
		GroupID:   uuid.New().String(),
		Status:    string(status),
		StartedAt: updated,
		UpdatedAt: updated,
	}
	require.NoError(t, s.db.Create(&m).Error)
	// gorm sets UpdatedAt on create
	require.NoError(t, s.db.Model(&m).UpdateColumn("updated_at", updated).Error)
	return m
}

func TestJanitorPurgesFinishedMigrations(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.RetainFinished = time.Minute })
	now := time.Now()
	old := now.Add(-time.Hour)

	stale := insertMigration(t, srv, types.JobStatusSucceeded, old)
	insertMigration(t, srv, types.JobStatusFailed, old)
	fresh := insertMigration(t, srv, types.JobStatusCanceled, now)
	running := insertMigration(t, srv, types.JobStatusRunning, old)

	srv.Hub().Broadcast(types.ProgressEvent{GroupID: stale.GroupID, IsCompleted: true})

	n, err := srv.janitor.purge(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var left []migrationModel
	require.NoError(t, srv.db.Find(&left).Error)
	ids := make([]string, 0, len(left))
	for _, m := range left {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{fresh.ID, running.ID}, ids)

	srv.Hub().mu.Lock()
	_, replayable := srv.Hub().last[stale.GroupID]
	srv.Hub().mu.Unlock()
	assert.False(t, replayable)
}

func TestJanitorPurgesExpiredSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	now := time.Now()

	require.NoError(t, srv.db.Create(&sessionModel{Token: "old", UserID: "u", ExpiresAt: now.Add(-time.Minute)}).Error)
	require.NoError(t, srv.db.Create(&sessionModel{Token: "new", UserID: "u", ExpiresAt: now.Add(time.Hour)}).Error)

	_, err := srv.janitor.purge(context.Background(), now)
	require.NoError(t, err)

	var tokens []string
	require.NoError(t, srv.db.Model(&sessionModel{}).Pluck("token", &tokens).Error)
	assert.Equal(t, []string{"new"}, tokens)
}
