package api

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const hubSweepSchedule = "@every 30s"

var terminalStatuses = []string{
	string(types.JobStatusSucceeded),
	string(types.JobStatusFailed),
	string(types.JobStatusCanceled),
}

// janitor purges finished migrations and expired sessions on a cron
// schedule, and closes abandoned long-poll connections.
type janitor struct {
	db     *gorm.DB
	hub    *Hub
	retain time.Duration
	cron   *cron.Cron
	logger zerolog.Logger
}

func newJanitor(db *gorm.DB, hub *Hub, schedule string, retain time.Duration) (*janitor, error) {
	logger := log.WithComponent("janitor")
	cronLogger := cron.PrintfLogger(&logger)

	j := &janitor{
		db:     db,
		hub:    hub,
		retain: retain,
		logger: logger,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
	}

	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.purge(context.Background(), time.Now()); err != nil {
			j.logger.Error().Err(err).Msg("Purge failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	if _, err := j.cron.AddFunc(hubSweepSchedule, func() {
		if n := j.hub.sweep(time.Now()); n > 0 {
			j.logger.Debug().Int("connections", n).Msg("Closed idle hub connections")
		}
	}); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *janitor) start() {
	j.cron.Start()
}

// stop waits for a running job to finish
func (j *janitor) stop() {
	<-j.cron.Stop().Done()
}

// purge deletes finished migrations last updated before now-retain and
// expired sessions. It returns the number of migrations removed.
func (j *janitor) purge(ctx context.Context, now time.Time) (int, error) {
	db := j.db.WithContext(ctx)
	cutoff := now.Add(-j.retain)

	var stale []migrationModel
	if err := db.Select("id", "group_id").
		Where("status IN ? AND updated_at < ?", terminalStatuses, cutoff).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("failed to find finished migrations: %w", err)
	}

	if len(stale) > 0 {
		ids := make([]string, 0, len(stale))
		groups := make([]string, 0, len(stale))
		for _, m := range stale {
			ids = append(ids, m.ID)
			groups = append(groups, m.GroupID)
		}
		if err := db.Delete(&migrationModel{}, "id IN ?", ids).Error; err != nil {
			return 0, fmt.Errorf("failed to delete finished migrations: %w", err)
		}
		j.hub.forget(groups...)
		metrics.ServerMigrationsPurged.Add(float64(len(ids)))
		j.logger.Info().Int("count", len(ids)).Msg("Purged finished migrations")
	}

	res := db.Delete(&sessionModel{}, "expires_at < ?", now)
	if res.Error != nil {
		return len(stale), fmt.Errorf("failed to delete expired sessions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		j.logger.Debug().Int64("count", res.RowsAffected).Msg("Purged expired sessions")
	}
	return len(stale), nil
}
