package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	rowsPerTable   = 250
	defaultRows    = 1000
	progressChunks = 10
	failPrefix     = "fail"
)

// runner simulates migrations: each job copies its rows in chunks, one
// chunk per step, saving and broadcasting progress as it goes.
// Tables named fail* make the job fail halfway through that table.
type runner struct {
	db     *gorm.DB
	hub    *Hub
	step   time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	running map[string]*runningJob
	wg      sync.WaitGroup
	stopped bool
}

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newRunner(db *gorm.DB, hub *Hub, step time.Duration) *runner {
	return &runner{
		db:      db,
		hub:     hub,
		step:    step,
		logger:  log.WithComponent("runner"),
		running: make(map[string]*runningJob),
	}
}

func totalRows(tables []string) int {
	if len(tables) == 0 {
		return defaultRows
	}
	return len(tables) * rowsPerTable
}

// failurePoint returns the row count at which the job fails, or -1
func failurePoint(tables []string) (int, string) {
	for i, t := range tables {
		if strings.HasPrefix(strings.ToLower(t), failPrefix) {
			return i*rowsPerTable + rowsPerTable/2, t
		}
	}
	return -1, ""
}

func (r *runner) start(job migrationModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rj := &runningJob{cancel: cancel, done: make(chan struct{})}
	r.running[job.ID] = rj
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer close(rj.done)
		defer func() {
			r.mu.Lock()
			delete(r.running, job.ID)
			r.mu.Unlock()
		}()
		r.run(ctx, job)
	}()
}

// cancel stops a running job and waits for its final state to be saved.
// It reports false when the job was not running.
func (r *runner) cancel(id string) bool {
	r.mu.Lock()
	rj, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	rj.cancel()
	<-rj.done
	return true
}

func (r *runner) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// stop cancels every job and waits for them
func (r *runner) stop() {
	r.mu.Lock()
	r.stopped = true
	for _, rj := range r.running {
		rj.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *runner) run(ctx context.Context, job migrationModel) {
	metrics.ServerMigrationsActive.Inc()
	defer metrics.ServerMigrationsActive.Dec()

	logger := r.logger.With().Str("migration_id", job.ID).Str("group_id", job.GroupID).Logger()
	logger.Info().Int("total", job.TotalCount).Msg("Migration started")

	job.Status = string(types.JobStatusRunning)
	r.save(&job)

	chunk := job.TotalCount / progressChunks
	if chunk < 1 {
		chunk = 1
	}
	failAt, failTable := failurePoint(job.Tables)

	ticker := time.NewTicker(r.step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			job.Status = string(types.JobStatusCanceled)
			job.Message = "migration canceled"
			r.finish(&job, false)
			logger.Info().Int("processed", job.ProcessedCount).Msg("Migration canceled")
			return
		case <-ticker.C:
		}

		job.ProcessedCount += chunk
		if failAt >= 0 && job.ProcessedCount >= failAt {
			job.ProcessedCount = failAt
			job.Status = string(types.JobStatusFailed)
			job.Message = "copy failed on table " + failTable
			r.finish(&job, false)
			logger.Warn().Str("table", failTable).Msg("Migration failed")
			return
		}
		if job.ProcessedCount >= job.TotalCount {
			job.ProcessedCount = job.TotalCount
			job.Status = string(types.JobStatusSucceeded)
			job.Message = "migration completed"
			r.finish(&job, true)
			logger.Info().Msg("Migration completed")
			return
		}

		r.save(&job)
		r.hub.Broadcast(types.ProgressEvent{
			GroupID:        job.GroupID,
			ProcessedCount: job.ProcessedCount,
			TotalCount:     job.TotalCount,
		})
	}
}

func (r *runner) finish(job *migrationModel, success bool) {
	r.save(job)
	r.hub.Broadcast(types.ProgressEvent{
		GroupID:        job.GroupID,
		IsCompleted:    true,
		IsSuccessful:   success,
		ProcessedCount: job.ProcessedCount,
		TotalCount:     job.TotalCount,
		Message:        job.Message,
	})
}

func (r *runner) save(job *migrationModel) {
	job.UpdatedAt = time.Now()
	err := r.db.Model(&migrationModel{}).Where("id = ?", job.ID).Updates(map[string]any{
		"status":          job.Status,
		"processed_count": job.ProcessedCount,
		"message":         job.Message,
		"updated_at":      job.UpdatedAt,
	}).Error
	if err != nil {
		r.logger.Error().Err(err).Str("migration_id", job.ID).Msg("Failed to save migration progress")
	}
}
