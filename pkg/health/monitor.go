package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/conduit/pkg/log"
)

// Monitor runs a checker on an interval and tracks its Status
type Monitor struct {
	name    string
	checker Checker
	config  Config

	mu     sync.RWMutex
	status *Status
}

// NewMonitor creates a monitor; zero config fields take DefaultConfig values
func NewMonitor(name string, checker Checker, config Config) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = def.Retries
	}
	return &Monitor{
		name:    name,
		checker: checker,
		config:  config,
		status:  NewStatus(),
	}
}

// Status returns a copy of the current status
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.status
}

// CheckOnce runs one check, records it and returns the updated status
func (m *Monitor) CheckOnce(ctx context.Context) Status {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	result := m.checker.Check(checkCtx)

	m.mu.Lock()
	m.status.Update(result, m.config)
	status := *m.status
	m.mu.Unlock()

	if status.Changed {
		logger := log.WithComponent("health")
		logger.Info().
			Str("target", m.name).
			Str("type", string(m.checker.Type())).
			Bool("healthy", status.Healthy).
			Str("message", result.Message).
			Msg("Health changed")
	}
	return status
}

// Run checks immediately and then every Interval until ctx is done.
// onResult, when set, is called after each check.
func (m *Monitor) Run(ctx context.Context, onResult func(Status)) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		status := m.CheckOnce(ctx)
		if onResult != nil {
			onResult(status)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
