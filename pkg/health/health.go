package health

import (
	"context"
	"time"
)

// CheckType names how a target is probed
type CheckType string

const (
	// CheckTypeHTTP probes the console API's health route
	CheckTypeHTTP CheckType = "http"
	// CheckTypeTCP only dials the host, e.g. a database behind a connection
	CheckTypeTCP CheckType = "tcp"
)

// Result is one probe outcome. Message is meant for humans: an HTTP status
// line, the server's health report or the dial error.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes a single target
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls how probe results turn into a health verdict
type Config struct {
	// Interval between probes when monitoring
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is how many failures in a row mark the target down
	Retries int

	// StartPeriod ignores failures right after monitoring starts, e.g.
	// while a freshly started dev server binds its port
	StartPeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status is the running verdict for one target. A target starts out up
// and goes down only after Retries failures in a row; one success brings
// it back.
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int

	LastCheck  time.Time
	LastResult Result

	Healthy bool

	// Changed reports whether the last Update flipped Healthy
	Changed bool

	// DownSince is when the target was last marked down; zero while up
	DownSince time.Time

	StartedAt time.Time
}

func NewStatus() *Status {
	return &Status{Healthy: true, StartedAt: time.Now()}
}

// Update folds a probe result into the verdict
func (s *Status) Update(result Result, config Config) {
	was := s.Healthy
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	switch {
	case result.Healthy:
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		s.DownSince = time.Time{}
	case s.InStartPeriod(config):
		// failures during start-up are recorded but not counted
	default:
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries && s.Healthy {
			s.Healthy = false
			s.DownSince = result.CheckedAt
		}
	}
	s.Changed = was != s.Healthy
}

// InStartPeriod reports whether failures are still being ignored
func (s *Status) InStartPeriod(config Config) bool {
	return config.StartPeriod > 0 && time.Since(s.StartedAt) < config.StartPeriod
}
