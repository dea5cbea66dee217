package framework

import (
	"time"

	"github.com/cuemby/conduit/pkg/progress"
)

// EnvConfig defines the dev server and client settings for a test
// environment
type EnvConfig struct {
	// Username and Password seed the admin account
	Username string
	Password string

	// StepInterval paces simulated migrations
	StepInterval time.Duration
	// PollTimeout bounds one long-polling request on the hub
	PollTimeout time.Duration

	// Transports restricts the hub transports clients accept
	Transports []progress.TransportType
	// ReconnectDelays overrides the client's reconnection schedule
	ReconnectDelays []time.Duration

	// StateDir holds client state; a temporary directory when empty
	StateDir string
}

// DefaultEnvConfig returns fast settings suitable for tests
func DefaultEnvConfig() *EnvConfig {
	return &EnvConfig{
		Username:        "admin",
		Password:        "admin-password",
		StepInterval:    20 * time.Millisecond,
		PollTimeout:     200 * time.Millisecond,
		ReconnectDelays: []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond},
	}
}

// TestingT is an interface matching testing.T
type TestingT interface {
	Helper()
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	TempDir() string
	Cleanup(func())
}
