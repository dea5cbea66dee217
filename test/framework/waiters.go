package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/types"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with a 10s timeout and 20ms interval
func DefaultWaiter() *Waiter {
	return NewWaiter(10*time.Second, 20*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForJobStatus polls the API until the migration reaches status
func (w *Waiter) WaitForJobStatus(ctx context.Context, c *Client, id string, status types.JobStatus) (*types.MigrationJob, error) {
	var job *types.MigrationJob
	err := w.WaitFor(ctx, func() bool {
		j, err := c.Console.GetMigration(ctx, id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, fmt.Sprintf("migration %s to be %s", id, status))
	return job, err
}

// WaitForJobTerminal polls the API until the migration finished either way
func (w *Waiter) WaitForJobTerminal(ctx context.Context, c *Client, id string) (*types.MigrationJob, error) {
	var job *types.MigrationJob
	err := w.WaitFor(ctx, func() bool {
		j, err := c.Console.GetMigration(ctx, id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, fmt.Sprintf("migration %s to finish", id))
	return job, err
}

// WaitForHubState waits for the client's hub connection to reach state
func (w *Waiter) WaitForHubState(ctx context.Context, c *Client, state progress.State) error {
	return w.WaitFor(ctx, func() bool {
		return c.Hub.State() == state
	}, fmt.Sprintf("hub to be %s", state))
}

// WaitForHubConnections waits for the server to hold n hub connections
func (w *Waiter) WaitForHubConnections(ctx context.Context, env *Env, n int) error {
	return w.WaitFor(ctx, func() bool {
		return env.Server.Hub().Connections() == n
	}, fmt.Sprintf("%d hub connection(s)", n))
}

// Recorder collects progress events delivered to a hub client
type Recorder struct {
	ch  chan types.ProgressEvent
	sub progress.Subscription
	hub *progress.Client
}

// Record subscribes to c's progress events until Stop
func Record(c *Client) *Recorder {
	r := &Recorder{ch: make(chan types.ProgressEvent, 1024), hub: c.Hub}
	r.sub = c.Hub.OnProgress(func(ev types.ProgressEvent) {
		select {
		case r.ch <- ev:
		default:
		}
	})
	return r
}

// Stop unsubscribes the recorder
func (r *Recorder) Stop() {
	r.hub.OffProgress(r.sub)
}

// WaitForCompletion collects events for group until its completion event
// arrives, which is returned last
func (r *Recorder) WaitForCompletion(ctx context.Context, group string, timeout time.Duration) ([]types.ProgressEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var got []types.ProgressEvent
	for {
		select {
		case ev := <-r.ch:
			if ev.GroupID != group {
				continue
			}
			got = append(got, ev)
			if ev.IsCompleted {
				return got, nil
			}
		case <-ctx.Done():
			return got, fmt.Errorf("no completion for group %s after %d event(s)", group, len(got))
		}
	}
}

// Drain returns events received within d
func (r *Recorder) Drain(d time.Duration) []types.ProgressEvent {
	var got []types.ProgressEvent
	deadline := time.After(d)
	for {
		select {
		case ev := <-r.ch:
			got = append(got, ev)
		case <-deadline:
			return got
		}
	}
}
