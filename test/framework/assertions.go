package framework

import (
	"errors"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/types"
)

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// ErrorCode asserts that err carries code
func (a *Assertions) ErrorCode(err error, code apierror.Code) {
	a.t.Helper()

	if err == nil {
		a.t.Fatalf("Expected %s error, got none", code)
	}
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		a.t.Fatalf("Expected %s error, got untyped error: %v", code, err)
	}
	if apiErr.Code != code {
		a.t.Fatalf("Expected %s error, got %s: %s", code, apiErr.Code, apiErr.Message)
	}
}

// Authenticated asserts the client's login state
func (a *Assertions) Authenticated(c *Client, want bool) {
	a.t.Helper()

	if got := c.API.IsAuthenticated(); got != want {
		a.t.Fatalf("Expected authenticated=%t, got %t", want, got)
	}
}

// JobStatus asserts a job's status
func (a *Assertions) JobStatus(job *types.MigrationJob, want types.JobStatus) {
	a.t.Helper()

	if job == nil {
		a.t.Fatalf("Expected job with status %s, got nil", want)
		return
	}
	if job.Status != want {
		a.t.Fatalf("Expected job %s to be %s, got %s (%s)", job.ID, want, job.Status, job.Message)
	}
}

// ProgressStream asserts that events form one well-ordered stream for a
// group: counts never go backwards, nothing follows the completion, and
// the completion carries the expected outcome.
func (a *Assertions) ProgressStream(events []types.ProgressEvent, successful bool) {
	a.t.Helper()

	if len(events) == 0 {
		a.t.Fatalf("Expected progress events, got none")
		return
	}
	last := -1
	for i, ev := range events {
		if ev.ProcessedCount < last {
			a.t.Fatalf("Progress went backwards at event %d: %d after %d", i, ev.ProcessedCount, last)
		}
		last = ev.ProcessedCount
		if ev.IsCompleted && i != len(events)-1 {
			a.t.Fatalf("Event %d follows the completion event", i+1)
		}
	}

	final := events[len(events)-1]
	if !final.IsCompleted {
		a.t.Fatalf("Expected the stream to end with a completion event")
	}
	if final.IsSuccessful != successful {
		a.t.Fatalf("Expected completion successful=%t, got %t (%s)", successful, final.IsSuccessful, final.Message)
	}
}
