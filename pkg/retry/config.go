package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
)

// Config holds the retry policy for one request chain. It is a value
// type: callers get their own copy and cannot affect chains in flight.
type Config struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// means a single attempt.
	MaxRetries int `yaml:"max_retries"`

	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the exponential base delay (jitter comes on top).
	MaxDelay time.Duration `yaml:"max_delay"`

	// BackoffMultiplier grows the delay per attempt. Must be > 1.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// RetryableStatuses lists HTTP statuses worth retrying. Empty means
	// only network failures are retried.
	RetryableStatuses []int `yaml:"retryable_statuses"`
}

// JitterFactor is the largest fraction of the base delay added as jitter.
const JitterFactor = 0.1

// DefaultConfig returns the default retry policy
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		RetryableStatuses: []int{
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Validate checks the policy bounds
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("initial delay must be > 0, got %s", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max delay %s must be >= initial delay %s", c.MaxDelay, c.InitialDelay)
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff multiplier must be > 1, got %g", c.BackoffMultiplier)
	}
	return nil
}

// clone copies the status list so the caller's slice can't leak into a
// running chain.
func (c Config) clone() Config {
	c.RetryableStatuses = slices.Clone(c.RetryableStatuses)
	return c
}

// BaseDelay returns min(InitialDelay * BackoffMultiplier^(attempt-1), MaxDelay).
// Attempt numbering starts at 1 for the first retry.
func (c Config) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Delay returns the base delay plus additive jitter of base*JitterFactor*r.
// r is clamped to [0, 1], so the result always lies in [base, base*1.1].
func (c Config) Delay(attempt int, r float64) time.Duration {
	base := c.BaseDelay(attempt)
	if r < 0 || math.IsNaN(r) {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	return base + time.Duration(float64(base)*JitterFactor*r)
}

// RetryableStatus reports whether an HTTP status is in the retry set.
func (c Config) RetryableStatus(status int) bool {
	return slices.Contains(c.RetryableStatuses, status)
}

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// Retryable classifies a failure. Errors carrying an HTTP status are
// retried only when the status is in the retry set; errors without one
// are treated as network failures and retried. Caller cancellation is
// never retried.
func (c Config) Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		if apiErr.Status > 0 {
			return c.RetryableStatus(apiErr.Status)
		}
		return apiErr.Code == apierror.CodeNetworkError
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return c.RetryableStatus(sc.StatusCode())
	}

	return true
}
