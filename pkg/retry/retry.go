package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
)

// Event describes one scheduled retry.
type Event struct {
	// Attempt is the 1-based number of the retry about to run.
	Attempt int
	Delay   time.Duration
	Err     error
	Status  int
}

// Option customizes randomness, sleeping or observation of a retry chain.
type Option func(*settings)

type settings struct {
	rand    func() float64
	sleep   func(ctx context.Context, d time.Duration) error
	observe func(Event)
}

// WithRand replaces the jitter source. r must return values in [0, 1).
func WithRand(r func() float64) Option {
	return func(s *settings) { s.rand = r }
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *settings) { s.sleep = sleep }
}

// WithObserver registers a callback invoked before every retry.
func WithObserver(fn func(Event)) Option {
	return func(s *settings) { s.observe = fn }
}

func newSettings(opts []Option) settings {
	s := settings{
		rand:  rand.Float64,
		sleep: Sleep,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Sleep waits for d or until ctx is done. It only suspends the calling
// goroutine.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op, retrying retryable failures with exponential backoff and
// jitter. Once attempts are exhausted it returns the last error unchanged.
// The context handed to op carries the attempt's RequestContext.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	cfg = cfg.clone()
	s := newSettings(opts)
	logger := log.WithComponent("retry")

	var zero T
	rc := RequestContext{}
	if prev, ok := FromContext(ctx); ok {
		rc = RequestContext{Method: prev.Method, URL: prev.URL}
	}

	for {
		result, err := op(WithRequestContext(ctx, rc))
		if err == nil {
			return result, nil
		}

		if !cfg.Retryable(err) {
			return zero, err
		}
		if rc.Attempt >= cfg.MaxRetries {
			if cfg.MaxRetries > 0 {
				metrics.RetryExhaustedTotal.Inc()
				logger.Warn().Err(err).Int("attempts", rc.Attempt+1).Msg("Retries exhausted")
			}
			return zero, err
		}

		next := rc.Next()
		delay := cfg.Delay(next.Attempt, s.rand())
		ev := Event{Attempt: next.Attempt, Delay: delay, Err: err, Status: statusOf(err)}
		record(ev)
		if s.observe != nil {
			s.observe(ev)
		}
		logger.Debug().Err(err).Int("attempt", next.Attempt).Dur("delay", delay).Msg("Retrying operation")

		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return zero, err
		}
		rc = next
	}
}

func statusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

func record(ev Event) {
	reason := "network"
	if ev.Status > 0 {
		reason = "status_" + strconv.Itoa(ev.Status)
	}
	metrics.RetryAttemptsTotal.WithLabelValues(reason).Inc()
	metrics.RetryDelay.Observe(ev.Delay.Seconds())
}
