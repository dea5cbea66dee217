/*
Package retry implements the request retry policy of the console client:
exponential backoff with additive jitter, applied to network failures and
a configurable set of HTTP statuses.

# Delay

For the nth retry (n starting at 1):

	base  = min(InitialDelay * BackoffMultiplier^(n-1), MaxDelay)
	delay = base + base * 0.1 * r,  r in [0, 1)

With the defaults (1s, x2, cap 10s) the bases are 1s, 2s, 4s.

# Usage

Wrap an HTTP transport:

	client := &http.Client{
		Transport: retry.NewTransport(http.DefaultTransport, retry.DefaultConfig()),
	}

or retry an arbitrary operation:

	jobs, err := retry.Do(ctx, cfg, func(ctx context.Context) ([]types.MigrationJob, error) {
		return svc.List(ctx)
	})

Every attempt sees its own RequestContext through FromContext. Retry state
lives in those values, never on the Transport, so concurrent requests do
not interfere.
*/
package retry
