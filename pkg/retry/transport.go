package retry

import (
	"io"
	"net/http"

	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
)

// maxDrain bounds how much of a discarded response body is read so the
// connection can be reused.
const maxDrain = 64 << 10

// Transport is an http.RoundTripper that re-sends requests failing with a
// network error or a retryable status. Each attempt carries its own
// RequestContext; nothing is stored on the shared Transport.
type Transport struct {
	base     http.RoundTripper
	cfg      Config
	settings settings
}

// NewTransport wraps base (http.DefaultTransport when nil) with cfg.
func NewTransport(base http.RoundTripper, cfg Config, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:     base,
		cfg:      cfg.clone(),
		settings: newSettings(opts),
	}
}

// Config returns a copy of the transport's policy.
func (t *Transport) Config() Config {
	return t.cfg.clone()
}

// RoundTrip implements http.RoundTripper. When retries run out the last
// response (or error) is returned as-is so callers can normalize it.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	logger := log.WithComponent("retry")

	rc, ok := FromContext(ctx)
	if !ok {
		rc = RequestContext{Method: req.Method, URL: req.URL.String()}
	}

	// A body that cannot be rewound can only be sent once.
	maxRetries := t.cfg.MaxRetries
	if !replayable(req) {
		maxRetries = 0
	}

	attemptReq := req.Clone(WithRequestContext(ctx, rc))
	for {
		resp, err := t.base.RoundTrip(attemptReq)

		var status int
		if err == nil {
			status = resp.StatusCode
			if !t.cfg.RetryableStatus(status) {
				return resp, nil
			}
		} else if !t.cfg.Retryable(err) {
			return nil, err
		}

		if rc.Attempt >= maxRetries {
			if maxRetries > 0 {
				metrics.RetryExhaustedTotal.Inc()
				logger.Warn().
					Str("method", rc.Method).
					Str("url", rc.URL).
					Int("status", status).
					Int("attempts", rc.Attempt+1).
					Msg("Retries exhausted")
			}
			return resp, err
		}

		next := rc.Next()
		delay := t.cfg.Delay(next.Attempt, t.settings.rand())
		ev := Event{Attempt: next.Attempt, Delay: delay, Err: err, Status: status}
		record(ev)
		if t.settings.observe != nil {
			t.settings.observe(ev)
		}
		logger.Debug().
			Str("method", rc.Method).
			Str("url", rc.URL).
			Int("status", status).
			Int("attempt", next.Attempt).
			Dur("delay", delay).
			Msg("Retrying request")

		if err == nil {
			drain(resp)
		}

		if sleepErr := t.settings.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}

		rc = next
		attemptReq = req.Clone(WithRequestContext(ctx, rc))
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, bodyErr
			}
			attemptReq.Body = body
		}
	}
}

func replayable(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return true
	}
	return req.GetBody != nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrain)
	_ = resp.Body.Close()
}
