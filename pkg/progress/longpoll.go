package progress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pollRate caps how often an empty poll is re-issued
const pollRate = 5

type longPollTransport struct {
	hc      *http.Client
	ep      endpoint
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func openLongPolling(hc *http.Client, ep endpoint) *longPollTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &longPollTransport{
		// Polls are held open by the server; the facade's request timeout
		// would cut them short.
		hc:      &http.Client{Transport: hc.Transport, Jar: hc.Jar},
		ep:      ep,
		limiter: rate.NewLimiter(rate.Limit(pollRate), 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (t *longPollTransport) Type() TransportType {
	return TransportLongPolling
}

// merged returns a context canceled when either ctx or the transport is done
func (t *longPollTransport) merged(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

func (t *longPollTransport) Send(ctx context.Context, data []byte) error {
	ctx, cancel := t.merged(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.ep.connectURL().String(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	t.authorize(req)

	resp, err := t.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("long polling send failed: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (t *longPollTransport) Receive(ctx context.Context) ([]byte, error) {
	ctx, cancel := t.merged(ctx)
	defer cancel()

	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.ep.connectURL().String(), http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create poll request: %w", err)
		}
		t.authorize(req)

		resp, err := t.hc.Do(req)
		if err != nil {
			return nil, err
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNoContent:
			return nil, io.EOF
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("long polling receive failed: HTTP %d", resp.StatusCode)
		case readErr != nil:
			return nil, readErr
		case len(body) == 0:
			// Poll timed out without data
			continue
		default:
			return body, nil
		}
	}
}

func (t *longPollTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.ep.connectURL().String(), http.NoBody)
		if err != nil {
			return
		}
		t.authorize(req)
		if resp, err := t.hc.Do(req); err == nil {
			_ = resp.Body.Close()
		}
	})
	return nil
}

func (t *longPollTransport) authorize(req *http.Request) {
	if t.ep.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.ep.token)
	}
}
