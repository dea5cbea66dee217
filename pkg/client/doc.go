/*
Package client provides the HTTP facade every conduit component uses to talk
to the console REST API.

The facade owns the cross-cutting request concerns so callers only deal
with paths, payloads and one error type:

  - bearer token injection from a tokenstore.Store (or a session cookie
    when the store provides a cookie jar)
  - a fresh X-Request-ID per logical request, identical across retries
  - transient-failure retries through retry.Transport
  - envelope unwrapping and error normalization through pkg/apierror
  - session reset on 401, announced on the event bus

# Architecture

	┌──────────────────── CALLER ─────────────────────┐
	│  c.Post(ctx, "/api/migrations", req, &job)       │
	└──────────────────────┬──────────────────────────┘
	                       │
	┌──────────────────────▼──── pkg/client ──────────┐
	│  encode JSON body (replayable)                   │
	│  Authorization: Bearer <token>                   │
	│  X-Request-ID: <uuid>                            │
	│                       │                          │
	│  ┌────────────────────▼────────────────────┐     │
	│  │ retry.Transport                         │     │
	│  │  network error / 502 503 504 → backoff  │     │
	│  └────────────────────┬────────────────────┘     │
	│                       │                          │
	│  apierror.Parse(status, body)                    │
	│    RawSuccess   → decode data into out           │
	│    RawAPIError  → *apierror.Error                │
	│    RawUnknown   → *apierror.Error (status table) │
	│                       │                          │
	│  UNAUTHORIZED (not logout)                       │
	│    → store.Remove()                              │
	│    → events.EventUnauthorized                    │
	└──────────────────────────────────────────────────┘

# Usage

	store := tokenstore.NewMemoryStore()
	c, err := client.New(client.Config{BaseURL: "https://console.example.com"}, store)
	if err != nil {
		return err
	}
	defer c.Close()

	var apps []types.Application
	if err := c.Get(ctx, "/api/applications", &apps); err != nil {
		var apiErr *apierror.Error
		errors.As(err, &apiErr) // always succeeds
		fmt.Println(apiErr.Code, apiErr.Message, apiErr.TraceID)
	}

# Session Expiry

The facade never navigates or prompts. When the server rejects the token
it clears the store and publishes exactly one events.EventUnauthorized per
rejected request; the CLI subscribes and prints a login hint. Requests to
the logout path are exempt so a logout with an expired token does not
trigger a second reset.

# Metrics

Each logical request records conduit_client_requests_total{method,code}
and conduit_client_request_duration_seconds{method}; retries are counted
by pkg/retry.
*/
package client
