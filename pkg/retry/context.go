package retry

import "context"

// RequestContext describes one attempt of a request chain. Values are
// immutable: each retry derives a new one, so concurrent chains never
// share attempt state.
type RequestContext struct {
	// Attempt is 0 for the original send and n for the nth retry.
	Attempt int
	Method  string
	URL     string
}

// Next returns the context for the following attempt.
func (rc RequestContext) Next() RequestContext {
	rc.Attempt++
	return rc
}

type requestContextKey struct{}

// WithRequestContext returns ctx carrying rc.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext returns the attempt descriptor attached to ctx, if any.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}
