package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultHealthPath is probed when the console API root is given
const DefaultHealthPath = "/health"

// HTTPChecker probes an HTTP endpoint, typically the console API's health
// route
type HTTPChecker struct {
	// URL is the full URL to check (e.g., "https://console.example.com/health")
	URL string

	// Method is the HTTP method to use (default: GET)
	Method string

	// Headers are custom HTTP headers to include in the request
	Headers map[string]string

	// ExpectedStatusMin is the minimum acceptable HTTP status code (default: 200)
	ExpectedStatusMin int

	// ExpectedStatusMax is the maximum acceptable HTTP status code (default: 399)
	ExpectedStatusMax int

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a new HTTP health checker
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		Method:            http.MethodGet,
		Headers:           make(map[string]string),
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// report is the JSON body served by the console's /health and /ready routes
type report struct {
	Status     string            `json:"status"`
	Message    string            `json:"message"`
	Components map[string]string `json:"components"`
}

// degraded reports whether the body names a failing state even though the
// status code was acceptable
func (r report) degraded() bool {
	return r.Status == "unhealthy" || r.Status == "not_ready"
}

func (r report) describe() string {
	var failing []string
	for name, state := range r.Components {
		if state != "healthy" && state != "ok" {
			failing = append(failing, name+"="+state)
		}
	}
	sort.Strings(failing)
	msg := r.Status
	if r.Message != "" {
		msg += ": " + r.Message
	}
	if len(failing) > 0 {
		msg += " [" + strings.Join(failing, ", ") + "]"
	}
	return msg
}

// Check performs the HTTP health check. Each probe carries its own
// X-Request-ID so it can be found in server logs. A JSON body reporting
// "unhealthy" or "not_ready" fails the probe regardless of status code.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	done := func(healthy bool, message string) Result {
		return Result{Healthy: healthy, Message: message, CheckedAt: start, Duration: time.Since(start)}
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return done(false, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return done(false, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if resp.StatusCode < h.ExpectedStatusMin || resp.StatusCode > h.ExpectedStatusMax {
		return done(false, fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax))
	}

	var rep report
	if json.Unmarshal(body, &rep) == nil && rep.Status != "" {
		if rep.degraded() {
			return done(false, fmt.Sprintf("%s, %s", message, rep.describe()))
		}
		message = fmt.Sprintf("%s, %s", message, rep.Status)
	}
	return done(true, message)
}

// Type returns the health check type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithMethod sets the HTTP method
func (h *HTTPChecker) WithMethod(method string) *HTTPChecker {
	h.Method = method
	return h
}

// WithHeader adds a custom HTTP header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithStatusRange sets the expected status code range
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.ExpectedStatusMin = min
	h.ExpectedStatusMax = max
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// WithClient probes through c, e.g. to share the facade's TLS settings.
// The client's own timeout is kept.
func (h *HTTPChecker) WithClient(c *http.Client) *HTTPChecker {
	h.Client = c
	return h
}
