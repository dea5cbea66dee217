package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuemby/conduit/pkg/apierror"
)

// TransportType names a hub transport as advertised by negotiate
type TransportType string

const (
	TransportWebSockets  TransportType = "WebSockets"
	TransportLongPolling TransportType = "LongPolling"
)

// ErrNoTransport is returned when client and server share no transport
var ErrNoTransport = errors.New("no supported hub transport offered by server")

// maxNegotiateRedirects bounds negotiate responses pointing elsewhere
const maxNegotiateRedirects = 5

// transport moves raw frames between client and hub. Receive blocks until
// a frame arrives, the transport closes, or ctx is done.
type transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	Type() TransportType
}

type availableTransport struct {
	Transport       TransportType `json:"transport"`
	TransferFormats []string      `json:"transferFormats"`
}

// negotiateResponse is the body of POST <hub>/negotiate
type negotiateResponse struct {
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken"`
	NegotiateVersion    int                  `json:"negotiateVersion"`
	AvailableTransports []availableTransport `json:"availableTransports"`

	// Redirect to another endpoint (e.g. a managed hub service)
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`

	Error string `json:"error"`
}

func (n *negotiateResponse) id() string {
	if n.ConnectionToken != "" {
		return n.ConnectionToken
	}
	return n.ConnectionID
}

// offers reports whether the server listed t with a text transfer format
func (n *negotiateResponse) offers(t TransportType) bool {
	for _, at := range n.AvailableTransports {
		if at.Transport != t {
			continue
		}
		if len(at.TransferFormats) == 0 {
			return true
		}
		for _, f := range at.TransferFormats {
			if strings.EqualFold(f, "Text") {
				return true
			}
		}
	}
	return false
}

// endpoint is a negotiated hub address
type endpoint struct {
	hubURL *url.URL
	token  string
	neg    *negotiateResponse
}

// connectURL returns the hub URL with connection id and access token
func (e endpoint) connectURL() *url.URL {
	u := *e.hubURL
	q := u.Query()
	if id := e.neg.id(); id != "" {
		q.Set("id", id)
	}
	if e.token != "" {
		q.Set("access_token", e.token)
	}
	u.RawQuery = q.Encode()
	return &u
}

func negotiate(ctx context.Context, hc *http.Client, hubURL *url.URL, token string) (endpoint, error) {
	current := hubURL
	for i := 0; i <= maxNegotiateRedirects; i++ {
		neg, err := negotiateOnce(ctx, hc, current, token)
		if err != nil {
			return endpoint{}, err
		}
		if neg.URL == "" {
			return endpoint{hubURL: current, token: token, neg: neg}, nil
		}

		next, err := url.Parse(neg.URL)
		if err != nil {
			return endpoint{}, fmt.Errorf("invalid negotiate redirect %q: %w", neg.URL, err)
		}
		current = next
		if neg.AccessToken != "" {
			token = neg.AccessToken
		}
	}
	return endpoint{}, fmt.Errorf("negotiate redirected more than %d times", maxNegotiateRedirects)
}

func negotiateOnce(ctx context.Context, hc *http.Client, hubURL *url.URL, token string) (*negotiateResponse, error) {
	u := *hubURL
	u.Path = strings.TrimRight(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", "1")
	if token != "" {
		q.Set("access_token", token)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create negotiate request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, apierror.Normalize(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apierror.Normalize(&apierror.NetworkError{Err: err})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierror.FromRaw(apierror.Parse(resp.StatusCode, body), resp.Header)
	}

	var neg negotiateResponse
	if err := json.Unmarshal(body, &neg); err != nil {
		return nil, fmt.Errorf("failed to decode negotiate response: %w", err)
	}
	if neg.Error != "" {
		return nil, fmt.Errorf("negotiate failed: %s", neg.Error)
	}
	return &neg, nil
}
