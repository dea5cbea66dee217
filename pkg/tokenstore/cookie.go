package tokenstore

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
)

// DefaultCookieName is the session cookie set by the console server
const DefaultCookieName = "conduit_session"

// CookieStore keeps a server-managed session cookie in a cookie jar. The
// token is the cookie's value; the HTTP client sends it automatically.
type CookieStore struct {
	jar    *cookiejar.Jar
	origin *url.URL
	name   string
}

// NewCookieStore creates a jar-backed store scoped to baseURL
func NewCookieStore(baseURL, cookieName string) (*CookieStore, error) {
	origin, err := url.Parse(baseURL)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	origin = &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &CookieStore{jar: jar, origin: origin, name: cookieName}, nil
}

// Jar returns the jar the HTTP client must use
func (s *CookieStore) Jar() http.CookieJar {
	return s.jar
}

func (s *CookieStore) Get() (string, error) {
	for _, c := range s.jar.Cookies(s.origin) {
		if c.Name == s.name {
			return c.Value, nil
		}
	}
	return "", nil
}

func (s *CookieStore) Set(token string) error {
	if token == "" {
		return s.Remove()
	}
	s.jar.SetCookies(s.origin, []*http.Cookie{{
		Name:     s.name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.origin.Scheme == "https",
	}})
	return nil
}

func (s *CookieStore) Remove() error {
	s.jar.SetCookies(s.origin, []*http.Cookie{{
		Name:   s.name,
		Path:   "/",
		MaxAge: -1,
	}})
	return nil
}

func (s *CookieStore) IsAuthenticated() bool {
	token, _ := s.Get()
	return token != ""
}

var (
	_ Store       = (*CookieStore)(nil)
	_ JarProvider = (*CookieStore)(nil)
)
