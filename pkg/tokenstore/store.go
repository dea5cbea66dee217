package tokenstore

import (
	"errors"
	"net/http"
	"sync"
)

// ErrUnknownBackend is returned by Open for an unrecognized backend name
var ErrUnknownBackend = errors.New("unknown token store backend")

// Store keeps the session's bearer token. Implementations are safe for
// concurrent use. IsAuthenticated only reports presence; whether the token
// is still valid is the server's call.
type Store interface {
	Get() (string, error)
	Set(token string) error
	Remove() error
	IsAuthenticated() bool
}

// JarProvider is implemented by stores whose session travels as a cookie.
// The client facade installs the jar on its http.Client and sends no
// Authorization header.
type JarProvider interface {
	Jar() http.CookieJar
}

// MemoryStore holds the token in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Remove() error {
	return s.Set("")
}

func (s *MemoryStore) IsAuthenticated() bool {
	token, _ := s.Get()
	return token != ""
}

var _ Store = (*MemoryStore)(nil)
