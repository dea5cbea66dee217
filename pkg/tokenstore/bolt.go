package tokenstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/security"
	"github.com/cuemby/conduit/pkg/storage"
)

// BoltStore persists the token in the local bbolt database, sealed with
// AES-256-GCM. The decrypted token is cached in memory after first use.
type BoltStore struct {
	store   storage.Store
	sealer  *security.Sealer
	profile string

	mu     sync.RWMutex
	cached *string
}

// NewBoltStore creates a persistent store for the given profile
func NewBoltStore(store storage.Store, sealer *security.Sealer, profile string) *BoltStore {
	if profile == "" {
		profile = "default"
	}
	return &BoltStore{store: store, sealer: sealer, profile: profile}
}

func (s *BoltStore) Get() (string, error) {
	s.mu.RLock()
	if s.cached != nil {
		token := *s.cached
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached, nil
	}

	sealed, err := s.store.GetCredential(s.profile)
	if errors.Is(err, storage.ErrNotFound) {
		empty := ""
		s.cached = &empty
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}

	plaintext, err := s.sealer.Open(sealed)
	if err != nil {
		// Wrong key or corrupted value; treat as logged out rather than
		// failing every request.
		logger := log.WithComponent("tokenstore")
		logger.Warn().Err(err).Str("profile", s.profile).
			Msg("Stored credential could not be decrypted, ignoring it")
		empty := ""
		s.cached = &empty
		return "", nil
	}

	token := string(plaintext)
	s.cached = &token
	return token, nil
}

func (s *BoltStore) Set(token string) error {
	if token == "" {
		return s.Remove()
	}

	sealed, err := s.sealer.Seal([]byte(token))
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.PutCredential(s.profile, sealed); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	s.cached = &token
	return nil
}

func (s *BoltStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteCredential(s.profile); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	empty := ""
	s.cached = &empty
	return nil
}

func (s *BoltStore) IsAuthenticated() bool {
	token, err := s.Get()
	return err == nil && token != ""
}

var _ Store = (*BoltStore)(nil)
