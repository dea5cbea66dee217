package tokenstore

import (
	"fmt"

	"github.com/cuemby/conduit/pkg/security"
	"github.com/cuemby/conduit/pkg/storage"
)

// Backend names accepted by Open
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendCookie = "cookie"
)

// Config selects and parameterizes a token store
type Config struct {
	Backend    string `yaml:"backend" toml:"backend"`
	Profile    string `yaml:"profile" toml:"profile"`
	Passphrase string `yaml:"-" toml:"-"`
	KeyFile    string `yaml:"key_file" toml:"key_file"`
	CookieName string `yaml:"cookie_name" toml:"cookie_name"`
}

// Deps are the resources some backends need
type Deps struct {
	// Storage is required by the bolt backend
	Storage storage.Store
	// BaseURL scopes the cookie backend
	BaseURL string
}

// Open builds the store named by cfg.Backend
func Open(cfg Config, deps Deps) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil

	case BackendBolt:
		if deps.Storage == nil {
			return nil, fmt.Errorf("bolt token store requires local storage")
		}
		sealer, err := newSealer(cfg)
		if err != nil {
			return nil, err
		}
		return NewBoltStore(deps.Storage, sealer, cfg.Profile), nil

	case BackendCookie:
		return NewCookieStore(deps.BaseURL, cfg.CookieName)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func newSealer(cfg Config) (*security.Sealer, error) {
	if cfg.Passphrase != "" {
		return security.NewSealerFromPassphrase(cfg.Passphrase)
	}
	if cfg.KeyFile == "" {
		return nil, security.ErrNoKey
	}
	key, err := security.LoadOrCreateKeyFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return security.NewSealer(key)
}
