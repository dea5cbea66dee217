package storage

import (
	"errors"

	"github.com/cuemby/conduit/pkg/types"
)

// ErrNotFound is returned when a key is absent from the store
var ErrNotFound = errors.New("not found")

// Store defines the interface for conduit's local state
type Store interface {
	// Credentials hold opaque, already-sealed values keyed by profile
	GetCredential(key string) ([]byte, error)
	PutCredential(key string, value []byte) error
	DeleteCredential(key string) error

	// Jobs are local snapshots of migration progress
	SaveJob(job *types.MigrationJob) error
	GetJob(id string) (*types.MigrationJob, error)
	GetJobByGroup(groupID string) (*types.MigrationJob, error)
	ListJobs() ([]*types.MigrationJob, error)
	DeleteJob(id string) error

	// Utility
	Close() error
}
