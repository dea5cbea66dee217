package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/conduit/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketCredentials = []byte("credentials")
	bucketJobs        = []byte("jobs")
)

// DBFile is the database file name inside the data directory
const DBFile = "conduit.db"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)

	// A second conduit process waits briefly for the file lock instead of
	// hanging forever.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCredentials, bucketJobs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Credential operations
func (s *BoltStore) GetCredential(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("credential %s: %w", key, ErrNotFound)
		}
		// bbolt memory is only valid inside the transaction
		value = append([]byte(nil), data...)
		return nil
	})
	return value, err
}

func (s *BoltStore) PutCredential(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Put([]byte(key), value)
	})
}

func (s *BoltStore) DeleteCredential(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete([]byte(key))
	})
}

// Job operations
func (s *BoltStore) SaveJob(job *types.MigrationJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id string) (*types.MigrationJob, error) {
	var job types.MigrationJob
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) GetJobByGroup(groupID string) (*types.MigrationJob, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.GroupID == groupID {
			return job, nil
		}
	}
	return nil, fmt.Errorf("job for group %s: %w", groupID, ErrNotFound)
}

// ListJobs returns all snapshots, most recently updated first
func (s *BoltStore) ListJobs() ([]*types.MigrationJob, error) {
	var jobs []*types.MigrationJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.MigrationJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})
	return jobs, nil
}

func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete([]byte(id))
	})
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Stats counts the records in each bucket
type Stats struct {
	Credentials int
	Jobs        int
	SizeBytes   int64
}

func (s *BoltStore) Stats() (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		st.Credentials = tx.Bucket(bucketCredentials).Stats().KeyN
		st.Jobs = tx.Bucket(bucketJobs).Stats().KeyN
		st.SizeBytes = tx.Size()
		return nil
	})
	return st, err
}

// Backup writes a consistent copy of the database to w while it stays open
func (s *BoltStore) Backup(w io.Writer) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	if err != nil {
		return n, fmt.Errorf("failed to back up database: %w", err)
	}
	return n, nil
}

// BackupFile writes a backup to path, replacing it atomically
func (s *BoltStore) BackupFile(path string) (int64, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create backup file: %w", err)
	}
	n, err := s.Backup(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("failed to move backup into place: %w", err)
	}
	return n, nil
}

// PruneJobs deletes terminal job snapshots last updated before cutoff
func (s *BoltStore) PruneJobs(cutoff time.Time) (int, error) {
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var job types.MigrationJob
			if err := json.Unmarshal(v, &job); err != nil {
				// Unreadable snapshots are pruned too
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		pruned = len(stale)
		return nil
	})
	return pruned, err
}
