package types

import (
	"time"
)

// ProgressEvent is one status update for a migration group, pushed by the
// progress hub. Delivery is at-least-once; the completion event is the last
// one observed for a group.
type ProgressEvent struct {
	GroupID        string `json:"groupId"`
	IsCompleted    bool   `json:"isCompleted"`
	IsSuccessful   bool   `json:"isSuccessful"`
	ProcessedCount int    `json:"processedCount"`
	TotalCount     int    `json:"totalCount"`
	Message        string `json:"message,omitempty"`
}

// Percent returns progress in [0, 100]. A group without a known total
// reports 0 until it completes.
func (e ProgressEvent) Percent() float64 {
	if e.IsCompleted {
		return 100
	}
	if e.TotalCount <= 0 {
		return 0
	}
	p := float64(e.ProcessedCount) * 100 / float64(e.TotalCount)
	if p > 100 {
		return 100
	}
	return p
}

// JobStatus represents the state of a migration job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further progress is expected
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// MigrationJob is a bulk data migration between two connections
type MigrationJob struct {
	ID                 string    `json:"id"`
	GroupID            string    `json:"groupId"`
	SourceConnectionID string    `json:"sourceConnectionId,omitempty"`
	TargetConnectionID string    `json:"targetConnectionId,omitempty"`
	Tables             []string  `json:"tables,omitempty"`
	Status             JobStatus `json:"status"`
	ProcessedCount     int       `json:"processedCount"`
	TotalCount         int       `json:"totalCount"`
	Message            string    `json:"message,omitempty"`
	StartedAt          time.Time `json:"startedAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Apply folds a progress event into the job snapshot
func (j *MigrationJob) Apply(ev ProgressEvent, now time.Time) {
	j.ProcessedCount = ev.ProcessedCount
	j.TotalCount = ev.TotalCount
	if ev.Message != "" {
		j.Message = ev.Message
	}
	switch {
	case ev.IsCompleted && ev.IsSuccessful:
		j.Status = JobStatusSucceeded
	case ev.IsCompleted:
		j.Status = JobStatusFailed
	default:
		j.Status = JobStatusRunning
	}
	j.UpdatedAt = now
}

// StartMigrationRequest asks the server to start a migration
type StartMigrationRequest struct {
	SourceConnectionID string   `json:"sourceConnectionId"`
	TargetConnectionID string   `json:"targetConnectionId"`
	Tables             []string `json:"tables,omitempty"`
}

// Application is a managed application registered in the console
type Application struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DatabaseProvider identifies the engine behind a connection
type DatabaseProvider string

const (
	ProviderPostgres  DatabaseProvider = "postgres"
	ProviderMySQL     DatabaseProvider = "mysql"
	ProviderSQLServer DatabaseProvider = "sqlserver"
	ProviderSQLite    DatabaseProvider = "sqlite"
)

// DatabaseConnection describes a database reachable from the console.
// Secrets are write-only: the server never echoes Password back.
type DatabaseConnection struct {
	ID            string           `json:"id"`
	ApplicationID string           `json:"applicationId,omitempty"`
	Name          string           `json:"name"`
	Provider      DatabaseProvider `json:"provider"`
	Host          string           `json:"host"`
	Port          int              `json:"port,omitempty"`
	Database      string           `json:"database"`
	Username      string           `json:"username,omitempty"`
	Password      string           `json:"password,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// ConnectionTestResult is returned by a connection check
type ConnectionTestResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// User is a console account. Password is write-only, like connection secrets.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	FullName  string    `json:"fullName,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	Active    bool      `json:"active"`
	Password  string    `json:"password,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Role groups permissions assigned to users
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// LoginRequest carries user credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	User      User      `json:"user"`
}

// SessionInfo describes the result of a token validation
type SessionInfo struct {
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}
