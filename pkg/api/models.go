package api

import (
	"time"

	"github.com/cuemby/conduit/pkg/types"
)

type applicationModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	Name        string `gorm:"uniqueIndex;size:128;not null"`
	Description string
	OwnerID     string `gorm:"size:36"`
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (applicationModel) TableName() string { return "applications" }

func (m *applicationModel) toType() types.Application {
	return types.Application{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		OwnerID:     m.OwnerID,
		Enabled:     m.Enabled,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type connectionModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	ApplicationID string `gorm:"index;size:36"`
	Name          string `gorm:"uniqueIndex;size:128;not null"`
	Provider      string `gorm:"size:32;not null"`
	Host          string
	Port          int
	Database      string
	Username      string
	Password      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (connectionModel) TableName() string { return "connections" }

// toType never carries the password back to clients
func (m *connectionModel) toType() types.DatabaseConnection {
	return types.DatabaseConnection{
		ID:            m.ID,
		ApplicationID: m.ApplicationID,
		Name:          m.Name,
		Provider:      types.DatabaseProvider(m.Provider),
		Host:          m.Host,
		Port:          m.Port,
		Database:      m.Database,
		Username:      m.Username,
		CreatedAt:     m.CreatedAt,
	}
}

type userModel struct {
	ID           string   `gorm:"primaryKey;size:36"`
	Username     string   `gorm:"uniqueIndex;size:64;not null"`
	Email        string   `gorm:"size:256"`
	FullName     string   `gorm:"size:256"`
	PasswordHash string   `gorm:"not null"`
	Roles        []string `gorm:"serializer:json"`
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userModel) TableName() string { return "users" }

func (m *userModel) toType() types.User {
	return types.User{
		ID:        m.ID,
		Username:  m.Username,
		Email:     m.Email,
		FullName:  m.FullName,
		Roles:     m.Roles,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
}

type roleModel struct {
	ID          string   `gorm:"primaryKey;size:36"`
	Name        string   `gorm:"uniqueIndex;size:64;not null"`
	Description string
	Permissions []string `gorm:"serializer:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (roleModel) TableName() string { return "roles" }

func (m *roleModel) toType() types.Role {
	return types.Role{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Permissions: m.Permissions,
	}
}

type migrationModel struct {
	ID                 string   `gorm:"primaryKey;size:36"`
	GroupID            string   `gorm:"uniqueIndex;size:36;not null"`
	SourceConnectionID string   `gorm:"size:36"`
	TargetConnectionID string   `gorm:"size:36"`
	Tables             []string `gorm:"serializer:json"`
	Status             string   `gorm:"index;size:16"`
	ProcessedCount     int
	TotalCount         int
	Message            string
	StartedAt          time.Time
	UpdatedAt          time.Time `gorm:"index"`
}

func (migrationModel) TableName() string { return "migrations" }

func (m *migrationModel) toType() types.MigrationJob {
	return types.MigrationJob{
		ID:                 m.ID,
		GroupID:            m.GroupID,
		SourceConnectionID: m.SourceConnectionID,
		TargetConnectionID: m.TargetConnectionID,
		Tables:             m.Tables,
		Status:             types.JobStatus(m.Status),
		ProcessedCount:     m.ProcessedCount,
		TotalCount:         m.TotalCount,
		Message:            m.Message,
		StartedAt:          m.StartedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

type sessionModel struct {
	Token     string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"index;size:36;not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (sessionModel) TableName() string { return "sessions" }

func allModels() []any {
	return []any{
		&applicationModel{},
		&connectionModel{},
		&userModel{},
		&roleModel{},
		&migrationModel{},
		&sessionModel{},
	}
}
