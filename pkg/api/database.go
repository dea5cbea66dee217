package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/conduit/pkg/log"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultSQLiteDSN keeps the dev server's data in memory
const DefaultSQLiteDSN = "file:conduit-dev?mode=memory&cache=shared"

func openDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", DriverSQLite:
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	zl := log.WithComponent("database")
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(&zl, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == "" || driver == DriverSQLite {
		// A shared in-memory database disappears with its last connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return db, nil
}

// seed creates the built-in roles and the admin account when missing
func seed(db *gorm.DB, username, password string) error {
	roles := []roleModel{
		{ID: uuid.New().String(), Name: "admin", Description: "Full access", Permissions: []string{"*"}},
		{ID: uuid.New().String(), Name: "operator", Description: "Run migrations", Permissions: []string{"migrations:*", "connections:read", "applications:read"}},
		{ID: uuid.New().String(), Name: "viewer", Description: "Read only", Permissions: []string{"*:read"}},
	}
	for i := range roles {
		var existing roleModel
		err := db.Where("name = ?", roles[i].Name).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&roles[i]).Error; err != nil {
				return fmt.Errorf("failed to seed role %s: %w", roles[i].Name, err)
			}
			continue
		}
		if err != nil {
			return err
		}
	}

	if username == "" {
		return nil
	}
	var existing userModel
	err := db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	admin := userModel{
		ID:           uuid.New().String(),
		Username:     username,
		FullName:     "Administrator",
		PasswordHash: hash,
		Roles:        []string{"admin"},
		Active:       true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
