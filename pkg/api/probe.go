package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/cuemby/conduit/pkg/health"
	"github.com/cuemby/conduit/pkg/types"
	"github.com/lib/pq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const probeTimeout = 5 * time.Second

var defaultProviderPorts = map[types.DatabaseProvider]int{
	types.ProviderPostgres:  5432,
	types.ProviderMySQL:     3306,
	types.ProviderSQLServer: 1433,
}

// probeConnection checks that the database behind conn answers. Postgres
// and sqlite are opened for real; other engines get a TCP reachability check.
func probeConnection(ctx context.Context, conn *connectionModel) types.ConnectionTestResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	var err error
	switch provider := types.DatabaseProvider(conn.Provider); provider {
	case types.ProviderPostgres:
		err = pingPostgres(ctx, conn)
	case types.ProviderSQLite:
		err = pingSQLite(ctx, conn.Database)
	default:
		err = dialTCP(ctx, conn, defaultProviderPorts[provider])
	}

	result := types.ConnectionTestResult{
		Success:   err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Message = err.Error()
	} else {
		result.Message = "connection succeeded"
	}
	return result
}

func postgresDSN(conn *connectionModel) string {
	port := conn.Port
	if port == 0 {
		port = defaultProviderPorts[types.ProviderPostgres]
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(conn.Host, strconv.Itoa(port)),
		Path:     "/" + conn.Database,
		RawQuery: "sslmode=disable&connect_timeout=5",
	}
	if conn.Username != "" {
		u.User = url.UserPassword(conn.Username, conn.Password)
	}
	return u.String()
}

func pingPostgres(ctx context.Context, conn *connectionModel) error {
	db, err := sql.Open("postgres", postgresDSN(conn))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("postgres rejected connection: %s (%s)", pqErr.Message, pqErr.Code.Name())
		}
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	return nil
}

func pingSQLite(ctx context.Context, path string) error {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return sqlDB.PingContext(ctx)
}

func dialTCP(ctx context.Context, conn *connectionModel, defaultPort int) error {
	port := conn.Port
	if port == 0 {
		port = defaultPort
	}
	if conn.Host == "" || port == 0 {
		return fmt.Errorf("connection has no host or port")
	}
	checker := health.NewTCPChecker(net.JoinHostPort(conn.Host, strconv.Itoa(port))).WithTimeout(probeTimeout)
	result := checker.Check(ctx)
	if !result.Healthy {
		return errors.New(result.Message)
	}
	return nil
}
