package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Config configures the dev server
type Config struct {
	Addr   string
	Driver string
	DSN    string

	// Seeded admin account
	Username string
	Password string

	SessionTTL      time.Duration
	StepInterval    time.Duration
	JanitorSchedule string
	RetainFinished  time.Duration
	PollTimeout     time.Duration
	PingInterval    time.Duration

	// RateLimit in requests per second, 0 disables limiting
	RateLimit float64
	RateBurst int

	Version string
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 8 * time.Hour
	}
	if c.StepInterval <= 0 {
		c.StepInterval = 500 * time.Millisecond
	}
	if c.JanitorSchedule == "" {
		c.JanitorSchedule = "@every 1m"
	}
	if c.RetainFinished <= 0 {
		c.RetainFinished = 10 * time.Minute
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 20 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.Version == "" {
		c.Version = "dev"
	}
}

// Server is a self-contained implementation of the console API and its
// migration hub, for local development and end-to-end tests
type Server struct {
	cfg     Config
	db      *gorm.DB
	hub     *Hub
	runner  *runner
	janitor *janitor
	health  *metrics.HealthRegistry
	engine  *gin.Engine
}

// NewServer opens the database, seeds it and builds the routes
func NewServer(cfg Config) (*Server, error) {
	cfg.applyDefaults()

	db, err := openDatabase(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := seed(db, cfg.Username, cfg.Password); err != nil {
		closeDB(db)
		return nil, err
	}

	hub := newHub(cfg.PollTimeout, cfg.PingInterval)
	jan, err := newJanitor(db, hub, cfg.JanitorSchedule, cfg.RetainFinished)
	if err != nil {
		closeDB(db)
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		db:      db,
		hub:     hub,
		runner:  newRunner(db, hub, cfg.StepInterval),
		janitor: jan,
		health:  metrics.NewHealthRegistry(cfg.Version, "database"),
	}
	s.health.Set("hub", true, "")
	s.checkDatabase(context.Background())
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	useJSONFieldNames()

	var limiter *rate.Limiter
	if s.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), loggingMiddleware())

	r.GET("/health", s.probe(s.health.HealthHandler()))
	r.GET("/ready", s.probe(s.health.ReadyHandler()))
	r.GET("/live", gin.WrapF(s.health.LivenessHandler()))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	auth := s.authMiddleware()

	api := r.Group("/api", rateLimitMiddleware(limiter))
	api.POST("/auth/login", s.login)
	authed := api.Group("", auth)
	{
		authed.POST("/auth/logout", s.logout)
		authed.GET("/auth/validate", s.validate)
		authed.GET("/auth/me", s.me)

		authed.GET("/applications", s.listApplications)
		authed.POST("/applications", s.createApplication)
		authed.GET("/applications/:id", s.getApplication)
		authed.PUT("/applications/:id", s.updateApplication)
		authed.DELETE("/applications/:id", s.deleteApplication)

		authed.GET("/connections", s.listConnections)
		authed.POST("/connections", s.createConnection)
		authed.GET("/connections/:id", s.getConnection)
		authed.PUT("/connections/:id", s.updateConnection)
		authed.DELETE("/connections/:id", s.deleteConnection)
		authed.POST("/connections/:id/test", s.testConnection)

		authed.GET("/migrations", s.listMigrations)
		authed.POST("/migrations", s.startMigration)
		authed.GET("/migrations/:id", s.getMigration)
		authed.POST("/migrations/:id/cancel", s.cancelMigration)

		authed.GET("/roles", s.listRoles)
		authed.GET("/roles/:id", s.getRole)
		authed.GET("/users", s.listUsers)
		authed.GET("/users/:id", s.getUser)
	}

	admin := authed.Group("", requireRole("admin"))
	{
		admin.POST("/users", s.createUser)
		admin.PUT("/users/:id", s.updateUser)
		admin.DELETE("/users/:id", s.deleteUser)
		admin.POST("/roles", s.createRole)
		admin.PUT("/roles/:id", s.updateRole)
		admin.DELETE("/roles/:id", s.deleteRole)
	}

	hub := r.Group("/hubs/migration", auth)
	hub.POST("/negotiate", s.hub.negotiate)
	hub.Any("", s.hub.connect)

	return r
}

// probe refreshes database health before answering
func (s *Server) probe(h http.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.checkDatabase(c.Request.Context())
		h(c.Writer, c.Request)
	}
}

func (s *Server) checkDatabase(ctx context.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = sqlDB.PingContext(ctx)
		cancel()
	}
	if err != nil {
		s.health.Set("database", false, err.Error())
		return
	}
	s.health.Set("database", true, "")
}

// Handler returns the HTTP handler, for use with httptest
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the migration hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithComponent("devserver")
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", s.cfg.Addr).Str("driver", s.driverName()).Msg("Dev server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dev server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.janitor.start()
		<-gctx.Done()
		s.janitor.stop()

		logger.Info().Msg("Shutting down dev server")
		s.hub.Close()
		s.runner.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) driverName() string {
	if s.cfg.Driver == "" {
		return DriverSQLite
	}
	return s.cfg.Driver
}

// Close stops running migrations and closes the database
func (s *Server) Close() error {
	s.hub.Close()
	s.runner.stop()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
