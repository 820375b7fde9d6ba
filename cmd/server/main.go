package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/trowelhq/stratum/internal/handler"
	"github.com/trowelhq/stratum/internal/isolation"
	"github.com/trowelhq/stratum/internal/middleware"
	"github.com/trowelhq/stratum/internal/permission"
	"github.com/trowelhq/stratum/internal/provision"
	"github.com/trowelhq/stratum/internal/registry"
	"github.com/trowelhq/stratum/internal/router"
	"github.com/trowelhq/stratum/pkg/config"
	"github.com/trowelhq/stratum/pkg/jwtutil"
	"github.com/trowelhq/stratum/pkg/logger"
	"github.com/trowelhq/stratum/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load("stratum")
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	log.Info("Starting data-access service...", cfg.LogConfig()...)

	// The template artifact must exist before any request is served.
	if err := cfg.Validate(); err != nil {
		log.Fatal("Startup configuration invalid", zap.Error(err))
	}

	// Open the control-plane store
	controlDB, err := openControlDB(cfg)
	if err != nil {
		log.Fatal("Failed to open control-plane database", zap.Error(err))
	}
	log.Info("Control-plane database connected", zap.String("path", cfg.ControlDB.Path))

	reg := registry.New(controlDB, log)
	if err := reg.Migrate(); err != nil {
		log.Fatal("Failed to migrate control-plane database", zap.Error(err))
	}

	gate := permission.NewGate(reg, log)
	prov := provision.New(cfg.ProjectDB.TemplatePath, log)
	enf := isolation.NewEnforcer(log)
	rt := router.New(reg, gate, prov, enf, cfg.ProjectDB, log)

	jwtUtil := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      cfg.JWT.SigningKey,
		ExpirationHours: cfg.JWT.ExpirationHours,
	})

	h := handler.NewHandler(reg, gate, rt, jwtUtil)

	// Initialize Echo framework
	e := echo.New()
	e.HideBanner = true

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware())
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// API routes - all require authentication
	api := e.Group("/api")
	api.Use(middleware.JWTAuthMiddleware(jwtUtil))

	projects := api.Group("/projects")
	projects.POST("", h.CreateProject)
	projects.GET("", h.ListMyProjects)
	projects.POST("/switch", h.SwitchProject)
	projects.GET("/:id", h.GetProject)
	projects.DELETE("/:id", h.DeleteProject)
	projects.GET("/:id/status", h.ProjectStatus)
	projects.POST("/:id/team", h.AddTeamMember)
	projects.PATCH("/:id/team/:principal_id", h.UpdateTeamMember)
	projects.DELETE("/:id/team/:principal_id", h.RemoveTeamMember)

	// Start server
	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil {
			log.Info("Server stopped", zap.Error(err))
		}
	}()

	// Dispose every cached project handle exactly once on shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	rt.Close()
	if sqlDB, err := controlDB.DB(); err == nil {
		sqlDB.Close()
	}
	log.Info("Shutdown complete")
}

func openControlDB(cfg *config.Config) (*gorm.DB, error) {
	if dir := filepath.Dir(cfg.ControlDB.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	dsn := cfg.ControlDB.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(cfg.ControlDB.LogLevel),
	})
}
