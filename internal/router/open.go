package router

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/trowelhq/stratum/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openEmbedded opens the SQLite file backing an embedded project. WAL mode
// allows concurrent readers while SQLite's own write lock serializes the
// single writer; the busy timeout makes writers queue instead of failing.
func (r *Router) openEmbedded(cfg *model.BackingConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", cfg.Path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(r.cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open embedded database %s: %w", cfg.Path, err)
	}

	if err := r.tunePool(db); err != nil {
		closeDB(db)
		return nil, err
	}
	return db, nil
}

// openShared opens a pooled connection to the shared PostgreSQL server.
func (r *Router) openShared(cfg *model.BackingConfig) (*gorm.DB, error) {
	pgConfig := postgres.Config{
		DSN:                  cfg.PostgresDSN(),
		PreferSimpleProtocol: true, // Disables implicit prepared statement usage
	}

	db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger: logger.Default.LogMode(r.cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open shared database %s/%s: %w", cfg.Host, cfg.Database, err)
	}

	if err := r.tunePool(db); err != nil {
		closeDB(db)
		return nil, err
	}
	return db, nil
}

func (r *Router) tunePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get database object: %w", err)
	}
	if r.cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(r.cfg.MaxIdleConns)
	}
	if r.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(r.cfg.MaxOpenConns)
	}
	if r.cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(r.cfg.ConnMaxLifetime)
	}
	return nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
