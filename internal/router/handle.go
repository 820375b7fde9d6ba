package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/trowelhq/stratum/internal/model"
	"gorm.io/gorm"
)

// Handle is the cached, runtime-only connection to one project's backing
// store. It wraps a pooled engine safe for concurrent use; all callers for
// a project share the same Handle for the process lifetime.
type Handle struct {
	projectID uint
	mode      model.BackingMode
	db        *gorm.DB
	closeOnce sync.Once
}

func newHandle(projectID uint, mode model.BackingMode, db *gorm.DB) *Handle {
	return &Handle{projectID: projectID, mode: mode, db: db}
}

// ProjectID returns the owning project's id.
func (h *Handle) ProjectID() uint {
	return h.projectID
}

// Mode returns the backing mode of the underlying store.
func (h *Handle) Mode() model.BackingMode {
	return h.mode
}

// DB returns the shared engine. Callers needing cancellation or exhaustion
// detection should prefer Session.
func (h *Handle) DB() *gorm.DB {
	return h.db
}

// Session returns a context-scoped session on the shared pool. When the
// pool is saturated the acquisition probe blocks until the context expires,
// which surfaces as ErrConnectionExhausted — transient and retryable.
// Cancelling one caller's context aborts only that caller's work; the
// cached Handle is untouched.
func (h *Handle) Session(ctx context.Context) (*gorm.DB, error) {
	sqlDB, err := h.db.DB()
	if err != nil {
		return nil, err
	}

	// Probe the pool; blocks while every connection is in use.
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		stats := sqlDB.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return nil, fmt.Errorf("%w: %d/%d connections in use", ErrConnectionExhausted, stats.InUse, stats.MaxOpenConnections)
		}
		return nil, err
	}
	conn.Close()

	return h.db.WithContext(ctx), nil
}

// Close disposes the underlying pool. Safe to call more than once; only the
// first call closes.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		closeDB(h.db)
	})
}
