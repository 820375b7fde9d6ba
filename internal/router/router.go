package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/trowelhq/stratum/internal/isolation"
	"github.com/trowelhq/stratum/internal/model"
	"github.com/trowelhq/stratum/internal/permission"
	"github.com/trowelhq/stratum/internal/provision"
	"github.com/trowelhq/stratum/internal/registry"
	"github.com/trowelhq/stratum/pkg/config"
	"github.com/trowelhq/stratum/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrBackendConfigInvalid is returned when a project's stored backing
	// configuration is missing fields required by its backing mode. Raised
	// before any connection attempt.
	ErrBackendConfigInvalid = errors.New("invalid backing configuration")
	// ErrConnectionExhausted signals pool saturation. Transient; callers
	// retry with backoff.
	ErrConnectionExhausted = errors.New("connection pool exhausted")
	// ErrRouterClosed is returned after shutdown has disposed the cache.
	ErrRouterClosed = errors.New("connection router is closed")
)

// authorizer, provisioner and enforcer are the router's collaborators,
// narrowed to what Resolve needs so tests can substitute them.
type authorizer interface {
	Authorize(ctx context.Context, principalID, projectID uint, required permission.Permission) error
}

type provisioner interface {
	ProvisionEmbedded(project *model.Project, cfg *model.BackingConfig) (bool, error)
	ProvisionShared(ctx context.Context, project *model.Project, db *gorm.DB) error
	CleanupEmbedded(cfg *model.BackingConfig)
}

type enforcer interface {
	EnsureIsolation(ctx context.Context, db *gorm.DB, projectID uint, tables ...string) error
}

// Router is the single entry point for obtaining a project database
// connection. It authorizes the caller, lazily provisions storage on first
// access, and caches one shared Handle per project for the process lifetime.
//
// Failures are never cached: a failed first access leaves no cache entry and
// the next caller retries provisioning from scratch.
type Router struct {
	registry *registry.Registry
	gate     authorizer
	prov     provisioner
	enforcer enforcer
	cfg      config.ProjectDBConfig
	log      *zap.Logger

	mu      sync.Mutex // guards handles, locks and closed
	handles map[uint]*Handle
	locks   map[uint]*sync.Mutex
	closed  bool
}

// New creates a Router.
func New(reg *registry.Registry, gate *permission.Gate, prov *provision.Provisioner, enf *isolation.Enforcer, cfg config.ProjectDBConfig, log *zap.Logger) *Router {
	return &Router{
		registry: reg,
		gate:     gate,
		prov:     prov,
		enforcer: enf,
		cfg:      cfg,
		log:      log,
		handles:  make(map[uint]*Handle),
		locks:    make(map[uint]*sync.Mutex),
	}
}

// Resolve authorizes the principal for read access and returns the
// project's connection handle, provisioning the backing store on first
// access. Every concurrent caller for the same project receives the same
// cached Handle.
func (r *Router) Resolve(ctx context.Context, principalID, projectID uint) (*Handle, error) {
	if err := r.gate.Authorize(ctx, principalID, projectID, permission.PermRead); err != nil {
		prometheus.RecordAccessError("access_denied")
		return nil, err
	}

	project, err := r.registry.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, registry.ErrProjectNotFound) {
			prometheus.RecordAccessError("project_not_found")
		}
		return nil, err
	}
	mode := project.BackingMode.String()

	if h, ok := r.cached(projectID); ok {
		prometheus.RecordResolve(mode, "hit")
		return h, nil
	}

	// Per-project lock: exactly one caller runs provisioning while the
	// rest block here and reuse its result. The global cache mutex is
	// never held across the I/O below.
	lock, err := r.projectLock(projectID)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	// A concurrent caller may have finished while we waited.
	if h, ok := r.cached(projectID); ok {
		prometheus.RecordResolve(mode, "hit")
		return h, nil
	}

	cfg, err := r.validateConfig(project)
	if err != nil {
		prometheus.RecordResolve(mode, "error")
		prometheus.RecordAccessError("backend_config_invalid")
		return nil, err
	}

	handle, err := r.open(ctx, project, cfg)
	if err != nil {
		prometheus.RecordResolve(mode, "error")
		r.log.Error("failed to open project database",
			zap.Uint("project_id", projectID),
			zap.String("backing_mode", mode),
			zap.Error(err))
		return nil, err
	}

	if err := r.store(projectID, handle); err != nil {
		handle.Close()
		return nil, err
	}

	prometheus.RecordResolve(mode, "provisioned")
	r.log.Info("project database connected",
		zap.Uint("project_id", projectID),
		zap.String("backing_mode", mode))

	return handle, nil
}

// Evict drops a project's cached handle and closes it. The next Resolve
// re-opens the backing store.
func (r *Router) Evict(projectID uint) {
	r.mu.Lock()
	h, ok := r.handles[projectID]
	if ok {
		delete(r.handles, projectID)
	}
	count := len(r.handles)
	r.mu.Unlock()

	if ok {
		h.Close()
		prometheus.SetCachedHandles(count)
	}
}

// Close disposes every cached handle exactly once. Called at process
// shutdown; subsequent resolves fail with ErrRouterClosed.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := r.handles
	r.handles = make(map[uint]*Handle)
	r.mu.Unlock()

	for projectID, h := range handles {
		h.Close()
		r.log.Info("closed project database connection", zap.Uint("project_id", projectID))
	}
	prometheus.SetCachedHandles(0)
}

func (r *Router) cached(projectID uint) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[projectID]
	return h, ok
}

func (r *Router) store(projectID uint, h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRouterClosed
	}
	r.handles[projectID] = h
	prometheus.SetCachedHandles(len(r.handles))
	return nil
}

// projectLock returns the provisioning lock for a project id, creating it
// on first use. Lock entries are bounded by the number of projects.
func (r *Router) projectLock(projectID uint) (*sync.Mutex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRouterClosed
	}
	lock, ok := r.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[projectID] = lock
	}
	return lock, nil
}

func (r *Router) validateConfig(project *model.Project) (*model.BackingConfig, error) {
	cfg, err := project.Config()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendConfigInvalid, err)
	}
	if err := cfg.Validate(project.BackingMode); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendConfigInvalid, err)
	}
	return cfg, nil
}

// open provisions (idempotently) and connects the project's backing store.
// Runs under the per-project lock only.
func (r *Router) open(ctx context.Context, project *model.Project, cfg *model.BackingConfig) (*Handle, error) {
	switch project.BackingMode {
	case model.ModeEmbedded:
		if _, err := r.prov.ProvisionEmbedded(project, cfg); err != nil {
			return nil, err
		}
		db, err := r.openEmbedded(cfg)
		if err != nil {
			return nil, err
		}
		return newHandle(project.ID, project.BackingMode, db), nil

	case model.ModeShared:
		db, err := r.openShared(cfg)
		if err != nil {
			return nil, err
		}
		if err := r.prov.ProvisionShared(ctx, project, db); err != nil {
			closeDB(db)
			return nil, err
		}
		return newHandle(project.ID, project.BackingMode, db), nil

	case model.ModeSharedIsolated:
		db, err := r.openShared(cfg)
		if err != nil {
			return nil, err
		}
		if err := r.prov.ProvisionShared(ctx, project, db); err != nil {
			closeDB(db)
			return nil, err
		}
		if err := r.enforcer.EnsureIsolation(ctx, db, project.ID); err != nil {
			closeDB(db)
			return nil, err
		}
		return newHandle(project.ID, project.BackingMode, db), nil

	default:
		return nil, fmt.Errorf("%w: unknown backing mode %q", ErrBackendConfigInvalid, project.BackingMode)
	}
}
