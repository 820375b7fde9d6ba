package router

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trowelhq/stratum/internal/isolation"
	"github.com/trowelhq/stratum/internal/model"
	"github.com/trowelhq/stratum/internal/permission"
	"github.com/trowelhq/stratum/internal/provision"
	"github.com/trowelhq/stratum/internal/registry"
	"github.com/trowelhq/stratum/pkg/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// makeTemplate builds a small but genuine SQLite database to act as the
// provisioning template.
func makeTemplate(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "template.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE site_info (id INTEGER PRIMARY KEY, name TEXT)").Error)
	require.NoError(t, db.Exec("INSERT INTO site_info (name) VALUES ('seed')").Error)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	return path
}

func newTestRouter(t *testing.T) (*Router, *registry.Registry) {
	t.Helper()

	controlPath := filepath.Join(t.TempDir(), "control.db")
	db, err := gorm.Open(sqlite.Open(controlPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	reg := registry.New(db, zap.NewNop())
	require.NoError(t, reg.Migrate())

	template := makeTemplate(t)
	cfg := config.ProjectDBConfig{
		DataDir:         t.TempDir(),
		TemplatePath:    template,
		MaxIdleConns:    2,
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Hour,
		LogLevel:        gormlogger.Silent,
	}

	rt := New(
		reg,
		permission.NewGate(reg, zap.NewNop()),
		provision.New(template, zap.NewNop()),
		isolation.NewEnforcer(zap.NewNop()),
		cfg,
		zap.NewNop(),
	)
	t.Cleanup(rt.Close)
	return rt, reg
}

// registerEmbedded writes an embedded project straight into the control
// plane without provisioning, so first Resolve is a true first access.
func registerEmbedded(t *testing.T, reg *registry.Registry, owner uint, path string) *model.Project {
	t.Helper()

	project := &model.Project{Name: "dig", OwnerID: owner, BackingMode: model.ModeEmbedded}
	require.NoError(t, project.SetConfig(&model.BackingConfig{Path: path}))
	require.NoError(t, reg.Create(context.Background(), project, model.DefaultPermissions(model.RoleOwner)))
	return project
}

// countingProvisioner wraps the real provisioner and counts embedded runs.
type countingProvisioner struct {
	provisioner
	embeddedCalls atomic.Int32
}

func (c *countingProvisioner) ProvisionEmbedded(project *model.Project, cfg *model.BackingConfig) (bool, error) {
	c.embeddedCalls.Add(1)
	return c.provisioner.ProvisionEmbedded(project, cfg)
}

func TestResolveUnknownProject(t *testing.T) {
	rt, reg := newTestRouter(t)

	// A membership row pointing at a vanished project still fails lookup.
	project := registerEmbedded(t, reg, 1, filepath.Join(t.TempDir(), "dig.db"))
	require.NoError(t, reg.DB().Unscoped().Delete(&model.Project{}, project.ID).Error)

	_, err := rt.Resolve(context.Background(), 1, project.ID)
	assert.ErrorIs(t, err, registry.ErrProjectNotFound)

	_, err = rt.Resolve(context.Background(), 1, 12345)
	assert.ErrorIs(t, err, permission.ErrAccessDenied)
}

func TestResolveNoMembership(t *testing.T) {
	rt, reg := newTestRouter(t)
	project := registerEmbedded(t, reg, 1, filepath.Join(t.TempDir(), "dig.db"))

	_, err := rt.Resolve(context.Background(), 99, project.ID)
	assert.ErrorIs(t, err, permission.ErrAccessDenied)
}

func TestResolveProvisionsOnFirstAccessAndCaches(t *testing.T) {
	rt, reg := newTestRouter(t)
	ctx := context.Background()

	target := filepath.Join(t.TempDir(), "proj1.db")
	project := registerEmbedded(t, reg, 1, target)

	counting := &countingProvisioner{provisioner: rt.prov}
	rt.prov = counting

	first, err := rt.Resolve(ctx, 1, project.ID)
	require.NoError(t, err)
	assert.FileExists(t, target)

	second, err := rt.Resolve(ctx, 1, project.ID)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, counting.embeddedCalls.Load())

	// The template seed data came along.
	var count int64
	require.NoError(t, first.DB().Table("site_info").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConcurrentFirstAccess(t *testing.T) {
	rt, reg := newTestRouter(t)
	ctx := context.Background()

	project := registerEmbedded(t, reg, 1, filepath.Join(t.TempDir(), "proj1.db"))

	counting := &countingProvisioner{provisioner: rt.prov}
	rt.prov = counting

	const callers = 16
	handles := make([]*Handle, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = rt.Resolve(ctx, 1, project.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
	assert.EqualValues(t, 1, counting.embeddedCalls.Load())
}

func TestResolveInvalidStoredConfig(t *testing.T) {
	rt, reg := newTestRouter(t)
	ctx := context.Background()

	// A shared project whose stored config lost its host, inserted directly
	// to bypass creation-time validation (simulates a legacy row).
	project := &model.Project{
		Name:          "legacy",
		OwnerID:       1,
		BackingMode:   model.ModeShared,
		BackingConfig: `{"port":5432,"database":"digs","user":"stratum"}`,
	}
	require.NoError(t, reg.DB().Create(project).Error)
	membership := &model.Membership{ProjectID: project.ID, PrincipalID: 1, Role: model.RoleOwner}
	require.NoError(t, reg.DB().Create(membership).Error)

	_, err := rt.Resolve(ctx, 1, project.ID)
	require.ErrorIs(t, err, ErrBackendConfigInvalid)
	assert.Contains(t, err.Error(), "host")
}

func TestFailedProvisioningIsNotCached(t *testing.T) {
	rt, reg := newTestRouter(t)
	ctx := context.Background()

	project := registerEmbedded(t, reg, 1, filepath.Join(t.TempDir(), "proj1.db"))

	good := rt.prov
	rt.prov = provision.New(filepath.Join(t.TempDir(), "absent-template.db"), zap.NewNop())

	_, err := rt.Resolve(ctx, 1, project.ID)
	require.ErrorIs(t, err, provision.ErrProvisioningFailed)

	// The failure was not cached: the next caller retries and succeeds.
	rt.prov = good
	handle, err := rt.Resolve(ctx, 1, project.ID)
	require.NoError(t, err)
	assert.NotNil(t, handle)
}

func TestCreateProjectCompensatesOnProvisioningFailure(t *testing.T) {
	rt, reg := newTestRouter(t)
	ctx := context.Background()

	rt.prov = provision.New(filepath.Join(t.TempDir(), "absent-template.db"), zap.NewNop())

	_, err := rt.CreateProject(ctx, ProjectDraft{
		Name:    "doomed",
		OwnerID: 1,
		Mode:    model.ModeEmbedded,
	})
	require.ErrorIs(t, err, provision.ErrProvisioningFailed)

	// The registry row was rolled back with the failure.
	memberships, err := reg.ListForPrincipal(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, memberships)
}

func TestCreateProjectEmbeddedDefaults(t *testing.T) {
	rt, reg := newTestRouter(t)
	ctx := context.Background()

	first, err := rt.CreateProject(ctx, ProjectDraft{Name: "a", OwnerID: 1, Mode: model.ModeEmbedded})
	require.NoError(t, err)
	second, err := rt.CreateProject(ctx, ProjectDraft{Name: "b", OwnerID: 1, Mode: model.ModeEmbedded})
	require.NoError(t, err)

	cfg1, err := first.Config()
	require.NoError(t, err)
	cfg2, err := second.Config()
	require.NoError(t, err)

	// Auto-generated embedded paths are unique and already materialized.
	assert.NotEqual(t, cfg1.Path, cfg2.Path)
	assert.FileExists(t, cfg1.Path)
	assert.FileExists(t, cfg2.Path)

	_, err = reg.Get(ctx, first.ID)
	assert.NoError(t, err)
}

func TestCreateProjectRejectsUnknownMode(t *testing.T) {
	rt, _ := newTestRouter(t)

	_, err := rt.CreateProject(context.Background(), ProjectDraft{
		Name:    "bad",
		OwnerID: 1,
		Mode:    model.BackingMode("hybrid"),
		Config:  model.BackingConfig{Path: "/tmp/x.db"},
	})
	assert.ErrorIs(t, err, registry.ErrInvalidBackingMode)
}

func TestEvictDropsCachedHandle(t *testing.T) {
	rt, reg := newTestRouter(t)
	ctx := context.Background()

	project := registerEmbedded(t, reg, 1, filepath.Join(t.TempDir(), "proj1.db"))

	first, err := rt.Resolve(ctx, 1, project.ID)
	require.NoError(t, err)

	rt.Evict(project.ID)

	second, err := rt.Resolve(ctx, 1, project.ID)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestCloseDisposesAndRejectsResolve(t *testing.T) {
	rt, reg := newTestRouter(t)
	ctx := context.Background()

	project := registerEmbedded(t, reg, 1, filepath.Join(t.TempDir(), "proj1.db"))
	_, err := rt.Resolve(ctx, 1, project.ID)
	require.NoError(t, err)

	rt.Close()
	rt.Close() // second close is a no-op

	_, err = rt.Resolve(ctx, 1, project.ID)
	assert.ErrorIs(t, err, ErrRouterClosed)
}

func TestSessionReportsExhaustion(t *testing.T) {
	rt, reg := newTestRouter(t)
	rt.cfg.MaxOpenConns = 1
	ctx := context.Background()

	project := registerEmbedded(t, reg, 1, filepath.Join(t.TempDir(), "proj1.db"))
	handle, err := rt.Resolve(ctx, 1, project.ID)
	require.NoError(t, err)

	sqlDB, err := handle.DB().DB()
	require.NoError(t, err)

	// Hold the pool's only connection.
	conn, err := sqlDB.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	_, err = handle.Session(waitCtx)
	require.ErrorIs(t, err, ErrConnectionExhausted)

	// Releasing the connection makes the next session succeed.
	require.NoError(t, conn.Close())
	session, err := handle.Session(ctx)
	require.NoError(t, err)
	assert.NotNil(t, session)
}

func TestSessionCancellationLeavesHandleUsable(t *testing.T) {
	rt, reg := newTestRouter(t)
	ctx := context.Background()

	project := registerEmbedded(t, reg, 1, filepath.Join(t.TempDir(), "proj1.db"))
	handle, err := rt.Resolve(ctx, 1, project.ID)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = handle.Session(cancelled)
	require.Error(t, err)

	// One caller's cancellation never tears down the shared handle.
	session, err := handle.Session(ctx)
	require.NoError(t, err)
	var count int64
	require.NoError(t, session.Table("site_info").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
