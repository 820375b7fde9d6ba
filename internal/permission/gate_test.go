package permission

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trowelhq/stratum/internal/model"
	"github.com/trowelhq/stratum/internal/registry"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestGate(t *testing.T) (*Gate, *registry.Registry) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "control.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	reg := registry.New(db, zap.NewNop())
	require.NoError(t, reg.Migrate())
	return NewGate(reg, zap.NewNop()), reg
}

func createProject(t *testing.T, reg *registry.Registry, owner uint) *model.Project {
	t.Helper()

	project := &model.Project{Name: "dig", OwnerID: owner, BackingMode: model.ModeEmbedded}
	require.NoError(t, project.SetConfig(&model.BackingConfig{
		Path: filepath.Join(t.TempDir(), "dig.db"),
	}))
	require.NoError(t, reg.Create(context.Background(), project, model.DefaultPermissions(model.RoleOwner)))
	return project
}

func TestAuthorizeNoMembership(t *testing.T) {
	gate, reg := newTestGate(t)
	project := createProject(t, reg, 1)

	err := gate.Authorize(context.Background(), 99, project.ID, PermRead)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthorizeOwnerAndAdminBypassPermissionMap(t *testing.T) {
	gate, reg := newTestGate(t)
	ctx := context.Background()
	project := createProject(t, reg, 1)

	// Admin with an all-false explicit set still passes everything.
	none := model.Permissions{}
	_, err := reg.AddMembership(ctx, project.ID, 2, model.RoleAdmin, &none)
	require.NoError(t, err)

	for _, perm := range []Permission{PermRead, PermEdit, PermDelete, PermInvite} {
		assert.NoError(t, gate.Authorize(ctx, 1, project.ID, perm), "owner %s", perm)
		assert.NoError(t, gate.Authorize(ctx, 2, project.ID, perm), "admin %s", perm)
	}
}

func TestAuthorizeMemberExplicitPermissions(t *testing.T) {
	gate, reg := newTestGate(t)
	ctx := context.Background()
	project := createProject(t, reg, 1)

	perms := model.Permissions{CanEdit: true, CanDelete: false}
	_, err := reg.AddMembership(ctx, project.ID, 3, model.RoleMember, &perms)
	require.NoError(t, err)

	assert.NoError(t, gate.Authorize(ctx, 3, project.ID, PermRead))
	assert.NoError(t, gate.Authorize(ctx, 3, project.ID, PermEdit))
	assert.ErrorIs(t, gate.Authorize(ctx, 3, project.ID, PermDelete), ErrAccessDenied)
	assert.ErrorIs(t, gate.Authorize(ctx, 3, project.ID, PermInvite), ErrAccessDenied)
}

func TestAuthorizeViewerReadOnly(t *testing.T) {
	gate, reg := newTestGate(t)
	ctx := context.Background()
	project := createProject(t, reg, 1)

	_, err := reg.AddMembership(ctx, project.ID, 4, model.RoleViewer, nil)
	require.NoError(t, err)

	assert.NoError(t, gate.Authorize(ctx, 4, project.ID, PermRead))
	assert.ErrorIs(t, gate.Authorize(ctx, 4, project.ID, PermEdit), ErrAccessDenied)
}

func TestEvaluateUnreadablePermissionBlob(t *testing.T) {
	membership := &model.Membership{Role: model.RoleMember, Permissions: "{broken"}
	assert.True(t, Evaluate(membership, PermRead))
	assert.False(t, Evaluate(membership, PermEdit))
}
