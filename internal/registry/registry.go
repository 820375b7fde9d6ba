package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/trowelhq/stratum/internal/model"
	"github.com/trowelhq/stratum/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Control-plane errors.
var (
	ErrProjectNotFound    = errors.New("project not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrCannotRemoveOwner  = errors.New("cannot remove project owner membership")
	ErrCannotModifyOwner  = errors.New("cannot modify project owner membership")
	ErrInvalidBackingMode = errors.New("invalid backing mode")
)

// Registry is the durable control-plane store of projects and team
// memberships. All writes are transactional against the control-plane
// database, which is separate from every project data store.
type Registry struct {
	db  *gorm.DB
	log *zap.Logger
}

// New creates a Registry over the control-plane database.
func New(db *gorm.DB, log *zap.Logger) *Registry {
	return &Registry{db: db, log: log}
}

// Migrate creates or updates the control-plane tables.
func (r *Registry) Migrate() error {
	if err := r.db.AutoMigrate(&model.Project{}, &model.Membership{}); err != nil {
		return fmt.Errorf("failed to run control-plane migrations: %w", err)
	}
	return nil
}

// DB exposes the underlying control-plane handle.
func (r *Registry) DB() *gorm.DB {
	return r.db
}

// Create inserts a project together with its initial owner membership.
// Both rows commit or neither does. Unknown backing modes and incomplete
// backing configs are rejected here, never deferred to first access.
func (r *Registry) Create(ctx context.Context, project *model.Project, ownerPerms model.Permissions) error {
	if !project.BackingMode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidBackingMode, project.BackingMode)
	}

	cfg, err := project.Config()
	if err != nil {
		return err
	}
	if err := cfg.Validate(project.BackingMode); err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return fmt.Errorf("create project: %w", err)
		}

		membership := model.Membership{
			ProjectID:   project.ID,
			PrincipalID: project.OwnerID,
			Role:        model.RoleOwner,
		}
		if err := membership.SetPermissions(ownerPerms); err != nil {
			return err
		}
		if err := tx.Create(&membership).Error; err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info("project created",
		zap.Uint("project_id", project.ID),
		zap.String("name", project.Name),
		zap.String("backing_mode", project.BackingMode.String()),
		zap.Uint("owner_id", project.OwnerID))

	return nil
}

// Get looks up a project by id.
func (r *Registry) Get(ctx context.Context, id uint) (*model.Project, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var project model.Project
	if err := r.db.WithContext(ctx).First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrProjectNotFound, id)
		}
		return nil, err
	}
	return &project, nil
}

// ListForPrincipal returns the memberships of a principal with their
// projects preloaded.
func (r *Registry) ListForPrincipal(ctx context.Context, principalID uint) ([]model.Membership, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var memberships []model.Membership
	err := r.db.WithContext(ctx).
		Preload("Project").
		Where("principal_id = ?", principalID).
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// ListMembers returns every membership of a project.
func (r *Registry) ListMembers(ctx context.Context, projectID uint) ([]model.Membership, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var memberships []model.Membership
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// GetMembership looks up a principal's membership in a project.
func (r *Registry) GetMembership(ctx context.Context, projectID, principalID uint) (*model.Membership, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var membership model.Membership
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND principal_id = ?", projectID, principalID).
		First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &membership, nil
}

// AddMembership adds a principal to a project team, or updates their role
// and permissions if they are already a member. The owner role can never be
// assigned through this path.
func (r *Registry) AddMembership(ctx context.Context, projectID, principalID uint, role model.Role, perms *model.Permissions) (*model.Membership, error) {
	if role == model.RoleOwner {
		return nil, fmt.Errorf("%w: owner role is assigned only at project creation", ErrCannotModifyOwner)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role: %q", role)
	}

	if _, err := r.Get(ctx, projectID); err != nil {
		return nil, err
	}

	permissions := model.DefaultPermissions(role)
	if perms != nil {
		permissions = *perms
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	existing, err := r.GetMembership(ctx, projectID, principalID)
	if err == nil {
		if existing.Role == model.RoleOwner {
			return nil, ErrCannotModifyOwner
		}
		existing.Role = role
		if err := existing.SetPermissions(permissions); err != nil {
			return nil, err
		}
		if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
			return nil, fmt.Errorf("update membership: %w", err)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrMembershipNotFound) {
		return nil, err
	}

	membership := model.Membership{
		ProjectID:   projectID,
		PrincipalID: principalID,
		Role:        role,
	}
	if err := membership.SetPermissions(permissions); err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(&membership).Error; err != nil {
		return nil, fmt.Errorf("create membership: %w", err)
	}

	r.log.Info("membership added",
		zap.Uint("project_id", projectID),
		zap.Uint("principal_id", principalID),
		zap.String("role", string(role)))

	return &membership, nil
}

// UpdateMembership changes a member's role and/or permission set. The owner
// membership is immutable, and the owner role cannot be granted here.
func (r *Registry) UpdateMembership(ctx context.Context, projectID, principalID uint, role *model.Role, perms *model.Permissions) (*model.Membership, error) {
	membership, err := r.GetMembership(ctx, projectID, principalID)
	if err != nil {
		return nil, err
	}
	if membership.Role == model.RoleOwner {
		return nil, ErrCannotModifyOwner
	}

	if role != nil {
		if *role == model.RoleOwner {
			return nil, fmt.Errorf("%w: owner role is assigned only at project creation", ErrCannotModifyOwner)
		}
		if !role.Valid() {
			return nil, fmt.Errorf("invalid role: %q", *role)
		}
		membership.Role = *role
	}
	if perms != nil {
		if err := membership.SetPermissions(*perms); err != nil {
			return nil, err
		}
	}

	defer prometheus.TrackDBOperation("update")(time.Now())

	if err := r.db.WithContext(ctx).Save(membership).Error; err != nil {
		return nil, fmt.Errorf("update membership: %w", err)
	}
	return membership, nil
}

// RemoveMembership removes a principal from a project team. Removing the
// owner membership always fails.
func (r *Registry) RemoveMembership(ctx context.Context, projectID, principalID uint) error {
	membership, err := r.GetMembership(ctx, projectID, principalID)
	if err != nil {
		return err
	}
	if membership.Role == model.RoleOwner {
		return ErrCannotRemoveOwner
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())

	if err := r.db.WithContext(ctx).Delete(membership).Error; err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}

	r.log.Info("membership removed",
		zap.Uint("project_id", projectID),
		zap.Uint("principal_id", principalID))

	return nil
}

// Delete removes a project and all of its memberships in one transaction.
// Used both for the owner-initiated delete and as the compensating action
// when provisioning fails after the project row was created.
func (r *Registry) Delete(ctx context.Context, projectID uint) error {
	defer prometheus.TrackDBOperation("delete")(time.Now())

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&model.Membership{}).Error; err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		result := tx.Delete(&model.Project{}, projectID)
		if result.Error != nil {
			return fmt.Errorf("delete project: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: id %d", ErrProjectNotFound, projectID)
		}
		return nil
	})
}

// CreatePersonal creates the embedded personal workspace for a new user:
// one SQLite file under dataDir, owner membership without invite rights.
func (r *Registry) CreatePersonal(ctx context.Context, userID uint, userName, dataDir string) (*model.Project, error) {
	project := &model.Project{
		Name:        fmt.Sprintf("Personal Workspace - %s", userName),
		Description: "Personal database for field work",
		OwnerID:     userID,
		BackingMode: model.ModeEmbedded,
		IsPersonal:  true,
	}
	cfg := &model.BackingConfig{
		Path: filepath.Join(dataDir, fmt.Sprintf("user_%d.db", userID)),
	}
	if err := project.SetConfig(cfg); err != nil {
		return nil, err
	}

	// Personal workspaces never grow a team.
	perms := model.Permissions{CanEdit: true, CanDelete: true, CanInvite: false}
	if err := r.Create(ctx, project, perms); err != nil {
		return nil, err
	}
	return project, nil
}
