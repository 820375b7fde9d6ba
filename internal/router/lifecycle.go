package router

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/trowelhq/stratum/internal/model"
	"github.com/trowelhq/stratum/internal/permission"
	"github.com/trowelhq/stratum/internal/provision"
	"github.com/trowelhq/stratum/prometheus"
	"go.uber.org/zap"
)

// ProjectDraft describes a project to be created.
type ProjectDraft struct {
	Name        string
	Description string
	OwnerID     uint
	Mode        model.BackingMode
	Config      model.BackingConfig
	IsPersonal  bool
	// OwnerPermissions overrides the default owner permission set when
	// non-nil (personal workspaces drop can_invite).
	OwnerPermissions *model.Permissions
}

// CreateProject registers a project and provisions its physical storage as
// one logical unit: if provisioning fails after the registry row was
// written, the row (and any partial file) is removed again. Isolation setup
// for shared_isolated projects is deliberately not performed here — it runs
// lazily on first Resolve, once the project id exists.
func (r *Router) CreateProject(ctx context.Context, draft ProjectDraft) (*model.Project, error) {
	prometheus.RecordProjectOperation("create")

	cfg := draft.Config
	if draft.Mode == model.ModeEmbedded && cfg.Path == "" {
		// Fresh unique file per project; embedded paths are never shared.
		cfg.Path = filepath.Join(r.cfg.DataDir, fmt.Sprintf("project_%s.db", uuid.New().String()))
	}

	project := &model.Project{
		Name:        draft.Name,
		Description: draft.Description,
		OwnerID:     draft.OwnerID,
		BackingMode: draft.Mode,
		IsPersonal:  draft.IsPersonal,
	}
	if err := project.SetConfig(&cfg); err != nil {
		return nil, err
	}

	perms := model.DefaultPermissions(model.RoleOwner)
	if draft.OwnerPermissions != nil {
		perms = *draft.OwnerPermissions
	}

	// Registry create validates mode and config and is atomic with the
	// owner membership insert.
	if err := r.registry.Create(ctx, project, perms); err != nil {
		return nil, err
	}

	if err := r.provisionNew(ctx, project, &cfg); err != nil {
		// Compensating action: the control plane must not keep a row for
		// storage that was never created.
		if delErr := r.registry.Delete(ctx, project.ID); delErr != nil {
			r.log.Error("failed to roll back project after provisioning failure",
				zap.Uint("project_id", project.ID),
				zap.Error(delErr))
		}
		r.log.Error("project provisioning failed",
			zap.Uint("project_id", project.ID),
			zap.String("backing_mode", project.BackingMode.String()),
			zap.Error(err))
		prometheus.RecordAccessError("provisioning_failed")
		return nil, err
	}

	return project, nil
}

func (r *Router) provisionNew(ctx context.Context, project *model.Project, cfg *model.BackingConfig) error {
	switch project.BackingMode {
	case model.ModeEmbedded:
		// A failed copy never leaves a partial target file; the temp file
		// is removed inside the provisioner.
		_, err := r.prov.ProvisionEmbedded(project, cfg)
		return err

	case model.ModeShared, model.ModeSharedIsolated:
		db, err := r.openShared(cfg)
		if err != nil {
			return fmt.Errorf("%w: %v", provision.ErrProvisioningFailed, err)
		}
		defer closeDB(db)
		return r.prov.ProvisionShared(ctx, project, db)

	default:
		return fmt.Errorf("%w: unknown backing mode %q", ErrBackendConfigInvalid, project.BackingMode)
	}
}

// DeleteProject removes a project from the control plane and evicts its
// cached handle. Only the owner may delete, and personal workspaces are
// protected.
func (r *Router) DeleteProject(ctx context.Context, principalID, projectID uint) error {
	prometheus.RecordProjectOperation("delete")

	project, err := r.registry.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID != principalID {
		prometheus.RecordAccessError("access_denied")
		return fmt.Errorf("%w: only the project owner can delete a project", permission.ErrAccessDenied)
	}
	if project.IsPersonal {
		return fmt.Errorf("personal workspaces cannot be deleted")
	}

	r.Evict(projectID)
	if err := r.registry.Delete(ctx, projectID); err != nil {
		return err
	}

	// Embedded stores are dedicated to one project; remove the file with
	// the registry row.
	if project.BackingMode == model.ModeEmbedded {
		if cfg, err := project.Config(); err == nil {
			r.prov.CleanupEmbedded(cfg)
		}
	}

	r.log.Info("project deleted",
		zap.Uint("project_id", projectID),
		zap.Uint("principal_id", principalID))

	return nil
}
