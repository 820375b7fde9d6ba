package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/trowelhq/stratum/internal/model"
	"github.com/trowelhq/stratum/internal/schema"
	"github.com/trowelhq/stratum/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrProvisioningFailed wraps every failure to create a project's physical
// storage. Callers treat it as all-or-nothing: partial state is rolled back
// before the error surfaces.
var ErrProvisioningFailed = errors.New("provisioning failed")

// Provisioner creates the physical storage for new projects: a template
// file copy for embedded mode, an idempotent schema application for the
// shared modes.
type Provisioner struct {
	templatePath string
	log          *zap.Logger
}

// New creates a Provisioner. templatePath must point at the versioned
// schema-and-seed template database; its existence is verified at startup.
func New(templatePath string, log *zap.Logger) *Provisioner {
	return &Provisioner{templatePath: templatePath, log: log}
}

// ProvisionEmbedded materializes the SQLite file for an embedded project by
// copying the template. An existing target file means the project is already
// provisioned: the call succeeds without touching it and reports created as
// false. The copy goes through a temp file and rename so a crash never
// leaves a half-written database at the target path.
func (p *Provisioner) ProvisionEmbedded(project *model.Project, cfg *model.BackingConfig) (created bool, err error) {
	defer prometheus.TrackProvision(model.ModeEmbedded.String())(time.Now())

	if _, err := os.Stat(cfg.Path); err == nil {
		prometheus.RecordProvision(model.ModeEmbedded.String(), "noop")
		return false, nil
	} else if !os.IsNotExist(err) {
		prometheus.RecordProvision(model.ModeEmbedded.String(), "error")
		return false, fmt.Errorf("%w: stat %s: %v", ErrProvisioningFailed, cfg.Path, err)
	}

	if err := p.copyTemplate(cfg.Path); err != nil {
		prometheus.RecordProvision(model.ModeEmbedded.String(), "error")
		return false, err
	}

	prometheus.RecordProvision(model.ModeEmbedded.String(), "ok")
	p.log.Info("embedded project database provisioned",
		zap.Uint("project_id", project.ID),
		zap.String("path", cfg.Path),
		zap.String("template", p.templatePath))

	return true, nil
}

func (p *Provisioner) copyTemplate(target string) error {
	src, err := os.Open(p.templatePath)
	if err != nil {
		return fmt.Errorf("%w: open template %s: %v", ErrProvisioningFailed, p.templatePath, err)
	}
	defer src.Close()

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory %s: %v", ErrProvisioningFailed, dir, err)
	}

	// Temp file in the target directory so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(dir, ".provision-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file in %s: %v", ErrProvisioningFailed, dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: copy template: %v", ErrProvisioningFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: sync template copy: %v", ErrProvisioningFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close template copy: %v", ErrProvisioningFailed, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: chmod template copy: %v", ErrProvisioningFailed, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename into place: %v", ErrProvisioningFailed, err)
	}
	return nil
}

// ProvisionShared applies the fixed data-plane schema to a shared project
// store. Every statement carries IF NOT EXISTS semantics, so re-running
// against an already-provisioned database is a no-op.
func (p *Provisioner) ProvisionShared(ctx context.Context, project *model.Project, db *gorm.DB) error {
	mode := project.BackingMode.String()
	defer prometheus.TrackProvision(mode)(time.Now())

	for _, stmt := range schema.DDL {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			prometheus.RecordProvision(mode, "error")
			return fmt.Errorf("%w: apply schema: %v", ErrProvisioningFailed, err)
		}
	}

	prometheus.RecordProvision(mode, "ok")
	p.log.Info("shared project schema applied",
		zap.Uint("project_id", project.ID),
		zap.String("backing_mode", mode))

	return nil
}

// CleanupEmbedded removes a freshly-created embedded database file as part
// of the compensating rollback after a failed project creation. Callers must
// only invoke it when ProvisionEmbedded reported the file was created by
// this attempt; pre-existing files are never touched.
func (p *Provisioner) CleanupEmbedded(cfg *model.BackingConfig) {
	if err := os.Remove(cfg.Path); err != nil && !os.IsNotExist(err) {
		p.log.Warn("failed to remove partially provisioned database",
			zap.String("path", cfg.Path),
			zap.Error(err))
	}
}

// TemplatePath returns the configured template artifact path.
func (p *Provisioner) TemplatePath() string {
	return p.templatePath
}
