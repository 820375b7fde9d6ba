package isolation

import (
	"context"
	"errors"
	"fmt"

	"github.com/trowelhq/stratum/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrIsolationSetupFailed wraps every failure to establish row-level
// isolation for a project on the shared server.
var ErrIsolationSetupFailed = errors.New("isolation setup failed")

// scopeColumn is the project-scope column every isolated table carries.
const scopeColumn = "project_id"

// Enforcer installs row-level security on the shared PostgreSQL server so
// that queries from one project only ever see that project's rows. Setup is
// idempotent and runs lazily on first access to a shared_isolated project,
// since the filter predicate depends on the project id.
//
// Table and column names are taken exclusively from the fixed schema
// registry; no identifier is ever built from caller input.
type Enforcer struct {
	log *zap.Logger
}

// NewEnforcer creates an Enforcer.
func NewEnforcer(log *zap.Logger) *Enforcer {
	return &Enforcer{log: log}
}

// PolicyName returns the row-security policy name for a (table, project)
// pair. One policy exists per pair so multiple projects can share a table.
func PolicyName(table string, projectID uint) string {
	return fmt.Sprintf("project_isolation_%s_p%d", table, projectID)
}

// EnsureIsolation makes row-level filtering active for the project on every
// given table (all registry tables when none are named). For each table it
// adds the scope column if missing, enables row-level security, and installs
// the project's filter policy. Re-applying to an already-isolated table is a
// no-op, detected by checking for the existing column and policy first.
func (e *Enforcer) EnsureIsolation(ctx context.Context, db *gorm.DB, projectID uint, tables ...string) error {
	if len(tables) == 0 {
		tables = schema.Tables()
	}

	for _, table := range tables {
		if !schema.IsKnownTable(table) {
			return fmt.Errorf("%w: table %q is not in the isolation registry", ErrIsolationSetupFailed, table)
		}
		if err := e.isolateTable(ctx, db, table, projectID); err != nil {
			return err
		}
	}

	e.log.Info("row-level isolation active",
		zap.Uint("project_id", projectID),
		zap.Int("tables", len(tables)))

	return nil
}

func (e *Enforcer) isolateTable(ctx context.Context, db *gorm.DB, table string, projectID uint) error {
	tx := db.WithContext(ctx)

	hasColumn, err := e.columnExists(tx, table)
	if err != nil {
		return err
	}
	if !hasColumn {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s INTEGER", table, scopeColumn)
		if err := tx.Exec(stmt).Error; err != nil {
			return fmt.Errorf("%w: add %s column to %s: %v", ErrIsolationSetupFailed, scopeColumn, table, err)
		}
	}

	// Enabling row security twice is harmless in PostgreSQL.
	if err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table)).Error; err != nil {
		return fmt.Errorf("%w: enable row security on %s: %v", ErrIsolationSetupFailed, table, err)
	}

	policy := PolicyName(table, projectID)
	hasPolicy, err := e.policyExists(tx, table, policy)
	if err != nil {
		return err
	}
	if hasPolicy {
		return nil
	}

	stmt := fmt.Sprintf("CREATE POLICY %s ON %s USING (%s = %d)", policy, table, scopeColumn, projectID)
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("%w: create policy %s: %v", ErrIsolationSetupFailed, policy, err)
	}

	e.log.Debug("isolation policy installed",
		zap.String("table", table),
		zap.String("policy", policy),
		zap.Uint("project_id", projectID))

	return nil
}

func (e *Enforcer) columnExists(tx *gorm.DB, table string) (bool, error) {
	var count int64
	err := tx.Raw(
		"SELECT COUNT(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?",
		table, scopeColumn,
	).Scan(&count).Error
	if err != nil {
		return false, fmt.Errorf("%w: inspect columns of %s: %v", ErrIsolationSetupFailed, table, err)
	}
	return count > 0, nil
}

func (e *Enforcer) policyExists(tx *gorm.DB, table, policy string) (bool, error) {
	var count int64
	err := tx.Raw(
		"SELECT COUNT(*) FROM pg_policies WHERE tablename = ? AND policyname = ?",
		table, policy,
	).Scan(&count).Error
	if err != nil {
		return false, fmt.Errorf("%w: inspect policies of %s: %v", ErrIsolationSetupFailed, table, err)
	}
	return count > 0, nil
}
