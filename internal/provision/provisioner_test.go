package provision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trowelhq/stratum/internal/model"
	"go.uber.org/zap"
)

func writeTemplate(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "template.db")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProvisionEmbeddedCopiesTemplate(t *testing.T) {
	template := writeTemplate(t, "template-bytes")
	prov := New(template, zap.NewNop())

	target := filepath.Join(t.TempDir(), "nested", "dir", "proj1.db")
	project := &model.Project{ID: 1, BackingMode: model.ModeEmbedded}

	created, err := prov.ProvisionEmbedded(project, &model.BackingConfig{Path: target})
	require.NoError(t, err)
	assert.True(t, created)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "template-bytes", string(got))
}

func TestProvisionEmbeddedIsIdempotent(t *testing.T) {
	template := writeTemplate(t, "template-bytes")
	prov := New(template, zap.NewNop())

	target := filepath.Join(t.TempDir(), "proj1.db")
	project := &model.Project{ID: 1, BackingMode: model.ModeEmbedded}
	cfg := &model.BackingConfig{Path: target}

	created, err := prov.ProvisionEmbedded(project, cfg)
	require.NoError(t, err)
	require.True(t, created)

	// Simulate data written by the project after provisioning.
	require.NoError(t, os.WriteFile(target, []byte("live-data"), 0o644))

	created, err = prov.ProvisionEmbedded(project, cfg)
	require.NoError(t, err)
	assert.False(t, created)

	// The second call performed no write.
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "live-data", string(got))
}

func TestProvisionEmbeddedMissingTemplate(t *testing.T) {
	prov := New(filepath.Join(t.TempDir(), "absent.db"), zap.NewNop())

	target := filepath.Join(t.TempDir(), "proj1.db")
	project := &model.Project{ID: 1, BackingMode: model.ModeEmbedded}

	_, err := prov.ProvisionEmbedded(project, &model.BackingConfig{Path: target})
	require.ErrorIs(t, err, ErrProvisioningFailed)

	// No partial file may be left at the target.
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProvisionEmbeddedLeavesNoTempFiles(t *testing.T) {
	template := writeTemplate(t, "template-bytes")
	prov := New(template, zap.NewNop())

	dir := t.TempDir()
	project := &model.Project{ID: 1, BackingMode: model.ModeEmbedded}
	_, err := prov.ProvisionEmbedded(project, &model.BackingConfig{Path: filepath.Join(dir, "proj1.db")})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "proj1.db", entries[0].Name())
}

func TestCleanupEmbedded(t *testing.T) {
	prov := New("unused", zap.NewNop())

	target := filepath.Join(t.TempDir(), "proj1.db")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	prov.CleanupEmbedded(&model.BackingConfig{Path: target})
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))

	// Removing an already-absent file is silent.
	prov.CleanupEmbedded(&model.BackingConfig{Path: target})
}
