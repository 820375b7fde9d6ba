package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackingModeValid(t *testing.T) {
	assert.True(t, ModeEmbedded.Valid())
	assert.True(t, ModeShared.Valid())
	assert.True(t, ModeSharedIsolated.Valid())
	assert.False(t, BackingMode("sqlite").Valid())
	assert.False(t, BackingMode("").Valid())
}

func TestBackingConfigValidateEmbedded(t *testing.T) {
	cfg := &BackingConfig{}
	assert.Error(t, cfg.Validate(ModeEmbedded))

	cfg.Path = "/data/proj1.db"
	assert.NoError(t, cfg.Validate(ModeEmbedded))
}

func TestBackingConfigValidateShared(t *testing.T) {
	cfg := &BackingConfig{
		Port:     5432,
		Database: "digs",
		User:     "stratum",
	}
	err := cfg.Validate(ModeShared)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")

	cfg.Host = "db.internal"
	assert.NoError(t, cfg.Validate(ModeShared))
	assert.NoError(t, cfg.Validate(ModeSharedIsolated))

	cfg.Port = 70000
	err = cfg.Validate(ModeSharedIsolated)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestBackingConfigValidateUnknownMode(t *testing.T) {
	cfg := &BackingConfig{Path: "/data/x.db"}
	assert.Error(t, cfg.Validate(BackingMode("hybrid")))
}

func TestBackingConfigRoundTrip(t *testing.T) {
	cfg := &BackingConfig{Host: "db.internal", Port: 5432, Database: "digs", User: "stratum", Password: "secret"}
	raw, err := cfg.Marshal()
	require.NoError(t, err)

	parsed, err := ParseBackingConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestParseBackingConfigGarbage(t *testing.T) {
	_, err := ParseBackingConfig("{not json")
	assert.Error(t, err)
}

func TestDefaultPermissions(t *testing.T) {
	assert.Equal(t, Permissions{CanEdit: true, CanDelete: true, CanInvite: true}, DefaultPermissions(RoleOwner))
	assert.Equal(t, Permissions{CanEdit: true, CanDelete: true, CanInvite: true}, DefaultPermissions(RoleAdmin))
	assert.Equal(t, Permissions{CanEdit: true}, DefaultPermissions(RoleMember))
	assert.Equal(t, Permissions{}, DefaultPermissions(RoleViewer))
}

func TestParsePermissionsEmpty(t *testing.T) {
	// Absent permission blob means everything denied.
	perms, err := ParsePermissions("")
	require.NoError(t, err)
	assert.Equal(t, Permissions{}, perms)
}
