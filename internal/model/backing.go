package model

import (
	"encoding/json"
	"fmt"
)

// BackingMode selects the physical storage strategy for a project. It is
// fixed at creation time; there is no migration between modes.
type BackingMode string

const (
	// ModeEmbedded stores the project in a dedicated SQLite file.
	ModeEmbedded BackingMode = "embedded"
	// ModeShared stores all projects in one shared PostgreSQL schema.
	ModeShared BackingMode = "shared"
	// ModeSharedIsolated uses a shared PostgreSQL server with row-level
	// security scoping every query to the owning project.
	ModeSharedIsolated BackingMode = "shared_isolated"
)

// Valid reports whether the mode is one of the supported strategies.
func (m BackingMode) Valid() bool {
	switch m {
	case ModeEmbedded, ModeShared, ModeSharedIsolated:
		return true
	}
	return false
}

func (m BackingMode) String() string {
	return string(m)
}

// BackingConfig carries the connection parameters for a project's data
// store. Embedded projects use Path; the shared modes use the server fields.
// It is serialized as JSON into the projects.backing_config column.
type BackingConfig struct {
	Path     string `json:"path,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// Validate checks that the fields required by the given backing mode are
// present. Validation happens before any connection attempt.
func (c *BackingConfig) Validate(mode BackingMode) error {
	switch mode {
	case ModeEmbedded:
		if c.Path == "" {
			return fmt.Errorf("embedded backing config requires 'path'")
		}
		return nil
	case ModeShared, ModeSharedIsolated:
		if c.Host == "" {
			return fmt.Errorf("%s backing config requires 'host'", mode)
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("%s backing config requires 'port' between 1 and 65535", mode)
		}
		if c.Database == "" {
			return fmt.Errorf("%s backing config requires 'database'", mode)
		}
		if c.User == "" {
			return fmt.Errorf("%s backing config requires 'user'", mode)
		}
		return nil
	default:
		return fmt.Errorf("unknown backing mode: %q", mode)
	}
}

// PostgresDSN returns the connection string for the shared modes.
func (c *BackingConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// Marshal serializes the config for storage in the control plane.
func (c *BackingConfig) Marshal() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal backing config: %w", err)
	}
	return string(raw), nil
}

// ParseBackingConfig deserializes a stored backing config.
func ParseBackingConfig(raw string) (*BackingConfig, error) {
	var cfg BackingConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("parse backing config: %w", err)
	}
	return &cfg, nil
}
