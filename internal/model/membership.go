package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Role is a principal's role within a project team.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// Permissions is the explicit permission set attached to a membership.
// Owner and admin roles bypass it entirely; for other roles an absent or
// false field means denied.
type Permissions struct {
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
	CanInvite bool `json:"can_invite"`
}

// DefaultPermissions returns the permission set granted to a role when the
// caller supplies none.
func DefaultPermissions(role Role) Permissions {
	switch role {
	case RoleOwner, RoleAdmin:
		return Permissions{CanEdit: true, CanDelete: true, CanInvite: true}
	case RoleMember:
		return Permissions{CanEdit: true}
	default:
		return Permissions{}
	}
}

// Marshal serializes the permission set for storage.
func (p Permissions) Marshal() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal permissions: %w", err)
	}
	return string(raw), nil
}

// ParsePermissions deserializes a stored permission set. An empty value
// yields the zero set (everything denied).
func ParsePermissions(raw string) (Permissions, error) {
	var p Permissions
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Permissions{}, fmt.Errorf("parse permissions: %w", err)
	}
	return p, nil
}

// Membership ties a principal to a project with a role and an explicit
// permission set. Unique per (project, principal). The owning principal's
// membership can never be removed or re-roled.
type Membership struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	ProjectID   uint           `json:"project_id" gorm:"uniqueIndex:idx_project_principal;not null"`
	PrincipalID uint           `json:"principal_id" gorm:"uniqueIndex:idx_project_principal;not null"`
	Role        Role           `json:"role" gorm:"type:varchar(50);not null;default:'member'"`
	Permissions string         `json:"-" gorm:"type:text"`
	JoinedAt    time.Time      `json:"joined_at" gorm:"autoCreateTime"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Project Project `json:"project,omitempty" gorm:"foreignKey:ProjectID"`
}

// PermissionSet deserializes the membership's stored permission set.
func (m *Membership) PermissionSet() (Permissions, error) {
	return ParsePermissions(m.Permissions)
}

// SetPermissions serializes a permission set into the membership.
func (m *Membership) SetPermissions(p Permissions) error {
	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	m.Permissions = raw
	return nil
}
