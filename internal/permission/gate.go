package permission

import (
	"context"
	"errors"

	"github.com/trowelhq/stratum/internal/model"
	"github.com/trowelhq/stratum/internal/registry"
	"go.uber.org/zap"
)

// ErrAccessDenied is returned when a principal has no membership in a
// project or lacks the required permission.
var ErrAccessDenied = errors.New("access denied")

// Permission names a capability a caller must hold on a project.
type Permission string

const (
	// PermRead is granted by any membership regardless of role.
	PermRead   Permission = "read"
	PermEdit   Permission = "can_edit"
	PermDelete Permission = "can_delete"
	PermInvite Permission = "can_invite"
)

// Gate evaluates whether a principal may act on a project, using the
// membership data held by the registry.
type Gate struct {
	registry *registry.Registry
	log      *zap.Logger
}

// NewGate creates a Gate over the registry.
func NewGate(reg *registry.Registry, log *zap.Logger) *Gate {
	return &Gate{registry: reg, log: log}
}

// Authorize checks the principal's membership against the required
// permission. No membership fails with ErrAccessDenied. Owner and admin
// roles always pass; other roles pass only when the explicit permission
// field is true (absent means false). There is no escalation path here.
func (g *Gate) Authorize(ctx context.Context, principalID, projectID uint, required Permission) error {
	membership, err := g.registry.GetMembership(ctx, projectID, principalID)
	if err != nil {
		if errors.Is(err, registry.ErrMembershipNotFound) {
			g.log.Warn("unauthorized project access attempt",
				zap.Uint("principal_id", principalID),
				zap.Uint("project_id", projectID))
			return ErrAccessDenied
		}
		return err
	}

	if Evaluate(membership, required) {
		return nil
	}

	g.log.Warn("permission denied",
		zap.Uint("principal_id", principalID),
		zap.Uint("project_id", projectID),
		zap.String("role", string(membership.Role)),
		zap.String("required", string(required)))

	return ErrAccessDenied
}

// Evaluate applies the permission algorithm to an already-loaded membership.
func Evaluate(membership *model.Membership, required Permission) bool {
	if membership.Role == model.RoleOwner || membership.Role == model.RoleAdmin {
		return true
	}
	if required == PermRead {
		return true
	}

	perms, err := membership.PermissionSet()
	if err != nil {
		// An unreadable permission blob denies everything except read.
		return false
	}

	switch required {
	case PermEdit:
		return perms.CanEdit
	case PermDelete:
		return perms.CanDelete
	case PermInvite:
		return perms.CanInvite
	default:
		return false
	}
}
