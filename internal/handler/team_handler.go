package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/trowelhq/stratum/internal/model"
	"github.com/trowelhq/stratum/internal/permission"
	"github.com/trowelhq/stratum/pkg/logger"
	"github.com/trowelhq/stratum/prometheus"
	"go.uber.org/zap"
)

func parseProjectID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}

// AddTeamMember adds a principal to the project team. Requires can_invite.
func (h *Handler) AddTeamMember(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordProjectOperation("add_member")

	userID, ok := principalID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	projectID, err := parseProjectID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project ID"})
	}

	var req struct {
		PrincipalID uint               `json:"principal_id"`
		Role        model.Role         `json:"role,omitempty"`
		Permissions *model.Permissions `json:"permissions,omitempty"`
	}
	if err := c.Bind(&req); err != nil || req.PrincipalID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "principal_id is required"})
	}
	if req.Role == "" {
		req.Role = model.RoleMember
	}

	ctx := c.Request().Context()
	if err := h.Gate.Authorize(ctx, userID, projectID, permission.PermInvite); err != nil {
		log.Warn("Unauthorized attempt to add team member",
			zap.Uint("requesting_user_id", userID),
			zap.Uint("project_id", projectID))
		return c.JSON(statusFor(err), echo.Map{"error": "permission denied: cannot invite users"})
	}

	membership, err := h.Registry.AddMembership(ctx, projectID, req.PrincipalID, req.Role, req.Permissions)
	if err != nil {
		log.Error("Failed to add team member", zap.Error(err))
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	log.Info("Added team member",
		zap.Uint("project_id", projectID),
		zap.Uint("principal_id", req.PrincipalID),
		zap.String("role", string(req.Role)))

	return c.JSON(http.StatusCreated, echo.Map{
		"message":    "Team member added successfully",
		"membership": membership,
	})
}

// UpdateTeamMember changes a member's role and/or permissions. The owner
// membership is immutable.
func (h *Handler) UpdateTeamMember(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordProjectOperation("update_member")

	userID, ok := principalID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	projectID, err := parseProjectID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project ID"})
	}
	targetID, err := strconv.ParseUint(c.Param("principal_id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid principal ID"})
	}

	var req struct {
		Role        *model.Role        `json:"role,omitempty"`
		Permissions *model.Permissions `json:"permissions,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	ctx := c.Request().Context()
	if err := h.Gate.Authorize(ctx, userID, projectID, permission.PermInvite); err != nil {
		return c.JSON(statusFor(err), echo.Map{"error": "permission denied"})
	}

	membership, err := h.Registry.UpdateMembership(ctx, projectID, uint(targetID), req.Role, req.Permissions)
	if err != nil {
		log.Error("Failed to update team member", zap.Error(err))
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message":    "Team member updated successfully",
		"membership": membership,
	})
}

// RemoveTeamMember removes a member from the project. The owner membership
// can never be removed.
func (h *Handler) RemoveTeamMember(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordProjectOperation("remove_member")

	userID, ok := principalID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	projectID, err := parseProjectID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project ID"})
	}
	targetID, err := strconv.ParseUint(c.Param("principal_id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid principal ID"})
	}

	ctx := c.Request().Context()
	if err := h.Gate.Authorize(ctx, userID, projectID, permission.PermInvite); err != nil {
		log.Warn("Unauthorized attempt to remove team member",
			zap.Uint("requesting_user_id", userID),
			zap.Uint("project_id", projectID))
		return c.JSON(statusFor(err), echo.Map{"error": "permission denied"})
	}

	if err := h.Registry.RemoveMembership(ctx, projectID, uint(targetID)); err != nil {
		log.Error("Failed to remove team member", zap.Error(err))
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	log.Info("Removed team member",
		zap.Uint("project_id", projectID),
		zap.Uint64("principal_id", targetID))

	return c.JSON(http.StatusOK, echo.Map{"message": "Team member removed successfully"})
}
