package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/trowelhq/stratum/internal/isolation"
	"github.com/trowelhq/stratum/internal/model"
	"github.com/trowelhq/stratum/internal/permission"
	"github.com/trowelhq/stratum/internal/provision"
	"github.com/trowelhq/stratum/internal/registry"
	"github.com/trowelhq/stratum/internal/router"
	"github.com/trowelhq/stratum/pkg/jwtutil"
	"github.com/trowelhq/stratum/pkg/logger"
	"github.com/trowelhq/stratum/prometheus"
	"go.uber.org/zap"
)

// Handler exposes project and team management over HTTP. It is a thin
// adapter: all semantics live in the registry, gate and router.
type Handler struct {
	Registry *registry.Registry
	Gate     *permission.Gate
	Router   *router.Router
	JWT      *jwtutil.JWTUtil
}

func NewHandler(reg *registry.Registry, gate *permission.Gate, rt *router.Router, jwt *jwtutil.JWTUtil) *Handler {
	return &Handler{Registry: reg, Gate: gate, Router: rt, JWT: jwt}
}

func principalID(c echo.Context) (uint, bool) {
	id, ok := c.Get("user_id").(uint)
	return id, ok
}

// statusFor maps the data-access error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrProjectNotFound),
		errors.Is(err, registry.ErrMembershipNotFound):
		return http.StatusNotFound
	case errors.Is(err, permission.ErrAccessDenied),
		errors.Is(err, registry.ErrCannotRemoveOwner),
		errors.Is(err, registry.ErrCannotModifyOwner):
		return http.StatusForbidden
	case errors.Is(err, router.ErrBackendConfigInvalid),
		errors.Is(err, registry.ErrInvalidBackingMode):
		return http.StatusBadRequest
	case errors.Is(err, router.ErrConnectionExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, provision.ErrProvisioningFailed),
		errors.Is(err, isolation.ErrIsolationSetupFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// CreateProject handles project creation. The caller becomes owner.
func (h *Handler) CreateProject(c echo.Context) error {
	log := logger.FromEcho(c)

	userID, ok := principalID(c)
	if !ok {
		log.Error("Failed to get user ID from context")
		prometheus.RecordAccessError("unauthenticated")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		Name        string               `json:"name"`
		Description string               `json:"description"`
		BackingMode model.BackingMode    `json:"backing_mode"`
		Config      *model.BackingConfig `json:"backing_config,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse project creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}
	if !req.BackingMode.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "backing_mode must be one of embedded, shared, shared_isolated"})
	}

	draft := router.ProjectDraft{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     userID,
		Mode:        req.BackingMode,
	}
	if req.Config != nil {
		draft.Config = *req.Config
	}

	project, err := h.Router.CreateProject(c.Request().Context(), draft)
	if err != nil {
		log.Error("Failed to create project", zap.Error(err))
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	log.Info("Project created",
		zap.String("name", project.Name),
		zap.Uint("id", project.ID),
		zap.Uint("owner_id", project.OwnerID))

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Project created successfully",
		"project": project,
	})
}

// ListMyProjects returns all projects the authenticated user belongs to.
func (h *Handler) ListMyProjects(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordProjectOperation("list")

	userID, ok := principalID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	memberships, err := h.Registry.ListForPrincipal(c.Request().Context(), userID)
	if err != nil {
		log.Error("Failed to retrieve user's projects", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve projects"})
	}

	type ProjectResponse struct {
		ID          uint              `json:"id"`
		Name        string            `json:"name"`
		Description string            `json:"description"`
		BackingMode model.BackingMode `json:"backing_mode"`
		IsPersonal  bool              `json:"is_personal"`
		Role        model.Role        `json:"role"`
		CreatedAt   time.Time         `json:"created_at"`
	}

	response := make([]ProjectResponse, 0, len(memberships))
	for _, m := range memberships {
		response = append(response, ProjectResponse{
			ID:          m.ProjectID,
			Name:        m.Project.Name,
			Description: m.Project.Description,
			BackingMode: m.Project.BackingMode,
			IsPersonal:  m.Project.IsPersonal,
			Role:        m.Role,
			CreatedAt:   m.Project.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, response)
}

// GetProject returns project details with the team list.
func (h *Handler) GetProject(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordProjectOperation("access")

	userID, ok := principalID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project ID"})
	}
	projectID := uint(id)
	ctx := c.Request().Context()

	if err := h.Gate.Authorize(ctx, userID, projectID, permission.PermRead); err != nil {
		log.Warn("Unauthorized project access attempt",
			zap.Uint("user_id", userID),
			zap.Uint("project_id", projectID))
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	project, err := h.Registry.Get(ctx, projectID)
	if err != nil {
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	members, err := h.Registry.ListMembers(ctx, projectID)
	if err != nil {
		log.Error("Failed to list project members", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list members"})
	}

	type MemberResponse struct {
		PrincipalID uint              `json:"principal_id"`
		Role        model.Role        `json:"role"`
		Permissions model.Permissions `json:"permissions"`
		JoinedAt    time.Time         `json:"joined_at"`
	}
	team := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		perms, _ := m.PermissionSet()
		team = append(team, MemberResponse{
			PrincipalID: m.PrincipalID,
			Role:        m.Role,
			Permissions: perms,
			JoinedAt:    m.JoinedAt,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"project": project,
		"team":    team,
	})
}

// DeleteProject removes a project. Owner only; personal workspaces refuse.
func (h *Handler) DeleteProject(c echo.Context) error {
	log := logger.FromEcho(c)

	userID, ok := principalID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project ID"})
	}

	if err := h.Router.DeleteProject(c.Request().Context(), userID, uint(id)); err != nil {
		log.Error("Failed to delete project", zap.Uint64("project_id", id), zap.Error(err))
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Project deleted successfully"})
}

// ProjectStatus resolves the project's connection and reports its state.
// This is the HTTP face of ConnectionRouter.Resolve.
func (h *Handler) ProjectStatus(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordProjectOperation("resolve")

	userID, ok := principalID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid project ID"})
	}

	ctx := c.Request().Context()
	handle, err := h.Router.Resolve(ctx, userID, uint(id))
	if err != nil {
		log.Error("Failed to resolve project connection",
			zap.Uint64("project_id", id),
			zap.Error(err))
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	session, err := handle.Session(ctx)
	if err != nil {
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	sqlDB, err := session.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "database unreachable"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"project_id":   handle.ProjectID(),
		"backing_mode": handle.Mode(),
		"status":       "ready",
	})
}

// SwitchProject issues a new token scoped to a different active project.
func (h *Handler) SwitchProject(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordProjectOperation("switch")

	userID, ok := principalID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	email, _ := c.Get("email").(string)

	var req struct {
		ProjectID uint `json:"project_id"`
	}
	if err := c.Bind(&req); err != nil || req.ProjectID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "project_id is required"})
	}

	ctx := c.Request().Context()
	membership, err := h.Registry.GetMembership(ctx, req.ProjectID, userID)
	if err != nil {
		log.Warn("Unauthorized project switch attempt",
			zap.Uint("user_id", userID),
			zap.Uint("project_id", req.ProjectID))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied to requested project"})
	}

	project, err := h.Registry.Get(ctx, req.ProjectID)
	if err != nil {
		return c.JSON(statusFor(err), echo.Map{"error": err.Error()})
	}

	pid := req.ProjectID
	token, err := h.JWT.GenerateTokenWithProject(email, userID, &pid, project.Name, string(membership.Role))
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("User switched project",
		zap.Uint("user_id", userID),
		zap.Uint("project_id", req.ProjectID))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"project": echo.Map{
			"id":   project.ID,
			"name": project.Name,
			"role": membership.Role,
		},
	})
}
