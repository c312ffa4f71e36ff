// Package httpapi exposes the authorization engine over HTTP. The service is
// a thin collaborator: every decision is delegated to the gate.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/scopeguard/scopeguard/internal/authz"
	"github.com/scopeguard/scopeguard/internal/platform/httpx"
)

// AssignmentStore mutates role and permission assignments. The postgres
// repository implements it; the handler pairs each mutation with the
// matching gate invalidation hook.
type AssignmentStore interface {
	AssignRole(ctx context.Context, subjectID, roleID int64) error
	RevokeRole(ctx context.Context, subjectID, roleID int64) error
	GrantPermission(ctx context.Context, subjectID, permissionID int64) error
	RevokePermission(ctx context.Context, subjectID, permissionID int64) error
}

// Handler serves the decision and assignment endpoints.
type Handler struct {
	logger      *slog.Logger
	gate        *authz.Gate
	assignments AssignmentStore
	validate    *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, gate *authz.Gate, assignments AssignmentStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		gate:        gate,
		assignments: assignments,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers the API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/authorize", h.authorize)
	r.Post("/filter", h.filter)
	r.Post("/access", h.access)
	r.Get("/subjects/{subjectID}/permissions", h.listPermissions)
	r.Get("/subjects/{subjectID}/scopes", h.listScopes)
	r.Post("/subjects/{subjectID}/roles", h.assignRole)
	r.Delete("/subjects/{subjectID}/roles/{roleID}", h.revokeRole)
	r.Post("/subjects/{subjectID}/permissions", h.grantPermission)
	r.Delete("/subjects/{subjectID}/permissions/{permissionID}", h.revokePermission)
}

type authorizeRequest struct {
	SubjectID  int64  `json:"subject_id" validate:"required"`
	Permission string `json:"permission" validate:"required"`
}

type authorizeResponse struct {
	DecisionID string `json:"decision_id"`
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason"`
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	decision, err := h.gate.Authorize(r.Context(), req.SubjectID, req.Permission)
	if err != nil {
		h.logger.Error("authorize", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, authorizeResponse{
		DecisionID: decision.ID,
		Allowed:    decision.Allowed,
		Reason:     string(decision.Reason),
	})
}

type filterResponse struct {
	Clause string `json:"clause"`
	Args   []any  `json:"args"`
}

func (h *Handler) filter(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := authz.NewSQLQuery()
	if err := h.gate.FilterQuery(r.Context(), req.SubjectID, req.Permission, q); err != nil {
		h.logger.Error("filter query", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	clause, args := q.Build()
	httpx.JSON(w, http.StatusOK, filterResponse{Clause: clause, Args: args})
}

type accessRequest struct {
	SubjectID  int64  `json:"subject_id" validate:"required"`
	Permission string `json:"permission" validate:"required"`
	Resource   struct {
		OwnerID        int64 `json:"owner_id"`
		OrganizationID int64 `json:"organization_id"`
		DepartmentID   int64 `json:"department_id"`
	} `json:"resource"`
}

func (h *Handler) access(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	allowed, err := h.gate.CanAccess(r.Context(), req.SubjectID, req.Permission, authz.ResourceRef{
		OwnerID:        req.Resource.OwnerID,
		OrganizationID: req.Resource.OrganizationID,
		DepartmentID:   req.Resource.DepartmentID,
	})
	if err != nil {
		h.logger.Error("access check", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	subjectID, err := h.subjectID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.gate.EffectivePermissions(r.Context(), subjectID)
	if err != nil {
		h.logger.Error("effective permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	slugs := make([]string, len(perms))
	for i, p := range perms {
		slugs[i] = p.Slug
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"subject_id": subjectID, "permissions": slugs})
}

func (h *Handler) listScopes(w http.ResponseWriter, r *http.Request) {
	subjectID, err := h.subjectID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	slug := r.URL.Query().Get("permission")
	set, err := h.gate.EffectiveScopes(r.Context(), subjectID, slug)
	if err != nil {
		h.logger.Error("effective scopes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	type scopeView struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	views := make([]scopeView, len(set.Scopes))
	for i, s := range set.Scopes {
		views[i] = scopeView{ID: s.ID, Name: s.Name, Type: string(s.Type)}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"subject_id": subjectID, "bypass": set.Bypass, "scopes": views})
}

type roleAssignmentRequest struct {
	RoleID int64 `json:"role_id" validate:"required"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	subjectID, err := h.subjectID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req roleAssignmentRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.assignments.AssignRole(r.Context(), subjectID, req.RoleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.gate.OnRoleAssigned(r.Context(), subjectID); err != nil {
		h.logger.Error("invalidate after role assign", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	subjectID, err := h.subjectID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roleID, err := h.pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.assignments.RevokeRole(r.Context(), subjectID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.gate.OnRoleRevoked(r.Context(), subjectID); err != nil {
		h.logger.Error("invalidate after role revoke", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionGrantRequest struct {
	PermissionID int64 `json:"permission_id" validate:"required"`
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	subjectID, err := h.subjectID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req permissionGrantRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.assignments.GrantPermission(r.Context(), subjectID, req.PermissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.gate.OnPermissionGranted(r.Context(), subjectID); err != nil {
		h.logger.Error("invalidate after permission grant", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	subjectID, err := h.subjectID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	permissionID, err := h.pathID(r, "permissionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.assignments.RevokePermission(r.Context(), subjectID, permissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.gate.OnPermissionRevoked(r.Context(), subjectID); err != nil {
		h.logger.Error("invalidate after permission revoke", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
	}
	return h.validate.Struct(target)
}

func (h *Handler) subjectID(r *http.Request) (int64, error) {
	return h.pathID(r, "subjectID")
}

func (h *Handler) pathID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", httpx.ErrBadRequest, param)
	}
	return id, nil
}
