package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/api/helpers"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

func (s *Server) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.roles.List(r.Context())
	if err != nil {
		s.Logger.Error("list roles failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, roles)
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

func (s *Server) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		helpers.RespondError(w, http.StatusBadRequest, "name required")
		return
	}

	role := &domain.Role{ID: uuid.New(), Name: req.Name, Permissions: req.Permissions}
	if err := s.roles.Create(r.Context(), role); err != nil {
		s.Logger.Error("create role failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, role)
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// UpdateRole replaces the permission list of the role named by the {id}
// path segment. The role_permissions table is not used: a role's
// permissions are an embedded string list, so this is the catalog's
// permission-management surface.
func (s *Server) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := uuid.Parse(chiURLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	var req updateRolePermissionsRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.roles.SetPermissions(r.Context(), roleID, req.Permissions); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondError(w, http.StatusNotFound, "role not found")
			return
		}
		s.Logger.Error("update role permissions failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := uuid.Parse(chiURLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	if err := s.roles.Delete(r.Context(), roleID); err != nil {
		s.Logger.Error("delete role failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type roleAssignmentRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// AssignRole grants the role named by the {id} path segment to the user
// named in the body. Fresh-lookup RBAC means this takes effect on the
// recipient's very next request, with no token to refresh.
func (s *Server) AssignRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := uuid.Parse(chiURLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	var req roleAssignmentRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.UserID == uuid.Nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.roles.AssignToUser(r.Context(), req.UserID, roleID); err != nil {
		s.Logger.Error("assign role failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RevokeRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := uuid.Parse(chiURLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	var req roleAssignmentRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.UserID == uuid.Nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.roles.RevokeFromUser(r.Context(), req.UserID, roleID); err != nil {
		s.Logger.Error("revoke role failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
