package httpapi

import (
	"net/http"
	"strings"

	"stocknest.org/internal/audit"
	"stocknest.org/internal/auth"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type roleResponse struct {
	Role        auth.Role         `json:"role"`
	Permissions []auth.Permission `json:"permissions,omitempty"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		roles, err := a.rbac.ListRoles(r.Context(), principal.CompanyID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if roles == nil {
			roles = []auth.Role{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), principal.CompanyID, auth.CreateRoleInput{
			Name:        req.Name,
			Slug:        req.Slug,
			Description: req.Description,
			Permissions: req.Permissions,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.created", map[string]any{
			"role_id": role.ID,
			"slug":    role.Slug,
		})
		writeJSON(w, http.StatusCreated, roleResponse{Role: role})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/permissions") {
		roleID := strings.TrimSuffix(strings.TrimSuffix(path, "/permissions"), "/")
		roleID = strings.TrimSuffix(roleID, "/")
		if roleID == "" || strings.Contains(roleID, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleRolePermissions(w, r, principal, roleID)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		role, perms, err := a.rbac.GetRole(r.Context(), principal.CompanyID, path)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roleResponse{Role: role, Permissions: perms})
	case http.MethodPatch:
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), principal.CompanyID, path, auth.RoleUpdate{
			Name:        req.Name,
			Slug:        req.Slug,
			Description: req.Description,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.updated", map[string]any{"role_id": role.ID})
		writeJSON(w, http.StatusOK, roleResponse{Role: role})
	case http.MethodDelete:
		if err := a.rbac.DeleteRole(r.Context(), principal.CompanyID, path); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.deleted", map[string]any{"role_id": path})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, principal auth.Principal, roleID string) {
	switch r.Method {
	case http.MethodGet:
		_, perms, err := a.rbac.GetRole(r.Context(), principal.CompanyID, roleID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if perms == nil {
			perms = []auth.Permission{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPut:
		var req setPermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perms, err := a.rbac.SetRolePermissions(r.Context(), principal.CompanyID, roleID, req.Permissions)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.permissions_set", map[string]any{
			"role_id": roleID,
			"count":   len(perms),
		})
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if r.URL.Query().Get("group") == "resource" {
		groups, err := a.rbac.ListPermissionsGrouped(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": groups})
		return
	}
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}
