package httpapi

import (
	"net/http"
	"strings"
	"time"

	"stocknest.org/internal/audit"
	"stocknest.org/internal/auth"
)

type createUserRequest struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	RoleIDs   []string `json:"role_ids"`
}

type updateUserRequest struct {
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Active    *bool   `json:"active"`
}

type assignRoleRequest struct {
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		users, err := a.rbac.ListUsers(r.Context(), principal.CompanyID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if users == nil {
			users = []auth.User{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": users})
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.rbac.CreateUser(r.Context(), principal.CompanyID, auth.CreateUserInput{
			Email:     req.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			RoleIDs:   req.RoleIDs,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.created", map[string]any{"user_id": user.ID})
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if idx := strings.Index(path, "/"); idx >= 0 {
		userID := path[:idx]
		rest := path[idx+1:]
		if userID == "" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		switch {
		case rest == "roles":
			a.handleUserRoles(w, r, principal, userID)
		case strings.HasPrefix(rest, "roles/"):
			roleID := strings.TrimPrefix(rest, "roles/")
			if roleID == "" || strings.Contains(roleID, "/") {
				writeError(w, r, http.StatusNotFound, "resource not found")
				return
			}
			a.handleUserRoleLink(w, r, principal, userID, roleID)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := a.rbac.GetUser(r.Context(), principal.CompanyID, path)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.rbac.UpdateUser(r.Context(), principal.CompanyID, path, auth.UserUpdate{
			Email:     req.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Active:    req.Active,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.updated", map[string]any{"user_id": user.ID})
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := a.rbac.DeactivateUser(r.Context(), principal.CompanyID, path); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.deactivated", map[string]any{"user_id": path})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, principal auth.Principal, userID string) {
	switch r.Method {
	case http.MethodGet:
		assignments, err := a.rbac.UserRoles(r.Context(), principal.CompanyID, userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if assignments == nil {
			assignments = []auth.UserRoleAssignment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": assignments})
	case http.MethodPost:
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.RoleID) == "" {
			writeError(w, r, http.StatusBadRequest, "role_id is required")
			return
		}
		assignment, err := a.rbac.AssignRole(r.Context(), principal.CompanyID, userID, req.RoleID, req.ExpiresAt)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.assigned", map[string]any{
			"user_id": userID,
			"role_id": req.RoleID,
		})
		writeJSON(w, http.StatusCreated, assignment)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserRoleLink(w http.ResponseWriter, r *http.Request, principal auth.Principal, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.rbac.RevokeRole(r.Context(), principal.CompanyID, userID, roleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.revoked", map[string]any{
		"user_id": userID,
		"role_id": roleID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}
