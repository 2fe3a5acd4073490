package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"stocknest.org/internal/auth"
	"stocknest.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// routeRule binds one method+path shape to the permissions it demands. All
// listed permissions are required; a route absent from the table needs
// authentication only.
type routeRule struct {
	method      string
	prefix      string // matched before exact paths; "" disables
	path        string // exact match; "" disables
	permissions []string
}

var routeRules = []routeRule{
	{method: http.MethodGet, path: "/v1/users", permissions: []string{auth.PermUsersRead}},
	{method: http.MethodPost, path: "/v1/users", permissions: []string{auth.PermUsersCreate}},
	{method: http.MethodGet, prefix: "/v1/users/", permissions: []string{auth.PermUsersRead}},
	{method: http.MethodPatch, prefix: "/v1/users/", permissions: []string{auth.PermUsersUpdate}},
	{method: http.MethodDelete, prefix: "/v1/users/", permissions: []string{auth.PermUsersDelete}},
	// Granting or revoking roles touches both surfaces.
	{method: http.MethodPost, prefix: "/v1/users/", permissions: []string{auth.PermUsersUpdate, auth.PermRolesRead}},

	{method: http.MethodGet, path: "/v1/roles", permissions: []string{auth.PermRolesRead}},
	{method: http.MethodPost, path: "/v1/roles", permissions: []string{auth.PermRolesCreate}},
	{method: http.MethodGet, prefix: "/v1/roles/", permissions: []string{auth.PermRolesRead}},
	{method: http.MethodPatch, prefix: "/v1/roles/", permissions: []string{auth.PermRolesUpdate}},
	{method: http.MethodPut, prefix: "/v1/roles/", permissions: []string{auth.PermRolesUpdate}},
	{method: http.MethodDelete, prefix: "/v1/roles/", permissions: []string{auth.PermRolesDelete}},

	{method: http.MethodGet, path: "/v1/permissions", permissions: []string{auth.PermRolesRead}},
}

// requiredPermissions resolves the route table for one request. The DELETE on
// a user-role link shares the POST rule's permissions.
func requiredPermissions(method, path string) []string {
	if method == http.MethodDelete && strings.HasPrefix(path, "/v1/users/") && strings.Contains(path, "/roles/") {
		return []string{auth.PermUsersUpdate, auth.PermRolesRead}
	}
	for _, rule := range routeRules {
		if rule.method != method {
			continue
		}
		if rule.path != "" && rule.path == path {
			return rule.permissions
		}
		if rule.prefix != "" && strings.HasPrefix(path, rule.prefix) {
			return rule.permissions
		}
	}
	return nil
}

// withAuth authenticates every non-public request. The token comes from the
// Authorization header or, for browser clients, the access token cookie.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="stocknest"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.auth.Authenticate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="stocknest", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withPermissions enforces the route table. Permissions are resolved from
// current state only for routes the table gates, so revocation applies on the
// next request without waiting for token expiry.
func (a *API) withPermissions(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required := requiredPermissions(r.Method, r.URL.Path)
		if len(required) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="stocknest"`)
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := a.auth.Require(r.Context(), principal.UserID, required...); err != nil {
			if errors.Is(err, auth.ErrForbidden) {
				obs.RecordPermissionDenied()
				// The caller is authenticated, so naming the gap is safe.
				writeError(w, r, http.StatusForbidden, err.Error())
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authorization error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header != "" {
		return extractBearerToken(header)
	}
	if c, err := r.Cookie(accessTokenCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", errors.New("missing bearer token")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
