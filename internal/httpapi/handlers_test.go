package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"stocknest.org/internal/auth"
	"stocknest.org/internal/store/memory"
)

type testEnv struct {
	handler http.Handler
	store   *memory.Store
	admin   sessionResponse
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	tokens, err := auth.NewTokenService("access-secret", "refresh-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	authSvc, err := auth.NewService(store, tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := authSvc.EnsureCatalog(context.Background()); err != nil {
		t.Fatalf("EnsureCatalog: %v", err)
	}
	rbacSvc, err := auth.NewRBACService(store)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	api := New(authSvc, rbacSvc, CookieSettings{}, ReadyProbe{}, "test")
	env := &testEnv{handler: RequestID(api.Handler()), store: store}

	rr := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":        "admin@acme.test",
		"password":     "admin-password",
		"first_name":   "Ada",
		"company_name": "Acme Warehousing",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register admin: %d %s", rr.Code, rr.Body.String())
	}
	env.admin = env.login(t, "admin@acme.test", "admin-password")
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:1234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T, email, password string) sessionResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, rr.Code, rr.Body.String())
	}
	var res sessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return res
}

// createMember provisions a company user holding the given role slug and logs
// them in.
func (e *testEnv) createMember(t *testing.T, email, roleSlug string) sessionResponse {
	t.Helper()
	roleID := e.roleID(t, roleSlug)
	rr := e.do(t, http.MethodPost, "/v1/users", e.admin.Tokens.AccessToken, map[string]any{
		"email":    email,
		"password": "member-password",
		"role_ids": []string{roleID},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create member: %d %s", rr.Code, rr.Body.String())
	}
	return e.login(t, email, "member-password")
}

func (e *testEnv) roleID(t *testing.T, slug string) string {
	t.Helper()
	rr := e.do(t, http.MethodGet, "/v1/roles", e.admin.Tokens.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list roles: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Items []auth.Role `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode roles: %v", err)
	}
	for _, role := range res.Items {
		if role.Slug == slug {
			return role.ID
		}
	}
	t.Fatalf("role %q not found in %+v", slug, res.Items)
	return ""
}

func (e *testEnv) userID(t *testing.T, token string) string {
	t.Helper()
	rr := e.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		User auth.User `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	return res.User.ID
}

func TestHealthEndpointsArePublic(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rr := env.do(t, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestLoginGrantsAccessToGatedRoute(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/v1/roles", env.admin.Tokens.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin list roles: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Items []auth.Role `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode roles: %v", err)
	}
	if len(res.Items) != len(auth.SystemRoles()) {
		t.Fatalf("expected %d seeded roles, got %d", len(auth.SystemRoles()), len(res.Items))
	}
}

func TestGatedRouteRejectsAnonymousAndGarbage(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/v1/users", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	rr = env.do(t, http.MethodGet, "/v1/users", "not-a-jwt", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", rr.Code)
	}
}

func TestPermissionGateAllOf(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.createMember(t, "viewer@acme.test", "viewer")

	// Viewer can read roles.
	rr := env.do(t, http.MethodGet, "/v1/roles", viewer.Tokens.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("viewer list roles: %d %s", rr.Code, rr.Body.String())
	}

	// But cannot create one; the response names the missing permission.
	rr = env.do(t, http.MethodPost, "/v1/roles", viewer.Tokens.AccessToken, map[string]any{"name": "Hacker"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer create role: expected 403, got %d %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode 403 body: %v", err)
	}
	msg, _ := body["error"].(string)
	if msg == "" || !bytes.Contains([]byte(msg), []byte(auth.PermRolesCreate)) {
		t.Fatalf("403 body should name the missing permission, got %q", msg)
	}
}

func TestRefreshRotationAndReplay(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": env.admin.Tokens.RefreshToken,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if res.Tokens.RefreshToken == env.admin.Tokens.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	// Replaying the consumed token fails.
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": env.admin.Tokens.RefreshToken,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d %s", rr.Code, rr.Body.String())
	}

	// The rotated token works.
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": res.Tokens.RefreshToken,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("rotated refresh: %d %s", rr.Code, rr.Body.String())
	}
}

func TestRoleRevocationAppliesWithoutNewToken(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.createMember(t, "viewer@acme.test", "viewer")
	viewerID := env.userID(t, viewer.Tokens.AccessToken)
	roleID := env.roleID(t, "viewer")

	rr := env.do(t, http.MethodGet, "/v1/roles", viewer.Tokens.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("viewer before revoke: %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, fmt.Sprintf("/v1/users/%s/roles/%s", viewerID, roleID), env.admin.Tokens.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke role: %d %s", rr.Code, rr.Body.String())
	}

	// Same unexpired access token, but the gate resolves current state.
	rr = env.do(t, http.MethodGet, "/v1/roles", viewer.Tokens.AccessToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer after revoke: expected 403, got %d", rr.Code)
	}
	// Ungated routes still authenticate fine.
	rr = env.do(t, http.MethodGet, "/v1/auth/me", viewer.Tokens.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me after revoke: %d %s", rr.Code, rr.Body.String())
	}
}

func TestLogoutKillsRefreshNotAccess(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/auth/logout", env.admin.Tokens.AccessToken, map[string]any{
		"refresh_token": env.admin.Tokens.RefreshToken,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": env.admin.Tokens.RefreshToken,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rr.Code)
	}

	// The access token stays valid until its own expiry.
	rr = env.do(t, http.MethodGet, "/v1/auth/me", env.admin.Tokens.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me after logout: %d", rr.Code)
	}
}

func TestSystemRoleImmutableOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	roleID := env.roleID(t, auth.SuperAdminRoleSlug)

	rr := env.do(t, http.MethodPatch, "/v1/roles/"+roleID, env.admin.Tokens.AccessToken, map[string]any{
		"name": "Renamed",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("patch system role: expected 403, got %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodDelete, "/v1/roles/"+roleID, env.admin.Tokens.AccessToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("delete system role: expected 403, got %d", rr.Code)
	}
}

func TestRoleLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.admin.Tokens.AccessToken

	rr := env.do(t, http.MethodPost, "/v1/roles", token, map[string]any{
		"name":        "Warehouse Clerk",
		"permissions": []string{"inventory.read", "inventory.update"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create role: %d %s", rr.Code, rr.Body.String())
	}
	var created roleResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created role: %v", err)
	}

	// Duplicate slug conflicts.
	rr = env.do(t, http.MethodPost, "/v1/roles", token, map[string]any{"name": "Warehouse Clerk"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate role: expected 409, got %d", rr.Code)
	}

	// Assign it, then deletion is blocked until revoked.
	adminID := env.userID(t, token)
	rr = env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/roles", adminID), token, map[string]any{
		"role_id": created.Role.ID,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("assign role: %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodDelete, "/v1/roles/"+created.Role.ID, token, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("delete assigned role: expected 409, got %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodDelete, fmt.Sprintf("/v1/users/%s/roles/%s", adminID, created.Role.ID), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke: %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodDelete, "/v1/roles/"+created.Role.ID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete after revoke: %d %s", rr.Code, rr.Body.String())
	}
}

func TestUnknownPermissionRejected(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/roles", env.admin.Tokens.AccessToken, map[string]any{
		"name":        "Broken",
		"permissions": []string{"nonsense.fly"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown permission: expected 400, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestLoginSetsCookies(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    "admin@acme.test",
		"password": "admin-password",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}
	var access, refresh *http.Cookie
	for _, c := range rr.Result().Cookies() {
		switch c.Name {
		case accessTokenCookie:
			access = c
		case refreshTokenCookie:
			refresh = c
		}
	}
	if access == nil || refresh == nil {
		t.Fatalf("expected both token cookies")
	}
	if !access.HttpOnly || !refresh.HttpOnly {
		t.Fatalf("token cookies must be HttpOnly")
	}
	if refresh.Path != refreshCookiePath {
		t.Fatalf("refresh cookie path = %q, want %q", refresh.Path, refreshCookiePath)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    "admin@acme.test",
		"password": "admin-password",
		"extra":    true,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/v1/auth/login", "", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET login: expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") == "" {
		t.Fatalf("expected Allow header on 405")
	}
}
