// Package memory provides an in-process auth.Store for local development and
// tests. State lives for the lifetime of the process; nothing is persisted.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"stocknest.org/internal/auth"
)

// Store implements auth.Store on in-memory maps. A single mutex guards all
// state, which also gives RotateSession its compare-and-set guarantee.
type Store struct {
	mu          sync.Mutex
	companies   map[string]auth.Company
	users       map[string]auth.User
	roles       map[string]auth.Role
	perms       map[string]auth.Permission
	rolePerms   map[string][]string
	assignments []auth.UserRoleAssignment
	sessions    map[string]auth.Session
}

var _ auth.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		companies: make(map[string]auth.Company),
		users:     make(map[string]auth.User),
		roles:     make(map[string]auth.Role),
		perms:     make(map[string]auth.Permission),
		rolePerms: make(map[string][]string),
		sessions:  make(map[string]auth.Session),
	}
}

func (s *Store) CreateCompany(_ context.Context, c *auth.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[c.ID]; ok {
		return auth.ErrConflict
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.companies[c.ID] = *c
	return nil
}

func (s *Store) GetCompany(_ context.Context, id string) (auth.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return auth.Company{}, auth.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateUser(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[u.CompanyID]; !ok {
		return auth.ErrNotFound
	}
	for _, existing := range s.users {
		if existing.CompanyID == u.CompanyID && strings.EqualFold(existing.Email, u.Email) {
			return auth.ErrConflict
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	return nil
}

func (s *Store) GetUser(_ context.Context, companyID, userID string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.CompanyID != companyID {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, companyID string) ([]auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.User
	for _, u := range s.users {
		if u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, userID string, upd auth.UserUpdate) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if upd.Email != nil {
		for _, other := range s.users {
			if other.ID != userID && other.CompanyID == u.CompanyID && strings.EqualFold(other.Email, *upd.Email) {
				return auth.User{}, auth.ErrConflict
			}
		}
		u.Email = *upd.Email
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return u, nil
}

func (s *Store) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.LastLoginAt = &at
	s.users[userID] = u
	return nil
}

func (s *Store) CreateRole(_ context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[role.CompanyID]; !ok {
		return auth.ErrNotFound
	}
	for _, existing := range s.roles {
		if existing.CompanyID == role.CompanyID && existing.Slug == role.Slug {
			return auth.ErrConflict
		}
	}
	now := time.Now().UTC()
	role.CreatedAt, role.UpdatedAt = now, now
	s.roles[role.ID] = *role
	return nil
}

func (s *Store) GetRole(_ context.Context, companyID, roleID string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok || r.CompanyID != companyID {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListRoles(_ context.Context, companyID string) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Role
	for _, r := range s.roles {
		if r.CompanyID == companyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) UpdateRole(_ context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Slug != nil {
		for _, other := range s.roles {
			if other.ID != roleID && other.CompanyID == r.CompanyID && other.Slug == *upd.Slug {
				return auth.Role{}, auth.ErrConflict
			}
		}
		r.Slug = *upd.Slug
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	r.UpdatedAt = time.Now().UTC()
	s.roles[roleID] = r
	return r, nil
}

func (s *Store) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	delete(s.roles, roleID)
	delete(s.rolePerms, roleID)
	kept := s.assignments[:0]
	for _, a := range s.assignments {
		if a.RoleID != roleID {
			kept = append(kept, a)
		}
	}
	s.assignments = kept
	return nil
}

func (s *Store) CountActiveAssignments(_ context.Context, roleID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.assignments {
		if a.RoleID == roleID && a.Active {
			n++
		}
	}
	return n, nil
}

func (s *Store) AssignRole(_ context.Context, a auth.UserRoleAssignment) (auth.UserRoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[a.UserID]; !ok {
		return auth.UserRoleAssignment{}, auth.ErrNotFound
	}
	if _, ok := s.roles[a.RoleID]; !ok {
		return auth.UserRoleAssignment{}, auth.ErrNotFound
	}
	a.CreatedAt = time.Now().UTC()
	for i, existing := range s.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID {
			a.CreatedAt = existing.CreatedAt
			s.assignments[i] = a
			return a, nil
		}
	}
	s.assignments = append(s.assignments, a)
	return a, nil
}

func (s *Store) DeactivateAssignment(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			s.assignments[i].Active = false
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *Store) ListAssignments(_ context.Context, userID string) ([]auth.UserRoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.UserRoleAssignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ActiveRolesForUser(_ context.Context, userID string, now time.Time) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Role
	for _, a := range s.assignments {
		if !assignmentLive(a, userID, now) {
			continue
		}
		if r, ok := s.roles[a.RoleID]; ok && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) EnsurePermissions(_ context.Context, perms []auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if _, ok := s.perms[p.Slug]; ok {
			continue
		}
		if p.ID == "" {
			p.ID = "perm-" + p.Slug
		}
		p.CreatedAt = time.Now().UTC()
		s.perms[p.Slug] = p
	}
	return nil
}

func (s *Store) ListPermissions(_ context.Context) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Permission
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) SetRolePermissions(_ context.Context, roleID string, slugs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slug := range slugs {
		if _, ok := s.perms[slug]; !ok {
			return auth.ErrInvalidInput
		}
	}
	s.rolePerms[roleID] = append([]string(nil), slugs...)
	return nil
}

func (s *Store) PermissionsForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Permission
	for _, slug := range s.rolePerms[roleID] {
		if p, ok := s.perms[slug]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) UserPermissionSlugs(_ context.Context, userID string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, a := range s.assignments {
		if !assignmentLive(a, userID, now) {
			continue
		}
		r, ok := s.roles[a.RoleID]
		if !ok || !r.Active {
			continue
		}
		out = append(out, s.rolePerms[a.RoleID]...)
	}
	return out, nil
}

func (s *Store) CreateSession(_ context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[sess.UserID]; !ok {
		return auth.ErrNotFound
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *Store) FindLiveSessionByTokenHash(_ context.Context, tokenHash string, now time.Time) (auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.RefreshTokenHash == tokenHash && sess.ExpiresAt.After(now) {
			return sess, nil
		}
	}
	return auth.Session{}, auth.ErrNotFound
}

func (s *Store) RotateSession(_ context.Context, sessionID, oldHash, newHash string, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.RefreshTokenHash != oldHash {
		return auth.ErrNotFound
	}
	sess.RefreshTokenHash = newHash
	sess.ExpiresAt = expiresAt
	sess.LastActivityAt = now
	s.sessions[sessionID] = sess
	return nil
}

func (s *Store) ListSessions(_ context.Context, userID string, now time.Time) ([]auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ExpiresAt.After(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *Store) RevokeSessionByTokenHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.RefreshTokenHash == tokenHash {
			delete(s.sessions, id)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *Store) RevokeUserSessions(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func assignmentLive(a auth.UserRoleAssignment, userID string, now time.Time) bool {
	if a.UserID != userID || !a.Active {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}
