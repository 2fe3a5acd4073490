package auth

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store for tests. Mutations take the mutex so the
// compare-and-set semantics of RotateSession hold under concurrent use.
type memStore struct {
	mu          sync.Mutex
	companies   map[string]Company
	users       map[string]User
	roles       map[string]Role
	perms       map[string]Permission
	rolePerms   map[string][]string
	assignments []UserRoleAssignment
	sessions    map[string]Session
}

func newMemStore() *memStore {
	return &memStore{
		companies: make(map[string]Company),
		users:     make(map[string]User),
		roles:     make(map[string]Role),
		perms:     make(map[string]Permission),
		rolePerms: make(map[string][]string),
		sessions:  make(map[string]Session),
	}
}

func (m *memStore) CreateCompany(_ context.Context, c *Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[c.ID] = *c
	return nil
}

func (m *memStore) GetCompany(_ context.Context, id string) (Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return Company{}, ErrNotFound
	}
	return c, nil
}

func (m *memStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.CompanyID == u.CompanyID && existing.Email == u.Email {
			return ErrConflict
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *memStore) GetUser(_ context.Context, companyID, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.CompanyID != companyID {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memStore) ListUsers(_ context.Context, companyID string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) UpdateUser(_ context.Context, userID string, upd UserUpdate) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.Email != nil {
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
	m.users[userID] = u
	return u, nil
}

func (m *memStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	m.users[userID] = u
	return nil
}

func (m *memStore) CreateRole(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.CompanyID == role.CompanyID && existing.Slug == role.Slug {
			return ErrConflict
		}
	}
	m.roles[role.ID] = *role
	return nil
}

func (m *memStore) GetRole(_ context.Context, companyID, roleID string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok || r.CompanyID != companyID {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListRoles(_ context.Context, companyID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, r := range m.roles {
		if r.CompanyID == companyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateRole(_ context.Context, roleID string, upd RoleUpdate) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return Role{}, ErrNotFound
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Slug != nil {
		for _, other := range m.roles {
			if other.ID != r.ID && other.CompanyID == r.CompanyID && other.Slug == *upd.Slug {
				return Role{}, ErrConflict
			}
		}
		r.Slug = *upd.Slug
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	m.roles[roleID] = r
	return r, nil
}

func (m *memStore) DeleteRole(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	delete(m.roles, roleID)
	delete(m.rolePerms, roleID)
	return nil
}

func (m *memStore) CountActiveAssignments(_ context.Context, roleID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.Active {
			n++
		}
	}
	return n, nil
}

func (m *memStore) AssignRole(_ context.Context, a UserRoleAssignment) (UserRoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now().UTC()
	for i, existing := range m.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID {
			m.assignments[i] = a
			return a, nil
		}
	}
	m.assignments = append(m.assignments, a)
	return a, nil
}

func (m *memStore) DeactivateAssignment(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.assignments {
		if a.UserID == userID && a.RoleID == roleID {
			m.assignments[i].Active = false
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) ListAssignments(_ context.Context, userID string) ([]UserRoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UserRoleAssignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ActiveRolesForUser(_ context.Context, userID string, now time.Time) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, a := range m.assignments {
		if a.UserID != userID || !a.Active {
			continue
		}
		if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			continue
		}
		if r, ok := m.roles[a.RoleID]; ok && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) EnsurePermissions(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.perms[p.Slug]; !ok {
			if p.ID == "" {
				p.ID = "perm-" + p.Slug
			}
			m.perms[p.Slug] = p
		}
	}
	return nil
}

func (m *memStore) ListPermissions(_ context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, p := range m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) SetRolePermissions(_ context.Context, roleID string, slugs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolePerms[roleID] = append([]string(nil), slugs...)
	return nil
}

func (m *memStore) PermissionsForRole(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, slug := range m.rolePerms[roleID] {
		if p, ok := m.perms[slug]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) UserPermissionSlugs(_ context.Context, userID string, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.assignments {
		if a.UserID != userID || !a.Active {
			continue
		}
		if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			continue
		}
		r, ok := m.roles[a.RoleID]
		if !ok || !r.Active {
			continue
		}
		out = append(out, m.rolePerms[a.RoleID]...)
	}
	return out, nil
}

func (m *memStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memStore) FindLiveSessionByTokenHash(_ context.Context, tokenHash string, now time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshTokenHash == tokenHash && s.ExpiresAt.After(now) {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (m *memStore) RotateSession(_ context.Context, sessionID, oldHash, newHash string, expiresAt, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.RefreshTokenHash != oldHash {
		return ErrNotFound
	}
	s.RefreshTokenHash = newHash
	s.ExpiresAt = expiresAt
	s.LastActivityAt = now
	m.sessions[sessionID] = s
	return nil
}

func (m *memStore) ListSessions(_ context.Context, userID string, now time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) RevokeSessionByTokenHash(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.RefreshTokenHash == tokenHash {
			delete(m.sessions, id)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) RevokeUserSessions(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
