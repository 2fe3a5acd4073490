package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the auth subsystem.
// The pg package provides the production implementation.
type Store interface {
	CompanyStore
	UserStore
	RoleStore
	PermissionStore
	SessionStore
}

// CompanyStore manages tenants.
type CompanyStore interface {
	CreateCompany(ctx context.Context, company *Company) error
	GetCompany(ctx context.Context, id string) (Company, error)
}

// UserStore manages identity records.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, companyID, userID string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, companyID string) ([]User, error)
	UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// RoleStore manages roles and user-role assignments.
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, companyID, roleID string) (Role, error)
	ListRoles(ctx context.Context, companyID string) ([]Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	CountActiveAssignments(ctx context.Context, roleID string) (int64, error)
	AssignRole(ctx context.Context, a UserRoleAssignment) (UserRoleAssignment, error)
	DeactivateAssignment(ctx context.Context, userID, roleID string) error
	ListAssignments(ctx context.Context, userID string) ([]UserRoleAssignment, error)
	// ActiveRolesForUser returns roles reachable through active, unexpired
	// assignments as of now.
	ActiveRolesForUser(ctx context.Context, userID string, now time.Time) ([]Role, error)
}

// PermissionStore manages the global catalog and role-permission links.
type PermissionStore interface {
	EnsurePermissions(ctx context.Context, perms []Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	SetRolePermissions(ctx context.Context, roleID string, slugs []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	// UserPermissionSlugs resolves the effective permission set: the union of
	// permission slugs over the user's active, unexpired role assignments.
	UserPermissionSlugs(ctx context.Context, userID string, now time.Time) ([]string, error)
}

// SessionStore is the authoritative registry of live logins.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	// FindLiveSessionByTokenHash looks up a non-expired session by refresh
	// token hash. Expired or revoked sessions return ErrNotFound.
	FindLiveSessionByTokenHash(ctx context.Context, tokenHash string, now time.Time) (Session, error)
	// RotateSession replaces oldHash with newHash only if the stored value
	// still equals oldHash (compare-and-set). A lost race returns ErrNotFound.
	RotateSession(ctx context.Context, sessionID, oldHash, newHash string, expiresAt, now time.Time) error
	ListSessions(ctx context.Context, userID string, now time.Time) ([]Session, error)
	RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error
	RevokeUserSessions(ctx context.Context, userID string) (int64, error)
}
