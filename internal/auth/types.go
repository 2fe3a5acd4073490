package auth

import "time"

// Company is the tenant boundary. Every user, role and session belongs to
// exactly one company; only the permission catalog is shared.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a human account scoped to a company. Email is unique within the
// company. PasswordHash mutates only through the change-password flow.
type User struct {
	ID            string     `json:"id"`
	CompanyID     string     `json:"company_id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Active        bool       `json:"active"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Role groups catalog permissions inside one company. System roles are
// immutable: no rename, no delete, no permission edit.
type Role struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	System      bool      `json:"system"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a global catalog entry identified by its slug
// (resource.action, e.g. "products.update").
type Permission struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	System    bool      `json:"system"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRoleAssignment links a user to a role. Only active assignments whose
// ExpiresAt is nil or in the future contribute to the effective permission set.
type UserRoleAssignment struct {
	UserID    string     `json:"user_id"`
	RoleID    string     `json:"role_id"`
	CompanyID string     `json:"company_id"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Session is one live login. The row existing is the sole ground truth for
// "this refresh token is still valid"; deleting it is how logout works.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	RefreshTokenHash string    `json:"-"`
	UserAgent        string    `json:"user_agent,omitempty"`
	IP               string    `json:"ip,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// UserUpdate carries explicit per-field updates; nil means "leave unchanged".
type UserUpdate struct {
	Email     *string
	Password  *string
	FirstName *string
	LastName  *string
	Active    *bool
}

// RoleUpdate carries explicit per-field updates for a role.
type RoleUpdate struct {
	Name        *string
	Slug        *string
	Description *string
}

// Device captures login metadata recorded on the session.
type Device struct {
	UserAgent string
	IP        string
}
