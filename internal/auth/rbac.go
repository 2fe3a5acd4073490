package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"stocknest.org/internal/ids"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// RBACService manages tenant roles, role-permission links, user-role
// assignments and the user directory. All reads and writes are scoped to the
// caller's company; cross-tenant ids surface as ErrNotFound.
type RBACService struct {
	store Store
	now   func() time.Time
}

// RBACOption configures RBACService behavior.
type RBACOption func(*RBACService)

// WithRBACClock overrides the time source (useful for tests).
func WithRBACClock(fn func() time.Time) RBACOption {
	return func(s *RBACService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewRBACService constructs an RBACService.
func NewRBACService(store Store, opts ...RBACOption) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &RBACService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateRoleInput carries the fields accepted when creating a role.
type CreateRoleInput struct {
	Name        string
	Slug        string
	Description string
	Permissions []string
}

// CreateRole creates a custom role in the company. The slug must be unique
// within the company; a duplicate returns ErrConflict. Roles created through
// this path are never system roles.
func (s *RBACService) CreateRole(ctx context.Context, companyID string, in CreateRoleInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Role{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	in.Slug = strings.TrimSpace(strings.ToLower(in.Slug))
	if in.Slug == "" {
		in.Slug = slugify(in.Name)
	}
	if !slugPattern.MatchString(in.Slug) {
		return Role{}, fmt.Errorf("%w: slug must be lowercase letters, digits and hyphens", ErrInvalidInput)
	}
	role := Role{
		ID:          ids.New(),
		CompanyID:   companyID,
		Name:        in.Name,
		Slug:        in.Slug,
		Description: strings.TrimSpace(in.Description),
		System:      false,
		Active:      true,
	}
	if err := s.store.CreateRole(ctx, &role); err != nil {
		return Role{}, err
	}
	if len(in.Permissions) > 0 {
		if err := s.setPermissions(ctx, role.ID, in.Permissions); err != nil {
			return Role{}, err
		}
	}
	return role, nil
}

// GetRole returns a company role together with its granted permissions.
func (s *RBACService) GetRole(ctx context.Context, companyID, roleID string) (Role, []Permission, error) {
	role, err := s.store.GetRole(ctx, companyID, roleID)
	if err != nil {
		return Role{}, nil, err
	}
	perms, err := s.store.PermissionsForRole(ctx, role.ID)
	if err != nil {
		return Role{}, nil, err
	}
	return role, perms, nil
}

// ListRoles lists the company's roles.
func (s *RBACService) ListRoles(ctx context.Context, companyID string) ([]Role, error) {
	return s.store.ListRoles(ctx, companyID)
}

// UpdateRole applies a partial update to a custom role. System roles are
// immutable through the management surface and return ErrForbidden.
func (s *RBACService) UpdateRole(ctx context.Context, companyID, roleID string, upd RoleUpdate) (Role, error) {
	role, err := s.store.GetRole(ctx, companyID, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.System {
		return Role{}, fmt.Errorf("%w: system roles cannot be modified", ErrForbidden)
	}
	if upd.Slug != nil {
		slug := strings.TrimSpace(strings.ToLower(*upd.Slug))
		if !slugPattern.MatchString(slug) {
			return Role{}, fmt.Errorf("%w: slug must be lowercase letters, digits and hyphens", ErrInvalidInput)
		}
		upd.Slug = &slug
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return Role{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
	}
	return s.store.UpdateRole(ctx, role.ID, upd)
}

// DeleteRole removes a custom role. System roles return ErrForbidden, and a
// role still carried by active assignments returns ErrConflict so access is
// never silently dropped.
func (s *RBACService) DeleteRole(ctx context.Context, companyID, roleID string) error {
	role, err := s.store.GetRole(ctx, companyID, roleID)
	if err != nil {
		return err
	}
	if role.System {
		return fmt.Errorf("%w: system roles cannot be deleted", ErrForbidden)
	}
	n, err := s.store.CountActiveAssignments(ctx, role.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: role has %d active assignment(s)", ErrConflict, n)
	}
	return s.store.DeleteRole(ctx, role.ID)
}

// SetRolePermissions replaces the full grant set of a custom role. Unknown
// slugs are rejected before anything is written.
func (s *RBACService) SetRolePermissions(ctx context.Context, companyID, roleID string, slugs []string) ([]Permission, error) {
	role, err := s.store.GetRole(ctx, companyID, roleID)
	if err != nil {
		return nil, err
	}
	if role.System {
		return nil, fmt.Errorf("%w: system roles cannot be modified", ErrForbidden)
	}
	if err := s.setPermissions(ctx, role.ID, slugs); err != nil {
		return nil, err
	}
	return s.store.PermissionsForRole(ctx, role.ID)
}

func (s *RBACService) setPermissions(ctx context.Context, roleID string, slugs []string) error {
	slugs = dedupeStrings(slugs)
	known, err := s.store.ListPermissions(ctx)
	if err != nil {
		return err
	}
	valid := make(map[string]struct{}, len(known))
	for _, p := range known {
		valid[p.Slug] = struct{}{}
	}
	for _, slug := range slugs {
		if _, ok := valid[slug]; !ok {
			return fmt.Errorf("%w: unknown permission %s", ErrInvalidInput, slug)
		}
	}
	return s.store.SetRolePermissions(ctx, roleID, slugs)
}

// AssignRole grants a role to a user, optionally time-boxed. The role and the
// user must belong to the same company; mismatches return ErrNotFound rather
// than revealing that the role exists elsewhere.
func (s *RBACService) AssignRole(ctx context.Context, companyID, userID, roleID string, expiresAt *time.Time) (UserRoleAssignment, error) {
	role, err := s.store.GetRole(ctx, companyID, roleID)
	if err != nil {
		return UserRoleAssignment{}, err
	}
	user, err := s.store.GetUser(ctx, companyID, userID)
	if err != nil {
		return UserRoleAssignment{}, err
	}
	if role.CompanyID != user.CompanyID {
		return UserRoleAssignment{}, ErrNotFound
	}
	if expiresAt != nil && !expiresAt.After(s.now().UTC()) {
		return UserRoleAssignment{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	return s.store.AssignRole(ctx, UserRoleAssignment{
		UserID:    user.ID,
		RoleID:    role.ID,
		CompanyID: companyID,
		Active:    true,
		ExpiresAt: expiresAt,
	})
}

// RevokeRole deactivates a user's role assignment. Revocation takes effect on
// the next permission resolution; tokens already issued are untouched.
func (s *RBACService) RevokeRole(ctx context.Context, companyID, userID, roleID string) error {
	if _, err := s.store.GetRole(ctx, companyID, roleID); err != nil {
		return err
	}
	if _, err := s.store.GetUser(ctx, companyID, userID); err != nil {
		return err
	}
	return s.store.DeactivateAssignment(ctx, userID, roleID)
}

// UserRoles lists a user's role assignments, including inactive and expired
// ones, for the management surface.
func (s *RBACService) UserRoles(ctx context.Context, companyID, userID string) ([]UserRoleAssignment, error) {
	if _, err := s.store.GetUser(ctx, companyID, userID); err != nil {
		return nil, err
	}
	return s.store.ListAssignments(ctx, userID)
}

// CreateUserInput carries the fields accepted when an admin creates a user.
type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	RoleIDs   []string
}

// CreateUser provisions a user inside the company and optionally assigns
// initial roles.
func (s *RBACService) CreateUser(ctx context.Context, companyID string, in CreateUserInput) (User, error) {
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	user := User{
		ID:           ids.New(),
		CompanyID:    companyID,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Active:       true,
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		return User{}, err
	}
	for _, roleID := range dedupeStrings(in.RoleIDs) {
		if _, err := s.AssignRole(ctx, companyID, user.ID, roleID, nil); err != nil {
			return User{}, err
		}
	}
	return user, nil
}

// GetUser returns a company user.
func (s *RBACService) GetUser(ctx context.Context, companyID, userID string) (User, error) {
	return s.store.GetUser(ctx, companyID, userID)
}

// ListUsers lists the company's users.
func (s *RBACService) ListUsers(ctx context.Context, companyID string) ([]User, error) {
	return s.store.ListUsers(ctx, companyID)
}

// UpdateUser applies a partial update to a company user. A password in the
// update is hashed before it reaches the store.
func (s *RBACService) UpdateUser(ctx context.Context, companyID, userID string, upd UserUpdate) (User, error) {
	if _, err := s.store.GetUser(ctx, companyID, userID); err != nil {
		return User{}, err
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	if upd.Password != nil {
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
		}
		upd.Password = &hash
	}
	return s.store.UpdateUser(ctx, userID, upd)
}

// DeactivateUser disables the account and revokes every live session so the
// user cannot refresh their way back in.
func (s *RBACService) DeactivateUser(ctx context.Context, companyID, userID string) error {
	if _, err := s.store.GetUser(ctx, companyID, userID); err != nil {
		return err
	}
	inactive := false
	if _, err := s.store.UpdateUser(ctx, userID, UserUpdate{Active: &inactive}); err != nil {
		return err
	}
	_, err := s.store.RevokeUserSessions(ctx, userID)
	return err
}

// PermissionGroup is the catalog grouped by resource for display.
type PermissionGroup struct {
	Resource    string       `json:"resource"`
	Permissions []Permission `json:"permissions"`
}

// ListPermissions returns the global catalog.
func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// ListPermissionsGrouped returns the catalog grouped by resource, resources
// sorted alphabetically.
func (s *RBACService) ListPermissionsGrouped(ctx context.Context) ([]PermissionGroup, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	byResource := make(map[string][]Permission)
	for _, p := range perms {
		byResource[p.Resource] = append(byResource[p.Resource], p)
	}
	resources := make([]string, 0, len(byResource))
	for r := range byResource {
		resources = append(resources, r)
	}
	sort.Strings(resources)
	groups := make([]PermissionGroup, 0, len(resources))
	for _, r := range resources {
		groups = append(groups, PermissionGroup{Resource: r, Permissions: byResource[r]})
	}
	return groups, nil
}

func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
