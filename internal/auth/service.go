package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"stocknest.org/internal/ids"
)

// Service orchestrates login, refresh-token rotation, logout and
// request-time authorization on top of a Store and a TokenService.
type Service struct {
	store  Store
	tokens *TokenService
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	svc := &Service{store: store, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// EnsureCatalog seeds the global permission catalog. Idempotent.
func (s *Service) EnsureCatalog(ctx context.Context) error {
	return s.store.EnsurePermissions(ctx, BuiltinPermissions())
}

// LoginResult is the projection returned to a freshly authenticated client.
type LoginResult struct {
	User        User      `json:"user"`
	Roles       []Role    `json:"roles"`
	Permissions []string  `json:"permissions"`
	Tokens      TokenPair `json:"-"`
}

// Login verifies credentials and, on success, issues a token pair, records a
// session and updates the last-login timestamp. Missing user, wrong password
// and inactive user/company all collapse into ErrUnauthorized so responses
// cannot be used to enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password string, dev Device) (LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return LoginResult{}, ErrUnauthorized
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrUnauthorized
		}
		return LoginResult{}, err
	}
	if !user.Active {
		return LoginResult{}, ErrUnauthorized
	}
	company, err := s.store.GetCompany(ctx, user.CompanyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrUnauthorized
		}
		return LoginResult{}, err
	}
	if !company.Active {
		return LoginResult{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return LoginResult{}, ErrUnauthorized
	}

	pair, err := s.tokens.Issue(user.ID, user.Email, user.CompanyID)
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now().UTC()
	session := &Session{
		ID:               ids.New(),
		UserID:           user.ID,
		RefreshTokenHash: HashToken(pair.RefreshToken),
		UserAgent:        dev.UserAgent,
		IP:               dev.IP,
		ExpiresAt:        pair.RefreshExpiresAt,
		LastActivityAt:   now,
		CreatedAt:        now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return LoginResult{}, err
	}
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, err
	}
	user.LastLoginAt = &now

	roles, perms, err := s.rolesAndPermissions(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Roles: roles, Permissions: perms, Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a fresh pair, rotating the session in
// place. The token must verify cryptographically AND map to a live session,
// and the owning user and company must still be active. The rotation is a
// compare-and-set: of two concurrent refreshes with the same token, exactly
// one wins; the loser gets ErrUnauthorized. Store errors fail the refresh
// rather than falling back to the signature alone.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, ErrUnauthorized
	}
	now := s.now().UTC()
	oldHash := HashToken(refreshToken)
	session, err := s.store.FindLiveSessionByTokenHash(ctx, oldHash, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	if session.UserID != claims.Subject {
		return TokenPair{}, ErrUnauthorized
	}
	user, err := s.store.GetUser(ctx, claims.CompanyID, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	if !user.Active {
		return TokenPair{}, ErrUnauthorized
	}
	company, err := s.store.GetCompany(ctx, user.CompanyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	if !company.Active {
		return TokenPair{}, ErrUnauthorized
	}

	pair, err := s.tokens.Issue(user.ID, user.Email, user.CompanyID)
	if err != nil {
		return TokenPair{}, err
	}
	err = s.store.RotateSession(ctx, session.ID, oldHash, HashToken(pair.RefreshToken), pair.RefreshExpiresAt, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost the rotation race or the session vanished underneath us.
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	return pair, nil
}

// Logout revokes the session holding the given refresh token. Idempotent:
// revoking an already-gone session is not an error, and a malformed token is
// treated the same as an unknown one.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	err := s.store.RevokeSessionByTokenHash(ctx, HashToken(refreshToken))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// LogoutAll revokes every live session of the user. Idempotent.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	_, err := s.store.RevokeUserSessions(ctx, userID)
	return err
}

// Authenticate validates an access token and returns the principal. No store
// lookup: an access token stays valid until its own expiry even after the
// session that issued it was rotated or revoked.
func (s *Service) Authenticate(token string) (Principal, error) {
	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: claims.Subject, Email: claims.Email, CompanyID: claims.CompanyID}, nil
}

// ResolvePermissions computes the user's effective permission set: the
// deduplicated union over all active, unexpired role assignments. A user with
// no assignments resolves to an empty set, not an error. The result is always
// current state; nothing is cached.
func (s *Service) ResolvePermissions(ctx context.Context, userID string) ([]string, error) {
	slugs, err := s.store.UserPermissionSlugs(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, slug := range slugs {
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		out = append(out, slug)
	}
	sort.Strings(out)
	return out, nil
}

// Require checks that the user holds every one of the given permission slugs
// (all-of, never any-of). Returns the first missing slug with ErrForbidden.
func (s *Service) Require(ctx context.Context, userID string, required ...string) error {
	if len(required) == 0 {
		return nil
	}
	resolved, err := s.ResolvePermissions(ctx, userID)
	if err != nil {
		// Fail closed: a store error never turns into an allow.
		return fmt.Errorf("resolve permissions: %w", err)
	}
	held := make(map[string]struct{}, len(resolved))
	for _, slug := range resolved {
		held[slug] = struct{}{}
	}
	for _, slug := range required {
		if _, ok := held[slug]; !ok {
			return fmt.Errorf("%w: missing permission %s", ErrForbidden, slug)
		}
	}
	return nil
}

// CurrentUser returns the user/role/permission projection for an
// authenticated principal.
func (s *Service) CurrentUser(ctx context.Context, principal Principal) (LoginResult, error) {
	user, err := s.store.GetUser(ctx, principal.CompanyID, principal.UserID)
	if err != nil {
		return LoginResult{}, err
	}
	roles, perms, err := s.rolesAndPermissions(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Roles: roles, Permissions: perms}, nil
}

// Sessions lists the user's live sessions (device/IP/activity projection).
func (s *Service) Sessions(ctx context.Context, userID string) ([]Session, error) {
	return s.store.ListSessions(ctx, userID, s.now().UTC())
}

// ChangePassword verifies the current password before replacing the hash.
// This is the only operation that mutates the credential hash.
func (s *Service) ChangePassword(ctx context.Context, principal Principal, current, next string) error {
	user, err := s.store.GetUser(ctx, principal.CompanyID, principal.UserID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrUnauthorized
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if _, err := s.store.UpdateUser(ctx, user.ID, UserUpdate{Password: &hash}); err != nil {
		return err
	}
	return nil
}

// RegisterInput creates a company plus its first user, or joins an existing
// company by id.
type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	CompanyName string
	CompanyID   string
}

// Register provisions the account. New companies receive the seeded system
// roles and the creator gets the super-admin role so the tenant can always
// manage itself.
func (s *Service) Register(ctx context.Context, in RegisterInput) (LoginResult, error) {
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return LoginResult{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	var company Company
	freshCompany := false
	if id := strings.TrimSpace(in.CompanyID); id != "" {
		company, err = s.store.GetCompany(ctx, id)
		if err != nil {
			return LoginResult{}, err
		}
	} else {
		name := strings.TrimSpace(in.CompanyName)
		if name == "" {
			return LoginResult{}, fmt.Errorf("%w: company_name or company_id is required", ErrInvalidInput)
		}
		company = Company{ID: ids.New(), Name: name, Active: true}
		if err := s.store.CreateCompany(ctx, &company); err != nil {
			return LoginResult{}, err
		}
		freshCompany = true
	}

	user := User{
		ID:           ids.New(),
		CompanyID:    company.ID,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Active:       true,
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		return LoginResult{}, err
	}

	if freshCompany {
		adminRoleID, err := s.provisionSystemRoles(ctx, company.ID)
		if err != nil {
			return LoginResult{}, err
		}
		_, err = s.store.AssignRole(ctx, UserRoleAssignment{
			UserID:    user.ID,
			RoleID:    adminRoleID,
			CompanyID: company.ID,
			Active:    true,
		})
		if err != nil {
			return LoginResult{}, err
		}
	}

	roles, perms, err := s.rolesAndPermissions(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Roles: roles, Permissions: perms}, nil
}

// provisionSystemRoles creates the baseline roles for a new company and
// returns the super-admin role id.
func (s *Service) provisionSystemRoles(ctx context.Context, companyID string) (string, error) {
	var adminRoleID string
	for _, tpl := range SystemRoles() {
		role := Role{
			ID:          ids.New(),
			CompanyID:   companyID,
			Name:        tpl.Name,
			Slug:        tpl.Slug,
			Description: tpl.Description,
			System:      true,
			Active:      true,
		}
		if err := s.store.CreateRole(ctx, &role); err != nil {
			return "", err
		}
		if err := s.store.SetRolePermissions(ctx, role.ID, tpl.Permissions); err != nil {
			return "", err
		}
		if tpl.Slug == SuperAdminRoleSlug {
			adminRoleID = role.ID
		}
	}
	return adminRoleID, nil
}

func (s *Service) rolesAndPermissions(ctx context.Context, userID string) ([]Role, []string, error) {
	roles, err := s.store.ActiveRolesForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, nil, err
	}
	perms, err := s.ResolvePermissions(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if roles == nil {
		roles = []Role{}
	}
	return roles, perms, nil
}
