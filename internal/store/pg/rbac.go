package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stocknest.org/internal/auth"
	"stocknest.org/internal/ids"
)

func (s *Store) CreateRole(ctx context.Context, role *auth.Role) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, company_id, name, slug, description, is_system, active)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, role.ID, role.CompanyID, role.Name, role.Slug, role.Description, role.System, role.Active)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

const roleColumns = `id, company_id, name, slug, description, is_system, active, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Slug, &r.Description,
		&r.System, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) GetRole(ctx context.Context, companyID, roleID string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errors.New("database connection unavailable")
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where id = $1 and company_id = $2
	`, roleID, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, err
}

func (s *Store) ListRoles(ctx context.Context, companyID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+roleColumns+`
		from roles
		where company_id = $1
		order by is_system desc, name
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Slug != nil {
		sets = append(sets, fmt.Sprintf("slug = $%d", idx))
		args = append(args, *upd.Slug)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, *upd.Description)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, roleID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return auth.Role{}, auth.ErrConflict
			}
			return auth.Role{}, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return auth.Role{}, err
		}
		if affected == 0 {
			return auth.Role{}, auth.ErrNotFound
		}
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where id = $1
	`, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, err
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where role_id = $1`, roleID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from roles where id = $1`, roleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) CountActiveAssignments(ctx context.Context, roleID string) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `
		select count(*) from user_roles where role_id = $1 and active
	`, roleID).Scan(&n)
	return n, err
}

func (s *Store) AssignRole(ctx context.Context, a auth.UserRoleAssignment) (auth.UserRoleAssignment, error) {
	if s.db == nil {
		return auth.UserRoleAssignment{}, errors.New("database connection unavailable")
	}
	// Re-assigning reactivates and replaces the expiry instead of duplicating.
	row := s.db.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id, company_id, active, expires_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, role_id) do update
		set active = excluded.active, expires_at = excluded.expires_at
		returning created_at
	`, a.UserID, a.RoleID, a.CompanyID, a.Active, nullableTime(a.ExpiresAt))
	if err := row.Scan(&a.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.UserRoleAssignment{}, auth.ErrNotFound
		}
		return auth.UserRoleAssignment{}, err
	}
	return a, nil
}

func (s *Store) DeactivateAssignment(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update user_roles set active = false where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, userID string) ([]auth.UserRoleAssignment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, company_id, active, expires_at, created_at
		from user_roles
		where user_id = $1
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.UserRoleAssignment
	for rows.Next() {
		var (
			a       auth.UserRoleAssignment
			expires sql.NullTime
		)
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.CompanyID, &a.Active, &expires, &a.CreatedAt); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			a.ExpiresAt = &t
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ActiveRolesForUser(ctx context.Context, userID string, now time.Time) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.company_id, r.name, r.slug, r.description, r.is_system, r.active, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		  and ur.active
		  and (ur.expires_at is null or ur.expires_at > $2)
		  and r.active
		order by r.name
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, slug, resource, action, is_system)
			values ($1, $2, $3, $4, $5)
			on conflict (slug) do nothing
		`, id, p.Slug, p.Resource, p.Action, p.System); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const permissionColumns = `id, slug, resource, action, is_system, created_at`

func scanPermission(row interface{ Scan(...any) error }) (auth.Permission, error) {
	var p auth.Permission
	err := row.Scan(&p.ID, &p.Slug, &p.Resource, &p.Action, &p.System, &p.CreatedAt)
	return p, err
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+permissionColumns+`
		from permissions
		order by resource, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, slugs []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, slug := range slugs {
		res, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			select $1, id from permissions where slug = $2
		`, roleID, slug)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return auth.ErrNotFound
			}
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: unknown permission %s", auth.ErrInvalidInput, slug)
		}
	}
	return tx.Commit()
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.slug, p.resource, p.action, p.is_system, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.resource, p.action
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UserPermissionSlugs(ctx context.Context, userID string, now time.Time) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.slug
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join roles r on r.id = rp.role_id
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		  and ur.active
		  and (ur.expires_at is null or ur.expires_at > $2)
		  and r.active
		order by p.slug
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		result = append(result, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
