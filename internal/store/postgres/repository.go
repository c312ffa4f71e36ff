// Package postgres implements the authorization store and subject provider
// on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scopeguard/scopeguard/internal/authz"
	"github.com/scopeguard/scopeguard/internal/platform/db"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for roles, permissions,
// data scopes and their assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Subject returns the assignment snapshot for one subject.
func (r *Repository) Subject(ctx context.Context, subjectID int64) (authz.Subject, error) {
	var subject authz.Subject
	err := r.pool.QueryRow(ctx,
		`SELECT id, is_admin, organization_id, department_id FROM subjects WHERE id = $1`,
		subjectID,
	).Scan(&subject.ID, &subject.Admin, &subject.OrganizationID, &subject.DepartmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Subject{}, authz.ErrNotFound
		}
		return authz.Subject{}, err
	}

	subject.RoleIDs, err = r.listIDs(ctx,
		`SELECT role_id FROM subject_roles WHERE subject_id = $1 ORDER BY role_id`, subjectID)
	if err != nil {
		return authz.Subject{}, err
	}
	subject.PermissionIDs, err = r.listIDs(ctx,
		`SELECT permission_id FROM subject_permissions WHERE subject_id = $1 ORDER BY permission_id`, subjectID)
	if err != nil {
		return authz.Subject{}, err
	}
	subject.ScopeIDs, err = r.listIDs(ctx,
		`SELECT scope_id FROM subject_scopes WHERE subject_id = $1 ORDER BY scope_id`, subjectID)
	if err != nil {
		return authz.Subject{}, err
	}
	return subject, nil
}

// Role fetches a role by ID.
func (r *Repository) Role(ctx context.Context, roleID int64) (authz.Role, error) {
	var role authz.Role
	err := r.pool.QueryRow(ctx,
		`SELECT id, slug, name, enabled, guard FROM roles WHERE id = $1`, roleID,
	).Scan(&role.ID, &role.Slug, &role.Name, &role.Enabled, &role.Guard)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Role{}, authz.ErrNotFound
		}
		return authz.Role{}, err
	}
	return role, nil
}

// RolePermissions returns the permissions attached to a role.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]authz.Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.slug, p.name, p.resource, p.action, p.guard, p.parent_id
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1
		 ORDER BY p.id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// RoleScopes returns the data scopes attached to a role.
func (r *Repository) RoleScopes(ctx context.Context, roleID int64) ([]authz.DataScope, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.name, s.type, s.config, s.description
		 FROM data_scopes s
		 JOIN role_scopes rs ON rs.scope_id = s.id
		 WHERE rs.role_id = $1
		 ORDER BY s.id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScopes(rows)
}

// Permissions fetches permissions by ID.
func (r *Repository) Permissions(ctx context.Context, ids []int64) ([]authz.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, slug, name, resource, action, guard, parent_id
		 FROM permissions WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// Scopes fetches data scopes by ID.
func (r *Repository) Scopes(ctx context.Context, ids []int64) ([]authz.DataScope, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, type, config, description
		 FROM data_scopes WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScopes(rows)
}

// PermissionBySlug fetches a permission by its slug.
func (r *Repository) PermissionBySlug(ctx context.Context, slug string) (authz.Permission, error) {
	var p authz.Permission
	err := r.pool.QueryRow(ctx,
		`SELECT id, slug, name, resource, action, guard, parent_id
		 FROM permissions WHERE slug = $1`, slug,
	).Scan(&p.ID, &p.Slug, &p.Name, &p.Resource, &p.Action, &p.Guard, &p.ParentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Permission{}, authz.ErrNotFound
		}
		return authz.Permission{}, err
	}
	return p, nil
}

// Assignment mutations. Callers must invoke the matching gate hook after a
// successful mutation so cached effective sets are invalidated.

// AssignRole grants role membership. Re-assigning is a no-op.
func (r *Repository) AssignRole(ctx context.Context, subjectID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO subject_roles (subject_id, role_id) VALUES ($1, $2)`, subjectID, roleID)
	return ignoreDuplicate(err)
}

// RevokeRole removes role membership. Returns ErrNotFound when the
// assignment did not exist.
func (r *Repository) RevokeRole(ctx context.Context, subjectID, roleID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM subject_roles WHERE subject_id = $1 AND role_id = $2`, subjectID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authz.ErrNotFound
	}
	return nil
}

// GrantPermission adds a direct permission grant. Re-granting is a no-op.
func (r *Repository) GrantPermission(ctx context.Context, subjectID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO subject_permissions (subject_id, permission_id) VALUES ($1, $2)`, subjectID, permissionID)
	return ignoreDuplicate(err)
}

// RevokePermission removes a direct permission grant.
func (r *Repository) RevokePermission(ctx context.Context, subjectID, permissionID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM subject_permissions WHERE subject_id = $1 AND permission_id = $2`, subjectID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authz.ErrNotFound
	}
	return nil
}

// SetRolePermissions replaces a role's permission set atomically.
func (r *Repository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, id := range permissionIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) listIDs(ctx context.Context, query string, arg any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPermissions(rows pgx.Rows) ([]authz.Permission, error) {
	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Resource, &p.Action, &p.Guard, &p.ParentID); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func scanScopes(rows pgx.Rows) ([]authz.DataScope, error) {
	var scopes []authz.DataScope
	for rows.Next() {
		var s authz.DataScope
		if err := rows.Scan(&s.ID, &s.Name, &s.Type, &s.Config, &s.Description); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

func ignoreDuplicate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil
	}
	return err
}

var (
	_ authz.Store           = (*Repository)(nil)
	_ authz.SubjectProvider = (*Repository)(nil)
)
