package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardline/authcore/internal/domain"
)

// RoleRepo manages the global role/permission catalog. Roles are not
// tenant-scoped: a role name is unique across the whole instance.
type RoleRepo struct {
	pool *pgxpool.Pool
}

func NewRoleRepo(pool *pgxpool.Pool) *RoleRepo { return &RoleRepo{pool: pool} }

func (r *RoleRepo) Create(ctx context.Context, role *domain.Role) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO roles (id, name, permissions) VALUES ($1, $2, $3)`,
		role.ID, role.Name, role.Permissions)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func scanRole(row pgx.Row) (*domain.Role, error) {
	var role domain.Role
	err := row.Scan(&role.ID, &role.Name, &role.Permissions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan role: %w", err)
	}
	return &role, nil
}

func (r *RoleRepo) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT id, name, permissions FROM roles WHERE name = $1`, name))
}

func (r *RoleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT id, name, permissions FROM roles WHERE id = $1`, id))
}

// SetPermissions replaces a role's permission list wholesale. The schema's
// role_permissions table is neither read nor written here: a role's
// `permissions` column is the permission set itself, so adding, removing,
// or renaming a permission for a role is always a full rewrite of that
// list rather than a row-level insert/delete elsewhere.
func (r *RoleRepo) SetPermissions(ctx context.Context, id uuid.UUID, permissions []string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE roles SET permissions = $2 WHERE id = $1`, id, permissions)
	if err != nil {
		return fmt.Errorf("update role permissions: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RoleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}

func (r *RoleRepo) List(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, permissions FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()
	var out []domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *role)
	}
	return out, rows.Err()
}

func (r *RoleRepo) AssignToUser(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, roleID)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (r *RoleRepo) RevokeFromUser(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

// RolesForUser returns every role assigned to userID.
func (r *RoleRepo) RolesForUser(ctx context.Context, userID uuid.UUID) ([]domain.Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.name, r.permissions
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles for user: %w", err)
	}
	defer rows.Close()
	var out []domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *role)
	}
	return out, rows.Err()
}
