package repo

import (
	"context"
	"database/sql"

	"stratline/internal/domain"
)

func (r Repo) EnsureOrganization(ctx context.Context, tx *sql.Tx, orgID, name, now string) error {
	if name == "" {
		name = orgID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id, name, created_at) VALUES (?,?,?)`, orgID, name, now)
	return err
}

func (r Repo) RenameOrganization(ctx context.Context, tx *sql.Tx, orgID, name string) error {
	_, err := tx.ExecContext(ctx, `UPDATE organizations SET name=? WHERE id=?`, name, orgID)
	return err
}

func (r Repo) InsertOrganization(ctx context.Context, tx *sql.Tx, org domain.Organization) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO organizations(id, name, created_at) VALUES (?,?,?)`, org.ID, org.Name, org.CreatedAt)
	return err
}

func (r Repo) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	var org domain.Organization
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, created_at FROM organizations WHERE id=?`, id).
		Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return org, ErrNotFound
	}
	return org, err
}

func (r Repo) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, created_at FROM organizations ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var org domain.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, org)
	}
	return res, rows.Err()
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id, org_id, email, display_name, password_hash, role, created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.OrgID, u.Email, u.DisplayName, u.PasswordHash, u.Role, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id, org_id, email, display_name, password_hash, role, created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.OrgID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id, org_id, email, display_name, password_hash, role, created_at FROM users WHERE email=?`, email).
		Scan(&u.ID, &u.OrgID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	query := `SELECT id, org_id, email, display_name, password_hash, role, created_at FROM users`
	var args []any
	if orgID != "" {
		query += ` WHERE org_id=?`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.OrgID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpdateUserRole(ctx context.Context, tx *sql.Tx, id, role string) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, name, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles(name, description) VALUES (?,?)`, name, desc)
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, roleName, permission string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_name, permission) VALUES (?,?)`, roleName, permission)
	return err
}

func (r Repo) RolePermissions(ctx context.Context, roleName string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT permission FROM role_permissions WHERE role_name=?`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
