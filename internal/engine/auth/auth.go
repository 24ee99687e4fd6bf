package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides role checks backed by SQL. A user's role column joins to
// role_permissions seeded by the migrations.
type Service struct {
	DB *sql.DB
}

func (s Service) UserHasPermission(ctx context.Context, userID, perm string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT 1 FROM users u
JOIN role_permissions rp ON rp.role_name=u.role
WHERE u.id=? AND rp.permission=? LIMIT 1`,
		userID, perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Service) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT rp.permission
FROM users u
JOIN role_permissions rp ON rp.role_name=u.role
WHERE u.id=?`, userID)
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

func (s Service) UserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.DB.QueryRowContext(ctx, `SELECT role FROM users WHERE id=?`, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

// RequirePermission returns ForbiddenError when the user lacks perm.
func (s Service) RequirePermission(ctx context.Context, userID, perm string) error {
	ok, err := s.UserHasPermission(ctx, userID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}
