package repo

import (
	"context"
	"database/sql"

	"stratline/internal/domain"
)

func (r Repo) CreateDependency(ctx context.Context, d domain.Dependency) (domain.Dependency, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dependency{}, err
	}
	defer tx.Rollback()
	created, err := r.CreateDependencyTx(ctx, tx, d)
	if err != nil {
		return domain.Dependency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dependency{}, err
	}
	return created, nil
}

// CreateDependencyTx inserts the edge as given. Endpoint existence is not
// checked and duplicate edges are allowed.
func (r Repo) CreateDependencyTx(ctx context.Context, tx *sql.Tx, d domain.Dependency) (domain.Dependency, error) {
	_, err := tx.ExecContext(ctx, `INSERT INTO dependencies(id, source_type, source_id, target_type, target_id, created_by, created_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.SourceType, d.SourceID, d.TargetType, d.TargetID, d.CreatedBy, d.CreatedAt)
	if err != nil {
		return domain.Dependency{}, err
	}
	return d, nil
}

func (r Repo) GetDependency(ctx context.Context, id string) (domain.Dependency, error) {
	var d domain.Dependency
	err := r.DB.QueryRowContext(ctx, `SELECT id, source_type, source_id, target_type, target_id, created_by, created_at FROM dependencies WHERE id=?`, id).
		Scan(&d.ID, &d.SourceType, &d.SourceID, &d.TargetType, &d.TargetID, &d.CreatedBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

// ListDependenciesBySource returns every edge pointing out of the entity.
func (r Repo) ListDependenciesBySource(ctx context.Context, sourceType, sourceID string) ([]domain.Dependency, error) {
	return r.listDependencies(ctx, `SELECT id, source_type, source_id, target_type, target_id, created_by, created_at FROM dependencies WHERE source_type=? AND source_id=? ORDER BY created_at DESC, id DESC`, sourceType, sourceID)
}

// ListDependenciesByTarget returns every edge pointing into the entity,
// used to render the reverse "blocking" tags.
func (r Repo) ListDependenciesByTarget(ctx context.Context, targetType, targetID string) ([]domain.Dependency, error) {
	return r.listDependencies(ctx, `SELECT id, source_type, source_id, target_type, target_id, created_by, created_at FROM dependencies WHERE target_type=? AND target_id=? ORDER BY created_at DESC, id DESC`, targetType, targetID)
}

func (r Repo) listDependencies(ctx context.Context, query string, args ...any) ([]domain.Dependency, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.ID, &d.SourceType, &d.SourceID, &d.TargetType, &d.TargetID, &d.CreatedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) DeleteDependency(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM dependencies WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDependencyTx is the transactional variant used when the removal has
// to commit together with its activity event.
func (r Repo) DeleteDependencyTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
