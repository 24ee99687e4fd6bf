package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stratline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func scanStrategy(row *sql.Row) (domain.Strategy, error) {
	var s domain.Strategy
	var desc, color, completion sql.NullString
	err := row.Scan(&s.ID, &s.OrgID, &s.Title, &desc, &color, &s.Status, &s.Progress, &s.DisplayOrder, &completion, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if desc.Valid {
		s.Description = desc.String
	}
	if color.Valid {
		s.ColorCode = color.String
	}
	if completion.Valid {
		s.CompletionDate = &completion.String
	}
	return s, err
}

const strategyColumns = `id,org_id,title,description,color_code,status,progress,display_order,completion_date,created_at,updated_at`

func (r Repo) InsertStrategy(ctx context.Context, tx *sql.Tx, s domain.Strategy) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO strategies(id,org_id,title,description,color_code,status,progress,display_order,completion_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.OrgID, s.Title, nullable(s.Description), nullable(s.ColorCode), s.Status, s.Progress, s.DisplayOrder, nullableStringPtr(s.CompletionDate), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetStrategy(ctx context.Context, id string) (domain.Strategy, error) {
	return scanStrategy(r.DB.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id=?`, id))
}

type StrategyFilters struct {
	OrgID           string
	Status          string
	IncludeArchived bool
}

func (r Repo) ListStrategies(ctx context.Context, f StrategyFilters) ([]domain.Strategy, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "status != 'Archived'")
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	rows, err := r.DB.QueryContext(ctx, `SELECT `+strategyColumns+` FROM strategies `+where+` ORDER BY display_order ASC, created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Strategy
	for rows.Next() {
		var s domain.Strategy
		var desc, color, completion sql.NullString
		if err := rows.Scan(&s.ID, &s.OrgID, &s.Title, &desc, &color, &s.Status, &s.Progress, &s.DisplayOrder, &completion, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			s.Description = desc.String
		}
		if color.Valid {
			s.ColorCode = color.String
		}
		if completion.Valid {
			s.CompletionDate = &completion.String
		}
		res = append(res, s)
	}
	return res, nil
}

// CountStrategies counts every strategy in the organization, archived ones
// included. The palette rotation keys off it.
func (r Repo) CountStrategies(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM strategies WHERE org_id=?`, orgID).Scan(&n)
	return n, err
}

func (r Repo) UpdateStrategy(ctx context.Context, tx *sql.Tx, s domain.Strategy) error {
	res, err := tx.ExecContext(ctx, `UPDATE strategies SET title=?, description=?, color_code=?, status=?, progress=?, display_order=?, completion_date=?, updated_at=? WHERE id=?`,
		s.Title, nullable(s.Description), nullable(s.ColorCode), s.Status, s.Progress, s.DisplayOrder, nullableStringPtr(s.CompletionDate), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStrategyProgress writes only the derived aggregate column.
func (r Repo) UpdateStrategyProgress(ctx context.Context, id string, progress int) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE strategies SET progress=? WHERE id=?`, progress, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStrategyDisplayOrder writes one reorder pair. The bulk reorder loop
// calls it once per pair without a wrapping transaction.
func (r Repo) SetStrategyDisplayOrder(ctx context.Context, id string, displayOrder int) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE strategies SET display_order=? WHERE id=?`, displayOrder, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteStrategy(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM strategies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStrategyChildrenArchived sweeps the projects then the actions of a
// strategy. Re-running it over already-archived rows is a no-op.
func (r Repo) MarkStrategyChildrenArchived(ctx context.Context, tx *sql.Tx, strategyID, updatedAt string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET is_archived=1, updated_at=? WHERE strategy_id=?`, updatedAt, strategyID); err != nil {
		return fmt.Errorf("archive projects: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE actions SET is_archived=1, updated_at=? WHERE strategy_id=?`, updatedAt, strategyID); err != nil {
		return fmt.Errorf("archive actions: %w", err)
	}
	return nil
}

const projectColumns = `id,strategy_id,title,description,status,progress,is_archived,display_order,created_at,updated_at`

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,strategy_id,title,description,status,progress,is_archived,display_order,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.StrategyID, p.Title, nullable(p.Description), p.Status, p.Progress, p.IsArchived, p.DisplayOrder, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.StrategyID, &p.Title, &desc, &p.Status, &p.Progress, &p.IsArchived, &p.DisplayOrder, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

type ProjectFilters struct {
	StrategyID      string
	Status          string
	IncludeArchived bool
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.StrategyID != "" {
		clauses = append(clauses, "strategy_id=?")
		args = append(args, f.StrategyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "is_archived=0")
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects `+where+` ORDER BY display_order ASC, created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.StrategyID, &p.Title, &desc, &p.Status, &p.Progress, &p.IsArchived, &p.DisplayOrder, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			p.Description = desc.String
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET title=?, description=?, status=?, progress=?, is_archived=?, display_order=?, updated_at=? WHERE id=?`,
		p.Title, nullable(p.Description), p.Status, p.Progress, p.IsArchived, p.DisplayOrder, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProjectProgress writes only the derived aggregate column.
func (r Repo) UpdateProjectProgress(ctx context.Context, id string, progress int) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET progress=? WHERE id=?`, progress, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ProjectProgressValues returns the progress of every non-archived project
// under a strategy, for the strategy rollup.
func (r Repo) ProjectProgressValues(ctx context.Context, strategyID string) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT progress FROM projects WHERE strategy_id=? AND is_archived=0`, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

const actionColumns = `id,strategy_id,project_id,title,description,status,assignee_id,due_date,is_archived,created_at,updated_at`

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actions(id,strategy_id,project_id,title,description,status,assignee_id,due_date,is_archived,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.StrategyID, nullableStringPtr(a.ProjectID), a.Title, nullable(a.Description), a.Status, nullableStringPtr(a.AssigneeID), nullableStringPtr(a.DueDate), a.IsArchived, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	var a domain.Action
	var projectID, desc, assignee, due sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=?`, id).
		Scan(&a.ID, &a.StrategyID, &projectID, &a.Title, &desc, &a.Status, &assignee, &due, &a.IsArchived, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if projectID.Valid {
		a.ProjectID = &projectID.String
	}
	if desc.Valid {
		a.Description = desc.String
	}
	if assignee.Valid {
		a.AssigneeID = &assignee.String
	}
	if due.Valid {
		a.DueDate = &due.String
	}
	return a, nil
}

type ActionFilters struct {
	StrategyID      string
	ProjectID       string
	StrategyLevel   bool // only actions attached directly to the strategy
	Status          string
	AssigneeID      string
	IncludeArchived bool
	Limit           int
}

func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.Action, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.StrategyID != "" {
		clauses = append(clauses, "strategy_id=?")
		args = append(args, f.StrategyID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.StrategyLevel {
		clauses = append(clauses, "project_id IS NULL")
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "is_archived=0")
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + actionColumns + ` FROM actions ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		var a domain.Action
		var projectID, desc, assignee, due sql.NullString
		if err := rows.Scan(&a.ID, &a.StrategyID, &projectID, &a.Title, &desc, &a.Status, &assignee, &due, &a.IsArchived, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if projectID.Valid {
			a.ProjectID = &projectID.String
		}
		if desc.Valid {
			a.Description = desc.String
		}
		if assignee.Valid {
			a.AssigneeID = &assignee.String
		}
		if due.Valid {
			a.DueDate = &due.String
		}
		res = append(res, a)
	}
	return res, nil
}

func (r Repo) UpdateAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	res, err := tx.ExecContext(ctx, `UPDATE actions SET project_id=?, title=?, description=?, status=?, assignee_id=?, due_date=?, is_archived=?, updated_at=? WHERE id=?`,
		nullableStringPtr(a.ProjectID), a.Title, nullable(a.Description), a.Status, nullableStringPtr(a.AssigneeID), nullableStringPtr(a.DueDate), a.IsArchived, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAction(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActionStatuses returns the status of every non-archived action attached to
// a project, for the project rollup.
func (r Repo) ActionStatuses(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status FROM actions WHERE project_id=? AND is_archived=0`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) CountActionsByStatus(ctx context.Context, strategyID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM actions WHERE strategy_id=? AND is_archived=0 GROUP BY status`, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, orgID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if orgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, orgID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,org_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var orgID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &orgID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if orgID.Valid {
			e.OrgID = orgID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// EventsAfter returns events with id greater than afterID in ascending order,
// for webhook delivery cursors.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64, orgID string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,org_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>?`
	args := []any{afterID}
	if orgID != "" {
		query += ` AND org_id=?`
		args = append(args, orgID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var evtOrgID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &evtOrgID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if evtOrgID.Valid {
			e.OrgID = evtOrgID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id for the organization, or 0 when
// there are none.
func (r Repo) LatestEventID(ctx context.Context, orgID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if orgID != "" {
		query += ` WHERE org_id=?`
		args = append(args, orgID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
