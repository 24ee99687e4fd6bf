package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/repo"
)

func validWorkStatus(status string) bool {
	switch status {
	case "not_started", "in_progress", "at_risk", "achieved":
		return true
	}
	return false
}

func activeStrategyStatus(status string) bool {
	switch status {
	case "NotStarted", "InProgress", "OnTrack", "Behind":
		return true
	}
	return false
}

// ensureStrategyTransition enforces the strategy lifecycle: the four active
// statuses are freely interchangeable, completion is one-way, and Archived is
// terminal.
func ensureStrategyTransition(from, to string) error {
	switch {
	case activeStrategyStatus(from) && activeStrategyStatus(to):
		return nil
	case activeStrategyStatus(from) && to == "Completed":
		return nil
	case from == "Completed" && to == "Archived":
		return nil
	}
	return fmt.Errorf("invalid strategy status transition %s -> %s", from, to)
}

type StrategyCreateOptions struct {
	ID           string
	OrgID        string
	Title        string
	Description  string
	ColorCode    string
	DisplayOrder int
	ActorID      string
}

func (e Engine) CreateStrategy(ctx context.Context, opts StrategyCreateOptions) (domain.Strategy, error) {
	if opts.Title == "" {
		return domain.Strategy{}, errors.New("title is required")
	}
	orgID := opts.OrgID
	if orgID == "" {
		orgID = e.orgID()
	}
	if orgID == "" {
		return domain.Strategy{}, errors.New("organization is required")
	}
	if _, err := e.Repo.GetOrganization(ctx, orgID); err != nil {
		return domain.Strategy{}, fmt.Errorf("organization %s: %w", orgID, err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	color := opts.ColorCode
	if color == "" {
		color = e.nextPaletteColor(ctx, orgID)
	}
	now := e.timestamp()
	s := domain.Strategy{
		ID:           id,
		OrgID:        orgID,
		Title:        opts.Title,
		Description:  opts.Description,
		ColorCode:    color,
		Status:       "NotStarted",
		Progress:     0,
		DisplayOrder: opts.DisplayOrder,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Strategy{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStrategy(ctx, tx, s); err != nil {
		return domain.Strategy{}, fmt.Errorf("insert strategy: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "strategy.created", orgID, "strategy", s.ID, opts.ActorID, events.EventPayload{"title": s.Title}); err != nil {
		return domain.Strategy{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Strategy{}, err
	}
	return s, nil
}

func (e Engine) GetStrategy(ctx context.Context, id string) (domain.Strategy, error) {
	return e.Repo.GetStrategy(ctx, id)
}

func (e Engine) ListStrategies(ctx context.Context, filters repo.StrategyFilters) ([]domain.Strategy, error) {
	if filters.OrgID == "" {
		filters.OrgID = e.orgID()
	}
	return e.Repo.ListStrategies(ctx, filters)
}

type StrategyUpdateOptions struct {
	ID           string
	Title        *string
	Description  *string
	ColorCode    *string
	Status       string
	DisplayOrder *int
	ActorID      string
}

// UpdateStrategy edits the mutable fields of an active strategy. Completed
// and Archived are not valid targets here; those moves run through
// CompleteStrategy and ArchiveStrategy so their side effects always apply.
func (e Engine) UpdateStrategy(ctx context.Context, opts StrategyUpdateOptions) (domain.Strategy, error) {
	s, err := e.Repo.GetStrategy(ctx, opts.ID)
	if err != nil {
		return domain.Strategy{}, err
	}
	original := s
	if opts.Title != nil {
		if *opts.Title == "" {
			return s, errors.New("title is required")
		}
		s.Title = *opts.Title
	}
	if opts.Description != nil {
		s.Description = *opts.Description
	}
	if opts.ColorCode != nil {
		s.ColorCode = *opts.ColorCode
	}
	if opts.DisplayOrder != nil {
		s.DisplayOrder = *opts.DisplayOrder
	}
	if opts.Status != "" && opts.Status != s.Status {
		if !activeStrategyStatus(opts.Status) {
			return s, fmt.Errorf("invalid status %s for update; use the complete or archive operation", opts.Status)
		}
		if err := ensureStrategyTransition(s.Status, opts.Status); err != nil {
			return s, err
		}
		s.Status = opts.Status
	}
	s.UpdatedAt = e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStrategy(ctx, tx, s); err != nil {
		return s, fmt.Errorf("update strategy: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "strategy.updated", s.OrgID, "strategy", s.ID, opts.ActorID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   s.Status,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// CompleteStrategy moves an active strategy to Completed and stamps the
// completion date.
func (e Engine) CompleteStrategy(ctx context.Context, id, actorID string) (domain.Strategy, error) {
	s, err := e.Repo.GetStrategy(ctx, id)
	if err != nil {
		return domain.Strategy{}, err
	}
	if err := ensureStrategyTransition(s.Status, "Completed"); err != nil {
		return s, err
	}
	now := e.timestamp()
	s.Status = "Completed"
	s.CompletionDate = &now
	s.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStrategy(ctx, tx, s); err != nil {
		return s, fmt.Errorf("complete strategy: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "strategy.completed", s.OrgID, "strategy", s.ID, actorID, events.EventPayload{"completion_date": now}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// ArchiveStrategy moves a completed strategy to Archived and sweeps the
// archived flag over its projects and actions in the same transaction.
// Archiving an already archived strategy is allowed and re-runs the sweep,
// so a cascade interrupted midway is repaired by issuing the call again.
func (e Engine) ArchiveStrategy(ctx context.Context, id, actorID string) (domain.Strategy, error) {
	s, err := e.Repo.GetStrategy(ctx, id)
	if err != nil {
		return domain.Strategy{}, err
	}
	rerun := s.Status == "Archived"
	if !rerun {
		if err := ensureStrategyTransition(s.Status, "Archived"); err != nil {
			return s, err
		}
	}
	now := e.timestamp()
	s.Status = "Archived"
	s.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStrategy(ctx, tx, s); err != nil {
		return s, fmt.Errorf("archive strategy: %w", err)
	}
	if err := e.Repo.MarkStrategyChildrenArchived(ctx, tx, s.ID, now); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "strategy.archived", s.OrgID, "strategy", s.ID, actorID, events.EventPayload{"rerun": rerun}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// ReorderPair assigns a display position to one strategy.
type ReorderPair struct {
	ID           string
	DisplayOrder int
}

// ReorderStrategies writes each pair in turn. The batch is deliberately not
// atomic: a failure leaves the earlier pairs applied and the caller re-issues
// the whole list, which is harmless because ordering is cosmetic.
func (e Engine) ReorderStrategies(ctx context.Context, pairs []ReorderPair, actorID string) error {
	if len(pairs) == 0 {
		return errors.New("at least one reorder pair is required")
	}
	for _, p := range pairs {
		if p.ID == "" {
			return errors.New("reorder pair id is required")
		}
		if err := e.Repo.SetStrategyDisplayOrder(ctx, p.ID, p.DisplayOrder); err != nil {
			return fmt.Errorf("reorder strategy %s: %w", p.ID, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.logf("append reorder event: %v", err)
		return nil
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "strategies.reordered", e.orgID(), "strategy", "", actorID, events.EventPayload{"count": len(pairs)}); err != nil {
		e.logf("append reorder event: %v", err)
		return nil
	}
	if err := tx.Commit(); err != nil {
		e.logf("append reorder event: %v", err)
	}
	return nil
}

// DeleteStrategy removes the strategy; projects and actions underneath it go
// with it via the schema's cascade.
func (e Engine) DeleteStrategy(ctx context.Context, id, actorID string) error {
	s, err := e.Repo.GetStrategy(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteStrategy(ctx, tx, id); err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "strategy.deleted", s.OrgID, "strategy", s.ID, actorID, events.EventPayload{"title": s.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

type ProjectCreateOptions struct {
	ID           string
	StrategyID   string
	Title        string
	Description  string
	Status       string
	DisplayOrder int
	ActorID      string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Title == "" {
		return domain.Project{}, errors.New("title is required")
	}
	if opts.StrategyID == "" {
		return domain.Project{}, errors.New("strategy is required")
	}
	s, err := e.Repo.GetStrategy(ctx, opts.StrategyID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("strategy %s: %w", opts.StrategyID, err)
	}
	status := opts.Status
	if status == "" {
		status = "not_started"
	}
	if !validWorkStatus(status) {
		return domain.Project{}, fmt.Errorf("invalid status %s", status)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.timestamp()
	p := domain.Project{
		ID:           id,
		StrategyID:   s.ID,
		Title:        opts.Title,
		Description:  opts.Description,
		Status:       status,
		Progress:     0,
		DisplayOrder: opts.DisplayOrder,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", s.OrgID, "project", p.ID, opts.ActorID, events.EventPayload{"title": p.Title, "strategy_id": s.ID}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.refreshProjectAggregates(ctx, &p)
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context, filters repo.ProjectFilters) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, filters)
}

type ProjectUpdateOptions struct {
	ID           string
	Title        *string
	Description  *string
	Status       string
	Archived     *bool
	DisplayOrder *int
	ActorID      string
}

// UpdateProject edits a project and returns it with its progress freshly
// recalculated. The parent strategy is recalculated too, but callers re-fetch
// it themselves when they need the new value.
func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	s, err := e.Repo.GetStrategy(ctx, p.StrategyID)
	if err != nil {
		return p, fmt.Errorf("strategy %s: %w", p.StrategyID, err)
	}
	original := p
	if opts.Title != nil {
		if *opts.Title == "" {
			return p, errors.New("title is required")
		}
		p.Title = *opts.Title
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Status != "" && opts.Status != p.Status {
		if !validWorkStatus(opts.Status) {
			return p, fmt.Errorf("invalid status %s", opts.Status)
		}
		p.Status = opts.Status
	}
	if opts.Archived != nil {
		p.IsArchived = *opts.Archived
	}
	if opts.DisplayOrder != nil {
		p.DisplayOrder = *opts.DisplayOrder
	}
	p.UpdatedAt = e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, fmt.Errorf("update project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.updated", s.OrgID, "project", p.ID, opts.ActorID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   p.Status,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	e.refreshProjectAggregates(ctx, &p)
	return p, nil
}

// DeleteProject removes the project. Its actions survive with the project
// link cleared, which drops them out of every rollup until they are re-homed.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetStrategy(ctx, p.StrategyID)
	if err != nil {
		return fmt.Errorf("strategy %s: %w", p.StrategyID, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.deleted", s.OrgID, "project", p.ID, actorID, events.EventPayload{"title": p.Title}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if _, err := e.RecalculateStrategyProgress(ctx, p.StrategyID); err != nil {
		e.logf("recalculate strategy %s progress: %v", p.StrategyID, err)
	}
	return nil
}

type ActionCreateOptions struct {
	ID          string
	StrategyID  string
	ProjectID   string
	Title       string
	Description string
	Status      string
	AssigneeID  string
	DueDate     string
	ActorID     string
}

// CreateAction adds an action under a strategy, optionally inside one of the
// strategy's projects. An empty ProjectID makes it a strategy-level action,
// tracked but excluded from progress rollups.
func (e Engine) CreateAction(ctx context.Context, opts ActionCreateOptions) (domain.Action, error) {
	if opts.Title == "" {
		return domain.Action{}, errors.New("title is required")
	}
	if opts.StrategyID == "" {
		return domain.Action{}, errors.New("strategy is required")
	}
	s, err := e.Repo.GetStrategy(ctx, opts.StrategyID)
	if err != nil {
		return domain.Action{}, fmt.Errorf("strategy %s: %w", opts.StrategyID, err)
	}
	if opts.ProjectID != "" {
		p, err := e.Repo.GetProject(ctx, opts.ProjectID)
		if err != nil {
			return domain.Action{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
		if p.StrategyID != s.ID {
			return domain.Action{}, fmt.Errorf("invalid project %s: it belongs to another strategy", p.ID)
		}
	}
	status := opts.Status
	if status == "" {
		status = "not_started"
	}
	if !validWorkStatus(status) {
		return domain.Action{}, fmt.Errorf("invalid status %s", status)
	}
	if opts.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, opts.DueDate); err != nil {
			return domain.Action{}, fmt.Errorf("invalid due date %q: %w", opts.DueDate, err)
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.timestamp()
	a := domain.Action{
		ID:          id,
		StrategyID:  s.ID,
		ProjectID:   optionalString(opts.ProjectID),
		Title:       opts.Title,
		Description: opts.Description,
		Status:      status,
		AssigneeID:  optionalString(opts.AssigneeID),
		DueDate:     optionalString(opts.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAction(ctx, tx, a); err != nil {
		return domain.Action{}, fmt.Errorf("insert action: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "action.created", s.OrgID, "action", a.ID, opts.ActorID, events.EventPayload{"title": a.Title, "status": a.Status}); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	e.refreshActionAggregates(ctx, a.ProjectID, a.StrategyID)
	return a, nil
}

func (e Engine) GetAction(ctx context.Context, id string) (domain.Action, error) {
	return e.Repo.GetAction(ctx, id)
}

func (e Engine) ListActions(ctx context.Context, filters repo.ActionFilters) ([]domain.Action, error) {
	return e.Repo.ListActions(ctx, filters)
}

type ActionUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Status      string
	// Project moves the action into another of the strategy's projects; the
	// empty string detaches it to strategy level.
	Project *string
	// Assign sets the assignee; the empty string clears it.
	Assign *string
	// DueDate sets the due date; the empty string clears it.
	DueDate  *string
	Archived *bool
	ActorID  string
}

// UpdateAction edits an action and re-runs the rollup chain. When the action
// moves between projects both the old and the new parent get fresh values.
func (e Engine) UpdateAction(ctx context.Context, opts ActionUpdateOptions) (domain.Action, error) {
	a, err := e.Repo.GetAction(ctx, opts.ID)
	if err != nil {
		return domain.Action{}, err
	}
	s, err := e.Repo.GetStrategy(ctx, a.StrategyID)
	if err != nil {
		return a, fmt.Errorf("strategy %s: %w", a.StrategyID, err)
	}
	original := a
	if opts.Title != nil {
		if *opts.Title == "" {
			return a, errors.New("title is required")
		}
		a.Title = *opts.Title
	}
	if opts.Description != nil {
		a.Description = *opts.Description
	}
	if opts.Project != nil {
		if *opts.Project == "" {
			a.ProjectID = nil
		} else {
			p, err := e.Repo.GetProject(ctx, *opts.Project)
			if err != nil {
				return a, fmt.Errorf("project %s: %w", *opts.Project, err)
			}
			if p.StrategyID != a.StrategyID {
				return a, fmt.Errorf("invalid project %s: it belongs to another strategy", p.ID)
			}
			a.ProjectID = opts.Project
		}
	}
	if opts.Assign != nil {
		if *opts.Assign == "" {
			a.AssigneeID = nil
		} else {
			a.AssigneeID = opts.Assign
		}
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			a.DueDate = nil
		} else {
			if _, err := time.Parse(time.RFC3339, *opts.DueDate); err != nil {
				return a, fmt.Errorf("invalid due date %q: %w", *opts.DueDate, err)
			}
			a.DueDate = opts.DueDate
		}
	}
	if opts.Status != "" && opts.Status != a.Status {
		if !validWorkStatus(opts.Status) {
			return a, fmt.Errorf("invalid status %s", opts.Status)
		}
		a.Status = opts.Status
	}
	if opts.Archived != nil {
		a.IsArchived = *opts.Archived
	}
	a.UpdatedAt = e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAction(ctx, tx, a); err != nil {
		return a, fmt.Errorf("update action: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "action.updated", s.OrgID, "action", a.ID, opts.ActorID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   a.Status,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	if original.ProjectID != nil && (a.ProjectID == nil || *a.ProjectID != *original.ProjectID) {
		if _, err := e.RecalculateProjectProgress(ctx, *original.ProjectID); err != nil {
			e.logf("recalculate project %s progress: %v", *original.ProjectID, err)
		}
	}
	e.refreshActionAggregates(ctx, a.ProjectID, a.StrategyID)
	return a, nil
}

func (e Engine) DeleteAction(ctx context.Context, id, actorID string) error {
	a, err := e.Repo.GetAction(ctx, id)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetStrategy(ctx, a.StrategyID)
	if err != nil {
		return fmt.Errorf("strategy %s: %w", a.StrategyID, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAction(ctx, tx, id); err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "action.deleted", s.OrgID, "action", a.ID, actorID, events.EventPayload{"title": a.Title}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.refreshActionAggregates(ctx, a.ProjectID, a.StrategyID)
	return nil
}
