package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/repo"
)

func validDependencyEntity(entityType string) bool {
	return entityType == "project" || entityType == "action"
}

type DependencyCreateOptions struct {
	SourceType string
	SourceID   string
	TargetType string
	TargetID   string
	ActorID    string
}

// CreateDependency records a directed edge between two entities. Only shape
// is validated: the endpoints are not checked for existence, and duplicate or
// circular edges are accepted. Edges are display metadata, so a bad one costs
// nothing and is trivially deleted.
func (e Engine) CreateDependency(ctx context.Context, opts DependencyCreateOptions) (domain.Dependency, error) {
	if opts.SourceType == "" || opts.SourceID == "" || opts.TargetType == "" || opts.TargetID == "" {
		return domain.Dependency{}, errors.New("source_type, source_id, target_type and target_id are required")
	}
	if !validDependencyEntity(opts.SourceType) {
		return domain.Dependency{}, fmt.Errorf("invalid source_type %s", opts.SourceType)
	}
	if !validDependencyEntity(opts.TargetType) {
		return domain.Dependency{}, fmt.Errorf("invalid target_type %s", opts.TargetType)
	}
	d := domain.Dependency{
		ID:         uuid.New().String(),
		SourceType: opts.SourceType,
		SourceID:   opts.SourceID,
		TargetType: opts.TargetType,
		TargetID:   opts.TargetID,
		CreatedBy:  opts.ActorID,
		CreatedAt:  e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dependency{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.CreateDependencyTx(ctx, tx, d); err != nil {
		return domain.Dependency{}, fmt.Errorf("insert dependency: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "dependency.created", e.orgID(), "dependency", d.ID, opts.ActorID, events.EventPayload{
		"source": opts.SourceType + ":" + opts.SourceID,
		"target": opts.TargetType + ":" + opts.TargetID,
	}); err != nil {
		return domain.Dependency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dependency{}, err
	}
	return d, nil
}

func (e Engine) GetDependency(ctx context.Context, id string) (domain.Dependency, error) {
	return e.Repo.GetDependency(ctx, id)
}

// DependenciesFrom lists the edges whose source is the given entity: the
// things it depends on.
func (e Engine) DependenciesFrom(ctx context.Context, entityType, entityID string) ([]domain.Dependency, error) {
	if !validDependencyEntity(entityType) {
		return nil, fmt.Errorf("invalid entity type %s", entityType)
	}
	return e.Repo.ListDependenciesBySource(ctx, entityType, entityID)
}

// DependenciesOn lists the edges whose target is the given entity: the things
// that depend on it, for "blocking" badges on the target's page.
func (e Engine) DependenciesOn(ctx context.Context, entityType, entityID string) ([]domain.Dependency, error) {
	if !validDependencyEntity(entityType) {
		return nil, fmt.Errorf("invalid entity type %s", entityType)
	}
	return e.Repo.ListDependenciesByTarget(ctx, entityType, entityID)
}

func (e Engine) DeleteDependency(ctx context.Context, id, actorID string) error {
	d, err := e.Repo.GetDependency(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDependencyTx(ctx, tx, id); err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "dependency.deleted", e.orgID(), "dependency", d.ID, actorID, events.EventPayload{
		"source": d.SourceType + ":" + d.SourceID,
		"target": d.TargetType + ":" + d.TargetID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// entityTitle looks up the display title for a type-tagged endpoint. Edges
// outlive their endpoints, so a missing row resolves to a placeholder rather
// than an error.
func (e Engine) entityTitle(ctx context.Context, entityType, id string) string {
	switch entityType {
	case "project":
		p, err := e.Repo.GetProject(ctx, id)
		if err == nil {
			return p.Title
		}
		if !errors.Is(err, repo.ErrNotFound) {
			e.logf("resolve project %s: %v", id, err)
		}
		return "Unknown project"
	case "action":
		a, err := e.Repo.GetAction(ctx, id)
		if err == nil {
			return a.Title
		}
		if !errors.Is(err, repo.ErrNotFound) {
			e.logf("resolve action %s: %v", id, err)
		}
		return "Unknown action"
	}
	return "Unknown entity"
}

// ResolveDependencies decorates edges with endpoint titles for display.
func (e Engine) ResolveDependencies(ctx context.Context, edges []domain.Dependency) []domain.ResolvedDependency {
	resolved := make([]domain.ResolvedDependency, 0, len(edges))
	for _, d := range edges {
		resolved = append(resolved, domain.ResolvedDependency{
			Dependency:  d,
			SourceTitle: e.entityTitle(ctx, d.SourceType, d.SourceID),
			TargetTitle: e.entityTitle(ctx, d.TargetType, d.TargetID),
		})
	}
	return resolved
}
