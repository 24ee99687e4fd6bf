package engine

import (
	"context"
	"math"

	"stratline/internal/domain"
)

// completionWeight maps an action or project status to its contribution to
// the parent's percentage. The in-progress midpoint is configurable because
// teams disagree on how much credit started work deserves.
func (e Engine) completionWeight(status string) int {
	switch status {
	case "achieved":
		return 100
	case "in_progress":
		if e.Config != nil {
			return e.Config.InProgressWeight()
		}
		return 50
	default:
		// not_started, at_risk and anything unrecognized count as zero.
		return 0
	}
}

// RecalculateProjectProgress recomputes a project's progress as the rounded
// mean of its non-archived actions' completion weights and persists it. A
// project with no live actions goes to zero. The stored value is a cache:
// concurrent writers overwrite each other and the last one wins.
func (e Engine) RecalculateProjectProgress(ctx context.Context, projectID string) (int, error) {
	statuses, err := e.Repo.ActionStatuses(ctx, projectID)
	if err != nil {
		return 0, err
	}
	progress := 0
	if len(statuses) > 0 {
		total := 0
		for _, s := range statuses {
			total += e.completionWeight(s)
		}
		progress = int(math.Round(float64(total) / float64(len(statuses))))
	}
	if err := e.Repo.UpdateProjectProgress(ctx, projectID, progress); err != nil {
		return 0, err
	}
	return progress, nil
}

// RecalculateStrategyProgress recomputes a strategy's progress as the rounded
// mean of its non-archived projects' stored progress values and persists it.
// Strategy-level actions do not participate; a strategy with no live projects
// goes to zero.
func (e Engine) RecalculateStrategyProgress(ctx context.Context, strategyID string) (int, error) {
	values, err := e.Repo.ProjectProgressValues(ctx, strategyID)
	if err != nil {
		return 0, err
	}
	progress := 0
	if len(values) > 0 {
		total := 0
		for _, v := range values {
			total += v
		}
		progress = int(math.Round(float64(total) / float64(len(values))))
	}
	if err := e.Repo.UpdateStrategyProgress(ctx, strategyID, progress); err != nil {
		return 0, err
	}
	return progress, nil
}

// refreshProjectAggregates runs the rollup chain after a project mutation and
// folds the fresh value into the entity handed back to the caller. The
// mutation has already committed, so failures here are logged and swallowed
// rather than surfaced.
func (e Engine) refreshProjectAggregates(ctx context.Context, p *domain.Project) {
	progress, err := e.RecalculateProjectProgress(ctx, p.ID)
	if err != nil {
		e.logf("recalculate project %s progress: %v", p.ID, err)
	} else {
		p.Progress = progress
	}
	if _, err := e.RecalculateStrategyProgress(ctx, p.StrategyID); err != nil {
		e.logf("recalculate strategy %s progress: %v", p.StrategyID, err)
	}
}

// refreshActionAggregates runs the rollup chain after an action mutation:
// the owning project first, then the strategy. Strategy-level actions skip
// straight to the strategy, whose value cannot change but whose timestamp
// marks the sweep.
func (e Engine) refreshActionAggregates(ctx context.Context, projectID *string, strategyID string) {
	if projectID != nil {
		if _, err := e.RecalculateProjectProgress(ctx, *projectID); err != nil {
			e.logf("recalculate project %s progress: %v", *projectID, err)
		}
	}
	if _, err := e.RecalculateStrategyProgress(ctx, strategyID); err != nil {
		e.logf("recalculate strategy %s progress: %v", strategyID, err)
	}
}
