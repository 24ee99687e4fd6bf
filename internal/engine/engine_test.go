package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/migrate"
	"stratline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreateOrganization(ctx, "org-1", "Test Org", "tester"); err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestProjectProgressAveragesActionWeights(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "Grow revenue", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "Launch pricing page", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	for i := 0; i < 3; i++ {
		_, err = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "done work", Status: "achieved", ActorID: "tester"})
		if err != nil {
			t.Fatalf("create action: %v", err)
		}
	}
	_, err = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "pending work", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	// 3x100 + 1x0 over four actions rounds to 75.
	p, err = env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Progress != 75 {
		t.Fatalf("expected project progress 75, got %d", p.Progress)
	}
	s, err = env.Engine.GetStrategy(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get strategy: %v", err)
	}
	if s.Progress != 75 {
		t.Fatalf("expected strategy progress 75, got %d", s.Progress)
	}
}

func TestInProgressWeightConfigurable(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p", ActorID: "tester"})
	_, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "a", Status: "in_progress", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	p, _ = env.Engine.GetProject(env.Ctx, p.ID)
	if p.Progress != 50 {
		t.Fatalf("expected default in_progress weight 50, got %d", p.Progress)
	}
	env.Engine.Config.Progress.InProgressWeight = 30
	progress, err := env.Engine.RecalculateProjectProgress(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if progress != 30 {
		t.Fatalf("expected configured weight 30, got %d", progress)
	}
}

func TestProjectWithoutLiveActionsIsZero(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if p.Progress != 0 {
		t.Fatalf("expected fresh project at 0, got %d", p.Progress)
	}
	a, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "a", Status: "achieved", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	p, _ = env.Engine.GetProject(env.Ctx, p.ID)
	if p.Progress != 100 {
		t.Fatalf("expected 100 after achieved action, got %d", p.Progress)
	}
	// Deleting the only action empties the project and zeroes it again.
	if err := env.Engine.DeleteAction(env.Ctx, a.ID, "tester"); err != nil {
		t.Fatalf("delete action: %v", err)
	}
	p, _ = env.Engine.GetProject(env.Ctx, p.ID)
	if p.Progress != 0 {
		t.Fatalf("expected 0 after last action deleted, got %d", p.Progress)
	}
}

func TestStrategyLevelActionsExcludedFromRollup(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p", ActorID: "tester"})
	_, _ = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "in project", Status: "achieved", ActorID: "tester"})
	// No ProjectID makes it strategy-level: tracked, never rolled up.
	loose, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, Title: "loose end", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create strategy-level action: %v", err)
	}
	if loose.ProjectID != nil {
		t.Fatalf("expected nil project id")
	}
	s, _ = env.Engine.GetStrategy(env.Ctx, s.ID)
	if s.Progress != 100 {
		t.Fatalf("expected strategy at 100 despite loose not_started action, got %d", s.Progress)
	}
	actions, err := env.Engine.ListActions(env.Ctx, repo.ActionFilters{StrategyID: s.ID, StrategyLevel: true})
	if err != nil {
		t.Fatalf("list strategy-level actions: %v", err)
	}
	if len(actions) != 1 || actions[0].ID != loose.ID {
		t.Fatalf("expected only the loose action, got %d", len(actions))
	}
}

func TestStrategyProgressAveragesProjects(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p1, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p1", ActorID: "tester"})
	p2, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p2", ActorID: "tester"})
	_, _ = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p1.ID, Title: "a", Status: "achieved", ActorID: "tester"})
	_, _ = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p2.ID, Title: "b", ActorID: "tester"})
	s, _ = env.Engine.GetStrategy(env.Ctx, s.ID)
	if s.Progress != 50 {
		t.Fatalf("expected mean of 100 and 0 to be 50, got %d", s.Progress)
	}
	// Archiving a project removes it from the mean.
	archived := true
	_, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p2.ID, Archived: &archived, ActorID: "tester"})
	if err != nil {
		t.Fatalf("archive project: %v", err)
	}
	s, _ = env.Engine.GetStrategy(env.Ctx, s.ID)
	if s.Progress != 100 {
		t.Fatalf("expected 100 after archiving the empty project, got %d", s.Progress)
	}
}

func TestStrategyDefaultColorRotatesPalette(t *testing.T) {
	env := newTestEnv(t)
	palette := env.Engine.Config.Colors.Palette
	if len(palette) < 2 {
		t.Fatalf("default config palette too small: %v", palette)
	}
	s1, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s1", ActorID: "tester"})
	s2, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s2", ActorID: "tester"})
	if s1.ColorCode != palette[0] || s2.ColorCode != palette[1] {
		t.Fatalf("expected palette rotation %s,%s; got %s,%s", palette[0], palette[1], s1.ColorCode, s2.ColorCode)
	}
	s3, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s3", ColorCode: "#000000", ActorID: "tester"})
	if s3.ColorCode != "#000000" {
		t.Fatalf("explicit color overridden: %s", s3.ColorCode)
	}
}

func TestStrategyLifecycleTransitions(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	if s.Status != "NotStarted" {
		t.Fatalf("expected NotStarted, got %s", s.Status)
	}
	// active statuses are freely interchangeable
	s, err = env.Engine.UpdateStrategy(env.Ctx, engine.StrategyUpdateOptions{ID: s.ID, Status: "Behind", ActorID: "tester"})
	if err != nil || s.Status != "Behind" {
		t.Fatalf("to Behind: %v", err)
	}
	// Completed is not a plain update target
	_, err = env.Engine.UpdateStrategy(env.Ctx, engine.StrategyUpdateOptions{ID: s.ID, Status: "Completed", ActorID: "tester"})
	if err == nil || !strings.Contains(err.Error(), "complete or archive") {
		t.Fatalf("expected redirect to complete operation, got %v", err)
	}
	s, err = env.Engine.CompleteStrategy(env.Ctx, s.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.Status != "Completed" || s.CompletionDate == nil {
		t.Fatalf("expected Completed with completion date, got %s %v", s.Status, s.CompletionDate)
	}
	// completing twice is an invalid transition
	_, err = env.Engine.CompleteStrategy(env.Ctx, s.ID, "tester")
	if err == nil {
		t.Fatalf("expected error completing a completed strategy")
	}
	// editing back to an active status is also refused
	_, err = env.Engine.UpdateStrategy(env.Ctx, engine.StrategyUpdateOptions{ID: s.ID, Status: "InProgress", ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected transition error from Completed")
	}
	s, err = env.Engine.ArchiveStrategy(env.Ctx, s.ID, "tester")
	if err != nil || s.Status != "Archived" {
		t.Fatalf("archive: %v", err)
	}
}

func TestArchiveStrategyCascadesAndReruns(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p", ActorID: "tester"})
	a, _ := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "a", ActorID: "tester"})
	_, _ = env.Engine.CompleteStrategy(env.Ctx, s.ID, "tester")
	if _, err := env.Engine.ArchiveStrategy(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	p, _ = env.Engine.GetProject(env.Ctx, p.ID)
	a, _ = env.Engine.GetAction(env.Ctx, a.ID)
	if !p.IsArchived || !a.IsArchived {
		t.Fatalf("expected children archived, project=%v action=%v", p.IsArchived, a.IsArchived)
	}
	// A child that slipped in afterwards gets swept by re-running the archive.
	late, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "late", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create late action: %v", err)
	}
	if _, err := env.Engine.ArchiveStrategy(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("rerun archive: %v", err)
	}
	late, _ = env.Engine.GetAction(env.Ctx, late.ID)
	if !late.IsArchived {
		t.Fatalf("expected rerun to sweep the late action")
	}
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE type='strategy.archived' AND entity_id=?`, s.ID)
	var count int
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 archive events, got %d", count)
	}
}

func TestMovingActionRecalculatesBothProjects(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p1, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p1", ActorID: "tester"})
	p2, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p2", ActorID: "tester"})
	a, _ := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p1.ID, Title: "a", Status: "achieved", ActorID: "tester"})
	_, _ = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p2.ID, Title: "b", ActorID: "tester"})
	moved, err := env.Engine.UpdateAction(env.Ctx, engine.ActionUpdateOptions{ID: a.ID, Project: &p2.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("move action: %v", err)
	}
	if moved.ProjectID == nil || *moved.ProjectID != p2.ID {
		t.Fatalf("expected action in p2")
	}
	p1, _ = env.Engine.GetProject(env.Ctx, p1.ID)
	p2, _ = env.Engine.GetProject(env.Ctx, p2.ID)
	if p1.Progress != 0 {
		t.Fatalf("expected emptied p1 at 0, got %d", p1.Progress)
	}
	if p2.Progress != 50 {
		t.Fatalf("expected p2 at 50 after gaining the achieved action, got %d", p2.Progress)
	}
}

func TestMoveActionRejectsForeignProject(t *testing.T) {
	env := newTestEnv(t)
	s1, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s1", ActorID: "tester"})
	s2, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s2", ActorID: "tester"})
	foreign, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s2.ID, Title: "foreign", ActorID: "tester"})
	a, _ := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s1.ID, Title: "a", ActorID: "tester"})
	_, err := env.Engine.UpdateAction(env.Ctx, engine.ActionUpdateOptions{ID: a.ID, Project: &foreign.ID, ActorID: "tester"})
	if err == nil || !strings.Contains(err.Error(), "another strategy") {
		t.Fatalf("expected cross-strategy move rejection, got %v", err)
	}
}

func TestDeleteProjectDetachesActions(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p", ActorID: "tester"})
	a, _ := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "a", Status: "achieved", ActorID: "tester"})
	if err := env.Engine.DeleteProject(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	a, err := env.Engine.GetAction(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("expected action to survive project deletion: %v", err)
	}
	if a.ProjectID != nil {
		t.Fatalf("expected detached action, got project %v", *a.ProjectID)
	}
	s, _ = env.Engine.GetStrategy(env.Ctx, s.ID)
	if s.Progress != 0 {
		t.Fatalf("expected strategy at 0 with no projects left, got %d", s.Progress)
	}
}

func TestReorderStrategiesControlsListing(t *testing.T) {
	env := newTestEnv(t)
	s1, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "first", DisplayOrder: 0, ActorID: "tester"})
	s2, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "second", DisplayOrder: 1, ActorID: "tester"})
	s3, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "third", DisplayOrder: 2, ActorID: "tester"})
	err := env.Engine.ReorderStrategies(env.Ctx, []engine.ReorderPair{
		{ID: s3.ID, DisplayOrder: 0},
		{ID: s1.ID, DisplayOrder: 1},
		{ID: s2.ID, DisplayOrder: 2},
	}, "tester")
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	list, err := env.Engine.ListStrategies(env.Ctx, repo.StrategyFilters{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != s3.ID || list[1].ID != s1.ID || list[2].ID != s2.ID {
		t.Fatalf("unexpected order: %v", []string{list[0].Title, list[1].Title, list[2].Title})
	}
	if err := env.Engine.ReorderStrategies(env.Ctx, nil, "tester"); err == nil {
		t.Fatalf("expected error for empty reorder batch")
	}
}

func TestUpdateActionStatusRecalculates(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p", ActorID: "tester"})
	a, _ := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "a", ActorID: "tester"})
	_, err := env.Engine.UpdateAction(env.Ctx, engine.ActionUpdateOptions{ID: a.ID, Status: "blocked", ActorID: "tester"})
	if err == nil || !strings.Contains(err.Error(), "invalid status") {
		t.Fatalf("expected invalid status error, got %v", err)
	}
	_, err = env.Engine.UpdateAction(env.Ctx, engine.ActionUpdateOptions{ID: a.ID, Status: "achieved", ActorID: "tester"})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	p, _ = env.Engine.GetProject(env.Ctx, p.ID)
	if p.Progress != 100 {
		t.Fatalf("expected 100 after achieving the only action, got %d", p.Progress)
	}
}

func TestSequentialSiblingUpdatesCombine(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p", ActorID: "tester"})
	first, _ := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "first", ActorID: "tester"})
	second, _ := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "second", ActorID: "tester"})

	if _, err := env.Engine.UpdateAction(env.Ctx, engine.ActionUpdateOptions{ID: first.ID, Status: "achieved", ActorID: "tester"}); err != nil {
		t.Fatalf("update first sibling: %v", err)
	}
	p, _ = env.Engine.GetProject(env.Ctx, p.ID)
	if p.Progress != 50 {
		t.Fatalf("expected 50 after the first sibling update, got %d", p.Progress)
	}
	if _, err := env.Engine.UpdateAction(env.Ctx, engine.ActionUpdateOptions{ID: second.ID, Status: "in_progress", ActorID: "tester"}); err != nil {
		t.Fatalf("update second sibling: %v", err)
	}
	// Each update re-reads the full sibling set, so the final value reflects
	// both changes: (100+50)/2.
	p, _ = env.Engine.GetProject(env.Ctx, p.ID)
	if p.Progress != 75 {
		t.Fatalf("expected 75 after both sibling updates, got %d", p.Progress)
	}
}

func TestUpdateActionClearsOptionalFields(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	a, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{
		StrategyID: s.ID,
		Title:      "a",
		AssigneeID: "user-1",
		DueDate:    "2024-06-01T00:00:00Z",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	if a.AssigneeID == nil || a.DueDate == nil {
		t.Fatalf("expected assignee and due date set")
	}
	empty := ""
	a, err = env.Engine.UpdateAction(env.Ctx, engine.ActionUpdateOptions{ID: a.ID, Assign: &empty, DueDate: &empty, ActorID: "tester"})
	if err != nil {
		t.Fatalf("clear fields: %v", err)
	}
	if a.AssigneeID != nil || a.DueDate != nil {
		t.Fatalf("expected cleared assignee and due date")
	}
	bad := "tomorrow"
	_, err = env.Engine.UpdateAction(env.Ctx, engine.ActionUpdateOptions{ID: a.ID, DueDate: &bad, ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected due date parse error")
	}
}

func TestDependencyShapeValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{SourceType: "project", SourceID: "p1", ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected missing field error")
	}
	_, err = env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{SourceType: "strategy", SourceID: "s1", TargetType: "project", TargetID: "p1", ActorID: "tester"})
	if err == nil || !strings.Contains(err.Error(), "invalid source_type") {
		t.Fatalf("expected invalid source_type, got %v", err)
	}
	// Endpoints are not checked for existence and duplicates are fine.
	for i := 0; i < 2; i++ {
		_, err = env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{SourceType: "project", SourceID: "p1", TargetType: "action", TargetID: "a1", ActorID: "tester"})
		if err != nil {
			t.Fatalf("create edge %d: %v", i, err)
		}
	}
	// Self-edges too: the store records shape, it does not referee.
	_, err = env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{SourceType: "action", SourceID: "a1", TargetType: "action", TargetID: "a1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("self edge: %v", err)
	}
	from, err := env.Engine.DependenciesFrom(env.Ctx, "project", "p1")
	if err != nil {
		t.Fatalf("list from: %v", err)
	}
	if len(from) != 2 {
		t.Fatalf("expected 2 edges from p1, got %d", len(from))
	}
	on, err := env.Engine.DependenciesOn(env.Ctx, "action", "a1")
	if err != nil {
		t.Fatalf("list on: %v", err)
	}
	if len(on) != 3 {
		t.Fatalf("expected 3 edges onto a1, got %d", len(on))
	}
	if _, err := env.Engine.DependenciesFrom(env.Ctx, "strategy", "s1"); err == nil {
		t.Fatalf("expected invalid entity type error")
	}
}

func TestResolveDependenciesFallsBackToPlaceholders(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "Ship the thing", ActorID: "tester"})
	edge, err := env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{
		SourceType: "project", SourceID: p.ID,
		TargetType: "action", TargetID: "gone",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create edge: %v", err)
	}
	resolved := env.Engine.ResolveDependencies(env.Ctx, []domain.Dependency{edge})
	if len(resolved) != 1 {
		t.Fatalf("expected one resolved edge")
	}
	if resolved[0].SourceTitle != "Ship the thing" {
		t.Fatalf("expected real title, got %q", resolved[0].SourceTitle)
	}
	if resolved[0].TargetTitle != "Unknown action" {
		t.Fatalf("expected placeholder for dangling target, got %q", resolved[0].TargetTitle)
	}
	if err := env.Engine.DeleteDependency(env.Ctx, edge.ID, "tester"); err != nil {
		t.Fatalf("delete edge: %v", err)
	}
	if err := env.Engine.DeleteDependency(env.Ctx, edge.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestUserRegistrationAndLogin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RegisterUser(env.Ctx, engine.UserRegisterOptions{Email: "a@b.c", Password: "short", DisplayName: "A"})
	if err == nil || !strings.Contains(err.Error(), "invalid password") {
		t.Fatalf("expected short password error, got %v", err)
	}
	u, err := env.Engine.RegisterUser(env.Ctx, engine.UserRegisterOptions{Email: "a@b.c", Password: "longenough", DisplayName: "A"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Role != "member" {
		t.Fatalf("expected default member role, got %s", u.Role)
	}
	_, err = env.Engine.RegisterUser(env.Ctx, engine.UserRegisterOptions{Email: "a@b.c", Password: "longenough", DisplayName: "Dup"})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "a@b.c", "longenough"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	// wrong password and unknown email produce the same opaque error
	_, err = env.Engine.Authenticate(env.Ctx, "a@b.c", "wrongpass")
	if err == nil || err.Error() != "invalid email or password" {
		t.Fatalf("expected opaque error, got %v", err)
	}
	_, err = env.Engine.Authenticate(env.Ctx, "nobody@b.c", "longenough")
	if err == nil || err.Error() != "invalid email or password" {
		t.Fatalf("expected opaque error for unknown email, got %v", err)
	}
	u, err = env.Engine.AssignUserRole(env.Ctx, u.ID, "admin", "tester")
	if err != nil || u.Role != "admin" {
		t.Fatalf("assign role: %v", err)
	}
	if _, err := env.Engine.AssignUserRole(env.Ctx, u.ID, "superuser", "tester"); err == nil {
		t.Fatalf("expected invalid role error")
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.RegisterUser(env.Ctx, engine.UserRegisterOptions{Email: "a@b.c", Password: "longenough", DisplayName: "A"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	key, raw, err := env.Engine.CreateAPIKey(env.Ctx, u.ID, "ci", "tester")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if raw == "" || key.KeyHash == raw {
		t.Fatalf("expected raw key returned once and only the hash stored")
	}
	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(raw))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if found.UserID != u.ID {
		t.Fatalf("expected key bound to user")
	}
	keys, err := env.Engine.Repo.ListAPIKeys(env.Ctx, u.ID)
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v (%d)", err, len(keys))
	}
	if err := env.Engine.Repo.DeleteAPIKey(env.Ctx, key.ID); err != nil {
		t.Fatalf("delete key: %v", err)
	}
	if err := env.Engine.Repo.DeleteAPIKey(env.Ctx, key.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestEventAppendOnMutations(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateStrategy(env.Ctx, engine.StrategyCreateOptions{Title: "s", ActorID: "tester"})
	p, _ := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{StrategyID: s.ID, Title: "p", ActorID: "tester"})
	a, _ := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{StrategyID: s.ID, ProjectID: p.ID, Title: "a", ActorID: "tester"})
	_, _ = env.Engine.UpdateAction(env.Ctx, engine.ActionUpdateOptions{ID: a.ID, Status: "achieved", ActorID: "tester"})
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE org_id='org-1' ORDER BY id`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatalf("scan: %v", err)
		}
		types = append(types, typ)
	}
	want := []string{"organization.created", "strategy.created", "project.created", "action.created", "action.updated"}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(types), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}
