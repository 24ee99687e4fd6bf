package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stratline/internal/config"
	"stratline/internal/repo"
)

// ResolveOrgAndConfig loads the workspace config and makes sure its
// organization exists in the database, seeding it on first use. An override
// wins over the config file; with neither present the default-org fallback
// keeps single-tenant workspaces working without any setup.
func ResolveOrgAndConfig(ctx context.Context, workspace, orgOverride string, r repo.Repo) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	orgID := orgOverride
	if orgID == "" && cfg != nil {
		orgID = cfg.Organization.ID
	}
	if orgID == "" {
		orgID = "default-org"
	}
	if cfg == nil {
		cfg = config.Default(orgID)
	}
	cfg.Organization.ID = orgID

	if _, err := r.GetOrganization(ctx, orgID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := seedOrganization(ctx, r, orgID, cfg.Organization.Name); err != nil {
			return "", nil, err
		}
	}
	return orgID, cfg, nil
}

func seedOrganization(ctx context.Context, r repo.Repo, orgID, name string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureOrganization(ctx, tx, orgID, name, now); err != nil {
		return fmt.Errorf("ensure organization: %w", err)
	}
	return tx.Commit()
}
