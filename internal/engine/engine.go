// Package engine implements the strategy hierarchy operations: CRUD over
// strategies, tactical projects and actions, the progress rollup that runs
// after every mutation, dependency edges between entities, and account
// management. Every mutation is committed together with an activity event;
// progress recalculation runs as a separate best-effort step afterwards.
package engine

import (
	"context"
	"database/sql"
	"log"
	"time"

	"stratline/internal/config"
	"stratline/internal/engine/auth"
	"stratline/internal/events"
	"stratline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	// Now is injectable for tests; nil means time.Now.
	Now    func() time.Time
	Logger *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// timestamp renders the engine clock in the storage format.
func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// orgID is the organization the workspace is configured for. Operations that
// do not receive an explicit organization fall back to it.
func (e Engine) orgID() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Organization.ID
}

// nextPaletteColor rotates through the configured palette by strategy count
// so strategies created without an explicit color stay distinguishable. An
// empty palette or a failed count leaves the color unset.
func (e Engine) nextPaletteColor(ctx context.Context, orgID string) string {
	if e.Config == nil || len(e.Config.Colors.Palette) == 0 {
		return ""
	}
	n, err := e.Repo.CountStrategies(ctx, orgID)
	if err != nil {
		return ""
	}
	return e.Config.Colors.Palette[n%len(e.Config.Colors.Palette)]
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
