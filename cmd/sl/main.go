package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratline/internal/app"
	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/migrate"
	"stratline/internal/repo"
	"stratline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stratline CLI",
	Long: `Stratline tracks strategic plans as a three-level hierarchy with derived progress.
Core concepts:
- Workspace: your .stratline directory holding the database; stratline.yml names the organization and tuning knobs.
- Strategy: a top-level objective. Status moves NotStarted/InProgress/OnTrack/Behind -> Completed -> Archived; archiving sweeps the whole subtree.
- Tactic: a project under a strategy. Its progress is the rounded mean of its outcomes' completion weights.
- Outcome: an action item, inside a tactic or directly under the strategy. Statuses: not_started, in_progress, at_risk, achieved.
- Progress: achieved counts 100, in_progress counts the configured weight (default 50), everything else 0. Strategies average their tactics.
- Dependencies: directed depends-on edges between tactics and outcomes, kept even when an endpoint disappears.
- Event log: diary of changes, view with 'sl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "", "organization id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(strategyCmd())
	rootCmd.AddCommand(tacticCmd())
	rootCmd.AddCommand(outcomeCmd())
	rootCmd.AddCommand(dependencyCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(seedAdminCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var orgID, orgName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Creates .stratline with the database, runs migrations, writes a default stratline.yml and seeds the organization.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			} else {
				fmt.Printf("Config %s already exists, leaving it alone\n", cfgPath)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				resolved, _, err := app.ResolveOrgAndConfig(ctx, workspace, orgID, r)
				if err != nil {
					return err
				}
				if orgName != "" {
					// ResolveOrgAndConfig seeds with the config name; an
					// explicit --org-name overrides it.
					tx, err := r.DB.BeginTx(ctx, nil)
					if err != nil {
						return err
					}
					defer tx.Rollback()
					if err := r.RenameOrganization(ctx, tx, resolved, orgName); err != nil {
						return err
					}
					if err := tx.Commit(); err != nil {
						return err
					}
				}
				fmt.Printf("Workspace ready (organization %s)\n", resolved)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org-id", "default-org", "organization id")
	cmd.Flags().StringVar(&orgName, "org-name", "", "organization display name")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("Schema at version %d (%s)\n", v, db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook in stratline.yml: organization, color palette, the in-progress completion weight and token lifetime.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var strategyID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show strategy status",
		Long:  "The scoreboard for one strategy: state, derived progress and outcome counts by status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strategyID == "" {
				return fmt.Errorf("--strategy required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetStrategy(ctx, strategyID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountActionsByStatus(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"strategy_id":    s.ID,
						"status":         s.Status,
						"progress":       s.Progress,
						"outcome_counts": counts,
					})
				}
				fmt.Printf("Strategy: %s - %s (%s)\n", s.ID, s.Title, s.Status)
				fmt.Printf("Progress: %d%%\n", s.Progress)
				fmt.Println("Outcomes:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&strategyID, "strategy", "", "strategy id")
	return cmd
}

func strategyCmd() *cobra.Command {
	strat := &cobra.Command{
		Use:   "strategy",
		Short: "Manage strategies",
		Long:  "Strategies are the top-level objectives. Progress is derived from tactics; complete and archive are one-way moves with their own subcommands.",
	}
	strat.AddCommand(strategyCreateCmd())
	strat.AddCommand(strategyListCmd())
	strat.AddCommand(strategyGetCmd())
	strat.AddCommand(strategyUpdateCmd())
	strat.AddCommand(strategyCompleteCmd())
	strat.AddCommand(strategyArchiveCmd())
	strat.AddCommand(strategyReorderCmd())
	strat.AddCommand(strategyDeleteCmd())
	return strat
}

func strategyCreateCmd() *cobra.Command {
	var opts engine.StrategyCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.OrgID == "" {
					opts.OrgID = e.Config.Organization.ID
				}
				s, err := e.CreateStrategy(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "strategy id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.OrgID, "org-id", "", "organization id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ColorCode, "color", "", "hex color code")
	cmd.Flags().IntVar(&opts.DisplayOrder, "display-order", 0, "display order")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func strategyListCmd() *cobra.Command {
	var f repo.StrategyFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListStrategies(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Order"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Title, s.Status, fmt.Sprintf("%d%%", s.Progress), s.DisplayOrder})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OrgID, "org-id", "", "organization filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived strategies")
	return cmd
}

func strategyGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetStrategy(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func strategyUpdateCmd() *cobra.Command {
	var title, description, color, status string
	var displayOrder int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.StrategyUpdateOptions{
				ID:      args[0],
				Status:  status,
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("color") {
				opts.ColorCode = &color
			}
			if cmd.Flags().Changed("display-order") {
				opts.DisplayOrder = &displayOrder
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateStrategy(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&color, "color", "", "hex color code")
	cmd.Flags().StringVar(&status, "status", "", "active status (NotStarted, InProgress, OnTrack, Behind)")
	cmd.Flags().IntVar(&displayOrder, "display-order", 0, "display order")
	return cmd
}

func strategyCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CompleteStrategy(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func strategyArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive strategy and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ArchiveStrategy(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func strategyReorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reorder <id=order> [<id=order> ...]",
		Short: "Set strategy display orders",
		Long:  "Applies the given display orders one by one, e.g. 'sl strategy reorder s1=2 s2=1'. A failure partway leaves earlier pairs applied.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parseReorderArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ReorderStrategies(ctx, pairs, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func strategyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete strategy and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteStrategy(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func tacticCmd() *cobra.Command {
	tac := &cobra.Command{
		Use:   "tactic",
		Short: "Manage tactics",
		Long:  "Tactics are the projects inside a strategy. Their progress is the rounded mean of outcome completion weights; archived tactics drop out of the strategy rollup.",
	}
	tac.AddCommand(tacticCreateCmd())
	tac.AddCommand(tacticListCmd())
	tac.AddCommand(tacticGetCmd())
	tac.AddCommand(tacticUpdateCmd())
	tac.AddCommand(tacticDeleteCmd())
	return tac
}

func tacticCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tactic",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "tactic id (optional)")
	cmd.Flags().StringVar(&opts.StrategyID, "strategy", "", "strategy id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status (not_started, in_progress, at_risk, achieved)")
	cmd.Flags().IntVar(&opts.DisplayOrder, "display-order", 0, "display order")
	_ = cmd.MarkFlagRequired("strategy")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func tacticListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tactics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Archived"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, fmt.Sprintf("%d%%", p.Progress), p.IsArchived})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.StrategyID, "strategy", "", "strategy filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived tactics")
	return cmd
}

func tacticGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get tactic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func tacticUpdateCmd() *cobra.Command {
	var title, description, status string
	var archived bool
	var displayOrder int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update tactic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProjectUpdateOptions{
				ID:      args[0],
				Status:  status,
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("archived") {
				opts.Archived = &archived
			}
			if cmd.Flags().Changed("display-order") {
				opts.DisplayOrder = &displayOrder
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (not_started, in_progress, at_risk, achieved)")
	cmd.Flags().BoolVar(&archived, "archived", false, "archive flag")
	cmd.Flags().IntVar(&displayOrder, "display-order", 0, "display order")
	return cmd
}

func tacticDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete tactic",
		Long:  "Deletes the tactic; its outcomes survive with the tactic link cleared.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func outcomeCmd() *cobra.Command {
	out := &cobra.Command{
		Use:   "outcome",
		Short: "Manage outcomes",
		Long:  "Outcomes are the action items. Inside a tactic they feed its progress; attached directly to the strategy they are tracked but never counted.",
	}
	out.AddCommand(outcomeCreateCmd())
	out.AddCommand(outcomeListCmd())
	out.AddCommand(outcomeGetCmd())
	out.AddCommand(outcomeUpdateCmd())
	out.AddCommand(outcomeDeleteCmd())
	return out
}

func outcomeCreateCmd() *cobra.Command {
	var opts engine.ActionCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "outcome id (optional)")
	cmd.Flags().StringVar(&opts.StrategyID, "strategy", "", "strategy id")
	cmd.Flags().StringVar(&opts.ProjectID, "tactic", "", "tactic id (omit for a strategy-level outcome)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status (not_started, in_progress, at_risk, achieved)")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee id")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	_ = cmd.MarkFlagRequired("strategy")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func outcomeListCmd() *cobra.Command {
	var f repo.ActionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListActions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Tactic", "Assignee", "Due"})
				for _, a := range items {
					tactic := ""
					if a.ProjectID != nil {
						tactic = *a.ProjectID
					}
					assignee := ""
					if a.AssigneeID != nil {
						assignee = *a.AssigneeID
					}
					due := ""
					if a.DueDate != nil {
						due = *a.DueDate
					}
					tw.AppendRow(table.Row{a.ID, a.Title, a.Status, tactic, assignee, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.StrategyID, "strategy", "", "strategy filter")
	cmd.Flags().StringVar(&f.ProjectID, "tactic", "", "tactic filter")
	cmd.Flags().BoolVar(&f.StrategyLevel, "strategy-level", false, "only outcomes attached directly to the strategy")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived outcomes")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func outcomeGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAction(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func outcomeUpdateCmd() *cobra.Command {
	var title, description, status, tactic, assign, due string
	var archived bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update outcome",
		Long:  "Moves between tactics with --tactic (empty detaches to strategy level); --assign and --due clear when set to the empty string.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ActionUpdateOptions{
				ID:      args[0],
				Status:  status,
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("tactic") {
				opts.Project = &tactic
			}
			if cmd.Flags().Changed("assign") {
				opts.Assign = &assign
			}
			if cmd.Flags().Changed("due") {
				opts.DueDate = &due
			}
			if cmd.Flags().Changed("archived") {
				opts.Archived = &archived
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (not_started, in_progress, at_risk, achieved)")
	cmd.Flags().StringVar(&tactic, "tactic", "", "tactic id (empty detaches)")
	cmd.Flags().StringVar(&assign, "assign", "", "assignee id (empty clears)")
	cmd.Flags().StringVar(&due, "due", "", "due date RFC3339 (empty clears)")
	cmd.Flags().BoolVar(&archived, "archived", false, "archive flag")
	return cmd
}

func outcomeDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAction(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func dependencyCmd() *cobra.Command {
	dep := &cobra.Command{
		Use:   "dependency",
		Short: "Manage dependency edges",
		Long:  "Directed depends-on edges between tactics and outcomes. Edges are display metadata: endpoints are not checked, cycles are allowed and dangling edges just resolve to an Unknown title.",
	}
	dep.AddCommand(dependencyAddCmd())
	dep.AddCommand(dependencyListCmd())
	dep.AddCommand(dependencyRemoveCmd())
	return dep
}

func dependencyAddCmd() *cobra.Command {
	var opts engine.DependencyCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a dependency edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDependency(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SourceType, "source-type", "", "source entity type (project or action)")
	cmd.Flags().StringVar(&opts.SourceID, "source-id", "", "source entity id")
	cmd.Flags().StringVar(&opts.TargetType, "target-type", "", "target entity type (project or action)")
	cmd.Flags().StringVar(&opts.TargetID, "target-id", "", "target entity id")
	_ = cmd.MarkFlagRequired("source-type")
	_ = cmd.MarkFlagRequired("source-id")
	_ = cmd.MarkFlagRequired("target-type")
	_ = cmd.MarkFlagRequired("target-id")
	return cmd
}

func dependencyListCmd() *cobra.Command {
	var sourceType, sourceID, targetType, targetID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dependency edges for an entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			haveSource := sourceType != "" && sourceID != ""
			haveTarget := targetType != "" && targetID != ""
			if haveSource == haveTarget {
				return fmt.Errorf("exactly one of --source-type/--source-id or --target-type/--target-id is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				edges, err := func() ([]domain.Dependency, error) {
					if haveSource {
						return e.DependenciesFrom(ctx, sourceType, sourceID)
					}
					return e.DependenciesOn(ctx, targetType, targetID)
				}()
				if err != nil {
					return err
				}
				resolved := e.ResolveDependencies(ctx, edges)
				if viper.GetBool("json") {
					return printJSON(resolved)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Source", "Source Title", "Target", "Target Title"})
				for _, d := range resolved {
					tw.AppendRow(table.Row{
						d.ID,
						fmt.Sprintf("%s:%s", d.SourceType, d.SourceID),
						d.SourceTitle,
						fmt.Sprintf("%s:%s", d.TargetType, d.TargetID),
						d.TargetTitle,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceType, "source-type", "", "source entity type")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source entity id")
	cmd.Flags().StringVar(&targetType, "target-type", "", "target entity type")
	cmd.Flags().StringVar(&targetID, "target-id", "", "target entity id")
	return cmd
}

func dependencyRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a dependency edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteDependency(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
	}
	org.AddCommand(orgListCmd())
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgUseCmd())
	return org
}

func orgListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOrganizations(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func orgCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				org, err := e.CreateOrganization(ctx, id, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(org)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "organization name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func orgUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current organization for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID := strings.TrimSpace(args[0])
			if orgID == "" {
				return fmt.Errorf("organization id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SL_ORG", orgID); err != nil {
				return err
			}
			fmt.Printf("Set SL_ORG=%s in %s/.env\n", orgID, workspace)
			return nil
		},
	}
	return cmd
}

func seedAdminCmd() *cobra.Command {
	var email, password, displayName, role string
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create an admin user",
		Long:  "Registers a user with the admin role (or another role via --role) in the workspace organization. Meant for bootstrapping a fresh instance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.RegisterUser(ctx, engine.UserRegisterOptions{
					OrgID:       e.Config.Organization.ID,
					Email:       email,
					Password:    password,
					DisplayName: displayName,
					Role:        role,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (min 8 characters)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "admin", "role (member, co_lead, admin, super_admin)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: strategy moves, rollup inputs, edges, role changes.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Organization.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveOrgAndConfig(cmd.Context(), workspace, viper.GetString("org"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				TokenTTL:               time.Duration(cfg.TokenTTLHours()) * time.Hour,
				AllowLegacyActorHeader: allowLegacyHeader || cfg.Auth.AllowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SL_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stratline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-actor-header", false, "accept X-Actor-Id without credentials (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOrgAndConfig(ctx, workspace, viper.GetString("org"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func parseReorderArgs(args []string) ([]engine.ReorderPair, error) {
	pairs := make([]engine.ReorderPair, 0, len(args))
	for _, arg := range args {
		id, orderStr, ok := strings.Cut(arg, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid reorder pair %q; expected id=order", arg)
		}
		order, err := strconv.Atoi(orderStr)
		if err != nil {
			return nil, fmt.Errorf("invalid display order in %q: %w", arg, err)
		}
		pairs = append(pairs, engine.ReorderPair{ID: id, DisplayOrder: order})
	}
	return pairs, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
