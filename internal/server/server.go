package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/engine/auth"
	"stratline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"permission plan.write required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"plan.write\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stratline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Stratline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStrategies(group, cfg.Engine)
	registerTactics(group, cfg.Engine)
	registerOutcomes(group, cfg.Engine)
	registerDependencies(group, cfg.Engine)
	registerUsers(group, cfg.Engine, cfg.Auth)
	registerOrganizations(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid email or password"):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", msg, nil)
	case strings.Contains(lowered, "already registered"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// requirePermission checks the JWT permission claims first and falls back to
// the role tables for principals that carry none (API keys, legacy header).
func requirePermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	ok, err := e.Auth.UserHasPermission(ctx, principal.UserID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]struct{}{
		joinPath(basePath, "health"):         {},
		joinPath(basePath, "users/register"): {},
		joinPath(basePath, "users/login"):    {},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if _, ok := open[route]; ok {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func joinPath(basePath, p string) string {
	joined := path.Join(basePath, p)
	if !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}
	return joined
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stratline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStrategies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-strategy",
		Method:        http.MethodPost,
		Path:          "/strategies",
		Summary:       "Create strategy",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateStrategyRequest `json:"body"`
	}) (*struct {
		Body StrategyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if err := requirePermission(ctx, e, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.StrategyCreateOptions{
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			ColorCode:   stringOrEmpty(input.Body.ColorCode),
			ActorID:     actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.DisplayOrder != nil {
			opts.DisplayOrder = *input.Body.DisplayOrder
		}
		s, err := e.CreateStrategy(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StrategyResponse `json:"body"`
		}{Body: strategyResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-strategies",
		Method:      http.MethodGet,
		Path:        "/strategies",
		Summary:     "List strategies",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status" enum:"NotStarted,InProgress,OnTrack,Behind,Completed,Archived"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body []StrategyResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListStrategies(ctx, repo.StrategyFilters{
			Status:          input.Status,
			IncludeArchived: input.IncludeArchived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StrategyResponse `json:"body"`
		}{Body: mapStrategies(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-strategy",
		Method:      http.MethodGet,
		Path:        "/strategies/{strategy_id}",
		Summary:     "Get strategy",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StrategyID string `path:"strategy_id"`
	}) (*struct {
		Body StrategyResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		s, err := e.GetStrategy(ctx, input.StrategyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StrategyResponse `json:"body"`
		}{Body: strategyResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-strategy-status",
		Method:      http.MethodGet,
		Path:        "/strategies/{strategy_id}/status",
		Summary:     "Strategy status summary",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StrategyID string `path:"strategy_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		s, err := e.GetStrategy(ctx, input.StrategyID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountActionsByStatus(ctx, s.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"strategy_id":    s.ID,
			"status":         s.Status,
			"progress":       s.Progress,
			"outcome_counts": counts,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-strategy",
		Method:      http.MethodPatch,
		Path:        "/strategies/{strategy_id}",
		Summary:     "Update strategy",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		StrategyID string                `path:"strategy_id"`
		Body       UpdateStrategyRequest `json:"body"`
	}) (*struct {
		Body StrategyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateStrategy(ctx, engine.StrategyUpdateOptions{
			ID:           input.StrategyID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			ColorCode:    input.Body.ColorCode,
			Status:       input.Body.Status,
			DisplayOrder: input.Body.DisplayOrder,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StrategyResponse `json:"body"`
		}{Body: strategyResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-strategy",
		Method:      http.MethodPost,
		Path:        "/strategies/{strategy_id}/complete",
		Summary:     "Complete strategy",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		StrategyID string `path:"strategy_id"`
	}) (*struct {
		Body StrategyResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CompleteStrategy(ctx, input.StrategyID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StrategyResponse `json:"body"`
		}{Body: strategyResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-strategy",
		Method:      http.MethodPost,
		Path:        "/strategies/{strategy_id}/archive",
		Summary:     "Archive strategy",
		Description: "Archives the strategy and sweeps the archived flag over its tactics and outcomes. Archiving an archived strategy re-runs the sweep.",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		StrategyID string `path:"strategy_id"`
	}) (*struct {
		Body StrategyResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ArchiveStrategy(ctx, input.StrategyID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StrategyResponse `json:"body"`
		}{Body: strategyResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-strategies",
		Method:      http.MethodPost,
		Path:        "/strategies/reorder",
		Summary:     "Reorder strategies",
		Description: "Applies display orders one by one; a mid-batch failure leaves earlier pairs applied.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body ReorderStrategiesRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if len(input.Body.Items) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "items is required", nil)
		}
		if err := requirePermission(ctx, e, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pairs := make([]engine.ReorderPair, 0, len(input.Body.Items))
		for _, item := range input.Body.Items {
			pairs = append(pairs, engine.ReorderPair{ID: item.ID, DisplayOrder: item.DisplayOrder})
		}
		if err := e.ReorderStrategies(ctx, pairs, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-strategy",
		Method:      http.MethodDelete,
		Path:        "/strategies/{strategy_id}",
		Summary:     "Delete strategy",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		StrategyID string `path:"strategy_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteStrategy(ctx, input.StrategyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTactics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tactic",
		Method:        http.MethodPost,
		Path:          "/tactics",
		Summary:       "Create tactic",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTacticRequest `json:"body"`
	}) (*struct {
		Body TacticResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.StrategyID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "strategy_id is required", nil)
		}
		if err := requirePermission(ctx, e, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProjectCreateOptions{
			StrategyID:  input.Body.StrategyID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Status:      input.Body.Status,
			ActorID:     actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.DisplayOrder != nil {
			opts.DisplayOrder = *input.Body.DisplayOrder
		}
		p, err := e.CreateProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TacticResponse `json:"body"`
		}{Body: tacticResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tactics",
		Method:      http.MethodGet,
		Path:        "/tactics",
		Summary:     "List tactics",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		StrategyID      string `query:"strategy_id"`
		Status          string `query:"status" enum:"not_started,in_progress,at_risk,achieved"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body []TacticResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListProjects(ctx, repo.ProjectFilters{
			StrategyID:      input.StrategyID,
			Status:          input.Status,
			IncludeArchived: input.IncludeArchived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TacticResponse `json:"body"`
		}{Body: mapTactics(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tactic",
		Method:      http.MethodGet,
		Path:        "/tactics/{tactic_id}",
		Summary:     "Get tactic",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TacticID string `path:"tactic_id"`
	}) (*struct {
		Body TacticResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetProject(ctx, input.TacticID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TacticResponse `json:"body"`
		}{Body: tacticResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-tactic",
		Method:      http.MethodPatch,
		Path:        "/tactics/{tactic_id}",
		Summary:     "Update tactic",
		Description: "Returns the tactic with its progress freshly recalculated; clients re-fetch the parent strategy for its new rollup.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TacticID string              `path:"tactic_id"`
		Body     UpdateTacticRequest `json:"body"`
	}) (*struct {
		Body TacticResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ID:           input.TacticID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			Status:       input.Body.Status,
			Archived:     input.Body.IsArchived,
			DisplayOrder: input.Body.DisplayOrder,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TacticResponse `json:"body"`
		}{Body: tacticResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-tactic",
		Method:      http.MethodDelete,
		Path:        "/tactics/{tactic_id}",
		Summary:     "Delete tactic",
		Description: "Outcomes under the tactic survive with their tactic link cleared.",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TacticID string `path:"tactic_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.TacticID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerOutcomes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-outcome",
		Method:        http.MethodPost,
		Path:          "/outcomes",
		Summary:       "Create outcome",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOutcomeRequest `json:"body"`
	}) (*struct {
		Body OutcomeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.StrategyID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "strategy_id is required", nil)
		}
		if err := requirePermission(ctx, e, "action.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ActionCreateOptions{
			StrategyID:  input.Body.StrategyID,
			ProjectID:   stringOrEmpty(input.Body.TacticID),
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Status:      input.Body.Status,
			AssigneeID:  stringOrEmpty(input.Body.AssigneeID),
			DueDate:     stringOrEmpty(input.Body.DueDate),
			ActorID:     actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		a, err := e.CreateAction(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutcomeResponse `json:"body"`
		}{Body: outcomeResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-outcomes",
		Method:      http.MethodGet,
		Path:        "/outcomes",
		Summary:     "List outcomes",
		Description: "strategy_level=true narrows to outcomes attached directly to the strategy, outside any tactic.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		StrategyID      string `query:"strategy_id"`
		TacticID        string `query:"tactic_id"`
		StrategyLevel   bool   `query:"strategy_level"`
		Status          string `query:"status" enum:"not_started,in_progress,at_risk,achieved"`
		AssigneeID      string `query:"assignee_id"`
		IncludeArchived bool   `query:"include_archived"`
		Limit           int    `query:"limit"`
	}) (*struct {
		Body []OutcomeResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListActions(ctx, repo.ActionFilters{
			StrategyID:      input.StrategyID,
			ProjectID:       input.TacticID,
			StrategyLevel:   input.StrategyLevel,
			Status:          input.Status,
			AssigneeID:      input.AssigneeID,
			IncludeArchived: input.IncludeArchived,
			Limit:           input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OutcomeResponse `json:"body"`
		}{Body: mapOutcomes(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-outcome",
		Method:      http.MethodGet,
		Path:        "/outcomes/{outcome_id}",
		Summary:     "Get outcome",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OutcomeID string `path:"outcome_id"`
	}) (*struct {
		Body OutcomeResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.GetAction(ctx, input.OutcomeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutcomeResponse `json:"body"`
		}{Body: outcomeResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-outcome",
		Method:      http.MethodPatch,
		Path:        "/outcomes/{outcome_id}",
		Summary:     "Update outcome",
		Description: "Send tactic_id, assignee_id or due_date as null to clear them. Returns the outcome; its tactic and strategy rollups run as a post-step.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		OutcomeID string               `path:"outcome_id"`
		Body      UpdateOutcomeRequest `json:"body"`
	}) (*struct {
		Body OutcomeResponse `json:"body"`
	}, error) {
		bodyMap := rawBodyMap(ctx)
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "action.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ActionUpdateOptions{
			ID:          input.OutcomeID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Archived:    input.Body.IsArchived,
			ActorID:     actorID,
		}
		empty := ""
		switch {
		case input.Body.TacticID != nil:
			opts.Project = input.Body.TacticID
		case isNullRaw(bodyMap["tactic_id"]):
			opts.Project = &empty
		}
		switch {
		case input.Body.AssigneeID != nil:
			opts.Assign = input.Body.AssigneeID
		case isNullRaw(bodyMap["assignee_id"]):
			opts.Assign = &empty
		}
		switch {
		case input.Body.DueDate != nil:
			opts.DueDate = input.Body.DueDate
		case isNullRaw(bodyMap["due_date"]):
			opts.DueDate = &empty
		}
		a, err := e.UpdateAction(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutcomeResponse `json:"body"`
		}{Body: outcomeResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-outcome",
		Method:      http.MethodDelete,
		Path:        "/outcomes/{outcome_id}",
		Summary:     "Delete outcome",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OutcomeID string `path:"outcome_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "action.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAction(ctx, input.OutcomeID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDependencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-dependency",
		Method:        http.MethodPost,
		Path:          "/dependencies",
		Summary:       "Create dependency edge",
		Description:   "Records a directed depends-on edge. Endpoints are not checked for existence; duplicates and cycles are allowed.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDependencyRequest `json:"body"`
	}) (*struct {
		Body DependencyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "action.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDependency(ctx, engine.DependencyCreateOptions{
			SourceType: input.Body.SourceType,
			SourceID:   input.Body.SourceID,
			TargetType: input.Body.TargetType,
			TargetID:   input.Body.TargetID,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resolved := e.ResolveDependencies(ctx, []domain.Dependency{d})
		return &struct {
			Body DependencyResponse `json:"body"`
		}{Body: dependencyResponse(resolved[0])}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dependencies",
		Method:      http.MethodGet,
		Path:        "/dependencies",
		Summary:     "List dependency edges",
		Description: "Filter by source (what the entity depends on) or target (what depends on the entity). Dangling endpoints resolve to an Unknown placeholder title.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		SourceType string `query:"source_type" enum:"project,action"`
		SourceID   string `query:"source_id"`
		TargetType string `query:"target_type" enum:"project,action"`
		TargetID   string `query:"target_id"`
	}) (*struct {
		Body []DependencyResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		haveSource := input.SourceType != "" && input.SourceID != ""
		haveTarget := input.TargetType != "" && input.TargetID != ""
		if haveSource == haveTarget {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "exactly one of source_type+source_id or target_type+target_id is required", nil)
		}
		var (
			edges []domain.Dependency
			err   error
		)
		if haveSource {
			edges, err = e.DependenciesFrom(ctx, input.SourceType, input.SourceID)
		} else {
			edges, err = e.DependenciesOn(ctx, input.TargetType, input.TargetID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		resolved := e.ResolveDependencies(ctx, edges)
		return &struct {
			Body []DependencyResponse `json:"body"`
		}{Body: mapDependencies(resolved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-dependency",
		Method:      http.MethodDelete,
		Path:        "/dependencies/{dependency_id}",
		Summary:     "Delete dependency edge",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		DependencyID string `path:"dependency_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "action.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDependency(ctx, input.DependencyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-user",
		Method:        http.MethodPost,
		Path:          "/users/register",
		Summary:       "Register user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID := ""
		if p, ok := principalFromContext(ctx); ok {
			actorID = p.UserID
		}
		u, err := e.RegisterUser(ctx, engine.UserRegisterOptions{
			OrgID:       stringOrEmpty(input.Body.OrgID),
			Email:       input.Body.Email,
			Password:    input.Body.Password,
			DisplayName: input.Body.DisplayName,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/users/login",
		Summary:     "Login",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, err := e.Authenticate(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		perms, err := e.Auth.UserPermissions(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := signToken(authCfg.JWTSecret, authCfg.TokenTTL, u, perms)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, User: userResponse(u)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/users/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role := principal.Role
		perms := principal.Permissions
		if role == "" {
			if r, err := e.Auth.UserRole(ctx, principal.UserID); err == nil {
				role = r
			}
		}
		if len(perms) == 0 {
			if p, err := e.Auth.UserPermissions(ctx, principal.UserID); err == nil {
				perms = p
			}
		}
		orgID := principal.OrgID
		if orgID == "" {
			if u, err := e.Repo.GetUser(ctx, principal.UserID); err == nil {
				orgID = u.OrgID
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			UserID:      principal.UserID,
			OrgID:       orgID,
			Role:        role,
			Permissions: nonNilSlice(perms),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID string `query:"org_id"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		orgID := input.OrgID
		if orgID == "" {
			if p, ok := principalFromContext(ctx); ok {
				orgID = p.OrgID
			}
		}
		items, err := e.Repo.ListUsers(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-role",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}/role",
		Summary:     "Assign role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		UserID string            `path:"user_id"`
		Body   AssignRoleRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role is required", nil)
		}
		if err := requirePermission(ctx, e, "org.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.AssignUserRole(ctx, input.UserID, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerOrganizations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-organizations",
		Method:      http.MethodGet,
		Path:        "/super-admin/organizations",
		Summary:     "List organizations",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []OrganizationResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "org.admin"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListOrganizations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OrganizationResponse `json:"body"`
		}{Body: mapOrganizations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-organization",
		Method:        http.MethodPost,
		Path:          "/super-admin/organizations",
		Summary:       "Create organization",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOrganizationRequest `json:"body"`
	}) (*struct {
		Body OrganizationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if err := requirePermission(ctx, e, "org.admin"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id := ""
		if input.Body.ID != nil {
			id = *input.Body.ID
		}
		org, err := e.CreateOrganization(ctx, id, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrganizationResponse `json:"body"`
		}{Body: organizationResponse(org)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		Description:   "The raw key is returned once and never retrievable afterwards.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target := principal.UserID
		if input.Body.UserID != nil && *input.Body.UserID != "" && *input.Body.UserID != principal.UserID {
			if err := requirePermission(ctx, e, "org.manage"); err != nil {
				return nil, handleError(err)
			}
			target = *input.Body.UserID
		}
		key, raw, err := e.CreateAPIKey(ctx, target, input.Body.Name, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{APIKeyResponse: apiKeyResponse(key), Key: raw}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target := principal.UserID
		if input.UserID != "" && input.UserID != principal.UserID {
			if err := requirePermission(ctx, e, "org.manage"); err != nil {
				return nil, handleError(err)
			}
			target = input.UserID
		}
		items, err := e.Repo.ListAPIKeys(ctx, target)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: mapAPIKeys(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{key_id}",
		Summary:     "Delete API key",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, err := e.Repo.GetAPIKey(ctx, input.KeyID)
		if err != nil {
			return nil, handleError(err)
		}
		if key.UserID != principal.UserID {
			if err := requirePermission(ctx, e, "org.manage"); err != nil {
				return nil, handleError(err)
			}
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID      string `query:"org_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"strategy,project,action,dependency,user,organization,apikey"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "plan.read"); err != nil {
			return nil, handleError(err)
		}
		orgID := input.OrgID
		if orgID == "" {
			if p, ok := principalFromContext(ctx); ok {
				orgID = p.OrgID
			}
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), orgID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
