package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/engine"
	"stratline/internal/migrate"
)

const testJWTSecret = "server-test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("org-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.CreateOrganization(context.Background(), "org-1", "Test Org", "seed"); err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/api", Auth: authCfg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func newBearerTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServer(t, AuthConfig{JWTSecret: testJWTSecret, TokenTTL: time.Hour})
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeErr(t *testing.T, data []byte) errEnvelope {
	t.Helper()
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope %q: %v", string(data), err)
	}
	return env
}

// signupUser registers over HTTP, optionally promotes through the engine so
// the subsequent login token carries the role's permissions.
func signupUser(t *testing.T, srv *testServer, email, role string) (UserResponse, string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/users/register", map[string]any{
		"email":        email,
		"password":     "longenough",
		"display_name": "Test User",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	var u UserResponse
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	if role != "" && role != u.Role {
		if _, err := srv.Engine.AssignUserRole(context.Background(), u.ID, role, "seed"); err != nil {
			t.Fatalf("assign role: %v", err)
		}
		u.Role = role
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/users/login", map[string]any{
		"email":    email,
		"password": "longenough",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login LoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return u, login.Token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestOpenPathsSkipAuth(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/strategies", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeErr(t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, string(data))
	}
}

func TestLoginGrantsBearerAccess(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	client := srv.Client()

	u, token := signupUser(t, srv, "member@example.com", "")
	if u.Role != "member" {
		t.Fatalf("expected default member role, got %s", u.Role)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/users/me", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.UserID != u.ID || me.Role != "member" || me.OrgID != "org-1" {
		t.Fatalf("unexpected principal: %+v", me)
	}
	hasRead := false
	for _, p := range me.Permissions {
		if p == "plan.read" {
			hasRead = true
		}
	}
	if !hasRead {
		t.Fatalf("expected plan.read in permissions: %v", me.Permissions)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/strategies", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list strategies status %d: %s", res.StatusCode, string(data))
	}

	// garbage token is rejected by the middleware
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/strategies", nil, bearer("not-a-token"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeErr(t, data); env.Error.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %q", env.Error.Code)
	}
}

func TestPermissionDeniedEnvelope(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, token := signupUser(t, srv, "member@example.com", "")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies", map[string]any{
		"title": "Not allowed",
	}, bearer(token))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeErr(t, data)
	if env.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", env.Error.Code)
	}
	if env.Error.Details["permission"] != "plan.write" {
		t.Fatalf("expected missing permission in details, got %v", env.Error.Details)
	}
}

func TestStrategyLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, token := signupUser(t, srv, "lead@example.com", "co_lead")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies", map[string]any{
		"title": "Expand to EMEA",
	}, bearer(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var s StrategyResponse
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal strategy: %v", err)
	}
	if s.Status != "NotStarted" {
		t.Fatalf("expected NotStarted, got %s", s.Status)
	}

	// Completed is not an update target; the enum rejects it up front.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/strategies/"+s.ID, map[string]any{
		"status": "Completed",
	}, bearer(token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for Completed via update, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies/"+s.ID+"/complete", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal completed: %v", err)
	}
	if s.Status != "Completed" || s.CompletionDate == nil {
		t.Fatalf("expected Completed with date, got %s %v", s.Status, s.CompletionDate)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies/"+s.ID+"/complete", nil, bearer(token))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double complete, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeErr(t, data); env.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies/"+s.ID+"/archive", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("archive status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal archived: %v", err)
	}
	if s.Status != "Archived" {
		t.Fatalf("expected Archived, got %s", s.Status)
	}
}

func TestTacticRollupOverHTTP(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, token := signupUser(t, srv, "lead@example.com", "co_lead")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies", map[string]any{"title": "s"}, bearer(token))
	var s StrategyResponse
	_ = json.Unmarshal(data, &s)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/tactics", map[string]any{
		"strategy_id": s.ID,
		"title":       "tc",
	}, bearer(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create tactic status %d: %s", res.StatusCode, string(data))
	}
	var tc TacticResponse
	_ = json.Unmarshal(data, &tc)

	for _, status := range []string{"achieved", "not_started"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/outcomes", map[string]any{
			"strategy_id": s.ID,
			"tactic_id":   tc.ID,
			"title":       "outcome " + status,
			"status":      status,
		}, bearer(token))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create outcome status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/tactics/"+tc.ID, nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get tactic status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &tc)
	if tc.Progress != 50 {
		t.Fatalf("expected tactic progress 50, got %d", tc.Progress)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/strategies/"+s.ID+"/status", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status summary %d: %s", res.StatusCode, string(data))
	}
	var summary struct {
		StrategyID    string         `json:"strategy_id"`
		Progress      int            `json:"progress"`
		OutcomeCounts map[string]int `json:"outcome_counts"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.Progress != 50 {
		t.Fatalf("expected strategy progress 50, got %d", summary.Progress)
	}
	if summary.OutcomeCounts["achieved"] != 1 || summary.OutcomeCounts["not_started"] != 1 {
		t.Fatalf("unexpected outcome counts: %v", summary.OutcomeCounts)
	}
}

func TestOutcomeNullClearsFields(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, token := signupUser(t, srv, "lead@example.com", "co_lead")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies", map[string]any{"title": "s"}, bearer(token))
	var s StrategyResponse
	_ = json.Unmarshal(data, &s)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/tactics", map[string]any{"strategy_id": s.ID, "title": "tc"}, bearer(token))
	var tc TacticResponse
	_ = json.Unmarshal(data, &tc)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/outcomes", map[string]any{
		"strategy_id": s.ID,
		"tactic_id":   tc.ID,
		"title":       "o",
		"status":      "achieved",
		"assignee_id": "user-9",
		"due_date":    "2024-06-01T00:00:00Z",
	}, bearer(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create outcome status %d: %s", res.StatusCode, string(data))
	}
	var o OutcomeResponse
	_ = json.Unmarshal(data, &o)
	if o.TacticID == nil || o.AssigneeID == nil || o.DueDate == nil {
		t.Fatalf("expected populated optional fields: %+v", o)
	}

	// explicit nulls clear; absent fields stay untouched
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/outcomes/"+o.ID, map[string]any{
		"tactic_id":   nil,
		"assignee_id": nil,
		"due_date":    nil,
	}, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &o); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if o.TacticID != nil || o.AssigneeID != nil || o.DueDate != nil {
		t.Fatalf("expected cleared fields, got %+v", o)
	}
	if o.Title != "o" || o.Status != "achieved" {
		t.Fatalf("expected untouched title and status, got %+v", o)
	}

	// the detached tactic goes back to zero
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/tactics/"+tc.ID, nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get tactic status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &tc)
	if tc.Progress != 0 {
		t.Fatalf("expected emptied tactic at 0, got %d", tc.Progress)
	}
}

func TestDependencyEndpoints(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, token := signupUser(t, srv, "member@example.com", "")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/dependencies", map[string]any{
		"source_type": "project",
		"source_id":   "p-1",
		"target_type": "action",
		"target_id":   "a-1",
	}, bearer(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create dependency status %d: %s", res.StatusCode, string(data))
	}
	var dep DependencyResponse
	if err := json.Unmarshal(data, &dep); err != nil {
		t.Fatalf("unmarshal dependency: %v", err)
	}
	if dep.SourceTitle != "Unknown project" || dep.TargetTitle != "Unknown action" {
		t.Fatalf("expected placeholder titles for dangling endpoints, got %q %q", dep.SourceTitle, dep.TargetTitle)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/dependencies?source_type=project&source_id=p-1", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var edges []DependencyResponse
	_ = json.Unmarshal(data, &edges)
	if len(edges) != 1 {
		t.Fatalf("expected one edge, got %d", len(edges))
	}

	// source and target filters are mutually exclusive
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/dependencies?source_type=project&source_id=p-1&target_type=action&target_id=a-1", nil, bearer(token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for both filters, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/dependencies", nil, bearer(token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for no filter, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/dependencies/"+dep.ID, nil, bearer(token))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/dependencies/"+dep.ID, nil, bearer(token))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d: %s", res.StatusCode, string(data))
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	_, token := signupUser(t, srv, "member@example.com", "")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/strategies/no-such-id", nil, bearer(token))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeErr(t, data); env.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", env.Error.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	client := srv.Client()
	u, token := signupUser(t, srv, "member@example.com", "")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/api-keys", map[string]any{
		"name": "ci",
	}, bearer(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if created.Key == "" || created.UserID != u.ID {
		t.Fatalf("expected raw key for the caller, got %+v", created)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/users/me", nil, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != u.ID {
		t.Fatalf("expected key principal %s, got %s", u.ID, me.UserID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/strategies", nil, map[string]string{"X-Api-Key": "bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/api-keys/"+created.ID, nil, bearer(token))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete key status %d: %s", res.StatusCode, string(data))
	}
}

func TestLegacyActorHeaderFallback(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: testJWTSecret, TokenTTL: time.Hour, AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()
	u, _ := signupUser(t, srv, "lead@example.com", "co_lead")

	// role tables back the legacy principal's permissions
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies", map[string]any{
		"title": "From legacy header",
	}, map[string]string{"X-Actor-Id": u.ID})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create via legacy header status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies", map[string]any{
		"title": "Unknown actor",
	}, map[string]string{"X-Actor-Id": "ghost"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown legacy actor, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newBearerTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, token := signupUser(t, srv, "lead@example.com", "co_lead")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/strategies", map[string]any{"title": "s"}, bearer(token))
	var s StrategyResponse
	_ = json.Unmarshal(data, &s)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/events?entity_kind=strategy&limit=10", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected at least one event")
	}
	if events[0].Type != "strategy.created" || events[0].EntityID != s.ID {
		t.Fatalf("expected latest strategy.created for %s, got %+v", s.ID, events[0])
	}
}
