package server

import (
	"encoding/json"

	"stratline/internal/domain"
)

// Request payloads. Projects are exposed as "tactics" and actions as
// "outcomes" on the wire; dependency endpoints keep the internal
// project/action tags because edges address rows, not resources.

type CreateStrategyRequest struct {
	ID           *string `json:"id,omitempty"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	ColorCode    *string `json:"color_code,omitempty"`
	DisplayOrder *int    `json:"display_order,omitempty"`
}

type UpdateStrategyRequest struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	ColorCode    *string `json:"color_code,omitempty"`
	Status       string  `json:"status,omitempty" enum:"NotStarted,InProgress,OnTrack,Behind"`
	DisplayOrder *int    `json:"display_order,omitempty"`
}

type ReorderItem struct {
	ID           string `json:"id"`
	DisplayOrder int    `json:"display_order"`
}

type ReorderStrategiesRequest struct {
	Items []ReorderItem `json:"items"`
}

type CreateTacticRequest struct {
	ID           *string `json:"id,omitempty"`
	StrategyID   string  `json:"strategy_id"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	Status       string  `json:"status,omitempty" enum:"not_started,in_progress,at_risk,achieved"`
	DisplayOrder *int    `json:"display_order,omitempty"`
}

type UpdateTacticRequest struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Status       string  `json:"status,omitempty" enum:"not_started,in_progress,at_risk,achieved"`
	IsArchived   *bool   `json:"is_archived,omitempty"`
	DisplayOrder *int    `json:"display_order,omitempty"`
}

type CreateOutcomeRequest struct {
	ID          *string `json:"id,omitempty"`
	StrategyID  string  `json:"strategy_id"`
	TacticID    *string `json:"tactic_id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status,omitempty" enum:"not_started,in_progress,at_risk,achieved"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
}

type UpdateOutcomeRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status,omitempty" enum:"not_started,in_progress,at_risk,achieved"`
	TacticID    *string `json:"tactic_id,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	IsArchived  *bool   `json:"is_archived,omitempty"`
}

type CreateDependencyRequest struct {
	SourceType string `json:"source_type" enum:"project,action"`
	SourceID   string `json:"source_id"`
	TargetType string `json:"target_type" enum:"project,action"`
	TargetID   string `json:"target_id"`
}

type RegisterRequest struct {
	Email       string  `json:"email" format:"email"`
	Password    string  `json:"password"`
	DisplayName string  `json:"display_name"`
	OrgID       *string `json:"org_id,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type AssignRoleRequest struct {
	Role string `json:"role" enum:"member,co_lead,admin,super_admin"`
}

type CreateOrganizationRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type CreateAPIKeyRequest struct {
	UserID *string `json:"user_id,omitempty"`
	Name   string  `json:"name"`
}

// Response payloads

type StrategyResponse struct {
	ID             string  `json:"id"`
	OrgID          string  `json:"org_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	ColorCode      string  `json:"color_code,omitempty"`
	Status         string  `json:"status" enum:"NotStarted,InProgress,OnTrack,Behind,Completed,Archived"`
	Progress       int     `json:"progress"`
	DisplayOrder   int     `json:"display_order"`
	CompletionDate *string `json:"completion_date,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type TacticResponse struct {
	ID           string `json:"id"`
	StrategyID   string `json:"strategy_id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status" enum:"not_started,in_progress,at_risk,achieved"`
	Progress     int    `json:"progress"`
	IsArchived   bool   `json:"is_archived"`
	DisplayOrder int    `json:"display_order"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type OutcomeResponse struct {
	ID          string  `json:"id"`
	StrategyID  string  `json:"strategy_id"`
	TacticID    *string `json:"tactic_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"not_started,in_progress,at_risk,achieved"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	IsArchived  bool    `json:"is_archived"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type DependencyResponse struct {
	ID          string `json:"id"`
	SourceType  string `json:"source_type" enum:"project,action"`
	SourceID    string `json:"source_id"`
	SourceTitle string `json:"source_title"`
	TargetType  string `json:"target_type" enum:"project,action"`
	TargetID    string `json:"target_id"`
	TargetTitle string `json:"target_title"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type UserResponse struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Email       string `json:"email" format:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" enum:"member,co_lead,admin,super_admin"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type WhoAmIResponse struct {
	UserID      string   `json:"user_id"`
	OrgID       string   `json:"org_id,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
}

type OrganizationResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	Name       string  `json:"name,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}

// CreateAPIKeyResponse carries the raw key; it is shown exactly once and
// never retrievable afterwards.
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	OrgID      string         `json:"org_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Conversion helpers

func strategyResponse(s domain.Strategy) StrategyResponse {
	return StrategyResponse{
		ID:             s.ID,
		OrgID:          s.OrgID,
		Title:          s.Title,
		Description:    s.Description,
		ColorCode:      s.ColorCode,
		Status:         s.Status,
		Progress:       s.Progress,
		DisplayOrder:   s.DisplayOrder,
		CompletionDate: s.CompletionDate,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func tacticResponse(p domain.Project) TacticResponse {
	return TacticResponse{
		ID:           p.ID,
		StrategyID:   p.StrategyID,
		Title:        p.Title,
		Description:  p.Description,
		Status:       p.Status,
		Progress:     p.Progress,
		IsArchived:   p.IsArchived,
		DisplayOrder: p.DisplayOrder,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func outcomeResponse(a domain.Action) OutcomeResponse {
	return OutcomeResponse{
		ID:          a.ID,
		StrategyID:  a.StrategyID,
		TacticID:    a.ProjectID,
		Title:       a.Title,
		Description: a.Description,
		Status:      a.Status,
		AssigneeID:  a.AssigneeID,
		DueDate:     a.DueDate,
		IsArchived:  a.IsArchived,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func dependencyResponse(d domain.ResolvedDependency) DependencyResponse {
	return DependencyResponse{
		ID:          d.ID,
		SourceType:  d.SourceType,
		SourceID:    d.SourceID,
		SourceTitle: d.SourceTitle,
		TargetType:  d.TargetType,
		TargetID:    d.TargetID,
		TargetTitle: d.TargetTitle,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt,
	}
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		OrgID:       u.OrgID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

func organizationResponse(o domain.Organization) OrganizationResponse {
	return OrganizationResponse{ID: o.ID, Name: o.Name, CreatedAt: o.CreatedAt}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		UserID:     k.UserID,
		Name:       k.Name,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		OrgID:      e.OrgID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapStrategies(items []domain.Strategy) []StrategyResponse {
	res := make([]StrategyResponse, 0, len(items))
	for _, s := range items {
		res = append(res, strategyResponse(s))
	}
	return res
}

func mapTactics(items []domain.Project) []TacticResponse {
	res := make([]TacticResponse, 0, len(items))
	for _, p := range items {
		res = append(res, tacticResponse(p))
	}
	return res
}

func mapOutcomes(items []domain.Action) []OutcomeResponse {
	res := make([]OutcomeResponse, 0, len(items))
	for _, a := range items {
		res = append(res, outcomeResponse(a))
	}
	return res
}

func mapDependencies(items []domain.ResolvedDependency) []DependencyResponse {
	res := make([]DependencyResponse, 0, len(items))
	for _, d := range items {
		res = append(res, dependencyResponse(d))
	}
	return res
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func mapOrganizations(items []domain.Organization) []OrganizationResponse {
	res := make([]OrganizationResponse, 0, len(items))
	for _, o := range items {
		res = append(res, organizationResponse(o))
	}
	return res
}

func mapAPIKeys(items []domain.APIKey) []APIKeyResponse {
	res := make([]APIKeyResponse, 0, len(items))
	for _, k := range items {
		res = append(res, apiKeyResponse(k))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return map[string]any{}
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
