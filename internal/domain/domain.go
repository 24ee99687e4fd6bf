package domain

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID           string `json:"id"`
	OrgID        string `json:"org_id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	PasswordHash string `json:"-"`
	Role         string `json:"role" enum:"member,co_lead,admin,super_admin"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Strategy struct {
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

type Project struct {
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

type Action struct {
	ID          string  `json:"id"`
	StrategyID  string  `json:"strategy_id"`
	ProjectID   *string `json:"project_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"not_started,in_progress,at_risk,achieved"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	IsArchived  bool    `json:"is_archived"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// Dependency is a directed depends-on edge between two projects/actions.
// Endpoints are type-tagged ids and are not foreign keys; an edge may
// outlive the rows it points at.
type Dependency struct {
	ID         string `json:"id"`
	SourceType string `json:"source_type" enum:"project,action"`
	SourceID   string `json:"source_id"`
	TargetType string `json:"target_type" enum:"project,action"`
	TargetID   string `json:"target_id"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// ResolvedDependency carries display titles for both endpoints; a missing
// endpoint row yields an "Unknown project"/"Unknown action" title.
type ResolvedDependency struct {
	Dependency
	SourceTitle string `json:"source_title"`
	TargetTitle string `json:"target_title"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	Name       string  `json:"name,omitempty"`
	KeyHash    string  `json:"key_hash"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}
