// Package services defines the business-service boundary consumed by the
// realtime core: typed resource operations for projects, issues, labels and
// teams, a Postgres-backed implementation, and an in-memory implementation
// for tests and development.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Project is a top-level container for issues
type Project struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Issue is a unit of work inside a project
type Issue struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Label is a colored tag attachable to issues
type Label struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Level     string    `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// Team is a named group of users
type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	Private   bool      `json:"private"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateProject holds parameters for project creation
type CreateProject struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
}

// UpdateProject holds optional fields for project update
type UpdateProject struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ProjectFilters narrows project queries
type ProjectFilters struct {
	NamePattern string `json:"name_pattern,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// CreateIssue holds parameters for issue creation
type CreateIssue struct {
	ProjectID   uuid.UUID  `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    int        `json:"priority,omitempty"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
}

// UpdateIssue holds optional fields for issue update
type UpdateIssue struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
}

// IssueFilters narrows issue queries
type IssueFilters struct {
	ProjectID  *uuid.UUID `json:"project_id,omitempty"`
	Status     string     `json:"status,omitempty"`
	AssigneeID *uuid.UUID `json:"assignee_id,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

// CreateLabel holds parameters for label creation
type CreateLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Level string `json:"level,omitempty"`
}

// UpdateLabel holds optional fields for label update
type UpdateLabel struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Level *string `json:"level,omitempty"`
}

// LabelFilters narrows label queries
type LabelFilters struct {
	NamePattern string `json:"name_pattern,omitempty"`
	Level       string `json:"level,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// CreateTeam holds parameters for team creation
type CreateTeam struct {
	Name    string `json:"name"`
	Key     string `json:"key"`
	Private bool   `json:"private,omitempty"`
}

// UpdateTeam holds optional fields for team update
type UpdateTeam struct {
	Name    *string `json:"name,omitempty"`
	Private *bool   `json:"private,omitempty"`
}

// TeamFilters narrows team queries
type TeamFilters struct {
	NamePattern string `json:"name_pattern,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// ProjectService exposes project operations
type ProjectService interface {
	Create(ctx context.Context, params CreateProject) (Project, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateProject) (Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Query(ctx context.Context, filters ProjectFilters) ([]Project, error)
	Get(ctx context.Context, id uuid.UUID) (Project, error)
}

// IssueService exposes issue operations
type IssueService interface {
	Create(ctx context.Context, params CreateIssue) (Issue, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateIssue) (Issue, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Query(ctx context.Context, filters IssueFilters) ([]Issue, error)
	Get(ctx context.Context, id uuid.UUID) (Issue, error)
}

// LabelService exposes label operations
type LabelService interface {
	Create(ctx context.Context, params CreateLabel) (Label, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateLabel) (Label, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Query(ctx context.Context, filters LabelFilters) ([]Label, error)
	Get(ctx context.Context, id uuid.UUID) (Label, error)
}

// TeamService exposes team operations
type TeamService interface {
	Create(ctx context.Context, params CreateTeam) (Team, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateTeam) (Team, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Query(ctx context.Context, filters TeamFilters) ([]Team, error)
	Get(ctx context.Context, id uuid.UUID) (Team, error)
}

// Registry bundles the per-resource services handed to the realtime core
type Registry struct {
	Projects ProjectService
	Issues   IssueService
	Labels   LabelService
	Teams    TeamService
}
