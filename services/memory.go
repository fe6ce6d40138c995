package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of every service interface.
// It backs tests and local development without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]Project
	issues   map[uuid.UUID]Issue
	labels   map[uuid.UUID]Label
	teams    map[uuid.UUID]Team
	users    map[uuid.UUID]bool // user id -> active
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[uuid.UUID]Project),
		issues:   make(map[uuid.UUID]Issue),
		labels:   make(map[uuid.UUID]Label),
		teams:    make(map[uuid.UUID]Team),
		users:    make(map[uuid.UUID]bool),
	}
}

// Registry returns a service registry backed entirely by this store
func (m *MemoryStore) Registry() Registry {
	return Registry{
		Projects: (*memoryProjects)(m),
		Issues:   (*memoryIssues)(m),
		Labels:   (*memoryLabels)(m),
		Teams:    (*memoryTeams)(m),
	}
}

// AddUser registers a user account and its active flag
func (m *MemoryStore) AddUser(id uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = active
}

// IsActive implements auth.UserStore
func (m *MemoryStore) IsActive(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active, ok := m.users[id]
	return ok && active, nil
}

func matchPattern(value, pattern string) bool {
	return pattern == "" || strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type memoryProjects MemoryStore

func (m *memoryProjects) Create(_ context.Context, params CreateProject) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.Key == params.Key {
			return Project{}, ConflictError("project key already in use")
		}
	}
	now := time.Now().UTC()
	p := Project{
		ID:          uuid.New(),
		Name:        params.Name,
		Key:         params.Key,
		Description: params.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.projects[p.ID] = p
	return p, nil
}

func (m *memoryProjects) Update(_ context.Context, id uuid.UUID, params UpdateProject) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return Project{}, NotFoundError("project")
	}
	if params.Name != nil {
		p.Name = *params.Name
	}
	if params.Description != nil {
		p.Description = *params.Description
	}
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return p, nil
}

func (m *memoryProjects) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return NotFoundError("project")
	}
	delete(m.projects, id)
	return nil
}

func (m *memoryProjects) Query(_ context.Context, filters ProjectFilters) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Project
	for _, p := range m.projects {
		if matchPattern(p.Name, filters.NamePattern) {
			out = append(out, p)
		}
	}
	sortByCreated(out, func(p Project) time.Time { return p.CreatedAt })
	return paginate(out, filters.Limit, filters.Offset), nil
}

func (m *memoryProjects) Get(_ context.Context, id uuid.UUID) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return Project{}, NotFoundError("project")
	}
	return p, nil
}

type memoryIssues MemoryStore

func (m *memoryIssues) Create(_ context.Context, params CreateIssue) (Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[params.ProjectID]; !ok {
		return Issue{}, NotFoundError("project")
	}
	status := params.Status
	if status == "" {
		status = "backlog"
	}
	now := time.Now().UTC()
	i := Issue{
		ID:          uuid.New(),
		ProjectID:   params.ProjectID,
		Title:       params.Title,
		Description: params.Description,
		Status:      status,
		Priority:    params.Priority,
		AssigneeID:  params.AssigneeID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.issues[i.ID] = i
	return i, nil
}

func (m *memoryIssues) Update(_ context.Context, id uuid.UUID, params UpdateIssue) (Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.issues[id]
	if !ok {
		return Issue{}, NotFoundError("issue")
	}
	if params.Title != nil {
		i.Title = *params.Title
	}
	if params.Description != nil {
		i.Description = *params.Description
	}
	if params.Status != nil {
		i.Status = *params.Status
	}
	if params.Priority != nil {
		i.Priority = *params.Priority
	}
	if params.AssigneeID != nil {
		i.AssigneeID = params.AssigneeID
	}
	i.UpdatedAt = time.Now().UTC()
	m.issues[id] = i
	return i, nil
}

func (m *memoryIssues) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.issues[id]; !ok {
		return NotFoundError("issue")
	}
	delete(m.issues, id)
	return nil
}

func (m *memoryIssues) Query(_ context.Context, filters IssueFilters) ([]Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Issue
	for _, i := range m.issues {
		if filters.ProjectID != nil && i.ProjectID != *filters.ProjectID {
			continue
		}
		if filters.Status != "" && i.Status != filters.Status {
			continue
		}
		if filters.AssigneeID != nil && (i.AssigneeID == nil || *i.AssigneeID != *filters.AssigneeID) {
			continue
		}
		out = append(out, i)
	}
	sortByCreated(out, func(i Issue) time.Time { return i.CreatedAt })
	return paginate(out, filters.Limit, filters.Offset), nil
}

func (m *memoryIssues) Get(_ context.Context, id uuid.UUID) (Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.issues[id]
	if !ok {
		return Issue{}, NotFoundError("issue")
	}
	return i, nil
}

type memoryLabels MemoryStore

func (m *memoryLabels) Create(_ context.Context, params CreateLabel) (Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.labels {
		if l.Name == params.Name {
			return Label{}, ConflictError("label name already in use")
		}
	}
	level := params.Level
	if level == "" {
		level = "workspace"
	}
	l := Label{
		ID:        uuid.New(),
		Name:      params.Name,
		Color:     params.Color,
		Level:     level,
		CreatedAt: time.Now().UTC(),
	}
	m.labels[l.ID] = l
	return l, nil
}

func (m *memoryLabels) Update(_ context.Context, id uuid.UUID, params UpdateLabel) (Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.labels[id]
	if !ok {
		return Label{}, NotFoundError("label")
	}
	if params.Name != nil {
		l.Name = *params.Name
	}
	if params.Color != nil {
		l.Color = *params.Color
	}
	if params.Level != nil {
		l.Level = *params.Level
	}
	m.labels[id] = l
	return l, nil
}

func (m *memoryLabels) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.labels[id]; !ok {
		return NotFoundError("label")
	}
	delete(m.labels, id)
	return nil
}

func (m *memoryLabels) Query(_ context.Context, filters LabelFilters) ([]Label, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Label
	for _, l := range m.labels {
		if !matchPattern(l.Name, filters.NamePattern) {
			continue
		}
		if filters.Level != "" && l.Level != filters.Level {
			continue
		}
		out = append(out, l)
	}
	sortByCreated(out, func(l Label) time.Time { return l.CreatedAt })
	return paginate(out, filters.Limit, filters.Offset), nil
}

func (m *memoryLabels) Get(_ context.Context, id uuid.UUID) (Label, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.labels[id]
	if !ok {
		return Label{}, NotFoundError("label")
	}
	return l, nil
}

type memoryTeams MemoryStore

func (m *memoryTeams) Create(_ context.Context, params CreateTeam) (Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teams {
		if t.Key == params.Key {
			return Team{}, ConflictError("team key already in use")
		}
	}
	t := Team{
		ID:        uuid.New(),
		Name:      params.Name,
		Key:       params.Key,
		Private:   params.Private,
		CreatedAt: time.Now().UTC(),
	}
	m.teams[t.ID] = t
	return t, nil
}

func (m *memoryTeams) Update(_ context.Context, id uuid.UUID, params UpdateTeam) (Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return Team{}, NotFoundError("team")
	}
	if params.Name != nil {
		t.Name = *params.Name
	}
	if params.Private != nil {
		t.Private = *params.Private
	}
	m.teams[id] = t
	return t, nil
}

func (m *memoryTeams) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[id]; !ok {
		return NotFoundError("team")
	}
	delete(m.teams, id)
	return nil
}

func (m *memoryTeams) Query(_ context.Context, filters TeamFilters) ([]Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Team
	for _, t := range m.teams {
		if matchPattern(t.Name, filters.NamePattern) {
			out = append(out, t)
		}
	}
	sortByCreated(out, func(t Team) time.Time { return t.CreatedAt })
	return paginate(out, filters.Limit, filters.Offset), nil
}

func (m *memoryTeams) Get(_ context.Context, id uuid.UUID) (Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teams[id]
	if !ok {
		return Team{}, NotFoundError("team")
	}
	return t, nil
}

// sortByCreated orders query results oldest-first so pagination is stable
func sortByCreated[T any](items []T, createdAt func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return createdAt(items[i]).Before(createdAt(items[j]))
	})
}
