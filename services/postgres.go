package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsehq/pulse/internal/slogging"
)

// PostgresStore implements the service interfaces on top of a pgx pool.
// Schema management lives with the migration tooling, not here.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and verifies the connection
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	logger := slogging.Get()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Connected to Postgres")
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Registry returns a service registry backed by this store
func (s *PostgresStore) Registry() Registry {
	return Registry{
		Projects: &pgProjects{pool: s.pool},
		Issues:   &pgIssues{pool: s.pool},
		Labels:   &pgLabels{pool: s.pool},
		Teams:    &pgTeams{pool: s.pool},
	}
}

// IsActive implements auth.UserStore
func (s *PostgresStore) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_active FROM users WHERE id = $1`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return active, nil
}

// isUniqueViolation reports whether the error is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type pgProjects struct {
	pool *pgxpool.Pool
}

func (p *pgProjects) Create(ctx context.Context, params CreateProject) (Project, error) {
	var out Project
	err := p.pool.QueryRow(ctx,
		`INSERT INTO projects (id, name, key, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 RETURNING id, name, key, description, created_at, updated_at`,
		uuid.New(), params.Name, params.Key, params.Description,
	).Scan(&out.ID, &out.Name, &out.Key, &out.Description, &out.CreatedAt, &out.UpdatedAt)
	if isUniqueViolation(err) {
		return Project{}, ConflictError("project key already in use")
	}
	if err != nil {
		return Project{}, fmt.Errorf("failed to create project: %w", err)
	}
	return out, nil
}

func (p *pgProjects) Update(ctx context.Context, id uuid.UUID, params UpdateProject) (Project, error) {
	var out Project
	err := p.pool.QueryRow(ctx,
		`UPDATE projects
		 SET name = COALESCE($2, name),
		     description = COALESCE($3, description),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, key, description, created_at, updated_at`,
		id, params.Name, params.Description,
	).Scan(&out.ID, &out.Name, &out.Key, &out.Description, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, NotFoundError("project")
	}
	if err != nil {
		return Project{}, fmt.Errorf("failed to update project: %w", err)
	}
	return out, nil
}

func (p *pgProjects) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError("project")
	}
	return nil
}

func (p *pgProjects) Query(ctx context.Context, filters ProjectFilters) ([]Project, error) {
	query := `SELECT id, name, key, description, created_at, updated_at FROM projects`
	var args []any
	if filters.NamePattern != "" {
		args = append(args, "%"+strings.ToLower(filters.NamePattern)+"%")
		query += fmt.Sprintf(" WHERE lower(name) LIKE $%d", len(args))
	}
	query += " ORDER BY created_at"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var pr Project
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.Key, &pr.Description, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *pgProjects) Get(ctx context.Context, id uuid.UUID) (Project, error) {
	var out Project
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, key, description, created_at, updated_at FROM projects WHERE id = $1`, id,
	).Scan(&out.ID, &out.Name, &out.Key, &out.Description, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, NotFoundError("project")
	}
	if err != nil {
		return Project{}, fmt.Errorf("failed to get project: %w", err)
	}
	return out, nil
}

type pgIssues struct {
	pool *pgxpool.Pool
}

func (p *pgIssues) Create(ctx context.Context, params CreateIssue) (Issue, error) {
	status := params.Status
	if status == "" {
		status = "backlog"
	}
	var out Issue
	err := p.pool.QueryRow(ctx,
		`INSERT INTO issues (id, project_id, title, description, status, priority, assignee_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		 RETURNING id, project_id, title, description, status, priority, assignee_id, created_at, updated_at`,
		uuid.New(), params.ProjectID, params.Title, params.Description, status, params.Priority, params.AssigneeID,
	).Scan(&out.ID, &out.ProjectID, &out.Title, &out.Description, &out.Status, &out.Priority, &out.AssigneeID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Foreign key violation: the referenced project does not exist
			return Issue{}, NotFoundError("project")
		}
		return Issue{}, fmt.Errorf("failed to create issue: %w", err)
	}
	return out, nil
}

func (p *pgIssues) Update(ctx context.Context, id uuid.UUID, params UpdateIssue) (Issue, error) {
	var out Issue
	err := p.pool.QueryRow(ctx,
		`UPDATE issues
		 SET title = COALESCE($2, title),
		     description = COALESCE($3, description),
		     status = COALESCE($4, status),
		     priority = COALESCE($5, priority),
		     assignee_id = COALESCE($6, assignee_id),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING id, project_id, title, description, status, priority, assignee_id, created_at, updated_at`,
		id, params.Title, params.Description, params.Status, params.Priority, params.AssigneeID,
	).Scan(&out.ID, &out.ProjectID, &out.Title, &out.Description, &out.Status, &out.Priority, &out.AssigneeID, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Issue{}, NotFoundError("issue")
	}
	if err != nil {
		return Issue{}, fmt.Errorf("failed to update issue: %w", err)
	}
	return out, nil
}

func (p *pgIssues) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM issues WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError("issue")
	}
	return nil
}

func (p *pgIssues) Query(ctx context.Context, filters IssueFilters) ([]Issue, error) {
	query := `SELECT id, project_id, title, description, status, priority, assignee_id, created_at, updated_at FROM issues`
	var conds []string
	var args []any
	if filters.ProjectID != nil {
		args = append(args, *filters.ProjectID)
		conds = append(conds, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.AssigneeID != nil {
		args = append(args, *filters.AssigneeID)
		conds = append(conds, fmt.Sprintf("assignee_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var out []Issue
	for rows.Next() {
		var i Issue
		if err := rows.Scan(&i.ID, &i.ProjectID, &i.Title, &i.Description, &i.Status, &i.Priority, &i.AssigneeID, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (p *pgIssues) Get(ctx context.Context, id uuid.UUID) (Issue, error) {
	var out Issue
	err := p.pool.QueryRow(ctx,
		`SELECT id, project_id, title, description, status, priority, assignee_id, created_at, updated_at
		 FROM issues WHERE id = $1`, id,
	).Scan(&out.ID, &out.ProjectID, &out.Title, &out.Description, &out.Status, &out.Priority, &out.AssigneeID, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Issue{}, NotFoundError("issue")
	}
	if err != nil {
		return Issue{}, fmt.Errorf("failed to get issue: %w", err)
	}
	return out, nil
}

type pgLabels struct {
	pool *pgxpool.Pool
}

func (p *pgLabels) Create(ctx context.Context, params CreateLabel) (Label, error) {
	level := params.Level
	if level == "" {
		level = "workspace"
	}
	var out Label
	err := p.pool.QueryRow(ctx,
		`INSERT INTO labels (id, name, color, level, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 RETURNING id, name, color, level, created_at`,
		uuid.New(), params.Name, params.Color, level,
	).Scan(&out.ID, &out.Name, &out.Color, &out.Level, &out.CreatedAt)
	if isUniqueViolation(err) {
		return Label{}, ConflictError("label name already in use")
	}
	if err != nil {
		return Label{}, fmt.Errorf("failed to create label: %w", err)
	}
	return out, nil
}

func (p *pgLabels) Update(ctx context.Context, id uuid.UUID, params UpdateLabel) (Label, error) {
	var out Label
	err := p.pool.QueryRow(ctx,
		`UPDATE labels
		 SET name = COALESCE($2, name),
		     color = COALESCE($3, color),
		     level = COALESCE($4, level)
		 WHERE id = $1
		 RETURNING id, name, color, level, created_at`,
		id, params.Name, params.Color, params.Level,
	).Scan(&out.ID, &out.Name, &out.Color, &out.Level, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Label{}, NotFoundError("label")
	}
	if isUniqueViolation(err) {
		return Label{}, ConflictError("label name already in use")
	}
	if err != nil {
		return Label{}, fmt.Errorf("failed to update label: %w", err)
	}
	return out, nil
}

func (p *pgLabels) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM labels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError("label")
	}
	return nil
}

func (p *pgLabels) Query(ctx context.Context, filters LabelFilters) ([]Label, error) {
	query := `SELECT id, name, color, level, created_at FROM labels`
	var conds []string
	var args []any
	if filters.NamePattern != "" {
		args = append(args, "%"+strings.ToLower(filters.NamePattern)+"%")
		conds = append(conds, fmt.Sprintf("lower(name) LIKE $%d", len(args)))
	}
	if filters.Level != "" {
		args = append(args, filters.Level)
		conds = append(conds, fmt.Sprintf("level = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var out []Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.Level, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *pgLabels) Get(ctx context.Context, id uuid.UUID) (Label, error) {
	var out Label
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, color, level, created_at FROM labels WHERE id = $1`, id,
	).Scan(&out.ID, &out.Name, &out.Color, &out.Level, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Label{}, NotFoundError("label")
	}
	if err != nil {
		return Label{}, fmt.Errorf("failed to get label: %w", err)
	}
	return out, nil
}

type pgTeams struct {
	pool *pgxpool.Pool
}

func (p *pgTeams) Create(ctx context.Context, params CreateTeam) (Team, error) {
	var out Team
	err := p.pool.QueryRow(ctx,
		`INSERT INTO teams (id, name, key, private, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 RETURNING id, name, key, private, created_at`,
		uuid.New(), params.Name, params.Key, params.Private,
	).Scan(&out.ID, &out.Name, &out.Key, &out.Private, &out.CreatedAt)
	if isUniqueViolation(err) {
		return Team{}, ConflictError("team key already in use")
	}
	if err != nil {
		return Team{}, fmt.Errorf("failed to create team: %w", err)
	}
	return out, nil
}

func (p *pgTeams) Update(ctx context.Context, id uuid.UUID, params UpdateTeam) (Team, error) {
	var out Team
	err := p.pool.QueryRow(ctx,
		`UPDATE teams
		 SET name = COALESCE($2, name),
		     private = COALESCE($3, private)
		 WHERE id = $1
		 RETURNING id, name, key, private, created_at`,
		id, params.Name, params.Private,
	).Scan(&out.ID, &out.Name, &out.Key, &out.Private, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Team{}, NotFoundError("team")
	}
	if err != nil {
		return Team{}, fmt.Errorf("failed to update team: %w", err)
	}
	return out, nil
}

func (p *pgTeams) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError("team")
	}
	return nil
}

func (p *pgTeams) Query(ctx context.Context, filters TeamFilters) ([]Team, error) {
	query := `SELECT id, name, key, private, created_at FROM teams`
	var args []any
	if filters.NamePattern != "" {
		args = append(args, "%"+strings.ToLower(filters.NamePattern)+"%")
		query += fmt.Sprintf(" WHERE lower(name) LIKE $%d", len(args))
	}
	query += " ORDER BY created_at"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", err)
	}
	defer rows.Close()

	var out []Team
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Key, &t.Private, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *pgTeams) Get(ctx context.Context, id uuid.UUID) (Team, error) {
	var out Team
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, key, private, created_at FROM teams WHERE id = $1`, id,
	).Scan(&out.ID, &out.Name, &out.Key, &out.Private, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Team{}, NotFoundError("team")
	}
	if err != nil {
		return Team{}, fmt.Errorf("failed to get team: %w", err)
	}
	return out, nil
}
