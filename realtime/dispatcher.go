package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/internal/slogging"
	"github.com/pulsehq/pulse/services"
)

// DispatcherConfig holds command dispatch configuration
type DispatcherConfig struct {
	MaxBatchSize int
}

// Dispatcher routes inbound commands: rate-limit check, idempotency lookup,
// exhaustive routing by command kind, result caching, and business-event
// publication for mutations.
type Dispatcher struct {
	hub         *Hub
	limiter     *Limiter
	idempotency *IdempotencyCache
	caller      *Caller
	services    services.Registry
	maxBatch    int
}

// NewDispatcher creates a command dispatcher
func NewDispatcher(hub *Hub, limiter *Limiter, idem *IdempotencyCache, caller *Caller, registry services.Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 25
	}
	return &Dispatcher{
		hub:         hub,
		limiter:     limiter,
		idempotency: idem,
		caller:      caller,
		services:    registry,
		maxBatch:    cfg.MaxBatchSize,
	}
}

// Dispatch executes one command for the given connection and returns exactly
// one result.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Conn, cmd Command) CommandResult {
	identity := conn.Identity.UserID.String()

	if ok, retryAfter := d.limiter.Acquire(identity); !ok {
		metricThrottledTotal.Inc()
		metricCommandsTotal.WithLabelValues(string(cmd.Type), "throttled").Inc()
		result := failureResult(cmd, CodeThrottled, (&ThrottleError{RetryAfter: retryAfter}).Error())
		result.Error.RetryAfterMS = retryAfter.Milliseconds()
		return result
	}

	if cmd.IdempotencyKey != "" {
		if cached, ok := d.idempotency.Get(identity, cmd.IdempotencyKey); ok {
			metricCommandsTotal.WithLabelValues(string(cmd.Type), "cached").Inc()
			return cached
		}
	}

	result := d.execute(ctx, conn, cmd)

	if cmd.IdempotencyKey != "" {
		d.idempotency.Put(identity, cmd.IdempotencyKey, result)
	}

	outcome := "ok"
	if !result.Success {
		outcome = "error"
	}
	metricCommandsTotal.WithLabelValues(string(cmd.Type), outcome).Inc()
	return result
}

// execute routes the command to its handler. The switch is exhaustive over
// the closed command set; an unlisted kind means a malformed frame.
func (d *Dispatcher) execute(ctx context.Context, conn *Conn, cmd Command) CommandResult {
	switch cmd.Type {
	case CmdCreateProject:
		return d.createProject(ctx, cmd)
	case CmdUpdateProject:
		return d.updateProject(ctx, cmd)
	case CmdDeleteProject:
		return d.deleteProject(ctx, cmd)
	case CmdQueryProjects:
		return d.queryProjects(ctx, cmd)
	case CmdCreateIssue:
		return d.createIssue(ctx, cmd)
	case CmdUpdateIssue:
		return d.updateIssue(ctx, cmd)
	case CmdDeleteIssue:
		return d.deleteIssue(ctx, cmd)
	case CmdQueryIssues:
		return d.queryIssues(ctx, cmd)
	case CmdCreateLabel:
		return d.createLabel(ctx, cmd)
	case CmdUpdateLabel:
		return d.updateLabel(ctx, cmd)
	case CmdDeleteLabel:
		return d.deleteLabel(ctx, cmd)
	case CmdQueryLabels:
		return d.queryLabels(ctx, cmd)
	case CmdCreateTeam:
		return d.createTeam(ctx, cmd)
	case CmdUpdateTeam:
		return d.updateTeam(ctx, cmd)
	case CmdDeleteTeam:
		return d.deleteTeam(ctx, cmd)
	case CmdQueryTeams:
		return d.queryTeams(ctx, cmd)
	case CmdSubscribe:
		return d.subscribe(conn, cmd)
	case CmdUnsubscribe:
		return d.unsubscribe(conn, cmd)
	case CmdPing:
		return successResult(cmd, map[string]any{"message": "pong"})
	case CmdGetConnectionInfo:
		info, ok := d.hub.Info(conn.ID)
		if !ok {
			return failureResult(cmd, CodeInternal, "connection not registered")
		}
		return successResult(cmd, info)
	case CmdBatch:
		// Batch frames go through ExecuteBatch, never through Dispatch
		return failureResult(cmd, CodeMalformed, "batch commands cannot be nested")
	}
	return failureResult(cmd, CodeMalformed, fmt.Sprintf("unknown command type %q", cmd.Type))
}

// errorResult maps a handler error to a failed CommandResult
func errorResult(cmd Command, err error) CommandResult {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return failureResult(cmd, CodeValidation, validationErr.Error())
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return failureResult(cmd, CodeTimeout, timeoutErr.Error())
	}
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return failureResult(cmd, domainErr.Code, domainErr.Message)
	}
	slogging.Get().Error("Command %s failed: %v", cmd.Type, err)
	return failureResult(cmd, CodeInternal, "internal error")
}

// publish announces a successful mutation on the resource topic
func (d *Dispatcher) publish(topic, messageType string, id uuid.UUID, entity any) {
	d.hub.Publish(topic, NewEvent(messageType, map[string]any{
		"id":       id,
		"resource": entity,
	}))
}

func decode[T any](data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		return out, &ValidationError{Field: "data", Reason: "missing command data"}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &ValidationError{Field: "data", Reason: err.Error()}
	}
	return out, nil
}

// idPayload is the data shape of delete commands
type idPayload struct {
	ID uuid.UUID `json:"id"`
}

// updatePayload pairs a target id with the partial update
type updatePayload[T any] struct {
	ID     uuid.UUID `json:"id"`
	Fields T         `json:"fields"`
}

// validateOnly checks a command's structure without executing it. AllOrNothing
// batches use it to vet every item before the first mutation.
func (d *Dispatcher) validateOnly(cmd Command) error {
	if !cmd.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown command type %q", cmd.Type)}
	}

	switch cmd.Type {
	case CmdCreateProject:
		params, err := decode[services.CreateProject](cmd.Data)
		if err != nil {
			return err
		}
		return validateCreateProject(params)
	case CmdUpdateProject:
		payload, err := decode[updatePayload[services.UpdateProject]](cmd.Data)
		if err != nil {
			return err
		}
		return requireID(payload.ID)
	case CmdDeleteProject, CmdDeleteIssue, CmdDeleteLabel, CmdDeleteTeam:
		payload, err := decode[idPayload](cmd.Data)
		if err != nil {
			return err
		}
		return requireID(payload.ID)
	case CmdCreateIssue:
		params, err := decode[services.CreateIssue](cmd.Data)
		if err != nil {
			return err
		}
		return validateCreateIssue(params)
	case CmdUpdateIssue:
		payload, err := decode[updatePayload[services.UpdateIssue]](cmd.Data)
		if err != nil {
			return err
		}
		return requireID(payload.ID)
	case CmdCreateLabel:
		params, err := decode[services.CreateLabel](cmd.Data)
		if err != nil {
			return err
		}
		return validateCreateLabel(params)
	case CmdUpdateLabel:
		payload, err := decode[updatePayload[services.UpdateLabel]](cmd.Data)
		if err != nil {
			return err
		}
		return requireID(payload.ID)
	case CmdCreateTeam:
		params, err := decode[services.CreateTeam](cmd.Data)
		if err != nil {
			return err
		}
		return validateCreateTeam(params)
	case CmdUpdateTeam:
		payload, err := decode[updatePayload[services.UpdateTeam]](cmd.Data)
		if err != nil {
			return err
		}
		return requireID(payload.ID)
	case CmdSubscribe, CmdUnsubscribe:
		payload, err := decode[topicsPayload](cmd.Data)
		if err != nil {
			return err
		}
		if len(payload.Topics) == 0 {
			return &ValidationError{Field: "topics", Reason: "at least one topic is required"}
		}
		return nil
	case CmdQueryProjects, CmdQueryIssues, CmdQueryLabels, CmdQueryTeams,
		CmdPing, CmdGetConnectionInfo:
		return nil
	case CmdBatch:
		return &ValidationError{Field: "type", Reason: "batch commands cannot be nested"}
	}
	return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown command type %q", cmd.Type)}
}

func requireID(id uuid.UUID) error {
	if id == uuid.Nil {
		return &ValidationError{Field: "id", Reason: "id is required"}
	}
	return nil
}

func validateCreateProject(params services.CreateProject) error {
	if params.Name == "" {
		return &ValidationError{Field: "name", Reason: "name is required"}
	}
	if params.Key == "" {
		return &ValidationError{Field: "key", Reason: "key is required"}
	}
	return nil
}

func validateCreateIssue(params services.CreateIssue) error {
	if params.ProjectID == uuid.Nil {
		return &ValidationError{Field: "project_id", Reason: "project_id is required"}
	}
	if params.Title == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	return nil
}

func validateCreateLabel(params services.CreateLabel) error {
	if params.Name == "" {
		return &ValidationError{Field: "name", Reason: "name is required"}
	}
	if params.Color == "" {
		return &ValidationError{Field: "color", Reason: "color is required"}
	}
	return nil
}

func validateCreateTeam(params services.CreateTeam) error {
	if params.Name == "" {
		return &ValidationError{Field: "name", Reason: "name is required"}
	}
	if params.Key == "" {
		return &ValidationError{Field: "key", Reason: "key is required"}
	}
	return nil
}

type topicsPayload struct {
	Topics []string `json:"topics"`
}

func (d *Dispatcher) subscribe(conn *Conn, cmd Command) CommandResult {
	payload, err := decode[topicsPayload](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if len(payload.Topics) == 0 {
		return errorResult(cmd, &ValidationError{Field: "topics", Reason: "at least one topic is required"})
	}
	d.hub.Subscribe(conn.ID, payload.Topics)
	return successResult(cmd, map[string]any{"subscribed": payload.Topics})
}

func (d *Dispatcher) unsubscribe(conn *Conn, cmd Command) CommandResult {
	payload, err := decode[topicsPayload](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if len(payload.Topics) == 0 {
		return errorResult(cmd, &ValidationError{Field: "topics", Reason: "at least one topic is required"})
	}
	d.hub.Unsubscribe(conn.ID, payload.Topics)
	return successResult(cmd, map[string]any{"unsubscribed": payload.Topics})
}

func (d *Dispatcher) createProject(ctx context.Context, cmd Command) CommandResult {
	params, err := decode[services.CreateProject](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := validateCreateProject(params); err != nil {
		return errorResult(cmd, err)
	}
	var project services.Project
	err = d.caller.Call(ctx, "create project", func(ctx context.Context) error {
		var callErr error
		project, callErr = d.services.Projects.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicProjects, "project_created", project.ID, project)
	return successResult(cmd, project)
}

func (d *Dispatcher) updateProject(ctx context.Context, cmd Command) CommandResult {
	payload, err := decode[updatePayload[services.UpdateProject]](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := requireID(payload.ID); err != nil {
		return errorResult(cmd, err)
	}
	var project services.Project
	err = d.caller.Call(ctx, "update project", func(ctx context.Context) error {
		var callErr error
		project, callErr = d.services.Projects.Update(ctx, payload.ID, payload.Fields)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicProjects, "project_updated", project.ID, project)
	return successResult(cmd, project)
}

func (d *Dispatcher) deleteProject(ctx context.Context, cmd Command) CommandResult {
	payload, err := decode[idPayload](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := requireID(payload.ID); err != nil {
		return errorResult(cmd, err)
	}
	err = d.caller.Call(ctx, "delete project", func(ctx context.Context) error {
		return d.services.Projects.Delete(ctx, payload.ID)
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicProjects, "project_deleted", payload.ID, nil)
	return successResult(cmd, map[string]any{"id": payload.ID})
}

func (d *Dispatcher) queryProjects(ctx context.Context, cmd Command) CommandResult {
	var filters services.ProjectFilters
	if len(cmd.Data) > 0 {
		var err error
		if filters, err = decode[services.ProjectFilters](cmd.Data); err != nil {
			return errorResult(cmd, err)
		}
	}
	var projects []services.Project
	err := d.caller.Call(ctx, "query projects", func(ctx context.Context) error {
		var callErr error
		projects, callErr = d.services.Projects.Query(ctx, filters)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	return successResult(cmd, map[string]any{"projects": projects, "count": len(projects)})
}

func (d *Dispatcher) createIssue(ctx context.Context, cmd Command) CommandResult {
	params, err := decode[services.CreateIssue](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := validateCreateIssue(params); err != nil {
		return errorResult(cmd, err)
	}
	var issue services.Issue
	err = d.caller.Call(ctx, "create issue", func(ctx context.Context) error {
		var callErr error
		issue, callErr = d.services.Issues.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicIssues, "issue_created", issue.ID, issue)
	return successResult(cmd, issue)
}

func (d *Dispatcher) updateIssue(ctx context.Context, cmd Command) CommandResult {
	payload, err := decode[updatePayload[services.UpdateIssue]](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := requireID(payload.ID); err != nil {
		return errorResult(cmd, err)
	}
	var issue services.Issue
	err = d.caller.Call(ctx, "update issue", func(ctx context.Context) error {
		var callErr error
		issue, callErr = d.services.Issues.Update(ctx, payload.ID, payload.Fields)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicIssues, "issue_updated", issue.ID, issue)
	return successResult(cmd, issue)
}

func (d *Dispatcher) deleteIssue(ctx context.Context, cmd Command) CommandResult {
	payload, err := decode[idPayload](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := requireID(payload.ID); err != nil {
		return errorResult(cmd, err)
	}
	err = d.caller.Call(ctx, "delete issue", func(ctx context.Context) error {
		return d.services.Issues.Delete(ctx, payload.ID)
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicIssues, "issue_deleted", payload.ID, nil)
	return successResult(cmd, map[string]any{"id": payload.ID})
}

func (d *Dispatcher) queryIssues(ctx context.Context, cmd Command) CommandResult {
	var filters services.IssueFilters
	if len(cmd.Data) > 0 {
		var err error
		if filters, err = decode[services.IssueFilters](cmd.Data); err != nil {
			return errorResult(cmd, err)
		}
	}
	var issues []services.Issue
	err := d.caller.Call(ctx, "query issues", func(ctx context.Context) error {
		var callErr error
		issues, callErr = d.services.Issues.Query(ctx, filters)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	return successResult(cmd, map[string]any{"issues": issues, "count": len(issues)})
}

func (d *Dispatcher) createLabel(ctx context.Context, cmd Command) CommandResult {
	params, err := decode[services.CreateLabel](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := validateCreateLabel(params); err != nil {
		return errorResult(cmd, err)
	}
	var label services.Label
	err = d.caller.Call(ctx, "create label", func(ctx context.Context) error {
		var callErr error
		label, callErr = d.services.Labels.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicLabels, "label_created", label.ID, label)
	return successResult(cmd, label)
}

func (d *Dispatcher) updateLabel(ctx context.Context, cmd Command) CommandResult {
	payload, err := decode[updatePayload[services.UpdateLabel]](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := requireID(payload.ID); err != nil {
		return errorResult(cmd, err)
	}
	var label services.Label
	err = d.caller.Call(ctx, "update label", func(ctx context.Context) error {
		var callErr error
		label, callErr = d.services.Labels.Update(ctx, payload.ID, payload.Fields)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicLabels, "label_updated", label.ID, label)
	return successResult(cmd, label)
}

func (d *Dispatcher) deleteLabel(ctx context.Context, cmd Command) CommandResult {
	payload, err := decode[idPayload](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := requireID(payload.ID); err != nil {
		return errorResult(cmd, err)
	}
	err = d.caller.Call(ctx, "delete label", func(ctx context.Context) error {
		return d.services.Labels.Delete(ctx, payload.ID)
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicLabels, "label_deleted", payload.ID, nil)
	return successResult(cmd, map[string]any{"id": payload.ID})
}

func (d *Dispatcher) queryLabels(ctx context.Context, cmd Command) CommandResult {
	var filters services.LabelFilters
	if len(cmd.Data) > 0 {
		var err error
		if filters, err = decode[services.LabelFilters](cmd.Data); err != nil {
			return errorResult(cmd, err)
		}
	}
	var labels []services.Label
	err := d.caller.Call(ctx, "query labels", func(ctx context.Context) error {
		var callErr error
		labels, callErr = d.services.Labels.Query(ctx, filters)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	return successResult(cmd, map[string]any{"labels": labels, "count": len(labels)})
}

func (d *Dispatcher) createTeam(ctx context.Context, cmd Command) CommandResult {
	params, err := decode[services.CreateTeam](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := validateCreateTeam(params); err != nil {
		return errorResult(cmd, err)
	}
	var team services.Team
	err = d.caller.Call(ctx, "create team", func(ctx context.Context) error {
		var callErr error
		team, callErr = d.services.Teams.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicTeams, "team_created", team.ID, team)
	return successResult(cmd, team)
}

func (d *Dispatcher) updateTeam(ctx context.Context, cmd Command) CommandResult {
	payload, err := decode[updatePayload[services.UpdateTeam]](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := requireID(payload.ID); err != nil {
		return errorResult(cmd, err)
	}
	var team services.Team
	err = d.caller.Call(ctx, "update team", func(ctx context.Context) error {
		var callErr error
		team, callErr = d.services.Teams.Update(ctx, payload.ID, payload.Fields)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicTeams, "team_updated", team.ID, team)
	return successResult(cmd, team)
}

func (d *Dispatcher) deleteTeam(ctx context.Context, cmd Command) CommandResult {
	payload, err := decode[idPayload](cmd.Data)
	if err != nil {
		return errorResult(cmd, err)
	}
	if err := requireID(payload.ID); err != nil {
		return errorResult(cmd, err)
	}
	err = d.caller.Call(ctx, "delete team", func(ctx context.Context) error {
		return d.services.Teams.Delete(ctx, payload.ID)
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	d.publish(TopicTeams, "team_deleted", payload.ID, nil)
	return successResult(cmd, map[string]any{"id": payload.ID})
}

func (d *Dispatcher) queryTeams(ctx context.Context, cmd Command) CommandResult {
	var filters services.TeamFilters
	if len(cmd.Data) > 0 {
		var err error
		if filters, err = decode[services.TeamFilters](cmd.Data); err != nil {
			return errorResult(cmd, err)
		}
	}
	var teams []services.Team
	err := d.caller.Call(ctx, "query teams", func(ctx context.Context) error {
		var callErr error
		teams, callErr = d.services.Teams.Query(ctx, filters)
		return callErr
	})
	if err != nil {
		return errorResult(cmd, err)
	}
	return successResult(cmd, map[string]any{"teams": teams, "count": len(teams)})
}
