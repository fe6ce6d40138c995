package realtime

import (
	"encoding/json"
	"time"
)

// CommandKind enumerates the closed set of commands a client may send. The
// dispatcher switches exhaustively over this set; anything else is rejected
// before any side effect.
type CommandKind string

const (
	CmdCreateProject CommandKind = "create_project"
	CmdUpdateProject CommandKind = "update_project"
	CmdDeleteProject CommandKind = "delete_project"
	CmdQueryProjects CommandKind = "query_projects"

	CmdCreateIssue CommandKind = "create_issue"
	CmdUpdateIssue CommandKind = "update_issue"
	CmdDeleteIssue CommandKind = "delete_issue"
	CmdQueryIssues CommandKind = "query_issues"

	CmdCreateLabel CommandKind = "create_label"
	CmdUpdateLabel CommandKind = "update_label"
	CmdDeleteLabel CommandKind = "delete_label"
	CmdQueryLabels CommandKind = "query_labels"

	CmdCreateTeam CommandKind = "create_team"
	CmdUpdateTeam CommandKind = "update_team"
	CmdDeleteTeam CommandKind = "delete_team"
	CmdQueryTeams CommandKind = "query_teams"

	CmdSubscribe         CommandKind = "subscribe"
	CmdUnsubscribe       CommandKind = "unsubscribe"
	CmdPing              CommandKind = "ping"
	CmdGetConnectionInfo CommandKind = "get_connection_info"

	CmdBatch CommandKind = "batch"
)

// Valid reports whether the kind belongs to the closed command set
func (k CommandKind) Valid() bool {
	switch k {
	case CmdCreateProject, CmdUpdateProject, CmdDeleteProject, CmdQueryProjects,
		CmdCreateIssue, CmdUpdateIssue, CmdDeleteIssue, CmdQueryIssues,
		CmdCreateLabel, CmdUpdateLabel, CmdDeleteLabel, CmdQueryLabels,
		CmdCreateTeam, CmdUpdateTeam, CmdDeleteTeam, CmdQueryTeams,
		CmdSubscribe, CmdUnsubscribe, CmdPing, CmdGetConnectionInfo,
		CmdBatch:
		return true
	}
	return false
}

// Mutating reports whether the command changes business state. Only mutating
// commands publish business events after success.
func (k CommandKind) Mutating() bool {
	switch k {
	case CmdCreateProject, CmdUpdateProject, CmdDeleteProject,
		CmdCreateIssue, CmdUpdateIssue, CmdDeleteIssue,
		CmdCreateLabel, CmdUpdateLabel, CmdDeleteLabel,
		CmdCreateTeam, CmdUpdateTeam, CmdDeleteTeam:
		return true
	}
	return false
}

// Command is the inbound wire frame. Secured traffic carries the same frame
// inside a signed Envelope payload.
type Command struct {
	Type           CommandKind     `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// CommandError describes a command failure in the response frame
type CommandError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

// CommandResult is the outbound response frame. Exactly one is produced per
// dispatched command, success or failure.
type CommandResult struct {
	CommandType    CommandKind    `json:"command_type"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	Success        bool           `json:"success"`
	Data           any            `json:"data,omitempty"`
	Error          *CommandError  `json:"error,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// BatchMode selects batch failure semantics
type BatchMode string

const (
	// BatchAllOrNothing validates every item up front and applies nothing if
	// any item is structurally invalid
	BatchAllOrNothing BatchMode = "all_or_nothing"
	// BatchBestEffort executes each item independently
	BatchBestEffort BatchMode = "best_effort"
)

// BatchRequest is the data payload of a batch command
type BatchRequest struct {
	Mode     BatchMode `json:"mode"`
	Commands []Command `json:"commands"`
}

func successResult(cmd Command, data any) CommandResult {
	return CommandResult{
		CommandType:    cmd.Type,
		IdempotencyKey: cmd.IdempotencyKey,
		RequestID:      cmd.RequestID,
		Success:        true,
		Data:           data,
		Timestamp:      time.Now().UTC(),
	}
}

func failureResult(cmd Command, code, message string) CommandResult {
	return CommandResult{
		CommandType:    cmd.Type,
		IdempotencyKey: cmd.IdempotencyKey,
		RequestID:      cmd.RequestID,
		Success:        false,
		Error:          &CommandError{Code: code, Message: message},
		Timestamp:      time.Now().UTC(),
	}
}
