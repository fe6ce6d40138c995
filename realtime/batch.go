package realtime

import (
	"context"
	"fmt"
)

// ExecuteBatch runs a batch of commands under the requested failure mode.
//
// AllOrNothing validates every item structurally before anything executes;
// a single invalid item fails the whole batch with zero mutations, and every
// result carries that validation error. BestEffort dispatches each item
// independently, so one failure never blocks the rest.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, conn *Conn, req BatchRequest) []CommandResult {
	if len(req.Commands) == 0 {
		return []CommandResult{failureResult(Command{Type: CmdBatch}, CodeValidation, "batch contains no commands")}
	}
	if len(req.Commands) > d.maxBatch {
		return []CommandResult{failureResult(Command{Type: CmdBatch}, CodeBatchLimit,
			fmt.Sprintf("batch size %d exceeds limit %d", len(req.Commands), d.maxBatch))}
	}

	switch req.Mode {
	case BatchAllOrNothing:
		for _, cmd := range req.Commands {
			if err := d.validateOnly(cmd); err != nil {
				results := make([]CommandResult, len(req.Commands))
				for i, item := range req.Commands {
					results[i] = errorResult(item, err)
				}
				return results
			}
		}
		results := make([]CommandResult, len(req.Commands))
		for i, cmd := range req.Commands {
			results[i] = d.Dispatch(ctx, conn, cmd)
		}
		return results
	case BatchBestEffort:
		results := make([]CommandResult, len(req.Commands))
		for i, cmd := range req.Commands {
			results[i] = d.Dispatch(ctx, conn, cmd)
		}
		return results
	}
	return []CommandResult{failureResult(Command{Type: CmdBatch}, CodeValidation,
		fmt.Sprintf("unknown batch mode %q", req.Mode))}
}
