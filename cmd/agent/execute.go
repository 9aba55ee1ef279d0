package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/youcefjd/orchestration-core/internal/orchestrator"
)

// Run resolves the task through the Orchestrator and prints the resulting
// TaskResult, either as a formatted summary or as JSON for scripted callers.
// With Resume set, it continues the task paused on that approval instead of
// starting a new one.
func (e *ExecuteCmd) Run(app *App) error {
	ctx := context.Background()

	var result orchestrator.TaskResult
	switch {
	case e.Resume != "":
		result = app.Orchestrator.Resume(ctx, e.Resume)
	case e.Task != "":
		app.Orchestrator.DryRun = e.DryRun
		result = app.Orchestrator.Execute(ctx, e.Task, e.Environment)
	default:
		return fmt.Errorf("execute requires either a task argument or --resume <approval-id>")
	}

	if e.JSON {
		enc := json.NewEncoder(app.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(app.Stdout, "task:   %s\n", result.TaskID)
	fmt.Fprintf(app.Stdout, "status: %s\n", result.Status)
	if result.Summary != "" {
		fmt.Fprintf(app.Stdout, "\n%s\n", result.Summary)
	}
	if result.ClarificationAsk != "" {
		fmt.Fprintf(app.Stdout, "\nagent is asking: %s\n", result.ClarificationAsk)
	}
	if result.PendingApprovalID != "" {
		fmt.Fprintf(app.Stdout, "\nawaiting approval %s — run `agent approve show %s`, then `agent execute --resume %s` once decided\n", result.PendingApprovalID, result.PendingApprovalID, result.PendingApprovalID)
	}
	return nil
}
