// Package main is the entry point for the orchestration-core CLI, wiring
// every internal package into the command surface: execute,
// approve {list,show,approve,reject}, and stop {activate,status,reset}.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
)

// CLI is the top-level kong command tree.
type CLI struct {
	Execute ExecuteCmd `cmd:"" help:"Execute a task through the Orchestrator."`
	Approve ApproveCmd `cmd:"" help:"Inspect and decide pending approvals."`
	Stop    StopCmd    `cmd:"" help:"Control the emergency stop switch."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// ExecuteCmd runs one task end to end, or resumes one that paused awaiting
// an operator's decision. Task and Resume are mutually exclusive; a bare
// "agent execute <task>" starts a new task, while "agent execute --resume
// <approval-id>" continues the task the named approval gates.
type ExecuteCmd struct {
	Task        string `arg:"" optional:"" help:"Task text to route and execute."`
	Resume      string `help:"Resume the task paused on this approval id, instead of starting a new one."`
	Environment string `help:"Execution environment (dev|staging|local|production)." default:"production"`
	DryRun      bool   `help:"Deny every approval-requiring call instead of gating it, and persist no Approval records."`
	JSON        bool   `help:"Print the TaskResult as JSON instead of a formatted summary."`
}

// ApproveCmd groups the Approval Store's operator-facing subcommands.
type ApproveCmd struct {
	List    ApproveListCmd    `cmd:"" help:"List pending approvals."`
	Show    ApproveShowCmd    `cmd:"" help:"Show one approval in detail."`
	Approve ApproveApproveCmd `cmd:"" help:"Approve a pending request."`
	Reject  ApproveRejectCmd  `cmd:"" help:"Reject a pending request."`
}

// ApproveListCmd lists approvals, optionally filtered by verdict.
type ApproveListCmd struct {
	Status string `help:"Filter by verdict: pending|approved|rejected. Empty shows all." default:"pending"`
	NoTUI  bool   `help:"Force plain stdout output even on a terminal."`
}

// ApproveShowCmd shows one approval's full record, including its formatted plan.
type ApproveShowCmd struct {
	ID    string `arg:"" help:"Approval id."`
	NoTUI bool   `help:"Force plain stdout output even on a terminal."`
}

// ApproveApproveCmd approves a pending request.
type ApproveApproveCmd struct {
	ID   string `arg:"" help:"Approval id."`
	Note string `help:"Optional note recorded alongside the verdict."`
}

// ApproveRejectCmd rejects a pending request. Unlike approve's optional
// --note, a reject must name why: the tool call gets reported back to the
// paused run as "denied: <reason>", so an empty reason would surface as no
// explanation at all.
type ApproveRejectCmd struct {
	ID     string `arg:"" help:"Approval id."`
	Reason string `arg:"" help:"Reason for the rejection, recorded alongside the verdict and reported to the paused run."`
}

// StopCmd groups the Emergency Stop switch's operator-facing subcommands.
type StopCmd struct {
	Activate StopActivateCmd `cmd:"" help:"Engage the emergency stop."`
	Status   StopStatusCmd   `cmd:"" help:"Show emergency stop status."`
	Reset    StopResetCmd    `cmd:"" help:"Clear the emergency stop."`
}

// StopActivateCmd engages the emergency stop.
type StopActivateCmd struct {
	Reason string `arg:"" optional:"" help:"Reason recorded alongside the stop."`
}

// StopStatusCmd reports whether a stop is active.
type StopStatusCmd struct{}

// StopResetCmd clears the emergency stop.
type StopResetCmd struct{}

// VersionCmd prints build metadata.
type VersionCmd struct{}

func (v *VersionCmd) Run(app *App) error {
	fmt.Fprintf(app.Stdout, "agent version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}

func kongVars() kong.Vars {
	return kong.Vars{"version": version}
}
