// Package orchestrator implements the Orchestrator component: the single
// top-level Execute(task_text, environment) entry point that wires Router,
// Governance, Agent Runtime, and Cost Tracker together.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/youcefjd/orchestration-core/internal/agent"
	"github.com/youcefjd/orchestration-core/internal/approval"
	"github.com/youcefjd/orchestration-core/internal/estop"
	"github.com/youcefjd/orchestration-core/internal/factledger"
	"github.com/youcefjd/orchestration-core/internal/governance"
	"github.com/youcefjd/orchestration-core/internal/logging"
	"github.com/youcefjd/orchestration-core/internal/router"
)

// Status is the terminal disposition of one Execute call.
type Status string

const (
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusBudgetExhausted Status = "budget_exhausted"
	StatusStopped         Status = "stopped"
	StatusNeedsInput      Status = "needs_input"
	StatusAwaitingApproval Status = "awaiting_approval"
)

// TaskResult is what Execute resolves to.
type TaskResult struct {
	TaskID            string
	Status            Status
	Summary           string
	ClarificationAsk  string
	PendingApprovalID string
}

// AgentLookup resolves an agent name to a runnable Kind, returning ok=false
// when unknown so the Orchestrator can fall back to the general agent.
type AgentLookup func(name string) (agent.Kind, bool)

// Orchestrator wires the shared components into the single Execute
// operation.
type Orchestrator struct {
	Router       *router.Router
	Agents       AgentLookup
	Runtime      *agent.Runtime
	EmergencyStop *estop.Switch
	FactLedger   *factledger.Ledger
	Logger       *logging.Logger
	GeneralAgent string
	AgentDescriptors []router.AgentDescriptor
	Tracer       trace.Tracer
	// Approvals backs Resume: looking up a decided Approval by id and
	// handing it to the Agent Runtime to continue the paused run. Left nil,
	// Resume always fails closed. Set after New, same as EmergencyStop.
	Approvals *approval.Store
	// DryRun makes Execute deny every approval-requiring call instead of
	// gating it on an operator, and without persisting an Approval — so
	// running the same task text twice with DryRun set never mutates
	// external state and never leaves an approval record behind it. Set
	// after New, same as EmergencyStop; read fresh at the top of every
	// Execute call.
	DryRun bool
}

// New wires an Orchestrator from its required components.
func New(r *router.Router, agents AgentLookup, runtime *agent.Runtime, es *estop.Switch, ledger *factledger.Ledger, generalAgent string) *Orchestrator {
	return &Orchestrator{
		Router:        r,
		Agents:        agents,
		Runtime:       runtime,
		EmergencyStop: es,
		FactLedger:    ledger,
		Logger:        logging.New().WithComponent("orchestrator"),
		GeneralAgent:  generalAgent,
		Tracer:        otel.Tracer("orchestration-core/orchestrator"),
	}
}

// Plan previews a set of proposed actions as a ChangePlan, distinct from
// Execute (which Apply's the task for real): it does no routing, no
// governance decision, and no tool invocation — it only lets a caller
// render the risk-tier breakdown and Markdown summary of a set of actions
// before deciding whether to run the task that proposes them. Governance's
// own `requireApproval` builds the same kind of single-action ChangePlan
// for every call it actually gates; this method is for previewing a
// multi-action set ahead of time.
func (o *Orchestrator) Plan(taskText string, proposedActions []governance.PlannedAction) *governance.ChangePlan {
	return governance.NewChangePlan(taskText, proposedActions)
}

// Execute runs a task end to end. Any internal failure is caught and
// classified rather than propagated.
func (o *Orchestrator) Execute(ctx context.Context, taskText, environment string) TaskResult {
	ctx, span := o.Tracer.Start(ctx, "orchestrator.execute")
	defer span.End()

	if taskText == "" {
		return TaskResult{Status: StatusFailed, Summary: "failed(empty_task): task text is empty"}
	}

	if o.EmergencyStop != nil && o.EmergencyStop.IsSet() {
		return TaskResult{Status: StatusStopped, Summary: "emergency stop engaged: " + o.EmergencyStop.Reason()}
	}

	taskID := uuid.NewString()
	span.SetAttributes(attribute.String("task.id", taskID), attribute.String("task.environment", environment), attribute.Bool("task.dry_run", o.DryRun))
	o.Logger.Info("task started", map[string]interface{}{"task_id": taskID, "environment": environment, "dry_run": o.DryRun})

	if o.Runtime != nil {
		o.Runtime.DryRun = o.DryRun
	}

	decision := o.Router.Analyze(ctx, taskText, o.AgentDescriptors, nil)
	o.Logger.RouteDecided(taskID, decision.PrimaryAgent, decision.SecondaryAgents, string(decision.Complexity), decision.Confidence)

	if decision.ClarificationNeeded {
		return TaskResult{TaskID: taskID, Status: StatusNeedsInput, ClarificationAsk: decision.ClarificationPrompt}
	}

	kind, ok := o.lookupAgent(decision.PrimaryAgent)
	if !ok {
		kind, ok = o.lookupAgent(o.GeneralAgent)
		if !ok {
			return TaskResult{TaskID: taskID, Status: StatusFailed, Summary: "no_agent: no primary or general agent registered"}
		}
	}

	start := time.Now()
	o.Logger.AgentRunStart(taskID, kind.Name)
	res := o.Runtime.Run(ctx, kind, taskID, environment, taskText)
	o.Logger.AgentRunEnd(taskID, kind.Name, string(res.Status), time.Since(start))

	result := o.classify(taskID, res)

	if len(decision.SecondaryAgents) > 0 && result.Status == StatusSucceeded {
		result = o.runSecondaries(ctx, taskID, environment, decision.SecondaryAgents, result)
	}

	o.recordOutcome(taskID, decision, result)
	return result
}

// Resume continues a task that paused awaiting an operator's decision on
// approvalID. The Approval must already be decided — approved or rejected —
// or Resume fails closed rather than guessing at an undecided call.
func (o *Orchestrator) Resume(ctx context.Context, approvalID string) TaskResult {
	ctx, span := o.Tracer.Start(ctx, "orchestrator.resume")
	defer span.End()
	span.SetAttributes(attribute.String("approval.id", approvalID))

	if o.Approvals == nil {
		return TaskResult{Status: StatusFailed, Summary: "failed(no_approval_store): orchestrator has no approval store configured"}
	}

	a, ok := o.Approvals.Get(approvalID)
	if !ok {
		return TaskResult{Status: StatusFailed, Summary: fmt.Sprintf("failed(approval_not_found): %s", approvalID)}
	}
	if a.Verdict == approval.VerdictPending {
		return TaskResult{TaskID: a.TaskID, Status: StatusAwaitingApproval, PendingApprovalID: a.ID, Summary: "approval is still pending a decision"}
	}
	if o.EmergencyStop != nil && o.EmergencyStop.IsSet() {
		return TaskResult{TaskID: a.TaskID, Status: StatusStopped, Summary: "emergency stop engaged: " + o.EmergencyStop.Reason()}
	}

	o.Logger.Info("task resumed", map[string]interface{}{"task_id": a.TaskID, "approval_id": a.ID, "verdict": string(a.Verdict)})

	start := time.Now()
	res := o.Runtime.Resume(ctx, a)
	o.Logger.AgentRunEnd(a.TaskID, a.Tool, string(res.Status), time.Since(start))

	result := o.classify(a.TaskID, res)
	o.recordOutcome(a.TaskID, router.RouteDecision{PrimaryAgent: a.Tool}, result)
	return result
}

func (o *Orchestrator) lookupAgent(name string) (agent.Kind, bool) {
	if name == "" || o.Agents == nil {
		return agent.Kind{}, false
	}
	return o.Agents(name)
}

// classify maps an agent.Result's status/reason onto the Orchestrator's own
// TaskResult vocabulary: cost-limit exhaustion -> budget_exhausted,
// emergency stop -> stopped, everything else -> failed.
func (o *Orchestrator) classify(taskID string, res agent.Result) TaskResult {
	base := TaskResult{TaskID: taskID, Summary: res.Summary}
	switch res.Status {
	case agent.StatusSucceeded:
		base.Status = StatusSucceeded
	case agent.StatusAwaitingApproval:
		base.Status = StatusAwaitingApproval
		base.PendingApprovalID = res.PendingApprovalID
	case agent.StatusBudgetExhausted:
		base.Status = StatusBudgetExhausted
	case agent.StatusStopped:
		base.Status = StatusStopped
	default:
		base.Status = StatusFailed
		if res.Summary == "" {
			base.Summary = fmt.Sprintf("failed(%s)", res.FailureReason)
		}
	}
	return base
}

// runSecondaries invokes each secondary agent sequentially, each seeded
// with the primary's result as added context, and merges their summaries
// into the primary's.
func (o *Orchestrator) runSecondaries(ctx context.Context, taskID, environment string, secondaries []string, primary TaskResult) TaskResult {
	merged := primary.Summary
	for _, name := range secondaries {
		kind, ok := o.lookupAgent(name)
		if !ok {
			continue
		}
		seeded := fmt.Sprintf("Primary agent result:\n%s\n\nContinue with: %s", primary.Summary, name)
		res := o.Runtime.Run(ctx, kind, taskID, environment, seeded)
		if res.Status == agent.StatusSucceeded {
			merged += "\n\n" + res.Summary
		}
	}
	primary.Summary = merged
	return primary
}

// recordOutcome writes the final outcome to the Fact Ledger alongside the
// RouteDecision, for routing-feedback learning.
func (o *Orchestrator) recordOutcome(taskID string, decision router.RouteDecision, result TaskResult) {
	if o.FactLedger == nil {
		return
	}
	if result.Status == StatusSucceeded {
		o.FactLedger.RecordSuccess(decision.PrimaryAgent, "task_execution", result.Summary)
	} else if result.Status == StatusFailed {
		o.FactLedger.RecordFailure(decision.PrimaryAgent, "task_execution", signatureFor(result.Summary), result.Summary)
	}
}

func signatureFor(summary string) string {
	if len(summary) > 64 {
		return summary[:64]
	}
	return summary
}
