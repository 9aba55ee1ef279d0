// Package agent implements the Agent Runtime: a cooperative
// Reasoning/ToolDispatch/Final state machine shared by every pluggable
// agent kind.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/youcefjd/orchestration-core/internal/approval"
	"github.com/youcefjd/orchestration-core/internal/auth"
	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
	"github.com/youcefjd/orchestration-core/internal/cost"
	"github.com/youcefjd/orchestration-core/internal/estop"
	"github.com/youcefjd/orchestration-core/internal/factledger"
	"github.com/youcefjd/orchestration-core/internal/governance"
	"github.com/youcefjd/orchestration-core/internal/llm"
	"github.com/youcefjd/orchestration-core/internal/logging"
	"github.com/youcefjd/orchestration-core/internal/sanitize"
	"github.com/youcefjd/orchestration-core/internal/tools"
)

// Status is the terminal or suspended disposition of one run.
type Status string

const (
	StatusSucceeded       Status = "succeeded"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusFailed          Status = "failed"
	StatusBudgetExhausted Status = "budget_exhausted"
	StatusStopped         Status = "stopped"
)

// FailureReason tags why a run failed, for Orchestrator-level classification.
type FailureReason string

const (
	ReasonIterationCap    FailureReason = "iteration_cap"
	ReasonRepeatedError   FailureReason = "repeated_error"
	ReasonTimeout         FailureReason = "timeout"
	ReasonToolError       FailureReason = "tool_error"
	ReasonValidationError FailureReason = "validation_error"
)

// Result is what a run resolves to.
type Result struct {
	Status           Status
	Summary          string
	FailureReason    FailureReason
	PendingApprovalID string
	Iterations       int
}

// Budgets bounds one run.
type Budgets struct {
	IterationCap           int
	WallClockCap           time.Duration
	LLMTimeout             time.Duration
	ToolTimeout            time.Duration
	LoopDetectionThreshold int
}

// DefaultBudgets returns the runtime's stated defaults.
func DefaultBudgets() Budgets {
	return Budgets{
		IterationCap:           5,
		WallClockCap:           10 * time.Minute,
		LLMTimeout:             60 * time.Second,
		ToolTimeout:            5 * time.Minute,
		LoopDetectionThreshold: 3,
	}
}

// Kind differs only in system prompt and preferred tool subset; the runtime
// itself is shared across every agent kind.
type Kind struct {
	Name           string
	SystemPrompt   string
	PreferredTools []string
}

// Runtime executes runs for any Kind against shared infrastructure.
type Runtime struct {
	Provider      llm.Provider
	Tools         *tools.Registry
	Governance    *governance.Framework
	Cost          *cost.Tracker
	ContextPolicy agentcontext.Policy
	Sanitizer     *sanitize.Sanitizer
	EmergencyStop *estop.Switch
	Auth          *auth.Broker
	Logger        *logging.Logger
	Budgets       Budgets
	Tracer        trace.Tracer
	// FactLedger backs ValidateBeforeExecution's pre-execution advisory
	// check: a tool call with a history of failing the same way still
	// dispatches, but the LLM sees the warning alongside the eventual tool
	// result. Left nil, dispatch skips the check entirely.
	FactLedger *factledger.Ledger
	// DryRun denies every approval-requiring call instead of gating it,
	// without persisting an Approval, so a dry run can never mutate external
	// state or leave an approval record behind it. Green/auto-approved calls
	// still execute — a dry run only changes what happens to the calls that
	// would otherwise pause for an operator.
	DryRun bool
}

// NewRuntime wires a Runtime from its required components, falling back to
// package defaults for anything left nil.
func NewRuntime(provider llm.Provider, toolRegistry *tools.Registry, gov *governance.Framework, costTracker *cost.Tracker) *Runtime {
	return &Runtime{
		Provider:      provider,
		Tools:         toolRegistry,
		Governance:    gov,
		Cost:          costTracker,
		ContextPolicy: agentcontext.DefaultPolicy(),
		Sanitizer:     sanitize.New(),
		Logger:        logging.New().WithComponent("agent"),
		Budgets:       DefaultBudgets(),
		Tracer:        otel.Tracer("orchestration-core/agent"),
	}
}

type runState string

const (
	stateReasoning    runState = "reasoning"
	stateToolDispatch runState = "tool_dispatch"
	stateFinal        runState = "final"
)

// run holds the task-local state a single Run call owns: its Conversation
// and loop-detection bookkeeping. Never shared across Tasks.
type run struct {
	taskID         string
	environment    string
	conversation   []agentcontext.Message
	errorSignatures map[string]int
	attemptedFixes map[string]string
	iterations     int
}

func signature(tool string, args map[string]interface{}, errText string) string {
	b, _ := json.Marshal(args)
	h := sha256.Sum256([]byte(tool + "|" + string(b) + "|" + errText))
	return hex.EncodeToString(h[:])
}

func argsDigest(tool string, args map[string]interface{}) string {
	b, _ := json.Marshal(args)
	h := sha256.Sum256([]byte(tool + "|" + string(b)))
	return hex.EncodeToString(h[:8])
}

// Run drives the Reasoning/ToolDispatch/Final loop until a terminal status,
// a budget ceiling, or an emergency stop preempts it.
func (rt *Runtime) Run(ctx context.Context, kind Kind, taskID, environment, taskText string) Result {
	ctx, span := rt.Tracer.Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(attribute.String("agent.kind", kind.Name), attribute.String("agent.task_id", taskID))

	deadline := time.Now().Add(rt.Budgets.WallClockCap)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	r := &run{
		taskID:      taskID,
		environment: environment,
		conversation: []agentcontext.Message{
			{Role: agentcontext.RoleSystem, Content: kind.SystemPrompt + "\n\n" + llm.ToolProtocolInstructions},
			{Role: agentcontext.RoleUser, Content: taskText},
		},
		errorSignatures: make(map[string]int),
		attemptedFixes:  make(map[string]string),
	}

	return rt.loop(ctx, r, stateReasoning)
}

// Resume continues a run that paused at ToolDispatch awaiting an operator's
// decision, picking up from the Conversation and Iterations count recorded
// on the decided Approval rather than re-running the task from its first
// message. A rejected Approval is injected as a denied tool result and the
// run falls back to Reasoning; an approved one executes the now-cleared
// call directly, with its originally-proposed Args, and only then returns
// to Reasoning. a.Verdict must not be approval.VerdictPending.
func (rt *Runtime) Resume(ctx context.Context, a *approval.Approval) Result {
	ctx, span := rt.Tracer.Start(ctx, "agent.resume")
	defer span.End()
	span.SetAttributes(attribute.String("agent.task_id", a.TaskID), attribute.String("tool.name", a.Tool))

	deadline := time.Now().Add(rt.Budgets.WallClockCap)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	r := &run{
		taskID:          a.TaskID,
		environment:     a.Environment,
		conversation:    append([]agentcontext.Message{}, a.Conversation...),
		errorSignatures: make(map[string]int),
		attemptedFixes:  make(map[string]string),
		iterations:      a.Iterations,
	}

	if a.Verdict == approval.VerdictRejected {
		note := a.Reason
		if a.Note != "" {
			note = a.Note
		}
		r.conversation = append(r.conversation, agentcontext.Message{
			Role: agentcontext.RoleTool, ToolName: a.Tool, ToolResultOK: false,
			Content: "denied: operator rejected this call — " + note,
		})
		return rt.loop(ctx, r, stateReasoning)
	}

	tool, ok := rt.Tools.Lookup(a.Tool)
	if !ok {
		r.conversation = append(r.conversation, agentcontext.Message{
			Role: agentcontext.RoleTool, ToolName: a.Tool, ToolResultOK: false,
			Content: fmt.Sprintf("unknown tool %q", a.Tool),
		})
		return rt.loop(ctx, r, stateReasoning)
	}

	if identity := tool.AuthIdentity(); identity != "" && rt.Auth != nil {
		authResult := rt.Auth.Require(ctx, identity)
		if authResult.Status == auth.StatusNeedAction {
			msg := "auth required for " + identity + ": " + authResult.Prompt
			if authResult.Hint != "" {
				msg += " (" + authResult.Hint + ")"
			}
			r.conversation = append(r.conversation, agentcontext.Message{
				Role: agentcontext.RoleTool, ToolName: a.Tool, ToolResultOK: false, Content: msg,
			})
			return rt.loop(ctx, r, stateReasoning)
		}
	}

	if res := rt.executeApprovedTool(ctx, r, tool, a.Tool, a.Args); res != nil {
		return *res
	}
	return rt.loop(ctx, r, stateReasoning)
}

// loop drives the Reasoning/ToolDispatch/Final state machine for an
// already-initialized run from the given starting state until a terminal
// status, a budget ceiling, or an emergency stop preempts it. Shared by Run
// (a freshly-seeded run) and Resume (a run reconstructed from a decided
// Approval's conversation snapshot).
func (rt *Runtime) loop(ctx context.Context, r *run, state runState) Result {
	var lastAssistantMsg string

	for {
		if rt.EmergencyStop != nil && rt.EmergencyStop.IsSet() {
			return Result{Status: StatusStopped, Summary: "emergency stop engaged: " + rt.EmergencyStop.Reason()}
		}
		if rt.Cost != nil {
			if _, err := rt.Cost.EnsureWithinLimits(r.taskID); err != nil {
				return Result{Status: StatusBudgetExhausted, Summary: err.Error()}
			}
		}
		if ctx.Err() != nil {
			return Result{Status: StatusFailed, FailureReason: ReasonTimeout, Summary: "run exceeded wall-clock cap"}
		}
		if r.iterations >= rt.Budgets.IterationCap {
			return Result{Status: StatusFailed, FailureReason: ReasonIterationCap, Summary: "reached iteration cap", Iterations: r.iterations}
		}

		switch state {
		case stateReasoning:
			next, msg, err := rt.reason(ctx, r)
			if err != nil {
				return Result{Status: StatusFailed, FailureReason: ReasonTimeout, Summary: err.Error(), Iterations: r.iterations}
			}
			lastAssistantMsg = msg
			state = next

		case stateToolDispatch:
			call, _ := llm.ParseToolCall(lastAssistantMsg)
			next, res := rt.dispatch(ctx, r, call)
			if res != nil {
				return *res
			}
			state = next

		case stateFinal:
			return Result{Status: StatusSucceeded, Summary: lastAssistantMsg, Iterations: r.iterations}
		}
	}
}

// reason runs one Reasoning phase: prune, invoke, record cost, append, and
// decide whether the reply requests a tool.
func (rt *Runtime) reason(ctx context.Context, r *run) (runState, string, error) {
	ctx, span := rt.Tracer.Start(ctx, "agent.reasoning")
	defer span.End()

	r.conversation = agentcontext.Prune(r.conversation, rt.ContextPolicy)

	llmCtx, cancel := context.WithTimeout(ctx, rt.Budgets.LLMTimeout)
	defer cancel()

	text, err := rt.Provider.Invoke(llmCtx, r.conversation, nil)
	if err != nil {
		span.RecordError(err)
		return stateFinal, "", fmt.Errorf("llm invocation failed: %w", err)
	}

	if rt.Cost != nil {
		inTok, outTok := estimateConversationTokens(rt.Provider, r.conversation), rt.Provider.EstimateTokens(text)
		inRate, outRate := rt.Provider.Rates()
		rt.Cost.Record(r.taskID, inTok, outTok, cost.ProviderRates{CostPer1KInput: inRate, CostPer1KOutput: outRate})
	}

	r.conversation = append(r.conversation, agentcontext.Message{Role: agentcontext.RoleAssistant, Content: text})

	if _, ok := llm.ParseToolCall(text); ok {
		return stateToolDispatch, text, nil
	}
	return stateFinal, text, nil
}

func estimateConversationTokens(p llm.Provider, conv []agentcontext.Message) int {
	total := 0
	for _, m := range conv {
		total += p.EstimateTokens(m.Content)
	}
	return total
}

// dispatch runs one ToolDispatch phase: look up the tool, validate its args
// against its declared schema, decide via Governance, check auth readiness,
// execute or defer, sanitize, append, and update loop-detection state. A
// call that fails schema validation never reaches Governance at all — an
// unvalidated call carries no risk decision worth recording.
func (rt *Runtime) dispatch(ctx context.Context, r *run, call llm.ToolCall) (runState, *Result) {
	ctx, span := rt.Tracer.Start(ctx, "agent.tool_dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Tool))

	r.iterations++

	tool, ok := rt.Tools.Lookup(call.Tool)
	if !ok {
		r.conversation = append(r.conversation, agentcontext.Message{
			Role: agentcontext.RoleTool, ToolName: call.Tool, ToolResultOK: false,
			Content: fmt.Sprintf("unknown tool %q", call.Tool),
		})
		return stateReasoning, nil
	}

	if err := tools.ValidateArgs(tool, call.Args); err != nil {
		return "", &Result{
			Status: StatusFailed, FailureReason: ReasonValidationError,
			Summary: fmt.Sprintf("tool %q called with invalid arguments: %s", call.Tool, err), Iterations: r.iterations,
		}
	}

	if rt.FactLedger != nil {
		if warnings := rt.FactLedger.ValidateBeforeExecution(call.Tool, call.Args); len(warnings) > 0 {
			rt.Logger.Info("fact ledger warning before execution", map[string]interface{}{
				"task_id": r.taskID, "tool": call.Tool, "warnings": warnings,
			})
			r.conversation = append(r.conversation, agentcontext.Message{
				Role: agentcontext.RoleTool, ToolName: call.Tool, ToolResultOK: true,
				Content: "advisory (does not block this call): " + strings.Join(warnings, "; "),
			})
		}
	}

	digest := argsDigest(call.Tool, call.Args)
	if prevErr, seen := r.attemptedFixes[digest]; seen {
		r.conversation = append(r.conversation, agentcontext.Message{
			Role: agentcontext.RoleTool, ToolName: call.Tool, ToolResultOK: false,
			Content: fmt.Sprintf("refusing to retry identical call that previously failed: %s", prevErr),
		})
		return stateReasoning, nil
	}

	decision := rt.Governance.Decide(governance.InvocationRequest{
		TaskID: r.taskID, Tool: tool, Args: call.Args, Environment: r.environment,
		Conversation: r.conversation, Iterations: r.iterations, DryRun: rt.DryRun,
	})
	rt.Logger.GovernanceDecision(r.taskID, call.Tool, string(tool.Risk()), string(decision.Kind), decision.Reason)

	switch decision.Kind {
	case governance.DecisionDeny:
		r.conversation = append(r.conversation, agentcontext.Message{
			Role: agentcontext.RoleTool, ToolName: call.Tool, ToolResultOK: false,
			Content: "denied: " + decision.Reason,
		})
		return stateReasoning, nil

	case governance.DecisionRequireApproval:
		return "", &Result{Status: StatusAwaitingApproval, PendingApprovalID: decision.ApprovalID, Iterations: r.iterations}

	case governance.DecisionExecute, governance.DecisionAutoApprove:
		if identity := tool.AuthIdentity(); identity != "" && rt.Auth != nil {
			authResult := rt.Auth.Require(ctx, identity)
			if authResult.Status == auth.StatusNeedAction {
				msg := "auth required for " + identity + ": " + authResult.Prompt
				if authResult.Hint != "" {
					msg += " (" + authResult.Hint + ")"
				}
				r.conversation = append(r.conversation, agentcontext.Message{
					Role: agentcontext.RoleTool, ToolName: call.Tool, ToolResultOK: false, Content: msg,
				})
				return stateReasoning, nil
			}
		}

		if res := rt.executeApprovedTool(ctx, r, tool, call.Tool, call.Args); res != nil {
			return "", res
		}
		return stateReasoning, nil

	default:
		return "", &Result{Status: StatusFailed, FailureReason: ReasonToolError, Summary: "governance returned an unknown decision"}
	}
}

// executeApprovedTool runs a tool call that has already cleared Governance
// (or an operator's explicit approval on resume), appending a success or
// failure message and updating loop-detection state. It returns a non-nil
// Result only when the repeated-error threshold is exceeded, ending the run.
func (rt *Runtime) executeApprovedTool(ctx context.Context, r *run, tool tools.Tool, toolName string, args map[string]interface{}) *Result {
	toolCtx, cancel := context.WithTimeout(ctx, rt.Budgets.ToolTimeout)
	defer cancel()

	out, err := tool.Execute(toolCtx, args)
	if err != nil {
		errText := err.Error()
		digest := argsDigest(toolName, args)
		r.attemptedFixes[digest] = errText
		sig := signature(toolName, args, errText)
		r.errorSignatures[sig]++
		if r.errorSignatures[sig] >= rt.Budgets.LoopDetectionThreshold {
			rt.Logger.LoopDetected(r.taskID, sig, r.errorSignatures[sig])
			return &Result{Status: StatusFailed, FailureReason: ReasonRepeatedError, Summary: "repeated error signature: " + errText, Iterations: r.iterations}
		}
		sanitized, _ := rt.Sanitizer.Sanitize(errText)
		r.conversation = append(r.conversation, agentcontext.Message{
			Role: agentcontext.RoleTool, ToolName: toolName, ToolResultOK: false, Content: sanitized,
		})
		return nil
	}

	raw := fmt.Sprint(out)
	sanitized, n := rt.Sanitizer.Sanitize(raw)
	if n > 0 {
		rt.Logger.Redaction(r.taskID, n)
	}
	r.conversation = append(r.conversation, agentcontext.Message{
		Role: agentcontext.RoleTool, ToolName: toolName, ToolResultOK: true, Content: sanitized,
	})
	return nil
}
