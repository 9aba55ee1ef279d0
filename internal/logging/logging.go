// Package logging provides structured, standards-compliant logging for the
// orchestration core.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	taskID    string
}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{output: l.output, minLevel: l.minLevel, component: component, taskID: l.taskID}
}

// WithTaskID returns a new logger scoped to a task id.
func (l *Logger) WithTaskID(taskID string) *Logger {
	return &Logger{output: l.output, minLevel: l.minLevel, component: l.component, taskID: taskID}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) { l.minLevel = level }

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) { l.output = w }

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) { l.log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...map[string]interface{})  { l.log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...map[string]interface{})  { l.log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...map[string]interface{}) { l.log(LevelError, msg, fields...) }

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := map[string]interface{}{}
	if l.taskID != "" {
		merged["task_id"] = l.taskID
	}
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Forensic helpers for the orchestration core ---

// RouteDecided logs the Router's classification of a task.
func (l *Logger) RouteDecided(taskID, primary string, secondaries []string, complexity string, confidence float64) {
	l.Info("route_decided", map[string]interface{}{
		"task_id":     taskID,
		"primary":     primary,
		"secondaries": strings.Join(secondaries, ","),
		"complexity":  complexity,
		"confidence":  fmt.Sprintf("%.2f", confidence),
	})
}

// AgentRunStart logs the start of an agent run.
func (l *Logger) AgentRunStart(taskID, agent string) {
	l.Info("agent_run_start", map[string]interface{}{"task_id": taskID, "agent": agent})
}

// AgentRunEnd logs the terminal status of an agent run.
func (l *Logger) AgentRunEnd(taskID, agent, status string, duration time.Duration) {
	l.Info("agent_run_end", map[string]interface{}{
		"task_id": taskID, "agent": agent, "status": status, "duration": duration.String(),
	})
}

// ToolDispatch logs a tool invocation decision and outcome.
func (l *Logger) ToolDispatch(taskID, tool, decision string) {
	l.Info("tool_dispatch", map[string]interface{}{"task_id": taskID, "tool": tool, "decision": decision})
}

// ToolResult logs a tool call's outcome (never the raw args/content — those are sanitized upstream).
func (l *Logger) ToolResult(taskID, tool string, duration time.Duration, err error) {
	fields := map[string]interface{}{"task_id": taskID, "tool": tool, "duration": duration.String()}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("tool_result", fields)
		return
	}
	l.Debug("tool_result", fields)
}

// GovernanceDecision logs a Governance verdict for an invocation.
func (l *Logger) GovernanceDecision(taskID, tool, risk, decision, reason string) {
	l.Info("governance_decision", map[string]interface{}{
		"task_id": taskID, "tool": tool, "risk": risk, "decision": decision, "reason": reason,
	})
}

// ApprovalCreated logs a new pending approval.
func (l *Logger) ApprovalCreated(approvalID, taskID, tool, risk string) {
	l.Info("approval_created", map[string]interface{}{
		"approval_id": approvalID, "task_id": taskID, "tool": tool, "risk": risk,
	})
}

// ApprovalDecided logs an operator verdict on an approval.
func (l *Logger) ApprovalDecided(approvalID, verdict, operatorNote string) {
	l.Info("approval_decided", map[string]interface{}{
		"approval_id": approvalID, "verdict": verdict, "note": operatorNote,
	})
}

// BudgetCeiling logs a BudgetState ceiling being reached.
func (l *Logger) BudgetCeiling(taskID, ceiling string) {
	l.Warn("budget_ceiling", map[string]interface{}{"task_id": taskID, "ceiling": ceiling})
}

// LoopDetected logs a repeated ErrorSignature terminating a run.
func (l *Logger) LoopDetected(taskID, signature string, count int) {
	l.Warn("loop_detected", map[string]interface{}{"task_id": taskID, "signature": signature, "count": count})
}

// EmergencyTriggered logs an emergency stop activation.
func (l *Logger) EmergencyTriggered(reason string) {
	l.Error("emergency_triggered", map[string]interface{}{"reason": reason})
}

// Redaction logs that the sanitizer found and replaced sensitive content (never the content itself).
func (l *Logger) Redaction(taskID string, count int) {
	if count == 0 {
		return
	}
	l.Warn("output_redacted", map[string]interface{}{"task_id": taskID, "count": count})
}

// FactRecorded logs a Fact Ledger write.
func (l *Logger) FactRecorded(kind, actionType string) {
	l.Debug("fact_recorded", map[string]interface{}{"kind": kind, "action_type": actionType})
}
