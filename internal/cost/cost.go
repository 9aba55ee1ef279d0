// Package cost implements the Cost Tracker: per-task and rolling-hourly
// budget ceilings for LLM token/dollar spend.
package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// LimitKind identifies which ceiling was breached.
type LimitKind string

const (
	LimitCostPerTask   LimitKind = "cost_per_task"
	LimitTokensPerTask LimitKind = "tokens_per_task"
	LimitCostPerHour   LimitKind = "cost_per_hour"
)

// ErrCostLimit is the sentinel raised when ensure_within_limits fails.
type ErrCostLimit struct {
	Kind    LimitKind
	Current float64
	Limit   float64
}

func (e *ErrCostLimit) Error() string {
	return fmt.Sprintf("cost limit exceeded: %s (%.4f / %.4f)", e.Kind, e.Current, e.Limit)
}

// Limits mirrors the reference implementation's defaults exactly.
type Limits struct {
	MaxCostPerTask   float64
	MaxCostPerHour   float64
	MaxTokensPerTask int
	WarnAtPercent    float64
}

// DefaultLimits matches original_source/cost_tracker.py's CostLimit defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxCostPerTask:   0.50,
		MaxCostPerHour:   10.0,
		MaxTokensPerTask: 100000,
		WarnAtPercent:    0.8,
	}
}

// ProviderRates gives the per-1K-token price for a provider/model pair.
type ProviderRates struct {
	CostPer1KInput  float64
	CostPer1KOutput float64
}

type usageRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	TaskID       string    `json:"task_id"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
}

type taskUsage struct {
	tokens int
	cost   float64
}

// Tracker is the process-wide cost accounting store.
type Tracker struct {
	mu           sync.Mutex
	limits       Limits
	historyPath  string
	tasks        map[string]*taskUsage
	hourlyTokens map[string]int
	hourlyCost   map[string]float64
	history      []usageRecord
}

// New creates a Tracker. historyPath is where hourly aggregates persist
// (cost_history.json); per-task counters are memory-only.
func New(limits Limits, historyPath string) *Tracker {
	t := &Tracker{
		limits:       limits,
		historyPath:  historyPath,
		tasks:        make(map[string]*taskUsage),
		hourlyTokens: make(map[string]int),
		hourlyCost:   make(map[string]float64),
	}
	t.loadHistory()
	return t
}

func hourKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02-15")
}

// Record adds usage for a task and updates the rolling hourly aggregates.
func (t *Tracker) Record(taskID string, inputTokens, outputTokens int, rates ProviderRates) {
	cost := float64(inputTokens)/1000*rates.CostPer1KInput + float64(outputTokens)/1000*rates.CostPer1KOutput

	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.tasks[taskID]
	if !ok {
		u = &taskUsage{}
		t.tasks[taskID] = u
	}
	u.tokens += inputTokens + outputTokens
	u.cost += cost

	now := time.Now()
	key := hourKey(now)
	t.hourlyTokens[key] += inputTokens + outputTokens
	t.hourlyCost[key] += cost

	t.history = append(t.history, usageRecord{
		Timestamp: now, TaskID: taskID,
		InputTokens: inputTokens, OutputTokens: outputTokens, Cost: cost,
	})
	if len(t.history) > 1000 {
		t.history = t.history[len(t.history)-1000:]
	}

	_ = t.saveHistoryLocked()
}

// Warning describes an approaching (not yet breached) ceiling.
type Warning struct {
	Kind    LimitKind
	Percent float64
}

// EnsureWithinLimits checks the per-task cost ceiling, then the per-task
// token ceiling, then the rolling per-hour cost ceiling, in that order,
// matching original_source/cost_tracker.py's check order. Returns
// ErrCostLimit on the first breach, or a list of warnings at >= WarnAtPercent.
func (t *Tracker) EnsureWithinLimits(taskID string) ([]Warning, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.tasks[taskID]
	var taskCost float64
	var taskTokens int
	if u != nil {
		taskCost = u.cost
		taskTokens = u.tokens
	}

	if taskCost >= t.limits.MaxCostPerTask {
		return nil, &ErrCostLimit{Kind: LimitCostPerTask, Current: taskCost, Limit: t.limits.MaxCostPerTask}
	}
	if taskTokens >= t.limits.MaxTokensPerTask {
		return nil, &ErrCostLimit{Kind: LimitTokensPerTask, Current: float64(taskTokens), Limit: float64(t.limits.MaxTokensPerTask)}
	}

	hourCost := t.hourlyCost[hourKey(time.Now())]
	if hourCost >= t.limits.MaxCostPerHour {
		return nil, &ErrCostLimit{Kind: LimitCostPerHour, Current: hourCost, Limit: t.limits.MaxCostPerHour}
	}

	var warnings []Warning
	if p := taskCost / t.limits.MaxCostPerTask; p >= t.limits.WarnAtPercent {
		warnings = append(warnings, Warning{Kind: LimitCostPerTask, Percent: p})
	}
	if p := float64(taskTokens) / float64(t.limits.MaxTokensPerTask); p >= t.limits.WarnAtPercent {
		warnings = append(warnings, Warning{Kind: LimitTokensPerTask, Percent: p})
	}
	if p := hourCost / t.limits.MaxCostPerHour; p >= t.limits.WarnAtPercent {
		warnings = append(warnings, Warning{Kind: LimitCostPerHour, Percent: p})
	}
	return warnings, nil
}

// ResetTask drops a task's in-memory counters (call on Task completion).
func (t *Tracker) ResetTask(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, taskID)
}

// Summary reports a task's current usage.
func (t *Tracker) Summary(taskID string) (tokens int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.tasks[taskID]; ok {
		return u.tokens, u.cost
	}
	return 0, 0
}

type historyFile struct {
	HourlyTokens map[string]int     `json:"hourly_tokens"`
	HourlyCost   map[string]float64 `json:"hourly_cost"`
	History      []usageRecord      `json:"history"`
}

func (t *Tracker) loadHistory() {
	if t.historyPath == "" {
		return
	}
	data, err := os.ReadFile(t.historyPath)
	if err != nil {
		return
	}
	var hf historyFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return
	}
	if hf.HourlyTokens != nil {
		t.hourlyTokens = hf.HourlyTokens
	}
	if hf.HourlyCost != nil {
		t.hourlyCost = hf.HourlyCost
	}
	t.history = hf.History
}

// saveHistoryLocked persists hourly aggregates atomically (write-temp-then-
// rename), deviating from the reference implementation's plain json.dump
// to avoid a torn write on a shared ledger.
func (t *Tracker) saveHistoryLocked() error {
	if t.historyPath == "" {
		return nil
	}
	hf := historyFile{HourlyTokens: t.hourlyTokens, HourlyCost: t.hourlyCost, History: t.history}
	data, err := json.MarshalIndent(hf, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.historyPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, t.historyPath)
}
