// Package factledger implements the Fact Ledger: a shared, sanitized
// append-only record of successes, failures, and reusable solutions that
// Router and Agent Runtime consult for tie-breaking and loop detection.
package factledger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/youcefjd/orchestration-core/internal/sanitize"
)

const maxEntries = 2000 // rotation bound, mirroring the reference implementation's cap

// indexSearchThreshold is the entry count above which FindSimilar consults
// the solution Index as a first-pass filter instead of scanning everything.
const indexSearchThreshold = 200

// Kind distinguishes the three FactEntry variants.
type Kind string

const (
	KindSuccess  Kind = "success"
	KindFailure  Kind = "failure"
	KindSolution Kind = "solution"
)

// Entry is one record in the ledger.
type Entry struct {
	ID         string `json:"id"`
	Kind       Kind   `json:"kind"`
	Agent      string `json:"agent,omitempty"`
	ActionType string `json:"action_type"`
	Signature  string `json:"signature,omitempty"` // ErrorSignature, for failures
	Problem    string `json:"problem,omitempty"`   // for solutions
	Solution   string `json:"solution,omitempty"`  // for solutions
	Detail     string `json:"detail,omitempty"`
}

// Ledger is the process-wide shared Fact Ledger.
type Ledger struct {
	mu         sync.Mutex
	path       string
	entries    []Entry
	sanitizer  *sanitize.Sanitizer
	index      *Index
	indexStale bool
}

// New loads (or initializes) the ledger at path.
func New(path string) *Ledger {
	l := &Ledger{path: path, sanitizer: sanitize.New(), indexStale: true}
	l.load()
	return l
}

func (l *Ledger) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err == nil {
		l.entries = entries
	}
}

// saveLocked persists the ledger atomically (write-temp-then-rename),
// deviating from original_source/fact_checker.py's plain json.dump to avoid
// a torn write on a store shared across CLI invocations.
func (l *Ledger) saveLocked() error {
	if l.path == "" {
		return nil
	}
	if len(l.entries) > maxEntries {
		l.entries = l.entries[len(l.entries)-maxEntries:]
	}
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

// RecordSuccess appends a success entry. detail is sanitized before it's
// persisted — the ledger is read back by the Router and other agents, so a
// secret leaked into a task summary must never survive into it.
func (l *Ledger) RecordSuccess(agent, actionType, detail string) {
	detail, _ = l.sanitizer.Sanitize(detail)
	l.append(Entry{ID: uuid.NewString(), Kind: KindSuccess, Agent: agent, ActionType: actionType, Detail: detail})
}

// RecordFailure appends a failure entry tagged with an ErrorSignature.
func (l *Ledger) RecordFailure(agent, actionType, signature, detail string) {
	detail, _ = l.sanitizer.Sanitize(detail)
	l.append(Entry{ID: uuid.NewString(), Kind: KindFailure, Agent: agent, ActionType: actionType, Signature: signature, Detail: detail})
}

// RecordSolution stores a reusable problem/solution pair.
func (l *Ledger) RecordSolution(problem, solution string) {
	problem, _ = l.sanitizer.Sanitize(problem)
	solution, _ = l.sanitizer.Sanitize(solution)
	l.append(Entry{ID: uuid.NewString(), Kind: KindSolution, Problem: problem, Solution: solution})
}

func (l *Ledger) append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	l.indexStale = true
	_ = l.saveLocked()
}

// ensureIndexLocked returns an up-to-date solution Index, rebuilding it if
// the ledger has changed since the last build. Called with l.mu held.
// Returns nil if the index can't be built; callers fall back to a full scan.
func (l *Ledger) ensureIndexLocked() *Index {
	if !l.indexStale && l.index != nil {
		return l.index
	}
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	idx, err := buildIndex(entries)
	if err != nil {
		return nil
	}
	l.index = idx
	l.indexStale = false
	return l.index
}

// ShouldAvoid reports whether the given (actionType, signature) pair has
// failed >= 3 times, the same loop-detection threshold as
// original_source/fact_checker.py's check_similar_failures.
func (l *Ledger) ShouldAvoid(actionType, signature string) bool {
	return l.FailureCount(actionType, signature) >= 3
}

// FailureCount counts prior failures with the same action type and
// ErrorSignature.
func (l *Ledger) FailureCount(actionType, signature string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Kind == KindFailure && e.ActionType == actionType && e.Signature == signature {
			n++
		}
	}
	return n
}

// AgentSuccessRate returns an agent's success fraction across all recorded
// outcomes, used by the Router for tie-breaking. Returns 0 with no history.
func (l *Ledger) AgentSuccessRate(agent string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	successes, total := 0, 0
	for _, e := range l.entries {
		if e.Agent != agent {
			continue
		}
		if e.Kind == KindSuccess || e.Kind == KindFailure {
			total++
			if e.Kind == KindSuccess {
				successes++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(successes) / float64(total)
}

// FindSimilar matches a query against solution entries, matching
// original_source/fact_checker.py's baseline retrieve_solution
// (keyword-overlap ratio). When the ledger has grown large enough to make a
// full scan wasteful, it first narrows the candidate set with the solution
// Index's full-text search before scoring; a cold or failed index falls
// back to scanning every solution entry. Returns up to limit matches,
// most-overlapping first.
func (l *Ledger) FindSimilar(query string, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	qTokens := tokenSet(query)
	type scored struct {
		entry Entry
		score float64
	}

	pool := l.entries
	if len(l.entries) > indexSearchThreshold {
		if idx := l.ensureIndexLocked(); idx != nil {
			if ids, err := idx.Search(query, limit*4); err == nil && len(ids) > 0 {
				pool = entriesByID(l.entries, ids)
			}
		}
	}

	var candidates []scored
	for _, e := range pool {
		if e.Kind != KindSolution {
			continue
		}
		score := overlap(qTokens, tokenSet(e.Problem))
		if score > 0.5 {
			candidates = append(candidates, scored{e, score})
		}
	}
	// simple selection sort, bounded candidate set keeps this cheap
	for i := 0; i < len(candidates); i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score > candidates[best].score {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, candidates[i].entry)
	}
	return out
}

// ValidateBeforeExecution checks a proposed action against the ledger's
// history before it runs, returning human-readable warnings rather than
// blocking the call outright — Governance decides whether a call is
// permitted at all; the ledger only knows whether this shape of call has
// gone badly before. Mirrors original_source/fact_checker.py's
// pre-execution advisory check, which is a plain lookup rather than a
// veto for the same reason: a warning an agent can read and react to costs
// less than hard-failing the call.
func (l *Ledger) ValidateBeforeExecution(actionType string, details map[string]interface{}) []string {
	var warnings []string

	signature := signatureFromDetails(details)
	if n := l.FailureCount(actionType, signature); n > 0 {
		plural := ""
		if n != 1 {
			plural = "s"
		}
		warnings = append(warnings, fmt.Sprintf("%s has failed %d time%s before with this same error signature", actionType, n, plural))
	}
	if l.ShouldAvoid(actionType, signature) {
		warnings = append(warnings, fmt.Sprintf("%s has crossed the loop-detection threshold for this error signature — consider a different approach", actionType))
	}

	l.mu.Lock()
	successes, failures := 0, 0
	for _, e := range l.entries {
		if e.ActionType != actionType {
			continue
		}
		switch e.Kind {
		case KindSuccess:
			successes++
		case KindFailure:
			failures++
		}
	}
	l.mu.Unlock()
	if total := successes + failures; total >= 5 && failures > successes {
		warnings = append(warnings, fmt.Sprintf("%s has failed more often than it has succeeded (%d/%d failures)", actionType, failures, total))
	}

	return warnings
}

// signatureFromDetails derives an ErrorSignature-shaped lookup key from a
// proposed action's details, so ValidateBeforeExecution can check history
// without the caller already knowing whether this exact shape has an
// ErrorSignature recorded for it. Falls back to a JSON encoding of details
// when no explicit signature field is present.
func signatureFromDetails(details map[string]interface{}) string {
	if details == nil {
		return ""
	}
	if sig, ok := details["signature"].(string); ok && sig != "" {
		return sig
	}
	if cmd, ok := details["command"].(string); ok && cmd != "" {
		return cmd
	}
	if b, err := json.Marshal(details); err == nil {
		return string(b)
	}
	return ""
}

// entriesByID filters entries down to those whose ID appears in ids,
// preserving entries' relative order.
func entriesByID(entries []Entry, ids []string) []Entry {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]Entry, 0, len(ids))
	for _, e := range entries {
		if _, ok := want[e.ID]; ok {
			out = append(out, e)
		}
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}
