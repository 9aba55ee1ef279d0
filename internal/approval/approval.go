// Package approval implements the Approval Store: a durable, process-wide
// ledger of approval requests. "The ledger is the rendezvous" — approval
// never blocks a goroutine; RequireApproval persists and returns
// immediately, and a later CLI invocation resumes by id.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
)

// Verdict is an operator's decision on a pending Approval.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Approval is one entry in the store: a single ledger file, written
// atomically so concurrent CLI invocations never tear a write.
//
// Beyond the operator-facing fields, an Approval also carries everything
// the Agent Runtime needs to resume the exact ToolDispatch step it paused
// on: the tool's proposed Args and a digest of them, the Environment the
// call was evaluated against, a snapshot of the Conversation at the moment
// of pausing, and the run's Iterations count. Without this, deciding an
// Approval would have nowhere to resume to — the paused run's state lives
// only here.
type Approval struct {
	ID            string                  `json:"id"`
	TaskID        string                  `json:"task_id"`
	Tool          string                  `json:"tool"`
	Risk          string                  `json:"risk"`
	Reason        string                  `json:"reason"`
	FormattedPlan string                  `json:"formatted_plan,omitempty"` // rendered Plan & Apply markdown, when the gated call came from a plan
	Verdict       Verdict                 `json:"verdict"`
	Note          string                  `json:"note,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	DecidedAt     *time.Time              `json:"decided_at,omitempty"`
	Args          map[string]interface{} `json:"args,omitempty"`
	ArgsDigest    string                  `json:"args_digest,omitempty"`
	Environment   string                  `json:"environment,omitempty"`
	Conversation  []agentcontext.Message  `json:"conversation,omitempty"`
	Iterations    int                     `json:"iterations,omitempty"`
}

// Store is the process-wide Approval Store.
type Store struct {
	mu   sync.Mutex
	path string
	all  map[string]*Approval
}

// New loads (or initializes) the store at path.
func New(path string) *Store {
	s := &Store{path: path, all: make(map[string]*Approval)}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var list []*Approval
	if err := json.Unmarshal(data, &list); err != nil {
		return
	}
	for _, a := range list {
		s.all[a.ID] = a
	}
}

func (s *Store) saveLocked() error {
	list := make([]*Approval, 0, len(s.all))
	for _, a := range s.all {
		list = append(list, a)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Create persists a new pending Approval and returns its id.
func (s *Store) Create(taskID, tool, risk, reason, formattedPlan string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &Approval{
		ID: uuid.NewString(), TaskID: taskID, Tool: tool, Risk: risk,
		Reason: reason, FormattedPlan: formattedPlan, Verdict: VerdictPending, CreatedAt: time.Now(),
	}
	s.all[a.ID] = a
	if err := s.saveLocked(); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}
	return a, nil
}

// argsDigest fingerprints a tool invocation's arguments, mirroring the
// digest the Agent Runtime keys its own loop-detection state on, so the two
// layers agree on what counts as "the same call".
func argsDigest(tool string, args map[string]interface{}) string {
	b, _ := json.Marshal(args)
	h := sha256.Sum256([]byte(tool + "|" + string(b)))
	return hex.EncodeToString(h[:8])
}

// PendingInvocation is everything Governance has on hand when it decides an
// invocation needs a human: the proposed call itself, plus enough of the
// run's state to resume exactly where it paused once an operator decides.
type PendingInvocation struct {
	TaskID       string
	Tool         string
	Risk         string
	Reason       string
	FormattedPlan string
	Args         map[string]interface{}
	Environment  string
	Conversation []agentcontext.Message
	Iterations   int
}

// CreatePending persists a new pending Approval carrying everything needed
// to resume the ToolDispatch step it gates, and returns it.
func (s *Store) CreatePending(inv PendingInvocation) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &Approval{
		ID: uuid.NewString(), TaskID: inv.TaskID, Tool: inv.Tool, Risk: inv.Risk,
		Reason: inv.Reason, FormattedPlan: inv.FormattedPlan, Verdict: VerdictPending, CreatedAt: time.Now(),
		Args: inv.Args, ArgsDigest: argsDigest(inv.Tool, inv.Args), Environment: inv.Environment,
		Conversation: inv.Conversation, Iterations: inv.Iterations,
	}
	s.all[a.ID] = a
	if err := s.saveLocked(); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}
	return a, nil
}

// FindPending returns the most recently created Approval gating the exact
// same (taskID, tool, args) invocation, if one already exists — decided or
// still pending. Governance consults this before creating a new Approval
// so that re-dispatching an identical call (e.g. when a resumed run
// re-proposes it) reuses the existing decision instead of piling up
// duplicate approval requests for one real-world action.
func (s *Store) FindPending(taskID, tool string, args map[string]interface{}) (*Approval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest := argsDigest(tool, args)
	var found *Approval
	for _, a := range s.all {
		if a.TaskID != taskID || a.Tool != tool || a.ArgsDigest != digest {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			found = a
		}
	}
	return found, found != nil
}

// Get retrieves an Approval by id.
func (s *Store) Get(id string) (*Approval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.all[id]
	return a, ok
}

// List returns all approvals, optionally filtered by verdict; pass "" for
// no filter.
func (s *Store) List(verdict Verdict) []*Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Approval
	for _, a := range s.all {
		if verdict == "" || a.Verdict == verdict {
			out = append(out, a)
		}
	}
	return out
}

// Decide records an operator's verdict. Idempotent: deciding an Approval
// the same way twice is a no-op that returns no error, so a retried or
// double-clicked `agent approve approve` never surfaces a spurious error.
func (s *Store) Decide(id string, verdict Verdict, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.all[id]
	if !ok {
		return fmt.Errorf("approval %s not found", id)
	}
	if a.Verdict == verdict {
		return nil
	}
	if a.Verdict != VerdictPending {
		return fmt.Errorf("approval %s already decided: %s", id, a.Verdict)
	}

	now := time.Now()
	a.Verdict = verdict
	a.Note = note
	a.DecidedAt = &now
	return s.saveLocked()
}

// IsApproved reports whether id has been approved. Used by resumption
// logic to decide whether a Task may proceed.
func (s *Store) IsApproved(id string) bool {
	a, ok := s.Get(id)
	return ok && a.Verdict == VerdictApproved
}
