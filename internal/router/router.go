// Package router implements the Router component: analyzing a task and
// deciding which agent(s) should handle it.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
	"github.com/youcefjd/orchestration-core/internal/factledger"
	"github.com/youcefjd/orchestration-core/internal/llm"
)

// Complexity tags a RouteDecision's estimated scope.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// AgentDescriptor is one entry in the routing table: a name, a one-line
// description shown to the LLM strategy, and a precomputed embedding
// vector used by the similarity strategy.
type AgentDescriptor struct {
	Name        string
	Description string
	Embedding   []float32
}

// RouteDecision is the Router's output.
type RouteDecision struct {
	PrimaryAgent        string
	SecondaryAgents     []string
	Complexity          Complexity
	ClarificationNeeded bool
	ClarificationPrompt string
	Confidence          float64
	Method              string // "llm_structured" | "embedding_similarity" | "default_fallback"
}

// Embedder computes a vector representation of text, used only by the
// embedding-similarity strategy.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// designSystemPattern matches requests that plausibly ask for a system to
// be built from a blank slate, grounded on
// original_source/autonomous_router.py's "design" routing rule.
var designSystemPattern = regexp.MustCompile(`(?i)\b(build|design|set up|architect|stand up)\b.*\b(system|cluster|pipeline|service|infrastructure|platform)\b`)

// essentialsAnswered checks whether the task text already states the
// design essentials the clarification prompt would otherwise ask for.
var essentialsPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d+[kKmM]?\s*(users|requests|rps|qps)\b`),
	regexp.MustCompile(`(?i)\b(99\.\d+%|high availability|ha\b)`),
	regexp.MustCompile(`(?i)\b(cpu|memory|ram|budget|cost)\b`),
	regexp.MustCompile(`(?i)\b(oauth|sso|auth|credentials?)\b`),
}

// Router holds the general/consulting fallback agent name, the registered
// descriptors, and the Fact Ledger used to tie-break by historical success.
type Router struct {
	Provider     llm.Provider
	Embedder     Embedder
	FactLedger   *factledger.Ledger
	GeneralAgent string
	UseSemantic  bool
}

// New creates a Router. generalAgent is the designated fallback used by
// strategy (3) and by the clarification-needed branch's non-primary path.
func New(provider llm.Provider, ledger *factledger.Ledger, generalAgent string) *Router {
	return &Router{Provider: provider, FactLedger: ledger, GeneralAgent: generalAgent}
}

type llmRouteResponse struct {
	PrimaryAgent         string   `json:"primary_agent"`
	SecondaryAgents      []string `json:"secondary_agents"`
	Complexity           string   `json:"complexity"`
	NeedsClarification   bool     `json:"needs_clarification"`
	ClarificationQuestion string  `json:"clarification_question"`
	Confidence           float64  `json:"confidence"`
}

// Analyze routes a task among the available agents. It never propagates an
// error to the caller: an LLM-strategy failure degrades to embedding
// similarity, and an embedding failure degrades to the default fallback.
func (r *Router) Analyze(ctx context.Context, taskText string, agents []AgentDescriptor, recentHistory []agentcontext.Message) RouteDecision {
	if designSystemPattern.MatchString(taskText) && !essentialsStated(taskText) {
		return r.routeToDesign(agents, taskText)
	}

	if r.Provider != nil {
		if decision, ok := r.tryLLMStrategy(ctx, taskText, agents); ok {
			return r.tieBreak(decision)
		}
	}

	if r.UseSemantic && r.Embedder != nil {
		if decision, ok := r.trySemanticStrategy(ctx, taskText, agents); ok {
			return r.tieBreak(decision)
		}
	}

	return RouteDecision{
		PrimaryAgent: r.fallbackAgent(agents),
		Complexity:   ComplexitySimple,
		Confidence:   0,
		Method:       "default_fallback",
	}
}

func essentialsStated(taskText string) bool {
	hits := 0
	for _, p := range essentialsPatterns {
		if p.MatchString(taskText) {
			hits++
		}
	}
	return hits >= 2
}

func (r *Router) routeToDesign(agents []AgentDescriptor, taskText string) RouteDecision {
	designAgent := "design"
	for _, a := range agents {
		if a.Name == "design" {
			designAgent = a.Name
			break
		}
	}
	return RouteDecision{
		PrimaryAgent:         designAgent,
		Complexity:           ComplexityComplex,
		ClarificationNeeded:  true,
		ClarificationPrompt:  "Before I design this, I need: expected scale, availability target, resource envelope, and what authentication is already available. Can you fill those in?",
		Confidence:           0.9,
		Method:               "llm_structured",
	}
}

// tryLLMStrategy prompts the model with the task and the agent roster and
// expects back a single JSON object, grounded on
// original_source/autonomous_router.py's analyze_task prompt shape.
func (r *Router) tryLLMStrategy(ctx context.Context, taskText string, agents []AgentDescriptor) (RouteDecision, bool) {
	var roster strings.Builder
	for _, a := range agents {
		fmt.Fprintf(&roster, "- %s: %s\n", a.Name, a.Description)
	}

	prompt := fmt.Sprintf(`You are a task router. Given the task and the agent roster below, respond with exactly one JSON object:
{"primary_agent": "...", "secondary_agents": [], "complexity": "simple|medium|complex", "needs_clarification": false, "clarification_question": null, "confidence": 0.9}

Agents:
%s
Task: %s`, roster.String(), taskText)

	text, err := r.Provider.Invoke(ctx, []agentcontext.Message{
		{Role: agentcontext.RoleSystem, Content: prompt},
	}, nil)
	if err != nil {
		return RouteDecision{}, false
	}

	raw := extractJSON(text)
	if raw == "" {
		return RouteDecision{}, false
	}
	var resp llmRouteResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil || resp.PrimaryAgent == "" {
		return RouteDecision{}, false
	}

	decision := RouteDecision{
		PrimaryAgent:        resp.PrimaryAgent,
		SecondaryAgents:     resp.SecondaryAgents,
		Complexity:          Complexity(resp.Complexity),
		ClarificationNeeded: resp.NeedsClarification,
		ClarificationPrompt: resp.ClarificationQuestion,
		Confidence:          resp.Confidence,
		Method:              "llm_structured",
	}
	if decision.ClarificationNeeded {
		decision.SecondaryAgents = nil // a clarification ask and a secondary fan-out never both apply
	}
	return decision, true
}

// trySemanticStrategy picks the nearest agent descriptor by cosine
// similarity of embeddings, grounded on internal/memory/inmemory.go's
// cosineSimilarity and original_source/semantic_router.py's route_semantic.
func (r *Router) trySemanticStrategy(ctx context.Context, taskText string, agents []AgentDescriptor) (RouteDecision, bool) {
	queryVec, err := r.Embedder.Embed(ctx, taskText)
	if err != nil {
		return RouteDecision{}, false
	}

	best := ""
	bestScore := float32(-1)
	for _, a := range agents {
		if len(a.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(queryVec, a.Embedding)
		if score > bestScore {
			bestScore = score
			best = a.Name
		}
	}
	if best == "" {
		return RouteDecision{}, false
	}
	return RouteDecision{
		PrimaryAgent: best,
		Complexity:   ComplexityMedium,
		Confidence:   float64(bestScore),
		Method:       "embedding_similarity",
	}, true
}

// tieBreak resolves a tie between equally-plausible candidates by picking
// the one with the higher historical success rate in the Fact Ledger. It is
// a no-op unless SecondaryAgents holds ties reported by the strategy.
func (r *Router) tieBreak(d RouteDecision) RouteDecision {
	if r.FactLedger == nil || len(d.SecondaryAgents) == 0 || d.ClarificationNeeded {
		return d
	}
	best := d.PrimaryAgent
	bestRate := r.FactLedger.AgentSuccessRate(best)
	var kept []string
	for _, candidate := range d.SecondaryAgents {
		rate := r.FactLedger.AgentSuccessRate(candidate)
		if rate > bestRate {
			kept = append(kept, best)
			best = candidate
			bestRate = rate
		} else {
			kept = append(kept, candidate)
		}
	}
	d.PrimaryAgent = best
	d.SecondaryAgents = kept
	return d
}

func (r *Router) fallbackAgent(agents []AgentDescriptor) string {
	if r.GeneralAgent != "" {
		return r.GeneralAgent
	}
	for _, a := range agents {
		if a.Name == "general" || a.Name == "consulting" {
			return a.Name
		}
	}
	if len(agents) > 0 {
		return agents[0].Name
	}
	return "general"
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
