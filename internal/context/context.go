// Package context implements the Context Manager: pruning a Conversation
// down to a token budget without ever evicting pinned messages.
package context

import (
	"fmt"
	"strings"
)

// Role identifies a Message's sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a Conversation.
type Message struct {
	Role    Role
	Content string
	// ToolName and ToolResultOK are only meaningful when Role == RoleTool.
	ToolName     string
	ToolResultOK bool
}

// Policy configures pruning behavior; defaults mirror
// original_source/context_manager.py's ContextManager.__init__.
type Policy struct {
	MaxTokens                  int
	KeepLastNUserMessages      int
	KeepLastNAssistantMessages int
}

// DefaultPolicy matches the reference implementation's constructor defaults.
func DefaultPolicy() Policy {
	return Policy{MaxTokens: 8000, KeepLastNUserMessages: 3, KeepLastNAssistantMessages: 3}
}

// EstimateTokens approximates token count as chars/4, matching the
// reference implementation's estimator exactly.
func EstimateTokens(text string) int {
	return len(text) / 4
}

func messageTokens(m Message) int {
	return EstimateTokens(m.Content) + 4 // small per-message overhead
}

func totalTokens(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += messageTokens(m)
	}
	return n
}

// Prune reduces messages to fit within policy.MaxTokens, in O(n), applying
// (in order): never evict the system message; never evict the last K user
// or K assistant messages; else summarize the oldest contiguous non-pinned
// block (only if the summary is materially smaller — at most half the size
// of what it replaces — or this step is skipped); else drop ToolResult
// bodies oldest-to-newest, replacing each with a one-line omission marker.
func Prune(msgs []Message, policy Policy) []Message {
	if totalTokens(msgs) <= policy.MaxTokens {
		return msgs
	}

	pinned := make([]bool, len(msgs))
	userKept, assistantKept := 0, 0
	for i := len(msgs) - 1; i >= 0; i-- {
		switch msgs[i].Role {
		case RoleSystem:
			pinned[i] = true
		case RoleUser:
			if userKept < policy.KeepLastNUserMessages {
				pinned[i] = true
				userKept++
			}
		case RoleAssistant:
			if assistantKept < policy.KeepLastNAssistantMessages {
				pinned[i] = true
				assistantKept++
			}
		}
	}

	result := applySummarization(msgs, pinned, policy)
	if totalTokens(result) <= policy.MaxTokens {
		return result
	}
	return dropToolResultBodies(result, policy)
}

// applySummarization finds the oldest contiguous run of non-pinned messages
// and, if summarizing it would save enough space per the acceptance test,
// replaces it with a single synthetic System message.
func applySummarization(msgs []Message, pinned []bool, policy Policy) []Message {
	start := -1
	end := -1
	for i, p := range pinned {
		if !p {
			if start == -1 {
				start = i
			}
			end = i
		} else if start != -1 {
			break
		}
	}
	if start == -1 {
		return msgs
	}

	block := msgs[start : end+1]
	oldestTokens := totalTokens(block)
	if oldestTokens == 0 {
		return msgs
	}

	summary := summarize(block)
	summaryTokens := EstimateTokens(summary)

	// only replace if the summary is materially smaller than what it
	// replaces.
	if float64(summaryTokens) > float64(oldestTokens)*0.5 {
		return msgs
	}

	out := make([]Message, 0, len(msgs)-len(block)+1)
	out = append(out, msgs[:start]...)
	out = append(out, Message{Role: RoleSystem, Content: summary})
	out = append(out, msgs[end+1:]...)
	return out
}

func summarize(block []Message) string {
	var parts []string
	for _, m := range block {
		switch m.Role {
		case RoleUser:
			parts = append(parts, "User request: "+truncate(m.Content, 100))
		case RoleAssistant:
			parts = append(parts, "Assistant: "+truncate(m.Content, 100))
		case RoleTool:
			status := "error"
			if m.ToolResultOK {
				status = "success"
			}
			parts = append(parts, fmt.Sprintf("Tool execution (%s): %s", m.ToolName, status))
		}
	}
	return "[summary] " + strings.Join(parts, " | ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// dropToolResultBodies replaces ToolResult messages, oldest first, with a
// synthetic System message noting the omission, until the budget is met or
// there are no more bodies to drop. The original message is substituted
// rather than edited in place, since a pruned tool result is no longer the
// tool's own statement about what happened — it's the Context Manager's.
func dropToolResultBodies(msgs []Message, policy Policy) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)

	for i := range out {
		if totalTokens(out) <= policy.MaxTokens {
			break
		}
		if out[i].Role == RoleTool && out[i].Content != "" {
			out[i] = Message{
				Role:    RoleSystem,
				Content: fmt.Sprintf("[omitted tool result: %s, %d chars elided]", out[i].ToolName, len(out[i].Content)),
			}
		}
	}
	return out
}

// Stats reports current Conversation token usage, for diagnostics.
type Stats struct {
	MessageCount int
	TotalTokens  int
	MaxTokens    int
}

// GetStats computes Stats for a Conversation under a Policy.
func GetStats(msgs []Message, policy Policy) Stats {
	return Stats{MessageCount: len(msgs), TotalTokens: totalTokens(msgs), MaxTokens: policy.MaxTokens}
}
