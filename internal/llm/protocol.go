package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall is one tool invocation an assistant turn asked for, decoded from
// the model's free-text response.
type ToolCall struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// ParseToolCall extracts a single {"tool": "...", "args": {...}} object from
// a model's response, tolerating surrounding prose or markdown fencing the
// model may have wrapped it in. Returns ok=false when no tool call is
// present, which the Agent Runtime treats as a final answer.
func ParseToolCall(content string) (ToolCall, bool) {
	raw := extractJSON(content)
	if raw == "" {
		return ToolCall{}, false
	}
	var call ToolCall
	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		return ToolCall{}, false
	}
	if call.Tool == "" {
		return ToolCall{}, false
	}
	return call, true
}

// FormatToolCall is the inverse of ParseToolCall, used by tests and by
// adapters that need to show the model an example of the expected shape.
func FormatToolCall(call ToolCall) string {
	b, err := json.Marshal(call)
	if err != nil {
		return ""
	}
	return string(b)
}

// extractJSON finds the first brace-balanced JSON object in content,
// grounded on internal/executor/helpers.go's extractJSON.
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

// ToolProtocolInstructions is the fixed system-prompt fragment every Agent
// Runtime run prepends so the model knows the exact tool-call shape to emit:
// a single JSON object, never free-form function-call syntax.
const ToolProtocolInstructions = `When you need to use a tool, respond with exactly one JSON object of the form:
{"tool": "<tool_name>", "args": {...}}
and nothing else. When you have a final answer and need no further tools, respond in plain text.`

// ErrNoToolCall is returned by strict-mode parsing when a response was
// expected to contain a tool call but didn't.
var ErrNoToolCall = fmt.Errorf("llm: response contains no tool call")

// MustParseToolCall is the strict variant used where the Agent Runtime has
// already decided (via its own state machine) that a tool call is required.
func MustParseToolCall(content string) (ToolCall, error) {
	call, ok := ParseToolCall(content)
	if !ok {
		return ToolCall{}, ErrNoToolCall
	}
	return call, nil
}
