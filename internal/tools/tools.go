// Package tools implements the Tool Registry: registration, lookup, and
// discovery-time risk classification of executable tools.
package tools

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

// Risk is the static risk tag Governance keys its rule table on.
type Risk string

const (
	RiskGreen  Risk = "green"
	RiskYellow Risk = "yellow"
	RiskRed    Risk = "red"
)

// Tool is an executable tool, modeled as an interface so each built-in or
// dynamically discovered tool supplies its own metadata and Execute body
// without a shared base class.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Risk() Risk
	// AllowedContexts narrows which environments may run this tool at all,
	// even past a favorable Governance risk decision. Empty means no
	// narrowing.
	AllowedContexts() []string
	// Timeout is this tool's own declared wall-clock cap.
	Timeout() int // seconds
	// AuthIdentity names the credential identity this tool needs ready
	// before it runs (e.g. "aws", "github"), or "" if it needs none. The
	// Agent Runtime checks this against the Auth Broker before Execute.
	AuthIdentity() string
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// BaseTool provides the common bookkeeping fields so concrete tools only
// need to implement Execute.
type BaseTool struct {
	NameV     string
	DescV     string
	ParamsV   map[string]interface{}
	RiskV     Risk
	ContextsV []string
	TimeoutV  int
	AuthV     string
}

func (b BaseTool) Name() string                        { return b.NameV }
func (b BaseTool) Description() string                 { return b.DescV }
func (b BaseTool) Parameters() map[string]interface{}  { return b.ParamsV }
func (b BaseTool) Risk() Risk                           { return b.RiskV }
func (b BaseTool) AllowedContexts() []string            { return b.ContextsV }
func (b BaseTool) AuthIdentity() string                 { return b.AuthV }
func (b BaseTool) Timeout() int {
	if b.TimeoutV <= 0 {
		return 60
	}
	return b.TimeoutV
}

// ValidateArgs checks call args against t.Parameters()'s JSON-Schema-shaped
// required/type fields, returning a descriptive error on the first
// mismatch. It runs before Governance ever sees the call — an invocation
// that fails validation never reaches the risk/approval machinery at all.
func ValidateArgs(t Tool, args map[string]interface{}) error {
	schema := t.Parameters()
	if schema == nil {
		return nil
	}

	if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required argument %q", name)
			}
		}
	}

	props, _ := schema["properties"].(map[string]interface{})
	for name, value := range args {
		propSchema, ok := props[name].(map[string]interface{})
		if !ok {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" {
			continue
		}
		if err := checkJSONType(name, value, wantType); err != nil {
			return err
		}
	}
	return nil
}

func checkJSONType(name string, value interface{}, wantType string) error {
	switch wantType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
	case "number":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "array":
		switch value.(type) {
		case []interface{}, []string:
		default:
			return fmt.Errorf("argument %q must be an array", name)
		}
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("argument %q must be an object", name)
		}
	}
	return nil
}

// Registry holds registered tools, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a statically-known tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup returns a tool by name, or (nil, false) if unknown. An unknown
// tool must never reach Governance — callers return a tool error result
// directly instead of asking Governance to decide on a call it can't name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// dangerousPatterns reject dynamically discovered tools whose declared
// behavior description contains an outright disqualifying pattern (e.g. an
// attempt to self-describe as operating outside the sandboxed workspace).
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/(?:\s|$)`),
	regexp.MustCompile(`(?i):(){ :\|:& };:`), // fork bomb
	regexp.MustCompile(`(?i)dd\s+if=.*of=/dev/(sd|nvme)`),
}

// fsWritePattern/processSpawnPattern/networkWritePattern approximate the
// capability classes a tool's default risk tag is based on.
var (
	fsWritePattern      = regexp.MustCompile(`(?i)\b(write|edit|delete|rm|mkdir|mv|chmod|chown)\b`)
	processSpawnPattern = regexp.MustCompile(`(?i)\b(exec|spawn|fork|subprocess|container)\b`)
	networkWritePattern = regexp.MustCompile(`(?i)\b(deploy|publish|push|send|post|put)\b`)
	destructivePattern  = regexp.MustCompile(`(?i)\b(restart|delete|destroy|terminate|shutdown|reboot|drop|truncate)\b`)
	serviceOpsPattern   = regexp.MustCompile(`(?i)\b(deploy|restart|release|rollback)\b`)
	arbitraryShellName  = regexp.MustCompile(`(?i)^(bash|sh|shell|exec|eval)$`)
)

// Discover validates and registers a dynamically-discovered tool
// description, computing its default risk tag for diagnostic purposes.
// Dangerous patterns are rejected outright. Dynamically added tools always
// start red regardless of the computed tag, since nothing has vetted them
// yet.
func (r *Registry) Discover(name, description string, params map[string]interface{}, timeoutSeconds int) (Tool, error) {
	for _, p := range dangerousPatterns {
		if p.MatchString(description) {
			return nil, fmt.Errorf("tool %q rejected: description matches a disallowed pattern", name)
		}
	}

	_ = computeDefaultRisk(name, description) // informative only; discovery always starts red

	t := BaseTool{
		NameV: name, DescV: description, ParamsV: params,
		RiskV: RiskRed, TimeoutV: timeoutSeconds,
	}
	dt := &dynamicTool{BaseTool: t}
	r.Register(dt)
	return dt, nil
}

// computeDefaultRisk classifies a tool's default risk tag from its name and
// description: no fs-write/no process-spawn/no network-write -> green;
// local fs write or single-container exec -> yellow; service-restart/
// deploy/arbitrary-shell -> red.
func computeDefaultRisk(name, description string) Risk {
	text := name + " " + description
	if destructivePattern.MatchString(text) || serviceOpsPattern.MatchString(text) || arbitraryShellName.MatchString(name) {
		return RiskRed
	}
	if fsWritePattern.MatchString(text) || processSpawnPattern.MatchString(text) {
		return RiskYellow
	}
	if networkWritePattern.MatchString(text) {
		return RiskYellow
	}
	return RiskGreen
}

// dynamicTool is a tool added at runtime via Discover; it has no Execute
// implementation of its own and exists only as a registry placeholder
// until wired to a real handler.
type dynamicTool struct {
	BaseTool
	handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func (d *dynamicTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if d.handler == nil {
		return nil, fmt.Errorf("tool %q has no execution handler bound", d.NameV)
	}
	return d.handler(ctx, args)
}

// Bind attaches an execution handler to a dynamically discovered tool.
func (d *dynamicTool) Bind(handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)) {
	d.handler = handler
}
