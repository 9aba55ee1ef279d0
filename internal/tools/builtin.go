package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// RegisterBuiltins adds the workspace-scoped tools the reference tool
// registry ships with (src/internal/tools/registry.go), each tagged with
// its default risk tier.
func RegisterBuiltins(r *Registry, workspace string) {
	r.Register(&readTool{workspace: workspace})
	r.Register(&writeTool{workspace: workspace})
	r.Register(&editTool{workspace: workspace})
	r.Register(&globTool{workspace: workspace})
	r.Register(&grepTool{workspace: workspace})
	r.Register(&lsTool{workspace: workspace})
	r.Register(&bashTool{workspace: workspace})
	r.Register(selfModifyTool{})
}

type readTool struct{ workspace string }

func (readTool) Name() string        { return "read" }
func (readTool) Description() string { return "Read the contents of a file." }
func (readTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{
		"path": map[string]interface{}{"type": "string"}}, "required": []string{"path"}}
}
func (readTool) Risk() Risk              { return RiskGreen }
func (readTool) AllowedContexts() []string { return nil }
func (readTool) AuthIdentity() string    { return "" }
func (readTool) Timeout() int            { return 10 }
func (t readTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, ok := args["path"].(string)
	if !ok {
		return nil, fmt.Errorf("path is required")
	}
	content, err := os.ReadFile(resolve(t.workspace, path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return string(content), nil
}

type writeTool struct{ workspace string }

func (writeTool) Name() string        { return "write" }
func (writeTool) Description() string { return "Write content to a file, creating parent directories as needed." }
func (writeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{
		"path":    map[string]interface{}{"type": "string"},
		"content": map[string]interface{}{"type": "string"},
	}, "required": []string{"path", "content"}}
}
func (writeTool) Risk() Risk              { return RiskYellow } // local fs write
func (writeTool) AllowedContexts() []string { return nil }
func (writeTool) AuthIdentity() string    { return "" }
func (writeTool) Timeout() int            { return 10 }
func (t writeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, ok := args["path"].(string)
	if !ok {
		return nil, fmt.Errorf("path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content is required")
	}
	full := resolve(t.workspace, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return "ok", nil
}

type editTool struct{ workspace string }

func (editTool) Name() string        { return "edit" }
func (editTool) Description() string { return "Find and replace exact text in a file." }
func (editTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{
		"path": map[string]interface{}{"type": "string"},
		"old":  map[string]interface{}{"type": "string"},
		"new":  map[string]interface{}{"type": "string"},
	}, "required": []string{"path", "old", "new"}}
}
func (editTool) Risk() Risk              { return RiskYellow }
func (editTool) AllowedContexts() []string { return nil }
func (editTool) AuthIdentity() string    { return "" }
func (editTool) Timeout() int            { return 10 }
func (t editTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, _ := args["path"].(string)
	oldStr, _ := args["old"].(string)
	newStr, _ := args["new"].(string)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	full := resolve(t.workspace, path)
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if !strings.Contains(string(content), oldStr) {
		return nil, fmt.Errorf("pattern not found in file")
	}
	updated := strings.Replace(string(content), oldStr, newStr, 1)
	if err := os.WriteFile(full, []byte(updated), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return "ok", nil
}

type globTool struct{ workspace string }

func (globTool) Name() string        { return "glob" }
func (globTool) Description() string { return "Find files matching a glob pattern." }
func (globTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{
		"pattern": map[string]interface{}{"type": "string"}}, "required": []string{"pattern"}}
}
func (globTool) Risk() Risk              { return RiskGreen }
func (globTool) AllowedContexts() []string { return nil }
func (globTool) AuthIdentity() string    { return "" }
func (globTool) Timeout() int            { return 10 }
func (t globTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pattern, _ := args["pattern"].(string)
	matches, err := filepath.Glob(resolve(t.workspace, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return matches, nil
}

type grepTool struct{ workspace string }

func (grepTool) Name() string        { return "grep" }
func (grepTool) Description() string { return "Search for a regex pattern in a file or directory." }
func (grepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{
		"pattern": map[string]interface{}{"type": "string"},
		"path":    map[string]interface{}{"type": "string"},
	}, "required": []string{"pattern", "path"}}
}
func (grepTool) Risk() Risk              { return RiskGreen }
func (grepTool) AllowedContexts() []string { return nil }
func (grepTool) AuthIdentity() string    { return "" }
func (grepTool) Timeout() int            { return 30 }

type grepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

func (t grepTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pattern, _ := args["pattern"].(string)
	path, _ := args["path"].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	full := resolve(t.workspace, path)
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("path not found: %w", err)
	}
	var matches []grepMatch
	if info.IsDir() {
		filepath.Walk(full, func(p string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return nil
			}
			matches = append(matches, grepFile(re, p)...)
			return nil
		})
	} else {
		matches = grepFile(re, full)
	}
	return matches, nil
}

func grepFile(re *regexp.Regexp, path string) []grepMatch {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var matches []grepMatch
	for i, line := range strings.Split(string(content), "\n") {
		if re.MatchString(line) {
			matches = append(matches, grepMatch{File: path, Line: i + 1, Content: line})
		}
	}
	return matches
}

type lsTool struct{ workspace string }

func (lsTool) Name() string        { return "ls" }
func (lsTool) Description() string { return "List directory contents." }
func (lsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{
		"path": map[string]interface{}{"type": "string"}}, "required": []string{"path"}}
}
func (lsTool) Risk() Risk              { return RiskGreen }
func (lsTool) AllowedContexts() []string { return nil }
func (lsTool) AuthIdentity() string    { return "" }
func (lsTool) Timeout() int            { return 10 }

type dirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func (t lsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, _ := args["path"].(string)
	entries, err := os.ReadDir(resolve(t.workspace, path))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	out := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, dirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	return out, nil
}

// bashTool is the single arbitrary-shell tool, always red.
type bashTool struct{ workspace string }

func (bashTool) Name() string        { return "bash" }
func (bashTool) Description() string { return "Execute a shell command in the task workspace." }
func (bashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{
		"command": map[string]interface{}{"type": "string"}}, "required": []string{"command"}}
}
func (bashTool) Risk() Risk              { return RiskRed }
func (bashTool) AllowedContexts() []string { return nil }
func (bashTool) AuthIdentity() string    { return "" }
func (bashTool) Timeout() int            { return 300 }

type execResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func (t bashTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	command, ok := args["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command is required")
	}
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.workspace

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
	}
	return &execResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// SelfModifyToolName is the pre-registered tool Governance special-cases
// through CheckSelfModify's severity-aware rule instead of the generic
// risk/environment table every other tool goes through.
const SelfModifyToolName = "self_modify_codebase"

// selfModifyTool lets an agent propose a change to its own codebase or
// configuration. Always red risk; no mutation capability is wired up
// behind it yet, so Execute only records the proposal for operator review
// instead of applying anything — the governance hook (CheckSelfModify) is
// real, the code-mutation backend isn't.
type selfModifyTool struct{}

func (selfModifyTool) Name() string        { return SelfModifyToolName }
func (selfModifyTool) Description() string { return "Propose a change to this agent's own codebase or configuration for operator review. Always red risk." }
func (selfModifyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{
		"description": map[string]interface{}{"type": "string"},
		"severity":    map[string]interface{}{"type": "string"}, // "low" or "high"; defaults to "low"
	}, "required": []string{"description"}}
}
func (selfModifyTool) Risk() Risk              { return RiskRed }
func (selfModifyTool) AllowedContexts() []string { return nil }
func (selfModifyTool) AuthIdentity() string    { return "" }
func (selfModifyTool) Timeout() int            { return 10 }
func (selfModifyTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	description, _ := args["description"].(string)
	if description == "" {
		return nil, fmt.Errorf("description is required")
	}
	return fmt.Sprintf("self-modification proposed but not applied (no mutation backend wired up): %s", description), nil
}

func resolve(workspace, path string) string {
	if workspace == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}
