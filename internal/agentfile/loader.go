package agentfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of one Agentfile YAML document.
type document struct {
	Agents []AgentSpec `yaml:"agents"`
}

// LoadFile loads one Agentfile YAML document, resolving any fromPrompt paths
// relative to the file's directory, per the smart FROM resolution the
// teacher's Agentfile loader used for AGENT ... FROM clauses.
func LoadFile(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agentfile: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse agentfile %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	catalog := &Catalog{Agents: make(map[string]AgentSpec, len(doc.Agents))}
	for _, spec := range doc.Agents {
		if spec.FromPrompt != "" {
			if err := resolvePrompt(&spec, baseDir); err != nil {
				return nil, fmt.Errorf("agent %q: %w", spec.Name, err)
			}
		}
		catalog.Agents[spec.Name] = spec
	}

	if err := Validate(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// LoadDir loads every *.yaml/*.yml file in dir into a single merged catalog,
// letting a deployment split its agent roster across multiple files (one
// per team, one per domain) instead of a monolithic document.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read agentfile directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	merged := &Catalog{Agents: map[string]AgentSpec{}}
	for _, f := range files {
		c, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		for name, spec := range c.Agents {
			merged.Agents[name] = spec
		}
	}
	return merged, nil
}

// resolvePrompt loads an agent's prompt from FromPrompt, which must be a
// Markdown file resolved relative to baseDir.
func resolvePrompt(spec *AgentSpec, baseDir string) error {
	if !strings.HasSuffix(spec.FromPrompt, ".md") {
		return fmt.Errorf("fromPrompt must reference a .md file, got %q", spec.FromPrompt)
	}
	fullPath := filepath.Join(baseDir, spec.FromPrompt)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return fmt.Errorf("failed to load prompt %q: %w", spec.FromPrompt, err)
	}
	spec.Prompt = string(content)
	return nil
}

// Validate checks a catalog's internal consistency: every agent has a name
// and a non-empty prompt, and names are unique (guaranteed by map keying, so
// this catches the case where a spec's declared Name disagrees with the key
// it was loaded under).
func Validate(c *Catalog) error {
	var errs []string
	for key, spec := range c.Agents {
		if spec.Name == "" {
			errs = append(errs, fmt.Sprintf("agent keyed %q has no name", key))
			continue
		}
		if spec.Name != key {
			errs = append(errs, fmt.Sprintf("agent keyed %q declares name %q", key, spec.Name))
		}
		if spec.Prompt == "" {
			errs = append(errs, fmt.Sprintf("agent %q has no prompt (set prompt or fromPrompt)", spec.Name))
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("agentfile validation errors:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}
