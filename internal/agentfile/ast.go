package agentfile

// AgentSpec is one declared agent kind: its name, the roster description the
// Router's LLM and embedding strategies see, its tool policy, and its system
// prompt (inline or loaded from FromPrompt).
type AgentSpec struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	FromPrompt  string     `yaml:"fromPrompt"`
	Prompt      string     `yaml:"prompt"`
	Tools       ToolPolicy `yaml:"tools"`
	Embedding   []float32  `yaml:"embedding"`
}

// Catalog is the full set of agent kinds loaded from one or more YAML files,
// keyed by name for lookup by the Router and Orchestrator.
type Catalog struct {
	Agents map[string]AgentSpec
}

// Names returns the catalog's agent names in the order they were loaded.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	return names
}

// Lookup returns the named agent spec, or ok=false if undeclared.
func (c *Catalog) Lookup(name string) (AgentSpec, bool) {
	spec, ok := c.Agents[name]
	return spec, ok
}
