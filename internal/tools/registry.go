package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// Registry holds the tools available to a session, keyed by name. It is safe
// for concurrent reads; the orchestrator treats it as frozen during a run.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its name. Registering an existing name is an
// error; use Overwrite to replace.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("Tool already registered: %s", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Overwrite adds a tool under its name, replacing any existing registration.
func (r *Registry) Overwrite(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the registered tools sorted by name. A non-zero maxRisk drops
// tools above that risk level.
func (r *Registry) List(maxRisk models.RiskLevel) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listed := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		if maxRisk != 0 && tool.RiskLevel() > maxRisk {
			continue
		}
		listed = append(listed, tool)
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].Name() < listed[j].Name() })
	return listed
}

// Definitions renders the catalog in the wire format providers expect,
// sorted by name and filtered like List.
func (r *Registry) Definitions(maxRisk models.RiskLevel) []models.ToolDefinition {
	listed := r.List(maxRisk)
	defs := make([]models.ToolDefinition, 0, len(listed))
	for _, tool := range listed {
		defs = append(defs, Definition(tool))
	}
	return defs
}
