package backends

import (
	"sort"
	"sync"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// DiagnosticAction describes a diagnostic that can run against some class of
// targets. It is the catalog-side counterpart of DiagnosticInfo, carrying the
// category and risk metadata a backend needs to plan with.
type DiagnosticAction struct {
	Name        string
	Description string
	Category    string
	TargetTypes []string
	Parameters  map[string]any
	RiskLevel   models.RiskLevel
}

// DiagnosticsCatalog is a registry of diagnostic actions, keyed by name.
type DiagnosticsCatalog struct {
	mu      sync.RWMutex
	actions map[string]DiagnosticAction
}

// NewDiagnosticsCatalog returns an empty catalog.
func NewDiagnosticsCatalog() *DiagnosticsCatalog {
	return &DiagnosticsCatalog{actions: make(map[string]DiagnosticAction)}
}

// Register adds or replaces an action. A zero risk level means read-only.
func (c *DiagnosticsCatalog) Register(action DiagnosticAction) {
	if action.RiskLevel == 0 {
		action.RiskLevel = models.RiskReadOnly
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[action.Name] = action
}

// Get looks up an action by name.
func (c *DiagnosticsCatalog) Get(name string) (DiagnosticAction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	action, ok := c.actions[name]
	return action, ok
}

// ListAll returns every action sorted by name.
func (c *DiagnosticsCatalog) ListAll() []DiagnosticAction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortActions(c.collect(func(DiagnosticAction) bool { return true }))
}

// ListForTarget returns the actions applicable to a target type, sorted by
// name.
func (c *DiagnosticsCatalog) ListForTarget(targetType string) []DiagnosticAction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortActions(c.collect(func(a DiagnosticAction) bool {
		for _, tt := range a.TargetTypes {
			if tt == targetType {
				return true
			}
		}
		return false
	}))
}

// ListByCategory returns the actions in a category, sorted by name.
func (c *DiagnosticsCatalog) ListByCategory(category string) []DiagnosticAction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortActions(c.collect(func(a DiagnosticAction) bool {
		return a.Category == category
	}))
}

// collect must be called with the lock held.
func (c *DiagnosticsCatalog) collect(keep func(DiagnosticAction) bool) []DiagnosticAction {
	actions := make([]DiagnosticAction, 0, len(c.actions))
	for _, a := range c.actions {
		if keep(a) {
			actions = append(actions, a)
		}
	}
	return actions
}

func sortActions(actions []DiagnosticAction) []DiagnosticAction {
	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions
}
