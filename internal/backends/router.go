package backends

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Router dispatches backend calls by target name. Exact matches win; local
// aliases and unregistered targets fall through to the default backend.
type Router struct {
	mu       sync.RWMutex
	backends map[string]ExecutionBackend
	fallback ExecutionBackend
}

// NewRouter returns a router with no registrations and no default.
func NewRouter() *Router {
	return &Router{backends: make(map[string]ExecutionBackend)}
}

// Register maps a target name to a backend.
func (r *Router) Register(target string, backend ExecutionBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[target] = backend
}

// SetDefault sets the backend used for local aliases and any target without
// an exact registration.
func (r *Router) SetDefault(backend ExecutionBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = backend
}

// Targets returns the registered target names, sorted.
func (r *Router) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]string, 0, len(r.backends))
	for target := range r.backends {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

func (r *Router) resolve(target string) (ExecutionBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if backend, ok := r.backends[target]; ok {
		return backend, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, &BackendError{
		Message: fmt.Sprintf("No backend registered for target: %s", target),
		Code:    "no_backend",
	}
}

func (r *Router) ResolveTarget(ctx context.Context, target string) (map[string]any, error) {
	backend, err := r.resolve(target)
	if err != nil {
		return nil, err
	}
	return backend.ResolveTarget(ctx, target)
}

func (r *Router) ListDiagnostics(ctx context.Context, target string) ([]DiagnosticInfo, error) {
	backend, err := r.resolve(target)
	if err != nil {
		return nil, err
	}
	return backend.ListDiagnostics(ctx, target)
}

func (r *Router) RunDiagnostic(ctx context.Context, action, target string, args map[string]any) (map[string]any, error) {
	backend, err := r.resolve(target)
	if err != nil {
		return nil, err
	}
	return backend.RunDiagnostic(ctx, action, target, args)
}

func (r *Router) RunShell(ctx context.Context, command, target string, opts ShellOptions) (map[string]any, error) {
	backend, err := r.resolve(target)
	if err != nil {
		return nil, err
	}
	return backend.RunShell(ctx, command, target, opts)
}
