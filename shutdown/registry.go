package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"insightpdf/core"
)

// Priorities used by the service. Lower runs earlier.
const (
	PriorityHTTP    = 10 // stop accepting requests and close websockets
	PriorityQueue   = 20 // stop workers
	PriorityCleanup = 30 // purge old task records, remove stale temp files
	PriorityStorage = 40 // flush run history and close the database
	PriorityLogging = 90
)

type hook struct {
	name     string
	priority int
	fn       core.ShutdownFunc
}

// Registry holds cleanup hooks and runs them once, ordered by priority.
// Hooks with equal priority run in registration order.
type Registry struct {
	mu    sync.Mutex
	hooks []hook
	ran   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a hook. It is ignored once Run has been called.
func (r *Registry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ran {
		return
	}
	r.hooks = append(r.hooks, hook{name: name, priority: priority, fn: fn})
}

func (r *Registry) ordered() []hook {
	out := make([]hook, len(r.hooks))
	copy(out, r.hooks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].priority < out[j].priority
	})
	return out
}

// Run calls every hook, even after failures, and returns the failures
// prefixed with the hook name. A second call is a no-op.
func (r *Registry) Run(ctx context.Context) []error {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return nil
	}
	r.ran = true
	hooks := r.ordered()
	r.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errs
}

// Names lists hook names in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	hooks := r.ordered()
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.name
	}
	return names
}

// Len returns the number of registered hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}
