// Package strategy defines the two-hook Strategy interface that strategy
// code implements, the per-session execution Context handed to those hooks,
// and a Registry of strategy factories.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"quantbt/internal/domain"
)

// BarSet is the current session's bars keyed by symbol.
type BarSet map[string]domain.Bar

// Strategy is the interface all trading strategies implement. Initialize is
// called once before the first session; HandleData once per session. This
// two-hook shape is the compatibility contract for ported strategies.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Initialize performs one-time setup before the first session.
	Initialize(ctx *Context) error

	// HandleData is called once per session with the session's bars. It
	// places orders through the context.
	HandleData(ctx *Context, data BarSet) error
}

// Factory constructs a fresh Strategy instance from parameters. Each
// backtest run gets its own instance so concurrent runs in a sweep never
// share strategy state.
type Factory func(params map[string]float64) (Strategy, error)

// Registry holds named strategy factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given name, replacing any previous
// registration.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New constructs a fresh instance of the named strategy.
func (r *Registry) New(name string, params map[string]float64) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy: %q not registered", name)
	}
	return f(params)
}

// List returns the sorted names of all registered strategies.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
