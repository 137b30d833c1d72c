package component

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dyluth/drey/internal/manifest"
)

// Gate is consulted once per component before a run starts. A vetoed
// component is constructed disabled and reported as skipped, never executed.
// Licensing enforcement plugs in here; the core ships permissive defaults.
type Gate interface {
	// Allow reports whether the named component may execute.
	Allow(name string) bool
}

// AllowAll is the permissive Gate.
type AllowAll struct{}

// Allow implements Gate.
func (AllowAll) Allow(string) bool { return true }

// DenyList vetoes the named components and allows everything else.
type DenyList map[string]struct{}

// Deny builds a DenyList from component names.
func Deny(names ...string) DenyList {
	d := make(DenyList, len(names))
	for _, n := range names {
		d[n] = struct{}{}
	}
	return d
}

// Allow implements Gate.
func (d DenyList) Allow(name string) bool {
	_, denied := d[name]
	return !denied
}

// Factory constructs a component from its resolved configuration.
type Factory func(cfg Config) (Component, error)

// Registry is the explicit startup-time table mapping component names to
// factories. Registration rejects duplicates; Build validates eagerly that
// every non-optional manifest has a registered producer, so a missing
// required capability fails before any run begins rather than mid-run.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the component name. Registering the same
// name twice is a programming error and is rejected.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("component name cannot be empty")
	}
	if f == nil {
		return fmt.Errorf("factory for %q cannot be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("component %q is already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register for init-time wiring, panicking on error.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names returns the registered component names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build instantiates every registered component with its resolved
// configuration, applying the gate. It fails fast if any loaded manifest
// declares a non-optional component that has no registered factory.
func (r *Registry) Build(res *manifest.Resolver, gate Gate) ([]Component, error) {
	if gate == nil {
		gate = AllowAll{}
	}

	r.mu.Lock()
	factories := make(map[string]Factory, len(r.factories))
	for n, f := range r.factories {
		factories[n] = f
	}
	r.mu.Unlock()

	for _, m := range res.AllManifests() {
		if m.IsOptional() {
			continue
		}
		if _, ok := factories[m.Name]; !ok {
			return nil, fmt.Errorf("manifest %q requires a component but none is registered", m.Name)
		}
	}

	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)

	components := make([]Component, 0, len(names))
	for _, name := range names {
		cfg := ConfigFor(name, res)
		if !gate.Allow(name) {
			cfg.Enabled = false
		}
		c, err := factories[name](cfg)
		if err != nil {
			return nil, fmt.Errorf("building component %q: %w", name, err)
		}
		components = append(components, c)
	}
	return components, nil
}
