// Package component defines the contract a pluggable signal producer
// satisfies, the explicit configuration value object handed to it at
// construction, and the startup-time registry the scheduler draws from.
package component

import (
	"context"
	"time"

	"github.com/dyluth/drey/internal/manifest"
	"github.com/dyluth/drey/pkg/blackboard"
	"github.com/dyluth/drey/pkg/trigger"
)

// Component is the contract every pluggable analyzer exposes to the
// scheduler. Implementations must treat the state snapshot as read-only and
// emit signals only through Execute's return value; the scheduler commits
// them at the wave boundary.
type Component interface {
	// Name returns the component's unique identifier, matching its
	// manifest name.
	Name() string

	// Priority orders components into waves. Lower runs earlier.
	Priority() int

	// IsEnabled reports whether the component participates in runs at all.
	IsEnabled() bool

	// TriggerConditions returns the gating predicates, all of which must be
	// satisfied before the component executes. Empty means always eligible.
	TriggerConditions() []trigger.Condition

	// TriggerTimeout bounds how long the scheduler keeps re-checking an
	// unmet trigger across wave boundaries. Zero means a single check.
	TriggerTimeout() time.Duration

	// ExecutionTimeout bounds a single Execute call.
	ExecutionTimeout() time.Duration

	// IsOptional reports whether a failure or skip of this component is
	// survivable. A non-optional component's failure aborts the run.
	IsOptional() bool

	// Execute runs the analysis against the immutable snapshot and returns
	// the signals to stage for the next wave boundary. It must honour ctx
	// cancellation promptly.
	Execute(ctx context.Context, state *blackboard.State) ([]blackboard.Signal, error)
}

// Config is the immutable, fully resolved configuration a component is
// constructed with. Every field has already been through the three-tier
// resolution, so component code reads plain fields instead of consulting the
// resolver at execution time.
type Config struct {
	Name             string
	Priority         int
	Enabled          bool
	Optional         bool
	Conditions       []trigger.Condition
	TriggerTimeout   time.Duration
	ExecutionTimeout time.Duration
	Tags             []string

	// Defaults carries the resolved weights, confidence thresholds, timing
	// and feature flags for ad-hoc reads inside Execute.
	Defaults manifest.ResolvedDefaults
}

// ConfigFor resolves a component's effective configuration from its manifest
// and the resolver's tiers. A component without a manifest gets the contract
// defaults: priority 100, enabled, optional, no trigger conditions.
func ConfigFor(name string, r *manifest.Resolver) Config {
	cfg := Config{
		Name:     name,
		Priority: manifest.DefaultPriority,
		Enabled:  true,
		Optional: true,
		Defaults: r.Defaults(name),
	}
	cfg.TriggerTimeout = cfg.Defaults.Timing.TriggerTimeout
	cfg.ExecutionTimeout = cfg.Defaults.Timing.ExecutionTimeout

	if m, ok := r.Manifest(name); ok {
		cfg.Priority = m.EffectivePriority()
		cfg.Enabled = m.IsEnabled()
		cfg.Optional = m.IsOptional()
		cfg.Conditions = m.Conditions()
		cfg.Tags = append([]string(nil), m.Tags...)
	}
	return cfg
}

// Base supplies the contract's identity and scheduling accessors as plain
// field reads over a Config. Concrete components embed it and implement
// Execute.
type Base struct {
	cfg Config
}

// NewBase wraps a resolved Config.
func NewBase(cfg Config) Base {
	return Base{cfg: cfg}
}

func (b Base) Name() string                           { return b.cfg.Name }
func (b Base) Priority() int                          { return b.cfg.Priority }
func (b Base) IsEnabled() bool                        { return b.cfg.Enabled }
func (b Base) TriggerConditions() []trigger.Condition { return b.cfg.Conditions }
func (b Base) TriggerTimeout() time.Duration          { return b.cfg.TriggerTimeout }
func (b Base) ExecutionTimeout() time.Duration        { return b.cfg.ExecutionTimeout }
func (b Base) IsOptional() bool                       { return b.cfg.Optional }

// Config returns the resolved configuration for shortcut reads.
func (b Base) Config() Config { return b.cfg }

// Func is a bare execution body for components defined inline.
type Func func(ctx context.Context, state *blackboard.State) ([]blackboard.Signal, error)

// FuncComponent adapts a Func to the Component contract. Used by tests and
// demo fixtures; production components embed Base directly.
type FuncComponent struct {
	Base
	fn Func
}

// NewFunc builds a FuncComponent from a resolved Config and a body.
func NewFunc(cfg Config, fn Func) *FuncComponent {
	return &FuncComponent{Base: NewBase(cfg), fn: fn}
}

// Execute implements Component.
func (f *FuncComponent) Execute(ctx context.Context, state *blackboard.State) ([]blackboard.Signal, error) {
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(ctx, state)
}
