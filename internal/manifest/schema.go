// Package manifest implements the declarative component definitions that
// drive scheduling, and the three-tier configuration resolver that turns
// them into effective parameters. A manifest describes one component: when
// it runs (priority, triggers), how it runs (lane, timeouts, budget), and
// its default configuration. Manifests are loaded once per process, cached
// by name, and hot-reloadable.
package manifest

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/drey/pkg/blackboard"
	"github.com/dyluth/drey/pkg/trigger"
)

// Hard-coded fallbacks, the lowest tier of the resolution hierarchy. A
// component with no manifest at all runs with exactly these.
const (
	DefaultPriority         = 100
	DefaultTriggerTimeout   = 500 * time.Millisecond
	DefaultExecutionTimeout = 2000 * time.Millisecond
	DefaultCacheRefresh     = 300 * time.Second
)

// Manifest is the top-level declarative definition of one component, parsed
// from a YAML document. Optional scalars are pointers so that an absent field
// falls through to the next configuration tier.
type Manifest struct {
	Name       string      `yaml:"name"`
	Priority   *int        `yaml:"priority,omitempty"` // Lower runs earlier; default 100
	Enabled    *bool       `yaml:"enabled,omitempty"`  // Default true
	Optional   *bool       `yaml:"optional,omitempty"` // Default true; false makes failures fatal
	Taxonomy   Taxonomy    `yaml:"taxonomy,omitempty"`
	Triggers   Triggers    `yaml:"triggers,omitempty"`
	Emits      Emits       `yaml:"emits,omitempty"`
	Lane       Lane        `yaml:"lane,omitempty"`
	Escalation *Escalation `yaml:"escalation,omitempty"`
	Budget     *Budget     `yaml:"budget,omitempty"`
	Defaults   Defaults    `yaml:"defaults,omitempty"`
	Tags       []string    `yaml:"tags,omitempty"`

	// Compiled trigger conditions, built once at load time from
	// Triggers.Requires / When / SkipWhen. Unparseable requirements are
	// dropped with a warning, never treated as always-true or always-false.
	conditions []trigger.Condition
}

// Taxonomy classifies a component; informational only, carried into reports.
type Taxonomy struct {
	Kind        string `yaml:"kind,omitempty"`        // e.g. "detector", "enricher"
	Determinism string `yaml:"determinism,omitempty"` // e.g. "deterministic", "stochastic"
	Persistence string `yaml:"persistence,omitempty"` // e.g. "stateless", "per_run"
}

// Triggers declares the conditions gating a component's execution.
type Triggers struct {
	Requires []Requirement `yaml:"requires,omitempty"`  // Signal existence/equality requirements
	When     []string      `yaml:"when,omitempty"`      // CEL expressions, all must hold
	SkipWhen []string      `yaml:"skip_when,omitempty"` // CEL expressions, any skips the component
}

// Requirement is one entry of triggers.requires. With a Value it becomes an
// equality trigger; without, an existence trigger.
type Requirement struct {
	Signal string `yaml:"signal"`
	Value  any    `yaml:"value,omitempty"`
}

// Emits declares the signal keys a component is expected to produce; used
// for documentation, validation tooling and dry-run simulation.
type Emits struct {
	OnStart     []Emission `yaml:"on_start,omitempty"`
	OnComplete  []Emission `yaml:"on_complete,omitempty"`
	OnFailure   []Emission `yaml:"on_failure,omitempty"`
	Conditional []Emission `yaml:"conditional,omitempty"`
}

// Emission names one declared output signal.
type Emission struct {
	Key  string `yaml:"key"`
	Type string `yaml:"type,omitempty"` // bool, int, float, string, list, structured
}

// Lane names the concurrency domain a component executes in. Components
// sharing a lane share its MaxConcurrency ceiling; an empty lane name means
// the unbounded default lane.
type Lane struct {
	Name           string `yaml:"name,omitempty"`
	MaxConcurrency int    `yaml:"max_concurrency,omitempty"`
	Priority       int    `yaml:"priority,omitempty"`
}

// Escalation configures the bounded secondary pass that may run after the
// normal wave sequence.
type Escalation struct {
	Targets map[string]*EscalationTarget `yaml:"targets,omitempty"`
}

// EscalationTarget names a component to invoke when its When conditions are
// all satisfied and no SkipWhen condition holds.
type EscalationTarget struct {
	When     []string `yaml:"when,omitempty"`
	SkipWhen []string `yaml:"skip_when,omitempty"`

	whenConds []trigger.Condition
	skipConds []trigger.Condition
}

// ShouldFire evaluates the target's gating conditions against a signal map.
func (t *EscalationTarget) ShouldFire(signals map[string][]blackboard.Signal) bool {
	if !trigger.AllOf(t.whenConds...).IsSatisfied(signals) {
		return false
	}
	return !trigger.AnyOf(t.skipConds...).IsSatisfied(signals)
}

// Budget caps an escalation target's execution: wall-clock duration plus
// advisory token and cost ceilings the component can consult.
type Budget struct {
	MaxDuration Duration `yaml:"max_duration,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	MaxCost     float64  `yaml:"max_cost,omitempty"`
}

// Defaults holds a component's default configuration (tier 2 of the
// resolution hierarchy). Scalars are pointers so an absent field falls
// through to the hard-coded fallback.
type Defaults struct {
	Weights    Weights        `yaml:"weights,omitempty"`
	Confidence Confidence     `yaml:"confidence,omitempty"`
	Timing     Timing         `yaml:"timing,omitempty"`
	Features   Features       `yaml:"features,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

// Weights are the scoring weights a detector applies to its findings.
type Weights struct {
	Base        *float64 `yaml:"base,omitempty"`
	BotSignal   *float64 `yaml:"bot_signal,omitempty"`
	HumanSignal *float64 `yaml:"human_signal,omitempty"`
	Verified    *float64 `yaml:"verified,omitempty"`
	EarlyExit   *float64 `yaml:"early_exit,omitempty"`
}

// Confidence holds the confidence levels and thresholds a detector emits
// and compares against.
type Confidence struct {
	Neutral             *float64 `yaml:"neutral,omitempty"`
	BotDetected         *float64 `yaml:"bot_detected,omitempty"`
	HumanIndicated      *float64 `yaml:"human_indicated,omitempty"`
	StrongSignal        *float64 `yaml:"strong_signal,omitempty"`
	HighThreshold       *float64 `yaml:"high_threshold,omitempty"`
	LowThreshold        *float64 `yaml:"low_threshold,omitempty"`
	EscalationThreshold *float64 `yaml:"escalation_threshold,omitempty"`
}

// Timing holds execution timing configuration, in the units the original
// manifests use (milliseconds and seconds).
type Timing struct {
	TimeoutMs        *int `yaml:"timeout_ms,omitempty"`
	TriggerTimeoutMs *int `yaml:"trigger_timeout_ms,omitempty"`
	CacheRefreshSec  *int `yaml:"cache_refresh_sec,omitempty"`
}

// Features holds a component's feature flags.
type Features struct {
	DetailedLogging *bool `yaml:"detailed_logging,omitempty"`
	EnableCache     *bool `yaml:"enable_cache,omitempty"`
	CanEarlyExit    *bool `yaml:"can_early_exit,omitempty"`
	CanEscalate     *bool `yaml:"can_escalate,omitempty"`
}

// Duration parses either a Go duration string ("30s") or an integer number
// of milliseconds from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var ms int64
	if err := node.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string or integer milliseconds: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// AsDuration returns the native representation.
func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// EffectivePriority returns the manifest priority, defaulting to 100.
func (m *Manifest) EffectivePriority() int {
	if m == nil || m.Priority == nil {
		return DefaultPriority
	}
	return *m.Priority
}

// IsEnabled reports whether the component is enabled, defaulting to true.
func (m *Manifest) IsEnabled() bool {
	return m == nil || m.Enabled == nil || *m.Enabled
}

// IsOptional reports whether failures are non-fatal, defaulting to true.
func (m *Manifest) IsOptional() bool {
	return m == nil || m.Optional == nil || *m.Optional
}

// Conditions returns the compiled trigger conditions. The slice is shared
// and must be treated as read-only.
func (m *Manifest) Conditions() []trigger.Condition {
	if m == nil {
		return nil
	}
	return m.conditions
}

// HasTag reports whether the manifest carries the given tag.
func (m *Manifest) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate performs strict validation on the manifest.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest name is required")
	}
	if m.Lane.MaxConcurrency < 0 {
		return fmt.Errorf("manifest %q: lane.max_concurrency must be >= 0, got %d", m.Name, m.Lane.MaxConcurrency)
	}
	if m.Budget != nil {
		if m.Budget.MaxTokens < 0 {
			return fmt.Errorf("manifest %q: budget.max_tokens must be >= 0", m.Name)
		}
		if m.Budget.MaxCost < 0 {
			return fmt.Errorf("manifest %q: budget.max_cost must be >= 0", m.Name)
		}
	}
	if m.Defaults.Timing.TimeoutMs != nil && *m.Defaults.Timing.TimeoutMs < 0 {
		return fmt.Errorf("manifest %q: defaults.timing.timeout_ms must be >= 0", m.Name)
	}
	if m.Defaults.Timing.TriggerTimeoutMs != nil && *m.Defaults.Timing.TriggerTimeoutMs < 0 {
		return fmt.Errorf("manifest %q: defaults.timing.trigger_timeout_ms must be >= 0", m.Name)
	}
	for field, p := range map[string]*float64{
		"confidence.neutral":              m.Defaults.Confidence.Neutral,
		"confidence.bot_detected":         m.Defaults.Confidence.BotDetected,
		"confidence.human_indicated":      m.Defaults.Confidence.HumanIndicated,
		"confidence.strong_signal":        m.Defaults.Confidence.StrongSignal,
		"confidence.high_threshold":       m.Defaults.Confidence.HighThreshold,
		"confidence.low_threshold":        m.Defaults.Confidence.LowThreshold,
		"confidence.escalation_threshold": m.Defaults.Confidence.EscalationThreshold,
	} {
		if p != nil && (*p < 0 || *p > 1) {
			return fmt.Errorf("manifest %q: defaults.%s must be in [0, 1], got %v", m.Name, field, *p)
		}
	}
	return nil
}

// compileTriggers builds the condition tree from the declarative trigger
// section, returning a warning per dropped requirement. Called once at load.
func (m *Manifest) compileTriggers() []string {
	var warnings []string
	var conds []trigger.Condition

	for i, req := range m.Triggers.Requires {
		if req.Signal == "" {
			warnings = append(warnings,
				fmt.Sprintf("manifest %q: triggers.requires[%d] has no signal key, dropped", m.Name, i))
			continue
		}
		if req.Value == nil {
			conds = append(conds, trigger.SignalExists(req.Signal))
			continue
		}
		literal, err := blackboard.FromAny(req.Value)
		if err != nil {
			warnings = append(warnings,
				fmt.Sprintf("manifest %q: triggers.requires[%d] value unusable (%v), dropped", m.Name, i, err))
			continue
		}
		conds = append(conds, trigger.SignalEquals(req.Signal, literal))
	}

	for i, source := range m.Triggers.When {
		cond, err := trigger.Expression(source)
		if err != nil {
			warnings = append(warnings,
				fmt.Sprintf("manifest %q: triggers.when[%d] %v, dropped", m.Name, i, err))
			continue
		}
		conds = append(conds, cond)
	}

	var skips []trigger.Condition
	for i, source := range m.Triggers.SkipWhen {
		cond, err := trigger.Expression(source)
		if err != nil {
			warnings = append(warnings,
				fmt.Sprintf("manifest %q: triggers.skip_when[%d] %v, dropped", m.Name, i, err))
			continue
		}
		skips = append(skips, cond)
	}
	if len(skips) > 0 {
		conds = append(conds, trigger.Not(trigger.AnyOf(skips...)))
	}

	m.conditions = conds

	if m.Escalation != nil {
		for name, target := range m.Escalation.Targets {
			if target == nil {
				continue
			}
			for i, source := range target.When {
				cond, err := trigger.Expression(source)
				if err != nil {
					warnings = append(warnings,
						fmt.Sprintf("manifest %q: escalation target %q when[%d] %v, dropped", m.Name, name, i, err))
					continue
				}
				target.whenConds = append(target.whenConds, cond)
			}
			for i, source := range target.SkipWhen {
				cond, err := trigger.Expression(source)
				if err != nil {
					warnings = append(warnings,
						fmt.Sprintf("manifest %q: escalation target %q skip_when[%d] %v, dropped", m.Name, name, i, err))
					continue
				}
				target.skipConds = append(target.skipConds, cond)
			}
		}
	}

	return warnings
}
