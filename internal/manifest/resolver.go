package manifest

import (
	"log"
	"sync"
	"time"
)

// ResolvedDefaults is the explicit, immutable configuration value object
// handed to a component at construction time. Every field has already been
// resolved through the three tiers (override store > manifest defaults >
// hard-coded fallback), so component code reads plain fields instead of
// chasing configuration at runtime.
type ResolvedDefaults struct {
	Weights    ResolvedWeights
	Confidence ResolvedConfidence
	Timing     ResolvedTiming
	Features   ResolvedFeatures

	// Parameters holds the manifest's free-form parameter map. Ad-hoc reads
	// go through the Resolver's typed accessors, which apply the same
	// three-tier order per parameter.
	Parameters map[string]any
}

// ResolvedWeights mirrors Defaults.Weights with every field populated.
type ResolvedWeights struct {
	Base        float64
	BotSignal   float64
	HumanSignal float64
	Verified    float64
	EarlyExit   float64
}

// ResolvedConfidence mirrors Defaults.Confidence with every field populated.
type ResolvedConfidence struct {
	Neutral             float64
	BotDetected         float64
	HumanIndicated      float64
	StrongSignal        float64
	HighThreshold       float64
	LowThreshold        float64
	EscalationThreshold float64
}

// ResolvedTiming holds effective timing as native durations.
type ResolvedTiming struct {
	ExecutionTimeout time.Duration
	TriggerTimeout   time.Duration
	CacheRefresh     time.Duration
}

// ResolvedFeatures mirrors Defaults.Features with every flag populated.
type ResolvedFeatures struct {
	DetailedLogging bool
	EnableCache     bool
	CanEarlyExit    bool
	CanEscalate     bool
}

// fallbackDefaults returns the hard-coded tier.
func fallbackDefaults() ResolvedDefaults {
	return ResolvedDefaults{
		Weights: ResolvedWeights{
			Base:        1.0,
			BotSignal:   1.0,
			HumanSignal: 1.0,
			Verified:    1.0,
			EarlyExit:   1.0,
		},
		Confidence: ResolvedConfidence{
			Neutral:             0.5,
			BotDetected:         0.9,
			HumanIndicated:      0.8,
			StrongSignal:        0.95,
			HighThreshold:       0.8,
			LowThreshold:        0.3,
			EscalationThreshold: 0.85,
		},
		Timing: ResolvedTiming{
			ExecutionTimeout: DefaultExecutionTimeout,
			TriggerTimeout:   DefaultTriggerTimeout,
			CacheRefresh:     DefaultCacheRefresh,
		},
		Features: ResolvedFeatures{
			EnableCache: true,
		},
		Parameters: map[string]any{},
	}
}

// Resolver resolves effective component configuration through the three-tier
// hierarchy and caches the result per component name. The cache is populated
// lazily and safe for concurrent read after first population; a manifest
// reload invalidates it.
type Resolver struct {
	lib       *Library
	overrides OverrideStore // may be nil: tier 1 absent

	mu       sync.RWMutex
	defaults map[string]ResolvedDefaults
}

// NewResolver creates a resolver over the library, with an optional override
// store as the runtime tier.
func NewResolver(lib *Library, overrides OverrideStore) *Resolver {
	r := &Resolver{
		lib:       lib,
		overrides: overrides,
		defaults:  make(map[string]ResolvedDefaults),
	}
	lib.OnReload(r.invalidate)
	return r
}

func (r *Resolver) invalidate() {
	r.mu.Lock()
	r.defaults = make(map[string]ResolvedDefaults)
	r.mu.Unlock()
}

// Manifest returns the named component's manifest, if one is loaded.
func (r *Resolver) Manifest(name string) (*Manifest, bool) {
	return r.lib.Get(name)
}

// AllManifests returns every loaded manifest, sorted by name.
func (r *Resolver) AllManifests() []*Manifest {
	return r.lib.All()
}

// Defaults returns the component's fully resolved configuration, cached per
// name. A component without a manifest resolves to the hard-coded fallbacks.
func (r *Resolver) Defaults(name string) ResolvedDefaults {
	r.mu.RLock()
	cached, ok := r.defaults[name]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	resolved := r.resolveDefaults(name)

	r.mu.Lock()
	r.defaults[name] = resolved
	r.mu.Unlock()
	return resolved
}

// resolveDefaults applies the tiers bottom-up: hard-coded fallback, then
// manifest defaults, then the override store.
func (r *Resolver) resolveDefaults(name string) ResolvedDefaults {
	resolved := fallbackDefaults()

	m, ok := r.lib.Get(name)
	if ok {
		d := m.Defaults
		overlayFloat(&resolved.Weights.Base, d.Weights.Base)
		overlayFloat(&resolved.Weights.BotSignal, d.Weights.BotSignal)
		overlayFloat(&resolved.Weights.HumanSignal, d.Weights.HumanSignal)
		overlayFloat(&resolved.Weights.Verified, d.Weights.Verified)
		overlayFloat(&resolved.Weights.EarlyExit, d.Weights.EarlyExit)

		overlayFloat(&resolved.Confidence.Neutral, d.Confidence.Neutral)
		overlayFloat(&resolved.Confidence.BotDetected, d.Confidence.BotDetected)
		overlayFloat(&resolved.Confidence.HumanIndicated, d.Confidence.HumanIndicated)
		overlayFloat(&resolved.Confidence.StrongSignal, d.Confidence.StrongSignal)
		overlayFloat(&resolved.Confidence.HighThreshold, d.Confidence.HighThreshold)
		overlayFloat(&resolved.Confidence.LowThreshold, d.Confidence.LowThreshold)
		overlayFloat(&resolved.Confidence.EscalationThreshold, d.Confidence.EscalationThreshold)

		if d.Timing.TimeoutMs != nil {
			resolved.Timing.ExecutionTimeout = time.Duration(*d.Timing.TimeoutMs) * time.Millisecond
		}
		if d.Timing.TriggerTimeoutMs != nil {
			resolved.Timing.TriggerTimeout = time.Duration(*d.Timing.TriggerTimeoutMs) * time.Millisecond
		}
		if d.Timing.CacheRefreshSec != nil {
			resolved.Timing.CacheRefresh = time.Duration(*d.Timing.CacheRefreshSec) * time.Second
		}

		overlayBool(&resolved.Features.DetailedLogging, d.Features.DetailedLogging)
		overlayBool(&resolved.Features.EnableCache, d.Features.EnableCache)
		overlayBool(&resolved.Features.CanEarlyExit, d.Features.CanEarlyExit)
		overlayBool(&resolved.Features.CanEscalate, d.Features.CanEscalate)

		resolved.Parameters = make(map[string]any, len(d.Parameters))
		for key, v := range d.Parameters {
			resolved.Parameters[key] = v
		}
	}

	r.overlayOverrides(name, &resolved)
	return resolved
}

func overlayFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func overlayBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// overlayOverrides applies the runtime override tier field by field.
func (r *Resolver) overlayOverrides(name string, resolved *ResolvedDefaults) {
	if r.overrides == nil {
		return
	}

	floatFields := []struct {
		section, field string
		dst            *float64
	}{
		{"Weights", "base", &resolved.Weights.Base},
		{"Weights", "bot_signal", &resolved.Weights.BotSignal},
		{"Weights", "human_signal", &resolved.Weights.HumanSignal},
		{"Weights", "verified", &resolved.Weights.Verified},
		{"Weights", "early_exit", &resolved.Weights.EarlyExit},
		{"Confidence", "neutral", &resolved.Confidence.Neutral},
		{"Confidence", "bot_detected", &resolved.Confidence.BotDetected},
		{"Confidence", "human_indicated", &resolved.Confidence.HumanIndicated},
		{"Confidence", "strong_signal", &resolved.Confidence.StrongSignal},
		{"Confidence", "high_threshold", &resolved.Confidence.HighThreshold},
		{"Confidence", "low_threshold", &resolved.Confidence.LowThreshold},
		{"Confidence", "escalation_threshold", &resolved.Confidence.EscalationThreshold},
	}
	for _, f := range floatFields {
		if raw, ok := r.overrides.Lookup(FieldPath(name, f.section, f.field)); ok {
			if v, convOK := asFloat(raw); convOK {
				*f.dst = v
			} else {
				r.warnConversion(name, f.section+"."+f.field, "float", raw)
			}
		}
	}

	durationFields := []struct {
		field string
		dst   *time.Duration
	}{
		{"timeout_ms", &resolved.Timing.ExecutionTimeout},
		{"trigger_timeout_ms", &resolved.Timing.TriggerTimeout},
	}
	for _, f := range durationFields {
		if raw, ok := r.overrides.Lookup(FieldPath(name, "Timing", f.field)); ok {
			if ms, convOK := asInt(raw); convOK {
				*f.dst = time.Duration(ms) * time.Millisecond
			} else {
				r.warnConversion(name, "Timing."+f.field, "int", raw)
			}
		}
	}
	if raw, ok := r.overrides.Lookup(FieldPath(name, "Timing", "cache_refresh_sec")); ok {
		if sec, convOK := asInt(raw); convOK {
			resolved.Timing.CacheRefresh = time.Duration(sec) * time.Second
		} else {
			r.warnConversion(name, "Timing.cache_refresh_sec", "int", raw)
		}
	}

	boolFields := []struct {
		field string
		dst   *bool
	}{
		{"detailed_logging", &resolved.Features.DetailedLogging},
		{"enable_cache", &resolved.Features.EnableCache},
		{"can_early_exit", &resolved.Features.CanEarlyExit},
		{"can_escalate", &resolved.Features.CanEscalate},
	}
	for _, f := range boolFields {
		if raw, ok := r.overrides.Lookup(FieldPath(name, "Features", f.field)); ok {
			if v, convOK := asBool(raw); convOK {
				*f.dst = v
			} else {
				r.warnConversion(name, "Features."+f.field, "bool", raw)
			}
		}
	}
}

// lookupParameter walks tiers 1 and 2 for a free-form parameter, returning
// raw values in tier order. Conversion happens at the call site so a value
// that fails conversion falls through to the next tier.
func (r *Resolver) lookupParameter(component, param string) []any {
	var tiers []any
	if r.overrides != nil {
		if v, ok := r.overrides.Lookup(ParameterPath(component, param)); ok {
			tiers = append(tiers, v)
		}
	}
	if m, ok := r.lib.Get(component); ok {
		if v, ok := m.Defaults.Parameters[param]; ok {
			tiers = append(tiers, v)
		}
	}
	return tiers
}

func (r *Resolver) warnConversion(component, param, want string, got any) {
	log.Printf("[manifest] warning: %v", &ConversionError{
		Component: component, Parameter: param, Want: want, Got: got,
	})
}

// IntParameter resolves an integer parameter through the three tiers.
func (r *Resolver) IntParameter(component, param string, fallback int) int {
	for _, raw := range r.lookupParameter(component, param) {
		if v, ok := asInt(raw); ok {
			return v
		}
		r.warnConversion(component, param, "int", raw)
	}
	return fallback
}

// FloatParameter resolves a float parameter through the three tiers.
func (r *Resolver) FloatParameter(component, param string, fallback float64) float64 {
	for _, raw := range r.lookupParameter(component, param) {
		if v, ok := asFloat(raw); ok {
			return v
		}
		r.warnConversion(component, param, "float", raw)
	}
	return fallback
}

// BoolParameter resolves a boolean parameter through the three tiers.
func (r *Resolver) BoolParameter(component, param string, fallback bool) bool {
	for _, raw := range r.lookupParameter(component, param) {
		if v, ok := asBool(raw); ok {
			return v
		}
		r.warnConversion(component, param, "bool", raw)
	}
	return fallback
}

// StringParameter resolves a string parameter through the three tiers.
func (r *Resolver) StringParameter(component, param string, fallback string) string {
	for _, raw := range r.lookupParameter(component, param) {
		if v, ok := asString(raw); ok {
			return v
		}
		r.warnConversion(component, param, "string", raw)
	}
	return fallback
}

// DurationParameter resolves a duration parameter through the three tiers.
func (r *Resolver) DurationParameter(component, param string, fallback time.Duration) time.Duration {
	for _, raw := range r.lookupParameter(component, param) {
		if v, ok := asDuration(raw); ok {
			return v
		}
		r.warnConversion(component, param, "duration", raw)
	}
	return fallback
}

// StringListParameter resolves a string-list parameter through the three
// tiers.
func (r *Resolver) StringListParameter(component, param string, fallback []string) []string {
	for _, raw := range r.lookupParameter(component, param) {
		if v, ok := asStringList(raw); ok {
			return v
		}
		r.warnConversion(component, param, "string list", raw)
	}
	return fallback
}
