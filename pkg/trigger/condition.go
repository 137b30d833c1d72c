// Package trigger provides the pure predicate language that gates component
// execution. A Condition is an immutable tree built once (typically at
// manifest-parse time) and evaluated many times against a snapshot's signal
// map. Evaluation is side-effect free and performs no I/O, so the scheduler
// can check triggers at every wave boundary without cost concerns.
package trigger

import (
	"fmt"
	"strings"

	"github.com/dyluth/drey/pkg/blackboard"
)

// Kind identifies the variant of a Condition node.
type Kind string

const (
	KindSignalExists   Kind = "signal_exists"
	KindSignalEquals   Kind = "signal_equals"
	KindPredicate      Kind = "predicate"
	KindAllOf          Kind = "all_of"
	KindAnyOf          Kind = "any_of"
	KindNot            Kind = "not"
	KindComponentCount Kind = "component_count"
	KindScoreThreshold Kind = "score_threshold"
	KindExpr           Kind = "expr"
)

// Condition is one node of an immutable predicate tree over the signal map.
// Construct conditions with the package functions; the zero Condition is
// never satisfied.
type Condition struct {
	kind        Kind
	key         string
	literal     blackboard.Value
	predicate   func(blackboard.Value) bool
	description string
	children    []Condition
	minCount    int64
	threshold   float64
	program     *exprProgram
}

// SignalExists is satisfied when at least one signal exists under key.
func SignalExists(key string) Condition {
	return Condition{
		kind:        KindSignalExists,
		key:         key,
		description: fmt.Sprintf("signal %q exists", key),
	}
}

// SignalEquals is satisfied when the best signal under key equals the given
// literal. The literal's kind is fixed here, once, so evaluation is a plain
// tagged-union comparison.
func SignalEquals(key string, literal blackboard.Value) Condition {
	return Condition{
		kind:        KindSignalEquals,
		key:         key,
		literal:     literal,
		description: fmt.Sprintf("signal %q == %s", key, literal.String()),
	}
}

// SignalPredicate is satisfied when fn returns true for the best signal's
// value under key. The description names the predicate in reports and fatal
// trigger errors, since the function itself cannot be printed.
func SignalPredicate(key string, fn func(blackboard.Value) bool, description string) Condition {
	return Condition{
		kind:        KindPredicate,
		key:         key,
		predicate:   fn,
		description: fmt.Sprintf("signal %q satisfies %s", key, description),
	}
}

// AllOf is satisfied when every child is satisfied. AllOf() with no children
// is vacuously true.
func AllOf(children ...Condition) Condition {
	return Condition{
		kind:        KindAllOf,
		children:    children,
		description: joinDescriptions("all of", children, "true"),
	}
}

// AnyOf is satisfied when at least one child is satisfied. AnyOf() with no
// children is vacuously false.
func AnyOf(children ...Condition) Condition {
	return Condition{
		kind:        KindAnyOf,
		children:    children,
		description: joinDescriptions("any of", children, "false"),
	}
}

// Not inverts a condition. Used for manifest skip_when clauses.
func Not(child Condition) Condition {
	return Condition{
		kind:        KindNot,
		children:    []Condition{child},
		description: fmt.Sprintf("not (%s)", child.Description()),
	}
}

// ComponentCount is satisfied once at least min components have completed.
// It reads the scheduler-maintained reserved key, so it needs no special
// scheduler support.
func ComponentCount(min int) Condition {
	return Condition{
		kind:        KindComponentCount,
		key:         blackboard.KeyCompletedCount,
		minCount:    int64(min),
		description: fmt.Sprintf("at least %d components completed", min),
	}
}

// ScoreThreshold is satisfied when the most recent numeric signal under key
// is at least min. Pass blackboard.KeyCurrentScore to gate on the
// scheduler's aggregate score.
func ScoreThreshold(key string, min float64) Condition {
	return Condition{
		kind:        KindScoreThreshold,
		key:         key,
		threshold:   min,
		description: fmt.Sprintf("signal %q >= %v", key, min),
	}
}

// Kind returns the variant of this condition node.
func (c Condition) Kind() Kind { return c.kind }

// Description returns a human-readable rendering of the condition, used in
// run reports and fatal trigger-timeout errors.
func (c Condition) Description() string {
	if c.description == "" {
		return "never"
	}
	return c.description
}

// IsSatisfied evaluates the condition against a signal map. It is a pure
// structural recursion: calling it twice with the same inputs yields the same
// result, and the signal map is never modified.
func (c Condition) IsSatisfied(signals map[string][]blackboard.Signal) bool {
	switch c.kind {
	case KindSignalExists:
		return len(signals[c.key]) > 0

	case KindSignalEquals:
		best, ok := blackboard.BestSignal(signals[c.key])
		return ok && best.Value.Equal(c.literal)

	case KindPredicate:
		best, ok := blackboard.BestSignal(signals[c.key])
		return ok && c.predicate != nil && c.predicate(best.Value)

	case KindAllOf:
		for _, child := range c.children {
			if !child.IsSatisfied(signals) {
				return false
			}
		}
		return true

	case KindAnyOf:
		for _, child := range c.children {
			if child.IsSatisfied(signals) {
				return true
			}
		}
		return false

	case KindNot:
		return len(c.children) == 1 && !c.children[0].IsSatisfied(signals)

	case KindComponentCount:
		latest, ok := blackboard.LatestSignal(signals[c.key])
		return ok && latest.Value.Int >= c.minCount

	case KindScoreThreshold:
		score, ok := latestNumeric(signals[c.key])
		return ok && score >= c.threshold

	case KindExpr:
		return c.program.eval(signals)

	default:
		return false
	}
}

// latestNumeric returns the newest signal's numeric value. Scores evolve
// over a run, so threshold checks read the most recent write rather than the
// most confident one.
func latestNumeric(signals []blackboard.Signal) (float64, bool) {
	latest, ok := blackboard.LatestSignal(signals)
	if !ok {
		return 0, false
	}
	return latest.Value.AsFloat()
}

func joinDescriptions(label string, children []Condition, empty string) string {
	if len(children) == 0 {
		return fmt.Sprintf("%s [] (vacuously %s)", label, empty)
	}
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.Description()
	}
	return fmt.Sprintf("%s [%s]", label, strings.Join(parts, "; "))
}
