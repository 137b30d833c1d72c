package trigger

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/dyluth/drey/pkg/blackboard"
)

// exprProgram wraps a compiled CEL program. Compilation happens once, at
// manifest-parse time; evaluation builds a small activation from the signal
// map and runs the program.
type exprProgram struct {
	source  string
	program cel.Program
}

// celEnv declares the variables available to manifest trigger expressions:
//
//	signals   map of signal key to the best signal's native value
//	score     the scheduler's current aggregate score
//	completed number of components completed so far
//
// Example expression: `"input.ready" in signals && score > 0.5`.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("signals", cel.MapType(cel.StringType, cel.AnyType)),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("completed", cel.IntType),
	)
}

// Expression compiles a CEL boolean expression into a Condition. Returns an
// error when the expression does not compile or does not produce a bool;
// manifest loading drops such requirements with a warning rather than
// treating them as always true or always false.
func Expression(source string) (Condition, error) {
	env, err := celEnv()
	if err != nil {
		return Condition{}, fmt.Errorf("failed to create expression environment: %w", err)
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return Condition{}, fmt.Errorf("failed to compile expression %q: %w", source, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Condition{}, fmt.Errorf("expression %q must produce a bool, got %s", source, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return Condition{}, fmt.Errorf("failed to build program for %q: %w", source, err)
	}

	return Condition{
		kind:        KindExpr,
		description: fmt.Sprintf("expr(%s)", source),
		program:     &exprProgram{source: source, program: program},
	}, nil
}

// eval runs the compiled program against the signal map. Evaluation errors
// (missing keys, type mismatches at runtime) make the condition unsatisfied;
// they do not propagate, keeping trigger evaluation total.
func (p *exprProgram) eval(signals map[string][]blackboard.Signal) bool {
	if p == nil {
		return false
	}

	best := make(map[string]any, len(signals))
	for key, list := range signals {
		if s, ok := blackboard.BestSignal(list); ok {
			best[key] = s.Value.Native()
		}
	}

	var score float64
	if v, ok := latestNumeric(signals[blackboard.KeyCurrentScore]); ok {
		score = v
	}
	var completed int64
	if latest, ok := blackboard.LatestSignal(signals[blackboard.KeyCompletedCount]); ok {
		completed = latest.Value.Int
	}

	out, _, err := p.program.Eval(map[string]any{
		"signals":   best,
		"score":     score,
		"completed": completed,
	})
	if err != nil {
		return false
	}

	satisfied, ok := out.Value().(bool)
	return ok && satisfied
}
