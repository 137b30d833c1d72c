package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/internal/component"
	"github.com/dyluth/drey/internal/manifest"
	"github.com/dyluth/drey/pkg/blackboard"
	"github.com/dyluth/drey/pkg/trigger"
)

// captureSink records every published event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func mustSignal(t *testing.T, key string, value blackboard.Value, confidence float64, source string) blackboard.Signal {
	t.Helper()
	s, err := blackboard.NewSignal(key, value, confidence, source)
	require.NoError(t, err)
	return s
}

type compOpt func(*component.Config)

func withPriority(p int) compOpt { return func(c *component.Config) { c.Priority = p } }
func withConditions(conds ...trigger.Condition) compOpt {
	return func(c *component.Config) { c.Conditions = conds }
}
func withTriggerTimeout(d time.Duration) compOpt {
	return func(c *component.Config) { c.TriggerTimeout = d }
}
func withExecutionTimeout(d time.Duration) compOpt {
	return func(c *component.Config) { c.ExecutionTimeout = d }
}
func asRequired() compOpt { return func(c *component.Config) { c.Optional = false } }
func asDisabled() compOpt { return func(c *component.Config) { c.Enabled = false } }

func testComponent(name string, fn component.Func, opts ...compOpt) component.Component {
	cfg := component.Config{
		Name:             name,
		Priority:         manifest.DefaultPriority,
		Enabled:          true,
		Optional:         true,
		TriggerTimeout:   manifest.DefaultTriggerTimeout,
		ExecutionTimeout: manifest.DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return component.NewFunc(cfg, fn)
}

func emits(t *testing.T, key string, value blackboard.Value, confidence float64) component.Func {
	return func(_ context.Context, _ *blackboard.State) ([]blackboard.Signal, error) {
		return []blackboard.Signal{mustSignal(t, key, value, confidence, "test")}, nil
	}
}

func newTestEngine(res *manifest.Resolver, sink EventSink) *Engine {
	return NewEngine(res, "test", sink)
}

func TestRunCommitsSignalsAndCompletions(t *testing.T) {
	e := newTestEngine(nil, nil)

	state, report, err := e.Run(context.Background(), Request{
		RequestID: "req-1",
		Components: []component.Component{
			testComponent("alpha", emits(t, "alpha.done", blackboard.BoolValue(true), 0.9)),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "req-1", state.RequestID())
	assert.True(t, state.HasSignal("alpha.done"))
	assert.Equal(t, []string{"alpha"}, state.CompletedComponents())
	assert.Empty(t, state.FailedComponents())

	cr, ok := report.Outcome("alpha")
	require.True(t, ok)
	assert.Equal(t, OutcomeCompleted, cr.Outcome)
	assert.Equal(t, 1, cr.Signals)
}

func TestWaveOrderingMakesSignalsVisibleNextWave(t *testing.T) {
	e := newTestEngine(nil, nil)

	producer := testComponent("producer", emits(t, "stage.one", blackboard.BoolValue(true), 1.0), withPriority(10))
	consumer := testComponent("consumer", emits(t, "stage.two", blackboard.BoolValue(true), 1.0),
		withPriority(20), withConditions(trigger.SignalExists("stage.one")), withTriggerTimeout(time.Second))

	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{consumer, producer},
	})
	require.NoError(t, err)

	assert.True(t, state.HasSignal("stage.two"), "wave N output gates wave N+1")
	cr, _ := report.Outcome("consumer")
	assert.Equal(t, OutcomeCompleted, cr.Outcome)
}

func TestSameWaveIsolation(t *testing.T) {
	e := newTestEngine(nil, nil)

	// Both priority 100. The emitter produces the signal the gated component
	// requires; same-wave isolation means the gated one must never see it.
	emitter := testComponent("emitter", emits(t, "needed.fact", blackboard.BoolValue(true), 1.0))
	gated := testComponent("gated", emits(t, "gated.ran", blackboard.BoolValue(true), 1.0),
		withConditions(trigger.SignalExists("needed.fact")), withTriggerTimeout(0))

	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{emitter, gated},
	})
	require.NoError(t, err)

	assert.False(t, state.HasSignal("gated.ran"), "sibling output must not trigger a same-wave component")
	cr, ok := report.Outcome("gated")
	require.True(t, ok)
	assert.Equal(t, OutcomeSkippedTriggerTimeout, cr.Outcome)
}

func TestZeroTriggerTimeoutSkipsInSameWave(t *testing.T) {
	e := newTestEngine(nil, nil)

	skipped := testComponent("impatient", nil,
		withPriority(10), withConditions(trigger.SignalExists("never.present")), withTriggerTimeout(0))
	later := testComponent("later", emits(t, "later.done", blackboard.BoolValue(true), 1.0), withPriority(20))

	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{skipped, later},
	})
	require.NoError(t, err)

	cr, _ := report.Outcome("impatient")
	assert.Equal(t, OutcomeSkippedTriggerTimeout, cr.Outcome)
	assert.Equal(t, 0, cr.Wave, "skipped at its own wave boundary")
	assert.True(t, state.HasSignal("later.done"), "subsequent waves still run")
}

func TestOptionalUnmetTriggersEndSkippedWithoutError(t *testing.T) {
	e := newTestEngine(nil, nil)

	a := testComponent("a", nil, withPriority(10), withConditions(trigger.SignalExists("input.ready")))
	b := testComponent("b", nil, withPriority(20),
		withConditions(trigger.SignalPredicate("count", func(v blackboard.Value) bool {
			f, ok := v.AsFloat()
			return ok && f > 5
		}, "count > 5")))

	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{a, b},
	})
	require.NoError(t, err)

	for _, name := range []string{"a", "b"} {
		cr, ok := report.Outcome(name)
		require.True(t, ok)
		assert.Equal(t, OutcomeSkippedTriggerTimeout, cr.Outcome)
	}
	assert.Empty(t, state.FailedComponents())
}

func TestRequiredUnmetTriggerIsFatal(t *testing.T) {
	e := newTestEngine(nil, nil)

	a := testComponent("a", nil, withPriority(10), withConditions(trigger.SignalExists("input.ready")))
	c := testComponent("c", nil, withPriority(30),
		withConditions(trigger.SignalExists("never.produced")), asRequired())

	_, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{a, c},
	})
	require.Error(t, err)

	var fatal *FatalComponentError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "c", fatal.Component)
	assert.Contains(t, fatal.Trigger, "never.produced", "fatal error names the unmet trigger")
	assert.True(t, IsTriggerTimeout(err))

	cr, ok := report.Outcome("a")
	require.True(t, ok)
	assert.Equal(t, OutcomeSkippedTriggerTimeout, cr.Outcome, "optional components still reported skipped, not executed")
}

func TestOptionalExecutionFailureContinuesRun(t *testing.T) {
	e := newTestEngine(nil, nil)

	failing := testComponent("flaky", func(context.Context, *blackboard.State) ([]blackboard.Signal, error) {
		return nil, errors.New("upstream unavailable")
	}, withPriority(10))
	after := testComponent("after", emits(t, "after.done", blackboard.BoolValue(true), 1.0), withPriority(20))

	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{failing, after},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"flaky"}, state.FailedComponents())
	assert.True(t, state.HasSignal("after.done"))

	cr, _ := report.Outcome("flaky")
	assert.Equal(t, OutcomeFailed, cr.Outcome)
	assert.Contains(t, cr.Error, "upstream unavailable")
}

func TestRequiredExecutionFailureIsFatal(t *testing.T) {
	e := newTestEngine(nil, nil)

	failing := testComponent("critical", func(context.Context, *blackboard.State) ([]blackboard.Signal, error) {
		return nil, errors.New("boom")
	}, asRequired())

	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{failing},
	})
	require.Error(t, err)

	var fatal *FatalComponentError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "critical", fatal.Component)

	require.NotNil(t, state, "partial state is still returned")
	require.NotNil(t, report)
	cr, _ := report.Outcome("critical")
	assert.Equal(t, OutcomeFailed, cr.Outcome)
}

func TestPanicIsCaughtPerComponent(t *testing.T) {
	e := newTestEngine(nil, nil)

	panicking := testComponent("panicky", func(context.Context, *blackboard.State) ([]blackboard.Signal, error) {
		panic("nil map write")
	})

	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{panicking},
	})
	require.NoError(t, err, "optional panic never crashes the scheduler")

	assert.Equal(t, []string{"panicky"}, state.FailedComponents())
	cr, _ := report.Outcome("panicky")
	assert.Contains(t, cr.Error, "panic")
}

func TestExecutionTimeoutEnforced(t *testing.T) {
	e := newTestEngine(nil, nil)

	slow := testComponent("slow", func(ctx context.Context, _ *blackboard.State) ([]blackboard.Signal, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	}, withExecutionTimeout(20*time.Millisecond))

	start := time.Now()
	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{slow},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, []string{"slow"}, state.FailedComponents())
	cr, _ := report.Outcome("slow")
	assert.Equal(t, OutcomeFailed, cr.Outcome)
	assert.Contains(t, cr.Error, "execution timeout")
}

func TestInvalidEmittedSignalFailsComponent(t *testing.T) {
	e := newTestEngine(nil, nil)

	emitter := testComponent("sloppy", func(context.Context, *blackboard.State) ([]blackboard.Signal, error) {
		return []blackboard.Signal{{Key: "bad", Confidence: 3.0, Source: "sloppy", Timestamp: time.Now()}}, nil
	})

	state, _, err := e.Run(context.Background(), Request{
		Components: []component.Component{emitter},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sloppy"}, state.FailedComponents())
	assert.False(t, state.HasSignal("bad"))
}

func TestDisabledComponentsAreReportedNotRun(t *testing.T) {
	e := newTestEngine(nil, nil)

	ran := atomic.Bool{}
	off := testComponent("off", func(context.Context, *blackboard.State) ([]blackboard.Signal, error) {
		ran.Store(true)
		return nil, nil
	}, asDisabled())

	_, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{off},
	})
	require.NoError(t, err)
	assert.False(t, ran.Load())

	cr, ok := report.Outcome("off")
	require.True(t, ok)
	assert.Equal(t, OutcomeSkippedDisabled, cr.Outcome)
}

func TestSeedSignalsGateFirstWave(t *testing.T) {
	e := newTestEngine(nil, nil)

	gated := testComponent("gated", emits(t, "gated.done", blackboard.BoolValue(true), 1.0),
		withConditions(trigger.SignalExists("input.ready")))

	state, _, err := e.Run(context.Background(), Request{
		Seed: []blackboard.Signal{mustSignal(t, "input.ready", blackboard.BoolValue(true), 1.0, "caller")},
		Components: []component.Component{gated},
	})
	require.NoError(t, err)
	assert.True(t, state.HasSignal("gated.done"))
}

func TestScoreContributionsFoldIntoCurrentScore(t *testing.T) {
	e := newTestEngine(nil, nil)

	first := testComponent("first", emits(t, blackboard.KeyScoreContribution, blackboard.FloatValue(0.3), 1.0), withPriority(10))
	second := testComponent("second", emits(t, blackboard.KeyScoreContribution, blackboard.FloatValue(0.2), 1.0), withPriority(20))
	reader := testComponent("reader", nil, withPriority(30),
		withConditions(trigger.ScoreThreshold(blackboard.KeyCurrentScore, 0.45)), withTriggerTimeout(time.Second))

	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{first, second, reader},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, state.CurrentScore(), 1e-9)
	cr, _ := report.Outcome("reader")
	assert.Equal(t, OutcomeCompleted, cr.Outcome, "score threshold trigger reads the folded score")
}

func TestCompletedCountVisibleToTriggers(t *testing.T) {
	e := newTestEngine(nil, nil)

	a := testComponent("a", emits(t, "a.done", blackboard.BoolValue(true), 1.0), withPriority(10))
	b := testComponent("b", emits(t, "b.done", blackboard.BoolValue(true), 1.0), withPriority(20))
	counter := testComponent("counter", emits(t, "counter.done", blackboard.BoolValue(true), 1.0),
		withPriority(30), withConditions(trigger.ComponentCount(2)))

	_, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{a, b, counter},
	})
	require.NoError(t, err)

	cr, _ := report.Outcome("counter")
	assert.Equal(t, OutcomeCompleted, cr.Outcome)
}

func TestLaneConcurrencyBound(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"w1", "w2", "w3", "w4"} {
		src := "name: " + name + "\nlane:\n  name: narrow\n  max_concurrency: 2\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(src), 0o644))
	}
	lib, err := manifest.LoadDir(dir)
	require.NoError(t, err)
	e := newTestEngine(manifest.NewResolver(lib, nil), nil)

	var inFlight, peak atomic.Int32
	body := func(ctx context.Context, _ *blackboard.State) ([]blackboard.Signal, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}

	comps := []component.Component{
		testComponent("w1", body), testComponent("w2", body),
		testComponent("w3", body), testComponent("w4", body),
	}
	_, _, err = e.Run(context.Background(), Request{Components: comps})
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2), "lane ceiling bounds same-wave concurrency")
}

func TestEscalationPassFiresTarget(t *testing.T) {
	dir := t.TempDir()
	src := `
name: detector
priority: 10
escalation:
  targets:
    deep:
      when:
        - 'score > 0.5'
budget:
  max_duration: 3s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "detector.yaml"), []byte(src), 0o644))
	lib, err := manifest.LoadDir(dir)
	require.NoError(t, err)
	e := newTestEngine(manifest.NewResolver(lib, nil), nil)

	detector := testComponent("detector", emits(t, blackboard.KeyScoreContribution, blackboard.FloatValue(0.8), 0.9), withPriority(10))
	deep := testComponent("deep", emits(t, "deep.verdict", blackboard.StringValue("bot"), 0.95), withPriority(999),
		withConditions(trigger.SignalExists("never.in.normal.pass")))

	state, report, err := e.Run(context.Background(), Request{
		Components: []component.Component{detector, deep},
	})
	require.NoError(t, err)

	assert.True(t, state.HasSignal("deep.verdict"), "escalation runs the target despite its unmet normal trigger")

	var escalated *ComponentReport
	for i := range report.Components {
		if report.Components[i].Name == "deep" && report.Components[i].Escalated {
			escalated = &report.Components[i]
		}
	}
	require.NotNil(t, escalated)
	assert.Equal(t, OutcomeCompleted, escalated.Outcome)
}

func TestEscalationNotFiredWhenConditionsUnmet(t *testing.T) {
	dir := t.TempDir()
	src := `
name: detector
escalation:
  targets:
    deep:
      when:
        - 'score > 0.5'
      skip_when:
        - '"request.verified" in signals'
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "detector.yaml"), []byte(src), 0o644))
	lib, err := manifest.LoadDir(dir)
	require.NoError(t, err)
	e := newTestEngine(manifest.NewResolver(lib, nil), nil)

	ran := atomic.Bool{}
	detector := testComponent("detector", func(context.Context, *blackboard.State) ([]blackboard.Signal, error) {
		return []blackboard.Signal{
			mustSignal(t, blackboard.KeyScoreContribution, blackboard.FloatValue(0.8), 0.9, "detector"),
			mustSignal(t, "request.verified", blackboard.BoolValue(true), 1.0, "detector"),
		}, nil
	})
	deep := testComponent("deep", func(context.Context, *blackboard.State) ([]blackboard.Signal, error) {
		ran.Store(true)
		return nil, nil
	}, withPriority(999), withConditions(trigger.SignalExists("never")))

	_, _, err = e.Run(context.Background(), Request{
		Components: []component.Component{detector, deep},
	})
	require.NoError(t, err)
	assert.False(t, ran.Load(), "skip_when vetoes the escalation")
}

func TestRunEventsPublished(t *testing.T) {
	sink := &captureSink{}
	e := newTestEngine(nil, sink)

	_, _, err := e.Run(context.Background(), Request{
		Components: []component.Component{
			testComponent("alpha", emits(t, "alpha.done", blackboard.BoolValue(true), 1.0)),
		},
	})
	require.NoError(t, err)

	types := sink.types()
	assert.Contains(t, types, EventRunStarted)
	assert.Contains(t, types, EventComponentDone)
	assert.Contains(t, types, EventWaveCommitted)
	assert.Contains(t, types, EventRunCompleted)
	assert.Equal(t, EventRunStarted, types[0])
	assert.Equal(t, EventRunCompleted, types[len(types)-1])
}

func TestRunScratchIsolatedPerRun(t *testing.T) {
	e := newTestEngine(nil, nil)

	held := func(ctx context.Context, _ *blackboard.State) ([]blackboard.Signal, error) {
		scratch := ScratchFrom(ctx)
		prev, _ := scratch.Get("held")
		scratch.Set("held", 1)
		if prev != nil {
			return nil, errors.New("scratch leaked across runs")
		}
		return nil, nil
	}

	for i := 0; i < 3; i++ {
		state, _, err := e.Run(context.Background(), Request{
			Components: []component.Component{testComponent("holder", held)},
		})
		require.NoError(t, err)
		assert.Empty(t, state.FailedComponents(), "each run gets a fresh private state slot")
	}
}

func TestCancelledContextAbortsRun(t *testing.T) {
	e := newTestEngine(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	blocker := testComponent("blocker", func(ctx context.Context, _ *blackboard.State) ([]blackboard.Signal, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}, withExecutionTimeout(0))

	_, report, err := e.Run(ctx, Request{
		Components: []component.Component{blocker},
	})
	require.Error(t, err)
	require.NotNil(t, report, "partial report always accompanies the error")
}
