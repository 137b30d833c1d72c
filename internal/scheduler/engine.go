// Package scheduler drives analysis runs: it partitions components into
// priority waves, gates each on its trigger conditions, executes eligible
// components concurrently within lane limits, and commits emitted signals
// into a new immutable snapshot at each wave boundary.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dyluth/drey/internal/component"
	"github.com/dyluth/drey/internal/manifest"
	"github.com/dyluth/drey/pkg/blackboard"
)

// Engine is the wave scheduler. It is the only writer of blackboard state:
// components stage signals through Execute's return value and the engine
// merges them single-threaded between waves.
type Engine struct {
	resolver     *manifest.Resolver
	instanceName string
	sink         EventSink
}

// NewEngine creates a scheduler over the resolver's manifests. A nil sink
// discards run events.
func NewEngine(res *manifest.Resolver, instanceName string, sink EventSink) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{resolver: res, instanceName: instanceName, sink: sink}
}

// Request describes one analysis run.
type Request struct {
	RequestID  string              // generated when empty
	Seed       []blackboard.Signal // initial facts, e.g. "input.ready"
	Components []component.Component
}

// waiting tracks a component whose trigger was not satisfied at its own wave
// boundary. It is re-checked at each subsequent boundary until satisfied or
// its trigger timeout expires.
type waiting struct {
	c          component.Component
	firstCheck time.Time
}

// result is one component's staged output from a wave, merged by the engine
// at the wave boundary.
type result struct {
	c        component.Component
	signals  []blackboard.Signal
	err      error
	duration time.Duration
}

// Run executes the full wave sequence followed by the escalation pass and
// returns the final snapshot plus a per-component report. For optional
// failures the error is nil and the report carries the failed entries; a
// non-optional failure aborts the run and returns the partial state and
// report alongside the error. The result is never silently empty.
func (e *Engine) Run(ctx context.Context, req Request) (*blackboard.State, *RunReport, error) {
	runID := uuid.New().String()
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	start := time.Now()
	report := &RunReport{RunID: runID, RequestID: requestID, StartedAt: start}

	builder := blackboard.NewBuilder(requestID)
	for _, s := range req.Seed {
		if err := s.Validate(); err != nil {
			return nil, report, fmt.Errorf("invalid seed signal %q: %w", s.Key, err)
		}
		builder.AddSignal(s)
	}
	state := builder.Build()

	ctx = WithScratch(ctx, NewRunScratch())

	e.emit(ctx, Event{Type: EventRunStarted, RunID: runID, RequestID: requestID, Wave: -1, Timestamp: time.Now().UTC()})

	waves, disabled := partition(req.Components)
	for _, c := range disabled {
		cr := ComponentReport{Name: c.Name(), Outcome: OutcomeSkippedDisabled, Wave: -1}
		report.Components = append(report.Components, cr)
		e.emitOutcome(ctx, runID, requestID, cr)
	}

	lanes := e.buildLanes(req.Components)

	var (
		deferred []*waiting
		score    = state.CurrentScore()
		fatal    error
	)

	waveIdx := 0
	for len(waves) > 0 || len(deferred) > 0 {
		var batch []component.Component
		if len(waves) > 0 {
			batch = waves[0]
			waves = waves[1:]
		} else if !anySatisfied(deferred, state) {
			// No wave remains and no waiting trigger can ever become
			// satisfied now: the blackboard will not change again.
			break
		}

		runnable, stillWaiting, expired := e.gate(state, deferred, batch, waveIdx)
		deferred = stillWaiting

		for _, cr := range expired {
			report.Components = append(report.Components, cr)
			e.emitOutcome(ctx, runID, requestID, cr)
			if fatal == nil {
				if c := findComponent(req.Components, cr.Name); c != nil && !c.IsOptional() {
					fatal = &FatalComponentError{Component: cr.Name, Reason: ErrTriggerTimeout, Trigger: cr.Trigger}
				}
			}
		}
		if fatal != nil {
			// A required component's trigger expired: abort before running
			// anything else. Remaining components are reported skipped.
			break
		}

		if len(runnable) > 0 {
			results, execErr := e.executeWave(ctx, state, runnable, lanes)
			state, score = e.commit(state, results, score, start)

			for _, res := range results {
				cr := componentReport(res, waveIdx)
				report.Components = append(report.Components, cr)
				e.emitOutcome(ctx, runID, requestID, cr)
			}
			e.emit(ctx, Event{Type: EventWaveCommitted, RunID: runID, RequestID: requestID, Wave: waveIdx, Timestamp: time.Now().UTC()})

			if execErr != nil && fatal == nil {
				fatal = execErr
			}
		}
		waveIdx++

		if fatal != nil || ctx.Err() != nil {
			break
		}
	}

	// Anything still waiting when the run winds down can never fire.
	for _, w := range deferred {
		cr := skippedReport(w.c, state, waveIdx)
		report.Components = append(report.Components, cr)
		e.emitOutcome(ctx, runID, requestID, cr)
		if fatal == nil && !w.c.IsOptional() {
			fatal = &FatalComponentError{Component: w.c.Name(), Reason: ErrTriggerTimeout, Trigger: cr.Trigger}
		}
	}

	if fatal == nil && ctx.Err() != nil {
		fatal = fmt.Errorf("run cancelled: %w", ctx.Err())
	}

	if fatal == nil {
		state, score = e.escalationPass(ctx, state, req.Components, lanes, report, runID, requestID, score, start, waveIdx)
	}

	report.Waves = waveIdx
	report.Duration = time.Since(start)

	final := state.Derive().SetScore(score).SetElapsed(report.Duration).Build()

	if fatal != nil {
		e.emit(ctx, Event{Type: EventRunFailed, RunID: runID, RequestID: requestID, Wave: waveIdx, Detail: fatal.Error(), Timestamp: time.Now().UTC()})
		return final, report, fatal
	}
	e.emit(ctx, Event{Type: EventRunCompleted, RunID: runID, RequestID: requestID, Wave: waveIdx, Timestamp: time.Now().UTC()})
	return final, report, nil
}

// partition splits enabled components into ascending-priority waves and
// returns the disabled ones separately.
func partition(components []component.Component) (waves [][]component.Component, disabled []component.Component) {
	byPriority := make(map[int][]component.Component)
	for _, c := range components {
		if !c.IsEnabled() {
			disabled = append(disabled, c)
			continue
		}
		byPriority[c.Priority()] = append(byPriority[c.Priority()], c)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	for _, p := range priorities {
		wave := byPriority[p]
		sort.Slice(wave, func(i, j int) bool { return wave[i].Name() < wave[j].Name() })
		waves = append(waves, wave)
	}
	return waves, disabled
}

// gate evaluates trigger conditions for this wave's components plus any
// deferred from earlier waves, all against the same pre-wave snapshot. It
// returns the components to execute now, the ones to keep waiting, and
// reports for the ones whose trigger timeout expired.
func (e *Engine) gate(state *blackboard.State, deferred []*waiting, batch []component.Component, waveIdx int) (runnable []component.Component, stillWaiting []*waiting, expired []ComponentReport) {
	now := time.Now()
	signals := state.SignalMap()

	check := func(w *waiting) {
		if conditionsSatisfied(w.c, signals) {
			runnable = append(runnable, w.c)
			return
		}
		timeout := w.c.TriggerTimeout()
		if timeout <= 0 || now.Sub(w.firstCheck) >= timeout {
			expired = append(expired, skippedReport(w.c, state, waveIdx))
			return
		}
		stillWaiting = append(stillWaiting, w)
	}

	for _, w := range deferred {
		check(w)
	}
	for _, c := range batch {
		check(&waiting{c: c, firstCheck: now})
	}
	return runnable, stillWaiting, expired
}

func conditionsSatisfied(c component.Component, signals map[string][]blackboard.Signal) bool {
	for _, cond := range c.TriggerConditions() {
		if !cond.IsSatisfied(signals) {
			return false
		}
	}
	return true
}

func anySatisfied(deferred []*waiting, state *blackboard.State) bool {
	signals := state.SignalMap()
	for _, w := range deferred {
		if conditionsSatisfied(w.c, signals) {
			return true
		}
	}
	return false
}

// unmetDescription names the conditions that held a component back, for the
// report and for fatal trigger-timeout errors.
func unmetDescription(c component.Component, state *blackboard.State) string {
	signals := state.SignalMap()
	var parts []string
	for _, cond := range c.TriggerConditions() {
		if !cond.IsSatisfied(signals) {
			parts = append(parts, cond.Description())
		}
	}
	if len(parts) == 0 {
		return ""
	}
	desc := parts[0]
	for _, p := range parts[1:] {
		desc += "; " + p
	}
	return desc
}

func skippedReport(c component.Component, state *blackboard.State, waveIdx int) ComponentReport {
	return ComponentReport{
		Name:    c.Name(),
		Outcome: OutcomeSkippedTriggerTimeout,
		Wave:    waveIdx,
		Trigger: unmetDescription(c, state),
	}
}

func componentReport(res result, waveIdx int) ComponentReport {
	cr := ComponentReport{Name: res.c.Name(), Wave: waveIdx, Duration: res.duration}
	if res.err != nil {
		cr.Outcome = OutcomeFailed
		cr.Error = res.err.Error()
		return cr
	}
	cr.Outcome = OutcomeCompleted
	cr.Signals = len(res.signals)
	return cr
}

func findComponent(components []component.Component, name string) component.Component {
	for _, c := range components {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// executeWave runs the eligible components concurrently against the shared
// read-only snapshot. The returned error is the first non-optional failure;
// optional failures are carried in the results only. Components in the same
// wave never observe each other's output: everyone reads the pre-wave
// snapshot and the engine commits after all of them finish.
func (e *Engine) executeWave(ctx context.Context, state *blackboard.State, comps []component.Component, lanes *laneSet) ([]result, error) {
	results := make([]result, len(comps))
	g, waveCtx := errgroup.WithContext(ctx)

	for i, c := range comps {
		i, c := i, c
		g.Go(func() error {
			release, err := lanes.acquire(waveCtx, c.Name())
			if err != nil {
				results[i] = result{c: c, err: fmt.Errorf("run aborted: %w", err)}
				return nil
			}
			defer release()

			signals, duration, execErr := e.executeComponent(waveCtx, c, state, c.ExecutionTimeout())
			results[i] = result{c: c, signals: signals, err: execErr, duration: duration}

			if execErr != nil && !c.IsOptional() {
				return &FatalComponentError{Component: c.Name(), Reason: execErr}
			}
			return nil
		})
	}
	return results, g.Wait()
}

// executeComponent runs one component bounded by its execution timeout, with
// panic recovery and emitted-signal validation.
func (e *Engine) executeComponent(ctx context.Context, c component.Component, state *blackboard.State, timeout time.Duration) ([]blackboard.Signal, time.Duration, error) {
	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	signals, err := invoke(execCtx, c, state)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, duration, fmt.Errorf("%w (%s)", ErrExecutionTimeout, timeout)
		}
		return nil, duration, &ComponentExecutionError{Component: c.Name(), Err: err}
	}

	for _, s := range signals {
		if vErr := s.Validate(); vErr != nil {
			return nil, duration, &ComponentExecutionError{
				Component: c.Name(),
				Err:       fmt.Errorf("emitted invalid signal %q: %w", s.Key, vErr),
			}
		}
	}
	return signals, duration, nil
}

// invoke calls Execute with panic recovery so a misbehaving component can
// never take down the scheduler.
func invoke(ctx context.Context, c component.Component, state *blackboard.State) (signals []blackboard.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Execute(ctx, state)
}

// commit merges a wave's staged results into a new snapshot. Completed
// components' signals are appended, score contributions folded in, and the
// completed/failed sets updated. This is the single writer step between
// waves.
func (e *Engine) commit(state *blackboard.State, results []result, score float64, start time.Time) (*blackboard.State, float64) {
	b := state.Derive()
	for _, res := range results {
		if res.err != nil {
			b.MarkFailed(res.c.Name())
			continue
		}
		b.AddSignals(res.signals)
		b.MarkCompleted(res.c.Name())
		for _, s := range res.signals {
			if s.Key == blackboard.KeyScoreContribution {
				if v, ok := s.Value.AsFloat(); ok {
					score += v
				}
			}
		}
	}
	b.SetScore(score)
	b.SetElapsed(time.Since(start))
	return b.Build(), score
}

// escalationPass runs the bounded secondary pass: for each completed run
// component whose manifest declares escalation targets, fire each target
// whose conditions hold, sequentially, with the escalating manifest's budget
// as the execution ceiling. Escalation failures are recorded but never
// fatal.
func (e *Engine) escalationPass(ctx context.Context, state *blackboard.State, components []component.Component, lanes *laneSet, report *RunReport, runID, requestID string, score float64, start time.Time, waveIdx int) (*blackboard.State, float64) {
	if e.resolver == nil {
		return state, score
	}

	names := make([]string, 0, len(components))
	byName := make(map[string]component.Component, len(components))
	for _, c := range components {
		byName[c.Name()] = c
		names = append(names, c.Name())
	}
	sort.Strings(names)

	var staged []result
	for _, name := range names {
		m, ok := e.resolver.Manifest(name)
		if !ok || m.Escalation == nil {
			continue
		}

		targetNames := make([]string, 0, len(m.Escalation.Targets))
		for tn := range m.Escalation.Targets {
			targetNames = append(targetNames, tn)
		}
		sort.Strings(targetNames)

		for _, tn := range targetNames {
			target := m.Escalation.Targets[tn]
			if !target.ShouldFire(state.SignalMap()) {
				continue
			}
			tc, ok := byName[tn]
			if !ok || !tc.IsEnabled() {
				e.logEvent("escalation_target_unavailable", map[string]interface{}{
					"run_id": runID, "escalating": name, "target": tn,
				})
				continue
			}

			timeout := tc.ExecutionTimeout()
			if m.Budget != nil && m.Budget.MaxDuration.AsDuration() > 0 {
				timeout = m.Budget.MaxDuration.AsDuration()
			}

			e.emit(ctx, Event{Type: EventEscalationFired, RunID: runID, RequestID: requestID, Component: tn, Wave: waveIdx, Detail: "escalated by " + name, Timestamp: time.Now().UTC()})

			signals, duration, err := e.executeComponent(ctx, tc, state, timeout)
			res := result{c: tc, signals: signals, err: err, duration: duration}
			staged = append(staged, res)

			cr := componentReport(res, waveIdx)
			cr.Escalated = true
			report.Components = append(report.Components, cr)
			e.emitOutcome(ctx, runID, requestID, cr)
		}
	}

	if len(staged) > 0 {
		state, score = e.commit(state, staged, score, start)
	}
	return state, score
}

// laneSet holds one weighted semaphore per named lane. Components without a
// lane, or with a non-positive ceiling, run unbounded.
type laneSet struct {
	byComponent map[string]*semaphore.Weighted
}

// buildLanes resolves every component's lane up front so acquisition during
// a wave is lock-free map reads.
func (e *Engine) buildLanes(components []component.Component) *laneSet {
	ls := &laneSet{byComponent: make(map[string]*semaphore.Weighted, len(components))}
	if e.resolver == nil {
		return ls
	}

	sems := make(map[string]*semaphore.Weighted)
	for _, c := range components {
		m, ok := e.resolver.Manifest(c.Name())
		if !ok || m.Lane.Name == "" || m.Lane.MaxConcurrency <= 0 {
			continue
		}
		sem, exists := sems[m.Lane.Name]
		if !exists {
			sem = semaphore.NewWeighted(int64(m.Lane.MaxConcurrency))
			sems[m.Lane.Name] = sem
		}
		ls.byComponent[c.Name()] = sem
	}
	return ls
}

// acquire blocks until the component's lane has capacity. The returned
// release must be called exactly once. Unlaned components get a no-op.
func (l *laneSet) acquire(ctx context.Context, name string) (func(), error) {
	sem, ok := l.byComponent[name]
	if !ok {
		return func() {}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// emit publishes to the sink and mirrors the event into the structured log.
func (e *Engine) emit(ctx context.Context, ev Event) {
	e.sink.Publish(ctx, ev)
	e.logEvent(ev.Type, map[string]interface{}{
		"run_id":     ev.RunID,
		"request_id": ev.RequestID,
		"component":  ev.Component,
		"wave":       ev.Wave,
		"outcome":    string(ev.Outcome),
		"detail":     ev.Detail,
	})
}

func (e *Engine) emitOutcome(ctx context.Context, runID, requestID string, cr ComponentReport) {
	detail := cr.Error
	if detail == "" {
		detail = cr.Trigger
	}
	e.emit(ctx, Event{
		Type:      EventComponentDone,
		RunID:     runID,
		RequestID: requestID,
		Component: cr.Name,
		Wave:      cr.Wave,
		Outcome:   cr.Outcome,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component_type"] = "scheduler"
	data["event_type"] = eventType
	data["instance"] = e.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Scheduler] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
