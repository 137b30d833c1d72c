package blackboard

import (
	"sort"
	"time"
)

// State is an immutable snapshot of the blackboard at a wave boundary. A
// snapshot is safe to share across concurrently executing components because
// nothing can mutate it: all writes go through a Builder, which produces a
// new snapshot.
type State struct {
	signals   map[string][]Signal
	score     float64
	completed map[string]struct{}
	failed    map[string]struct{}
	requestID string
	elapsed   time.Duration
	metadata  map[string]any
}

// RequestID returns the identifier of the run this snapshot belongs to.
func (st *State) RequestID() string { return st.requestID }

// CurrentScore returns the aggregate score at this snapshot.
func (st *State) CurrentScore() float64 { return st.score }

// Elapsed returns time elapsed since run start at this snapshot.
func (st *State) Elapsed() time.Duration { return st.elapsed }

// Signals returns the signals stored under key, in append order. The
// returned slice is a copy and may be retained or modified by the caller.
func (st *State) Signals(key string) []Signal {
	stored := st.signals[key]
	if len(stored) == 0 {
		return nil
	}
	out := make([]Signal, len(stored))
	copy(out, stored)
	return out
}

// SignalMap exposes the full key to signal-list map for trigger evaluation.
// The map and its slices are shared, not copied: callers must treat them as
// read-only.
func (st *State) SignalMap() map[string][]Signal { return st.signals }

// HasSignal reports whether at least one signal exists under key.
func (st *State) HasSignal(key string) bool {
	return len(st.signals[key]) > 0
}

// BestSignal returns the max-confidence signal under key, breaking ties by
// earliest timestamp.
func (st *State) BestSignal(key string) (Signal, bool) {
	return BestSignal(st.signals[key])
}

// BoolValue returns the best signal's value under key if it is a bool.
func (st *State) BoolValue(key string) (bool, bool) {
	s, ok := st.BestSignal(key)
	if !ok || s.Value.Kind != ValueKindBool {
		return false, false
	}
	return s.Value.Bool, true
}

// FloatValue returns the best signal's value under key if it is numeric.
func (st *State) FloatValue(key string) (float64, bool) {
	s, ok := st.BestSignal(key)
	if !ok {
		return 0, false
	}
	return s.Value.AsFloat()
}

// StringValue returns the best signal's value under key if it is a string.
func (st *State) StringValue(key string) (string, bool) {
	s, ok := st.BestSignal(key)
	if !ok || s.Value.Kind != ValueKindString {
		return "", false
	}
	return s.Value.Str, true
}

// SignalsByTag returns every signal carrying the given tag, across all keys,
// ordered by key then append order.
func (st *State) SignalsByTag(tag string) []Signal {
	keys := make([]string, 0, len(st.signals))
	for key := range st.signals {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []Signal
	for _, key := range keys {
		for _, s := range st.signals[key] {
			if s.HasTag(tag) {
				out = append(out, s)
			}
		}
	}
	return out
}

// CompletedComponents returns the sorted names of components that completed
// before this snapshot was taken.
func (st *State) CompletedComponents() []string { return sortedSet(st.completed) }

// FailedComponents returns the sorted names of components that failed before
// this snapshot was taken.
func (st *State) FailedComponents() []string { return sortedSet(st.failed) }

// HasCompleted reports whether the named component completed.
func (st *State) HasCompleted(name string) bool {
	_, ok := st.completed[name]
	return ok
}

// Metadata returns the run metadata value stored under key.
func (st *State) Metadata(key string) (any, bool) {
	v, ok := st.metadata[key]
	return v, ok
}

// Aggregate collapses the signals under key into one signal using the given
// strategy. Returns false when no signals exist under the key.
func (st *State) Aggregate(key string, strategy Strategy) (Signal, bool) {
	return Aggregate(key, st.signals[key], strategy)
}

// Derive returns a Builder pre-populated with this snapshot's contents, for
// producing the next snapshot. The receiver is not modified.
func (st *State) Derive() *Builder {
	b := &Builder{
		signals:   make(map[string][]Signal, len(st.signals)),
		score:     st.score,
		completed: make(map[string]struct{}, len(st.completed)),
		failed:    make(map[string]struct{}, len(st.failed)),
		requestID: st.requestID,
		elapsed:   st.elapsed,
		metadata:  make(map[string]any, len(st.metadata)),
	}
	// Signal slices are shared copy-on-write: appending under a key replaces
	// the slice in the builder's map without touching the source snapshot.
	for key, list := range st.signals {
		b.signals[key] = list
	}
	for name := range st.completed {
		b.completed[name] = struct{}{}
	}
	for name := range st.failed {
		b.failed[name] = struct{}{}
	}
	for key, v := range st.metadata {
		b.metadata[key] = v
	}
	return b
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builder accumulates writes and produces a new immutable State. A Builder
// is single-threaded by design: only the scheduler writes, between waves.
type Builder struct {
	signals   map[string][]Signal
	score     float64
	completed map[string]struct{}
	failed    map[string]struct{}
	requestID string
	elapsed   time.Duration
	metadata  map[string]any
}

// NewBuilder creates a Builder for a fresh run with the given request ID.
func NewBuilder(requestID string) *Builder {
	return &Builder{
		signals:   make(map[string][]Signal),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		requestID: requestID,
		metadata:  make(map[string]any),
	}
}

// AddSignal appends one signal. Appending never replaces: existing signals
// under the same key are kept.
func (b *Builder) AddSignal(s Signal) *Builder {
	list := b.signals[s.Key]
	next := make([]Signal, len(list), len(list)+1)
	copy(next, list)
	b.signals[s.Key] = append(next, s)
	return b
}

// AddSignals appends a batch of signals.
func (b *Builder) AddSignals(signals []Signal) *Builder {
	for _, s := range signals {
		b.AddSignal(s)
	}
	return b
}

// SetScore sets the aggregate score for the next snapshot.
func (b *Builder) SetScore(score float64) *Builder {
	b.score = score
	return b
}

// MarkCompleted records a component as completed.
func (b *Builder) MarkCompleted(name string) *Builder {
	b.completed[name] = struct{}{}
	return b
}

// MarkFailed records a component as failed.
func (b *Builder) MarkFailed(name string) *Builder {
	b.failed[name] = struct{}{}
	return b
}

// SetElapsed records time elapsed since run start.
func (b *Builder) SetElapsed(d time.Duration) *Builder {
	b.elapsed = d
	return b
}

// SetMetadata stores an arbitrary run metadata value.
func (b *Builder) SetMetadata(key string, v any) *Builder {
	b.metadata[key] = v
	return b
}

// Build produces the immutable snapshot. The scheduler's reserved keys
// (completed-component count and current score) are refreshed here so trigger
// conditions can read them as ordinary signals.
func (b *Builder) Build() *State {
	b.syncReserved()
	st := &State{
		signals:   b.signals,
		score:     b.score,
		completed: b.completed,
		failed:    b.failed,
		requestID: b.requestID,
		elapsed:   b.elapsed,
		metadata:  b.metadata,
	}
	// Detach the builder so accidental reuse cannot mutate the snapshot.
	b.signals = nil
	b.completed = nil
	b.failed = nil
	b.metadata = nil
	return st
}

// syncReserved appends refreshed reserved-key signals when their values have
// moved since the last snapshot.
func (b *Builder) syncReserved() {
	count := int64(len(b.completed))
	if latest, ok := LatestSignal(b.signals[KeyCompletedCount]); !ok || latest.Value.Int != count {
		b.AddSignal(Signal{
			Key:        KeyCompletedCount,
			Value:      IntValue(count),
			Confidence: 1,
			Source:     SchedulerSource,
			Timestamp:  time.Now().UTC(),
		})
	}
	if latest, ok := LatestSignal(b.signals[KeyCurrentScore]); !ok || latest.Value.Float != b.score {
		b.AddSignal(Signal{
			Key:        KeyCurrentScore,
			Value:      FloatValue(b.score),
			Confidence: 1,
			Source:     SchedulerSource,
			Timestamp:  time.Now().UTC(),
		})
	}
}
