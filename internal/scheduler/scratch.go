package scheduler

import (
	"context"
	"sync"
)

// RunScratch gives stateful components a private, run-scoped state slot.
// Sample-and-hold or rate-limiter style components keep their held values
// here instead of in package-level variables, so concurrent or sequential
// independent runs can never corrupt each other's state.
type RunScratch struct {
	mu    sync.Mutex
	slots map[string]any
}

// NewRunScratch creates an empty scratch space for one run.
func NewRunScratch() *RunScratch {
	return &RunScratch{slots: make(map[string]any)}
}

// Get returns the slot stored under the component-scoped key.
func (r *RunScratch) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.slots[key]
	return v, ok
}

// Set stores a slot under the component-scoped key.
func (r *RunScratch) Set(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[key] = v
}

type scratchKey struct{}

// WithScratch attaches a run's scratch space to the context handed to
// component Execute calls.
func WithScratch(ctx context.Context, s *RunScratch) context.Context {
	return context.WithValue(ctx, scratchKey{}, s)
}

// ScratchFrom retrieves the run's scratch space. Components called outside a
// scheduler run get a fresh throwaway space rather than nil.
func ScratchFrom(ctx context.Context) *RunScratch {
	if s, ok := ctx.Value(scratchKey{}).(*RunScratch); ok {
		return s
	}
	return NewRunScratch()
}
