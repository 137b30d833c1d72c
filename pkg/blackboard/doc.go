// Package blackboard provides the shared fact model for the Drey orchestration
// core. The blackboard is an append-only, immutable collection of signals -
// confidence-weighted facts with provenance - that components read to decide
// whether to run and write to record what they found.
//
// The two central types are Signal (one atomic fact) and State (an immutable
// snapshot of every fact known at a wave boundary). States are never mutated:
// the scheduler derives a new snapshot from the previous one via a Builder at
// the end of each wave, so concurrently executing components can share a
// snapshot freely without locks.
//
// Multiple signals may exist under the same key (one per producer); collapsing
// them to a single value is an explicit aggregation step (see Aggregate),
// never an implicit overwrite.
package blackboard
