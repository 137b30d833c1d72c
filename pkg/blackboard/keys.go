package blackboard

// Reserved signal keys maintained by the scheduler itself. They let trigger
// conditions express "run only after N components finished" or "run only if
// the aggregate score already exceeds X" without any scheduler special-casing:
// the condition just reads a signal like any other.
const (
	// KeyCompletedCount holds the number of components that have completed so
	// far, refreshed at every wave commit.
	KeyCompletedCount = "drey.completed_count"

	// KeyCurrentScore holds the current aggregate score, refreshed at every
	// wave commit.
	KeyCurrentScore = "drey.current_score"

	// KeyScoreContribution is the key components emit numeric score deltas
	// under; the scheduler folds them into the aggregate score at commit.
	KeyScoreContribution = "drey.score.contribution"
)

// SchedulerSource is the Source recorded on signals the scheduler writes
// under reserved keys.
const SchedulerSource = "scheduler"

// AggregatorSource is the Source recorded on synthetic signals produced by
// aggregation strategies that combine multiple inputs.
const AggregatorSource = "aggregator"

// IsReservedKey reports whether the key is maintained by the scheduler.
// Components must not emit signals under reserved keys other than
// KeyScoreContribution.
func IsReservedKey(key string) bool {
	switch key {
	case KeyCompletedCount, KeyCurrentScore:
		return true
	default:
		return false
	}
}
