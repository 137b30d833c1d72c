package blackboard

import (
	"fmt"
	"sort"
	"time"
)

// Strategy selects how multiple signals sharing a key collapse into one.
// All strategies are pure and total: given at least one input signal they
// always produce a result.
type Strategy string

const (
	// StrategyHighestConfidence picks the max-confidence signal, breaking
	// ties by earliest timestamp.
	StrategyHighestConfidence Strategy = "highest_confidence"

	// StrategyMostRecent picks the signal with the newest timestamp.
	StrategyMostRecent Strategy = "most_recent"

	// StrategyWeightedAverage computes a confidence-weighted mean over
	// numeric signals; with no numeric signals or zero total weight it falls
	// back to StrategyHighestConfidence.
	StrategyWeightedAverage Strategy = "weighted_average"

	// StrategyMajorityVote groups by stringified value and picks the group
	// with the highest summed confidence.
	StrategyMajorityVote Strategy = "majority_vote"

	// StrategyCollect returns every value as a list with mean confidence.
	StrategyCollect Strategy = "collect"
)

// Validate checks if the Strategy is a valid enum value.
func (s Strategy) Validate() error {
	switch s {
	case StrategyHighestConfidence, StrategyMostRecent, StrategyWeightedAverage,
		StrategyMajorityVote, StrategyCollect:
		return nil
	default:
		return fmt.Errorf("unknown aggregation strategy: %q", s)
	}
}

// Aggregate collapses the given signals (all stored under key) into a single
// signal per the strategy. Returns false when signals is empty. An unknown
// strategy behaves as StrategyHighestConfidence.
func Aggregate(key string, signals []Signal, strategy Strategy) (Signal, bool) {
	if len(signals) == 0 {
		return Signal{}, false
	}

	switch strategy {
	case StrategyMostRecent:
		return LatestSignal(signals)

	case StrategyWeightedAverage:
		return weightedAverage(key, signals)

	case StrategyMajorityVote:
		return majorityVote(key, signals)

	case StrategyCollect:
		return collect(key, signals)

	default:
		return BestSignal(signals)
	}
}

// weightedAverage computes the confidence-weighted mean over numeric signals
// only. Non-numeric signals carry no weight; if nothing numeric remains the
// result degrades to the highest-confidence pick.
func weightedAverage(key string, signals []Signal) (Signal, bool) {
	var weightedSum, totalWeight, confidenceSum float64
	var numericCount int
	for _, s := range signals {
		v, ok := s.Value.AsFloat()
		if !ok {
			continue
		}
		weightedSum += v * s.Confidence
		totalWeight += s.Confidence
		confidenceSum += s.Confidence
		numericCount++
	}
	if numericCount == 0 || totalWeight == 0 {
		return BestSignal(signals)
	}

	return Signal{
		Key:        key,
		Value:      FloatValue(weightedSum / totalWeight),
		Confidence: confidenceSum / float64(numericCount),
		Source:     AggregatorSource,
		Timestamp:  maxTimestamp(signals),
	}, true
}

// majorityVote groups by stringified value and elects the group with the
// highest summed confidence; ties go to the lexicographically smallest group
// so the election stays deterministic. The resulting confidence is the
// winning group's share of total confidence.
func majorityVote(key string, signals []Signal) (Signal, bool) {
	groupSum := make(map[string]float64)
	groupValue := make(map[string]Value)
	var total float64
	for _, s := range signals {
		repr := s.Value.String()
		groupSum[repr] += s.Confidence
		if _, seen := groupValue[repr]; !seen {
			groupValue[repr] = s.Value
		}
		total += s.Confidence
	}

	reprs := make([]string, 0, len(groupSum))
	for repr := range groupSum {
		reprs = append(reprs, repr)
	}
	sort.Strings(reprs)

	winner := reprs[0]
	for _, repr := range reprs[1:] {
		if groupSum[repr] > groupSum[winner] {
			winner = repr
		}
	}

	confidence := 0.0
	if total > 0 {
		confidence = groupSum[winner] / total
	}
	return Signal{
		Key:        key,
		Value:      groupValue[winner],
		Confidence: confidence,
		Source:     AggregatorSource,
		Timestamp:  maxTimestamp(signals),
	}, true
}

// collect returns all values as a list, in append order, with confidence set
// to the mean of the inputs.
func collect(key string, signals []Signal) (Signal, bool) {
	values := make([]Value, len(signals))
	var confidenceSum float64
	for i, s := range signals {
		values[i] = s.Value
		confidenceSum += s.Confidence
	}
	return Signal{
		Key:        key,
		Value:      ListValue(values...),
		Confidence: confidenceSum / float64(len(signals)),
		Source:     AggregatorSource,
		Timestamp:  maxTimestamp(signals),
	}, true
}

func maxTimestamp(signals []Signal) (latest time.Time) {
	for _, s := range signals {
		if s.Timestamp.After(latest) {
			latest = s.Timestamp
		}
	}
	return latest
}
