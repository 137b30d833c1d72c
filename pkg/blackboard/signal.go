package blackboard

import (
	"fmt"
	"time"
)

// Signal represents one atomic, immutable fact on the blackboard: a key, a
// typed value, how confident the producer is in it, which component produced
// it, and when. Signals are never updated in place - a producer that changes
// its mind appends a new signal under the same key.
type Signal struct {
	Key        string    `json:"key"`        // Namespaced fact key, e.g. "request.velocity.burst"
	Value      Value     `json:"value"`      // Typed value (never raw sensitive data)
	Confidence float64   `json:"confidence"` // Producer confidence in [0, 1]
	Source     string    `json:"source"`     // Component name that produced this signal
	Tags       []string  `json:"tags,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewSignal constructs a validated signal stamped with the current time.
func NewSignal(key string, value Value, confidence float64, source string, tags ...string) (Signal, error) {
	s := Signal{
		Key:        key,
		Value:      value,
		Confidence: confidence,
		Source:     source,
		Tags:       tags,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// Validate checks if the Signal has valid field values.
func (s Signal) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("signal key cannot be empty")
	}
	if s.Source == "" {
		return fmt.Errorf("signal source cannot be empty")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal confidence must be in [0, 1], got %v", s.Confidence)
	}
	if err := s.Value.Validate(); err != nil {
		return fmt.Errorf("invalid signal value: %w", err)
	}
	return nil
}

// HasTag reports whether the signal carries the given tag.
func (s Signal) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// BestSignal returns the signal with the highest confidence from the slice,
// breaking ties by earliest timestamp. The second return is false for an
// empty slice.
func BestSignal(signals []Signal) (Signal, bool) {
	if len(signals) == 0 {
		return Signal{}, false
	}
	best := signals[0]
	for _, s := range signals[1:] {
		if s.Confidence > best.Confidence ||
			(s.Confidence == best.Confidence && s.Timestamp.Before(best.Timestamp)) {
			best = s
		}
	}
	return best, true
}

// LatestSignal returns the signal with the most recent timestamp. Equal
// timestamps are broken by append order, preferring the later signal, so
// back-to-back writes within one clock tick still resolve to the newest.
func LatestSignal(signals []Signal) (Signal, bool) {
	if len(signals) == 0 {
		return Signal{}, false
	}
	latest := signals[0]
	for _, s := range signals[1:] {
		if !s.Timestamp.Before(latest.Timestamp) {
			latest = s
		}
	}
	return latest, true
}
