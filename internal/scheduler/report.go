package scheduler

import (
	"time"
)

// Outcome is a component's terminal state for one run.
type Outcome string

const (
	OutcomeCompleted             Outcome = "completed"
	OutcomeFailed                Outcome = "failed"
	OutcomeSkippedTriggerTimeout Outcome = "skipped_trigger_timeout"
	OutcomeSkippedDisabled       Outcome = "skipped_disabled"
)

// ComponentReport records one component's outcome and timing for a run. A
// component that executed twice (normal pass plus escalation) gets two
// entries, the second with Escalated set.
type ComponentReport struct {
	Name      string        `json:"name"`
	Outcome   Outcome       `json:"outcome"`
	Wave      int           `json:"wave"`              // wave index the outcome was decided in, -1 for pre-run skips
	Duration  time.Duration `json:"duration"`          // execution time, zero for skips
	Signals   int           `json:"signals"`           // signals committed to the blackboard
	Error     string        `json:"error,omitempty"`   // failure detail, empty on success
	Trigger   string        `json:"trigger,omitempty"` // unmet trigger description for trigger-timeout skips
	Escalated bool          `json:"escalated,omitempty"`
}

// RunReport summarises a whole run for the caller. It is always produced,
// even when Run returns a fatal error, so partial progress is never silent.
type RunReport struct {
	RunID      string            `json:"run_id"`
	RequestID  string            `json:"request_id"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`
	Waves      int               `json:"waves"`
	Components []ComponentReport `json:"components"`
}

// Outcome returns the recorded outcome for the named component's primary
// (non-escalation) entry.
func (r *RunReport) Outcome(name string) (ComponentReport, bool) {
	for _, cr := range r.Components {
		if cr.Name == name && !cr.Escalated {
			return cr, true
		}
	}
	return ComponentReport{}, false
}

// Completed returns the names of components that completed, in report order.
func (r *RunReport) Completed() []string { return r.withOutcome(OutcomeCompleted) }

// Failed returns the names of components that failed, in report order.
func (r *RunReport) Failed() []string { return r.withOutcome(OutcomeFailed) }

// Skipped returns the names of components skipped for any reason.
func (r *RunReport) Skipped() []string {
	names := r.withOutcome(OutcomeSkippedTriggerTimeout)
	return append(names, r.withOutcome(OutcomeSkippedDisabled)...)
}

func (r *RunReport) withOutcome(o Outcome) []string {
	var names []string
	for _, cr := range r.Components {
		if cr.Outcome == o && !cr.Escalated {
			names = append(names, cr.Name)
		}
	}
	return names
}
