package scheduler

import (
	"errors"
	"fmt"
)

// ErrTriggerTimeout marks a component whose trigger conditions were never
// satisfied within its trigger timeout.
var ErrTriggerTimeout = errors.New("trigger conditions not satisfied within timeout")

// ErrExecutionTimeout marks a component that exceeded its execution timeout.
var ErrExecutionTimeout = errors.New("component exceeded execution timeout")

// ComponentExecutionError wraps any error or recovered panic raised inside a
// component's Execute. It is always caught per component; a component can
// never crash the scheduler.
type ComponentExecutionError struct {
	Component string
	Err       error
}

func (e *ComponentExecutionError) Error() string {
	return fmt.Sprintf("component %q execution failed: %v", e.Component, e.Err)
}

func (e *ComponentExecutionError) Unwrap() error { return e.Err }

// FatalComponentError is returned from Run when a non-optional component
// fails or is skipped. The run aborts; the report still carries every
// component's outcome up to that point.
type FatalComponentError struct {
	Component string
	Reason    error

	// Trigger describes the unmet condition when the failure was a trigger
	// timeout, so the caller can see what never became true.
	Trigger string
}

func (e *FatalComponentError) Error() string {
	if e.Trigger != "" {
		return fmt.Sprintf("required component %q: %v (unmet trigger: %s)", e.Component, e.Reason, e.Trigger)
	}
	return fmt.Sprintf("required component %q: %v", e.Component, e.Reason)
}

func (e *FatalComponentError) Unwrap() error { return e.Reason }

// IsTriggerTimeout reports whether err is a trigger timeout.
func IsTriggerTimeout(err error) bool { return errors.Is(err, ErrTriggerTimeout) }

// IsExecutionTimeout reports whether err is an execution timeout.
func IsExecutionTimeout(err error) bool { return errors.Is(err, ErrExecutionTimeout) }
