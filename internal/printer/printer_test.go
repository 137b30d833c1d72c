package printer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/internal/scheduler"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestErrorWithContext(t *testing.T) {
	context := map[string]string{
		"Manifests": "/path/to/manifests",
		"Instance":  "test-instance",
	}
	err := ErrorWithContext("Test Error", "Explanation", context, []string{"Fix it"})
	require.Error(t, err)
	require.Equal(t, "Test Error", err.Error())
}

func TestOutcomeSummary(t *testing.T) {
	report := &scheduler.RunReport{
		Components: []scheduler.ComponentReport{
			{Name: "a", Outcome: scheduler.OutcomeCompleted, Duration: 10 * time.Millisecond},
			{Name: "b", Outcome: scheduler.OutcomeFailed, Error: "boom"},
			{Name: "c", Outcome: scheduler.OutcomeSkippedTriggerTimeout},
			{Name: "d", Outcome: scheduler.OutcomeSkippedDisabled},
		},
	}
	require.Equal(t, "1 completed, 1 failed, 2 skipped", OutcomeSummary(report))
}

// Note: the rendering functions print colored output; tests only assert on
// the error objects and summaries Cobra consumes, matching SilenceErrors.
