//go:build property

package lifecycle

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRunStagesOnlyMoveForward checks that any sequence of transitions leaves a strictly
// increasing history.
func TestRunStagesOnlyMoveForward(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("history is strictly increasing", prop.ForAll(
		func(steps []int) bool {
			run := NewRun("p", VariantTimelock, nil)
			for _, s := range steps {
				before := run.Stage
				err := run.advance(Stage(s))
				if (err == nil) != (Stage(s) > before) {
					return false
				}
			}
			for i := 1; i < len(run.History); i++ {
				if run.History[i] <= run.History[i-1] {
					return false
				}
			}

			return run.History[len(run.History)-1] == run.Stage
		},
		gen.SliceOf(gen.IntRange(int(StageCreated), int(StageExecuted))),
	))

	properties.TestingRun(t)
}
