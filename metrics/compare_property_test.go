//go:build property

package metrics

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/smartcontractkit/govbench/lifecycle"
)

// TestCompareSelfIsZero checks compare(run, run) yields no delta and no divergence.
func TestCompareSelfIsZero(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("self comparison is zero", prop.ForAll(
		func(propose uint64, votes []uint64, queue, execute uint64) bool {
			run := testRun("p", lifecycle.VariantTimelock, propose, votes, queue, execute)
			res := Compare("p", run, run)
			if res.Diverged() {
				return false
			}
			for _, d := range res.Deltas {
				if d.Delta != 0 || d.Percent != 0 {
					return false
				}
			}

			return true
		},
		gen.UInt64Range(0, 1<<30),
		gen.SliceOf(gen.UInt64Range(0, 1<<20)),
		gen.UInt64Range(0, 1<<30),
		gen.UInt64Range(0, 1<<30),
	))

	properties.Property("delta is candidate minus baseline", prop.ForAll(
		func(baseline, candidate uint64) bool {
			res := Compare("p",
				testRun("b", lifecycle.VariantInline, baseline, nil, 0, 0),
				testRun("c", lifecycle.VariantInline, candidate, nil, 0, 0))
			d, ok := res.DeltaFor(MetricProposeGas)
			if !ok || d.Delta != float64(candidate)-float64(baseline) {
				return false
			}
			if baseline == 0 {
				return d.Percent == 0
			}

			return math.Abs(d.Percent-d.Delta/float64(baseline)*100) < 1e-9
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}
