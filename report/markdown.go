package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Markdown renders s as a human readable report: a section per comparison with a metric table,
// followed by the runs and any failures.
func Markdown(s Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Gas Comparison Summary (%s)\n\n", s.GeneratedAt.Format("20060102_150405"))
	fmt.Fprintf(&b, "Network: %s (chain %s)\n\n", s.Network.Name, s.Network.ChainID)
	b.WriteString("## Summary (numbers are gas units)\n\n")

	for _, c := range s.Comparisons {
		fmt.Fprintf(&b, "### %s\n\n", c.Label)
		fmt.Fprintf(&b, "Baseline: %s (%s), candidate: %s (%s)\n\n",
			c.Baseline.Label, c.Baseline.Path, c.Candidate.Label, c.Candidate.Path)
		b.WriteString("| Metric | Baseline | Candidate | Difference | Change |\n")
		b.WriteString("|---|---:|---:|---:|---:|\n")
		for _, d := range c.Deltas {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %.2f%% |\n",
				d.Metric, formatValue(d.Baseline), formatValue(d.Candidate), formatValue(d.Delta), d.Percent)
		}
		if len(c.Divergences) > 0 {
			b.WriteString("\nDivergences:\n\n")
			for _, d := range c.Divergences {
				fmt.Fprintf(&b, "- %s: %s vs %s\n", d.Field, d.Baseline, d.Candidate)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Runs\n\n")
	b.WriteString("| Scenario | Variant | Outcome | Path | Total gas | Votes |\n")
	b.WriteString("|---|---|---|---|---:|---:|\n")
	for _, r := range s.Runs {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %d |\n",
			r.Label, r.Variant, r.Outcome, r.Path, r.TotalGas, r.VoteCount)
	}

	if len(s.Failures) > 0 {
		b.WriteString("\n## Failures\n\n")
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "- %s (stage %s): %s\n", f.Label, f.Stage, f.Error)
		}
	}

	return b.String()
}

// formatValue prints integral values without a fraction.
func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
		return strconv.FormatInt(int64(v), 10)
	}

	return strconv.FormatFloat(v, 'f', 2, 64)
}
