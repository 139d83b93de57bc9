package metrics

import (
	"fmt"
	"slices"
	"strings"

	"github.com/smartcontractkit/govbench/lifecycle"
)

// Delta is the change of one metric from baseline to candidate.
type Delta struct {
	Metric    string  `json:"metric" toml:"metric"`
	Baseline  float64 `json:"baseline" toml:"baseline"`
	Candidate float64 `json:"candidate" toml:"candidate"`
	Delta     float64 `json:"delta" toml:"delta"`
	// Percent is Delta relative to Baseline, or 0 when Baseline is 0.
	Percent float64 `json:"percent" toml:"percent"`
}

// Divergence names a qualitative difference between two runs.
type Divergence struct {
	Field     string `json:"field" toml:"field"`
	Baseline  string `json:"baseline" toml:"baseline"`
	Candidate string `json:"candidate" toml:"candidate"`
}

// Divergence fields.
const (
	FieldExecutionPath = "execution_path"
	FieldStagePath     = "stage_path"
	FieldOutcome       = "outcome"
	FieldVoteCount     = "vote_count"
)

// ComparisonResult compares a candidate run against a baseline.
type ComparisonResult struct {
	Label       string       `json:"label" toml:"label"`
	Baseline    Measurements `json:"baseline" toml:"baseline"`
	Candidate   Measurements `json:"candidate" toml:"candidate"`
	Deltas      []Delta      `json:"deltas" toml:"deltas"`
	Divergences []Divergence `json:"divergences,omitempty" toml:"divergences,omitempty"`
}

// Diverged reports whether the runs differ qualitatively.
func (c ComparisonResult) Diverged() bool {
	return len(c.Divergences) > 0
}

// DeltaFor returns the delta of metric.
func (c ComparisonResult) DeltaFor(metric string) (Delta, bool) {
	for _, d := range c.Deltas {
		if d.Metric == metric {
			return d, true
		}
	}

	return Delta{}, false
}

// Compare measures both runs and compares them.
func Compare(label string, baseline, candidate *lifecycle.Run) ComparisonResult {
	return CompareMeasurements(label, Measure(baseline), Measure(candidate))
}

// CompareMeasurements compares every metric of candidate against baseline.
func CompareMeasurements(label string, baseline, candidate Measurements) ComparisonResult {
	res := ComparisonResult{Label: label, Baseline: baseline, Candidate: candidate}

	for _, metric := range Metrics {
		res.Deltas = append(res.Deltas, newDelta(metric, baseline.Value(metric), candidate.Value(metric)))
	}

	if baseline.Path != candidate.Path {
		res.Divergences = append(res.Divergences, Divergence{
			Field: FieldExecutionPath, Baseline: string(baseline.Path), Candidate: string(candidate.Path),
		})
	}
	if !slices.Equal(baseline.Stages, candidate.Stages) {
		res.Divergences = append(res.Divergences, Divergence{
			Field:     FieldStagePath,
			Baseline:  strings.Join(baseline.Stages, ">"),
			Candidate: strings.Join(candidate.Stages, ">"),
		})
	}
	if baseline.Outcome != candidate.Outcome {
		res.Divergences = append(res.Divergences, Divergence{
			Field: FieldOutcome, Baseline: string(baseline.Outcome), Candidate: string(candidate.Outcome),
		})
	}
	if baseline.VoteCount != candidate.VoteCount {
		res.Divergences = append(res.Divergences, Divergence{
			Field:     FieldVoteCount,
			Baseline:  fmt.Sprint(baseline.VoteCount),
			Candidate: fmt.Sprint(candidate.VoteCount),
		})
	}

	return res
}

func newDelta(metric string, baseline, candidate float64) Delta {
	d := Delta{Metric: metric, Baseline: baseline, Candidate: candidate, Delta: candidate - baseline}
	if baseline != 0 {
		d.Percent = d.Delta / baseline * 100
	}

	return d
}
