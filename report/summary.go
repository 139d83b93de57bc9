// Package report renders the results of a govbench run.
package report

import (
	"errors"
	"strconv"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/multierr"

	"github.com/smartcontractkit/govbench/lifecycle"
	"github.com/smartcontractkit/govbench/metrics"
	"github.com/smartcontractkit/govbench/submitter"
)

// Network identifies the chain the runs went against.
type Network struct {
	Name     string   `json:"name" toml:"name"`
	ChainID  string   `json:"chainId" toml:"chain_id"`
	Selector Selector `json:"selector" toml:"selector"`
}

// Selector is a chain selector. It is rendered as a decimal string since most selectors do not
// fit in a signed 64 bit integer.
type Selector uint64

func (s Selector) MarshalText() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(s), 10), nil
}

// RunSummary is the report form of a lifecycle run.
type RunSummary struct {
	metrics.Measurements

	ID         string             `json:"id" toml:"id"`
	ProposalID string             `json:"proposalId,omitempty" toml:"proposal_id,omitempty"`
	Strategy   string             `json:"idStrategy,omitempty" toml:"id_strategy,omitempty"`
	StartedAt  time.Time          `json:"startedAt" toml:"started_at"`
	FinishedAt time.Time          `json:"finishedAt" toml:"finished_at"`
	Voted      int                `json:"voted" toml:"voted"`
	Skipped    int                `json:"skipped" toml:"skipped"`
	Failed     int                `json:"failed" toml:"failed"`
	Error      string             `json:"error,omitempty" toml:"error,omitempty"`
	Records    []submitter.Record `json:"records" toml:"records"`
	Setup      []submitter.Record `json:"setup,omitempty" toml:"setup,omitempty"`
}

// Failure is a scenario that did not execute.
type Failure struct {
	Label string `json:"label" toml:"label"`
	Stage string `json:"stage" toml:"stage"`
	Error string `json:"error" toml:"error"`
}

// Summary is everything a report renders.
type Summary struct {
	ID          string                     `json:"id" toml:"id"`
	GeneratedAt time.Time                  `json:"generatedAt" toml:"generated_at"`
	Network     Network                    `json:"network" toml:"network"`
	Runs        []RunSummary               `json:"runs" toml:"runs"`
	Comparisons []metrics.ComparisonResult `json:"comparisons" toml:"comparisons"`
	Failures    []Failure                  `json:"failures,omitempty" toml:"failures,omitempty"`
}

// NewSummary builds the summary of runs. runErr is the combined error of the runner; each of
// its scenario failures becomes a Failure.
func NewSummary(network Network, runs []*lifecycle.Run, comparisons []metrics.ComparisonResult, runErr error) Summary {
	s := Summary{
		ID:          ksuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		Network:     network,
		Comparisons: comparisons,
	}

	for _, run := range runs {
		s.Runs = append(s.Runs, summarize(run))
	}

	for _, err := range multierr.Errors(runErr) {
		f := Failure{Error: err.Error()}
		var sf *lifecycle.ScenarioFailure
		if errors.As(err, &sf) {
			f = Failure{Label: sf.Label, Stage: sf.Stage.String(), Error: sf.Err.Error()}
		}
		s.Failures = append(s.Failures, f)
	}

	return s
}

func summarize(run *lifecycle.Run) RunSummary {
	rs := RunSummary{
		Measurements: metrics.Measure(run),
		ID:           run.ID,
		Strategy:     string(run.Strategy),
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Voted:        run.Tally.Voted,
		Skipped:      run.Tally.Skipped,
		Failed:       run.Tally.Failed,
		Records:      run.Records,
		Setup:        run.Setup,
	}
	if run.Ref != nil && run.Ref.HasID() {
		rs.ProposalID = run.Ref.ID().String()
	}
	if run.Err != nil {
		rs.Error = run.Err.Error()
	}

	return rs
}
