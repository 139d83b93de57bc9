// Package metrics measures the cost of lifecycle runs and compares them.
package metrics

import (
	"github.com/montanaflynn/stats"

	"github.com/smartcontractkit/govbench/lifecycle"
)

// Metric names, in report order.
const (
	MetricProposeGas    = "propose_gas"
	MetricVotesTotalGas = "votes_total_gas"
	MetricVotesCount    = "votes_count"
	MetricVotesMeanGas  = "votes_mean_gas"
	MetricVotesMedian   = "votes_median_gas"
	MetricQueueGas      = "queue_gas"
	MetricExecuteGas    = "execute_gas"
	MetricTotalGas      = "total_gas"
	MetricProposeSize   = "propose_calldata_bytes"
)

// Metrics lists every metric in report order.
var Metrics = []string{
	MetricProposeGas,
	MetricVotesTotalGas,
	MetricVotesCount,
	MetricVotesMeanGas,
	MetricVotesMedian,
	MetricQueueGas,
	MetricExecuteGas,
	MetricTotalGas,
	MetricProposeSize,
}

// Measurements are the costs of one run.
type Measurements struct {
	Label   string                  `json:"label" toml:"label"`
	Variant lifecycle.VariantKind   `json:"variant" toml:"variant"`
	Path    lifecycle.ExecutionPath `json:"executionPath" toml:"execution_path"`
	Stages  []string                `json:"stagePath" toml:"stage_path"`
	Outcome lifecycle.Outcome       `json:"outcome" toml:"outcome"`

	ProposeGas uint64 `json:"proposeGas" toml:"propose_gas"`
	VoteGas    uint64 `json:"voteGas" toml:"vote_gas"`
	QueueGas   uint64 `json:"queueGas" toml:"queue_gas"`
	ExecuteGas uint64 `json:"executeGas" toml:"execute_gas"`
	TotalGas   uint64 `json:"totalGas" toml:"total_gas"`

	VoteCount     int     `json:"voteCount" toml:"vote_count"`
	VoteMeanGas   float64 `json:"voteMeanGas" toml:"vote_mean_gas"`
	VoteMedianGas float64 `json:"voteMedianGas" toml:"vote_median_gas"`

	ProposeCalldataSize int `json:"proposeCalldataSize" toml:"propose_calldata_size"`
}

// Measure derives the measurements of run. Only successful transactions count, and setup
// transactions are left out.
func Measure(run *lifecycle.Run) Measurements {
	m := Measurements{
		Label:      run.Label,
		Variant:    run.Variant,
		Path:       run.Path,
		Outcome:    run.Outcome,
		ProposeGas: run.GasFor(lifecycle.StepPropose),
		VoteGas:    run.GasFor(lifecycle.StepVote),
		QueueGas:   run.GasFor(lifecycle.StepQueue),
		ExecuteGas: run.GasFor(lifecycle.StepExecute),
	}
	m.TotalGas = m.ProposeGas + m.VoteGas + m.QueueGas + m.ExecuteGas

	for _, s := range run.History {
		m.Stages = append(m.Stages, s.String())
	}

	for _, rec := range run.RecordsFor(lifecycle.StepPropose) {
		m.ProposeCalldataSize += rec.PayloadSize
	}

	votes := run.RecordsFor(lifecycle.StepVote)
	m.VoteCount = len(votes)
	if len(votes) > 0 {
		data := make(stats.Float64Data, 0, len(votes))
		for _, v := range votes {
			data = append(data, float64(v.GasUsed))
		}
		// Both only fail on empty input.
		m.VoteMeanGas, _ = data.Mean()
		m.VoteMedianGas, _ = data.Median()
	}

	return m
}

// Value returns the named metric.
func (m Measurements) Value(metric string) float64 {
	switch metric {
	case MetricProposeGas:
		return float64(m.ProposeGas)
	case MetricVotesTotalGas:
		return float64(m.VoteGas)
	case MetricVotesCount:
		return float64(m.VoteCount)
	case MetricVotesMeanGas:
		return m.VoteMeanGas
	case MetricVotesMedian:
		return m.VoteMedianGas
	case MetricQueueGas:
		return float64(m.QueueGas)
	case MetricExecuteGas:
		return float64(m.ExecuteGas)
	case MetricTotalGas:
		return float64(m.TotalGas)
	case MetricProposeSize:
		return float64(m.ProposeCalldataSize)
	default:
		return 0
	}
}
