// Package lifecycle drives a governance proposal from submission to execution.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/smartcontractkit/govbench/governor"
	"github.com/smartcontractkit/govbench/submitter"
	"github.com/smartcontractkit/govbench/voting"
)

// Stage is a step of the proposal lifecycle. Stages are ordered.
type Stage int

const (
	StageCreated Stage = iota
	StageProposed
	StageAwaitingWindow
	StageVoting
	StageResolved
	StageQueued
	StageAwaitingDelay
	StageExecuted
)

var stageNames = [...]string{
	StageCreated:        "Created",
	StageProposed:       "Proposed",
	StageAwaitingWindow: "AwaitingWindow",
	StageVoting:         "Voting",
	StageResolved:       "Resolved",
	StageQueued:         "Queued",
	StageAwaitingDelay:  "AwaitingDelay",
	StageExecuted:       "Executed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}

	return fmt.Sprintf("Stage(%d)", int(s))
}

// MarshalText renders the stage name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transaction steps, used as the stage of submitter records.
const (
	StepDelegate = "delegate"
	StepPropose  = "propose"
	StepVote     = voting.StageVote
	StepQueue    = "queue"
	StepExecute  = "execute"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomePending  Outcome = ""
	OutcomeExecuted Outcome = "executed"
	OutcomeDefeated Outcome = "defeated"
	OutcomeAborted  Outcome = "aborted"
)

// ExecutionPath tells whether the proposal executed inside the deciding vote or via a timelock.
type ExecutionPath string

const (
	PathImmediate ExecutionPath = "Immediate"
	PathTimelock  ExecutionPath = "Timelock"
)

// ErrBackwardTransition is returned for a stage change that does not move forward.
var ErrBackwardTransition = errors.New("stage transition must move forward")

// Run is one attempt to take a proposal from Created to Executed. It is only mutated by the
// Machine that created it.
type Run struct {
	ID       string
	Label    string
	Variant  VariantKind
	Ref      *governor.ProposalRef
	Stage    Stage
	History  []Stage
	Path     ExecutionPath
	Outcome  Outcome
	Err      error
	Strategy governor.Strategy

	// Records are the successful transactions of the lifecycle, in submission order.
	Records []submitter.Record
	// Setup are the delegation transactions sent before proposing. They are not part of the
	// lifecycle cost.
	Setup []submitter.Record
	Tally voting.Tally

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRun starts a run in the Created stage.
func NewRun(label string, variant VariantKind, ref *governor.ProposalRef) *Run {
	return &Run{
		ID:        ksuid.New().String(),
		Label:     label,
		Variant:   variant,
		Ref:       ref,
		Stage:     StageCreated,
		History:   []Stage{StageCreated},
		Path:      variant.Path(),
		StartedAt: time.Now(),
	}
}

// advance moves through stages in order.
func (r *Run) advance(stages ...Stage) error {
	for _, to := range stages {
		if to <= r.Stage {
			return fmt.Errorf("%w: %s to %s", ErrBackwardTransition, r.Stage, to)
		}
		r.Stage = to
		r.History = append(r.History, to)
	}

	return nil
}

func (r *Run) record(recs ...submitter.Record) {
	r.Records = append(r.Records, recs...)
}

func (r *Run) finish(outcome Outcome, err error) {
	r.Outcome = outcome
	r.Err = err
	r.FinishedAt = time.Now()
}

// RecordsFor returns the records of one transaction step.
func (r *Run) RecordsFor(step string) []submitter.Record {
	var out []submitter.Record
	for _, rec := range r.Records {
		if rec.Stage == step {
			out = append(out, rec)
		}
	}

	return out
}

// GasFor sums the gas used by one transaction step.
func (r *Run) GasFor(step string) uint64 {
	var total uint64
	for _, rec := range r.RecordsFor(step) {
		total += rec.GasUsed
	}

	return total
}

// Reached reports whether the run passed through s.
func (r *Run) Reached(s Stage) bool {
	for _, h := range r.History {
		if h == s {
			return true
		}
	}

	return false
}
