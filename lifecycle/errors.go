package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/smartcontractkit/govbench/governor"
	"github.com/smartcontractkit/govbench/internal/poll"
)

// Cause explains why a proposal did not pass.
type Cause string

const (
	CauseQuorumNotMet       Cause = "quorum not met"
	CauseMajorityNotMet     Cause = "majority not met"
	CauseCanceled           Cause = "canceled"
	CauseExpired            Cause = "expired"
	CauseDecisiveVoteFailed Cause = "decisive vote failed"
	CauseUnknown            Cause = "unknown"
)

// ProposalDefeatedError is returned when the proposal reached a state it cannot execute from.
type ProposalDefeatedError struct {
	ProposalID *big.Int
	State      governor.ProposalState
	Cause      Cause
	// Votes and Quorum are set when they could be read.
	Votes  *governor.VoteCounts
	Quorum *big.Int
}

func (e *ProposalDefeatedError) Error() string {
	msg := fmt.Sprintf("proposal %v defeated (%s): %s", e.ProposalID, e.State, e.Cause)
	if e.Votes != nil && e.Quorum != nil {
		msg += fmt.Sprintf(" [for=%s against=%s abstain=%s quorum=%s]",
			e.Votes.For, e.Votes.Against, e.Votes.Abstain, e.Quorum)
	}

	return msg
}

// LifecycleTimeoutError is returned when a wait exceeded its ceiling.
type LifecycleTimeoutError struct {
	Stage        Stage
	LastObserved any
	Err          error
}

func (e *LifecycleTimeoutError) Error() string {
	return fmt.Sprintf("timed out in stage %s: %v", e.Stage, e.Err)
}

func (e *LifecycleTimeoutError) Unwrap() error {
	return e.Err
}

// Diagnose explains why a proposal ended in state. Read failures leave the cause unknown rather
// than failing. When the quorum view is unavailable it is derived from the total supply and
// the quorum numerator.
func Diagnose(ctx context.Context, gov *governor.Governor, caller governor.Caller, id *big.Int, state governor.ProposalState) *ProposalDefeatedError {
	e := &ProposalDefeatedError{ProposalID: id, State: state, Cause: CauseUnknown}

	switch state {
	case governor.StateCanceled:
		e.Cause = CauseCanceled

		return e
	case governor.StateExpired:
		e.Cause = CauseExpired

		return e
	}

	votes, err := gov.Votes(ctx, id)
	if err != nil {
		return e
	}
	e.Votes = &votes

	quorum, err := quorumAt(ctx, gov, caller, id)
	if err != nil {
		return e
	}
	e.Quorum = quorum

	counted := new(big.Int).Add(votes.For, votes.Abstain)
	if counted.Cmp(quorum) < 0 {
		e.Cause = CauseQuorumNotMet
	} else {
		e.Cause = CauseMajorityNotMet
	}

	return e
}

func quorumAt(ctx context.Context, gov *governor.Governor, caller governor.Caller, id *big.Int) (*big.Int, error) {
	snapshot, err := gov.Snapshot(ctx, id)
	if err == nil {
		if q, err := gov.Quorum(ctx, snapshot); err == nil {
			return q, nil
		}
	}

	numerator, err := gov.QuorumNumerator(ctx)
	if err != nil {
		return nil, err
	}
	tokenAddr, err := gov.Token(ctx)
	if err != nil {
		return nil, err
	}
	supply, err := governor.NewToken(tokenAddr, caller).TotalSupply(ctx)
	if err != nil {
		return nil, err
	}

	q := new(big.Int).Mul(supply, numerator)

	return q.Div(q, big.NewInt(100)), nil
}

func timeoutError(stage Stage, err error) error {
	var t *poll.TimeoutError
	if errors.As(err, &t) {
		return &LifecycleTimeoutError{Stage: stage, LastObserved: t.Last, Err: t}
	}

	return err
}
