package governor

import "fmt"

// ProposalState is the Governor's view of a proposal.
type ProposalState uint8

const (
	StatePending ProposalState = iota
	StateActive
	StateCanceled
	StateDefeated
	StateSucceeded
	StateQueued
	StateExpired
	StateExecuted
)

var stateNames = [...]string{
	StatePending:   "Pending",
	StateActive:    "Active",
	StateCanceled:  "Canceled",
	StateDefeated:  "Defeated",
	StateSucceeded: "Succeeded",
	StateQueued:    "Queued",
	StateExpired:   "Expired",
	StateExecuted:  "Executed",
}

func (s ProposalState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("ProposalState(%d)", uint8(s))
}

// Terminal reports whether the proposal can no longer pass.
func (s ProposalState) Terminal() bool {
	return s == StateCanceled || s == StateDefeated || s == StateExpired
}

// Passed reports whether the vote succeeded, including the later queued and executed states.
func (s ProposalState) Passed() bool {
	return s == StateSucceeded || s == StateQueued || s == StateExecuted
}
