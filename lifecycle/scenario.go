package lifecycle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smartcontractkit/govbench/governor"
	"github.com/smartcontractkit/govbench/identity"
)

// VariantKind selects the governance contract family a scenario runs against.
type VariantKind string

const (
	// VariantInline is a DAO that executes the proposal inside the vote that passes it.
	VariantInline VariantKind = "inline"
	// VariantTimelock is an OpenZeppelin Governor behind a timelock.
	VariantTimelock VariantKind = "timelock"
)

// Valid reports whether v is a known variant.
func (v VariantKind) Valid() bool {
	return v == VariantInline || v == VariantTimelock
}

// Path is the execution path of the variant.
func (v VariantKind) Path() ExecutionPath {
	if v == VariantInline {
		return PathImmediate
	}

	return PathTimelock
}

// DefaultStrategies is the discovery order of the variant's proposal ID. The inline DAO keeps
// its proposal counter in storage; a Governor derives the ID from the proposal content.
func (v VariantKind) DefaultStrategies() []governor.Strategy {
	if v == VariantInline {
		return []governor.Strategy{governor.StrategyStorage, governor.StrategyReturnValue, governor.StrategyEvent}
	}

	return []governor.Strategy{governor.StrategyHash, governor.StrategyReturnValue, governor.StrategyEvent}
}

// DefaultProposalIDSlot is the storage slot of the inline DAO's proposal counter.
var DefaultProposalIDSlot = common.BigToHash(big.NewInt(3))

// ClockMode is how the Governor measures voting periods.
type ClockMode string

const (
	ClockBlockNumber ClockMode = "blocknumber"
	ClockTimestamp   ClockMode = "timestamp"
)

// Scenario is one proposal to take through its lifecycle.
type Scenario struct {
	Label   string
	Variant VariantKind

	// Governor is the contract that receives propose, vote, queue and execute.
	Governor     common.Address
	Treasury     common.Address
	TreasuryKind governor.TreasuryKind
	// Token is the voting token. For a Governor it defaults to Governor.token().
	Token       common.Address
	Recipient   common.Address
	Amount      *big.Int
	Description string

	Proposer *identity.Identity
	Voters   []*identity.Identity
	Decisive []*identity.Identity
	// Support is the vote cast: 0 against, 1 for, 2 abstain. The inline DAO votes for on any
	// non-zero value.
	Support uint8
	// Delegate self-delegates participants that hold tokens but no votes before proposing.
	Delegate bool

	Strategies     []governor.Strategy
	ProposalIDSlot common.Hash
}

func (s Scenario) strategies() []governor.Strategy {
	if len(s.Strategies) > 0 {
		return s.Strategies
	}

	return s.Variant.DefaultStrategies()
}

func (s Scenario) slot() common.Hash {
	if s.ProposalIDSlot != (common.Hash{}) {
		return s.ProposalIDSlot
	}

	return DefaultProposalIDSlot
}

// participants are the proposer, voters and decisive identities without repeats.
func (s Scenario) participants() []*identity.Identity {
	seen := make(map[common.Address]bool)
	var out []*identity.Identity
	add := func(ids ...*identity.Identity) {
		for _, id := range ids {
			if id == nil || seen[id.Address] {
				continue
			}
			seen[id.Address] = true
			out = append(out, id)
		}
	}
	add(s.Proposer)
	add(s.Voters...)
	add(s.Decisive...)

	return out
}
