package governor

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Strategy is one way of recovering the ID of a freshly created proposal.
type Strategy string

const (
	// StrategyReturnValue decodes the simulated return value of propose.
	StrategyReturnValue Strategy = "return"
	// StrategyHash calls the Governor's hashProposal view.
	StrategyHash Strategy = "hash"
	// StrategyEvent scans the propose receipt for a creation event.
	StrategyEvent Strategy = "event"
	// StrategyStorage reads a storage slot of the proposal contract at the propose block.
	StrategyStorage Strategy = "storage"
)

// ErrProposalIDNotFound is returned when no strategy recovered an ID.
var ErrProposalIDNotFound = errors.New("proposal id not found")

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyReturnValue, StrategyHash, StrategyEvent, StrategyStorage:
		return true
	default:
		return false
	}
}

// StorageReader reads contract storage at a block. *evm.Chain satisfies it.
type StorageReader interface {
	StorageAt(ctx context.Context, account common.Address, slot common.Hash, block *big.Int) (common.Hash, error)
}

// Discovery holds what is known about a propose transaction once it is included.
type Discovery struct {
	// Contract is the address that received the propose call.
	Contract common.Address
	Ref      *ProposalRef
	Receipt  *types.Receipt
	// SimulatedReturn is the output of the propose call's pre-flight simulation.
	SimulatedReturn []byte

	// Governor is required by StrategyHash.
	Governor *Governor
	// Storage and Slot are required by StrategyStorage.
	Storage StorageReader
	Slot    common.Hash
}

// DiscoverProposalID tries strategies in order and returns the first non-zero ID together with
// the strategy that produced it. The errors of all failed strategies are joined.
func DiscoverProposalID(ctx context.Context, d Discovery, strategies ...Strategy) (*big.Int, Strategy, error) {
	if len(strategies) == 0 {
		return nil, "", errors.New("no discovery strategies given")
	}

	var errs []error
	for _, s := range strategies {
		id, err := d.discover(ctx, s)
		if err == nil && id.Sign() == 0 {
			err = errors.New("zero id")
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
			continue
		}

		return id, s, nil
	}

	return nil, "", fmt.Errorf("%w: %w", ErrProposalIDNotFound, errors.Join(errs...))
}

func (d Discovery) discover(ctx context.Context, s Strategy) (*big.Int, error) {
	switch s {
	case StrategyReturnValue:
		if len(d.SimulatedReturn) < common.HashLength {
			return nil, fmt.Errorf("return data has %d bytes", len(d.SimulatedReturn))
		}

		return new(big.Int).SetBytes(d.SimulatedReturn[:common.HashLength]), nil

	case StrategyHash:
		if d.Governor == nil || d.Ref == nil {
			return nil, errors.New("governor and proposal are required")
		}

		return d.Governor.HashProposal(ctx, d.Ref)

	case StrategyEvent:
		if d.Receipt == nil {
			return nil, errors.New("receipt is required")
		}

		return idFromLogs(d.Contract, d.Receipt.Logs)

	case StrategyStorage:
		if d.Storage == nil || d.Receipt == nil {
			return nil, errors.New("storage reader and receipt are required")
		}
		v, err := d.Storage.StorageAt(ctx, d.Contract, d.Slot, d.Receipt.BlockNumber)
		if err != nil {
			return nil, err
		}

		return v.Big(), nil

	default:
		return nil, fmt.Errorf("unknown strategy %q", s)
	}
}

// idFromLogs returns the ID of the first creation event emitted by contract. The Governor's
// ProposalCreated carries it in data; contracts that index the ID carry it in the first topic.
func idFromLogs(contract common.Address, logs []*types.Log) (*big.Int, error) {
	created := GovernorABI.Events["ProposalCreated"]

	for _, l := range logs {
		if l.Address != contract || len(l.Topics) == 0 {
			continue
		}

		if l.Topics[0] == created.ID {
			out, err := created.Inputs.Unpack(l.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode ProposalCreated: %w", err)
			}
			id, ok := out[0].(*big.Int)
			if !ok {
				return nil, fmt.Errorf("ProposalCreated: expected *big.Int, got %T", out[0])
			}

			return id, nil
		}

		if len(l.Topics) > 1 {
			return l.Topics[1].Big(), nil
		}
	}

	return nil, fmt.Errorf("no creation event from %s in %d logs", contract.Hex(), len(logs))
}
