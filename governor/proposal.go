package governor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrProposalIDImmutable is returned when a proposal ID is set to a different value.
var ErrProposalIDImmutable = errors.New("proposal id already set")

// Action is one target call a proposal performs when executed.
type Action struct {
	Target   common.Address
	Value    *big.Int
	Calldata []byte
}

// ProposalRef describes a proposal's content together with its ID once that is known.
type ProposalRef struct {
	Targets     []common.Address
	Values      []*big.Int
	Calldatas   [][]byte
	Description string

	// DescriptionHash is keccak256 of Description.
	DescriptionHash common.Hash
	// ContentHash is the OpenZeppelin proposal hash of the content. It equals the proposal ID a
	// Governor assigns.
	ContentHash common.Hash

	id *big.Int
}

// NewProposalRef builds a proposal over at least one action.
func NewProposalRef(description string, actions ...Action) (*ProposalRef, error) {
	if len(actions) == 0 {
		return nil, errors.New("proposal needs at least one action")
	}

	ref := &ProposalRef{
		Description:     description,
		DescriptionHash: crypto.Keccak256Hash([]byte(description)),
	}
	for _, a := range actions {
		value := a.Value
		if value == nil {
			value = new(big.Int)
		}
		ref.Targets = append(ref.Targets, a.Target)
		ref.Values = append(ref.Values, value)
		ref.Calldatas = append(ref.Calldatas, a.Calldata)
	}

	encoded, err := GovernorABI.Methods["hashProposal"].Inputs.Pack(ref.Targets, ref.Values, ref.Calldatas, ref.DescriptionHash)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal content: %w", err)
	}
	ref.ContentHash = crypto.Keccak256Hash(encoded)

	return ref, nil
}

// ID returns the discovered proposal ID or nil.
func (p *ProposalRef) ID() *big.Int {
	if p.id == nil {
		return nil
	}

	return new(big.Int).Set(p.id)
}

// HasID reports whether the proposal ID is known.
func (p *ProposalRef) HasID() bool {
	return p.id != nil
}

// SetID records the proposal ID. Setting the same ID again is a no-op.
func (p *ProposalRef) SetID(id *big.Int) error {
	if id == nil || id.Sign() == 0 {
		return errors.New("proposal id must be non-zero")
	}
	if p.id != nil {
		if p.id.Cmp(id) != 0 {
			return fmt.Errorf("%w: have %s, got %s", ErrProposalIDImmutable, p.id, id)
		}

		return nil
	}
	p.id = new(big.Int).Set(id)

	return nil
}

// ProposeCall encodes a Governor propose of the whole content.
func (p *ProposalRef) ProposeCall(governor common.Address) (Call, error) {
	return NewCall(governor, GovernorABI, "propose", p.Targets, p.Values, p.Calldatas, p.Description)
}

// InlineProposeCall encodes an inline DAO propose. The inline DAO takes a single action.
func (p *ProposalRef) InlineProposeCall(dao common.Address) (Call, error) {
	if len(p.Targets) != 1 {
		return Call{}, fmt.Errorf("inline proposal takes exactly one action, got %d", len(p.Targets))
	}

	return NewCall(dao, InlineDAOABI, "propose", p.Targets[0], p.Values[0], p.Calldatas[0], p.Description)
}

// QueueCall encodes a Governor queue.
func (p *ProposalRef) QueueCall(governor common.Address) (Call, error) {
	return NewCall(governor, GovernorABI, "queue", p.Targets, p.Values, p.Calldatas, p.DescriptionHash)
}

// ExecuteCall encodes a Governor execute.
func (p *ProposalRef) ExecuteCall(governor common.Address) (Call, error) {
	return NewCall(governor, GovernorABI, "execute", p.Targets, p.Values, p.Calldatas, p.DescriptionHash)
}
