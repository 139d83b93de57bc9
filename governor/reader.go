package governor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller executes read-only calls. *evm.Chain satisfies it.
type Caller interface {
	Read(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error)
}

// VoteCounts are the Governor's running totals for a proposal.
type VoteCounts struct {
	Against *big.Int
	For     *big.Int
	Abstain *big.Int
}

// Governor reads the views of an OpenZeppelin Governor.
type Governor struct {
	Address common.Address
	caller  Caller
}

// NewGovernor binds the Governor at addr.
func NewGovernor(addr common.Address, caller Caller) *Governor {
	return &Governor{Address: addr, caller: caller}
}

func (g *Governor) State(ctx context.Context, id *big.Int) (ProposalState, error) {
	s, err := readOne[uint8](ctx, g.caller, g.Address, GovernorABI, "state", id)
	if err != nil {
		return 0, err
	}

	return ProposalState(s), nil
}

func (g *Governor) Snapshot(ctx context.Context, id *big.Int) (*big.Int, error) {
	return readOne[*big.Int](ctx, g.caller, g.Address, GovernorABI, "proposalSnapshot", id)
}

func (g *Governor) Deadline(ctx context.Context, id *big.Int) (*big.Int, error) {
	return readOne[*big.Int](ctx, g.caller, g.Address, GovernorABI, "proposalDeadline", id)
}

// Eta is the timestamp at which a queued proposal becomes executable. Governors without a
// timelock extension revert.
func (g *Governor) Eta(ctx context.Context, id *big.Int) (*big.Int, error) {
	return readOne[*big.Int](ctx, g.caller, g.Address, GovernorABI, "proposalEta", id)
}

func (g *Governor) Votes(ctx context.Context, id *big.Int) (VoteCounts, error) {
	out, err := read(ctx, g.caller, g.Address, GovernorABI, "proposalVotes", id)
	if err != nil {
		return VoteCounts{}, err
	}
	if len(out) != 3 {
		return VoteCounts{}, fmt.Errorf("proposalVotes: expected 3 outputs, got %d", len(out))
	}

	var counts [3]*big.Int
	for i, v := range out {
		n, ok := v.(*big.Int)
		if !ok {
			return VoteCounts{}, fmt.Errorf("proposalVotes: expected *big.Int, got %T", v)
		}
		counts[i] = n
	}

	return VoteCounts{Against: counts[0], For: counts[1], Abstain: counts[2]}, nil
}

// Quorum returns the votes required at timepoint, usually the proposal snapshot.
func (g *Governor) Quorum(ctx context.Context, timepoint *big.Int) (*big.Int, error) {
	return readOne[*big.Int](ctx, g.caller, g.Address, GovernorABI, "quorum", timepoint)
}

// QuorumNumerator returns the quorum as a percentage of the total supply.
func (g *Governor) QuorumNumerator(ctx context.Context) (*big.Int, error) {
	return readOne[*big.Int](ctx, g.caller, g.Address, GovernorABI, "quorumNumerator")
}

// Token returns the voting token address.
func (g *Governor) Token(ctx context.Context) (common.Address, error) {
	return readOne[common.Address](ctx, g.caller, g.Address, GovernorABI, "token")
}

// HashProposal asks the Governor for the ID of ref's content.
func (g *Governor) HashProposal(ctx context.Context, ref *ProposalRef) (*big.Int, error) {
	return readOne[*big.Int](ctx, g.caller, g.Address, GovernorABI, "hashProposal",
		ref.Targets, ref.Values, ref.Calldatas, ref.DescriptionHash)
}

// Token reads the views of an ERC20Votes token.
type Token struct {
	Address common.Address
	caller  Caller
}

// NewToken binds the token at addr.
func NewToken(addr common.Address, caller Caller) *Token {
	return &Token{Address: addr, caller: caller}
}

func (t *Token) GetVotes(ctx context.Context, account common.Address) (*big.Int, error) {
	return readOne[*big.Int](ctx, t.caller, t.Address, TokenABI, "getVotes", account)
}

func (t *Token) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return readOne[*big.Int](ctx, t.caller, t.Address, TokenABI, "balanceOf", account)
}

func (t *Token) TotalSupply(ctx context.Context) (*big.Int, error) {
	return readOne[*big.Int](ctx, t.caller, t.Address, TokenABI, "totalSupply")
}

func read(ctx context.Context, c Caller, to common.Address, parsed *abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	raw, err := c.Read(ctx, to, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, to.Hex(), err)
	}

	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}

	return out, nil
}

func readOne[T any](ctx context.Context, c Caller, to common.Address, parsed *abi.ABI, method string, args ...any) (T, error) {
	var zero T

	out, err := read(ctx, c, to, parsed, method, args...)
	if err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, fmt.Errorf("%s returned no data", method)
	}

	v, ok := out[0].(T)
	if !ok {
		return zero, fmt.Errorf("%s: expected %T, got %T", method, zero, out[0])
	}

	return v, nil
}
