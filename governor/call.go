package governor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Call is one encoded contract call ready for submission.
type Call struct {
	To     common.Address
	Method string
	Data   []byte
	Value  *big.Int
}

// NewCall packs method with args against parsed.
func NewCall(to common.Address, parsed *abi.ABI, method string, args ...any) (Call, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	return Call{To: to, Method: method, Data: data, Value: new(big.Int)}, nil
}

// RawCall wraps already encoded calldata.
func RawCall(to common.Address, data []byte, value *big.Int) Call {
	if value == nil {
		value = new(big.Int)
	}

	return Call{To: to, Method: "raw", Data: data, Value: value}
}

// WithValue returns a copy of c that sends value wei.
func (c Call) WithValue(value *big.Int) Call {
	c.Value = new(big.Int).Set(value)

	return c
}

func (c Call) String() string {
	return fmt.Sprintf("%s %s(%s)", c.To.Hex(), c.Method, hexutil.Encode(c.Data))
}

// CastVoteCall encodes a Governor castVote. Support is 0 against, 1 for, 2 abstain.
func CastVoteCall(governor common.Address, proposalID *big.Int, support uint8) (Call, error) {
	return NewCall(governor, GovernorABI, "castVote", proposalID, support)
}

// InlineVoteCall encodes an inline DAO vote.
func InlineVoteCall(dao common.Address, proposalID *big.Int, support bool) (Call, error) {
	return NewCall(dao, InlineDAOABI, "vote", proposalID, support)
}

// DelegateCall encodes a token delegate.
func DelegateCall(token, delegatee common.Address) (Call, error) {
	return NewCall(token, TokenABI, "delegate", delegatee)
}
