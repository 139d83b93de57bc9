package governor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TreasuryKind selects how a payment proposal addresses the treasury.
type TreasuryKind string

const (
	// TreasuryBasic calls executePayment(recipient, amount) directly.
	TreasuryBasic TreasuryKind = "basic"
	// TreasurySecure wraps executePayment in execute(treasury, 0, ...).
	TreasurySecure TreasuryKind = "secure"
	// TreasuryNoop sends empty calldata to the treasury.
	TreasuryNoop TreasuryKind = "noop"
)

// Valid reports whether k is a known kind.
func (k TreasuryKind) Valid() bool {
	switch k {
	case TreasuryBasic, TreasurySecure, TreasuryNoop:
		return true
	default:
		return false
	}
}

// PaymentAction builds the proposal action that pays amount to recipient out of treasury.
func PaymentAction(kind TreasuryKind, treasury, recipient common.Address, amount *big.Int) (Action, error) {
	if kind == TreasuryNoop {
		return Action{Target: treasury, Value: new(big.Int), Calldata: []byte{}}, nil
	}
	if amount == nil {
		amount = new(big.Int)
	}

	payment, err := TreasuryABI.Pack("executePayment", recipient, amount)
	if err != nil {
		return Action{}, fmt.Errorf("failed to encode executePayment: %w", err)
	}

	switch kind {
	case TreasuryBasic:
		return Action{Target: treasury, Value: new(big.Int), Calldata: payment}, nil
	case TreasurySecure:
		wrapped, err := TreasuryABI.Pack("execute", treasury, new(big.Int), payment)
		if err != nil {
			return Action{}, fmt.Errorf("failed to encode treasury execute: %w", err)
		}

		return Action{Target: treasury, Value: new(big.Int), Calldata: wrapped}, nil
	default:
		return Action{}, fmt.Errorf("unknown treasury kind %q", kind)
	}
}
