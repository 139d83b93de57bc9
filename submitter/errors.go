package submitter

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smartcontractkit/govbench/chain/evm"
)

// SimulationError is returned when the pre-flight dry run rejects a call. Nothing was
// broadcast and the nonce is kept.
type SimulationError = evm.SimulationError

// OnChainRevertError is returned for a transaction that was included with a failed status. The
// nonce is consumed.
type OnChainRevertError struct {
	TxHash  common.Hash
	Reason  string
	GasUsed uint64
}

func (e *OnChainRevertError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash.Hex(), e.Reason)
}

// InsufficientBalanceError is returned when the sender cannot pay for value plus the worst case
// fee. Nothing was broadcast.
type InsufficientBalanceError struct {
	Account  common.Address
	Balance  *big.Int
	Required *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: have %s wei, need %s wei", e.Account.Hex(), e.Balance, e.Required)
}

// TransientNetworkError is returned when an RPC kept failing with recoverable errors until
// retries ran out.
type TransientNetworkError struct {
	Op       string
	Attempts uint
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("failed to %s after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// ReceiptTimeoutError is returned when a broadcast transaction was not seen included in time.
// The transaction may still land; its nonce was resynchronized from the chain.
type ReceiptTimeoutError struct {
	TxHash  common.Hash
	Timeout time.Duration
}

func (e *ReceiptTimeoutError) Error() string {
	return fmt.Sprintf("no receipt for %s after %s", e.TxHash.Hex(), e.Timeout)
}

func (e *ReceiptTimeoutError) Unwrap() error {
	return evm.ErrReceiptTimeout
}

// NonceMismatchError is returned when the node rejected the reserved nonce. The local nonce was
// resynchronized from the chain.
type NonceMismatchError struct {
	Account common.Address
	Nonce   uint64
	Err     error
}

func (e *NonceMismatchError) Error() string {
	return fmt.Sprintf("nonce %d rejected for %s: %v", e.Nonce, e.Account.Hex(), e.Err)
}

func (e *NonceMismatchError) Unwrap() error {
	return e.Err
}
