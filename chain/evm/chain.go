package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	chainsel "github.com/smartcontractkit/chain-selectors"

	"github.com/smartcontractkit/govbench/pkg/logger"
)

// DefaultReceiptTick is the interval between receipt lookups, the same value bind.WaitMined
// hardcodes in go-ethereum.
const DefaultReceiptTick = 1 * time.Second

// OnchainClient is the subset of the go-ethereum client API the facade needs. It is satisfied
// by *ethclient.Client, the simulated backend client and *MultiClient.
type OnchainClient interface {
	ethereum.BlockNumberReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.GasPricer1559
	ethereum.TransactionSender

	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// Chain is the facade over the remote ledger used by the rest of govbench.
type Chain struct {
	Selector uint64
	ChainID  *big.Int
	Client   OnchainClient

	name        string
	receiptTick time.Duration
	lggr        logger.Logger
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithReceiptTick overrides the receipt polling interval.
func WithReceiptTick(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.receiptTick = d
		}
	}
}

// NewChain resolves the chain ID and name of selector and wraps client.
func NewChain(lggr logger.Logger, selector uint64, client OnchainClient, opts ...ChainOption) (*Chain, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}

	details, ok := chainsel.ChainBySelector(selector)
	if !ok {
		return nil, fmt.Errorf("chain with selector %d not found", selector)
	}

	c := &Chain{
		Selector:    selector,
		ChainID:     new(big.Int).SetUint64(details.EvmChainID),
		Client:      client,
		name:        details.Name,
		receiptTick: DefaultReceiptTick,
		lggr:        lggr,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Name returns the chain name registered for the selector.
func (c *Chain) Name() string {
	return c.name
}

// String returns "<name> (<selector>)".
func (c *Chain) String() string {
	return fmt.Sprintf("%s (%d)", c.name, c.Selector)
}

// Read performs a read-only contract call at block, or at the latest block when block is nil.
func (c *Chain) Read(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	out, err := c.Client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", to.Hex(), err)
	}

	return out, nil
}

// Simulation is the outcome of a successful dry run.
type Simulation struct {
	// Gas is the node's gas estimate.
	Gas uint64
	// Return is the data returned by the call.
	Return []byte
}

// Simulate dry runs msg against the latest state. Rejections are returned as *SimulationError;
// transient network failures are returned unchanged so the caller may retry them.
func (c *Chain) Simulate(ctx context.Context, msg ethereum.CallMsg) (Simulation, error) {
	ret, err := c.Client.CallContract(ctx, msg, nil)
	if err != nil {
		if IsTransient(err) {
			return Simulation{}, err
		}

		return Simulation{}, newSimulationError(err)
	}

	gas, err := c.Client.EstimateGas(ctx, msg)
	if err != nil {
		if IsTransient(err) {
			return Simulation{}, err
		}

		return Simulation{}, newSimulationError(err)
	}

	return Simulation{Gas: gas, Return: ret}, nil
}

// Submit broadcasts a signed transaction. A transaction the node already holds counts as
// submitted.
func (c *Chain) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.Client.SendTransaction(ctx, tx); err != nil {
		if isAlreadyKnown(err) {
			c.lggr.Debugw("Transaction already known to node", "tx", tx.Hash().Hex())

			return tx.Hash(), nil
		}

		return common.Hash{}, err
	}

	return tx.Hash(), nil
}

// Receipt looks up a receipt once. The boolean is false when the transaction is not yet
// included.
func (c *Chain) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, bool, error) {
	receipt, err := c.Client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return receipt, true, nil
}

// AwaitReceipt blocks until txHash is included or timeout elapses. Exceeding the timeout
// returns an error wrapping ErrReceiptTimeout.
func (c *Chain) AwaitReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := waitMinedWithInterval(waitCtx, c.receiptTick, c.Client, txHash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: tx %s after %s", ErrReceiptTimeout, txHash.Hex(), timeout)
		}

		return nil, err
	}

	return receipt, nil
}

// CurrentBlock returns the latest block number.
func (c *Chain) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := c.Client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}

	return n, nil
}

// LatestHeader returns the header of the latest block.
func (c *Chain) LatestHeader(ctx context.Context) (*types.Header, error) {
	h, err := c.Client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	return h, nil
}

// HeaderAt returns the header of block number n.
func (c *Chain) HeaderAt(ctx context.Context, n *big.Int) (*types.Header, error) {
	h, err := c.Client.HeaderByNumber(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get header %v: %w", n, err)
	}

	return h, nil
}

// StorageAt reads a storage slot of account as it was at block.
func (c *Chain) StorageAt(ctx context.Context, account common.Address, slot common.Hash, block *big.Int) (common.Hash, error) {
	raw, err := c.Client.StorageAt(ctx, account, slot, block)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read slot %s of %s: %w", slot.Hex(), account.Hex(), err)
	}

	return common.BytesToHash(raw), nil
}

// Balance returns the latest balance of account.
func (c *Chain) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.Client.BalanceAt(ctx, account, nil)
}

// PendingNonce returns the next nonce of account including pending transactions.
func (c *Chain) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return c.Client.PendingNonceAt(ctx, account)
}

// Fees holds either a legacy gas price or EIP-1559 fee caps.
type Fees struct {
	GasPrice *big.Int
	TipCap   *big.Int
	FeeCap   *big.Int
}

// Dynamic reports whether the fees describe an EIP-1559 transaction.
func (f Fees) Dynamic() bool {
	return f.FeeCap != nil
}

// MaxPrice is the highest per-gas price the transaction may pay.
func (f Fees) MaxPrice() *big.Int {
	if f.Dynamic() {
		return f.FeeCap
	}

	return f.GasPrice
}

// SuggestFees proposes fees for the next block. Chains with a base fee get a dynamic fee of
// twice the base fee plus the suggested tip.
func (c *Chain) SuggestFees(ctx context.Context) (Fees, error) {
	head, err := c.LatestHeader(ctx)
	if err != nil {
		return Fees{}, err
	}

	if head.BaseFee == nil {
		gasPrice, err := c.Client.SuggestGasPrice(ctx)
		if err != nil {
			return Fees{}, fmt.Errorf("failed to suggest gas price: %w", err)
		}

		return Fees{GasPrice: gasPrice}, nil
	}

	tip, err := c.Client.SuggestGasTipCap(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("failed to suggest gas tip cap: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return Fees{TipCap: tip, FeeCap: feeCap}, nil
}

// RevertReason replays a failed transaction at its inclusion block to recover the revert
// reason.
func (c *Chain) RevertReason(ctx context.Context, from common.Address, tx *types.Transaction, receipt *types.Receipt) string {
	call := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Data:  tx.Data(),
		Value: tx.Value(),
		Gas:   tx.Gas(),
	}

	if _, err := c.Client.CallContract(ctx, call, receipt.BlockNumber); err != nil {
		return ErrorReason(err)
	}

	return "reverted with no reason"
}

// waitMinedWithInterval polls for txHash every tick until a receipt appears or ctx is done.
// Lookups that fail with anything other than not-found or a transient error stop the wait.
func waitMinedWithInterval(ctx context.Context, tick time.Duration, b OnchainClient, txHash common.Hash) (*types.Receipt, error) {
	queryTicker := time.NewTicker(tick)
	defer queryTicker.Stop()

	for {
		receipt, err := b.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && !IsTransient(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-queryTicker.C:
		}
	}
}
