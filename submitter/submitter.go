// Package submitter signs, broadcasts and confirms transactions on behalf of pool identities.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartcontractkit/govbench/chain/evm"
	"github.com/smartcontractkit/govbench/governor"
	"github.com/smartcontractkit/govbench/identity"
	"github.com/smartcontractkit/govbench/pkg/logger"
)

const (
	DefaultGasMultiplier  = 1.2
	DefaultReceiptTimeout = 10 * time.Minute
	DefaultMaxAttempts    = 5
	DefaultRetryDelay     = 500 * time.Millisecond

	// resyncTimeout bounds the nonce resync that follows a cancelled wait.
	resyncTimeout = 10 * time.Second
)

// Chain is the subset of *evm.Chain the submitter drives.
type Chain interface {
	Simulate(ctx context.Context, msg ethereum.CallMsg) (evm.Simulation, error)
	SuggestFees(ctx context.Context) (evm.Fees, error)
	Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, bool, error)
	AwaitReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error)
	RevertReason(ctx context.Context, from common.Address, tx *types.Transaction, receipt *types.Receipt) string
}

// Config tunes gas and retry behaviour.
type Config struct {
	// GasMultiplier scales the node's gas estimate into the gas limit.
	GasMultiplier float64 `mapstructure:"gas_multiplier" yaml:"gas_multiplier"`
	// GasLimit, when set, replaces the scaled estimate.
	GasLimit       uint64        `mapstructure:"gas_limit" yaml:"gas_limit"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout" yaml:"receipt_timeout"`
	MaxAttempts    uint          `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// DefaultConfig returns the defaults used for unset fields.
func DefaultConfig() Config {
	return Config{
		GasMultiplier:  DefaultGasMultiplier,
		ReceiptTimeout: DefaultReceiptTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		RetryDelay:     DefaultRetryDelay,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GasMultiplier <= 0 {
		c.GasMultiplier = d.GasMultiplier
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = d.ReceiptTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}

	return c
}

// Record is the accounting entry of one successful transaction.
type Record struct {
	Stage       string         `json:"stage" toml:"stage"`
	TxHash      common.Hash    `json:"txHash" toml:"tx_hash"`
	GasUsed     uint64         `json:"gasUsed" toml:"gas_used"`
	PayloadSize int            `json:"payloadSize" toml:"payload_size"`
	Status      uint64         `json:"status" toml:"status"`
	BlockNumber uint64         `json:"blockNumber" toml:"block_number"`
	Sender      common.Address `json:"sender" toml:"sender"`
}

// Result is what Send returns for an included, successful transaction.
type Result struct {
	Record  Record
	Receipt *types.Receipt
	// SimulatedReturn is the pre-flight call output. It is only used to recover values such
	// as a new proposal ID and never for accounting.
	SimulatedReturn []byte
}

// Submitter sends calls from pool identities, one nonce per transaction.
type Submitter struct {
	chainID *big.Int
	chain   Chain
	pool    *identity.Pool
	cfg     Config
	lggr    logger.Logger
}

// New builds a submitter for the chain with chainID.
func New(lggr logger.Logger, chainID *big.Int, chain Chain, pool *identity.Pool, cfg Config) *Submitter {
	return &Submitter{
		chainID: chainID,
		chain:   chain,
		pool:    pool,
		cfg:     cfg.withDefaults(),
		lggr:    lggr.Named("submitter"),
	}
}

// Config returns the effective configuration.
func (s *Submitter) Config() Config {
	return s.cfg
}

// Send simulates call from the identity, broadcasts it and waits for inclusion. A Result is
// returned only for a receipt with a successful status.
func (s *Submitter) Send(ctx context.Context, from *identity.Identity, stage string, call governor.Call) (Result, error) {
	lggr := s.lggr.With("stage", stage, "identity", from.Label, "method", call.Method)

	res, err := s.pool.Reserve(ctx, from.Address)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reserve nonce: %w", err)
	}

	tx, sim, err := s.prepare(ctx, from, res.Nonce(), call)
	if err != nil {
		if rerr := res.Release(); rerr != nil {
			lggr.Warnw("Failed to release nonce", "err", rerr)
		}

		return Result{}, err
	}

	hash, err := s.broadcast(ctx, lggr, from.Address, tx)
	if err != nil {
		var nonceErr *NonceMismatchError
		if errors.As(err, &nonceErr) {
			s.resync(ctx, lggr, res)

			return Result{}, err
		}
		var transient *TransientNetworkError
		if errors.As(err, &transient) {
			// Some attempt may have reached the node.
			s.resync(ctx, lggr, res)

			return Result{}, err
		}
		if rerr := res.Release(); rerr != nil {
			lggr.Warnw("Failed to release nonce", "err", rerr)
		}

		return Result{}, err
	}
	lggr.Debugw("Transaction broadcast", "tx", hash.Hex(), "nonce", tx.Nonce(), "gasLimit", tx.Gas())

	receipt, err := s.awaitReceipt(ctx, hash)
	if err != nil {
		s.resync(ctx, lggr, res)

		return Result{}, err
	}

	if err := res.Commit(); err != nil {
		lggr.Warnw("Failed to commit nonce", "err", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := s.chain.RevertReason(ctx, from.Address, tx, receipt)
		lggr.Warnw("Transaction reverted", "tx", hash.Hex(), "gas", receipt.GasUsed, "reason", reason)

		return Result{}, &OnChainRevertError{TxHash: hash, Reason: reason, GasUsed: receipt.GasUsed}
	}

	record := Record{
		Stage:       stage,
		TxHash:      hash,
		GasUsed:     receipt.GasUsed,
		PayloadSize: len(call.Data),
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Sender:      from.Address,
	}
	lggr.Infow("Transaction confirmed", "tx", hash.Hex(), "gas", record.GasUsed, "block", record.BlockNumber)

	return Result{Record: record, Receipt: receipt, SimulatedReturn: sim.Return}, nil
}

// prepare prices, simulates, checks the balance for and signs the transaction.
func (s *Submitter) prepare(ctx context.Context, from *identity.Identity, nonce uint64, call governor.Call) (*types.Transaction, evm.Simulation, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	fees, err := withRetry(ctx, s, "suggest fees", s.chain.SuggestFees)
	if err != nil {
		return nil, evm.Simulation{}, err
	}

	to := call.To
	msg := ethereum.CallMsg{From: from.Address, To: &to, Data: call.Data, Value: value}
	sim, err := withRetry(ctx, s, "simulate "+call.Method, func(ctx context.Context) (evm.Simulation, error) {
		return s.chain.Simulate(ctx, msg)
	})
	if err != nil {
		return nil, evm.Simulation{}, err
	}

	gas := s.gasLimit(sim.Gas)
	required := new(big.Int).Mul(new(big.Int).SetUint64(gas), fees.MaxPrice())
	required.Add(required, value)

	balance, err := withRetry(ctx, s, "fetch balance", func(ctx context.Context) (*big.Int, error) {
		return s.pool.Balance(ctx, from.Address)
	})
	if err != nil {
		return nil, evm.Simulation{}, err
	}
	if balance.Cmp(required) < 0 {
		return nil, evm.Simulation{}, &InsufficientBalanceError{Account: from.Address, Balance: balance, Required: required}
	}

	var txdata types.TxData
	if fees.Dynamic() {
		txdata = &types.DynamicFeeTx{
			ChainID:   s.chainID,
			Nonce:     nonce,
			GasTipCap: fees.TipCap,
			GasFeeCap: fees.FeeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      call.Data,
		}
	} else {
		txdata = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     call.Data,
		}
	}

	tx, err := from.SignTx(s.chainID, txdata)
	if err != nil {
		return nil, evm.Simulation{}, err
	}

	return tx, sim, nil
}

func (s *Submitter) gasLimit(estimate uint64) uint64 {
	if s.cfg.GasLimit > 0 {
		return s.cfg.GasLimit
	}

	return uint64(math.Ceil(float64(estimate) * s.cfg.GasMultiplier))
}

// broadcast submits tx, retrying transient failures. Before every resend the receipt is
// looked up so an earlier attempt that did land is not sent again.
func (s *Submitter) broadcast(ctx context.Context, lggr logger.Logger, from common.Address, tx *types.Transaction) (common.Hash, error) {
	var attempts uint
	hash, err := retry.DoWithData(func() (common.Hash, error) {
		attempts++
		if attempts > 1 {
			if _, found, err := s.chain.Receipt(ctx, tx.Hash()); err == nil && found {
				lggr.Infow("Earlier broadcast was included", "tx", tx.Hash().Hex())

				return tx.Hash(), nil
			}
		}

		hash, err := s.chain.Submit(ctx, tx)
		if err != nil && evm.IsNonceError(err) {
			return common.Hash{}, retry.Unrecoverable(err)
		}

		return hash, err
	},
		retry.Context(ctx),
		retry.Attempts(s.cfg.MaxAttempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(evm.IsTransient),
		retry.OnRetry(func(n uint, err error) {
			lggr.Debugw("Retrying broadcast", "tx", tx.Hash().Hex(), "attempt", n+1, "err", err)
		}),
	)
	if err == nil {
		return hash, nil
	}

	switch {
	case evm.IsNonceError(err):
		return common.Hash{}, &NonceMismatchError{Account: from, Nonce: tx.Nonce(), Err: err}
	case evm.IsTransient(err):
		return common.Hash{}, &TransientNetworkError{Op: "broadcast transaction", Attempts: attempts, Err: err}
	default:
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}
}

// awaitReceipt waits for inclusion and looks once more before giving up.
func (s *Submitter) awaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := s.chain.AwaitReceipt(ctx, hash, s.cfg.ReceiptTimeout)
	if err == nil {
		return receipt, nil
	}
	if !errors.Is(err, evm.ErrReceiptTimeout) {
		return nil, fmt.Errorf("failed to wait for receipt of %s: %w", hash.Hex(), err)
	}

	receipt, found, qerr := s.chain.Receipt(ctx, hash)
	if qerr == nil && found {
		return receipt, nil
	}

	return nil, &ReceiptTimeoutError{TxHash: hash, Timeout: s.cfg.ReceiptTimeout}
}

func (s *Submitter) resync(ctx context.Context, lggr logger.Logger, res *identity.Reservation) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resyncTimeout)
	defer cancel()

	if err := res.Resync(rctx); err != nil {
		lggr.Warnw("Failed to resync nonce", "err", err)
	}
}

// withRetry runs op until it succeeds, fails with a non-transient error or retries run out.
func withRetry[T any](ctx context.Context, s *Submitter, opName string, op func(context.Context) (T, error)) (T, error) {
	var attempts uint
	v, err := retry.DoWithData(func() (T, error) {
		attempts++

		return op(ctx)
	},
		retry.Context(ctx),
		retry.Attempts(s.cfg.MaxAttempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(evm.IsTransient),
	)
	if err != nil && evm.IsTransient(err) && ctx.Err() == nil {
		return v, &TransientNetworkError{Op: opName, Attempts: attempts, Err: err}
	}

	return v, err
}
