package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	chainsel "github.com/smartcontractkit/chain-selectors"

	"github.com/smartcontractkit/govbench/pkg/logger"
)

const (
	// Default retry configuration for RPC calls
	RPCDefaultRetryAttempts = 3
	RPCDefaultRetryDelay    = 1000 * time.Millisecond
	RPCDefaultRetryTimeout  = 10 * time.Second

	// Default retry configuration for dialing RPC endpoints
	RPCDefaultDialRetryAttempts = 1
	RPCDefaultDialRetryDelay    = 1000 * time.Millisecond
	RPCDefaultDialTimeout       = 10 * time.Second

	// Default timeout for health checks
	RPCDefaultHealthCheckTimeout = 2 * time.Second
)

// RetryConfig bounds the retries MultiClient performs per endpoint.
type RetryConfig struct {
	Attempts     uint          `mapstructure:"attempts" yaml:"attempts"`
	Delay        time.Duration `mapstructure:"delay" yaml:"delay"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	DialAttempts uint          `mapstructure:"dial_attempts" yaml:"dial_attempts"`
	DialDelay    time.Duration `mapstructure:"dial_delay" yaml:"dial_delay"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// DefaultRetryConfig returns the retry configuration used when none is supplied.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:     RPCDefaultRetryAttempts,
		Delay:        RPCDefaultRetryDelay,
		Timeout:      RPCDefaultRetryTimeout,
		DialAttempts: RPCDefaultDialRetryAttempts,
		DialDelay:    RPCDefaultDialRetryDelay,
		DialTimeout:  RPCDefaultDialTimeout,
	}
}

// withDefaults fills zero fields from DefaultRetryConfig.
func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.Attempts == 0 {
		c.Attempts = d.Attempts
	}
	if c.Delay == 0 {
		c.Delay = d.Delay
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.DialAttempts == 0 {
		c.DialAttempts = d.DialAttempts
	}
	if c.DialDelay == 0 {
		c.DialDelay = d.DialDelay
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}

	return c
}

var _ OnchainClient = (*MultiClient)(nil)

// MultiClient is an OnchainClient that fails over between several RPC endpoints. Only transient
// errors are retried or moved to a backup; deterministic errors such as reverts are returned
// from the first endpoint that produced them.
type MultiClient struct {
	*ethclient.Client
	Backups     []*ethclient.Client
	RetryConfig RetryConfig

	lggr      logger.Logger
	chainName string
	mu        sync.RWMutex
}

// WithRetryConfig overrides the default retry configuration. Zero fields keep their defaults.
func WithRetryConfig(cfg RetryConfig) func(*MultiClient) {
	return func(mc *MultiClient) {
		mc.RetryConfig = cfg.withDefaults()
	}
}

// NewMultiClient dials every configured RPC, dropping the ones that fail to dial or fail their
// health check. The first surviving RPC is the primary.
func NewMultiClient(lggr logger.Logger, rpcsCfg RPCConfig, opts ...func(client *MultiClient)) (*MultiClient, error) {
	if len(rpcsCfg.RPCs) == 0 {
		return nil, errors.New("no RPCs provided, need at least one")
	}
	chain, exists := chainsel.ChainBySelector(rpcsCfg.ChainSelector)
	if !exists {
		return nil, fmt.Errorf("chain with selector %d not found", rpcsCfg.ChainSelector)
	}

	mc := &MultiClient{
		lggr:        lggr.Named("multiclient"),
		chainName:   chain.Name,
		RetryConfig: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(mc)
	}

	clients := make([]*ethclient.Client, 0, len(rpcsCfg.RPCs))
	for i, r := range rpcsCfg.RPCs {
		client, err := mc.dialWithRetry(r)
		if err != nil {
			mc.lggr.Warnw("Failed to dial RPC, trying the next one",
				"index", i, "rpc", r.Name, "chain", chain.Name, "err", err)

			continue
		}
		if err := rpcHealthCheck(context.Background(), client); err != nil {
			mc.lggr.Warnw("RPC failed health check, trying the next one",
				"index", i, "rpc", r.Name, "chain", chain.Name, "err", err)
			client.Close()

			continue
		}
		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, errors.New("no valid RPC clients created")
	}

	mc.Client = clients[0]
	mc.Backups = clients[1:]

	return mc, nil
}

// Close closes every underlying connection.
func (mc *MultiClient) Close() {
	for _, c := range mc.clients() {
		c.Close()
	}
}

func (mc *MultiClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := withBackups(ctx, mc, "SendTransaction", func(ct context.Context, c *ethclient.Client) (struct{}, error) {
		return struct{}{}, c.SendTransaction(ct, tx)
	})

	return err
}

func (mc *MultiClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return withBackups(ctx, mc, "CallContract", func(ct context.Context, c *ethclient.Client) ([]byte, error) {
		return c.CallContract(ct, msg, blockNumber)
	})
}

func (mc *MultiClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return withBackups(ctx, mc, "EstimateGas", func(ct context.Context, c *ethclient.Client) (uint64, error) {
		return c.EstimateGas(ct, msg)
	})
}

func (mc *MultiClient) BlockNumber(ctx context.Context) (uint64, error) {
	return withBackups(ctx, mc, "BlockNumber", func(ct context.Context, c *ethclient.Client) (uint64, error) {
		return c.BlockNumber(ct)
	})
}

func (mc *MultiClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return withBackups(ctx, mc, "HeaderByNumber", func(ct context.Context, c *ethclient.Client) (*types.Header, error) {
		return c.HeaderByNumber(ct, number)
	})
}

func (mc *MultiClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return withBackups(ctx, mc, "TransactionReceipt", func(ct context.Context, c *ethclient.Client) (*types.Receipt, error) {
		return c.TransactionReceipt(ct, txHash)
	})
}

func (mc *MultiClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return withBackups(ctx, mc, "SuggestGasPrice", func(ct context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.SuggestGasPrice(ct)
	})
}

func (mc *MultiClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return withBackups(ctx, mc, "SuggestGasTipCap", func(ct context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.SuggestGasTipCap(ct)
	})
}

func (mc *MultiClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return withBackups(ctx, mc, "BalanceAt", func(ct context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.BalanceAt(ct, account, blockNumber)
	})
}

func (mc *MultiClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return withBackups(ctx, mc, "NonceAt", func(ct context.Context, c *ethclient.Client) (uint64, error) {
		return c.NonceAt(ct, account, blockNumber)
	})
}

func (mc *MultiClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return withBackups(ctx, mc, "PendingNonceAt", func(ct context.Context, c *ethclient.Client) (uint64, error) {
		return c.PendingNonceAt(ct, account)
	})
}

func (mc *MultiClient) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	return withBackups(ctx, mc, "StorageAt", func(ct context.Context, c *ethclient.Client) ([]byte, error) {
		return c.StorageAt(ct, account, key, blockNumber)
	})
}

// withBackups runs op against the primary client and then each backup in turn. Each client is
// retried per RetryConfig while op fails with a transient error. A non-transient error is
// returned immediately without consulting the remaining clients.
func withBackups[T any](
	ctx context.Context, mc *MultiClient, opName string, op func(context.Context, *ethclient.Client) (T, error),
) (T, error) {
	var (
		zero    T
		lastErr error
	)
	traceID := uuid.New().String()

	for rpcIndex, client := range mc.clients() {
		retryCount := 0
		result, err := retry.DoWithData(func() (T, error) {
			timeoutCtx, cancel := ensureTimeout(ctx, mc.RetryConfig.Timeout)
			defer cancel()

			return op(timeoutCtx, client)
		},
			retry.Context(ctx),
			retry.Attempts(mc.RetryConfig.Attempts),
			retry.Delay(mc.RetryConfig.Delay),
			retry.LastErrorOnly(true),
			retry.RetryIf(IsTransient),
			retry.OnRetry(func(n uint, err error) {
				retryCount++
				mc.lggr.Warnw("Retryable RPC failure",
					"traceID", traceID, "chain", mc.chainName, "op", opName, "client", rpcIndex,
					"attempt", n+1, "err", maybeDataErr(err))
			}),
		)
		if err == nil {
			if retryCount > 0 {
				mc.lggr.Infow("RPC call succeeded after retries",
					"traceID", traceID, "chain", mc.chainName, "op", opName, "client", rpcIndex, "retries", retryCount)
			}
			mc.reorderRPCs(rpcIndex)

			return result, nil
		}

		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			return zero, err
		}
		mc.lggr.Infow("RPC client exhausted, trying next client",
			"traceID", traceID, "chain", mc.chainName, "op", opName, "client", rpcIndex)
	}

	return zero, errors.Join(lastErr, fmt.Errorf("all backup clients failed for chain %q", mc.chainName))
}

// rpcHealthCheck performs a basic health check on the RPC client by calling eth_blockNumber.
func rpcHealthCheck(ctx context.Context, client *ethclient.Client) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, RPCDefaultHealthCheckTimeout)
	defer cancel()

	if _, err := client.BlockNumber(timeoutCtx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

func (mc *MultiClient) dialWithRetry(r RPC) (*ethclient.Client, error) {
	endpoint, err := r.ToEndpoint()
	if err != nil {
		return nil, err
	}

	traceID := uuid.New().String()
	client, err := retry.DoWithData(func() (*ethclient.Client, error) {
		ctx, cancel := context.WithTimeout(context.Background(), mc.RetryConfig.DialTimeout)
		defer cancel()

		mc.lggr.Debugw("Dialing endpoint", "traceID", traceID, "chain", mc.chainName, "rpc", r.Name)

		return ethclient.DialContext(ctx, endpoint)
	},
		retry.Attempts(mc.RetryConfig.DialAttempts),
		retry.Delay(mc.RetryConfig.DialDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC %q for chain %s: %w", r.Name, mc.chainName, err)
	}

	return client, nil
}

// ensureTimeout derives a cancelable context from parent, adding timeout only when parent has
// no deadline of its own.
func ensureTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := parent.Deadline(); hasDeadline {
		return context.WithCancel(parent)
	}

	return context.WithTimeout(parent, timeout)
}

// reorderRPCs promotes the client at rpcIndex to primary. Clients that failed before it move to
// the end of the backup list, followed by the old primary.
func (mc *MultiClient) reorderRPCs(rpcIndex int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if rpcIndex < 1 || len(mc.Backups) == 0 || rpcIndex > len(mc.Backups) {
		return
	}

	newPrimaryIndex := rpcIndex - 1
	newPrimary := mc.Backups[newPrimaryIndex]

	reordered := make([]*ethclient.Client, 0, len(mc.Backups))
	reordered = append(reordered, mc.Backups[newPrimaryIndex+1:]...)
	reordered = append(reordered, mc.Backups[:newPrimaryIndex]...)
	reordered = append(reordered, mc.Client)

	mc.Backups = reordered
	mc.Client = newPrimary
}

func (mc *MultiClient) clients() []*ethclient.Client {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return append([]*ethclient.Client{mc.Client}, mc.Backups...)
}
