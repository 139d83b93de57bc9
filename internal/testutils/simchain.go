// Package testutils provides an in-memory EVM chain for tests.
package testutils

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	chainsel "github.com/smartcontractkit/chain-selectors"

	"github.com/smartcontractkit/govbench/chain/evm"
	"github.com/smartcontractkit/govbench/pkg/logger"
)

// PrefundWei is the balance each generated account starts with: 1,000,000 ether.
var PrefundWei = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(params.Ether))

// SimClient wraps a simulated backend client and serializes block production.
type SimClient struct {
	mu sync.Mutex

	simulated.Client
	sim *simulated.Backend
}

// Commit seals the pending block.
func (c *SimClient) Commit() common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sim.Commit()
}

// SimChain is a simulated chain with a set of funded accounts.
type SimChain struct {
	Client *SimClient
	Chain  *evm.Chain
	Keys   []*ecdsa.PrivateKey
}

// Address returns the address of the i-th funded account.
func (s *SimChain) Address(i int) common.Address {
	return crypto.PubkeyToAddress(s.Keys[i].PublicKey)
}

type simOptions struct {
	alloc      types.GenesisAlloc
	autoCommit time.Duration
}

// SimOption customizes NewSimChain.
type SimOption func(*simOptions)

// WithAccount adds a genesis account, for example a contract holding fixed code.
func WithAccount(addr common.Address, account types.Account) SimOption {
	return func(o *simOptions) {
		o.alloc[addr] = account
	}
}

// WithAutoCommit seals a block every interval until the test ends. Without it blocks are only
// produced by calling Commit.
func WithAutoCommit(interval time.Duration) SimOption {
	return func(o *simOptions) {
		o.autoCommit = interval
	}
}

// NewSimChain starts a simulated chain with numAccounts funded accounts.
func NewSimChain(t *testing.T, numAccounts int, opts ...SimOption) *SimChain {
	t.Helper()

	o := &simOptions{alloc: types.GenesisAlloc{}}
	for _, opt := range opts {
		opt(o)
	}

	keys := make([]*ecdsa.PrivateKey, 0, numAccounts)
	for range numAccounts {
		key, err := crypto.GenerateKey()
		require.NoError(t, err, "failed to generate key")

		keys = append(keys, key)
		o.alloc[crypto.PubkeyToAddress(key.PublicKey)] = types.Account{Balance: PrefundWei}
	}

	backend := simulated.NewBackend(o.alloc, simulated.WithBlockGasLimit(50_000_000))
	client := &SimClient{Client: backend.Client(), sim: backend}
	client.Commit()

	chain, err := evm.NewChain(logger.Test(t), chainsel.GETH_TESTNET.Selector, client,
		evm.WithReceiptTick(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if o.autoCommit > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ticker := time.NewTicker(o.autoCommit)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					client.Commit()
				}
			}
		}()
	}

	t.Cleanup(func() {
		cancel()
		wg.Wait()
		require.NoError(t, backend.Close())
	})

	return &SimChain{Client: client, Chain: chain, Keys: keys}
}
