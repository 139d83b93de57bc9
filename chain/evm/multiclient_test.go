package evm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/govbench/pkg/logger"
)

const sepoliaSelector uint64 = 16015286601757825753 // "ethereum-testnet-sepolia"

// revertNope is the ABI encoding of Error("nope").
const revertNope = "0x08c379a0" +
	"0000000000000000000000000000000000000000000000000000000000000020" +
	"0000000000000000000000000000000000000000000000000000000000000004" +
	"6e6f706500000000000000000000000000000000000000000000000000000000"

// newRPCServer starts a JSON-RPC server. respond receives the 1-based request number and the
// method, and returns the JSON fragment placed next to "jsonrpc" and "id", or a non-zero HTTP
// status to fail at the transport layer.
func newRPCServer(t *testing.T, respond func(n int64, method string) (string, int)) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		body, status := respond(hits.Add(1), req.Method)
		if status != 0 {
			w.WriteHeader(status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,` + body + `}`))
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func healthy(result string) func(int64, string) (string, int) {
	return func(int64, string) (string, int) { return `"result":"` + result + `"`, 0 }
}

func fastRetries() func(*MultiClient) {
	return WithRetryConfig(RetryConfig{Attempts: 2, Delay: time.Millisecond, Timeout: time.Second})
}

func TestNewMultiClient(t *testing.T) {
	t.Parallel()

	srv, _ := newRPCServer(t, healthy("0x1"))
	lggr := logger.Test(t)

	mc, err := NewMultiClient(lggr, RPCConfig{ChainSelector: sepoliaSelector, RPCs: []RPC{
		{Name: "test-rpc", HTTPURL: srv.URL, PreferredURLScheme: URLSchemeHTTP},
	}})
	require.NoError(t, err)

	assert.Equal(t, "ethereum-testnet-sepolia", mc.chainName)
	assert.Equal(t, uint(RPCDefaultRetryAttempts), mc.RetryConfig.Attempts)
	assert.Equal(t, RPCDefaultRetryDelay, mc.RetryConfig.Delay)
	assert.Empty(t, mc.Backups)

	_, err = NewMultiClient(lggr, RPCConfig{ChainSelector: sepoliaSelector})
	require.ErrorContains(t, err, "no RPCs provided")

	_, err = NewMultiClient(lggr, RPCConfig{ChainSelector: 1, RPCs: []RPC{{Name: "x", HTTPURL: srv.URL}}})
	require.ErrorContains(t, err, "chain with selector 1 not found")

	mc, err = NewMultiClient(lggr, RPCConfig{ChainSelector: sepoliaSelector, RPCs: []RPC{
		{Name: "primary", HTTPURL: srv.URL},
		{Name: "backup", HTTPURL: srv.URL},
	}})
	require.NoError(t, err)
	require.Len(t, mc.Backups, 1)
}

func TestNewMultiClient_healthCheckSkipsBadRPC(t *testing.T) {
	t.Parallel()

	bad, _ := newRPCServer(t, func(int64, string) (string, int) {
		return `"error":{"code":-32000,"message":"internal error"}`, 0
	})
	good, _ := newRPCServer(t, healthy("0x1"))

	mc, err := NewMultiClient(logger.Test(t), RPCConfig{ChainSelector: sepoliaSelector, RPCs: []RPC{
		{Name: "bad-rpc", HTTPURL: bad.URL},
		{Name: "good-rpc", HTTPURL: good.URL},
	}})
	require.NoError(t, err)
	require.Empty(t, mc.Backups)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, err := mc.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestMultiClient_failsOverOnTransientError(t *testing.T) {
	t.Parallel()

	// The primary passes its health check and then answers 503.
	flaky, flakyHits := newRPCServer(t, func(n int64, _ string) (string, int) {
		if n == 1 {
			return `"result":"0x1"`, 0
		}

		return "", http.StatusServiceUnavailable
	})
	backup, _ := newRPCServer(t, healthy("0x2"))

	mc, err := NewMultiClient(logger.Test(t), RPCConfig{ChainSelector: sepoliaSelector, RPCs: []RPC{
		{Name: "flaky", HTTPURL: flaky.URL},
		{Name: "backup", HTTPURL: backup.URL},
	}}, fastRetries())
	require.NoError(t, err)

	n, err := mc.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	// health check plus two attempts
	assert.Equal(t, int64(3), flakyHits.Load())

	// The backup was promoted to primary.
	_, err = mc.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), flakyHits.Load())
}

func TestMultiClient_doesNotFailOverOnRevert(t *testing.T) {
	t.Parallel()

	primary, _ := newRPCServer(t, func(_ int64, method string) (string, int) {
		if method == "eth_call" {
			return `"error":{"code":3,"message":"execution reverted: nope","data":"` + revertNope + `"}`, 0
		}

		return `"result":"0x1"`, 0
	})
	backup, backupHits := newRPCServer(t, healthy("0x1"))

	mc, err := NewMultiClient(logger.Test(t), RPCConfig{ChainSelector: sepoliaSelector, RPCs: []RPC{
		{Name: "primary", HTTPURL: primary.URL},
		{Name: "backup", HTTPURL: backup.URL},
	}}, fastRetries())
	require.NoError(t, err)

	to := common.HexToAddress("0xabc")
	_, err = mc.CallContract(context.Background(), ethereum.CallMsg{To: &to}, nil)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, "nope", ErrorReason(err))

	// Only the health check reached the backup.
	assert.Equal(t, int64(1), backupHits.Load())
}

// Hardhat style nodes report reverts as internal errors carrying the revert data.
func TestChain_SimulateInternalErrorRevert(t *testing.T) {
	t.Parallel()

	primary, primaryHits := newRPCServer(t, func(_ int64, method string) (string, int) {
		if method == "eth_call" {
			return `"error":{"code":-32603,"message":"Error: VM Exception while processing transaction: ` +
				`reverted with reason string 'nope'","data":"` + revertNope + `"}`, 0
		}

		return `"result":"0x1"`, 0
	})
	backup, backupHits := newRPCServer(t, healthy("0x1"))

	mc, err := NewMultiClient(logger.Test(t), RPCConfig{ChainSelector: sepoliaSelector, RPCs: []RPC{
		{Name: "primary", HTTPURL: primary.URL},
		{Name: "backup", HTTPURL: backup.URL},
	}}, fastRetries())
	require.NoError(t, err)
	chain, err := NewChain(logger.Test(t), sepoliaSelector, mc)
	require.NoError(t, err)

	to := common.HexToAddress("0xabc")
	_, err = chain.Simulate(context.Background(), ethereum.CallMsg{To: &to})

	var simErr *SimulationError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, "nope", simErr.Reason)
	// health check plus a single eth_call, no retry and no failover
	assert.Equal(t, int64(2), primaryHits.Load())
	assert.Equal(t, int64(1), backupHits.Load())
}

func TestMultiClient_reorderRPCs(t *testing.T) {
	t.Parallel()

	srv, _ := newRPCServer(t, healthy("0x1"))
	mc, err := NewMultiClient(logger.Test(t), RPCConfig{ChainSelector: sepoliaSelector, RPCs: []RPC{
		{Name: "a", HTTPURL: srv.URL},
		{Name: "b", HTTPURL: srv.URL},
		{Name: "c", HTTPURL: srv.URL},
	}})
	require.NoError(t, err)

	a, b, c := mc.Client, mc.Backups[0], mc.Backups[1]

	mc.reorderRPCs(2)
	assert.Same(t, c, mc.Client)
	require.Len(t, mc.Backups, 2)
	assert.Same(t, b, mc.Backups[0])
	assert.Same(t, a, mc.Backups[1])

	mc.reorderRPCs(0)
	assert.Same(t, c, mc.Client)
}
