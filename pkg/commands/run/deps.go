// Package run provides the CLI command that executes governance scenarios and reports their cost.
package run

import (
	"context"
	"fmt"
	"os"

	"github.com/smartcontractkit/govbench/chain/evm"
	"github.com/smartcontractkit/govbench/config"
	"github.com/smartcontractkit/govbench/identity"
	"github.com/smartcontractkit/govbench/pkg/logger"
	"github.com/smartcontractkit/govbench/report"
)

// AdminLabel is the label of the identity built from the admin key.
const AdminLabel = "admin"

// ConfigLoaderFunc loads the run configuration from a file path.
type ConfigLoaderFunc func(path string) (*config.Config, error)

// ChainDialerFunc connects to the configured network. The returned func releases the connection.
type ChainDialerFunc func(ctx context.Context, lggr logger.Logger, cfg *config.Config) (*evm.Chain, func(), error)

// IdentityLoaderFunc returns the member identities and the optional admin identity.
type IdentityLoaderFunc func(cfg config.IdentitiesConfig) (members []*identity.Identity, admin *identity.Identity, err error)

// LoggerFactoryFunc builds the logger used once the configured level is known.
type LoggerFactoryFunc func(level string) (logger.Logger, error)

// EmitterFactoryFunc builds the report emitters.
type EmitterFactoryFunc func(cfg config.ReportConfig, lggr logger.Logger) ([]report.Emitter, error)

// defaultChainDialer dials every configured RPC through a MultiClient.
func defaultChainDialer(_ context.Context, lggr logger.Logger, cfg *config.Config) (*evm.Chain, func(), error) {
	client, err := evm.NewMultiClient(lggr, cfg.Network.RPCConfig(), evm.WithRetryConfig(cfg.Network.Retry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial network: %w", err)
	}

	chain, err := evm.NewChain(lggr, cfg.Network.ChainSelector, client, evm.WithReceiptTick(cfg.Submitter.ReceiptTick))
	if err != nil {
		client.Close()

		return nil, nil, err
	}

	return chain, client.Close, nil
}

// defaultIdentityLoader reads the members file and decodes the admin key.
func defaultIdentityLoader(cfg config.IdentitiesConfig) ([]*identity.Identity, *identity.Identity, error) {
	members, err := identity.LoadFile(cfg.File)
	if err != nil {
		return nil, nil, err
	}

	if cfg.AdminKey == "" {
		return members, nil, nil
	}
	admin, err := identity.FromHexKey(AdminLabel, cfg.AdminKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode admin key: %w", err)
	}

	return members, admin, nil
}

// defaultLoggerFactory builds a zap logger at level. LOG_FORMAT=console switches to the human
// readable encoder.
func defaultLoggerFactory(level string) (logger.Logger, error) {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	format := os.Getenv("LOG_FORMAT")

	return logger.Config{Level: lvl, Development: format == "console" || format == "human"}.New()
}

// Deps holds the injectable dependencies of the run command.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the run configuration.
	// Default: config.Load
	ConfigLoader ConfigLoaderFunc

	// ChainDialer connects to the network.
	// Default: a MultiClient over the configured RPCs
	ChainDialer ChainDialerFunc

	// IdentityLoader loads the signing identities.
	// Default: identity.LoadFile and the admin key
	IdentityLoader IdentityLoaderFunc

	// EmitterFactory builds the report emitters.
	// Default: report.NewEmitters
	EmitterFactory EmitterFactoryFunc

	// LoggerFactory builds the logger at the configured level.
	// Default: a production zap logger
	LoggerFactory LoggerFactoryFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.ChainDialer == nil {
		d.ChainDialer = defaultChainDialer
	}
	if d.IdentityLoader == nil {
		d.IdentityLoader = defaultIdentityLoader
	}
	if d.EmitterFactory == nil {
		d.EmitterFactory = report.NewEmitters
	}
	if d.LoggerFactory == nil {
		d.LoggerFactory = defaultLoggerFactory
	}
}

// directory resolves scenario identities. Labels and addresses resolve against the whole pool,
// ranges only cover the members so the admin is never drafted as a voter.
type directory struct {
	pool    *identity.Pool
	members []*identity.Identity
}

func (d *directory) Get(ref string) (*identity.Identity, error) {
	return d.pool.Get(ref)
}

func (d *directory) Range(from, count int) ([]*identity.Identity, error) {
	if from < 0 || from > len(d.members) {
		return nil, fmt.Errorf("range start %d out of bounds [0, %d]", from, len(d.members))
	}
	end := len(d.members)
	if count > 0 {
		end = from + count
	}
	if end > len(d.members) {
		return nil, fmt.Errorf("range %d+%d exceeds %d members", from, count, len(d.members))
	}

	return append([]*identity.Identity(nil), d.members[from:end]...), nil
}
