// Package config loads the govbench run configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"slices"
	"time"

	chainsel "github.com/smartcontractkit/chain-selectors"
	"github.com/spf13/viper"

	"github.com/smartcontractkit/govbench/chain/evm"
	"github.com/smartcontractkit/govbench/lifecycle"
	"github.com/smartcontractkit/govbench/submitter"
	"github.com/smartcontractkit/govbench/voting"
)

// NetworkConfig selects the chain and the RPCs used to reach it.
type NetworkConfig struct {
	ChainSelector uint64 `mapstructure:"chain_selector" yaml:"chain_selector"`
	// RPCURL is a single endpoint, usually provided by the environment. It is tried before RPCs.
	RPCURL string    `mapstructure:"rpc_url" yaml:"rpc_url"`
	RPCs   []evm.RPC `mapstructure:"rpcs" yaml:"rpcs"`
	// Manifest is an optional network manifest file whose RPCs for ChainSelector are appended.
	Manifest string          `mapstructure:"manifest" yaml:"manifest"`
	Retry    evm.RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// RPCConfig returns the endpoints to dial in order.
func (n NetworkConfig) RPCConfig() evm.RPCConfig {
	var rpcs []evm.RPC
	if n.RPCURL != "" {
		rpcs = append(rpcs, evm.RPC{Name: "env", HTTPURL: n.RPCURL, PreferredURLScheme: evm.URLSchemeHTTP})
	}

	return evm.RPCConfig{ChainSelector: n.ChainSelector, RPCs: append(rpcs, n.RPCs...)}
}

// IdentitiesConfig locates the signing identities.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type IdentitiesConfig struct {
	File     string `mapstructure:"file" yaml:"file"`
	AdminKey string `mapstructure:"admin_key" yaml:"admin_key"` // Secret: hex private key of the "admin" identity
}

// SubmitterConfig tunes transaction submission.
type SubmitterConfig struct {
	submitter.Config `mapstructure:",squash" yaml:",inline"`

	// ReceiptTick is the interval between receipt polls.
	ReceiptTick time.Duration `mapstructure:"receipt_tick" yaml:"receipt_tick"`
}

// VotingConfig tunes the voting coordinator.
type VotingConfig struct {
	voting.Config `mapstructure:",squash" yaml:",inline"`

	// MinBalanceWei overrides the balance skip threshold. Empty derives it from the gas price.
	MinBalanceWei string `mapstructure:"min_balance_wei" yaml:"min_balance_wei"`
}

// Coordinator returns the coordinator configuration with the threshold parsed.
func (v VotingConfig) Coordinator() (voting.Config, error) {
	cfg := v.Config
	if v.MinBalanceWei == "" {
		return cfg, nil
	}

	minBalance, err := parseWei(v.MinBalanceWei)
	if err != nil {
		return cfg, fmt.Errorf("voting.min_balance_wei: %w", err)
	}
	cfg.MinBalance = minBalance

	return cfg, nil
}

// ReportConfig says where and how reports are written.
type ReportConfig struct {
	Dir     string   `mapstructure:"dir" yaml:"dir"`
	Formats []string `mapstructure:"formats" yaml:"formats"`
}

// Report formats.
const (
	FormatJSON     = "json"
	FormatTOML     = "toml"
	FormatMarkdown = "markdown"
	FormatLog      = "log"
)

var formats = []string{FormatJSON, FormatTOML, FormatMarkdown, FormatLog}

// ComparisonConfig pairs two scenarios for comparison.
type ComparisonConfig struct {
	Label     string `mapstructure:"label" yaml:"label"`
	Baseline  string `mapstructure:"baseline" yaml:"baseline"`
	Candidate string `mapstructure:"candidate" yaml:"candidate"`
}

// Config is the complete govbench configuration. It is built once and never re-read.
type Config struct {
	LogLevel    string             `mapstructure:"log_level" yaml:"log_level"`
	Network     NetworkConfig      `mapstructure:"network" yaml:"network"`
	Identities  IdentitiesConfig   `mapstructure:"identities" yaml:"identities"`
	Submitter   SubmitterConfig    `mapstructure:"submitter" yaml:"submitter"`
	Voting      VotingConfig       `mapstructure:"voting" yaml:"voting"`
	Lifecycle   lifecycle.Config   `mapstructure:"lifecycle" yaml:"lifecycle"`
	Parallel    bool               `mapstructure:"parallel" yaml:"parallel"`
	Scenarios   []ScenarioConfig   `mapstructure:"scenarios" yaml:"scenarios"`
	Comparisons []ComparisonConfig `mapstructure:"comparisons" yaml:"comparisons"`
	Report      ReportConfig       `mapstructure:"report" yaml:"report"`
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", filePath, err)
		}
	}

	return unmarshal(v)
}

// LoadEnv loads the config from the environment variables.
func LoadEnv() (*Config, error) {
	v := newViper()

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

// LoadFile loads the config from a file, ignoring the environment.
func LoadFile(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Network.Manifest != "" {
		rpcs, err := LoadNetworkFile(cfg.Network.Manifest, cfg.Network.ChainSelector)
		if err != nil {
			return nil, err
		}
		cfg.Network.RPCs = append(cfg.Network.RPCs, rpcs...)
	}

	return cfg, nil
}

var (
	defaults = map[string]any{
		"log_level":                  "info",
		"network.chain_selector":     chainsel.ETHEREUM_TESTNET_SEPOLIA.Selector,
		"submitter.gas_multiplier":   submitter.DefaultGasMultiplier,
		"submitter.receipt_timeout":  submitter.DefaultReceiptTimeout,
		"submitter.receipt_tick":     evm.DefaultReceiptTick,
		"submitter.max_attempts":     submitter.DefaultMaxAttempts,
		"submitter.retry_delay":      submitter.DefaultRetryDelay,
		"voting.interval":            voting.DefaultInterval,
		"voting.concurrency":         1,
		"voting.gas_ceiling":         voting.DefaultGasCeiling,
		"lifecycle.poll_interval":    lifecycle.DefaultPollInterval,
		"lifecycle.window_timeout":   lifecycle.DefaultWindowTimeout,
		"lifecycle.voting_timeout":   lifecycle.DefaultVotingTimeout,
		"lifecycle.delay_timeout":    lifecycle.DefaultDelayTimeout,
		"lifecycle.timelock_delay":   lifecycle.DefaultTimelockDelay,
		"lifecycle.clock_mode":       string(lifecycle.ClockBlockNumber),
		"report.dir":                 "reports",
		"report.formats":             []string{FormatJSON, FormatMarkdown},
		"identities.file":            "dao_members.json",
	}

	// envBindings maps config keys to the environment variables that can provide them. The first
	// name is preferred; the second, when present, is the name the earlier scripts used.
	envBindings = map[string][]string{
		"identities.file":      {"GOVBENCH_IDENTITIES_FILE", "MEMBERS_FILE"},
		"identities.admin_key": {"GOVBENCH_ADMIN_KEY", "PRIVATE_KEY"},
		"log_level":            {"GOVBENCH_LOG_LEVEL"},
		"report.dir":           {"GOVBENCH_REPORT_DIR"},
		"network.rpc_url":      {"GOVBENCH_RPC_URL", "SEPOLIA_RPC_URL"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(envs, 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the configuration as a whole. Every problem found is reported.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := chainsel.ChainBySelector(c.Network.ChainSelector); !ok {
		errs = append(errs, fmt.Errorf("network: unknown chain selector %d", c.Network.ChainSelector))
	}
	if err := c.Network.RPCConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("network: %w", err))
	}
	if _, err := c.Voting.Coordinator(); err != nil {
		errs = append(errs, err)
	}
	switch c.Lifecycle.ClockMode {
	case "", lifecycle.ClockBlockNumber, lifecycle.ClockTimestamp:
	default:
		errs = append(errs, fmt.Errorf("lifecycle: unknown clock mode %q", c.Lifecycle.ClockMode))
	}

	labels := make(map[string]bool)
	for i, s := range c.Scenarios {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scenario %d (%s): %w", i, s.Label, err))
		}
		if labels[s.Label] {
			errs = append(errs, fmt.Errorf("scenario %d: duplicate label %q", i, s.Label))
		}
		labels[s.Label] = true
	}

	for _, cmp := range c.Comparisons {
		for _, ref := range []string{cmp.Baseline, cmp.Candidate} {
			if !labels[ref] {
				errs = append(errs, fmt.Errorf("comparison %q: unknown scenario %q", cmp.Label, ref))
			}
		}
	}

	for _, f := range c.Report.Formats {
		if !slices.Contains(formats, f) {
			errs = append(errs, fmt.Errorf("report: unknown format %q", f))
		}
	}

	return errors.Join(errs...)
}

// Filter returns a copy of c holding only the named scenarios and the comparisons between them.
// No names keeps every scenario.
func (c *Config) Filter(labels ...string) (*Config, error) {
	if len(labels) == 0 {
		return c, nil
	}

	out := *c
	out.Scenarios = nil
	out.Comparisons = nil
	for _, l := range labels {
		idx := slices.IndexFunc(c.Scenarios, func(s ScenarioConfig) bool { return s.Label == l })
		if idx < 0 {
			return nil, fmt.Errorf("unknown scenario %q", l)
		}
		out.Scenarios = append(out.Scenarios, c.Scenarios[idx])
	}
	for _, cmp := range c.Comparisons {
		if slices.Contains(labels, cmp.Baseline) && slices.Contains(labels, cmp.Candidate) {
			out.Comparisons = append(out.Comparisons, cmp)
		}
	}

	return &out, nil
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}

	return v, nil
}
