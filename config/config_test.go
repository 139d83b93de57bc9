package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/govbench/chain/evm"
	"github.com/smartcontractkit/govbench/lifecycle"
	"github.com/smartcontractkit/govbench/submitter"
	"github.com/smartcontractkit/govbench/voting"
)

const sepolia = uint64(16015286601757825753)

var (
	// fileCfg is the config loaded from testdata/config.yml.
	fileCfg = &Config{
		LogLevel: "debug",
		Network: NetworkConfig{
			ChainSelector: sepolia,
			RPCs: []evm.RPC{
				{Name: "primary", HTTPURL: "https://sepolia.example.org", PreferredURLScheme: evm.URLSchemeHTTP},
				{Name: "backup", WSURL: "wss://sepolia-ws.example.org", PreferredURLScheme: evm.URLSchemeWS},
			},
			Retry: evm.RetryConfig{Attempts: 3, Delay: time.Second, Timeout: 10 * time.Second},
		},
		Identities: IdentitiesConfig{File: "./testdata/members.json"},
		Submitter: SubmitterConfig{
			Config: submitter.Config{
				GasMultiplier:  1.5,
				ReceiptTimeout: 5 * time.Minute,
				MaxAttempts:    4,
				RetryDelay:     submitter.DefaultRetryDelay,
			},
			ReceiptTick: 2 * time.Second,
		},
		Voting: VotingConfig{
			Config:        voting.Config{Interval: 200 * time.Millisecond, Concurrency: 4, GasCeiling: voting.DefaultGasCeiling},
			MinBalanceWei: "1000000000000000",
		},
		Lifecycle: lifecycle.Config{
			PollInterval:  5 * time.Second,
			WindowTimeout: lifecycle.DefaultWindowTimeout,
			VotingTimeout: lifecycle.DefaultVotingTimeout,
			DelayTimeout:  lifecycle.DefaultDelayTimeout,
			TimelockDelay: 130 * time.Second,
			ClockMode:     lifecycle.ClockTimestamp,
		},
		Parallel: true,
		Scenarios: []ScenarioConfig{
			{
				Label:          "V1",
				Variant:        "inline",
				Governor:       "0x00000000000000000000000000000000000000a1",
				Treasury:       "0x00000000000000000000000000000000000000b1",
				TreasuryKind:   "basic",
				Recipient:      "0x00000000000000000000000000000000000000c1",
				AmountWei:      "1000000000000000",
				Proposer:       "admin",
				Voters:         VoterRange{From: 0, Count: 2},
				Decisive:       []string{"admin"},
				Support:        1,
				ProposalIDSlot: ptr(uint64(5)),
			},
			{
				Label:        "V4",
				Variant:      "timelock",
				Governor:     "0x00000000000000000000000000000000000000a4",
				Treasury:     "0x00000000000000000000000000000000000000b4",
				TreasuryKind: "secure",
				Token:        "0x00000000000000000000000000000000000000d4",
				Recipient:    "0x00000000000000000000000000000000000000c1",
				AmountWei:    "2000000000000000",
				Description:  "Proposal #4: secure payment",
				Proposer:     "admin",
				Voters:       VoterRange{From: 1},
				Decisive:     []string{"member-0"},
				Support:      1,
				Delegate:     true,
				IDStrategies: []string{"hash", "event"},
			},
		},
		Comparisons: []ComparisonConfig{{Label: "V1 vs V4", Baseline: "V1", Candidate: "V4"}},
		Report:      ReportConfig{Dir: "out", Formats: []string{FormatJSON, FormatTOML, FormatMarkdown, FormatLog}},
	}

	// defaultCfg is the config loaded from an empty file and no env vars.
	defaultCfg = &Config{
		LogLevel:   "info",
		Network:    NetworkConfig{ChainSelector: sepolia},
		Identities: IdentitiesConfig{File: "dao_members.json"},
		Submitter: SubmitterConfig{
			Config:      submitter.DefaultConfig(),
			ReceiptTick: evm.DefaultReceiptTick,
		},
		Voting:    VotingConfig{Config: voting.DefaultConfig()},
		Lifecycle: lifecycle.DefaultConfig(),
		Report:    ReportConfig{Dir: "reports", Formats: []string{FormatJSON, FormatMarkdown}},
	}

	envVars = map[string]string{
		"GOVBENCH_IDENTITIES_FILE": "/secrets/members.json",
		"GOVBENCH_ADMIN_KEY":       "0xabc",
		"GOVBENCH_LOG_LEVEL":       "warn",
		"GOVBENCH_REPORT_DIR":      "/tmp/reports",
		"GOVBENCH_RPC_URL":         "https://env.example.org",
	}

	legacyEnvVars = map[string]string{
		"MEMBERS_FILE":    "/secrets/members.json",
		"PRIVATE_KEY":     "0xabc",
		"SEPOLIA_RPC_URL": "https://env.example.org",
		// These values do not have a legacy equivalent
		"GOVBENCH_LOG_LEVEL":  "warn",
		"GOVBENCH_REPORT_DIR": "/tmp/reports",
	}
)

func withEnv(cfg *Config) *Config {
	c := *cfg
	c.LogLevel = "warn"
	c.Identities = IdentitiesConfig{File: "/secrets/members.json", AdminKey: "0xabc"}
	c.Network.RPCURL = "https://env.example.org"
	c.Report.Dir = "/tmp/reports"

	return &c
}

func Test_Load(t *testing.T) { //nolint:paralleltest // see comment in setupEnvVars
	tests := []struct {
		name     string
		giveEnv  map[string]string
		givePath string
		want     *Config
		wantErr  string
	}{
		{
			name:     "load from file",
			givePath: "./testdata/config.yml",
			want:     fileCfg,
		},
		{
			name:     "load from empty file",
			givePath: "./testdata/empty.yml",
			want:     defaultCfg,
		},
		{
			name:     "override with env",
			giveEnv:  envVars,
			givePath: "./testdata/config.yml",
			want:     withEnv(fileCfg),
		},
		{
			name:     "fallback to env when file not found",
			giveEnv:  envVars,
			givePath: "./testdata/missing.yml",
			want:     withEnv(defaultCfg),
		},
		{
			name:     "manifest rpcs are appended",
			givePath: "./testdata/with_manifest.yml",
			want: func() *Config {
				c := *defaultCfg
				c.Network.Manifest = "./testdata/manifest.yml"
				c.Network.RPCs = []evm.RPC{{Name: "manifest-primary", HTTPURL: "https://rpc.manifest.example.org"}}

				return &c
			}(),
		},
	}

	for _, tt := range tests { //nolint:paralleltest // see comment in setupEnvVars
		t.Run(tt.name, func(t *testing.T) {
			setupEnvVars(t, tt.giveEnv)

			got, err := Load(tt.givePath)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_LoadFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		givePath string
		want     *Config
		wantErr  string
	}{
		{
			name:     "load from file",
			givePath: "./testdata/config.yml",
			want:     fileCfg,
		},
		{
			name:     "load from file with invalid path",
			givePath: "./testdata/missing.yml",
			wantErr:  "no such file or directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := LoadFile(tt.givePath)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_LoadEnv(t *testing.T) { //nolint:paralleltest // see comment in setupEnvVars
	setupEnvVars(t, envVars)

	got, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, withEnv(defaultCfg), got)
}

func Test_LoadEnv_Legacy(t *testing.T) { //nolint:paralleltest // see comment in setupEnvVars
	setupEnvVars(t, legacyEnvVars)

	got, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, withEnv(defaultCfg), got)
}

func TestNetworkConfig_RPCConfig(t *testing.T) {
	t.Parallel()

	n := NetworkConfig{
		ChainSelector: sepolia,
		RPCURL:        "https://env.example.org",
		RPCs:          []evm.RPC{{Name: "primary", HTTPURL: "https://file.example.org"}},
	}
	got := n.RPCConfig()

	require.Len(t, got.RPCs, 2)
	assert.Equal(t, "env", got.RPCs[0].Name)
	assert.Equal(t, "primary", got.RPCs[1].Name)
	assert.Equal(t, sepolia, got.ChainSelector)
	require.NoError(t, got.Validate())
}

func TestVotingConfig_Coordinator(t *testing.T) {
	t.Parallel()

	cfg, err := fileCfg.Voting.Coordinator()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1e15), cfg.MinBalance)
	assert.Equal(t, 4, cfg.Concurrency)

	cfg, err = defaultCfg.Voting.Coordinator()
	require.NoError(t, err)
	assert.Nil(t, cfg.MinBalance)

	_, err = VotingConfig{MinBalanceWei: "1e15"}.Coordinator()
	require.ErrorContains(t, err, "voting.min_balance_wei")
}

func TestLoadNetworkFile(t *testing.T) {
	t.Parallel()

	rpcs, err := LoadNetworkFile("./testdata/manifest.yml", 5009297550715157269)
	require.NoError(t, err)
	assert.Equal(t, []evm.RPC{{Name: "mainnet", HTTPURL: "https://mainnet.example.org"}}, rpcs)

	_, err = LoadNetworkFile("./testdata/manifest.yml", 1)
	require.ErrorContains(t, err, "no RPCs for selector 1")

	_, err = LoadNetworkFile("./testdata/missing.yml", sepolia)
	require.ErrorContains(t, err, "failed to read network manifest")
}

// setupEnvVars sets up the environment variables for the test.
//
// CAUTION: Because this function uses t.Setenv which affects the entire process, tests which call
// this function cannot be run in parallel.
func setupEnvVars(t *testing.T, envVars map[string]string) {
	t.Helper()

	for key, value := range envVars {
		t.Setenv(key, value)
	}
}

func ptr[T any](v T) *T {
	return &v
}
