package run

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/smartcontractkit/govbench/config"
	"github.com/smartcontractkit/govbench/identity"
	"github.com/smartcontractkit/govbench/lifecycle"
	"github.com/smartcontractkit/govbench/metrics"
	"github.com/smartcontractkit/govbench/pkg/logger"
	"github.com/smartcontractkit/govbench/report"
	"github.com/smartcontractkit/govbench/submitter"
	"github.com/smartcontractkit/govbench/voting"
)

var (
	runShort = "Run governance scenarios and report their gas cost"

	runLong = strings.TrimSpace(`
Runs every configured scenario through the full proposal lifecycle: propose, vote and, for
timelock governors, queue and execute. The gas of every transaction is collected and the
configured comparisons are written to the report directory.
`)

	runExample = strings.TrimSpace(`
  # Run every scenario of govbench.yml
  govbench run --config govbench.yml

  # Run two scenarios and compare them
  govbench run -c govbench.yml -s V1 -s V4

  # Check the configuration and the identity file without touching the chain
  govbench run -c govbench.yml --dry-validate
`)
)

// Config holds the configuration for the run command.
type Config struct {
	// Logger is used until the configured logger is built. Required.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	// If fields are nil, production defaults are used.
	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	if c.Logger == nil {
		return errors.New("run.Config: missing required fields: Logger")
	}

	return nil
}

// deps returns the Deps with defaults applied.
func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

type runFlags struct {
	config      string
	scenarios   []string
	dryValidate bool
}

// NewCommand creates the run command.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.deps()

	cmd := &cobra.Command{
		Use:     "run",
		Short:   runShort,
		Long:    runLong,
		Example: runExample,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f runFlags
			f.config, _ = cmd.Flags().GetString("config")
			f.scenarios, _ = cmd.Flags().GetStringArray("scenario")
			f.dryValidate, _ = cmd.Flags().GetBool("dry-validate")

			return runScenarios(cmd, cfg, f)
		},
	}

	cmd.Flags().StringP("config", "c", "govbench.yml", "Path to the run configuration")
	cmd.Flags().StringArrayP("scenario", "s", nil, "Only run the scenario with this label (repeatable)")
	cmd.Flags().Bool("dry-validate", false, "Validate the configuration and identities, then exit")

	return cmd, nil
}

// runScenarios executes the run command logic.
func runScenarios(cmd *cobra.Command, cfg Config, f runFlags) error {
	ctx := cmd.Context()
	deps := cfg.deps()

	conf, err := deps.ConfigLoader(f.config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if conf, err = conf.Filter(f.scenarios...); err != nil {
		return err
	}
	if err = conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lggr, err := deps.LoggerFactory(conf.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = lggr.Sync() }()

	members, admin, err := deps.IdentityLoader(conf.Identities)
	if err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}
	ids := members
	if admin != nil {
		ids = append(append([]*identity.Identity(nil), members...), admin)
	}

	if f.dryValidate {
		// Nothing reads the chain while resolving scenarios.
		pool, perr := identity.NewPool(lggr, nil, ids...)
		if perr != nil {
			return perr
		}
		scenarios, serr := conf.ScenarioList(&directory{pool: pool, members: members})
		if serr != nil {
			return serr
		}
		cmd.Printf("Configuration valid: %d scenarios, %d comparisons, %d identities\n",
			len(scenarios), len(conf.Comparisons), len(ids))

		return nil
	}

	chain, closeChain, err := deps.ChainDialer(ctx, lggr, conf)
	if err != nil {
		return err
	}
	defer closeChain()

	pool, err := identity.NewPool(lggr, chain, ids...)
	if err != nil {
		return err
	}
	scenarios, err := conf.ScenarioList(&directory{pool: pool, members: members})
	if err != nil {
		return err
	}

	votingCfg, err := conf.Voting.Coordinator()
	if err != nil {
		return err
	}

	sub := submitter.New(lggr, chain.ChainID, chain, pool, conf.Submitter.Config)
	coord := voting.NewCoordinator(lggr, sub, chain, votingCfg)
	machine := lifecycle.NewMachine(lggr, chain, sub, coord, conf.Lifecycle)

	collector := metrics.NewCollector()
	runner := lifecycle.NewRunner(lggr, machine,
		lifecycle.WithObservers(collector),
		lifecycle.WithParallel(conf.Parallel),
	)

	lggr.Infow("Running scenarios", "chain", chain.String(), "scenarios", len(scenarios), "parallel", conf.Parallel)
	runs, runErr := runner.RunAll(ctx, scenarios)

	comparisons := compare(lggr, collector, conf.Comparisons)
	summary := report.NewSummary(report.Network{
		Name:     chain.Name(),
		ChainID:  chain.ChainID.String(),
		Selector: report.Selector(chain.Selector),
	}, runs, comparisons, runErr)

	if err = emit(ctx, deps, conf.Report, lggr, summary); err != nil {
		return err
	}

	for _, r := range summary.Runs {
		cmd.Printf("%s: %s via %s, %d gas\n", r.Label, r.Outcome, r.Path, r.TotalGas)
	}
	if n := len(multierr.Errors(runErr)); n > 0 {
		return fmt.Errorf("%d of %d scenarios failed: %w", n, len(scenarios), runErr)
	}

	return nil
}

// compare resolves the configured comparisons. A comparison whose scenarios did not both
// produce a run is skipped.
func compare(lggr logger.Logger, c *metrics.Collector, cfgs []config.ComparisonConfig) []metrics.ComparisonResult {
	out := make([]metrics.ComparisonResult, 0, len(cfgs))
	for _, cc := range cfgs {
		res, ok := c.Compare(cc.Label, cc.Baseline, cc.Candidate)
		if !ok {
			lggr.Warnw("Skipping comparison without runs", "comparison", cc.Label,
				"baseline", cc.Baseline, "candidate", cc.Candidate)

			continue
		}
		out = append(out, res)
	}

	return out
}

func emit(ctx context.Context, deps *Deps, cfg config.ReportConfig, lggr logger.Logger, s report.Summary) error {
	emitters, err := deps.EmitterFactory(cfg, lggr)
	if err != nil {
		return fmt.Errorf("failed to build report emitters: %w", err)
	}

	var errs error
	for _, e := range emitters {
		errs = multierr.Append(errs, e.Emit(ctx, s))
	}
	if errs != nil {
		return fmt.Errorf("failed to emit report: %w", errs)
	}

	return nil
}
