// Package voting casts the votes of many identities on one proposal.
package voting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/smartcontractkit/govbench/chain/evm"
	"github.com/smartcontractkit/govbench/governor"
	"github.com/smartcontractkit/govbench/identity"
	"github.com/smartcontractkit/govbench/pkg/logger"
	"github.com/smartcontractkit/govbench/submitter"
)

const (
	DefaultInterval   = 150 * time.Millisecond
	DefaultGasCeiling = 500_000

	// StageVote is the record stage of a vote.
	StageVote = "vote"
)

// ErrQuorumUnreachable is returned when a decisive vote is rejected in simulation.
var ErrQuorumUnreachable = errors.New("quorum unreachable")

// Sender submits one call. *submitter.Submitter satisfies it.
type Sender interface {
	Send(ctx context.Context, from *identity.Identity, stage string, call governor.Call) (submitter.Result, error)
}

// Chain provides what the skip threshold is computed from. *evm.Chain satisfies it.
type Chain interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	SuggestFees(ctx context.Context) (evm.Fees, error)
}

// Config tunes the pace and parallelism of voting.
type Config struct {
	// Interval is the minimum spacing between two vote submissions.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Concurrency is the number of ordinary votes in flight. Decisive votes are always sequential.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// GasCeiling times the current gas price is the default skip threshold.
	GasCeiling uint64 `mapstructure:"gas_ceiling" yaml:"gas_ceiling"`
	// MinBalance overrides the skip threshold when set.
	MinBalance *big.Int `mapstructure:"-" yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.Interval < 0 {
		c.Interval = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.GasCeiling == 0 {
		c.GasCeiling = DefaultGasCeiling
	}

	return c
}

// DefaultConfig returns sequential voting at the default interval.
func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, Concurrency: 1, GasCeiling: DefaultGasCeiling}
}

// Ballot is one round of voting on a proposal.
type Ballot struct {
	ProposalID *big.Int
	// Voters vote first, in order.
	Voters []*identity.Identity
	// Decisive vote after every voter, one at a time. Their vote is expected to reach the
	// threshold, so a simulation rejection means the proposal cannot pass.
	Decisive []*identity.Identity
	// VoteCall encodes the vote of an identity.
	VoteCall func(voter *identity.Identity) (governor.Call, error)
}

// Status is how a single vote ended.
type Status string

const (
	StatusVoted   Status = "voted"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the result of one identity's vote.
type Outcome struct {
	Voter    *identity.Identity
	Decisive bool
	Status   Status
	Record   *submitter.Record
	Err      error
}

// Tally sums up a ballot. Voted + Skipped + Failed equals the number of identities that were
// due to vote.
type Tally struct {
	Outcomes []Outcome
	Records  []submitter.Record
	Voted    int
	Skipped  int
	Failed   int
	TotalGas uint64
}

func (t *Tally) add(o Outcome) {
	t.Outcomes = append(t.Outcomes, o)
	switch o.Status {
	case StatusVoted:
		t.Voted++
		t.Records = append(t.Records, *o.Record)
		t.TotalGas += o.Record.GasUsed
	case StatusSkipped:
		t.Skipped++
	case StatusFailed:
		t.Failed++
	}
}

// Coordinator drives ballots.
type Coordinator struct {
	sender Sender
	chain  Chain
	cfg    Config
	lggr   logger.Logger
}

// NewCoordinator builds a coordinator.
func NewCoordinator(lggr logger.Logger, sender Sender, chain Chain, cfg Config) *Coordinator {
	return &Coordinator{
		sender: sender,
		chain:  chain,
		cfg:    cfg.withDefaults(),
		lggr:   lggr.Named("voting"),
	}
}

// CastVotes votes with every voter, then with every decisive identity. Individual failures are
// counted and voting continues. A decisive vote rejected in simulation stops the ballot with
// ErrQuorumUnreachable; the returned tally holds every vote cast up to that point, as it does
// when ctx is cancelled mid-ballot.
func (c *Coordinator) CastVotes(ctx context.Context, b Ballot) (Tally, error) {
	if b.VoteCall == nil {
		return Tally{}, errors.New("ballot has no vote encoder")
	}

	threshold, err := c.threshold(ctx)
	if err != nil {
		return Tally{}, err
	}

	limit := rate.Inf
	if c.cfg.Interval > 0 {
		limit = rate.Every(c.cfg.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	outcomes := make([]Outcome, len(b.Voters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, voter := range b.Voters {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			outcomes[i] = c.cast(gctx, voter, threshold, b.VoteCall, false)

			return nil
		})
	}
	werr := g.Wait()

	// Voters the cancelled group never reached have no status.
	var tally Tally
	for _, o := range outcomes {
		if o.Status != "" {
			tally.add(o)
		}
	}
	if werr != nil {
		return tally, fmt.Errorf("failed to cast votes: %w", werr)
	}

	for _, voter := range b.Decisive {
		if err := limiter.Wait(ctx); err != nil {
			return tally, fmt.Errorf("failed to cast decisive votes: %w", err)
		}

		o := c.cast(ctx, voter, threshold, b.VoteCall, true)
		tally.add(o)

		var simErr *submitter.SimulationError
		if errors.As(o.Err, &simErr) {
			c.lggr.Warnw("Decisive vote rejected", "identity", voter.Label, "reason", simErr.Reason)

			return tally, fmt.Errorf("%w: decisive vote of %s: %w", ErrQuorumUnreachable, voter, o.Err)
		}
	}

	c.lggr.Infow("Ballot finished",
		"proposal", b.ProposalID, "voted", tally.Voted, "skipped", tally.Skipped,
		"failed", tally.Failed, "gas", tally.TotalGas)

	return tally, nil
}

// threshold is the balance below which an identity does not vote.
func (c *Coordinator) threshold(ctx context.Context) (*big.Int, error) {
	if c.cfg.MinBalance != nil {
		return c.cfg.MinBalance, nil
	}

	fees, err := c.chain.SuggestFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to price votes: %w", err)
	}

	return new(big.Int).Mul(new(big.Int).SetUint64(c.cfg.GasCeiling), fees.MaxPrice()), nil
}

func (c *Coordinator) cast(
	ctx context.Context,
	voter *identity.Identity,
	threshold *big.Int,
	encode func(*identity.Identity) (governor.Call, error),
	decisive bool,
) Outcome {
	o := Outcome{Voter: voter, Decisive: decisive}

	balance, err := c.chain.Balance(ctx, voter.Address)
	if err != nil {
		o.Status, o.Err = StatusFailed, fmt.Errorf("failed to fetch balance: %w", err)

		return o
	}
	if balance.Cmp(threshold) < 0 {
		c.lggr.Debugw("Skipping vote", "identity", voter.Label, "balance", balance, "threshold", threshold)
		o.Status = StatusSkipped

		return o
	}

	call, err := encode(voter)
	if err != nil {
		o.Status, o.Err = StatusFailed, err

		return o
	}

	res, err := c.sender.Send(ctx, voter, StageVote, call)
	if err != nil {
		var bal *submitter.InsufficientBalanceError
		if errors.As(err, &bal) {
			c.lggr.Debugw("Skipping vote", "identity", voter.Label, "err", err)
			o.Status = StatusSkipped

			return o
		}

		c.lggr.Warnw("Vote failed", "identity", voter.Label, "err", err)
		o.Status, o.Err = StatusFailed, err

		return o
	}

	o.Status, o.Record = StatusVoted, &res.Record

	return o
}
