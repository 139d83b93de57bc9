package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartcontractkit/govbench/governor"
	"github.com/smartcontractkit/govbench/identity"
	"github.com/smartcontractkit/govbench/internal/poll"
	"github.com/smartcontractkit/govbench/pkg/logger"
	"github.com/smartcontractkit/govbench/submitter"
	"github.com/smartcontractkit/govbench/voting"
)

const (
	DefaultPollInterval  = 15 * time.Second
	DefaultWindowTimeout = 10 * time.Minute
	DefaultVotingTimeout = 30 * time.Minute
	DefaultDelayTimeout  = 30 * time.Minute
	DefaultTimelockDelay = 130 * time.Second
)

// Chain is the read side the machine observes proposals through. *evm.Chain satisfies it.
type Chain interface {
	governor.Caller
	governor.StorageReader
	CurrentBlock(ctx context.Context) (uint64, error)
	LatestHeader(ctx context.Context) (*types.Header, error)
	HeaderAt(ctx context.Context, n *big.Int) (*types.Header, error)
}

// Sender submits one call. *submitter.Submitter satisfies it.
type Sender interface {
	Send(ctx context.Context, from *identity.Identity, stage string, call governor.Call) (submitter.Result, error)
}

// Voter runs a ballot. *voting.Coordinator satisfies it.
type Voter interface {
	CastVotes(ctx context.Context, b voting.Ballot) (voting.Tally, error)
}

// Config bounds the waits of the lifecycle.
type Config struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	WindowTimeout time.Duration `mapstructure:"window_timeout" yaml:"window_timeout"`
	VotingTimeout time.Duration `mapstructure:"voting_timeout" yaml:"voting_timeout"`
	DelayTimeout  time.Duration `mapstructure:"delay_timeout" yaml:"delay_timeout"`
	// TimelockDelay is assumed when the Governor does not report a proposal ETA.
	TimelockDelay time.Duration `mapstructure:"timelock_delay" yaml:"timelock_delay"`
	ClockMode     ClockMode     `mapstructure:"clock_mode" yaml:"clock_mode"`
}

// DefaultConfig returns the defaults used for unset fields.
func DefaultConfig() Config {
	return Config{
		PollInterval:  DefaultPollInterval,
		WindowTimeout: DefaultWindowTimeout,
		VotingTimeout: DefaultVotingTimeout,
		DelayTimeout:  DefaultDelayTimeout,
		TimelockDelay: DefaultTimelockDelay,
		ClockMode:     ClockBlockNumber,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.WindowTimeout <= 0 {
		c.WindowTimeout = d.WindowTimeout
	}
	if c.VotingTimeout <= 0 {
		c.VotingTimeout = d.VotingTimeout
	}
	if c.DelayTimeout <= 0 {
		c.DelayTimeout = d.DelayTimeout
	}
	if c.TimelockDelay <= 0 {
		c.TimelockDelay = d.TimelockDelay
	}
	if c.ClockMode == "" {
		c.ClockMode = d.ClockMode
	}

	return c
}

// Machine takes scenarios through their lifecycle.
type Machine struct {
	chain  Chain
	sender Sender
	voter  Voter
	cfg    Config
	lggr   logger.Logger
}

// NewMachine builds a machine.
func NewMachine(lggr logger.Logger, chain Chain, sender Sender, voter Voter, cfg Config) *Machine {
	return &Machine{
		chain:  chain,
		sender: sender,
		voter:  voter,
		cfg:    cfg.withDefaults(),
		lggr:   lggr.Named("lifecycle"),
	}
}

// Execute runs sc from proposal to execution. The run is returned whenever the scenario could
// start, including when it ends defeated or aborted; its Err and Outcome say how it ended.
func (m *Machine) Execute(ctx context.Context, sc Scenario) (*Run, error) {
	if !sc.Variant.Valid() {
		return nil, fmt.Errorf("scenario %q: unknown variant %q", sc.Label, sc.Variant)
	}
	if sc.Proposer == nil {
		return nil, fmt.Errorf("scenario %q: proposer is required", sc.Label)
	}

	action, err := governor.PaymentAction(sc.TreasuryKind, sc.Treasury, sc.Recipient, sc.Amount)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Label, err)
	}
	ref, err := governor.NewProposalRef(sc.Description, action)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Label, err)
	}

	run := NewRun(sc.Label, sc.Variant, ref)
	lggr := m.lggr.With("run", run.ID, "scenario", sc.Label, "variant", sc.Variant)
	lggr.Infow("Starting lifecycle", "governor", sc.Governor.Hex(), "voters", len(sc.Voters), "decisive", len(sc.Decisive))

	err = m.drive(ctx, lggr, run, sc)

	var defeated *ProposalDefeatedError
	switch {
	case err == nil:
		run.finish(OutcomeExecuted, nil)
		lggr.Infow("Proposal executed", "path", run.Path, "txs", len(run.Records))
	case errors.As(err, &defeated):
		run.finish(OutcomeDefeated, err)
		lggr.Warnw("Proposal defeated", "stage", run.Stage, "cause", defeated.Cause)
	default:
		run.finish(OutcomeAborted, err)
		lggr.Errorw("Lifecycle aborted", "stage", run.Stage, "err", err)
	}

	return run, err
}

func (m *Machine) drive(ctx context.Context, lggr logger.Logger, run *Run, sc Scenario) error {
	gov := governor.NewGovernor(sc.Governor, m.chain)

	if sc.Delegate {
		m.delegate(ctx, lggr, run, sc, gov)
	}

	id, err := m.propose(ctx, lggr, run, sc, gov)
	if err != nil {
		return err
	}
	if err := run.advance(StageProposed, StageAwaitingWindow); err != nil {
		return err
	}

	if sc.Variant == VariantTimelock {
		if err := m.awaitWindow(ctx, gov, id); err != nil {
			return err
		}
	}
	if err := run.advance(StageVoting); err != nil {
		return err
	}

	tally, err := m.voter.CastVotes(ctx, voting.Ballot{
		ProposalID: id,
		Voters:     sc.Voters,
		Decisive:   sc.Decisive,
		VoteCall:   voteEncoder(sc, id),
	})
	run.Tally = tally
	run.record(tally.Records...)
	if err != nil {
		return fmt.Errorf("failed to vote: %w", err)
	}

	if sc.Variant == VariantInline {
		if err := run.advance(StageResolved); err != nil {
			return err
		}
		if !lastVoted(tally) {
			return &ProposalDefeatedError{ProposalID: id, Cause: CauseDecisiveVoteFailed, State: governor.StateDefeated}
		}

		// The deciding vote executed the proposal.
		return run.advance(StageExecuted)
	}

	state, err := m.awaitResolution(ctx, gov, id)
	if err != nil {
		return err
	}
	if err := run.advance(StageResolved); err != nil {
		return err
	}
	if !state.Passed() {
		return Diagnose(ctx, gov, m.chain, id, state)
	}

	queueCall, err := run.Ref.QueueCall(sc.Governor)
	if err != nil {
		return err
	}
	queued, err := m.sender.Send(ctx, sc.Proposer, StepQueue, queueCall)
	if err != nil {
		return fmt.Errorf("failed to queue: %w", err)
	}
	run.record(queued.Record)
	if err := run.advance(StageQueued, StageAwaitingDelay); err != nil {
		return err
	}

	if err := m.awaitDelay(ctx, gov, id, queued.Receipt); err != nil {
		return err
	}

	execCall, err := run.Ref.ExecuteCall(sc.Governor)
	if err != nil {
		return err
	}
	executed, err := m.sender.Send(ctx, sc.Proposer, StepExecute, execCall)
	if err != nil {
		return fmt.Errorf("failed to execute: %w", err)
	}
	run.record(executed.Record)

	return run.advance(StageExecuted)
}

func (m *Machine) propose(ctx context.Context, lggr logger.Logger, run *Run, sc Scenario, gov *governor.Governor) (*big.Int, error) {
	var (
		call governor.Call
		err  error
	)
	if sc.Variant == VariantInline {
		call, err = run.Ref.InlineProposeCall(sc.Governor)
	} else {
		call, err = run.Ref.ProposeCall(sc.Governor)
	}
	if err != nil {
		return nil, err
	}

	res, err := m.sender.Send(ctx, sc.Proposer, StepPropose, call)
	if err != nil {
		return nil, fmt.Errorf("failed to propose: %w", err)
	}
	run.record(res.Record)

	id, strategy, err := governor.DiscoverProposalID(ctx, governor.Discovery{
		Contract:        sc.Governor,
		Ref:             run.Ref,
		Receipt:         res.Receipt,
		SimulatedReturn: res.SimulatedReturn,
		Governor:        gov,
		Storage:         m.chain,
		Slot:            sc.slot(),
	}, sc.strategies()...)
	if err != nil {
		return nil, fmt.Errorf("failed to discover proposal id: %w", err)
	}
	if err := run.Ref.SetID(id); err != nil {
		return nil, err
	}
	run.Strategy = strategy
	lggr.Infow("Proposal created", "proposal", id, "strategy", strategy, "tx", res.Record.TxHash.Hex())

	return id, nil
}

// delegate self-delegates every participant that holds tokens but has no voting power.
// Failures are logged and skipped.
func (m *Machine) delegate(ctx context.Context, lggr logger.Logger, run *Run, sc Scenario, gov *governor.Governor) {
	tokenAddr := sc.Token
	if tokenAddr == (common.Address{}) && sc.Variant == VariantTimelock {
		addr, err := gov.Token(ctx)
		if err != nil {
			lggr.Warnw("Skipping delegation, token unknown", "err", err)

			return
		}
		tokenAddr = addr
	}
	if tokenAddr == (common.Address{}) {
		lggr.Warnw("Skipping delegation, no token configured")

		return
	}

	token := governor.NewToken(tokenAddr, m.chain)
	for _, id := range sc.participants() {
		votes, err := token.GetVotes(ctx, id.Address)
		if err != nil {
			lggr.Warnw("Failed to read votes", "identity", id.Label, "err", err)
			continue
		}
		balance, err := token.BalanceOf(ctx, id.Address)
		if err != nil {
			lggr.Warnw("Failed to read token balance", "identity", id.Label, "err", err)
			continue
		}
		if votes.Sign() != 0 || balance.Sign() == 0 {
			continue
		}

		call, err := governor.DelegateCall(tokenAddr, id.Address)
		if err != nil {
			lggr.Warnw("Failed to encode delegation", "identity", id.Label, "err", err)
			continue
		}
		res, err := m.sender.Send(ctx, id, StepDelegate, call)
		if err != nil {
			lggr.Warnw("Delegation failed", "identity", id.Label, "err", err)
			continue
		}
		run.Setup = append(run.Setup, res.Record)
	}
}

// awaitWindow waits for the voting period to open.
func (m *Machine) awaitWindow(ctx context.Context, gov *governor.Governor, id *big.Int) error {
	_, err := poll.Until(ctx, m.cfg.PollInterval, m.cfg.WindowTimeout, func(ctx context.Context) (governor.ProposalState, bool, error) {
		state, err := gov.State(ctx, id)
		if err != nil {
			return state, false, err
		}
		if state.Terminal() {
			return state, false, Diagnose(ctx, gov, m.chain, id, state)
		}

		return state, state != governor.StatePending, nil
	})

	return timeoutError(StageAwaitingWindow, err)
}

// resolution is what awaitResolution observes on each poll.
type resolution struct {
	Clock    uint64
	Deadline uint64
	State    governor.ProposalState
}

// awaitResolution waits for the clock to pass the proposal deadline and returns the state the
// proposal settled in.
func (m *Machine) awaitResolution(ctx context.Context, gov *governor.Governor, id *big.Int) (governor.ProposalState, error) {
	deadline, err := gov.Deadline(ctx, id)
	if err != nil {
		return 0, err
	}

	obs, err := poll.Until(ctx, m.cfg.PollInterval, m.cfg.VotingTimeout, func(ctx context.Context) (resolution, bool, error) {
		r := resolution{Deadline: deadline.Uint64()}

		clock, err := m.clock(ctx)
		if err != nil {
			return r, false, err
		}
		r.Clock = clock
		if clock <= r.Deadline {
			return r, false, nil
		}

		state, err := gov.State(ctx, id)
		if err != nil {
			return r, false, err
		}
		r.State = state

		return r, state != governor.StateActive && state != governor.StatePending, nil
	})
	if err != nil {
		return 0, timeoutError(StageVoting, err)
	}

	return obs.State, nil
}

// awaitDelay waits until the queued proposal's ETA has passed.
func (m *Machine) awaitDelay(ctx context.Context, gov *governor.Governor, id *big.Int, queued *types.Receipt) error {
	eta, err := gov.Eta(ctx, id)
	if err != nil || eta.Sign() == 0 {
		header, herr := m.chain.HeaderAt(ctx, queued.BlockNumber)
		if herr != nil {
			return herr
		}
		eta = new(big.Int).SetUint64(header.Time + uint64(m.cfg.TimelockDelay.Seconds()))
	}

	_, err = poll.Until(ctx, m.cfg.PollInterval, m.cfg.DelayTimeout, func(ctx context.Context) (uint64, bool, error) {
		head, err := m.chain.LatestHeader(ctx)
		if err != nil {
			return 0, false, err
		}

		return head.Time, head.Time >= eta.Uint64(), nil
	})

	return timeoutError(StageAwaitingDelay, err)
}

func (m *Machine) clock(ctx context.Context) (uint64, error) {
	if m.cfg.ClockMode == ClockTimestamp {
		head, err := m.chain.LatestHeader(ctx)
		if err != nil {
			return 0, err
		}

		return head.Time, nil
	}

	return m.chain.CurrentBlock(ctx)
}

func voteEncoder(sc Scenario, id *big.Int) func(*identity.Identity) (governor.Call, error) {
	if sc.Variant == VariantInline {
		return func(*identity.Identity) (governor.Call, error) {
			return governor.InlineVoteCall(sc.Governor, id, sc.Support != 0)
		}
	}

	return func(*identity.Identity) (governor.Call, error) {
		return governor.CastVoteCall(sc.Governor, id, sc.Support)
	}
}

// lastVoted reports whether the final vote sent in the ballot went through. For the inline DAO
// that vote carries the execution. Skipped voters sent nothing and are passed over.
func lastVoted(t voting.Tally) bool {
	for i := len(t.Outcomes) - 1; i >= 0; i-- {
		if t.Outcomes[i].Status != voting.StatusSkipped {
			return t.Outcomes[i].Status == voting.StatusVoted
		}
	}

	return false
}
