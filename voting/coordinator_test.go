package voting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/govbench/chain/evm"
	"github.com/smartcontractkit/govbench/governor"
	"github.com/smartcontractkit/govbench/identity"
	"github.com/smartcontractkit/govbench/pkg/logger"
	"github.com/smartcontractkit/govbench/submitter"
)

var testGovernor = common.HexToAddress("0x00000000000000000000000000000000000000a1")

type mockChain struct {
	mock.Mock
}

func (m *mockChain) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	args := m.Called(ctx, account)

	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *mockChain) SuggestFees(ctx context.Context) (evm.Fees, error) {
	args := m.Called(ctx)

	return args.Get(0).(evm.Fees), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, from *identity.Identity, stage string, call governor.Call) (submitter.Result, error) {
	args := m.Called(ctx, from, stage, call)

	return args.Get(0).(submitter.Result), args.Error(1)
}

func newIdentities(t *testing.T, n int) []*identity.Identity {
	t.Helper()

	ids := make([]*identity.Identity, 0, n)
	for i := range n {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		ids = append(ids, identity.FromKey(fmt.Sprintf("member-%d", i), key))
	}

	return ids
}

func voted(gas uint64) submitter.Result {
	return submitter.Result{Record: submitter.Record{Stage: StageVote, GasUsed: gas, Status: 1}}
}

func castVote(*identity.Identity) (governor.Call, error) {
	return governor.CastVoteCall(testGovernor, big.NewInt(1), 1)
}

func expectCall(t *testing.T) governor.Call {
	t.Helper()

	call, err := governor.CastVoteCall(testGovernor, big.NewInt(1), 1)
	require.NoError(t, err)

	return call
}

func assertCounts(t *testing.T, b Ballot, tally Tally) {
	t.Helper()

	assert.Equal(t, len(b.Voters)+len(b.Decisive)-tally.Skipped-tally.Failed, tally.Voted)
	assert.Len(t, tally.Records, tally.Voted)
}

var (
	rich = big.NewInt(1e18)
	poor = big.NewInt(10)
)

func TestCoordinator_CastVotes(t *testing.T) {
	t.Parallel()

	simReject := &evm.SimulationError{Reason: "Governor: vote not currently active"}

	tests := []struct {
		name string
		// setup registers expectations for voters v and decisive d.
		setup       func(ch *mockChain, s *mockSender, v, d []*identity.Identity)
		giveVoters  int
		giveDecide  int
		wantStatus  []Status
		wantGas     uint64
		wantErr     error
		wantErrText string
	}{
		{
			name:       "every identity votes",
			giveVoters: 3,
			giveDecide: 1,
			setup: func(ch *mockChain, s *mockSender, v, d []*identity.Identity) {
				ch.On("Balance", mock.Anything, mock.Anything).Return(rich, nil)
				s.On("Send", mock.Anything, mock.Anything, StageVote, mock.Anything).Return(voted(50_000), nil)
			},
			wantStatus: []Status{StatusVoted, StatusVoted, StatusVoted, StatusVoted},
			wantGas:    200_000,
		},
		{
			name:       "low balance is a skip",
			giveVoters: 3,
			setup: func(ch *mockChain, s *mockSender, v, d []*identity.Identity) {
				ch.On("Balance", mock.Anything, v[0].Address).Return(rich, nil)
				ch.On("Balance", mock.Anything, v[1].Address).Return(poor, nil)
				ch.On("Balance", mock.Anything, v[2].Address).Return(rich, nil)
				s.On("Send", mock.Anything, v[0], StageVote, mock.Anything).Return(voted(40_000), nil)
				s.On("Send", mock.Anything, v[2], StageVote, mock.Anything).Return(voted(41_000), nil)
			},
			wantStatus: []Status{StatusVoted, StatusSkipped, StatusVoted},
			wantGas:    81_000,
		},
		{
			name:       "insufficient balance at submission is a skip",
			giveVoters: 2,
			setup: func(ch *mockChain, s *mockSender, v, d []*identity.Identity) {
				ch.On("Balance", mock.Anything, mock.Anything).Return(rich, nil)
				s.On("Send", mock.Anything, v[0], StageVote, mock.Anything).
					Return(submitter.Result{}, &submitter.InsufficientBalanceError{Account: v[0].Address, Balance: poor, Required: rich})
				s.On("Send", mock.Anything, v[1], StageVote, mock.Anything).Return(voted(40_000), nil)
			},
			wantStatus: []Status{StatusSkipped, StatusVoted},
			wantGas:    40_000,
		},
		{
			name:       "failures are counted and voting continues",
			giveVoters: 3,
			setup: func(ch *mockChain, s *mockSender, v, d []*identity.Identity) {
				ch.On("Balance", mock.Anything, v[0].Address).Return((*big.Int)(nil), errors.New("connection refused"))
				ch.On("Balance", mock.Anything, mock.Anything).Return(rich, nil)
				s.On("Send", mock.Anything, v[1], StageVote, mock.Anything).Return(submitter.Result{}, simReject)
				s.On("Send", mock.Anything, v[2], StageVote, mock.Anything).Return(voted(40_000), nil)
			},
			wantStatus: []Status{StatusFailed, StatusFailed, StatusVoted},
			wantGas:    40_000,
		},
		{
			name:       "decisive simulation rejection aborts",
			giveVoters: 1,
			giveDecide: 2,
			setup: func(ch *mockChain, s *mockSender, v, d []*identity.Identity) {
				ch.On("Balance", mock.Anything, mock.Anything).Return(rich, nil)
				s.On("Send", mock.Anything, v[0], StageVote, mock.Anything).Return(voted(40_000), nil)
				s.On("Send", mock.Anything, d[0], StageVote, mock.Anything).Return(submitter.Result{}, simReject)
			},
			wantStatus:  []Status{StatusVoted, StatusFailed},
			wantGas:     40_000,
			wantErr:     ErrQuorumUnreachable,
			wantErrText: "decisive vote of decisive-0",
		},
		{
			name:       "decisive revert on chain is a failure",
			giveVoters: 1,
			giveDecide: 1,
			setup: func(ch *mockChain, s *mockSender, v, d []*identity.Identity) {
				ch.On("Balance", mock.Anything, mock.Anything).Return(rich, nil)
				s.On("Send", mock.Anything, v[0], StageVote, mock.Anything).Return(voted(40_000), nil)
				s.On("Send", mock.Anything, d[0], StageVote, mock.Anything).
					Return(submitter.Result{}, &submitter.OnChainRevertError{Reason: "out of gas"})
			},
			wantStatus: []Status{StatusVoted, StatusFailed},
			wantGas:    40_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			voters := newIdentities(t, tt.giveVoters)
			decisive := newIdentities(t, tt.giveDecide)
			for i, d := range decisive {
				d.Label = fmt.Sprintf("decisive-%d", i)
			}

			ch, s := &mockChain{}, &mockSender{}
			tt.setup(ch, s, voters, decisive)

			c := NewCoordinator(logger.Test(t), s, ch, Config{MinBalance: big.NewInt(1000)})
			b := Ballot{ProposalID: big.NewInt(1), Voters: voters, Decisive: decisive, VoteCall: castVote}
			tally, err := c.CastVotes(context.Background(), b)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorContains(t, err, tt.wantErrText)
				var simErr *submitter.SimulationError
				require.ErrorAs(t, err, &simErr)
			} else {
				require.NoError(t, err)
				assertCounts(t, b, tally)
			}

			statuses := make([]Status, 0, len(tally.Outcomes))
			for _, o := range tally.Outcomes {
				statuses = append(statuses, o.Status)
			}
			assert.Equal(t, tt.wantStatus, statuses)
			assert.Equal(t, tt.wantGas, tally.TotalGas)
			s.AssertExpectations(t)
		})
	}
}

func TestCoordinator_skippedVoterIsNeverSent(t *testing.T) {
	t.Parallel()

	voters := newIdentities(t, 1)
	ch, s := &mockChain{}, &mockSender{}
	ch.On("Balance", mock.Anything, voters[0].Address).Return(poor, nil)

	c := NewCoordinator(logger.Test(t), s, ch, Config{MinBalance: big.NewInt(1000)})
	tally, err := c.CastVotes(context.Background(), Ballot{ProposalID: big.NewInt(1), Voters: voters, VoteCall: castVote})
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Skipped)
	assert.Equal(t, 0, tally.Voted)
	s.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_thresholdFromGasPrice(t *testing.T) {
	t.Parallel()

	voters := newIdentities(t, 2)
	ch, s := &mockChain{}, &mockSender{}
	// 500000 gas at 10 wei is 5000000 wei.
	ch.On("SuggestFees", mock.Anything).Return(evm.Fees{TipCap: big.NewInt(1), FeeCap: big.NewInt(10)}, nil)
	ch.On("Balance", mock.Anything, voters[0].Address).Return(big.NewInt(4_999_999), nil)
	ch.On("Balance", mock.Anything, voters[1].Address).Return(big.NewInt(5_000_000), nil)
	s.On("Send", mock.Anything, voters[1], StageVote, expectCall(t)).Return(voted(1), nil)

	c := NewCoordinator(logger.Test(t), s, ch, Config{})
	tally, err := c.CastVotes(context.Background(), Ballot{ProposalID: big.NewInt(1), Voters: voters, VoteCall: castVote})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, tally.Outcomes[0].Status)
	assert.Equal(t, StatusVoted, tally.Outcomes[1].Status)
	ch.AssertExpectations(t)
	s.AssertExpectations(t)

	ch2 := &mockChain{}
	ch2.On("SuggestFees", mock.Anything).Return(evm.Fees{}, errors.New("boom"))
	_, err = NewCoordinator(logger.Nop(), s, ch2, Config{}).CastVotes(context.Background(),
		Ballot{ProposalID: big.NewInt(1), Voters: voters, VoteCall: castVote})
	require.ErrorContains(t, err, "failed to price votes")
}

func TestCoordinator_concurrentOrderIsStable(t *testing.T) {
	t.Parallel()

	voters := newIdentities(t, 12)
	ch, s := &mockChain{}, &mockSender{}
	ch.On("Balance", mock.Anything, mock.Anything).Return(rich, nil)
	for i, v := range voters {
		s.On("Send", mock.Anything, v, StageVote, mock.Anything).Return(voted(uint64(1000+i)), nil)
	}

	c := NewCoordinator(logger.Test(t), s, ch, Config{Concurrency: 4, MinBalance: big.NewInt(1)})
	b := Ballot{ProposalID: big.NewInt(1), Voters: voters, VoteCall: castVote}
	tally, err := c.CastVotes(context.Background(), b)
	require.NoError(t, err)
	assertCounts(t, b, tally)

	require.Len(t, tally.Outcomes, 12)
	for i, o := range tally.Outcomes {
		assert.Same(t, voters[i], o.Voter)
		assert.Equal(t, uint64(1000+i), o.Record.GasUsed)
	}
}

func TestCoordinator_cancelled(t *testing.T) {
	t.Parallel()

	voters := newIdentities(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCoordinator(logger.Test(t), &mockSender{}, &mockChain{}, Config{MinBalance: big.NewInt(1)})
	_, err := c.CastVotes(ctx, Ballot{ProposalID: big.NewInt(1), Voters: voters, VoteCall: castVote})
	require.ErrorIs(t, err, context.Canceled)

	_, err = c.CastVotes(context.Background(), Ballot{Voters: voters})
	require.ErrorContains(t, err, "no vote encoder")
}

func TestCoordinator_cancelledKeepsConfirmedVotes(t *testing.T) {
	t.Parallel()

	voters := newIdentities(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, s := &mockChain{}, &mockSender{}
	ch.On("Balance", mock.Anything, mock.Anything).Return(rich, nil)
	s.On("Send", mock.Anything, voters[0], StageVote, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(voted(21000), nil)

	c := NewCoordinator(logger.Test(t), s, ch, Config{Concurrency: 1, MinBalance: big.NewInt(1)})
	tally, err := c.CastVotes(ctx, Ballot{ProposalID: big.NewInt(1), Voters: voters, VoteCall: castVote})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, tally.Voted)
	require.Len(t, tally.Records, 1)
	assert.Equal(t, uint64(21000), tally.Records[0].GasUsed)
	require.Len(t, tally.Outcomes, 1)
	assert.Same(t, voters[0], tally.Outcomes[0].Voter)
	s.AssertNumberOfCalls(t, "Send", 1)
}
