package governor

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	value common.Hash
	err   error
	block *big.Int
}

func (f *fakeStorage) StorageAt(_ context.Context, _ common.Address, _ common.Hash, block *big.Int) (common.Hash, error) {
	f.block = block

	return f.value, f.err
}

func createdLog(t *testing.T, contract common.Address, id int64) *types.Log {
	t.Helper()

	created := GovernorABI.Events["ProposalCreated"]
	data, err := created.Inputs.Pack(
		big.NewInt(id),
		testRecipient,
		[]common.Address{testTreasury},
		[]*big.Int{big.NewInt(0)},
		[]string{""},
		[][]byte{{0x01}},
		big.NewInt(10),
		big.NewInt(20),
		"created",
	)
	require.NoError(t, err)

	return &types.Log{Address: contract, Topics: []common.Hash{created.ID}, Data: data}
}

func TestDiscoverProposalID(t *testing.T) {
	t.Parallel()

	otherContract := common.HexToAddress("0x00000000000000000000000000000000000000d4")
	indexedTopic := common.HexToHash("0x1234")

	tests := []struct {
		name         string
		give         func(t *testing.T) Discovery
		giveOrder    []Strategy
		want         int64
		wantStrategy Strategy
		wantErr      string
	}{
		{
			name: "return value",
			give: func(*testing.T) Discovery {
				return Discovery{SimulatedReturn: common.BigToHash(big.NewInt(7)).Bytes()}
			},
			giveOrder:    []Strategy{StrategyReturnValue},
			want:         7,
			wantStrategy: StrategyReturnValue,
		},
		{
			name: "zero return value falls through to the event",
			give: func(t *testing.T) Discovery {
				return Discovery{
					Contract:        testGovernor,
					SimulatedReturn: make([]byte, 32),
					Receipt:         &types.Receipt{Logs: []*types.Log{createdLog(t, testGovernor, 11)}},
				}
			},
			giveOrder:    []Strategy{StrategyReturnValue, StrategyEvent},
			want:         11,
			wantStrategy: StrategyEvent,
		},
		{
			name: "event from another contract is ignored",
			give: func(t *testing.T) Discovery {
				return Discovery{
					Contract: testGovernor,
					Receipt: &types.Receipt{Logs: []*types.Log{
						createdLog(t, otherContract, 1),
						{Address: testGovernor, Topics: []common.Hash{indexedTopic, common.BigToHash(big.NewInt(9))}},
					}},
				}
			},
			giveOrder:    []Strategy{StrategyEvent},
			want:         9,
			wantStrategy: StrategyEvent,
		},
		{
			name: "storage slot at the receipt block",
			give: func(*testing.T) Discovery {
				return Discovery{
					Contract: testGovernor,
					Receipt:  &types.Receipt{BlockNumber: big.NewInt(55)},
					Storage:  &fakeStorage{value: common.BigToHash(big.NewInt(3))},
					Slot:     common.BigToHash(big.NewInt(3)),
				}
			},
			giveOrder:    []Strategy{StrategyStorage},
			want:         3,
			wantStrategy: StrategyStorage,
		},
		{
			name: "hash view",
			give: func(t *testing.T) Discovery {
				caller := &fakeCaller{parsed: GovernorABI, results: map[string][]any{"hashProposal": {big.NewInt(99)}}}

				return Discovery{Governor: NewGovernor(testGovernor, caller), Ref: testRef(t, "hash")}
			},
			giveOrder:    []Strategy{StrategyHash, StrategyEvent},
			want:         99,
			wantStrategy: StrategyHash,
		},
		{
			name: "every strategy fails",
			give: func(*testing.T) Discovery {
				return Discovery{
					Contract: testGovernor,
					Receipt:  &types.Receipt{BlockNumber: big.NewInt(1)},
					Storage:  &fakeStorage{err: errors.New("missing trie node")},
				}
			},
			giveOrder: []Strategy{StrategyReturnValue, StrategyHash, StrategyEvent, StrategyStorage},
			wantErr:   "missing trie node",
		},
		{
			name:    "no strategies",
			give:    func(*testing.T) Discovery { return Discovery{} },
			wantErr: "no discovery strategies given",
		},
		{
			name:      "unknown strategy",
			give:      func(*testing.T) Discovery { return Discovery{} },
			giveOrder: []Strategy{"guess"},
			wantErr:   `unknown strategy "guess"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, strategy, err := DiscoverProposalID(context.Background(), tt.give(t), tt.giveOrder...)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, id.Int64())
			assert.Equal(t, tt.wantStrategy, strategy)
		})
	}
}

func TestDiscoverProposalID_storageReadsReceiptBlock(t *testing.T) {
	t.Parallel()

	storage := &fakeStorage{value: common.BigToHash(big.NewInt(1))}
	_, _, err := DiscoverProposalID(context.Background(), Discovery{
		Contract: testGovernor,
		Receipt:  &types.Receipt{BlockNumber: big.NewInt(55)},
		Storage:  storage,
	}, StrategyStorage)
	require.NoError(t, err)
	assert.Equal(t, int64(55), storage.block.Int64())

	_, _, err = DiscoverProposalID(context.Background(), Discovery{}, StrategyEvent, StrategyStorage)
	require.ErrorIs(t, err, ErrProposalIDNotFound)
}

func TestStrategy_Valid(t *testing.T) {
	t.Parallel()

	for _, s := range []Strategy{StrategyReturnValue, StrategyHash, StrategyEvent, StrategyStorage} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Strategy("guess").Valid())
}
