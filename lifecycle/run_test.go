package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/govbench/submitter"
)

func TestRun_advance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		give        []Stage
		wantStage   Stage
		wantHistory []Stage
		wantErr     bool
	}{
		{
			name:        "forward",
			give:        []Stage{StageProposed, StageAwaitingWindow},
			wantStage:   StageAwaitingWindow,
			wantHistory: []Stage{StageCreated, StageProposed, StageAwaitingWindow},
		},
		{
			name:        "skipping stages",
			give:        []Stage{StageVoting, StageResolved, StageExecuted},
			wantStage:   StageExecuted,
			wantHistory: []Stage{StageCreated, StageVoting, StageResolved, StageExecuted},
		},
		{
			name:        "same stage",
			give:        []Stage{StageProposed, StageProposed},
			wantStage:   StageProposed,
			wantHistory: []Stage{StageCreated, StageProposed},
			wantErr:     true,
		},
		{
			name:        "backward",
			give:        []Stage{StageQueued, StageResolved},
			wantStage:   StageQueued,
			wantHistory: []Stage{StageCreated, StageQueued},
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			run := NewRun("r", VariantTimelock, nil)
			err := run.advance(tt.give...)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBackwardTransition)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStage, run.Stage)
			assert.Equal(t, tt.wantHistory, run.History)
		})
	}
}

func TestRun_records(t *testing.T) {
	t.Parallel()

	run := NewRun("r", VariantInline, nil)
	run.record(
		submitter.Record{Stage: StepPropose, GasUsed: 300000},
		submitter.Record{Stage: StepVote, GasUsed: 60000},
		submitter.Record{Stage: StepVote, GasUsed: 55000},
	)

	assert.Len(t, run.RecordsFor(StepVote), 2)
	assert.Equal(t, uint64(115000), run.GasFor(StepVote))
	assert.Equal(t, uint64(300000), run.GasFor(StepPropose))
	assert.Zero(t, run.GasFor(StepQueue))
	assert.Equal(t, PathImmediate, run.Path)
	assert.NotEmpty(t, run.ID)
	assert.NotEqual(t, run.ID, NewRun("r", VariantInline, nil).ID)
}

func TestStage_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AwaitingDelay", StageAwaitingDelay.String())
	assert.Equal(t, "Stage(12)", Stage(12).String())

	b, err := StageResolved.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Resolved", string(b))
}

func TestScenario_defaults(t *testing.T) {
	t.Parallel()

	sc := testScenario(t, VariantInline)
	assert.Equal(t, VariantInline.DefaultStrategies(), sc.strategies())
	assert.Equal(t, DefaultProposalIDSlot, sc.slot())

	sc.Voters = append(sc.Voters, sc.Proposer, sc.Decisive[0])
	assert.Len(t, sc.participants(), 4)
	assert.Equal(t, sc.Proposer, sc.participants()[0])
}
