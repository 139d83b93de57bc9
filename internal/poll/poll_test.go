package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(doneAt int, err error) (Check[int], *int) {
	n := 0

	return func(context.Context) (int, bool, error) {
		n++
		if err != nil && n == doneAt {
			return 0, false, err
		}

		return n, n >= doneAt, nil
	}, &n
}

func TestUntil(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	tests := []struct {
		name        string
		giveDoneAt  int
		giveErr     error
		giveCeiling time.Duration
		want        int
		wantTimeout bool
		wantErr     error
	}{
		{name: "immediately done", giveDoneAt: 1, giveCeiling: time.Second, want: 1},
		{name: "done after polling", giveDoneAt: 4, giveCeiling: time.Second, want: 4},
		{name: "no ceiling", giveDoneAt: 2, want: 2},
		{name: "check error stops", giveDoneAt: 2, giveErr: errBoom, giveCeiling: time.Second, want: 1, wantErr: errBoom},
		{name: "ceiling passes", giveDoneAt: 1 << 20, giveCeiling: 30 * time.Millisecond, wantTimeout: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			check, calls := counter(tt.giveDoneAt, tt.giveErr)
			got, err := Until(context.Background(), 2*time.Millisecond, tt.giveCeiling, check)

			switch {
			case tt.wantTimeout:
				var timeout *TimeoutError
				require.ErrorAs(t, err, &timeout)
				assert.Equal(t, tt.giveCeiling, timeout.Ceiling)
				assert.Positive(t, timeout.Attempts)
				assert.Equal(t, got, timeout.Last)
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.want, got)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				assert.Equal(t, tt.want, *calls)
			}
		})
	}
}

func TestUntil_parentCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Until(ctx, 2*time.Millisecond, time.Minute, func(context.Context) (string, bool, error) {
		return "pending", false, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	var timeout *TimeoutError
	assert.NotErrorAs(t, err, &timeout)
}

func TestTimeoutError(t *testing.T) {
	t.Parallel()

	err := &TimeoutError{Ceiling: time.Minute, Attempts: 4, Last: "Active"}
	assert.Equal(t, "condition not met after 1m0s (4 checks, last observed Active)", err.Error())
}
