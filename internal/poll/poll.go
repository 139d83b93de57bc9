// Package poll repeats a remote observation until a condition holds.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

// DefaultInterval is used when Until is given a non-positive interval.
const DefaultInterval = 15 * time.Second

var errPending = errors.New("condition not met")

// TimeoutError is returned when the ceiling passes before the condition holds. Last is the final
// observation, or nil when no check completed.
type TimeoutError struct {
	Ceiling  time.Duration
	Attempts uint
	Last     any
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition not met after %s (%d checks, last observed %v)", e.Ceiling, e.Attempts, e.Last)
}

// Check observes the remote state once. It reports the observation and whether the awaited
// condition holds. An error stops polling.
type Check[T any] func(ctx context.Context) (T, bool, error)

// Until runs check every interval until it reports done. A zero ceiling polls until ctx ends.
// The latest observation is returned in every case.
func Until[T any](ctx context.Context, interval, ceiling time.Duration, check Check[T]) (T, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	pctx, cancel := ctx, context.CancelFunc(func() {})
	if ceiling > 0 {
		pctx, cancel = context.WithTimeout(ctx, ceiling)
	}
	defer cancel()

	var (
		last     T
		observed bool
		attempts uint
		checkErr error
	)
	err := retry.Do(func() error {
		v, done, err := check(pctx)
		if err != nil {
			if pctx.Err() != nil {
				return pctx.Err()
			}

			checkErr = err

			return retry.Unrecoverable(err)
		}
		attempts++
		last, observed = v, true
		if !done {
			return errPending
		}

		return nil
	},
		retry.Context(pctx),
		retry.Attempts(0),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return last, nil
	}

	switch {
	case checkErr != nil:
		return last, checkErr
	case ctx.Err() != nil:
		return last, ctx.Err()
	case pctx.Err() != nil:
		timeout := &TimeoutError{Ceiling: ceiling, Attempts: attempts}
		if observed {
			timeout.Last = last
		}

		return last, timeout
	default:
		return last, fmt.Errorf("failed to poll: %w", err)
	}
}
