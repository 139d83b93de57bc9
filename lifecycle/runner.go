package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/smartcontractkit/govbench/pkg/logger"
)

// Executor runs one scenario. *Machine satisfies it.
type Executor interface {
	Execute(ctx context.Context, sc Scenario) (*Run, error)
}

// Observer is notified of every finished run.
type Observer interface {
	Observe(run *Run)
}

// ScenarioFailure records a scenario that did not reach Executed.
type ScenarioFailure struct {
	Label string
	Stage Stage
	Err   error
}

func (e *ScenarioFailure) Error() string {
	return fmt.Sprintf("scenario %s failed in stage %s: %v", e.Label, e.Stage, e.Err)
}

func (e *ScenarioFailure) Unwrap() error {
	return e.Err
}

// Runner executes a list of scenarios.
type Runner struct {
	exec      Executor
	observers []Observer
	parallel  bool
	lggr      logger.Logger

	mu sync.Mutex // serializes observer calls
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObservers registers observers of finished runs.
func WithObservers(obs ...Observer) RunnerOption {
	return func(r *Runner) {
		r.observers = append(r.observers, obs...)
	}
}

// WithParallel runs scenarios concurrently. Scenarios must not share identities or governors.
func WithParallel(parallel bool) RunnerOption {
	return func(r *Runner) {
		r.parallel = parallel
	}
}

// NewRunner builds a runner.
func NewRunner(lggr logger.Logger, exec Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		exec: exec,
		lggr: lggr.Named("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RunAll runs every scenario. A failing scenario does not stop the others. The returned runs
// are in scenario order and omit scenarios that could not start. The error combines every
// ScenarioFailure.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) ([]*Run, error) {
	if r.parallel {
		if err := disjoint(scenarios); err != nil {
			return nil, err
		}
	}

	runs := make([]*Run, len(scenarios))
	errs := make([]error, len(scenarios))

	if r.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, sc := range scenarios {
			g.Go(func() error {
				runs[i], errs[i] = r.runOne(gctx, sc)

				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, sc := range scenarios {
			if ctx.Err() != nil {
				errs[i] = &ScenarioFailure{Label: sc.Label, Stage: StageCreated, Err: ctx.Err()}
				continue
			}
			runs[i], errs[i] = r.runOne(ctx, sc)
		}
	}

	var (
		out    []*Run
		merged error
	)
	for i := range scenarios {
		if runs[i] != nil {
			out = append(out, runs[i])
		}
		merged = multierr.Append(merged, errs[i])
	}

	return out, merged
}

func (r *Runner) runOne(ctx context.Context, sc Scenario) (*Run, error) {
	run, err := r.exec.Execute(ctx, sc)
	if run != nil {
		r.mu.Lock()
		for _, o := range r.observers {
			o.Observe(run)
		}
		r.mu.Unlock()
	}
	if err == nil {
		return run, nil
	}

	stage := StageCreated
	if run != nil {
		stage = run.Stage
	}
	r.lggr.Errorw("Scenario failed", "scenario", sc.Label, "stage", stage, "err", err)

	return run, &ScenarioFailure{Label: sc.Label, Stage: stage, Err: err}
}

// disjoint checks that no identity or governor is used by two scenarios.
func disjoint(scenarios []Scenario) error {
	identities := make(map[common.Address]string)
	governors := make(map[common.Address]string)

	for _, sc := range scenarios {
		if owner, ok := governors[sc.Governor]; ok {
			return fmt.Errorf("scenarios %s and %s share governor %s", owner, sc.Label, sc.Governor.Hex())
		}
		governors[sc.Governor] = sc.Label

		for _, id := range sc.participants() {
			if owner, ok := identities[id.Address]; ok {
				return fmt.Errorf("scenarios %s and %s share identity %s", owner, sc.Label, id)
			}
			identities[id.Address] = sc.Label
		}
	}

	return nil
}
