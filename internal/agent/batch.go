package agent

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ontogen/internal/types"
)

// Outcome is the result of one task in a batch.
type Outcome struct {
	Task   Task
	Result Result
	Err    error
}

// SolveAll solves independent tasks concurrently, at most limit at a time
// (limit < 1 means one). Outcomes keep the order of tasks. A failing task
// does not stop the others. Tool learning mutates the graph, so SolveAll
// refuses to run while it is enabled.
func (a *Agent) SolveAll(ctx context.Context, tasks []Task, limit int) ([]Outcome, error) {
	if a.learnTools {
		return nil, types.Errorf(types.KindConfig, "tool learning mutates the graph; solve tasks one at a time")
	}
	if limit < 1 {
		limit = 1
	}

	outcomes := make([]Outcome, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			res, err := a.Solve(gctx, task)
			outcomes[i] = Outcome{Task: task, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	a.logger.Info("batch complete",
		zap.Int("tasks", len(tasks)),
		zap.Int("failed", failed),
		zap.Int("limit", limit))
	return outcomes, ctx.Err()
}
