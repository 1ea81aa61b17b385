package backtest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clmmBacktest/internal/pool"
	"clmmBacktest/internal/storage"
)

// Job is one independent run. Seed is cloned, so jobs may share it.
type Job struct {
	Config   Config
	Strategy Strategy
	Seed     *pool.State
	Open     func(ctx context.Context) (storage.Cursor, error)
}

// RunAll executes jobs with at most parallel running at once. Results keep the
// order of jobs; a failed job leaves its partial result in place and cancels the rest.
func RunAll(ctx context.Context, jobs []Job, parallel int, logger *zap.Logger) ([]*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := make([]*Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, job := range jobs {
		g.Go(func() error {
			if job.Seed == nil || job.Open == nil {
				return fmt.Errorf("job %d: missing seed pool or event source", i)
			}
			runner, err := NewRunner(job.Config, job.Seed.Clone(), job.Strategy, logger.With(zap.String("run", job.Config.Name)))
			if err != nil {
				return fmt.Errorf("job %s: %w", job.Config.Name, err)
			}
			cursor, err := job.Open(gctx)
			if err != nil {
				return fmt.Errorf("job %s: open events: %w", job.Config.Name, err)
			}
			res, runErr := runner.Run(gctx, cursor)
			results[i] = res
			if err := cursor.Close(); err != nil {
				runErr = errors.Join(runErr, err)
			}
			if runErr != nil {
				return fmt.Errorf("job %s: %w", job.Config.Name, runErr)
			}
			return nil
		})
	}
	return results, g.Wait()
}
