package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunBatch renders jobs with at most parallel running at once. A failed job
// does not stop the others; all failures are returned joined.
func RunBatch(ctx context.Context, p *Pipeline, jobs []Job, parallel int, progress ProgressFunc) ([]Result, error) {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]Result, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := p.Run(ctx, job, progress)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("job %s: %w", job.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
