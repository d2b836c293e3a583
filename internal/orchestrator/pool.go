package orchestrator

import (
	"context"
	"sync"

	"github.com/lucasnoah/modelforge/internal/config"
)

// JobSpec is one compilation request submitted to RunAll.
type JobSpec struct {
	ID      string
	Request *config.Request
}

// JobOutcome pairs a submitted job with its result or error.
type JobOutcome struct {
	ID     string
	Result *Result
	Err    error
}

// RunAll runs the given jobs concurrently, at most the engine's
// max_jobs at a time. Each job gets its own staging scope so jobs
// never share state. Outcomes are returned in submission order.
func (o *Orchestrator) RunAll(ctx context.Context, jobs []JobSpec, vopts config.Options) []JobOutcome {
	limit := o.engine.MaxJobs
	if limit < 1 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	outcomes := make([]JobOutcome, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job JobSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := o.Run(ctx, RunOpts{
				JobID:      job.ID,
				Request:    job.Request,
				Validation: vopts,
			})
			outcomes[i] = JobOutcome{ID: job.ID, Result: res, Err: err}
		}(i, job)
	}
	wg.Wait()

	return outcomes
}
