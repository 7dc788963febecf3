package worker

import (
	"context"
)

// ProgressFunc receives the number of finished jobs after each result
type ProgressFunc func(done, total int)

// BatchProcessor runs a fixed set of jobs on a bounded pool
type BatchProcessor struct {
	concurrency int
	progress    ProgressFunc
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(concurrency int, progress ProgressFunc) *BatchProcessor {
	if progress == nil {
		progress = func(int, int) {}
	}
	return &BatchProcessor{
		concurrency: concurrency,
		progress:    progress,
	}
}

// Process runs every job and returns the results in completion order.
// Jobs are submitted while results are drained so large batches never block.
// When ctx is cancelled, queued jobs are abandoned and the results gathered
// so far are returned with the context error.
func (b *BatchProcessor) Process(ctx context.Context, jobs []Job) ([]Result, error) {
	if len(jobs) == 0 {
		return []Result{}, nil
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	go func() {
		defer pool.Close()
		for _, job := range jobs {
			if !pool.Submit(job) {
				return
			}
		}
	}()

	results := make([]Result, 0, len(jobs))
	for result := range pool.Results() {
		results = append(results, result)
		b.progress(len(results), len(jobs))
	}

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
