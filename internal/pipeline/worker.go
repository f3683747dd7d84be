package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Job is one event payload to run through the orchestrator.
type Job struct {
	Name    string
	Payload []byte
}

// Worker replays a set of jobs through an Orchestrator with bounded
// concurrency. Each job is an independent invocation.
type Worker struct {
	orch        *Orchestrator
	workerCount int
}

// NewWorker creates a new Worker. workerCount below one runs jobs serially.
func NewWorker(orch *Orchestrator, workerCount int) *Worker {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Worker{orch: orch, workerCount: workerCount}
}

// BatchSummary counts the outcomes of a batch.
type BatchSummary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
}

// ProcessBatch runs every job and returns the results in job order. Failed
// invocations do not stop the batch; only ctx cancellation does.
func (w *Worker) ProcessBatch(ctx context.Context, jobs []Job) ([]*Result, BatchSummary, error) {
	results := make([]*Result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workerCount)

	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := w.orch.Handle(gctx, job.Payload)
			results[i] = res
			if err != nil {
				log.Warn().Err(err).Str("job", job.Name).Str("invocation_id", res.InvocationID).Msg("job failed")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, summarize(results), fmt.Errorf("batch interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return results, summarize(results), fmt.Errorf("batch interrupted: %w", err)
	}
	return results, summarize(results), nil
}

func summarize(results []*Result) BatchSummary {
	var s BatchSummary
	for _, res := range results {
		if res == nil {
			continue
		}
		s.Total++
		switch {
		case res.Skipped:
			s.Skipped++
		case res.Success:
			s.Succeeded++
		default:
			s.Failed++
		}
	}
	return s
}
