package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/slopecraft/terrain-cache/internal/catalog"
	"github.com/slopecraft/terrain-cache/internal/core/model"
)

// WarmOptions bounds the precompute worker pool.
type WarmOptions struct {
	MaxWorkers int
	QueueSize  int
}

// WarmResult reports one precompute outcome.
type WarmResult struct {
	RunID    string
	GridSize model.GridSize
	Err      error
}

type warmJob struct {
	run  catalog.Run
	area model.SourceArea
	size model.GridSize
}

// Warm precomputes and caches terrain bundles for the given runs across the
// given grid sizes so they answer IsAvailableOffline afterwards. Individual
// failures are reported per job, not fatal to the batch.
func (p *Pipeline) Warm(ctx context.Context, runs []catalog.Run, areas map[string]model.SourceArea, sizes []model.GridSize, opts WarmOptions) []WarmResult {
	workerN := opts.MaxWorkers
	if workerN <= 0 {
		workerN = 4
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = 32
	}

	jobs := make(chan warmJob, queue)
	results := make(chan WarmResult, len(runs)*len(sizes))

	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				start := time.Now()
				_, err := p.BuildTerrain(ctx, Request{
					RunID:    j.run.ID,
					Boundary: j.run.Boundary,
					Area:     j.area,
					GridSize: j.size,
				})
				if err != nil {
					p.log.Warn("warm failed",
						"run_id", j.run.ID, "grid", j.size.String(), "err", err)
				} else {
					p.log.Debug("warmed",
						"run_id", j.run.ID, "grid", j.size.String(),
						"dur", time.Since(start).String())
				}
				select {
				case results <- WarmResult{RunID: j.run.ID, GridSize: j.size, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	queued := 0
feed:
	for _, run := range runs {
		area, ok := areas[run.SourceAreaID]
		if !ok {
			results <- WarmResult{RunID: run.ID, Err: catalog.ErrAreaNotFound}
			queued++
			continue
		}
		for _, size := range sizes {
			select {
			case jobs <- warmJob{run: run, area: area, size: size}:
				queued++
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]WarmResult, 0, queued)
	for r := range results {
		out = append(out, r)
	}
	return out
}
