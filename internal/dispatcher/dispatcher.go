// Package dispatcher accepts crawl jobs and fans queue work out to workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
	"github.com/JakeFAU/manga-crawler/internal/metrics"
	"github.com/JakeFAU/manga-crawler/internal/worker"
)

// Dispatcher records submitted jobs and runs a pool of workers over the
// queue.
type Dispatcher struct {
	queue    crawler.Queue
	workers  []*worker.Worker
	jobStore crawler.JobStore
	ids      crawler.IDGenerator
	clock    crawler.Clock
}

// New creates a Dispatcher.
func New(
	queue crawler.Queue,
	workers []*worker.Worker,
	jobStore crawler.JobStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		workers:  workers,
		jobStore: jobStore,
		ids:      ids,
		clock:    clock,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates params, stores a queued job and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	if err := params.Validate(); err != nil {
		return crawler.Job{}, err
	}
	id, err := d.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.Job{
		ID:         id,
		Status:     crawler.JobStatusQueued,
		Submitted:  d.clock.Now(),
		Parameters: params,
	}
	if err := d.jobStore.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := d.Enqueue(ctx, crawler.QueueItem{JobID: id, Params: params}); err != nil {
		if updateErr := d.jobStore.UpdateJobStatus(
			context.WithoutCancel(ctx), id, crawler.JobStatusFailed, err.Error(), crawler.JobCounters{},
		); updateErr != nil {
			return crawler.Job{}, fmt.Errorf("%w (mark failed: %v)", err, updateErr)
		}
		return crawler.Job{}, err
	}
	metrics.ObserveJob(string(params.Kind), string(crawler.JobStatusQueued))
	return job, nil
}

// Job returns a stored job.
func (d *Dispatcher) Job(ctx context.Context, id string) (crawler.Job, error) {
	return d.jobStore.GetJob(ctx, id)
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
