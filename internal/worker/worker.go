// Package worker executes queued crawl jobs against the manga service.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
	"github.com/JakeFAU/manga-crawler/internal/manga"
	"github.com/JakeFAU/manga-crawler/internal/metrics"
)

// Runner is the subset of the manga service a worker drives.
type Runner interface {
	RefreshCatalog(ctx context.Context) ([]crawler.CatalogEntry, error)
	RefreshStory(ctx context.Context, mangaID string) (crawler.StoryDetail, error)
	MaterializeChapter(ctx context.Context, mangaID, chapterID, chapterURL string) (crawler.ChapterImageSet, error)
	DownloadAll(ctx context.Context, mangaID string) (manga.DownloadSummary, error)
}

// Worker consumes queue items and records each job's outcome.
type Worker struct {
	queue    crawler.Queue
	jobStore crawler.JobStore
	runner   Runner
	logger   *zap.Logger
}

// New constructs a Worker.
func New(queue crawler.Queue, jobStore crawler.JobStore, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		jobStore: jobStore,
		runner:   runner,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("kind", string(item.Params.Kind)))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("kind", string(item.Params.Kind)))
	if w.runner == nil {
		w.finish(ctx, logger, item, crawler.JobStatusFailed, "no runner configured", crawler.JobCounters{})
		return
	}
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	counters, err := w.execute(ctx, item.Params)
	if err != nil {
		logger.Error("job failed", zap.Error(err))
		w.finish(ctx, logger, item, crawler.JobStatusFailed, err.Error(), counters)
		return
	}
	logger.Info("job succeeded", zap.Int("items", counters.Items), zap.Int("succeeded", counters.Succeeded))
	w.finish(ctx, logger, item, crawler.JobStatusSucceeded, "", counters)
}

// execute runs one job. Panics are converted into job failures so one bad
// page cannot take the worker down.
func (w *Worker) execute(ctx context.Context, params crawler.JobParameters) (counters crawler.JobCounters, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if err := params.Validate(); err != nil {
		return counters, err
	}

	switch params.Kind {
	case crawler.JobKindCatalog:
		entries, err := w.runner.RefreshCatalog(ctx)
		if err != nil {
			return counters, err
		}
		counters.Items = len(entries)
		counters.Succeeded = len(entries)
	case crawler.JobKindStory:
		detail, err := w.runner.RefreshStory(ctx, params.MangaID)
		if err != nil {
			return counters, err
		}
		counters.Items = detail.TotalChapters
		counters.Succeeded = detail.TotalChapters
	case crawler.JobKindChapter:
		set, err := w.runner.MaterializeChapter(ctx, params.MangaID, params.ChapterID, params.ChapterURL)
		if err != nil {
			return counters, err
		}
		counters.Items = max(set.SourceCount, len(set.Images))
		counters.Succeeded = len(set.Images)
		counters.Failed = counters.Items - counters.Succeeded
		if len(set.Images) == 0 {
			return counters, errors.New("no images hosted")
		}
	case crawler.JobKindDownloadAll:
		summary, err := w.runner.DownloadAll(ctx, params.MangaID)
		counters.Items = summary.Total
		counters.Succeeded = summary.Downloaded
		counters.Failed = summary.Total - summary.Downloaded
		counters.Errors = summary.Errors
		if err != nil {
			return counters, err
		}
		if summary.Total > 0 && summary.Downloaded == 0 {
			return counters, errors.New("no chapters downloaded")
		}
	}
	return counters, nil
}

func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	item crawler.QueueItem,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) {
	metrics.ObserveJob(string(item.Params.Kind), string(status))
	// Record the outcome even when the job's context was canceled mid-run.
	if err := w.jobStore.UpdateJobStatus(context.WithoutCancel(ctx), item.JobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
}
