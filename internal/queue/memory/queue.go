// Package memory provides the in-process job queue shared by the API and the
// background workers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
)

// Queue holds submitted crawl jobs in FIFO order up to a fixed depth.
// Submitters block while it is full. After Close both sides fail with
// crawler.ErrQueueClosed; jobs still buffered are dropped with the process.
type Queue struct {
	items     chan crawler.QueueItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue returns a queue that buffers up to depth jobs.
func NewQueue(depth int) *Queue {
	return &Queue{
		items: make(chan crawler.QueueItem, depth),
		done:  make(chan struct{}),
	}
}

// Enqueue adds a job, waiting for room until ctx ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	select {
	case <-q.done:
		return fmt.Errorf("enqueue job %s: %w", item.JobID, crawler.ErrQueueClosed)
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return fmt.Errorf("enqueue job %s: %w", item.JobID, crawler.ErrQueueClosed)
	case q.items <- item:
		return nil
	}
}

// Dequeue takes the oldest job, waiting until one arrives, ctx ends or the
// queue closes.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.QueueItem{}, crawler.ErrQueueClosed
	case item := <-q.items:
		return item, nil
	}
}

// Close wakes every waiter. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	return len(q.items)
}
