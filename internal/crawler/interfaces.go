package crawler

import (
	"context"
	"time"
)

// Store is the persistence gateway for catalog entries, story details and
// chapter image sets. Upserts stamp updated_at and set created_at on first
// insert only.
type Store interface {
	UpsertCatalogEntries(ctx context.Context, entries []CatalogEntry) error
	GetCatalog(ctx context.Context, limit, offset int) ([]CatalogEntry, error)
	SearchCatalog(ctx context.Context, query string, limit int) ([]CatalogEntry, error)
	UpsertStoryDetail(ctx context.Context, detail StoryDetail) error
	GetStoryDetail(ctx context.Context, mangaID string) (StoryDetail, error)
	UpsertChapterImages(ctx context.Context, set ChapterImageSet) error
	// GetChapterImages returns ErrNotFound when no set exists for the key.
	GetChapterImages(ctx context.Context, mangaID, chapterID string) (ChapterImageSet, error)
	ListDownloadedChapterIDs(ctx context.Context, mangaID string) ([]string, error)
	GetDownloadStatus(ctx context.Context, mangaID string) (DownloadStatus, error)
}

// ImageHost relays image bytes to durable storage. Paths are deterministic
// and re-uploading the same path replaces its content.
type ImageHost interface {
	Upload(ctx context.Context, data []byte, folder, fileName string) (string, error)
}

// Strategy retrieves rendered HTML plus session state for a URL.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) (Page, error)
}

// Prober is implemented by strategies that depend on an external service
// whose availability is checked once at startup.
type Prober interface {
	Probe(ctx context.Context) error
}

// PageFetcher is what the orchestrator sees: one call, one page.
type PageFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (Page, error)
}

// Downloader fetches binary content with a page's session state.
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest) (Download, error)
}

// ChallengeDetector recognizes anti-bot interstitials.
type ChallengeDetector interface {
	IsChallenge(html string) bool
}

// Publisher pushes chapter events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// JobStore persists background job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
