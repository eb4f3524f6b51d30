// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// CatalogEntry is one story listed on the site's home page.
type CatalogEntry struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	SourceURL     string    `json:"source_url"`
	ThumbnailURL  string    `json:"thumbnail_url"`
	LatestChapter string    `json:"latest_chapter"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChapterRef identifies a chapter of a story. Synthesized refs were generated
// from the inferred numbering pattern rather than read off the listing.
type ChapterRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Synthesized bool   `json:"synthesized,omitempty"`
}

// StoryDetail is the wholesale record for a single story.
type StoryDetail struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	ThumbnailURL  string       `json:"thumbnail_url"`
	Author        string       `json:"author"`
	Status        string       `json:"status"`
	Genres        []string     `json:"genres"`
	Chapters      []ChapterRef `json:"chapters"`
	TotalChapters int          `json:"total_chapters"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ImageSetStatus records whether every source image of a chapter was relayed.
type ImageSetStatus string

// Image set status values.
const (
	ImageSetComplete ImageSetStatus = "complete"
	ImageSetPartial  ImageSetStatus = "partial"
)

// ChapterImageSet is the ordered list of hosted page images for a chapter.
// A non-empty Images slice marks the chapter as materialized.
type ChapterImageSet struct {
	MangaID     string         `json:"manga_id"`
	ChapterID   string         `json:"chapter_id"`
	Images      []string       `json:"images"`
	ImageCount  int            `json:"image_count"`
	SourceCount int            `json:"source_count"`
	Status      ImageSetStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DownloadStatus summarizes how many chapters of a story are materialized.
type DownloadStatus struct {
	Total      int     `json:"total"`
	Downloaded int     `json:"downloaded"`
	Percentage float64 `json:"percentage"`
}

// FetchRequest describes a page retrieval.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
	// LazyLoad asks strategies that render pages to scroll through the
	// document so deferred images are inserted before the DOM is read.
	LazyLoad bool
	// WaitSelector is an optional element the renderer waits for.
	WaitSelector string
}

// Page is the rendered document returned by a fetch strategy together with
// the session state needed to make follow-up requests against the same site.
type Page struct {
	URL        string
	HTML       string
	StatusCode int
	Cookies    []*http.Cookie
	UserAgent  string
	Strategy   string
	FetchedAt  time.Time
}

// DownloadRequest describes a binary download that reuses a page's session.
type DownloadRequest struct {
	URL       string
	Referer   string
	UserAgent string
	Cookies   []*http.Cookie
	Timeout   time.Duration
}

// Download is the result of a binary download.
type Download struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// ChapterEvent is published after a chapter image set is persisted.
type ChapterEvent struct {
	MangaID    string         `json:"manga_id"`
	ChapterID  string         `json:"chapter_id"`
	ImageCount int            `json:"image_count"`
	Status     ImageSetStatus `json:"status"`
	Strategy   string         `json:"strategy"`
	At         time.Time      `json:"at"`
}

// JobStatus represents the lifecycle state of a background crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobKind selects the orchestrator operation a job runs.
type JobKind string

// Supported job kinds.
const (
	JobKindCatalog     JobKind = "catalog"
	JobKindStory       JobKind = "story"
	JobKindChapter     JobKind = "chapter"
	JobKindDownloadAll JobKind = "download_all"
)

// JobParameters carries the operation arguments requested by the client.
type JobParameters struct {
	Kind       JobKind `json:"kind"`
	MangaID    string  `json:"manga_id,omitempty"`
	ChapterID  string  `json:"chapter_id,omitempty"`
	ChapterURL string  `json:"chapter_url,omitempty"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks what a job produced.
type JobCounters struct {
	Items     int      `json:"items"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// QueueItem is the payload placed on the work queue.
type QueueItem struct {
	JobID  string
	Params JobParameters
}

// EventAttributes returns the routing keys of the event.
func (e ChapterEvent) EventAttributes() map[string]string {
	return map[string]string{
		"manga_id":   e.MangaID,
		"chapter_id": e.ChapterID,
		"status":     string(e.Status),
	}
}
