// Package images resolves the page images of a chapter and relays them to the
// image host.
package images

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
	"github.com/JakeFAU/manga-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/manga-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/manga-crawler/internal/metrics"
)

// Image outcome labels.
const (
	outcomeUploaded       = "uploaded"
	outcomeTooSmall       = "too_small"
	outcomeDownloadFailed = "download_failed"
	outcomeUploadFailed   = "upload_failed"
)

// Chapter outcome labels.
const (
	chapterMaterialized = "materialized"
	chapterCached       = "cached"
	chapterEmpty        = "empty"
	chapterFailed       = "failed"
)

// Config sizes the worker pool and controls naming.
type Config struct {
	Workers      int
	MinBytes     int
	FolderPrefix string
	CoverFolder  string
	// Timeout bounds each page fetch and image download.
	Timeout      time.Duration
	WaitSelector string
	EventTopic   string
}

// Waiter paces downloads per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Observer receives per-chapter progress, e.g. for terminal progress bars.
type Observer interface {
	ChapterStarted(mangaID, chapterID string, total int)
	ImageFinished(mangaID, chapterID string, bytes int, ok bool)
	ChapterFinished(mangaID, chapterID string, hosted int)
}

// Resolver materializes chapter image sets. The worker pool is shared by all
// calls, so the number of in-flight image relays never exceeds Workers.
type Resolver struct {
	cfg        Config
	store      crawler.Store
	fetcher    crawler.PageFetcher
	downloader crawler.Downloader
	host       crawler.ImageHost
	extractor  *extract.Extractor
	pool       *semaphore.Weighted
	limiter    Waiter
	publisher  crawler.Publisher
	observer   Observer
	clock      crawler.Clock
	logger     *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLimiter paces image downloads.
func WithLimiter(w Waiter) Option {
	return func(r *Resolver) { r.limiter = w }
}

// WithPublisher publishes a ChapterEvent after each persisted chapter.
func WithPublisher(p crawler.Publisher) Option {
	return func(r *Resolver) { r.publisher = p }
}

// WithObserver attaches a progress observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithClock overrides the event timestamp source.
func WithClock(c crawler.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a Resolver.
func New(
	cfg Config,
	store crawler.Store,
	fetcher crawler.PageFetcher,
	downloader crawler.Downloader,
	host crawler.ImageHost,
	extractor *extract.Extractor,
	opts ...Option,
) (*Resolver, error) {
	switch {
	case store == nil:
		return nil, errors.New("images: store is required")
	case fetcher == nil:
		return nil, errors.New("images: fetcher is required")
	case downloader == nil:
		return nil, errors.New("images: downloader is required")
	case host == nil:
		return nil, errors.New("images: image host is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 6
	}
	if cfg.MinBytes < 0 {
		cfg.MinBytes = 0
	}
	if cfg.FolderPrefix == "" {
		cfg.FolderPrefix = "manga"
	}
	if cfg.CoverFolder == "" {
		cfg.CoverFolder = path.Join(cfg.FolderPrefix, "covers")
	}
	if extractor == nil {
		extractor = extract.New(extract.DefaultSelectors())
	}
	r := &Resolver{
		cfg:        cfg,
		store:      store,
		fetcher:    fetcher,
		downloader: downloader,
		host:       host,
		extractor:  extractor,
		pool:       semaphore.NewWeighted(int64(cfg.Workers)),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Materialize returns the hosted images of a chapter. An existing non-empty
// set is returned without any network work. A set is persisted only when at
// least one image was hosted; an empty result is returned unpersisted so a
// later call retries.
func (r *Resolver) Materialize(ctx context.Context, mangaID, chapterID, chapterURL string) (crawler.ChapterImageSet, error) {
	logger := r.logger.With(zap.String("manga_id", mangaID), zap.String("chapter_id", chapterID))

	existing, err := r.store.GetChapterImages(ctx, mangaID, chapterID)
	switch {
	case err == nil && len(existing.Images) > 0:
		metrics.ObserveChapter(chapterCached)
		logger.Debug("chapter already materialized", zap.Int("images", len(existing.Images)))
		return existing, nil
	case err != nil && !errors.Is(err, crawler.ErrNotFound):
		metrics.ObserveChapter(chapterFailed)
		return crawler.ChapterImageSet{}, fmt.Errorf("check chapter %s/%s: %w", mangaID, chapterID, err)
	}

	page, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:          chapterURL,
		Timeout:      r.cfg.Timeout,
		LazyLoad:     true,
		WaitSelector: r.cfg.WaitSelector,
	})
	if err != nil {
		metrics.ObserveChapter(chapterFailed)
		return crawler.ChapterImageSet{}, fmt.Errorf("fetch chapter %s/%s: %w", mangaID, chapterID, err)
	}

	empty := crawler.ChapterImageSet{MangaID: mangaID, ChapterID: chapterID, Images: []string{}}
	sources := r.extractor.ChapterImageSources(page.HTML)
	if len(sources) == 0 {
		metrics.ObserveChapter(chapterEmpty)
		logger.Warn("no image sources on chapter page", zap.String("url", page.URL))
		return empty, nil
	}

	target := chapterTarget{
		mangaID:   mangaID,
		chapterID: chapterID,
		folder:    path.Join(r.cfg.FolderPrefix, mangaID, chapterID),
	}
	if r.observer != nil {
		r.observer.ChapterStarted(mangaID, chapterID, len(sources))
	}
	hosted, err := r.relayAll(ctx, logger, page, target, sources)
	if r.observer != nil {
		r.observer.ChapterFinished(mangaID, chapterID, len(hosted))
	}
	if err != nil {
		metrics.ObserveChapter(chapterFailed)
		return crawler.ChapterImageSet{}, fmt.Errorf("relay chapter %s/%s: %w", mangaID, chapterID, err)
	}
	if len(hosted) == 0 {
		metrics.ObserveChapter(chapterEmpty)
		logger.Warn("no images hosted", zap.Int("sources", len(sources)))
		return empty, nil
	}

	set := crawler.ChapterImageSet{
		MangaID:     mangaID,
		ChapterID:   chapterID,
		Images:      hosted,
		ImageCount:  len(hosted),
		SourceCount: len(sources),
		Status:      crawler.ImageSetStatusFor(len(sources), len(hosted)),
	}
	if err := r.store.UpsertChapterImages(ctx, set); err != nil {
		metrics.ObserveChapter(chapterFailed)
		return crawler.ChapterImageSet{}, fmt.Errorf("persist chapter %s/%s: %w", mangaID, chapterID, err)
	}
	metrics.ObserveChapter(chapterMaterialized)
	logger.Info("chapter materialized",
		zap.Int("images", len(hosted)),
		zap.Int("sources", len(sources)),
		zap.String("status", string(set.Status)),
		zap.String("strategy", page.Strategy),
	)
	r.publish(ctx, logger, set, page.Strategy)
	return set, nil
}

type chapterTarget struct {
	mangaID   string
	chapterID string
	folder    string
}

// relayAll downloads and uploads every source through the shared pool. Slots
// are indexed by source position so completion order never reorders pages.
func (r *Resolver) relayAll(
	ctx context.Context,
	logger *zap.Logger,
	page crawler.Page,
	target chapterTarget,
	sources []string,
) ([]string, error) {
	slots := make([]string, len(sources))
	referer := collyfetcher.RefererFor(page.URL)

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		if err := r.pool.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer r.pool.Release(1)
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			slots[i] = r.relayOne(gctx, logger, page, referer, target, i, src)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hosted := make([]string, 0, len(slots))
	for _, u := range slots {
		if u != "" {
			hosted = append(hosted, u)
		}
	}
	return hosted, nil
}

// relayOne returns the hosted URL for one image, or "" when the image was
// skipped. Failures are logged and never abort the chapter.
func (r *Resolver) relayOne(
	ctx context.Context,
	logger *zap.Logger,
	page crawler.Page,
	referer string,
	target chapterTarget,
	index int,
	src string,
) string {
	logger = logger.With(zap.Int("index", index), zap.String("url", src))
	size := 0
	ok := false
	defer func() {
		if r.observer != nil {
			r.observer.ImageFinished(target.mangaID, target.chapterID, size, ok)
		}
	}()

	body, err := r.download(ctx, page, referer, src)
	if err != nil {
		metrics.ObserveImage(src, outcomeDownloadFailed, 0)
		logger.Warn("image download failed", zap.Error(err))
		return ""
	}
	size = len(body)
	if size < r.cfg.MinBytes {
		metrics.ObserveImage(src, outcomeTooSmall, 0)
		logger.Warn("image below minimum size", zap.Int("bytes", size))
		return ""
	}
	hosted, err := r.host.Upload(ctx, body, target.folder, fmt.Sprintf("%03d.jpg", index))
	if err != nil {
		metrics.ObserveImage(src, outcomeUploadFailed, 0)
		logger.Warn("image upload failed", zap.Error(err))
		return ""
	}
	metrics.ObserveImage(src, outcomeUploaded, size)
	ok = true
	return hosted
}

func (r *Resolver) download(ctx context.Context, page crawler.Page, referer, src string) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, src); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	dl, err := r.downloader.Download(ctx, crawler.DownloadRequest{
		URL:       src,
		Referer:   referer,
		UserAgent: page.UserAgent,
		Cookies:   page.Cookies,
		Timeout:   r.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return dl.Body, nil
}

// RelayCover copies a story thumbnail to {cover_folder}/{id}.jpg using the
// session of the page it was found on. The original URL is returned when the
// relay fails.
func (r *Resolver) RelayCover(ctx context.Context, page crawler.Page, mangaID, thumbnailURL string) string {
	if thumbnailURL == "" || mangaID == "" {
		return thumbnailURL
	}
	logger := r.logger.With(zap.String("manga_id", mangaID), zap.String("url", thumbnailURL))
	body, err := r.download(ctx, page, collyfetcher.RefererFor(page.URL), thumbnailURL)
	if err != nil {
		logger.Warn("cover download failed", zap.Error(err))
		return thumbnailURL
	}
	if len(body) < r.cfg.MinBytes {
		logger.Warn("cover below minimum size", zap.Int("bytes", len(body)))
		return thumbnailURL
	}
	hosted, err := r.host.Upload(ctx, body, r.cfg.CoverFolder, mangaID+".jpg")
	if err != nil {
		logger.Warn("cover upload failed", zap.Error(err))
		return thumbnailURL
	}
	return hosted
}

func (r *Resolver) publish(ctx context.Context, logger *zap.Logger, set crawler.ChapterImageSet, strategy string) {
	if r.publisher == nil || r.cfg.EventTopic == "" {
		return
	}
	at := time.Now().UTC()
	if r.clock != nil {
		at = r.clock.Now()
	}
	event := crawler.ChapterEvent{
		MangaID:    set.MangaID,
		ChapterID:  set.ChapterID,
		ImageCount: set.ImageCount,
		Status:     set.Status,
		Strategy:   strategy,
		At:         at,
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.EventTopic, event); err != nil {
		logger.Warn("publish chapter event failed", zap.Error(err))
	}
}
