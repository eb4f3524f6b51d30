// Package manga composes fetching, extraction, chapter inference and image
// relay into the crawl operations exposed by the CLI, the API and the job
// workers.
package manga

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/manga-crawler/internal/chapters"
	"github.com/JakeFAU/manga-crawler/internal/crawler"
	"github.com/JakeFAU/manga-crawler/internal/extract"
)

// maxReportedErrors caps the per-chapter errors kept by DownloadAll.
const maxReportedErrors = 10

// Config locates stories on the site.
type Config struct {
	BaseURL     string
	StoryPath   string
	RelayCovers bool
	Timeout     time.Duration
}

// ImageResolver materializes chapters and relays cover images.
type ImageResolver interface {
	Materialize(ctx context.Context, mangaID, chapterID, chapterURL string) (crawler.ChapterImageSet, error)
	RelayCover(ctx context.Context, page crawler.Page, mangaID, thumbnailURL string) string
}

// DownloadSummary reports a DownloadAll run.
type DownloadSummary struct {
	MangaID    string   `json:"manga_id"`
	Total      int      `json:"total"`
	Downloaded int      `json:"downloaded"`
	Errors     []string `json:"errors,omitempty"`
}

// Service runs crawl operations. Operations that touch the fetch backends
// hold a single lock, so a browser session is never shared by two in-flight
// operations. Reads go straight to the store.
type Service struct {
	cfg        Config
	base       *url.URL
	store      crawler.Store
	fetcher    crawler.PageFetcher
	extractor  *extract.Extractor
	inferencer *chapters.Inferencer
	images     ImageResolver
	logger     *zap.Logger

	mu sync.Mutex
}

// New builds a Service.
func New(
	cfg Config,
	store crawler.Store,
	fetcher crawler.PageFetcher,
	extractor *extract.Extractor,
	inferencer *chapters.Inferencer,
	images ImageResolver,
	logger *zap.Logger,
) (*Service, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	switch {
	case store == nil:
		return nil, errors.New("manga: store is required")
	case fetcher == nil:
		return nil, errors.New("manga: fetcher is required")
	case inferencer == nil:
		return nil, errors.New("manga: chapter inferencer is required")
	case images == nil:
		return nil, errors.New("manga: image resolver is required")
	}
	if extractor == nil {
		extractor = extract.New(extract.DefaultSelectors())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:        cfg,
		base:       base,
		store:      store,
		fetcher:    fetcher,
		extractor:  extractor,
		inferencer: inferencer,
		images:     images,
		logger:     logger,
	}, nil
}

// StoryURL is the canonical page of a story.
func (s *Service) StoryURL(mangaID string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + strings.Trim(s.cfg.StoryPath, "/") + "/" + mangaID
}

// ChapterURL is the canonical page of a chapter.
func (s *Service) ChapterURL(mangaID, chapterID string) string {
	return s.StoryURL(mangaID) + "/" + chapterID
}

// RefreshCatalog crawls the home page and upserts every listed story.
func (s *Service) RefreshCatalog(ctx context.Context) ([]crawler.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	home := s.base.Scheme + "://" + s.base.Host + "/"
	page, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: home, Timeout: s.cfg.Timeout, LazyLoad: true})
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}

	drafts := s.extractor.Catalog(page.HTML)
	entries := make([]crawler.CatalogEntry, 0, len(drafts))
	seen := make(map[string]struct{}, len(drafts))
	for _, d := range drafts {
		link := extract.Absolute(s.base, d.URL)
		id := extract.Slug(link)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		thumb := d.ThumbnailURL
		if s.cfg.RelayCovers {
			thumb = s.images.RelayCover(ctx, page, id, thumb)
		}
		entries = append(entries, crawler.CatalogEntry{
			ID:            id,
			Title:         d.Title,
			SourceURL:     link,
			ThumbnailURL:  thumb,
			LatestChapter: d.LatestChapter,
		})
	}
	if err := s.store.UpsertCatalogEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("persist catalog: %w", err)
	}
	s.logger.Info("catalog refreshed", zap.Int("entries", len(entries)), zap.String("strategy", page.Strategy))
	return entries, nil
}

// RefreshStory crawls a story page, infers its chapter range and replaces
// the stored detail.
func (s *Service) RefreshStory(ctx context.Context, mangaID string) (crawler.StoryDetail, error) {
	if err := validID(mangaID); err != nil {
		return crawler.StoryDetail{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshStoryLocked(ctx, mangaID)
}

func (s *Service) refreshStoryLocked(ctx context.Context, mangaID string) (crawler.StoryDetail, error) {
	logger := s.logger.With(zap.String("manga_id", mangaID))
	page, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: s.StoryURL(mangaID), Timeout: s.cfg.Timeout})
	if err != nil {
		return crawler.StoryDetail{}, fmt.Errorf("fetch story %s: %w", mangaID, err)
	}

	draft := s.extractor.StoryDetail(page.HTML)
	result := s.inferencer.Infer(draft.Rows)
	thumb := draft.ThumbnailURL
	if s.cfg.RelayCovers {
		thumb = s.images.RelayCover(ctx, page, mangaID, thumb)
	}
	detail := crawler.StoryDetail{
		ID:            mangaID,
		Title:         draft.Title,
		Description:   draft.Description,
		ThumbnailURL:  thumb,
		Author:        draft.Author,
		Status:        draft.Status,
		Genres:        draft.Genres,
		Chapters:      result.Chapters,
		TotalChapters: len(result.Chapters),
	}
	if err := s.store.UpsertStoryDetail(ctx, detail); err != nil {
		return crawler.StoryDetail{}, fmt.Errorf("persist story %s: %w", mangaID, err)
	}
	fields := []zap.Field{
		zap.Int("chapters", detail.TotalChapters),
		zap.Int("visible_rows", len(draft.Rows)),
		zap.String("strategy", page.Strategy),
	}
	if result.Pattern != nil {
		fields = append(fields, zap.Int("max_chapter", result.Max), zap.String("chapter_prefix", result.Pattern.Prefix))
	}
	logger.Info("story refreshed", fields...)
	return detail, nil
}

// Story returns the stored detail, crawling the story on a miss.
func (s *Service) Story(ctx context.Context, mangaID string) (crawler.StoryDetail, error) {
	if err := validID(mangaID); err != nil {
		return crawler.StoryDetail{}, err
	}
	detail, err := s.store.GetStoryDetail(ctx, mangaID)
	if err == nil {
		return detail, nil
	}
	if !errors.Is(err, crawler.ErrNotFound) {
		return crawler.StoryDetail{}, fmt.Errorf("load story %s: %w", mangaID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have crawled it while we waited.
	if detail, err := s.store.GetStoryDetail(ctx, mangaID); err == nil {
		return detail, nil
	}
	return s.refreshStoryLocked(ctx, mangaID)
}

// MaterializeChapter relays a chapter's images unless they are already
// stored. An empty chapterURL uses the canonical chapter URL.
func (s *Service) MaterializeChapter(ctx context.Context, mangaID, chapterID, chapterURL string) (crawler.ChapterImageSet, error) {
	if err := validID(mangaID); err != nil {
		return crawler.ChapterImageSet{}, err
	}
	if err := validID(chapterID); err != nil {
		return crawler.ChapterImageSet{}, err
	}
	if chapterURL == "" {
		chapterURL = s.ChapterURL(mangaID, chapterID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images.Materialize(ctx, mangaID, chapterID, chapterURL)
}

// DownloadAll materializes every chapter of a story in listed order.
// Chapter failures are collected and do not stop the run; cancellation does.
func (s *Service) DownloadAll(ctx context.Context, mangaID string) (DownloadSummary, error) {
	detail, err := s.Story(ctx, mangaID)
	if err != nil {
		return DownloadSummary{}, err
	}
	summary := DownloadSummary{MangaID: mangaID, Total: len(detail.Chapters)}
	for _, ch := range detail.Chapters {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		set, err := s.MaterializeChapter(ctx, mangaID, ch.ID, ch.URL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			s.logger.Warn("chapter download failed",
				zap.String("manga_id", mangaID), zap.String("chapter_id", ch.ID), zap.Error(err))
			if len(summary.Errors) < maxReportedErrors {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", ch.ID, err))
			}
			continue
		}
		if len(set.Images) > 0 {
			summary.Downloaded++
		}
	}
	s.logger.Info("download all finished",
		zap.String("manga_id", mangaID),
		zap.Int("total", summary.Total),
		zap.Int("downloaded", summary.Downloaded),
	)
	return summary, nil
}

// Catalog lists stored entries, most recently updated first.
func (s *Service) Catalog(ctx context.Context, limit, offset int) ([]crawler.CatalogEntry, error) {
	return s.store.GetCatalog(ctx, limit, offset)
}

// SearchCatalog matches stored titles case-insensitively.
func (s *Service) SearchCatalog(ctx context.Context, query string, limit int) ([]crawler.CatalogEntry, error) {
	return s.store.SearchCatalog(ctx, query, limit)
}

// ChapterImages returns the stored images of a chapter.
func (s *Service) ChapterImages(ctx context.Context, mangaID, chapterID string) (crawler.ChapterImageSet, error) {
	return s.store.GetChapterImages(ctx, mangaID, chapterID)
}

// DownloadedChapters lists the materialized chapter ids of a story.
func (s *Service) DownloadedChapters(ctx context.Context, mangaID string) ([]string, error) {
	return s.store.ListDownloadedChapterIDs(ctx, mangaID)
}

// DownloadStatus reports how much of a story is materialized.
func (s *Service) DownloadStatus(ctx context.Context, mangaID string) (crawler.DownloadStatus, error) {
	return s.store.GetDownloadStatus(ctx, mangaID)
}

// ErrInvalidID is returned for ids that cannot be a single URL path segment.
var ErrInvalidID = errors.New("invalid id")

func validID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/\\?#") || id == "." || id == ".." {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}
