package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
)

type chapterKey struct {
	mangaID   string
	chapterID string
}

// Store is an in-memory persistence gateway.
type Store struct {
	mu       sync.RWMutex
	catalog  map[string]crawler.CatalogEntry
	details  map[string]crawler.StoryDetail
	chapters map[chapterKey]crawler.ChapterImageSet
	now      func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		catalog:  make(map[string]crawler.CatalogEntry),
		details:  make(map[string]crawler.StoryDetail),
		chapters: make(map[chapterKey]crawler.ChapterImageSet),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UpsertCatalogEntries inserts or refreshes catalog rows keyed by ID.
func (s *Store) UpsertCatalogEntries(_ context.Context, entries []crawler.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, entry := range entries {
		if entry.ID == "" {
			return fmt.Errorf("catalog entry %q has no id", entry.Title)
		}
		entry.CreatedAt = now
		if prev, ok := s.catalog[entry.ID]; ok {
			entry.CreatedAt = prev.CreatedAt
		}
		entry.UpdatedAt = now
		s.catalog[entry.ID] = entry
	}
	return nil
}

// GetCatalog lists entries most recently updated first.
func (s *Store) GetCatalog(_ context.Context, limit, offset int) ([]crawler.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.sortedCatalog(), limit, offset), nil
}

// SearchCatalog matches query against titles case-insensitively.
func (s *Store) SearchCatalog(_ context.Context, query string, limit int) ([]crawler.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(query))
	var out []crawler.CatalogEntry
	for _, entry := range s.sortedCatalog() {
		if strings.Contains(strings.ToLower(entry.Title), needle) {
			out = append(out, entry)
		}
	}
	return page(out, limit, 0), nil
}

func (s *Store) sortedCatalog() []crawler.CatalogEntry {
	out := make([]crawler.CatalogEntry, 0, len(s.catalog))
	for _, entry := range s.catalog {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func page(entries []crawler.CatalogEntry, limit, offset int) []crawler.CatalogEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []crawler.CatalogEntry{}
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// UpsertStoryDetail replaces the detail record for a story wholesale.
func (s *Store) UpsertStoryDetail(_ context.Context, detail crawler.StoryDetail) error {
	if detail.ID == "" {
		return fmt.Errorf("story detail %q has no id", detail.Title)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	detail = cloneDetail(detail)
	detail.CreatedAt = now
	if prev, ok := s.details[detail.ID]; ok {
		detail.CreatedAt = prev.CreatedAt
	}
	detail.UpdatedAt = now
	s.details[detail.ID] = detail
	return nil
}

// GetStoryDetail returns crawler.ErrNotFound when the story is unknown.
func (s *Store) GetStoryDetail(_ context.Context, mangaID string) (crawler.StoryDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	detail, ok := s.details[mangaID]
	if !ok {
		return crawler.StoryDetail{}, fmt.Errorf("story %s: %w", mangaID, crawler.ErrNotFound)
	}
	return cloneDetail(detail), nil
}

// UpsertChapterImages records the hosted images for a chapter.
func (s *Store) UpsertChapterImages(_ context.Context, set crawler.ChapterImageSet) error {
	if set.MangaID == "" || set.ChapterID == "" {
		return fmt.Errorf("chapter image set needs manga and chapter ids")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chapterKey{mangaID: set.MangaID, chapterID: set.ChapterID}
	now := s.now()
	set.Images = append([]string(nil), set.Images...)
	set.ImageCount = len(set.Images)
	set.CreatedAt = now
	if prev, ok := s.chapters[key]; ok {
		set.CreatedAt = prev.CreatedAt
	}
	set.UpdatedAt = now
	s.chapters[key] = set
	return nil
}

// GetChapterImages returns crawler.ErrNotFound when the chapter has no set.
func (s *Store) GetChapterImages(_ context.Context, mangaID, chapterID string) (crawler.ChapterImageSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.chapters[chapterKey{mangaID: mangaID, chapterID: chapterID}]
	if !ok {
		return crawler.ChapterImageSet{}, fmt.Errorf("chapter %s/%s: %w", mangaID, chapterID, crawler.ErrNotFound)
	}
	set.Images = append([]string(nil), set.Images...)
	return set, nil
}

// ListDownloadedChapterIDs returns the chapters of a story with a non-empty
// image set, sorted by id.
func (s *Store) ListDownloadedChapterIDs(_ context.Context, mangaID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []string{}
	for key, set := range s.chapters {
		if key.mangaID == mangaID && len(set.Images) > 0 {
			ids = append(ids, key.chapterID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetDownloadStatus compares the story's chapter count against the
// materialized chapters.
func (s *Store) GetDownloadStatus(ctx context.Context, mangaID string) (crawler.DownloadStatus, error) {
	total := 0
	detail, err := s.GetStoryDetail(ctx, mangaID)
	switch {
	case err == nil:
		total = detail.TotalChapters
	case !errors.Is(err, crawler.ErrNotFound):
		return crawler.DownloadStatus{}, err
	}
	downloaded, err := s.ListDownloadedChapterIDs(ctx, mangaID)
	if err != nil {
		return crawler.DownloadStatus{}, err
	}
	return crawler.NewDownloadStatus(total, len(downloaded)), nil
}

func cloneDetail(detail crawler.StoryDetail) crawler.StoryDetail {
	detail.Genres = append([]string(nil), detail.Genres...)
	detail.Chapters = append([]crawler.ChapterRef(nil), detail.Chapters...)
	return detail
}
