// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store persists catalog entries, story details, chapter image sets and jobs.
type Store struct {
	pool pgxIface
	now  func() time.Time
}

// New opens a pgx pool for cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mangas (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	source_url     TEXT NOT NULL DEFAULT '',
	thumbnail_url  TEXT NOT NULL DEFAULT '',
	latest_chapter TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS manga_details (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	thumbnail_url  TEXT NOT NULL DEFAULT '',
	author         TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT '',
	genres         JSONB NOT NULL DEFAULT '[]',
	chapters       JSONB NOT NULL DEFAULT '[]',
	total_chapters INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS chapter_images (
	manga_id     TEXT NOT NULL,
	chapter_id   TEXT NOT NULL,
	images       JSONB NOT NULL DEFAULT '[]',
	image_count  INTEGER NOT NULL DEFAULT 0,
	source_count INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (manga_id, chapter_id)
)`,
	`CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error_text   TEXT NOT NULL DEFAULT '',
	parameters   JSONB NOT NULL,
	counters     JSONB NOT NULL DEFAULT '{}'
)`,
}

// EnsureSchema creates the tables the store reads and writes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const upsertCatalogSQL = `
INSERT INTO mangas (id, title, source_url, thumbnail_url, latest_chapter, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	source_url = EXCLUDED.source_url,
	thumbnail_url = EXCLUDED.thumbnail_url,
	latest_chapter = EXCLUDED.latest_chapter,
	updated_at = EXCLUDED.updated_at`

// UpsertCatalogEntries writes all entries in one transaction.
func (s *Store) UpsertCatalogEntries(ctx context.Context, entries []crawler.CatalogEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin catalog upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	now := s.now()
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("catalog entry %q has no id", e.Title)
		}
		if _, err = tx.Exec(ctx, upsertCatalogSQL, e.ID, e.Title, e.SourceURL, e.ThumbnailURL, e.LatestChapter, now); err != nil {
			return fmt.Errorf("upsert catalog entry %s: %w", e.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit catalog upsert: %w", err)
	}
	return nil
}

const catalogColumns = `id, title, source_url, thumbnail_url, latest_chapter, created_at, updated_at`

// GetCatalog lists entries most recently updated first. A non-positive
// limit returns every row.
func (s *Store) GetCatalog(ctx context.Context, limit, offset int) ([]crawler.CatalogEntry, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+catalogColumns+` FROM mangas ORDER BY updated_at DESC, id LIMIT $1 OFFSET $2`,
		limitArg(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	return scanCatalog(rows)
}

// SearchCatalog matches query against titles case-insensitively.
func (s *Store) SearchCatalog(ctx context.Context, query string, limit int) ([]crawler.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+catalogColumns+` FROM mangas WHERE title ILIKE $1 ORDER BY updated_at DESC, id LIMIT $2`,
		"%"+escapeLike(strings.TrimSpace(query))+"%", limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	return scanCatalog(rows)
}

func scanCatalog(rows pgx.Rows) ([]crawler.CatalogEntry, error) {
	defer rows.Close()
	out := []crawler.CatalogEntry{}
	for rows.Next() {
		var e crawler.CatalogEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.SourceURL, &e.ThumbnailURL, &e.LatestChapter, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return out, nil
}

const upsertDetailSQL = `
INSERT INTO manga_details (id, title, description, thumbnail_url, author, status, genres, chapters, total_chapters, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	thumbnail_url = EXCLUDED.thumbnail_url,
	author = EXCLUDED.author,
	status = EXCLUDED.status,
	genres = EXCLUDED.genres,
	chapters = EXCLUDED.chapters,
	total_chapters = EXCLUDED.total_chapters,
	updated_at = EXCLUDED.updated_at`

// UpsertStoryDetail replaces the detail record for a story wholesale.
func (s *Store) UpsertStoryDetail(ctx context.Context, d crawler.StoryDetail) error {
	if d.ID == "" {
		return fmt.Errorf("story detail %q has no id", d.Title)
	}
	genres, err := marshalList(d.Genres)
	if err != nil {
		return fmt.Errorf("marshal genres: %w", err)
	}
	chapters, err := marshalList(d.Chapters)
	if err != nil {
		return fmt.Errorf("marshal chapters: %w", err)
	}
	_, err = s.pool.Exec(ctx, upsertDetailSQL,
		d.ID, d.Title, d.Description, d.ThumbnailURL, d.Author, d.Status,
		genres, chapters, d.TotalChapters, s.now())
	if err != nil {
		return fmt.Errorf("upsert story detail %s: %w", d.ID, err)
	}
	return nil
}

// GetStoryDetail returns crawler.ErrNotFound when the story is unknown.
func (s *Store) GetStoryDetail(ctx context.Context, mangaID string) (crawler.StoryDetail, error) {
	var (
		d                crawler.StoryDetail
		genres, chapters []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, title, description, thumbnail_url, author, status, genres, chapters, total_chapters, created_at, updated_at
FROM manga_details WHERE id = $1`, mangaID).Scan(
		&d.ID, &d.Title, &d.Description, &d.ThumbnailURL, &d.Author, &d.Status,
		&genres, &chapters, &d.TotalChapters, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.StoryDetail{}, fmt.Errorf("story %s: %w", mangaID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.StoryDetail{}, fmt.Errorf("get story %s: %w", mangaID, err)
	}
	if err := unmarshalList(genres, &d.Genres); err != nil {
		return crawler.StoryDetail{}, fmt.Errorf("decode genres: %w", err)
	}
	if err := unmarshalList(chapters, &d.Chapters); err != nil {
		return crawler.StoryDetail{}, fmt.Errorf("decode chapters: %w", err)
	}
	return d, nil
}

const upsertImagesSQL = `
INSERT INTO chapter_images (manga_id, chapter_id, images, image_count, source_count, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (manga_id, chapter_id) DO UPDATE SET
	images = EXCLUDED.images,
	image_count = EXCLUDED.image_count,
	source_count = EXCLUDED.source_count,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`

// UpsertChapterImages records the hosted images for a chapter.
func (s *Store) UpsertChapterImages(ctx context.Context, set crawler.ChapterImageSet) error {
	if set.MangaID == "" || set.ChapterID == "" {
		return fmt.Errorf("chapter image set needs manga and chapter ids")
	}
	images, err := marshalList(set.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	_, err = s.pool.Exec(ctx, upsertImagesSQL,
		set.MangaID, set.ChapterID, images, len(set.Images), set.SourceCount, string(set.Status), s.now())
	if err != nil {
		return fmt.Errorf("upsert chapter images %s/%s: %w", set.MangaID, set.ChapterID, err)
	}
	return nil
}

// GetChapterImages returns crawler.ErrNotFound when the chapter has no set.
func (s *Store) GetChapterImages(ctx context.Context, mangaID, chapterID string) (crawler.ChapterImageSet, error) {
	var (
		set    crawler.ChapterImageSet
		images []byte
		status string
	)
	err := s.pool.QueryRow(ctx, `
SELECT manga_id, chapter_id, images, image_count, source_count, status, created_at, updated_at
FROM chapter_images WHERE manga_id = $1 AND chapter_id = $2`, mangaID, chapterID).Scan(
		&set.MangaID, &set.ChapterID, &images, &set.ImageCount, &set.SourceCount, &status, &set.CreatedAt, &set.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ChapterImageSet{}, fmt.Errorf("chapter %s/%s: %w", mangaID, chapterID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.ChapterImageSet{}, fmt.Errorf("get chapter images %s/%s: %w", mangaID, chapterID, err)
	}
	if err := unmarshalList(images, &set.Images); err != nil {
		return crawler.ChapterImageSet{}, fmt.Errorf("decode images: %w", err)
	}
	set.Status = crawler.ImageSetStatus(status)
	return set, nil
}

// ListDownloadedChapterIDs returns the chapters of a story with a non-empty
// image set, sorted by id.
func (s *Store) ListDownloadedChapterIDs(ctx context.Context, mangaID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chapter_id FROM chapter_images WHERE manga_id = $1 AND image_count > 0 ORDER BY chapter_id`,
		mangaID)
	if err != nil {
		return nil, fmt.Errorf("list downloaded chapters %s: %w", mangaID, err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chapter id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapter ids: %w", err)
	}
	return ids, nil
}

// GetDownloadStatus compares the story's chapter count against the
// materialized chapters. A story without a stored detail counts as having
// no chapters.
func (s *Store) GetDownloadStatus(ctx context.Context, mangaID string) (crawler.DownloadStatus, error) {
	var total, downloaded int
	err := s.pool.QueryRow(ctx, `
SELECT COALESCE((SELECT d.total_chapters FROM manga_details d WHERE d.id = $1), 0),
	(SELECT COUNT(*) FROM chapter_images c WHERE c.manga_id = $1 AND c.image_count > 0)`, mangaID).Scan(&total, &downloaded)
	if err != nil {
		return crawler.DownloadStatus{}, fmt.Errorf("download status %s: %w", mangaID, err)
	}
	return crawler.NewDownloadStatus(total, downloaded), nil
}

func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func unmarshalList[T any](raw []byte, dst *[]T) error {
	*dst = []T{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
