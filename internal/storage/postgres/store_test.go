package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS mangas").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS manga_details").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chapter_images").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS jobs").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCatalogEntriesUsesTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	entries := []crawler.CatalogEntry{
		{ID: "alpha", Title: "Alpha Tale", SourceURL: "https://example.com/truyen-tranh/alpha", LatestChapter: "Chapter 9"},
		{ID: "beta", Title: "Beta Quest", SourceURL: "https://example.com/truyen-tranh/beta"},
	}
	mock.ExpectBegin()
	for _, e := range entries {
		mock.ExpectExec("INSERT INTO mangas").
			WithArgs(e.ID, e.Title, e.SourceURL, e.ThumbnailURL, e.LatestChapter, fixedNow).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.UpsertCatalogEntries(context.Background(), entries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCatalogEntriesRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mangas").
		WithArgs("alpha", "Alpha", "", "", "", fixedNow).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := store.UpsertCatalogEntries(context.Background(), []crawler.CatalogEntry{{ID: "alpha", Title: "Alpha"}})
	require.ErrorContains(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCatalogScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"id", "title", "source_url", "thumbnail_url", "latest_chapter", "created_at", "updated_at"}).
		AddRow("alpha", "Alpha Tale", "https://example.com/truyen-tranh/alpha", "", "Chapter 9", fixedNow, fixedNow)
	mock.ExpectQuery("SELECT (.+) FROM mangas ORDER BY updated_at DESC").
		WithArgs(20, 0).
		WillReturnRows(rows)

	got, err := store.GetCatalog(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Chapter 9", got[0].LatestChapter)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchCatalogEscapesPattern(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM mangas WHERE title ILIKE").
		WithArgs(`%100\%%`, 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "source_url", "thumbnail_url", "latest_chapter", "created_at", "updated_at"}))

	got, err := store.SearchCatalog(context.Background(), " 100% ", 5)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoryDetailRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	detail := crawler.StoryDetail{
		ID:            "alpha",
		Title:         "Alpha Tale",
		Genres:        []string{"Action"},
		Chapters:      []crawler.ChapterRef{{ID: "chuong-1", Name: "Chapter 1", URL: "https://example.com/truyen-tranh/alpha/chuong-1"}},
		TotalChapters: 1,
	}
	genres := []byte(`["Action"]`)
	chapters := []byte(`[{"id":"chuong-1","name":"Chapter 1","url":"https://example.com/truyen-tranh/alpha/chuong-1"}]`)

	mock.ExpectExec("INSERT INTO manga_details").
		WithArgs("alpha", "Alpha Tale", "", "", "", "", genres, chapters, 1, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.UpsertStoryDetail(context.Background(), detail))

	mock.ExpectQuery("FROM manga_details WHERE id").
		WithArgs("alpha").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "title", "description", "thumbnail_url", "author", "status",
			"genres", "chapters", "total_chapters", "created_at", "updated_at",
		}).AddRow("alpha", "Alpha Tale", "", "", "", "", genres, chapters, 1, fixedNow, fixedNow))

	got, err := store.GetStoryDetail(context.Background(), "alpha")
	require.NoError(t, err)
	require.Equal(t, detail.Chapters, got.Chapters)
	require.Equal(t, []string{"Action"}, got.Genres)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStoryDetailNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM manga_details WHERE id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetStoryDetail(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestChapterImages(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	set := crawler.ChapterImageSet{
		MangaID:     "alpha",
		ChapterID:   "chuong-1",
		Images:      []string{"https://cdn.example.com/001.jpg", "https://cdn.example.com/002.jpg"},
		SourceCount: 3,
		Status:      crawler.ImageSetPartial,
	}
	images := []byte(`["https://cdn.example.com/001.jpg","https://cdn.example.com/002.jpg"]`)
	mock.ExpectExec("INSERT INTO chapter_images").
		WithArgs("alpha", "chuong-1", images, 2, 3, "partial", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.UpsertChapterImages(context.Background(), set))

	mock.ExpectQuery("FROM chapter_images WHERE manga_id").
		WithArgs("alpha", "chuong-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"manga_id", "chapter_id", "images", "image_count", "source_count", "status", "created_at", "updated_at",
		}).AddRow("alpha", "chuong-1", images, 2, 3, "partial", fixedNow, fixedNow))
	got, err := store.GetChapterImages(context.Background(), "alpha", "chuong-1")
	require.NoError(t, err)
	require.Equal(t, set.Images, got.Images)
	require.Equal(t, crawler.ImageSetPartial, got.Status)

	mock.ExpectQuery("FROM chapter_images WHERE manga_id").
		WithArgs("alpha", "chuong-9").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.GetChapterImages(context.Background(), "alpha", "chuong-9")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownloadedChaptersAndStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT chapter_id FROM chapter_images").
		WithArgs("alpha").
		WillReturnRows(pgxmock.NewRows([]string{"chapter_id"}).AddRow("chuong-1").AddRow("chuong-2"))
	ids, err := store.ListDownloadedChapterIDs(context.Background(), "alpha")
	require.NoError(t, err)
	require.Equal(t, []string{"chuong-1", "chuong-2"}, ids)

	mock.ExpectQuery("FROM manga_details d WHERE d.id").
		WithArgs("alpha").
		WillReturnRows(pgxmock.NewRows([]string{"total_chapters", "count"}).AddRow(3, 2))
	status, err := store.GetDownloadStatus(context.Background(), "alpha")
	require.NoError(t, err)
	require.Equal(t, crawler.DownloadStatus{Total: 3, Downloaded: 2, Percentage: 66.7}, status)

	mock.ExpectQuery("FROM manga_details d WHERE d.id").
		WithArgs("never-crawled").
		WillReturnRows(pgxmock.NewRows([]string{"total_chapters", "count"}).AddRow(0, 0))
	status, err = store.GetDownloadStatus(context.Background(), "never-crawled")
	require.NoError(t, err)
	require.Equal(t, crawler.DownloadStatus{}, status)
	require.NoError(t, mock.ExpectationsWereMet())
}
