package chapters

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/manga-crawler/internal/extract"
)

func newInferencer(t *testing.T) *Inferencer {
	t.Helper()
	inf, err := New("https://site.example.com", []string{"chuong", "chap", "chapter"})
	require.NoError(t, err)
	return inf
}

func TestInferSynthesizesFullRange(t *testing.T) {
	t.Parallel()

	rows := []extract.ChapterRow{
		{Name: "Chuong 10", URL: "https://site.example.com/truyen-tranh/x/chuong-10"},
		{Name: "Chuong 7", URL: "https://site.example.com/truyen-tranh/x/chuong-7"},
		{Name: "Chuong 3", URL: "https://site.example.com/truyen-tranh/x/chuong-3"},
	}
	res := newInferencer(t).Infer(rows)

	require.NotNil(t, res.Pattern)
	require.Equal(t, 10, res.Max)
	require.Equal(t, 3, res.Min)
	require.Len(t, res.Chapters, 11)

	ids := make(map[string]struct{})
	for i, ch := range res.Chapters {
		want := 10 - i
		n, ok := res.Pattern.Number(ch.ID)
		require.True(t, ok, "id %q should parse", ch.ID)
		require.Equal(t, want, n)
		ids[ch.ID] = struct{}{}
	}
	require.Len(t, ids, 11)

	require.Equal(t, "Chuong 10", res.Chapters[0].Name)
	require.False(t, res.Chapters[0].Synthesized)
	require.Equal(t, "Chapter 9", res.Chapters[1].Name)
	require.True(t, res.Chapters[1].Synthesized)
	require.Equal(t, "chuong-0", res.Chapters[10].ID)
	require.Equal(t, "https://site.example.com/truyen-tranh/x/chuong-0", res.Chapters[10].URL)
}

func TestInferScenarioLatestTwoChapters(t *testing.T) {
	t.Parallel()

	rows := []extract.ChapterRow{
		{Name: "Chapter 461", URL: "/truyen-tranh/X/chuong-461"},
		{Name: "Chapter 460", URL: "/truyen-tranh/X/chuong-460"},
	}
	res := newInferencer(t).Infer(rows)

	require.Len(t, res.Chapters, 462)
	for i, ch := range res.Chapters {
		n := 461 - i
		require.True(t, strings.HasSuffix(ch.URL, "/chuong-"+strconv.Itoa(n)), ch.URL)
		require.True(t, strings.HasPrefix(ch.URL, "https://site.example.com/truyen-tranh/X/"), ch.URL)
	}
}

func TestInferFallsBackToVisibleRows(t *testing.T) {
	t.Parallel()

	rows := []extract.ChapterRow{
		{Name: "Finale", URL: "/truyen-tranh/x/finale"},
		{Name: "Prologue", URL: "https://site.example.com/truyen-tranh/x/prologue/"},
		{Name: "Extra", URL: "/truyen-tranh/x/extra-story"},
	}
	res := newInferencer(t).Infer(rows)

	require.Nil(t, res.Pattern)
	require.Len(t, res.Chapters, 3)
	require.Equal(t, "finale", res.Chapters[0].ID)
	require.Equal(t, "Finale", res.Chapters[0].Name)
	require.Equal(t, "https://site.example.com/truyen-tranh/x/finale", res.Chapters[0].URL)
	require.Equal(t, "prologue", res.Chapters[1].ID)
	require.Equal(t, "extra-story", res.Chapters[2].ID)
	for _, ch := range res.Chapters {
		require.False(t, ch.Synthesized)
	}
}

func TestInferEmptyRows(t *testing.T) {
	t.Parallel()

	res := newInferencer(t).Infer(nil)
	require.Nil(t, res.Pattern)
	require.NotNil(t, res.Chapters)
	require.Empty(t, res.Chapters)
}

func TestInferOnlyChapterZeroUsesRows(t *testing.T) {
	t.Parallel()

	rows := []extract.ChapterRow{{Name: "Oneshot", URL: "/truyen-tranh/x/chap-0"}}
	res := newInferencer(t).Infer(rows)

	require.NotNil(t, res.Pattern)
	require.Equal(t, 0, res.Max)
	require.Len(t, res.Chapters, 1)
	require.Equal(t, "chap-0", res.Chapters[0].ID)
	require.Equal(t, "Oneshot", res.Chapters[0].Name)
}

func TestInferSeparatorAndCase(t *testing.T) {
	t.Parallel()

	rows := []extract.ChapterRow{
		{Name: "2", URL: "https://site.example.com/read/story/Chapter2"},
		{Name: "1", URL: "https://site.example.com/read/story/Chapter1"},
	}
	res := newInferencer(t).Infer(rows)

	require.NotNil(t, res.Pattern)
	require.Equal(t, "Chapter", res.Pattern.Prefix)
	require.Empty(t, res.Pattern.Separator)
	require.Len(t, res.Chapters, 3)
	require.Equal(t, "Chapter2", res.Chapters[0].ID)
	require.Equal(t, "https://site.example.com/read/story/Chapter0", res.Chapters[2].URL)
}

func TestInferNumberInOwnSegment(t *testing.T) {
	t.Parallel()

	rows := []extract.ChapterRow{
		{Name: "Chapter 3", URL: "/truyen-tranh/alpha/chapter/3"},
		{Name: "Chapter 2", URL: "/truyen-tranh/alpha/chapter/2"},
	}
	res := newInferencer(t).Infer(rows)

	require.NotNil(t, res.Pattern)
	require.Empty(t, res.Pattern.Separator)
	require.Equal(t, "/", res.Pattern.Gap)
	require.Len(t, res.Chapters, 4)
	for _, ch := range res.Chapters {
		require.NotContains(t, ch.ID, "/")
	}
	require.Equal(t, "chapter3", res.Chapters[0].ID)
	require.Equal(t, "https://site.example.com/truyen-tranh/alpha/chapter/3", res.Chapters[0].URL)
	require.Equal(t, "https://site.example.com/truyen-tranh/alpha/chapter/0", res.Chapters[3].URL)

	n, ok := res.Pattern.Number("chapter1")
	require.True(t, ok)
	require.Equal(t, 1, n)
}

func TestInferIgnoresChapterWordInStorySlug(t *testing.T) {
	t.Parallel()

	rows := []extract.ChapterRow{
		{Name: "5", URL: "/truyen-tranh/the-chap-2-tale/chuong-5"},
	}
	res := newInferencer(t).Infer(rows)

	require.NotNil(t, res.Pattern)
	require.Equal(t, 5, res.Max)
	require.Equal(t, "https://site.example.com/truyen-tranh/the-chap-2-tale", res.Pattern.BaseURL)
	require.Equal(t, "https://site.example.com/truyen-tranh/the-chap-2-tale/chuong-4", res.Chapters[1].URL)
}

func TestPatternNumber(t *testing.T) {
	t.Parallel()

	p := Pattern{BaseURL: "https://s/x", Lead: "/", Prefix: "chuong", Separator: "-"}
	n, ok := p.Number("chuong-42")
	require.True(t, ok)
	require.Equal(t, 42, n)

	_, ok = p.Number("chap-42")
	require.False(t, ok)
	_, ok = p.Number("chuong-x")
	require.False(t, ok)
	require.Equal(t, "https://s/x/chuong-7", p.URL(7))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New("not a url", []string{"chuong"})
	require.Error(t, err)
	_, err = New("https://site.example.com", []string{" "})
	require.Error(t, err)
}
