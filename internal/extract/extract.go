// Package extract turns raw chapter-site HTML into typed drafts. Every
// function is a pure function of its input: absent elements produce empty
// values rather than errors, since the site's templates vary between pages.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors names the CSS selectors used for each field.
type Selectors struct {
	CatalogItem    string
	CatalogTitle   string
	CatalogImage   string
	CatalogLatest  string
	StoryTitle     string
	StoryDesc      string
	StoryThumbnail string
	StoryAuthor    string
	StoryStatus    string
	StoryGenres    string
	ChapterRows    string
	ChapterImages  string
}

// DefaultSelectors match the current site templates.
func DefaultSelectors() Selectors {
	return Selectors{
		CatalogItem:    ".item",
		CatalogTitle:   "h3 a",
		CatalogImage:   "img",
		CatalogLatest:  ".comic-item .chapter a, .chapter a",
		StoryTitle:     "h1.title-detail",
		StoryDesc:      ".detail-content p",
		StoryThumbnail: ".col-image img",
		StoryAuthor:    ".author.row .col-xs-8",
		StoryStatus:    ".status.row .col-xs-8",
		StoryGenres:    ".kind.row .col-xs-8 a",
		ChapterRows:    "#nt_listchapter ul li.row:not(.heading)",
		ChapterImages:  ".reading-detail img, .page-chapter img, .reading img, #image-0",
	}
}

// imageAttrs lists lazy-loading attributes in the order they are trusted.
var imageAttrs = []string{"data-original", "data-src", "src"}

// CatalogDraft is one catalog block as found on the page.
type CatalogDraft struct {
	Title         string
	URL           string
	ThumbnailURL  string
	LatestChapter string
}

// ChapterRow is a visible row of a story's chapter list.
type ChapterRow struct {
	Name string
	URL  string
}

// StoryDraft holds the fields of a story page.
type StoryDraft struct {
	Title        string
	Description  string
	ThumbnailURL string
	Author       string
	Status       string
	Genres       []string
	Rows         []ChapterRow
}

// Extractor applies a selector set to HTML documents.
type Extractor struct {
	sel Selectors
}

// New returns an Extractor. Empty fields in sel fall back to the defaults.
func New(sel Selectors) *Extractor {
	def := DefaultSelectors()
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}
	return &Extractor{sel: Selectors{
		CatalogItem:    pick(sel.CatalogItem, def.CatalogItem),
		CatalogTitle:   pick(sel.CatalogTitle, def.CatalogTitle),
		CatalogImage:   pick(sel.CatalogImage, def.CatalogImage),
		CatalogLatest:  pick(sel.CatalogLatest, def.CatalogLatest),
		StoryTitle:     pick(sel.StoryTitle, def.StoryTitle),
		StoryDesc:      pick(sel.StoryDesc, def.StoryDesc),
		StoryThumbnail: pick(sel.StoryThumbnail, def.StoryThumbnail),
		StoryAuthor:    pick(sel.StoryAuthor, def.StoryAuthor),
		StoryStatus:    pick(sel.StoryStatus, def.StoryStatus),
		StoryGenres:    pick(sel.StoryGenres, def.StoryGenres),
		ChapterRows:    pick(sel.ChapterRows, def.ChapterRows),
		ChapterImages:  pick(sel.ChapterImages, def.ChapterImages),
	}}
}

// Catalog extracts the repeated story blocks of a listing page. Blocks
// without a title link are skipped.
func (e *Extractor) Catalog(html string) []CatalogDraft {
	doc, ok := parse(html)
	if !ok {
		return nil
	}
	var drafts []CatalogDraft
	doc.Find(e.sel.CatalogItem).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(e.sel.CatalogTitle).First()
		if link.Length() == 0 {
			return
		}
		href, _ := link.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		drafts = append(drafts, CatalogDraft{
			Title:         strings.TrimSpace(link.Text()),
			URL:           href,
			ThumbnailURL:  imageSource(item.Find(e.sel.CatalogImage).First()),
			LatestChapter: strings.TrimSpace(item.Find(e.sel.CatalogLatest).First().Text()),
		})
	})
	return drafts
}

// StoryDetail extracts the metadata and visible chapter rows of a story page.
func (e *Extractor) StoryDetail(html string) StoryDraft {
	draft := StoryDraft{Genres: []string{}, Rows: []ChapterRow{}}
	doc, ok := parse(html)
	if !ok {
		return draft
	}
	draft.Title = text(doc.Find(e.sel.StoryTitle))
	draft.Description = text(doc.Find(e.sel.StoryDesc))
	draft.ThumbnailURL = imageSource(doc.Find(e.sel.StoryThumbnail).First())
	draft.Author = text(doc.Find(e.sel.StoryAuthor))
	draft.Status = text(doc.Find(e.sel.StoryStatus))
	doc.Find(e.sel.StoryGenres).Each(func(_ int, s *goquery.Selection) {
		if g := strings.TrimSpace(s.Text()); g != "" {
			draft.Genres = append(draft.Genres, g)
		}
	})
	doc.Find(e.sel.ChapterRows).Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a").First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		draft.Rows = append(draft.Rows, ChapterRow{
			Name: strings.TrimSpace(link.Text()),
			URL:  strings.TrimSpace(href),
		})
	})
	return draft
}

// ChapterImageSources returns the page image URLs of a chapter in document
// order. Protocol-relative URLs become https; anything else that is not an
// absolute http(s) URL is dropped, as are duplicates.
func (e *Extractor) ChapterImageSources(html string) []string {
	doc, ok := parse(html)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var sources []string
	doc.Find(e.sel.ChapterImages).Each(func(_ int, img *goquery.Selection) {
		src := imageSource(img)
		if src == "" {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	})
	return sources
}

// Title returns the document title, or "" when absent.
func Title(html string) string {
	doc, ok := parse(html)
	if !ok {
		return ""
	}
	return text(doc.Find("title"))
}

// Absolute resolves ref against base. Unparseable refs are returned as-is.
func Absolute(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == nil || ref == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// Slug returns the last non-empty path segment of a URL.
func Slug(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return parts[len(parts)-1]
}

func parse(html string) (*goquery.Document, bool) {
	if strings.TrimSpace(html) == "" {
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}
	return doc, true
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.First().Text())
}

func imageSource(img *goquery.Selection) string {
	if img.Length() == 0 {
		return ""
	}
	for _, attr := range imageAttrs {
		if v, ok := img.Attr(attr); ok {
			if src := normalizeImageURL(v); src != "" {
				return src
			}
		}
	}
	return ""
}

func normalizeImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return ""
	}
	return raw
}
