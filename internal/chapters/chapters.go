// Package chapters infers a story's full chapter range from the partial list
// of rows visible on its page.
//
// The first row whose URL carries a numeric chapter token fixes a Pattern;
// the pattern then generates one ChapterRef per number from the highest seen
// down to zero. Numbering is assumed contiguous. Refs for numbers that were
// not observed are marked Synthesized, and a chapter that never existed only
// surfaces later as a failed fetch of its page.
package chapters

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
	"github.com/JakeFAU/manga-crawler/internal/extract"
)

// Pattern is the numbering scheme inferred from one chapter URL.
type Pattern struct {
	// BaseURL is the chapter URL with the chapter token and everything after
	// it removed.
	BaseURL string
	// Lead is the delimiter that preceded the token ("/" or "-").
	Lead string
	// Prefix is the chapter word as it appeared in the URL.
	Prefix string
	// Separator is "-" when the URL placed one between prefix and number.
	Separator string
	// Gap is "/" when prefix and number sit in separate path segments. It
	// only appears in URLs; identifiers stay a single segment.
	Gap string
}

// ID builds the chapter identifier for n.
func (p Pattern) ID(n int) string {
	return p.Prefix + p.Separator + strconv.Itoa(n)
}

// URL builds the chapter page URL for n.
func (p Pattern) URL(n int) string {
	return p.BaseURL + p.Lead + p.Prefix + p.Separator + p.Gap + strconv.Itoa(n)
}

// Number parses an identifier produced by ID back into its chapter number.
func (p Pattern) Number(id string) (int, bool) {
	if !strings.HasPrefix(strings.ToLower(id), strings.ToLower(p.Prefix)) {
		return 0, false
	}
	rest := id[len(p.Prefix):]
	rest = strings.TrimPrefix(rest, p.Separator)
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Result is the outcome of one inference pass.
type Result struct {
	// Pattern is nil when no visible row matched the numeric heuristic.
	Pattern  *Pattern
	Min      int
	Max      int
	Chapters []crawler.ChapterRef
}

// Inferencer derives chapter lists for stories on one site.
type Inferencer struct {
	base  *url.URL
	token *regexp.Regexp
}

// New builds an Inferencer that rebases relative links onto baseURL and
// recognizes the given chapter words (case-insensitive).
func New(baseURL string, prefixes []string) (*Inferencer, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	words := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			words = append(words, regexp.QuoteMeta(p))
		}
	}
	if len(words) == 0 {
		return nil, errors.New("at least one chapter prefix is required")
	}
	// Longer words first so "chapter" is not shadowed by "chap".
	sort.SliceStable(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
	token := regexp.MustCompile(`(?i)([/-])(` + strings.Join(words, "|") + `)([/-]?)(\d+)`)
	return &Inferencer{base: base, token: token}, nil
}

// Infer builds the chapter list for the visible rows, newest first.
func (inf *Inferencer) Infer(rows []extract.ChapterRow) Result {
	var (
		res      Result
		observed = make(map[int]string)
		found    bool
	)
	for _, row := range rows {
		abs := extract.Absolute(inf.base, row.URL)
		m := inf.lastToken(abs)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(abs[m[8]:m[9]])
		if err != nil {
			continue
		}
		if !found {
			res.Pattern = &Pattern{
				BaseURL: abs[:m[0]],
				Lead:    abs[m[2]:m[3]],
				Prefix:  abs[m[4]:m[5]],
			}
			switch delim := abs[m[6]:m[7]]; delim {
			case "/":
				res.Pattern.Gap = delim
			default:
				res.Pattern.Separator = delim
			}
			res.Min, res.Max = n, n
			found = true
		}
		if n < res.Min {
			res.Min = n
		}
		if n > res.Max {
			res.Max = n
		}
		if _, dup := observed[n]; !dup {
			observed[n] = row.Name
		}
	}

	if res.Pattern != nil && res.Max >= 1 {
		res.Chapters = make([]crawler.ChapterRef, 0, res.Max+1)
		for n := res.Max; n >= 0; n-- {
			ref := crawler.ChapterRef{
				ID:  res.Pattern.ID(n),
				URL: res.Pattern.URL(n),
			}
			if name, ok := observed[n]; ok && name != "" {
				ref.Name = name
			} else {
				ref.Name = "Chapter " + strconv.Itoa(n)
				_, seen := observed[n]
				ref.Synthesized = !seen
			}
			res.Chapters = append(res.Chapters, ref)
		}
		return res
	}

	res.Chapters = make([]crawler.ChapterRef, 0, len(rows))
	for _, row := range rows {
		abs := extract.Absolute(inf.base, row.URL)
		res.Chapters = append(res.Chapters, crawler.ChapterRef{
			ID:   extract.Slug(abs),
			Name: row.Name,
			URL:  abs,
		})
	}
	return res
}

// lastToken returns the submatch indexes of the right-most chapter token, so
// a story slug that happens to contain a chapter word is not mistaken for
// the chapter segment.
func (inf *Inferencer) lastToken(u string) []int {
	all := inf.token.FindAllStringSubmatchIndex(u, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}
