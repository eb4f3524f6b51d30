// Package challenge recognizes anti-bot interstitial pages.
package challenge

import (
	"strings"

	"github.com/JakeFAU/manga-crawler/internal/extract"
)

// Heuristic flags a document as a challenge by its title, or by challenge
// markers and script-heavy markup in a small document.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 20 * 1024
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var titleMarkers = []string{
	"just a moment",
	"attention required",
	"cloudflare",
}

var bodyMarkers = []string{
	"cf-browser-verification",
	"challenge-platform",
	"cf_chl_opt",
}

// IsChallenge reports whether html is an interstitial rather than content.
func (h *Heuristic) IsChallenge(html string) bool {
	if TitleIsChallenge(extract.Title(html)) {
		return true
	}
	if len(html) >= h.BodyLengthThreshold {
		return false
	}
	lower := strings.ToLower(html)
	for _, marker := range bodyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return scriptDensityHigh(lower)
}

// TitleIsChallenge reports whether a page title belongs to a challenge page.
func TitleIsChallenge(title string) bool {
	lower := strings.ToLower(title)
	for _, marker := range titleMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 60
}
