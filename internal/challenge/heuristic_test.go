package challenge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristic_IsChallenge_Title(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	for _, title := range []string{"Just a moment...", "Attention Required! | Cloudflare", "cloudflare"} {
		html := "<html><head><title>" + title + "</title></head><body>" + strings.Repeat("x", 30000) + "</body></html>"
		require.True(t, h.IsChallenge(html), title)
	}
}

func TestHeuristic_IsChallenge_BodyMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	html := `<html><head><title>Checking</title></head><body><div id="cf-browser-verification"></div></body></html>`
	require.True(t, h.IsChallenge(html))

	large := html + strings.Repeat("<p>content</p>", 3000)
	require.False(t, h.IsChallenge(large), "markers only count in small documents")
}

func TestHeuristic_IsChallenge_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	html := `<html><script>` + strings.Repeat("a", 400) + `</script><p>t</p></html>`
	require.True(t, h.IsChallenge(html))
}

func TestHeuristic_IsChallenge_Content(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	html := `<html><head><title>Alpha Story - Chapter 3</title></head><body><div class="reading-detail"><img src="https://img/p1.jpg"></div></body></html>`
	require.False(t, h.IsChallenge(html))
	require.False(t, h.IsChallenge(""))
}

func TestTitleIsChallenge(t *testing.T) {
	t.Parallel()

	require.True(t, TitleIsChallenge("Just a moment..."))
	require.False(t, TitleIsChallenge("Truyen tranh"))
}
