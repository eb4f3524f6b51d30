package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}, nil); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2, ProfileDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
	if fetcher.Name() != Name {
		t.Fatalf("expected name %q, got %q", Name, fetcher.Name())
	}
}

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{}, nil)
	require.NoError(t, err)
	defer fetcher.Close()

	require.Equal(t, 3, fetcher.cfg.ChallengeAttempts)
	require.Equal(t, 5*time.Second, fetcher.cfg.ChallengeWait)
	require.InDelta(t, 1000, fetcher.cfg.ScrollDelta, 0)
	require.Nil(t, fetcher.limiter)
}

func TestFetcherNavTimeout(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	if got := fetcher.navTimeout(0); got != 60*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	fetcher.cfg.NavigationTimeout = time.Second
	if got := fetcher.navTimeout(0); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
	if got := fetcher.navTimeout(2 * time.Second); got != 2*time.Second {
		t.Fatalf("expected request timeout to win, got %v", got)
	}

	fetcher.cfg = Config{
		NavigationTimeout: 10 * time.Second,
		ChallengeAttempts: 3,
		ChallengeWait:     5 * time.Second,
		ScrollSteps:       10,
		ScrollWait:        time.Second,
		Settle:            3 * time.Second,
		WaitSelector:      5 * time.Second,
	}
	if got := fetcher.navTimeout(0); got != 43*time.Second {
		t.Fatalf("expected pacing to extend the budget to 43s, got %v", got)
	}
}

func TestToHTTPCookies(t *testing.T) {
	t.Parallel()

	cookies := toHTTPCookies([]*network.Cookie{
		{Name: "cf_clearance", Value: "token", Domain: ".site.example.com", Path: "/", Expires: 1893456000, HTTPOnly: true, Secure: true},
		{Name: "session", Value: "s", Expires: -1},
		nil,
		{Name: ""},
	})
	require.Len(t, cookies, 2)
	require.Equal(t, "cf_clearance", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.Equal(t, int64(1893456000), cookies[0].Expires.Unix())
	require.True(t, cookies[1].Expires.IsZero())
}

func TestSanitizeUserAgent(t *testing.T) {
	t.Parallel()

	ua := "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36"
	require.Equal(t,
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		sanitizeUserAgent(ua))
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"Accept-Language": {"vi-VN", "en"}}
	cloned := cloneHeader(src)
	cloned.Add("Accept-Language", "fr")
	if len(src["Accept-Language"]) != 2 {
		t.Fatalf("source header mutated: %+v", src)
	}

	netHeaders := toNetworkHeaders(src)
	require.Equal(t, "vi-VN, en", netHeaders["Accept-Language"])
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type:    network.ResourceTypeDocument,
		FrameID: "main",
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		FrameID:  "main",
		Response: &network.Response{Status: 404, URL: "https://example.com/p.jpg"},
	})
	status, headers, url := meta.snapshotWithFallbacks("main", "https://req", "")
	require.Equal(t, 203, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://example.com/rendered", url)

	_, _, url = meta.snapshotWithFallbacks("main", "https://req", "https://example.com/after-js")
	require.Equal(t, "https://example.com/after-js", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("main", "https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
}

func TestResponseMetaIgnoresSubframes(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "main",
		Response: &network.Response{Status: 200, URL: "https://site.example.com/truyen-tranh/x/chuong-1"},
	})
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "ad-frame",
		Response: &network.Response{Status: 403, URL: "https://ads.example.net/slot"},
	})

	status, _, url := meta.snapshotWithFallbacks("main", "https://site.example.com/truyen-tranh/x/chuong-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://site.example.com/truyen-tranh/x/chuong-1", url)
}
