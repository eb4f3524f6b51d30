package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
)

func TestDownloaderReplaysSession(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte(strings.Repeat("j", 2048)))
	}))
	defer srv.Close()

	d := New(Config{UserAgent: "default-agent", Timeout: 5 * time.Second})
	res, err := d.Download(context.Background(), crawler.DownloadRequest{
		URL:       srv.URL + "/p1.jpg",
		Referer:   "https://site.example.com/",
		UserAgent: "session-agent",
		Cookies: []*http.Cookie{
			{Name: "cf_clearance", Value: "token"},
			{Name: "other", Value: "x", Domain: "elsewhere.example.org"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "image/jpeg", res.ContentType)
	require.Len(t, res.Body, 2048)

	require.Equal(t, "https://site.example.com/", got.Get("Referer"))
	require.Equal(t, "session-agent", got.Get("User-Agent"))
	require.Equal(t, "cf_clearance=token", got.Get("Cookie"))
}

func TestDownloaderRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := New(Config{})
	_, err := d.Download(context.Background(), crawler.DownloadRequest{URL: srv.URL + "/p1.jpg"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}

func TestDownloaderCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Download(ctx, crawler.DownloadRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownloaderConcurrentTimeouts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow.jpg" {
			time.Sleep(300 * time.Millisecond)
		}
		_, _ = w.Write([]byte(strings.Repeat("j", 1024)))
	}))
	defer srv.Close()

	d := New(Config{Timeout: 5 * time.Second})
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = d.Download(context.Background(), crawler.DownloadRequest{
				URL:     fmt.Sprintf("%s/p%d.jpg", srv.URL, i),
				Timeout: time.Duration(i+1) * time.Second,
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	_, err := d.Download(context.Background(), crawler.DownloadRequest{
		URL:     srv.URL + "/slow.jpg",
		Timeout: 50 * time.Millisecond,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = d.Download(context.Background(), crawler.DownloadRequest{URL: srv.URL + "/slow.jpg"})
	require.NoError(t, err, "a short timeout on one download does not leak into the next")
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	req := crawler.DownloadRequest{
		URL:     "https://img.example.com/p1.jpg",
		Referer: "https://site.example.com/",
		Cookies: []*http.Cookie{{Name: "a", Value: "1", Domain: ".example.com"}},
	}
	var result crawler.Download
	var fetchErr error

	hooks := &stubHooks{}
	d.configureCollectorHooks(hooks, req, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}, URL: mustParseURL(t, req.URL)}
	hooks.onRequest(collyReq)
	require.Equal(t, "https://site.example.com/", collyReq.Headers.Get("Referer"))
	require.Equal(t, "a=1", collyReq.Headers.Get("Cookie"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"image/png"}},
		Request:    &colly.Request{URL: mustParseURL(t, req.URL)},
	})
	require.Equal(t, "image/png", result.ContentType)
	require.Equal(t, "body", string(result.Body))

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	require.Error(t, fetchErr)
	require.Contains(t, fetchErr.Error(), "404")
}

func TestCookieHeaderDomainMatching(t *testing.T) {
	t.Parallel()

	cookies := []*http.Cookie{
		{Name: "host", Value: "1", Domain: "img.example.com"},
		{Name: "parent", Value: "2", Domain: ".example.com"},
		{Name: "any", Value: "3"},
		{Name: "foreign", Value: "4", Domain: "example.org"},
		{Name: "suffix-trap", Value: "5", Domain: "ample.com"},
	}
	require.Equal(t, "host=1; parent=2; any=3", cookieHeader("img.example.com", cookies))
	require.Empty(t, cookieHeader("img.example.com", nil))
}

func TestRefererFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://site.example.com/", RefererFor("https://site.example.com/truyen-tranh/x/chuong-1"))
	require.Empty(t, RefererFor("not a url"))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
