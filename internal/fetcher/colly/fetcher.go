// Package collyfetcher downloads binary assets with gocolly, replaying the
// session state (cookies, user agent, referer) of the page that linked them.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
)

const defaultMaxBodySize = 32 << 20

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Downloader implements crawler.Downloader using the Colly collector.
type Downloader struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Downloader. Cookies are never kept between downloads; each
// request carries exactly the cookies it was given.
func New(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	c.DisableCookies()
	c.WithTransport(newHTTPTransport())
	// Clones share this client; deadlines come from each download's context.
	c.SetRequestTimeout(0)
	return &Downloader{cfg: cfg, baseCollector: c}
}

// Download executes a single GET with the request's session state.
func (d *Downloader) Download(ctx context.Context, request crawler.DownloadRequest) (crawler.Download, error) {
	var (
		result   crawler.Download
		fetchErr error
	)
	timeout := d.cfg.Timeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	collector := d.buildCollector(ctx, request, &result, &fetchErr)
	if err := d.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.Download{}, err
	}
	return result, nil
}

func (d *Downloader) buildCollector(
	ctx context.Context,
	request crawler.DownloadRequest,
	result *crawler.Download,
	fetchErr *error,
) *colly.Collector {
	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	if request.UserAgent != "" {
		collector.UserAgent = request.UserAgent
	}
	collector.Context = ctx
	d.configureCollectorHooks(collector, request, result, fetchErr)
	return collector
}

func (d *Downloader) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.DownloadRequest,
	result *crawler.Download,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		applySession(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.Download{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (d *Downloader) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly download canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// applySession sets the referer and the cookies that belong to the target
// host. Image hosts commonly reject requests without a same-site referer.
func applySession(request crawler.DownloadRequest, r *colly.Request) {
	if request.Referer != "" {
		r.Headers.Set("Referer", request.Referer)
	}
	r.Headers.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	host := ""
	if r.URL != nil {
		host = r.URL.Hostname()
	}
	if header := cookieHeader(host, request.Cookies); header != "" {
		r.Headers.Set("Cookie", header)
	}
}

func cookieHeader(host string, cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" || !domainMatch(host, c.Domain) {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func domainMatch(host, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if domain == "" || host == "" {
		return true
	}
	host = strings.ToLower(host)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// RefererFor returns the origin of a page URL with a trailing slash.
func RefererFor(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.Downloader = (*Downloader)(nil)
