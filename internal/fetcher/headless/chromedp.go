// Package headless drives a real Chrome instance for pages that only render
// for a browser that looks like a person.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/manga-crawler/internal/challenge"
	"github.com/JakeFAU/manga-crawler/internal/crawler"
	"github.com/JakeFAU/manga-crawler/internal/logging"
)

// Name identifies this strategy in logs, metrics and fetched pages.
const Name = "browser"

// stealthScript hides the most common automation fingerprints before any
// page script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['vi-VN', 'vi', 'en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
window.chrome = window.chrome || {runtime: {}};
`

// Config controls the behavior of the browser strategy.
type Config struct {
	// ProfileDir is reused across runs so the browser keeps the cookies and
	// trust signals it earned.
	ProfileDir        string
	Headless          bool
	MaxParallel       int
	UserAgent         string
	Headers           http.Header
	NavigationTimeout time.Duration
	ChallengeAttempts int
	ChallengeWait     time.Duration
	ScrollSteps       int
	ScrollDelta       float64
	ScrollWait        time.Duration
	Settle            time.Duration
	WaitSelector      time.Duration
}

// Fetcher implements crawler.Strategy using chromedp.
type Fetcher struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger

	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	userAgent     string
}

// NewChromedp creates a browser strategy. The browser itself is started on
// the first fetch.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.ChallengeAttempts <= 0 {
		cfg.ChallengeAttempts = 3
	}
	if cfg.ChallengeWait <= 0 {
		cfg.ChallengeWait = 5 * time.Second
	}
	if cfg.ScrollDelta <= 0 {
		cfg.ScrollDelta = 1000
	}
	if cfg.WaitSelector <= 0 {
		cfg.WaitSelector = 5 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		logger:      logging.OrNop(logger),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
	}
	return opts
}

// Name implements crawler.Strategy.
func (f *Fetcher) Name() string { return Name }

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.mu.Lock()
	if f.browserCancel != nil {
		f.browserCancel()
		f.browserCtx, f.browserCancel = nil, nil
	}
	f.mu.Unlock()
	f.allocCancel()
}

// Fetch navigates to the page, waits out challenge interstitials, scrolls
// lazy content into view when asked to, and returns the rendered DOM along
// with the browser's cookies and user agent.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.Page{}, err
	}
	defer f.release()

	browserCtx, userAgent, err := f.ensureBrowser()
	if err != nil {
		return crawler.Page{}, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	// Tie the tab to the caller's cancellation as well as the browser's.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout(request.Timeout))
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	result, err := f.runHeadless(tabCtx, request, userAgent)
	if err != nil {
		return crawler.Page{}, err
	}

	status, _, pageURL := meta.snapshotWithFallbacks(result.frameID, request.URL, result.finalURL)
	if status >= http.StatusBadRequest {
		return crawler.Page{}, fmt.Errorf("browser navigation: status %d", status)
	}

	return crawler.Page{
		URL:        pageURL,
		HTML:       result.html,
		StatusCode: status,
		Cookies:    toHTTPCookies(result.cookies),
		UserAgent:  userAgent,
		Strategy:   Name,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

type tabResult struct {
	html     string
	finalURL string
	frameID  cdp.FrameID
	cookies  []*network.Cookie
}

func (f *Fetcher) runHeadless(ctx context.Context, request crawler.FetchRequest, userAgent string) (tabResult, error) {
	var res tabResult
	if err := chromedp.Run(ctx,
		f.setupAction(userAgent),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return res, fmt.Errorf("chromedp navigate: %w", err)
	}

	if err := f.waitOutChallenge(ctx, request.URL); err != nil {
		return res, err
	}

	if request.LazyLoad {
		if err := f.scrollLazyContent(ctx); err != nil {
			return res, err
		}
	}

	if request.WaitSelector != "" {
		waitCtx, cancel := context.WithTimeout(ctx, f.cfg.WaitSelector)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(request.WaitSelector, chromedp.ByQuery))
		cancel()
		if err != nil {
			f.logger.Debug("wait selector not found", zap.String("url", request.URL),
				zap.String("selector", request.WaitSelector), zap.Error(err))
		}
	}

	err := chromedp.Run(ctx,
		chromedp.Location(&res.finalURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("read frame tree: %w", err)
			}
			if tree != nil && tree.Frame != nil {
				res.frameID = tree.Frame.ID
			}
			return nil
		}),
		chromedp.OuterHTML("html", &res.html, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := network.GetCookies().WithURLs([]string{res.finalURL, request.URL}).Do(ctx)
			if err != nil {
				return fmt.Errorf("read cookies: %w", err)
			}
			res.cookies = cookies
			return nil
		}),
	)
	if err != nil {
		return res, fmt.Errorf("chromedp read page: %w", err)
	}
	return res, nil
}

// waitOutChallenge polls the page title until it no longer looks like an
// anti-bot interstitial.
func (f *Fetcher) waitOutChallenge(ctx context.Context, url string) error {
	for attempt := 1; attempt <= f.cfg.ChallengeAttempts; attempt++ {
		var title string
		if err := chromedp.Run(ctx, chromedp.Title(&title)); err != nil {
			return fmt.Errorf("read title: %w", err)
		}
		if !challenge.TitleIsChallenge(title) {
			return nil
		}
		f.logger.Info("challenge page detected, waiting",
			zap.String("url", url), zap.String("title", title), zap.Int("attempt", attempt))
		if err := chromedp.Run(ctx, chromedp.Sleep(f.cfg.ChallengeWait)); err != nil {
			return fmt.Errorf("challenge wait: %w", err)
		}
	}
	var title string
	if err := chromedp.Run(ctx, chromedp.Title(&title)); err != nil {
		return fmt.Errorf("read title: %w", err)
	}
	if challenge.TitleIsChallenge(title) {
		return fmt.Errorf("challenge unresolved after %d attempts: %w", f.cfg.ChallengeAttempts, crawler.ErrChallenge)
	}
	return nil
}

// scrollLazyContent sends mouse-wheel events with pauses so lazy loaders
// insert their images, then jumps to the bottom and lets the page settle.
func (f *Fetcher) scrollLazyContent(ctx context.Context) error {
	for i := 0; i < f.cfg.ScrollSteps; i++ {
		err := chromedp.Run(ctx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				return input.DispatchMouseEvent(input.MouseWheel, 640, 450).
					WithDeltaX(0).
					WithDeltaY(f.cfg.ScrollDelta).
					Do(ctx)
			}),
			chromedp.Sleep(f.cfg.ScrollWait),
		)
		if err != nil {
			return fmt.Errorf("scroll step %d: %w", i, err)
		}
	}
	err := chromedp.Run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(f.cfg.Settle),
	)
	if err != nil {
		return fmt.Errorf("scroll to bottom: %w", err)
	}
	return nil
}

func (f *Fetcher) setupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(f.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// ensureBrowser starts the shared browser once. Tabs opened from the
// returned context share its profile and cookie jar.
func (f *Fetcher) ensureBrowser() (context.Context, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browserCtx != nil {
		if f.browserCtx.Err() == nil {
			return f.browserCtx, f.userAgent, nil
		}
		// The browser exited underneath us; start a fresh one.
		f.browserCancel()
		f.browserCtx, f.browserCancel = nil, nil
	}
	browserCtx, cancel := chromedp.NewContext(f.allocator)
	var product, agent string
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		_, product, _, agent, _, err = browser.GetVersion().Do(ctx)
		return err
	}))
	if err != nil {
		cancel()
		return nil, "", fmt.Errorf("start browser: %w", err)
	}
	f.logger.Info("browser started", zap.String("product", product), zap.String("profile", f.cfg.ProfileDir))
	f.userAgent = f.cfg.UserAgent
	if f.userAgent == "" {
		f.userAgent = sanitizeUserAgent(agent)
	}
	f.browserCtx, f.browserCancel = browserCtx, cancel
	return browserCtx, f.userAgent, nil
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// navTimeout bounds one tab: navigation plus challenge waits and scrolling.
func (f *Fetcher) navTimeout(requested time.Duration) time.Duration {
	base := f.cfg.NavigationTimeout
	if requested > 0 {
		base = requested
	}
	if base <= 0 {
		base = 60 * time.Second
	}
	extra := time.Duration(f.cfg.ChallengeAttempts)*f.cfg.ChallengeWait +
		time.Duration(f.cfg.ScrollSteps)*f.cfg.ScrollWait + f.cfg.Settle + f.cfg.WaitSelector
	return base + extra
}

// sanitizeUserAgent drops the headless marker so plain HTTP requests made
// with the same agent are not singled out.
func sanitizeUserAgent(ua string) string {
	return strings.ReplaceAll(ua, "HeadlessChrome", "Chrome")
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil || c.Name == "" {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, hc)
	}
	return out
}

// documentResponse is the last document response seen for one frame.
type documentResponse struct {
	status  int
	headers http.Header
	url     string
}

// responseMeta tracks document responses per frame.
type responseMeta struct {
	mu     sync.RWMutex
	frames map[cdp.FrameID]documentResponse
}

func newResponseMeta() *responseMeta {
	return &responseMeta{frames: map[cdp.FrameID]documentResponse{}}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.frames[event.FrameID] = documentResponse{
		status:  int(event.Response.Status),
		headers: headers,
		url:     event.Response.URL,
	}
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks reports the main frame's response. The page URL is
// the browser's location when known.
func (m *responseMeta) snapshotWithFallbacks(mainFrame cdp.FrameID, requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	resp := m.frames[mainFrame]
	m.mu.RUnlock()
	url := finalURL
	switch {
	case url != "" && url != "about:blank":
	case resp.url != "":
		url = resp.url
	default:
		url = requestURL
	}
	status := resp.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, cloneHeader(resp.headers), url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}

var _ crawler.Strategy = (*Fetcher)(nil)
