// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/manga-crawler/internal/challenge"
	"github.com/JakeFAU/manga-crawler/internal/chapters"
	"github.com/JakeFAU/manga-crawler/internal/clock/system"
	"github.com/JakeFAU/manga-crawler/internal/config"
	"github.com/JakeFAU/manga-crawler/internal/crawler"
	"github.com/JakeFAU/manga-crawler/internal/dispatcher"
	"github.com/JakeFAU/manga-crawler/internal/extract"
	"github.com/JakeFAU/manga-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/manga-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/manga-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/manga-crawler/internal/fetcher/solver"
	"github.com/JakeFAU/manga-crawler/internal/id/uuid"
	"github.com/JakeFAU/manga-crawler/internal/images"
	"github.com/JakeFAU/manga-crawler/internal/logging"
	"github.com/JakeFAU/manga-crawler/internal/manga"
	"github.com/JakeFAU/manga-crawler/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/manga-crawler/internal/publisher/memory"
	"github.com/JakeFAU/manga-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/manga-crawler/internal/queue/memory"
	"github.com/JakeFAU/manga-crawler/internal/storage/gcs"
	"github.com/JakeFAU/manga-crawler/internal/storage/imagekit"
	"github.com/JakeFAU/manga-crawler/internal/storage/local"
	storememory "github.com/JakeFAU/manga-crawler/internal/storage/memory"
	"github.com/JakeFAU/manga-crawler/internal/storage/postgres"
	"github.com/JakeFAU/manga-crawler/internal/worker"
)

// App holds all the shared, long-lived services for the application.
// It is built once at startup and handed to the CLI commands and the
// HTTP server.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      crawler.Store
	Jobs       crawler.JobStore
	Host       crawler.ImageHost
	Fetcher    *fetcher.Chain
	Resolver   *images.Resolver
	Service    *manga.Service
	Queue      *queuememory.Queue
	Dispatcher *dispatcher.Dispatcher

	closers []func()
}

type options struct {
	strategies []crawler.Strategy
	observer   images.Observer
}

// Option customizes New.
type Option func(*options)

// WithStrategies replaces the configured fetch strategies.
func WithStrategies(strategies ...crawler.Strategy) Option {
	return func(o *options) { o.strategies = strategies }
}

// WithObserver attaches a chapter progress observer to the image resolver.
func WithObserver(observer images.Observer) Option {
	return func(o *options) { o.observer = observer }
}

// New creates and initializes an App from cfg. It fails fast if any
// critical service cannot be initialized; anything opened before the
// failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.OrNop(logger)
	logger.Info("initializing application services",
		zap.String("site", cfg.Site.BaseURL),
		zap.String("db", cfg.DB.Driver),
		zap.String("image_host", cfg.Storage.ImageHost),
	)

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initImageHost(ctx); err != nil {
		return nil, err
	}

	strategies := o.strategies
	if strategies == nil {
		strategies, err = a.buildStrategies()
		if err != nil {
			return nil, err
		}
	}
	detector := challenge.NewHeuristic(0)
	a.Fetcher, err = fetcher.NewChain(ctx, detector, logger, strategies...)
	if err != nil {
		return nil, fmt.Errorf("build fetch chain: %w", err)
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	extractor := extract.New(selectors(cfg.Site.Selectors))
	inferencer, err := chapters.New(cfg.Site.BaseURL, cfg.Site.ChapterPrefixes)
	if err != nil {
		return nil, fmt.Errorf("build chapter inferencer: %w", err)
	}

	downloader := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	})
	resolverOpts := []images.Option{
		images.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Images.RequestsPerSecond,
			DefaultBurst: cfg.Images.Burst,
		})),
		images.WithPublisher(publisher),
		images.WithClock(system.New()),
		images.WithLogger(logger.Named("images")),
	}
	if o.observer != nil {
		resolverOpts = append(resolverOpts, images.WithObserver(o.observer))
	}
	waitSelector := cfg.Site.Selectors.ChapterImages
	if waitSelector == "" {
		waitSelector = extract.DefaultSelectors().ChapterImages
	}
	a.Resolver, err = images.New(images.Config{
		Workers:      cfg.Images.Workers,
		MinBytes:     cfg.Images.MinBytes,
		FolderPrefix: cfg.Images.FolderPrefix,
		CoverFolder:  cfg.Crawler.CoverFolder,
		Timeout:      cfg.RequestTimeout(),
		WaitSelector: waitSelector,
		EventTopic:   cfg.PubSub.TopicName,
	}, a.Store, a.Fetcher, downloader, a.Host, extractor, resolverOpts...)
	if err != nil {
		return nil, fmt.Errorf("build image resolver: %w", err)
	}

	a.Service, err = manga.New(manga.Config{
		BaseURL:     cfg.Site.BaseURL,
		StoryPath:   cfg.Site.StoryPath,
		RelayCovers: cfg.Crawler.RelayCovers,
		Timeout:     cfg.RequestTimeout(),
	}, a.Store, a.Fetcher, extractor, inferencer, a.Resolver, logger.Named("manga"))
	if err != nil {
		return nil, fmt.Errorf("build manga service: %w", err)
	}

	a.Queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)
	a.closers = append(a.closers, a.Queue.Close)
	workers := make([]*worker.Worker, cfg.Crawler.Concurrency)
	for i := range workers {
		workers[i] = worker.New(a.Queue, a.Jobs, a.Service, logger.Named("worker"))
	}
	a.Dispatcher = dispatcher.New(a.Queue, workers, a.Jobs, uuid.New(), system.New())

	logger.Info("application services initialized", zap.Strings("strategies", a.Fetcher.Names()))
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.Config.DB.Driver {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      a.Config.DB.DSN,
			MaxConns: int32(a.Config.DB.MaxConns), //nolint:gosec // validated small pool size
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.Store, a.Jobs = store, store
	case "memory", "":
		a.Store, a.Jobs = storememory.NewStore(), storememory.NewJobStore()
	default:
		return fmt.Errorf("unknown db driver %q", a.Config.DB.Driver)
	}
	return nil
}

func (a *App) initImageHost(ctx context.Context) error {
	sc := a.Config.Storage
	switch sc.ImageHost {
	case "local":
		host, err := local.New(local.Config{BaseDir: sc.Local.BaseDir, PublicBaseURL: sc.Local.PublicBaseURL})
		if err != nil {
			return fmt.Errorf("local image host: %w", err)
		}
		a.Host = host
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn("close gcs client", zap.Error(err))
			}
		})
		host, err := gcs.New(client, gcs.Config{Bucket: sc.GCS.Bucket, PublicBaseURL: sc.GCS.PublicBaseURL})
		if err != nil {
			return fmt.Errorf("gcs image host: %w", err)
		}
		a.Host = host
	case "imagekit":
		host, err := imagekit.New(imagekit.Config{
			PrivateKey:  sc.ImageKit.PrivateKey,
			PublicKey:   sc.ImageKit.PublicKey,
			URLEndpoint: sc.ImageKit.URLEndpoint,
			Timeout:     a.Config.RequestTimeout(),
		})
		if err != nil {
			return fmt.Errorf("imagekit image host: %w", err)
		}
		a.Host = host
	case "memory", "":
		a.Host = storememory.NewImageHost()
	default:
		return fmt.Errorf("unknown image host %q", sc.ImageHost)
	}
	return nil
}

// buildStrategies returns the enabled strategies, solver first.
func (a *App) buildStrategies() ([]crawler.Strategy, error) {
	cfg := a.Config
	var out []crawler.Strategy
	if cfg.Solver.Enabled {
		s, err := solver.New(solver.Config{
			URL:          cfg.Solver.URL,
			MaxTimeout:   time.Duration(cfg.Solver.MaxTimeoutMs) * time.Millisecond,
			ProbeTimeout: time.Duration(cfg.Solver.ProbeTimeoutSec) * time.Second,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("solver strategy: %w", err)
		}
		out = append(out, s)
	}
	if cfg.Headless.Enabled {
		hc := cfg.Headless
		b, err := headless.NewChromedp(headless.Config{
			ProfileDir:        hc.ProfileDir,
			Headless:          hc.Headless,
			MaxParallel:       hc.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(hc.NavTimeoutSec) * time.Second,
			ChallengeAttempts: hc.ChallengeAttempts,
			ChallengeWait:     time.Duration(hc.ChallengeWaitMs) * time.Millisecond,
			ScrollSteps:       hc.ScrollSteps,
			ScrollDelta:       float64(hc.ScrollDelta),
			ScrollWait:        time.Duration(hc.ScrollWaitMs) * time.Millisecond,
			Settle:            time.Duration(hc.SettleMs) * time.Millisecond,
		}, a.Logger.Named("headless"))
		if err != nil {
			return nil, fmt.Errorf("browser strategy: %w", err)
		}
		a.closers = append(a.closers, b.Close)
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, errors.New("no fetch strategy enabled")
	}
	return out, nil
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.Config.PubSub.ProjectID == "" {
		return pubmemory.New(), nil
	}
	p, err := pubsub.NewFromProject(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := p.Close(); err != nil {
			a.Logger.Warn("close pubsub publisher", zap.Error(err))
		}
	})
	a.Logger.Info("publishing chapter events to pubsub",
		zap.String("project", a.Config.PubSub.ProjectID),
		zap.String("topic", a.Config.PubSub.TopicName),
	)
	return p, nil
}

func selectors(sc config.SelectorsConfig) extract.Selectors {
	return extract.Selectors{
		CatalogItem:    sc.CatalogItem,
		CatalogTitle:   sc.CatalogTitle,
		CatalogImage:   sc.CatalogImage,
		CatalogLatest:  sc.CatalogLatest,
		StoryTitle:     sc.StoryTitle,
		StoryDesc:      sc.StoryDesc,
		StoryThumbnail: sc.StoryThumbnail,
		StoryAuthor:    sc.StoryAuthor,
		StoryStatus:    sc.StoryStatus,
		StoryGenres:    sc.StoryGenres,
		ChapterRows:    sc.ChapterRows,
		ChapterImages:  sc.ChapterImages,
	}
}

// Close shuts down everything New opened, most recent first. It is safe to
// call more than once.
func (a *App) Close() {
	if a.closers == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.Logger.Info("application services closed")
	_ = a.Logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}
