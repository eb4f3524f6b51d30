// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Solver   SolverConfig   `mapstructure:"solver"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Images   ImagesConfig   `mapstructure:"images"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SiteConfig describes the crawled site.
type SiteConfig struct {
	BaseURL         string          `mapstructure:"base_url"`
	StoryPath       string          `mapstructure:"story_path"`
	ChapterPrefixes []string        `mapstructure:"chapter_prefixes"`
	Selectors       SelectorsConfig `mapstructure:"selectors"`
}

// SelectorsConfig overrides extractor selectors. Empty values keep the
// built-in defaults.
type SelectorsConfig struct {
	CatalogItem    string `mapstructure:"catalog_item"`
	CatalogTitle   string `mapstructure:"catalog_title"`
	CatalogImage   string `mapstructure:"catalog_image"`
	CatalogLatest  string `mapstructure:"catalog_latest"`
	StoryTitle     string `mapstructure:"story_title"`
	StoryDesc      string `mapstructure:"story_description"`
	StoryThumbnail string `mapstructure:"story_thumbnail"`
	StoryAuthor    string `mapstructure:"story_author"`
	StoryStatus    string `mapstructure:"story_status"`
	StoryGenres    string `mapstructure:"story_genres"`
	ChapterRows    string `mapstructure:"chapter_rows"`
	ChapterImages  string `mapstructure:"chapter_images"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the job submission endpoint with a static key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs orchestration and background job behavior.
type CrawlerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	QueueDepth  int    `mapstructure:"queue_depth"`
	UserAgent   string `mapstructure:"user_agent"`
	RelayCovers bool   `mapstructure:"relay_covers"`
	CoverFolder string `mapstructure:"cover_folder"`
}

// HTTPConfig configures plain HTTP requests (image downloads, uploads).
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SolverConfig configures the challenge-solving service.
type SolverConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url"`
	MaxTimeoutMs    int    `mapstructure:"max_timeout_ms"`
	ProbeTimeoutSec int    `mapstructure:"probe_timeout_seconds"`
}

// HeadlessConfig configures the browser automation strategy.
type HeadlessConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Headless          bool   `mapstructure:"headless"`
	ProfileDir        string `mapstructure:"profile_dir"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	ChallengeAttempts int    `mapstructure:"challenge_attempts"`
	ChallengeWaitMs   int    `mapstructure:"challenge_wait_ms"`
	ScrollSteps       int    `mapstructure:"scroll_steps"`
	ScrollDelta       int    `mapstructure:"scroll_delta"`
	ScrollWaitMs      int    `mapstructure:"scroll_wait_ms"`
	SettleMs          int    `mapstructure:"settle_ms"`
}

// ImagesConfig sizes the chapter image pipeline.
type ImagesConfig struct {
	Workers           int     `mapstructure:"workers"`
	MinBytes          int     `mapstructure:"min_bytes"`
	FolderPrefix      string  `mapstructure:"folder_prefix"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StorageConfig selects and configures the image host.
type StorageConfig struct {
	ImageHost string         `mapstructure:"image_host"`
	Local     LocalConfig    `mapstructure:"local"`
	GCS       GCSConfig      `mapstructure:"gcs"`
	ImageKit  ImageKitConfig `mapstructure:"imagekit"`
}

// LocalConfig configures the filesystem image host.
type LocalConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// GCSConfig configures the Cloud Storage image host.
type GCSConfig struct {
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// ImageKitConfig configures the ImageKit image host.
type ImageKitConfig struct {
	PrivateKey  string `mapstructure:"private_key"`
	PublicKey   string `mapstructure:"public_key"`
	URLEndpoint string `mapstructure:"url_endpoint"`
}

// DBConfig controls access to the document store.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. Events go
// to Cloud Pub/Sub when ProjectID is set and stay in memory otherwise.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MANGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://nettruyen.me.uk")
	v.SetDefault("site.story_path", "truyen-tranh")
	v.SetDefault("site.chapter_prefixes", []string{"chuong", "chap", "chapter"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("crawler.relay_covers", true)
	v.SetDefault("crawler.cover_folder", "manga/covers")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("solver.enabled", true)
	v.SetDefault("solver.url", "http://localhost:8191")
	v.SetDefault("solver.max_timeout_ms", 60000)
	v.SetDefault("solver.probe_timeout_seconds", 5)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.headless", true)
	v.SetDefault("headless.profile_dir", "browser_profile")
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 60)
	v.SetDefault("headless.challenge_attempts", 3)
	v.SetDefault("headless.challenge_wait_ms", 5000)
	v.SetDefault("headless.scroll_steps", 10)
	v.SetDefault("headless.scroll_delta", 1000)
	v.SetDefault("headless.scroll_wait_ms", 1000)
	v.SetDefault("headless.settle_ms", 3000)
	v.SetDefault("images.workers", 6)
	v.SetDefault("images.min_bytes", 1000)
	v.SetDefault("images.folder_prefix", "manga")
	v.SetDefault("images.requests_per_second", 0)
	v.SetDefault("images.burst", 1)
	v.SetDefault("storage.image_host", "memory")
	v.SetDefault("storage.local.base_dir", "data/images")
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.topic_name", "manga-chapters")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if u, err := url.Parse(c.Site.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute URL")
	}
	if len(c.Site.ChapterPrefixes) == 0 {
		return fmt.Errorf("site.chapter_prefixes must not be empty")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if !c.Solver.Enabled && !c.Headless.Enabled {
		return fmt.Errorf("solver.enabled or headless.enabled must be true")
	}
	if c.Solver.Enabled && c.Solver.URL == "" {
		return fmt.Errorf("solver.url must be set when the solver is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Images.Workers <= 0 {
		return fmt.Errorf("images.workers must be > 0")
	}
	if c.Images.MinBytes < 0 {
		return fmt.Errorf("images.min_bytes must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.ImageHost {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs image host")
		}
	case "imagekit":
		if c.Storage.ImageKit.PrivateKey == "" {
			return fmt.Errorf("storage.imagekit.private_key must be set for the imagekit image host")
		}
	default:
		return fmt.Errorf("storage.image_host %q is not supported", c.Storage.ImageHost)
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	return nil
}

// RequestTimeout converts http.timeout_seconds into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
