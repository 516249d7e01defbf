// Package config loads and validates ripper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. RIPPER_OUTPUT_ROOT_DIR.
const EnvPrefix = "RIPPER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Output       OutputConfig       `mapstructure:"output"`
	History      HistoryConfig      `mapstructure:"history"`
	Descriptions DescriptionsConfig `mapstructure:"descriptions"`
	File         FileConfig         `mapstructure:"file"`
	Download     DownloadConfig     `mapstructure:"download"`
	AlbumTitles  AlbumTitlesConfig  `mapstructure:"album_titles"`
	URLsOnly     URLsOnlyConfig     `mapstructure:"urls_only"`
	Pool         PoolConfig         `mapstructure:"pool"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Headless     HeadlessConfig     `mapstructure:"headless"`
	Strategy     StrategyConfig     `mapstructure:"strategy"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Publisher    PublisherConfig    `mapstructure:"publisher"`
	Server       ServerConfig       `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// OutputConfig sets where working directories are created.
type OutputConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

// HistoryConfig controls early termination on previously seen items.
type HistoryConfig struct {
	EndRipAfterAlreadySeen int `mapstructure:"end_rip_after_already_seen"`
}

// DescriptionsConfig toggles saving description texts.
type DescriptionsConfig struct {
	Save bool `mapstructure:"save"`
}

// FileConfig controls overwriting of existing downloads.
type FileConfig struct {
	Overwrite bool `mapstructure:"overwrite"`
}

// DownloadConfig controls file naming and per-download limits.
type DownloadConfig struct {
	SaveOrder bool          `mapstructure:"save_order"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// AlbumTitlesConfig toggles naming working directories after album titles.
type AlbumTitlesConfig struct {
	Save bool `mapstructure:"save"`
}

// URLsOnlyConfig switches the rip to writing locators instead of downloading.
type URLsOnlyConfig struct {
	Save bool `mapstructure:"save"`
}

// PoolConfig sizes the download pool.
type PoolConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// HTTPConfig configures the colly transport.
type HTTPConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// RateLimitConfig configures per-host download pacing.
type RateLimitConfig struct {
	RPS     float64            `mapstructure:"rps"`
	Burst   int                `mapstructure:"burst"`
	PerHost map[string]float64 `mapstructure:"per_host"`
}

// RetryConfig configures download retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
	ItemMarkers        []string      `mapstructure:"item_markers"`
	WaitSelector       string        `mapstructure:"wait_selector"`
	ScrollPasses       int           `mapstructure:"scroll_passes"`
}

// StrategyConfig describes how the selector strategy reads a site.
type StrategyConfig struct {
	ItemSelector            string            `mapstructure:"item_selector"`
	ItemAttrs               []string          `mapstructure:"item_attrs"`
	NextSelector            string            `mapstructure:"next_selector"`
	DescriptionSelector     string            `mapstructure:"description_selector"`
	DescriptionTextSelector string            `mapstructure:"description_text_selector"`
	AlbumListPattern        string            `mapstructure:"album_list_pattern"`
	AlbumSelector           string            `mapstructure:"album_selector"`
	TitleSelector           string            `mapstructure:"title_selector"`
	KeepSortOrder           bool              `mapstructure:"keep_sort_order"`
	AllowDuplicates         bool              `mapstructure:"allow_duplicates"`
	DescSleep               time.Duration     `mapstructure:"desc_sleep"`
	SendReferrer            bool              `mapstructure:"send_referrer"`
	InferExtension          bool              `mapstructure:"infer_extension"`
	Cookies                 map[string]string `mapstructure:"cookies"`
}

// ProgressConfig sizes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// StorageConfig selects where completed files are mirrored.
type StorageConfig struct {
	// Backend is "", "local" or "gcs". Empty disables mirroring.
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DatabaseConfig controls access to the progress database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// PublisherConfig holds Pub/Sub settings for rip summaries.
type PublisherConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load over a caller-supplied Viper, so command flags bound to v
// take precedence over the file and environment.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("logging.development", false)
	v.SetDefault("output.root_dir", "rips")
	v.SetDefault("history.end_rip_after_already_seen", 0)
	v.SetDefault("descriptions.save", false)
	v.SetDefault("file.overwrite", false)
	v.SetDefault("download.save_order", true)
	v.SetDefault("download.timeout", "60s")
	v.SetDefault("album_titles.save", true)
	v.SetDefault("urls_only.save", false)
	v.SetDefault("pool.workers", 4)
	v.SetDefault("pool.queue_depth", 256)
	v.SetDefault("http.user_agent", "album-ripper/0.1")
	v.SetDefault("http.timeout", "20s")
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("rate_limit.rps", 4.0)
	v.SetDefault("rate_limit.burst", 2)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "250ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.scroll_passes", 0)
	v.SetDefault("strategy.item_selector", "img")
	v.SetDefault("strategy.item_attrs", []string{"data-src", "src"})
	v.SetDefault("strategy.next_selector", `a[rel="next"]`)
	v.SetDefault("strategy.description_text_selector", "body")
	v.SetDefault("strategy.title_selector", "title")
	v.SetDefault("strategy.keep_sort_order", true)
	v.SetDefault("strategy.desc_sleep", "100ms")
	v.SetDefault("strategy.send_referrer", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.log_events", true)
	v.SetDefault("storage.prefix", "rips")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.ensure_schema", true)
	v.SetDefault("publisher.topic", "rip-summaries")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", "30s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Output.RootDir == "" {
		return errors.New("output.root_dir is required")
	}
	if c.Pool.Workers <= 0 {
		return errors.New("pool.workers must be > 0")
	}
	if c.Pool.QueueDepth <= 0 {
		return errors.New("pool.queue_depth must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be > 0")
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return errors.New("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Strategy.ItemSelector == "" {
		return errors.New("strategy.item_selector is required")
	}
	switch c.Storage.Backend {
	case "":
	case "local":
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		return errors.New("database.min_conns must not exceed database.max_conns")
	}
	if c.Publisher.Enabled && (c.Publisher.ProjectID == "" || c.Publisher.Topic == "") {
		return errors.New("publisher.project_id and publisher.topic are required when the publisher is enabled")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return errors.New("server.addr is required when the server is enabled")
	}
	return nil
}
