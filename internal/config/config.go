// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultTopics is crawled when no topics are configured.
var DefaultTopics = []string{
	"selfie", "selfportrait", "dailylook", "selfiesunday", "selfietime",
	"instaselfie", "shamelessselfie", "faceoftheday", "me", "selfieoftheday",
	"instame", "selfiestick", "selfies",
}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Model    ModelConfig    `mapstructure:"model"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// UpstreamConfig describes the tag feed being crawled.
type UpstreamConfig struct {
	BaseURL          string   `mapstructure:"base_url"`
	UserAgent        string   `mapstructure:"user_agent"`
	PageSize         int      `mapstructure:"page_size"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	RequestsPerSec   float64  `mapstructure:"requests_per_second"`
	Burst            int      `mapstructure:"burst"`
	BundlePattern    string   `mapstructure:"bundle_pattern"`
	ProtocolPatterns []string `mapstructure:"protocol_patterns"`
}

// CrawlConfig governs the per-topic pagination loop.
type CrawlConfig struct {
	Topics               []string      `mapstructure:"topics"`
	RateLimitBackoffMin  time.Duration `mapstructure:"rate_limit_backoff_min"`
	RateLimitBackoffMax  time.Duration `mapstructure:"rate_limit_backoff_max"`
	MaxReseedAttempts    int           `mapstructure:"max_reseed_attempts"`
	TransientDelay       time.Duration `mapstructure:"transient_delay"`
	MaxTransientAttempts int           `mapstructure:"max_transient_attempts"`
	PassJitter           time.Duration `mapstructure:"pass_jitter"`
}

// PipelineConfig sizes the candidate queue and worker pool.
type PipelineConfig struct {
	Workers          int  `mapstructure:"workers"`
	QueueDepth       int  `mapstructure:"queue_depth"`
	ResultsBuf       int  `mapstructure:"results_buffer"`
	MaxStoreFailures int  `mapstructure:"max_store_failures"`
	SkipKnown        bool `mapstructure:"skip_known"`
}

// ModelConfig points at the face detection and embedding services.
type ModelConfig struct {
	DetectURL      string `mapstructure:"detect_url"`
	EmbedURL       string `mapstructure:"embed_url"`
	InputSize      int    `mapstructure:"input_size"`
	Dimension      int    `mapstructure:"dimension"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	Migrate      bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IFFSE")
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
	if len(cfg.Crawl.Topics) == 0 {
		cfg.Crawl.Topics = append([]string(nil), DefaultTopics...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("upstream.base_url", "https://www.instagram.com")
	v.SetDefault("upstream.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_12_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/61.0.3163.100 Safari/537.36")
	v.SetDefault("upstream.page_size", 6)
	v.SetDefault("upstream.timeout_seconds", 15)
	v.SetDefault("upstream.requests_per_second", 1.0)
	v.SetDefault("upstream.burst", 1)
	v.SetDefault("crawl.rate_limit_backoff_min", 30*time.Second)
	v.SetDefault("crawl.rate_limit_backoff_max", 60*time.Second)
	v.SetDefault("crawl.max_reseed_attempts", 5)
	v.SetDefault("crawl.transient_delay", 2*time.Second)
	v.SetDefault("crawl.max_transient_attempts", 3)
	v.SetDefault("crawl.pass_jitter", time.Second)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 256)
	v.SetDefault("pipeline.results_buffer", 64)
	v.SetDefault("pipeline.max_store_failures", 3)
	v.SetDefault("pipeline.skip_known", true)
	v.SetDefault("model.detect_url", "http://localhost:9000/v1/detect")
	v.SetDefault("model.embed_url", "http://localhost:9000/v1/embed")
	v.SetDefault("model.input_size", 96)
	v.SetDefault("model.dimension", 128)
	v.SetDefault("model.timeout_seconds", 30)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.min_idle_conns", 1)
	v.SetDefault("db.migrate", true)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "iffse-posts")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_size", 32)
	v.SetDefault("progress.flush_interval", 500*time.Millisecond)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.PageSize <= 0 {
		return fmt.Errorf("upstream.page_size must be > 0")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Crawl.RateLimitBackoffMin < 0 || c.Crawl.RateLimitBackoffMax < c.Crawl.RateLimitBackoffMin {
		return fmt.Errorf("crawl.rate_limit_backoff_max must be >= crawl.rate_limit_backoff_min >= 0")
	}
	if c.Crawl.MaxReseedAttempts <= 0 {
		return fmt.Errorf("crawl.max_reseed_attempts must be > 0")
	}
	if c.Crawl.MaxTransientAttempts <= 0 {
		return fmt.Errorf("crawl.max_transient_attempts must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	if c.Pipeline.MaxStoreFailures <= 0 {
		return fmt.Errorf("pipeline.max_store_failures must be > 0")
	}
	if c.Model.InputSize <= 0 || c.Model.Dimension <= 0 {
		return fmt.Errorf("model.input_size and model.dimension must be > 0")
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("db.provider %q is not supported", c.DB.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// UpstreamTimeout converts the upstream timeout into a duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// ModelTimeout converts the model timeout into a duration.
func (c Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}
