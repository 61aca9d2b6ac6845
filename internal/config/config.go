// Package config loads settings from defaults, an optional YAML file, .env and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"sitemap-ingestor/internal/backoff"
	"sitemap-ingestor/internal/crawler"
	"sitemap-ingestor/internal/embedding"
	"sitemap-ingestor/internal/generate"
	"sitemap-ingestor/internal/store"
	"sitemap-ingestor/pkg/logger"
)

type Config struct {
	Logging    logger.Config    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Backoff    backoff.Config   `mapstructure:"backoff"`
	Tokenizer  TokenizerConfig  `mapstructure:"tokenizer"`
	Embedding  embedding.Config `mapstructure:"embedding"`
	Store      store.Config     `mapstructure:"store"`
	Generation generate.Config  `mapstructure:"generation"`
	Server     ServerConfig     `mapstructure:"server"`
}

type CrawlerConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	MaxSitemapBytes   int64         `mapstructure:"max_sitemap_bytes"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type IngestConfig struct {
	Collection      string `mapstructure:"collection"`
	Concurrency     int    `mapstructure:"concurrency"`
	Overwrite       bool   `mapstructure:"overwrite"`
	StrictAdmission bool   `mapstructure:"strict_admission"`
	SnippetLength   int    `mapstructure:"snippet_length"`
}

type RateLimitConfig struct {
	TokensPerMinute int           `mapstructure:"tokens_per_minute"`
	Window          time.Duration `mapstructure:"window"`
	ResetWait       time.Duration `mapstructure:"reset_wait"`
}

type TokenizerConfig struct {
	Model string `mapstructure:"model"`
}

type ServerConfig struct {
	Address    string `mapstructure:"address"`
	Schedule   string `mapstructure:"schedule"`
	SitemapURL string `mapstructure:"sitemap_url"`
	MaxURLs    int    `mapstructure:"max_urls"`
}

// envAliases maps config keys to the additional environment names they accept.
var envAliases = map[string][]string{
	"embedding.openai.api_key":     {"OPENAI_API_KEY"},
	"embedding.azure.api_key":      {"AZURE_OPENAI_API_KEY"},
	"embedding.azure.endpoint":     {"AZURE_ENDPOINT"},
	"embedding.azure.api_version":  {"AZURE_API_VERSION"},
	"generation.openai.api_key":    {"OPENAI_API_KEY"},
	"generation.azure.api_key":     {"AZURE_OPENAI_API_KEY"},
	"generation.azure.endpoint":    {"AZURE_ENDPOINT"},
	"generation.azure.api_version": {"AZURE_API_VERSION"},
	"generation.anthropic.api_key": {"ANTHROPIC_API_KEY"},
	"generation.model":             {"MODEL_NAME"},
	"logging.level":                {"LOG_LEVEL"},
}

// Load reads configuration. path may be empty, in which case config.yaml is looked up
// in . and ./config and is optional.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for key, names := range envAliases {
		// the canonical name keeps precedence over the aliases
		args := append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stderr"})

	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.timeout", "15s")
	v.SetDefault("crawler.dial_timeout", "5s")
	v.SetDefault("crawler.max_body_bytes", crawler.DefaultSizeCap)
	v.SetDefault("crawler.max_sitemap_bytes", crawler.DefaultSitemapSizeCap)
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)

	v.SetDefault("ingest.collection", store.DefaultCollection)
	v.SetDefault("ingest.concurrency", 16)
	v.SetDefault("ingest.overwrite", true)
	v.SetDefault("ingest.strict_admission", false)
	v.SetDefault("ingest.snippet_length", 200)

	v.SetDefault("rate_limit.tokens_per_minute", 240000)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.reset_wait", "100s")

	v.SetDefault("backoff.max_attempts", 8)
	v.SetDefault("backoff.max_elapsed", "300s")
	v.SetDefault("backoff.initial_delay", "1s")
	v.SetDefault("backoff.multiplier", 2.0)

	v.SetDefault("tokenizer.model", "text-embedding-ada-002")

	v.SetDefault("embedding.function", embedding.FunctionDefault)
	v.SetDefault("embedding.model", embedding.DefaultModel)
	v.SetDefault("embedding.dimensions", embedding.DefaultDimensions)
	v.SetDefault("embedding.openai.api_key", "")
	v.SetDefault("embedding.openai.base_url", "")
	v.SetDefault("embedding.azure.api_key", "")
	v.SetDefault("embedding.azure.endpoint", "")
	v.SetDefault("embedding.azure.api_version", "")
	v.SetDefault("embedding.azure.deployment", "")

	v.SetDefault("store.backend", store.BackendSQLite)
	v.SetDefault("store.sqlite.path", store.DefaultSQLitePath)
	v.SetDefault("store.redis.address", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "sitemap")
	v.SetDefault("store.elasticsearch.url", "http://localhost:9200")
	v.SetDefault("store.elasticsearch.username", "")
	v.SetDefault("store.elasticsearch.password", "")
	v.SetDefault("store.elasticsearch.api_key", "")

	v.SetDefault("generation.provider", generate.ProviderAnthropic)
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.max_tokens", generate.DefaultMaxTokens)
	v.SetDefault("generation.system_prompt", generate.DefaultSystemPrompt)
	v.SetDefault("generation.max_retries", 2)
	v.SetDefault("generation.anthropic.api_key", "")
	v.SetDefault("generation.anthropic.base_url", "")
	v.SetDefault("generation.openai.api_key", "")
	v.SetDefault("generation.openai.base_url", "")
	v.SetDefault("generation.azure.api_key", "")
	v.SetDefault("generation.azure.endpoint", "")
	v.SetDefault("generation.azure.api_version", "")
	v.SetDefault("generation.azure.deployment", "")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.schedule", "")
	v.SetDefault("server.sitemap_url", "")
	v.SetDefault("server.max_urls", 0)
}

// Validate rejects settings that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimit.TokensPerMinute <= 0 {
		errs = append(errs, errors.New("rate_limit.tokens_per_minute must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.RateLimit.ResetWait < 0 {
		errs = append(errs, errors.New("rate_limit.reset_wait must not be negative"))
	}
	if c.Backoff.MaxAttempts < 1 {
		errs = append(errs, errors.New("backoff.max_attempts must be at least 1"))
	}
	if c.Backoff.Multiplier <= 1 {
		errs = append(errs, errors.New("backoff.multiplier must be greater than 1"))
	}
	if c.Ingest.Concurrency < 1 {
		errs = append(errs, errors.New("ingest.concurrency must be at least 1"))
	}
	switch c.Embedding.Function {
	case embedding.FunctionDefault, embedding.FunctionOpenAI, embedding.FunctionAzure:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.function %q", c.Embedding.Function))
	}
	switch c.Store.Backend {
	case store.BackendMemory, store.BackendSQLite, store.BackendRedis, store.BackendElasticsearch:
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	switch c.Generation.Provider {
	case generate.ProviderAnthropic, generate.ProviderOpenAI, generate.ProviderAzure:
	default:
		errs = append(errs, fmt.Errorf("unknown generation.provider %q", c.Generation.Provider))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
