package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	NHTSA      NHTSAConfig      `yaml:"nhtsa" mapstructure:"nhtsa"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Roles      RolesConfig      `yaml:"roles" mapstructure:"roles"`
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the audit log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	NoBatch   bool   `yaml:"no_batch" mapstructure:"no_batch"`
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings (search fallback).
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// FirecrawlConfig holds Firecrawl API settings (scrape fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// NHTSAConfig configures the VIN decode and recall registries.
type NHTSAConfig struct {
	VPICBaseURL    string  `yaml:"vpic_base_url" mapstructure:"vpic_base_url"`
	RecallsBaseURL string  `yaml:"recalls_base_url" mapstructure:"recalls_base_url"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// EnrichConfig configures identity resolution and the enrichment fan-out.
type EnrichConfig struct {
	BranchTimeoutSecs int `yaml:"branch_timeout_secs" mapstructure:"branch_timeout_secs"`
	DecodeTimeoutSecs int `yaml:"decode_timeout_secs" mapstructure:"decode_timeout_secs"`
	SearchRetries     int `yaml:"search_retries" mapstructure:"search_retries"`
	RetryBackoffMs    int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	BreakerThreshold  int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// RolesConfig points at a role rule file that replaces the built-in rules.
type RolesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// GenerationConfig configures the generation job runner.
type GenerationConfig struct {
	PollIntervalMs int    `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPolls       int    `yaml:"max_polls" mapstructure:"max_polls"`
	OutputMode     string `yaml:"output_mode" mapstructure:"output_mode"`
	MaxPhotoBytes  int64  `yaml:"max_photo_bytes" mapstructure:"max_photo_bytes"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AuditConfig configures the fire-and-forget audit sink.
type AuditConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	WriteTimeoutSecs int  `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "deal-report.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.write_timeout_secs", 5)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("nhtsa.vpic_base_url", "https://vpic.nhtsa.dot.gov/api")
	v.SetDefault("nhtsa.recalls_base_url", "https://api.nhtsa.gov")
	v.SetDefault("nhtsa.rate_limit_rps", 5)
	v.SetDefault("enrich.branch_timeout_secs", 5)
	v.SetDefault("enrich.decode_timeout_secs", 5)
	v.SetDefault("enrich.search_retries", 1)
	v.SetDefault("enrich.retry_backoff_ms", 250)
	v.SetDefault("enrich.breaker_threshold", 5)
	v.SetDefault("enrich.breaker_reset_secs", 30)
	v.SetDefault("roles.path", "")
	v.SetDefault("generation.poll_interval_ms", 2000)
	v.SetDefault("generation.timeout_secs", 60)
	v.SetDefault("generation.max_polls", 30)
	v.SetDefault("generation.output_mode", "markdown")
	v.SetDefault("generation.max_photo_bytes", 5*1024*1024)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by the given command are present.
// Mode is one of "serve", "evaluate" or "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	requirePipeline := func() {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Jina.Key == "" {
			errs = append(errs, "jina.key is required")
		}
		if c.Generation.TimeoutSecs <= 0 {
			errs = append(errs, "generation.timeout_secs must be > 0")
		}
		if c.Generation.MaxPolls <= 0 {
			errs = append(errs, "generation.max_polls must be > 0")
		}
		if c.Generation.PollIntervalMs <= 0 {
			errs = append(errs, "generation.poll_interval_ms must be > 0")
		}
		switch c.Generation.OutputMode {
		case "markdown", "structured":
		default:
			errs = append(errs, "generation.output_mode must be markdown or structured")
		}
		if c.Enrich.BranchTimeoutSecs <= 0 {
			errs = append(errs, "enrich.branch_timeout_secs must be > 0")
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		requirePipeline()
		if c.Audit.Enabled {
			requireStore()
		}
	case "evaluate":
		requirePipeline()
		if c.Audit.Enabled {
			requireStore()
		}
	case "migrate":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
