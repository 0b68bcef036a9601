package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrMissingAPIKey = errors.New("completion service API key is not set (GAMEREC_LLM_APIKEY or GOOGLE_API_KEY)")

type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	Enrichment EnrichmentConfig
	Recommend  RecommendConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Metrics    MetricsConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	RateLimitPerMinute int
	AllowedOrigins     []string
}

type LLMConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
	MaxRetries  int
}

type EnrichmentConfig struct {
	Input       string
	Output      string
	TitleColumn string
	Delay       time.Duration
	RetryErrors bool
}

type RecommendConfig struct {
	Input       string
	TitleColumn string
	TopK        int
	Tokenizer   string
	Titles      []string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// MetricsConfig applies to the batch commands; the API server exposes
// /metrics instead.
type MetricsConfig struct {
	// PushgatewayURL receives the run's metrics on exit. Empty disables the push.
	PushgatewayURL string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load builds the configuration from defaults, an optional config.yaml,
// GAMEREC_* environment variables and, when given, command-line flags whose
// names match config keys (for example --enrichment.input).
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("GAMEREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("llm.apiKey", "GAMEREC_LLM_APIKEY", "GOOGLE_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind API key env: %w", err)
	}

	setDefaults(v)

	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// ValidateEnrichment reports settings the enrichment stage cannot run without.
func (c *Config) ValidateEnrichment() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.Enrichment.Input == "" || c.Enrichment.Output == "" {
		return errors.New("enrichment input and output paths are required")
	}
	if c.Enrichment.TitleColumn == "" {
		return errors.New("enrichment title column is required")
	}
	if c.Enrichment.Delay < 0 {
		return fmt.Errorf("enrichment delay must not be negative, got %s", c.Enrichment.Delay)
	}
	return nil
}

func (c *Config) ValidateRecommend() error {
	if c.Recommend.Input == "" {
		return errors.New("recommendation input path is required")
	}
	if c.Recommend.TopK <= 0 {
		return fmt.Errorf("recommend.topK must be positive, got %d", c.Recommend.TopK)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 15)
	v.SetDefault("server.writeTimeout", 15)
	v.SetDefault("server.rateLimitPerMinute", 120)

	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.baseURL", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 512)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.maxRetries", 1)

	v.SetDefault("enrichment.input", "data/raw_games.csv")
	v.SetDefault("enrichment.output", "data/enriched_games.csv")
	v.SetDefault("enrichment.titleColumn", "game_title")
	v.SetDefault("enrichment.delay", 5*time.Second)
	v.SetDefault("enrichment.retryErrors", false)

	v.SetDefault("recommend.input", "data/enriched_games.csv")
	v.SetDefault("recommend.titleColumn", "game_title")
	v.SetDefault("recommend.topK", 5)
	v.SetDefault("recommend.tokenizer", "word")
	v.SetDefault("recommend.titles", []string{"Valorant", "Elden Ring", "Minecraft"})

	v.SetDefault("sqlite.path", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 30*24*time.Hour)

	v.SetDefault("metrics.pushgatewayURL", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")
}
