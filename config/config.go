package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the briefing pipeline
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
	Watch     WatchConfig     `mapstructure:"watch"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// LLMConfig selects and tunes the generation provider
type LLMConfig struct {
	Provider      string        `mapstructure:"provider"` // openai
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxToolRounds int           `mapstructure:"max_tool_rounds"`
}

func (l LLMConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Provider)) {
	case "openai":
	default:
		return fmt.Errorf("llm.provider %q is not supported", l.Provider)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	return nil
}

const (
	StrategyConcurrent = "concurrent"
	StrategySequential = "sequential"
)

// PipelineConfig shapes one orchestration run
type PipelineConfig struct {
	Topics         []string      `mapstructure:"topics"`
	MaxTopics      int           `mapstructure:"max_topics"`
	DefaultTopic   string        `mapstructure:"default_topic"`
	Strategy       string        `mapstructure:"strategy"` // concurrent | sequential
	WorkerTimeout  time.Duration `mapstructure:"worker_timeout"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
	FetchLimit     int           `mapstructure:"fetch_limit"`
	SummaryBullets int           `mapstructure:"summary_bullets"`
}

// Normalize applies defaults for unset pipeline values.
func (p PipelineConfig) Normalize() PipelineConfig {
	if p.MaxTopics <= 0 {
		p.MaxTopics = 3
	}
	p.DefaultTopic = strings.ToLower(strings.TrimSpace(p.DefaultTopic))
	if p.DefaultTopic == "" {
		p.DefaultTopic = "general"
	}
	p.Strategy = strings.ToLower(strings.TrimSpace(p.Strategy))
	if p.Strategy == "" {
		p.Strategy = StrategyConcurrent
	}
	if p.WorkerTimeout <= 0 {
		p.WorkerTimeout = 45 * time.Second
	}
	if p.RunTimeout <= 0 {
		p.RunTimeout = 2 * time.Minute
	}
	if p.FetchLimit <= 0 {
		p.FetchLimit = 6
	}
	if p.SummaryBullets <= 0 {
		p.SummaryBullets = 5
	}
	return p
}

func (p PipelineConfig) Validate() error {
	if p.Strategy != StrategyConcurrent && p.Strategy != StrategySequential {
		return fmt.Errorf("pipeline.strategy must be %q or %q", StrategyConcurrent, StrategySequential)
	}
	if p.WorkerTimeout >= p.RunTimeout {
		return fmt.Errorf("pipeline.worker_timeout (%s) must be shorter than pipeline.run_timeout (%s)", p.WorkerTimeout, p.RunTimeout)
	}
	if len(p.Topics) > 0 {
		found := false
		for _, t := range p.Topics {
			if strings.EqualFold(strings.TrimSpace(t), p.DefaultTopic) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("pipeline.default_topic %q is not part of pipeline.topics", p.DefaultTopic)
		}
	}
	return nil
}

// MemoryConfig controls the per-topic session memory
type MemoryConfig struct {
	Store    string        `mapstructure:"store"` // inmemory | redis
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

func (m MemoryConfig) Validate() error {
	switch m.Store {
	case "inmemory", "redis":
	default:
		return fmt.Errorf("memory.store must be inmemory or redis, got %q", m.Store)
	}
	if m.Capacity <= 0 {
		return fmt.Errorf("memory.capacity must be > 0")
	}
	return nil
}

// SourcesConfig holds the content fetch services
type SourcesConfig struct {
	NewsAPI NewsAPIConfig `mapstructure:"newsapi"`
}

type NewsAPIConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Country  string        `mapstructure:"country"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// EventsConfig controls publishing of completed runs to a Redis stream
type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string        `mapstructure:"address"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	APIKey    string        `mapstructure:"api_key"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.APIKey) != "" && strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required when server.api_key is set")
	}
	return nil
}

// WatchConfig schedules recurring briefs
type WatchConfig struct {
	Cron  string `mapstructure:"cron"`
	Query string `mapstructure:"query"`
}

// Validate checks every section that has rules.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if c.Memory.Store == "redis" || c.Events.Enabled {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_tool_rounds", 4)
	v.SetDefault("pipeline.topics", []string{"technology", "sports", "business", "science", "health", "entertainment", "general"})
	v.SetDefault("pipeline.max_topics", 3)
	v.SetDefault("pipeline.default_topic", "general")
	v.SetDefault("pipeline.strategy", StrategyConcurrent)
	v.SetDefault("pipeline.worker_timeout", "45s")
	v.SetDefault("pipeline.run_timeout", "2m")
	v.SetDefault("pipeline.fetch_limit", 6)
	v.SetDefault("pipeline.summary_bullets", 5)
	v.SetDefault("memory.store", "inmemory")
	v.SetDefault("memory.capacity", 5)
	v.SetDefault("memory.ttl", "0s")
	v.SetDefault("memory.prefix", "newsbrief:memory:")
	v.SetDefault("sources.newsapi.api_key", "")
	v.SetDefault("sources.newsapi.endpoint", "https://newsapi.org")
	v.SetDefault("sources.newsapi.country", "us")
	v.SetDefault("sources.newsapi.timeout", "15s")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.stream", "newsbrief:runs")
	v.SetDefault("events.max_len", 1000)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.token_ttl", "24h")
	v.SetDefault("watch.cron", "0 */6 * * *")
	v.SetDefault("watch.query", "")
}

// LoadConfig loads config from path, or from the usual search paths when
// path is empty. A missing config file is not an error; defaults and
// NEWSBRIEF_* environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)                                // bin/
			v.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
			v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("NEWSBRIEF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // NEWSBRIEF_LLM_API_KEY, NEWSBRIEF_PIPELINE_STRATEGY, ...

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Pipeline = cfg.Pipeline.Normalize()
	cfg.Memory.Store = strings.ToLower(strings.TrimSpace(cfg.Memory.Store))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
