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

// Config holds all configuration for the research system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	return nil
}

// LLMConfig selects the completion provider and model
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, anthropic, gemini
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0,2]")
	}
	if l.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must be >= 0")
	}
	return nil
}

// SearchConfig selects the web search provider
type SearchConfig struct {
	Provider   string `mapstructure:"provider"` // serper, brave
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "serper", "brave":
	default:
		return fmt.Errorf("search.provider must be serper or brave, got %q", s.Provider)
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	return nil
}

// FetchConfig selects the page fetcher
type FetchConfig struct {
	Type      string        `mapstructure:"type"` // chromedp, http
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

func (f FetchConfig) Validate() error {
	switch f.Type {
	case "chromedp", "http":
	default:
		return fmt.Errorf("fetch.type must be chromedp or http, got %q", f.Type)
	}
	return nil
}

// EngineConfig bounds the research loops
type EngineConfig struct {
	ResearcherIterations int `mapstructure:"researcher_iterations"`
	SupervisorIterations int `mapstructure:"supervisor_iterations"`
	ClarifierRounds      int `mapstructure:"clarifier_rounds"`
}

func (e EngineConfig) Validate() error {
	if e.ResearcherIterations <= 0 || e.SupervisorIterations <= 0 {
		return fmt.Errorf("engine iteration budgets must be > 0")
	}
	if e.ClarifierRounds < 1 {
		return fmt.Errorf("engine.clarifier_rounds must be >= 1")
	}
	return nil
}

// StorageConfig selects the fact store backend
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // memory, redis, postgres
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

func (s StorageConfig) Validate() error {
	switch s.Backend {
	case "memory":
		return nil
	case "redis":
		return s.Redis.Validate()
	case "postgres":
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("storage.backend must be memory, redis or postgres, got %q", s.Backend)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
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

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN renders the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslmode)
}

// TelemetryConfig contains metrics and cost tracking settings
type TelemetryConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	CostTracking    bool    `mapstructure:"cost_tracking"`
	CostPer1KInput  float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
	PeriodicLogs    bool    `mapstructure:"periodic_logs"`
	LogIntervalMS   int     `mapstructure:"log_interval_ms"`
}

// SchedulerConfig controls the standing-query refresher
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func (s SchedulerConfig) Validate() error {
	if s.Enabled && s.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0 when the scheduler is enabled")
	}
	return nil
}

// LoadConfig loads config from file. An empty path searches the usual
// locations; a missing file falls back to defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", time.Minute)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("search.provider", "serper")
	viper.SetDefault("search.max_results", 3)
	viper.SetDefault("fetch.type", "http")
	viper.SetDefault("fetch.timeout", 15*time.Second)
	viper.SetDefault("fetch.max_chars", 20000)
	viper.SetDefault("engine.researcher_iterations", 5)
	viper.SetDefault("engine.supervisor_iterations", 5)
	viper.SetDefault("engine.clarifier_rounds", 1)
	viper.SetDefault("storage.backend", "memory")
	viper.SetDefault("storage.redis.timeout", 5*time.Second)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.log_interval_ms", 60000)
	viper.SetDefault("scheduler.poll_interval", time.Minute)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEEPRESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	for _, validate := range []func() error{
		config.Server.Validate,
		config.LLM.Validate,
		config.Search.Validate,
		config.Fetch.Validate,
		config.Engine.Validate,
		config.Storage.Validate,
		config.Scheduler.Validate,
	} {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return &config, nil
}
