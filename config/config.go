package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Index     IndexConfig     `mapstructure:"index"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings.
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

// EngineConfig bounds a single research session.
type EngineConfig struct {
	MaxResearchLoops            int  `mapstructure:"max_research_loops"`
	InitialQueryCount           int  `mapstructure:"initial_query_count"`
	RequirePlanningConfirmation bool `mapstructure:"require_planning_confirmation"`
	MaxParallel                 int  `mapstructure:"max_parallel"`
	TokenBudget                 int  `mapstructure:"token_budget"`
}

// Normalize applies defaults for unset engine values.
func (e EngineConfig) Normalize() EngineConfig {
	if e.MaxResearchLoops <= 0 {
		e.MaxResearchLoops = 3
	}
	if e.InitialQueryCount <= 0 {
		e.InitialQueryCount = 3
	}
	if e.MaxParallel <= 0 {
		e.MaxParallel = 8
	}
	if e.TokenBudget <= 0 {
		e.TokenBudget = 4000
	}
	return e
}

// LLMConfig describes the generation/embedding capability endpoint.
type LLMConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	Model               string        `mapstructure:"model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Temperature         float64       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	MaxRetries          int           `mapstructure:"max_retries"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if strings.TrimSpace(l.EmbeddingModel) == "" {
		return fmt.Errorf("llm.embedding_model is required")
	}
	return nil
}

// SearchConfig contains search coordinator and provider settings.
type SearchConfig struct {
	ProviderPriority []string             `mapstructure:"provider_priority"`
	MaxResults       int                  `mapstructure:"max_results"`
	Timeout          time.Duration        `mapstructure:"timeout"`
	CacheTTL         time.Duration        `mapstructure:"cache_ttl"`
	Brave            BraveConfig          `mapstructure:"brave"`
	Serper           SerperConfig         `mapstructure:"serper"`
	SearxNG          SearxNGConfig        `mapstructure:"searxng"`
	Breaker          CircuitBreakerConfig `mapstructure:"breaker"`
	Enrich           EnrichConfig         `mapstructure:"enrich"`
}

// BraveConfig contains Brave web search settings.
type BraveConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// SerperConfig contains Serper web search settings.
type SerperConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// SearxNGConfig points at a self-hosted SearxNG instance.
type SearxNGConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// CircuitBreakerConfig is an explicit opt-in: a provider that failed
// Threshold times in a row within Window is skipped until the window expires.
type CircuitBreakerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

// EnrichConfig controls readable-content extraction for top search hits.
type EnrichConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TopK    int           `mapstructure:"top_k"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset search values.
func (s SearchConfig) Normalize() SearchConfig {
	if len(s.ProviderPriority) == 0 {
		s.ProviderPriority = []string{"brave", "serper"}
	}
	if s.MaxResults <= 0 {
		s.MaxResults = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 15 * time.Second
	}
	if s.CacheTTL <= 0 {
		s.CacheTTL = 10 * time.Minute
	}
	if s.Breaker.Threshold <= 0 {
		s.Breaker.Threshold = 3
	}
	if s.Breaker.Window <= 0 {
		s.Breaker.Window = time.Minute
	}
	if s.Enrich.TopK <= 0 {
		s.Enrich.TopK = 2
	}
	if s.Enrich.Timeout <= 0 {
		s.Enrich.Timeout = 10 * time.Second
	}
	return s
}

// IndexConfig controls the hybrid evidence index.
type IndexConfig struct {
	Active              string `mapstructure:"active"` // memory or postgres
	DualWrite           bool   `mapstructure:"dual_write"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions"`
	MaintenanceCron     string `mapstructure:"maintenance_cron"`
}

func (i IndexConfig) Validate() error {
	switch i.Active {
	case "", "memory", "postgres":
	default:
		return fmt.Errorf("index.active must be 'memory' or 'postgres', got %q", i.Active)
	}
	return nil
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings.
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

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings.
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

// DSN builds a connection string from the discrete fields when URL is unset.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// TelemetryConfig contains metrics settings.
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

// LoadConfig loads config from file, with SCOUT_* env overrides.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("engine.max_research_loops", 3)
	viper.SetDefault("engine.initial_query_count", 3)
	viper.SetDefault("engine.max_parallel", 8)
	viper.SetDefault("engine.token_budget", 4000)
	viper.SetDefault("search.provider_priority", []string{"brave", "serper"})
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("index.active", "memory")
	viper.SetDefault("index.dual_write", true)
	viper.SetDefault("index.embedding_dimensions", 1536)
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")

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

	viper.SetEnvPrefix("SCOUT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	config.Engine = config.Engine.Normalize()
	config.Search = config.Search.Normalize()

	if err := config.Server.Validate(); err != nil {
		return nil, err
	}
	if err := config.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := config.Index.Validate(); err != nil {
		return nil, err
	}
	if err := config.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
