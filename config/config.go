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

// Config holds all configuration for the assistant pipeline
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Gate      GateConfig      `mapstructure:"gate"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Router    RouterConfig    `mapstructure:"router"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Chunk     ChunkConfig     `mapstructure:"chunk"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
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

// LLMConfig points at the Ollama-compatible model runtime and names the
// models used per request kind.
type LLMConfig struct {
	BaseURL    string           `mapstructure:"base_url"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	MaxRetries int              `mapstructure:"max_retries"`
	Models     LLMRoutingConfig `mapstructure:"models"`
}

// LLMRoutingConfig defines which model serves each routed request kind.
type LLMRoutingConfig struct {
	Text      string `mapstructure:"text"`
	Code      string `mapstructure:"code"`
	Image     string `mapstructure:"image"`
	Embedding string `mapstructure:"embedding"`
	Fallback  string `mapstructure:"fallback"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.BaseURL) == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if strings.TrimSpace(l.Models.Text) == "" {
		return fmt.Errorf("llm.models.text is required")
	}
	if strings.TrimSpace(l.Models.Embedding) == "" {
		return fmt.Errorf("llm.models.embedding is required")
	}
	return nil
}

// GateConfig controls device binding and account locking.
type GateConfig struct {
	Window      time.Duration  `mapstructure:"window"`
	PlanDevices map[string]int `mapstructure:"plan_devices"`
	DefaultPlan string         `mapstructure:"default_plan"`
}

// DevicesFor returns the device cap for a plan, falling back to the
// default plan's cap.
func (g GateConfig) DevicesFor(plan string) int {
	if n, ok := g.PlanDevices[plan]; ok && n > 0 {
		return n
	}
	if n, ok := g.PlanDevices[g.DefaultPlan]; ok && n > 0 {
		return n
	}
	return 1
}

func (g GateConfig) Validate() error {
	if g.Window <= 0 {
		return fmt.Errorf("gate.window must be positive")
	}
	if len(g.PlanDevices) == 0 {
		return fmt.Errorf("gate.plan_devices must name at least one plan")
	}
	return nil
}

// RateLimitConfig controls the sliding-window request limiter.
type RateLimitConfig struct {
	Ceiling int           `mapstructure:"ceiling"`
	Window  time.Duration `mapstructure:"window"`
}

func (r RateLimitConfig) Validate() error {
	if r.Ceiling <= 0 {
		return fmt.Errorf("ratelimit.ceiling must be positive")
	}
	if r.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive")
	}
	return nil
}

// RouterConfig controls intent classification.
type RouterConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// KnowledgeConfig controls embedding dimensions and retrieval defaults.
type KnowledgeConfig struct {
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions"`
	TopK                int     `mapstructure:"top_k"`
	ScoreThreshold      float64 `mapstructure:"score_threshold"`
	DedupThreshold      float64 `mapstructure:"dedup_threshold"`
}

func (k KnowledgeConfig) Validate() error {
	if k.EmbeddingDimensions <= 0 {
		return fmt.Errorf("knowledge.embedding_dimensions must be positive")
	}
	if k.TopK <= 0 {
		return fmt.Errorf("knowledge.top_k must be positive")
	}
	return nil
}

// ChunkConfig controls document splitting before embedding.
type ChunkConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

func (c ChunkConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk.size must be positive")
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size)")
	}
	return nil
}

// ScrapeConfig controls page fetching and batch ingestion.
type ScrapeConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	BatchLimit int           `mapstructure:"batch_limit"`
	Headless   bool          `mapstructure:"headless"`
	UserAgent  string        `mapstructure:"user_agent"`
	Schedule   string        `mapstructure:"schedule"`
}

func (s ScrapeConfig) Validate() error {
	if s.Timeout <= 0 {
		return fmt.Errorf("scrape.timeout must be positive")
	}
	if s.BatchLimit <= 0 {
		return fmt.Errorf("scrape.batch_limit must be positive")
	}
	return nil
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// Enabled reports whether a Redis endpoint is configured. When it is
// not, the in-memory gate and limiter stores are used instead.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
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

// DSN assembles a connection string from the discrete fields unless an
// explicit URL is configured.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, ssl)
}

func setDefaults() {
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("llm.base_url", "http://localhost:11434")
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("llm.max_retries", 2)
	viper.SetDefault("llm.models.text", "llama3.1:8b")
	viper.SetDefault("llm.models.code", "codellama:13b")
	viper.SetDefault("llm.models.image", "sdxl-turbo")
	viper.SetDefault("llm.models.embedding", "nomic-embed-text")
	viper.SetDefault("llm.models.fallback", "llama3.1:8b")
	viper.SetDefault("gate.window", "24h")
	viper.SetDefault("gate.plan_devices", map[string]int{"free": 1, "pro": 3, "enterprise": 10})
	viper.SetDefault("gate.default_plan", "free")
	viper.SetDefault("ratelimit.ceiling", 5)
	viper.SetDefault("ratelimit.window", "1s")
	viper.SetDefault("router.confidence_threshold", 0.4)
	viper.SetDefault("knowledge.embedding_dimensions", 768)
	viper.SetDefault("knowledge.top_k", 3)
	viper.SetDefault("knowledge.score_threshold", 0.5)
	viper.SetDefault("knowledge.dedup_threshold", 0.95)
	viper.SetDefault("chunk.size", 800)
	viper.SetDefault("chunk.overlap", 100)
	viper.SetDefault("scrape.timeout", "30s")
	viper.SetDefault("scrape.batch_limit", 10)
	viper.SetDefault("scrape.headless", true)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_path", "/metrics")
	viper.SetDefault("storage.redis.timeout", "5s")
}

// LoadConfig loads config from file. Every key has a default, so a
// missing config file falls back to defaults plus PRISM_* env vars.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("PRISM")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (PRISM_*)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	for _, v := range []interface{ Validate() error }{
		config.LLM, config.Gate, config.RateLimit,
		config.Knowledge, config.Chunk, config.Scrape,
		config.Storage.Postgres,
	} {
		if err := v.Validate(); err != nil {
			panic(err)
		}
	}
	return &config
}
