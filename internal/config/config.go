package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the recdex configuration shared by the API server and recdexctl.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Recommend RecommendConfig `yaml:"recommend"`
	Suggest   SuggestConfig   `yaml:"suggest"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port                int `yaml:"port"`
	ReadTimeoutSec      int `yaml:"read_timeout_sec"`
	WriteTimeoutSec     int `yaml:"write_timeout_sec"`
	ShutdownSec         int `yaml:"shutdown_timeout_sec"`
	RecommendTimeoutSec int `yaml:"recommend_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds the embedding provider and vectorizer settings.
// Ingestion and queries share one vectorizer so their vectors are comparable.
type EmbeddingConfig struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Vectorizer VectorizerConfig `yaml:"vectorizer"`
	Cache      CacheConfig      `yaml:"cache"`
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// VectorizerConfig holds vectorizer settings.
type VectorizerConfig struct {
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	SendDimensions      bool   `yaml:"send_dimensions"`
	Normalize           bool   `yaml:"normalize"`
	MaxBatchSize        int    `yaml:"max_batch_size"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled"`
	TTLHours int  `yaml:"ttl_hours"` // 0 = no expiry
}

// IndexConfig holds collection, HNSW and circuit breaker settings.
type IndexConfig struct {
	Collection      string `yaml:"collection"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
	UpsertBatchSize int    `yaml:"upsert_batch_size"`
	BreakerFailures uint32 `yaml:"breaker_failures"`
	BreakerOpenSec  int    `yaml:"breaker_open_sec"`
}

// RecommendConfig holds ranking sizes.
type RecommendConfig struct {
	TopK       int `yaml:"top_k"`
	CandidateK int `yaml:"candidate_k"`
	PageSize   int `yaml:"page_size"`
}

// SuggestConfig holds the curated suggestion keywords.
type SuggestConfig struct {
	Keywords []string `yaml:"keywords"`
}

// IngestConfig holds catalog source and embedding fan-out settings.
type IngestConfig struct {
	DataDir           string  `yaml:"data_dir"`
	LookbackDays      int     `yaml:"lookback_days"`
	EmbedBatchSize    int     `yaml:"embed_batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unthrottled
	Burst             int     `yaml:"burst"`
}

// RecommendTimeout returns the per-request recommendation deadline.
func (c HTTPConfig) RecommendTimeout() time.Duration {
	return time.Duration(c.RecommendTimeoutSec) * time.Second
}

// CacheTTL returns the embedding cache entry lifetime; zero means no expiry.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 15
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.RecommendTimeoutSec <= 0 {
		c.HTTP.RecommendTimeoutSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Provider.Name == "" {
		c.Embedding.Provider.Name = "openai"
	}
	if c.Index.Collection == "" {
		c.Index.Collection = "products"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Index.UpsertBatchSize <= 0 {
		c.Index.UpsertBatchSize = 100
	}
	if c.Index.BreakerFailures == 0 {
		c.Index.BreakerFailures = 5
	}
	if c.Index.BreakerOpenSec <= 0 {
		c.Index.BreakerOpenSec = 30
	}
	if c.Recommend.TopK <= 0 {
		c.Recommend.TopK = 10
	}
	if c.Recommend.CandidateK <= 0 {
		c.Recommend.CandidateK = 10
	}
	if c.Recommend.PageSize <= 0 {
		c.Recommend.PageSize = 10
	}
	if c.Ingest.DataDir == "" {
		c.Ingest.DataDir = "data"
	}
	if c.Ingest.LookbackDays <= 0 {
		c.Ingest.LookbackDays = 30
	}
	if c.Ingest.EmbedBatchSize <= 0 {
		c.Ingest.EmbedBatchSize = 32
	}
	if c.Ingest.Burst <= 0 {
		c.Ingest.Burst = 1
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.Database.Driver {
	case "redis", "valkey":
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"valkey\", got %q", c.Database.Driver)
	}
	if c.Embedding.Vectorizer.Model == "" {
		return fmt.Errorf("embedding.vectorizer.model is required")
	}
	if c.Embedding.Vectorizer.Dimensions <= 0 {
		return fmt.Errorf("embedding.vectorizer.dimensions must be positive, got %d", c.Embedding.Vectorizer.Dimensions)
	}
	if c.Recommend.TopK > c.Recommend.CandidateK {
		return fmt.Errorf("recommend.top_k (%d) must not exceed recommend.candidate_k (%d)",
			c.Recommend.TopK, c.Recommend.CandidateK)
	}
	if c.Ingest.RequestsPerSecond < 0 {
		return fmt.Errorf("ingest.requests_per_second must not be negative, got %g", c.Ingest.RequestsPerSecond)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
