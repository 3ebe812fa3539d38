package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the retrievex API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds document store connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	IndexName        string   `yaml:"index_name"`
	KeyPrefix        string   `yaml:"key_prefix"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// RerankerConfig holds cross-encoder reranker settings.
type RerankerConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	TimeoutMs    int     `yaml:"timeout_ms"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"` // 0 = unlimited
	RateBurst    int     `yaml:"rate_burst"`
}

// ProfileConfig holds one threshold profile: how many fused candidates are
// reranked and the minimum rerank score to keep a candidate. Thresholds come
// from offline ROC analysis over labeled relevance data.
type ProfileConfig struct {
	CandidatePoolSize int     `yaml:"candidate_pool_size"`
	RerankThreshold   float64 `yaml:"rerank_threshold"`
}

// RetrievalConfig holds fusion and budget settings.
type RetrievalConfig struct {
	RRFK            int     `yaml:"rrf_k"`
	LexicalWeight   float64 `yaml:"lexical_weight"`
	VectorWeight    float64 `yaml:"vector_weight"`
	RequestBudgetMs int     `yaml:"request_budget_ms"`
	MaxPerBackend   int     `yaml:"max_per_backend"`

	Balanced      ProfileConfig `yaml:"balanced"`
	HighRecall    ProfileConfig `yaml:"high_recall"`
	HighPrecision ProfileConfig `yaml:"high_precision"`
}

// CacheConfig holds semantic cache settings.
type CacheConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TTLSeconds          int     `yaml:"ttl_seconds"`
	MaxProbes           int     `yaml:"max_probes"`
	L1Size              int     `yaml:"l1_size"`
	SweepIntervalSec    int     `yaml:"sweep_interval_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

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
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.IndexName == "" {
		c.Database.IndexName = "idx:documents"
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "retrievex:"
	}
	if c.Embedding.TimeoutMs <= 0 {
		c.Embedding.TimeoutMs = 50
	}
	if c.Reranker.TimeoutMs <= 0 {
		c.Reranker.TimeoutMs = 75
	}
	if c.Reranker.RateBurst <= 0 {
		c.Reranker.RateBurst = 1
	}

	if c.Retrieval.RRFK <= 0 {
		c.Retrieval.RRFK = 60
	}
	if c.Retrieval.LexicalWeight <= 0 && c.Retrieval.VectorWeight <= 0 {
		c.Retrieval.LexicalWeight = 0.4
		c.Retrieval.VectorWeight = 0.6
	}
	if c.Retrieval.RequestBudgetMs <= 0 {
		c.Retrieval.RequestBudgetMs = 150
	}
	if c.Retrieval.MaxPerBackend <= 0 {
		c.Retrieval.MaxPerBackend = 100
	}
	if c.Retrieval.Balanced.CandidatePoolSize <= 0 {
		c.Retrieval.Balanced.CandidatePoolSize = 20
	}
	if c.Retrieval.HighRecall.CandidatePoolSize <= 0 {
		c.Retrieval.HighRecall.CandidatePoolSize = 50
	}
	if c.Retrieval.HighPrecision.CandidatePoolSize <= 0 {
		c.Retrieval.HighPrecision.CandidatePoolSize = 10
	}
	if c.Retrieval.Balanced.RerankThreshold <= 0 {
		c.Retrieval.Balanced.RerankThreshold = 0.35
	}
	if c.Retrieval.HighRecall.RerankThreshold <= 0 {
		c.Retrieval.HighRecall.RerankThreshold = 0.2
	}
	if c.Retrieval.HighPrecision.RerankThreshold <= 0 {
		c.Retrieval.HighPrecision.RerankThreshold = 0.6
	}

	if c.Cache.SimilarityThreshold <= 0 {
		c.Cache.SimilarityThreshold = 0.8
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.Cache.MaxProbes <= 0 {
		c.Cache.MaxProbes = 5
	}
	if c.Cache.L1Size <= 0 {
		c.Cache.L1Size = 4096
	}
	if c.Cache.SweepIntervalSec <= 0 {
		c.Cache.SweepIntervalSec = 60
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
	if c.Retrieval.LexicalWeight < 0 || c.Retrieval.VectorWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	if c.Retrieval.LexicalWeight+c.Retrieval.VectorWeight <= 0 {
		return fmt.Errorf("at least one retrieval weight must be positive")
	}
	if c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be between 0 and 1, got %v", c.Cache.SimilarityThreshold)
	}
	for name, p := range map[string]ProfileConfig{
		"balanced":       c.Retrieval.Balanced,
		"high_recall":    c.Retrieval.HighRecall,
		"high_precision": c.Retrieval.HighPrecision,
	} {
		if p.RerankThreshold < 0 || p.RerankThreshold > 1 {
			return fmt.Errorf("retrieval.%s.rerank_threshold must be between 0 and 1", name)
		}
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
