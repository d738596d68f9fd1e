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

// Config holds the chat backend configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Index      IndexConfig      `yaml:"index"`
	Market     MarketConfig     `yaml:"market"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
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

// DatabaseConfig holds vector store connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds key layout settings.
type StorageConfig struct {
	KeyPrefix   string `yaml:"key_prefix"`
	CacheTTLSec int    `yaml:"embedding_cache_ttl_sec"` // 0 disables the embedding cache
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// CompletionConfig holds completion provider settings. Provider selects the
// wire client: "openai" or "anthropic". An empty provider or api_key leaves
// completion unconfigured; chat requests then report that condition.
type CompletionConfig struct {
	Provider     string `yaml:"provider"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"max_tokens"`
	SystemPrompt string `yaml:"system_prompt"`
}

// IndexConfig holds vector index build parameters.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construct"`
}

// RetrievalConfig tunes the retrieval pipeline.
type RetrievalConfig struct {
	Limit            int     `yaml:"limit"`
	MinSimilarity    float64 `yaml:"min_similarity"`
	ExpansionEnabled *bool   `yaml:"expansion_enabled"`
	MaxVariants      int     `yaml:"max_variants"`
}

// MarketConfig holds external market data provider settings.
type MarketConfig struct {
	CoinGeckoBaseURL  string         `yaml:"coingecko_base_url"`
	DefiLlamaBaseURL  string         `yaml:"defillama_base_url"`
	CacheTTLSec       int            `yaml:"cache_ttl_sec"`
	RequestTimeoutSec int            `yaml:"request_timeout_sec"`
	KeywordRoutes     *KeywordRoutes `yaml:"keyword_routes"`
}

// KeywordRoutes overrides the built-in feed trigger keyword sets.
type KeywordRoutes struct {
	Market    []string `yaml:"market"`
	Protocols []string `yaml:"protocols"`
	Trending  []string `yaml:"trending"`
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

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
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
		// Streams hold the response open far longer than a plain request.
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "w3ic:"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Completion.MaxTokens <= 0 {
		c.Completion.MaxTokens = 1024
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 32
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 400
	}
	if c.Retrieval.Limit <= 0 {
		c.Retrieval.Limit = 5
	}
	if c.Retrieval.ExpansionEnabled == nil {
		enabled := true
		c.Retrieval.ExpansionEnabled = &enabled
	}
	if c.Retrieval.MaxVariants <= 0 {
		c.Retrieval.MaxVariants = 3
	}
	if c.Market.CoinGeckoBaseURL == "" {
		c.Market.CoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
	}
	if c.Market.DefiLlamaBaseURL == "" {
		c.Market.DefiLlamaBaseURL = "https://api.defillama.com"
	}
	if c.Market.CacheTTLSec <= 0 {
		c.Market.CacheTTLSec = 300
	}
	if c.Market.RequestTimeoutSec <= 0 {
		c.Market.RequestTimeoutSec = 10
	}
}

// Validate checks the configuration for correctness. Numeric mistakes fail
// here, at startup, not at first request.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.min_similarity must be in [0,1], got %g", c.Retrieval.MinSimilarity)
	}
	if c.Retrieval.MaxVariants < 1 {
		return fmt.Errorf("retrieval.max_variants must be >= 1, got %d", c.Retrieval.MaxVariants)
	}
	if c.Storage.CacheTTLSec < 0 {
		return fmt.Errorf("storage.embedding_cache_ttl_sec must be >= 0, got %d", c.Storage.CacheTTLSec)
	}
	switch c.Completion.Provider {
	case "", "openai", "anthropic":
		// ok
	default:
		return fmt.Errorf("completion.provider must be \"openai\" or \"anthropic\", got %q", c.Completion.Provider)
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
