// Package config loads process-wide configuration for the SQL generation
// core from the environment: pool sizing, session timeouts, retry budgets,
// and the ambient logging setup.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/nl2sql/sqlcore/internal/llm"
	"github.com/nl2sql/sqlcore/utils"
)

// Config holds configuration for a CoreContext: connection pooling, session
// lifecycle, and the default retry/row-limit policy applied to ask().
type Config struct {
	Environment string
	LogLevel    string

	PoolMinConns       int
	PoolMaxConns       int
	PoolAcquireTimeout int // seconds a caller waits for a saturated pool before PoolExhausted

	SessionIdleTimeout int // seconds; sessions past this are evicted
	SnapshotTTL        int // seconds; cached schema snapshots older than this are refreshed

	DefaultMaxRetries int // default retries for ask() when options omit it
	DefaultRowLimit   int
	DefaultTimeoutSec int

	SampleRowsPerTable int // N in snapshot(); 0 disables sampling

	RAGEnabled             bool
	RAGSimilarityThreshold float64
	RAGTopK                int

	OntologyBatchSize int // B in the ontology builder's table batching

	LLMProvider    string // "openai", "anthropic", "mock"
	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMTimeoutSec  int

	StorePath string // SQLite file backing ontology/RAG persistence; ":memory:" for tests
}

// LoadConfig loads configuration from environment variables, falling back
// to defaults tuned for the invariants in the SQL agent's retry state
// machine (default 3 retries, 1 hour snapshot TTL).
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		PoolMinConns:       getEnvAsInt("POOL_MIN_CONNS", 1),
		PoolMaxConns:       getEnvAsInt("POOL_MAX_CONNS", 10),
		PoolAcquireTimeout: getEnvAsInt("POOL_ACQUIRE_TIMEOUT_SECONDS", 5),

		SessionIdleTimeout: getEnvAsInt("SESSION_IDLE_TIMEOUT_SECONDS", 1800),
		SnapshotTTL:        getEnvAsInt("SNAPSHOT_TTL_SECONDS", 3600),

		DefaultMaxRetries: getEnvAsInt("DEFAULT_MAX_RETRIES", 3),
		DefaultRowLimit:   getEnvAsInt("DEFAULT_ROW_LIMIT", 200),
		DefaultTimeoutSec: getEnvAsInt("DEFAULT_TIMEOUT_SECONDS", 30),

		SampleRowsPerTable: getEnvAsInt("SAMPLE_ROWS_PER_TABLE", 3),

		RAGEnabled:             getEnvAsBool("RAG_ENABLED", true),
		RAGSimilarityThreshold: getEnvAsFloat("RAG_SIMILARITY_THRESHOLD", 0.75),
		RAGTopK:                getEnvAsInt("RAG_TOP_K", 3),

		OntologyBatchSize: getEnvAsInt("ONTOLOGY_BATCH_SIZE", 10),

		LLMProvider:    getEnv("LLM_PROVIDER", "mock"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMBaseURL:     getEnv("LLM_BASE_URL", ""),
		LLMModel:       getEnv("LLM_MODEL", ""),
		LLMTemperature: getEnvAsFloat("LLM_TEMPERATURE", 0.0),
		LLMMaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 2048),
		LLMTimeoutSec:  getEnvAsInt("LLM_TIMEOUT_SECONDS", 30),

		StorePath: getEnv("STORE_PATH", "sqlcore.db"),
	}

	if cfg.PoolMaxConns < cfg.PoolMinConns {
		return nil, fmt.Errorf("POOL_MAX_CONNS (%d) must be >= POOL_MIN_CONNS (%d)", cfg.PoolMaxConns, cfg.PoolMinConns)
	}
	if cfg.DefaultMaxRetries < 0 || cfg.DefaultMaxRetries > 10 {
		return nil, fmt.Errorf("DEFAULT_MAX_RETRIES must be between 0 and 10, got %d", cfg.DefaultMaxRetries)
	}

	return cfg, nil
}

// LoggingConfig builds the utils.LoggingConfig used to initialize the
// global logger from this Config's environment-derived settings.
func (c *Config) LoggingConfig() utils.LoggingConfig {
	return utils.LoggingConfig{
		Level:  c.LogLevel,
		Format: getEnv("LOG_FORMAT", "json"),
		Output: getEnv("LOG_OUTPUT", "stdout"),
	}
}

// LLMConfig builds the llm.Config consumed by llm.New from this Config's
// environment-derived LLM settings.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		Provider:    c.LLMProvider,
		APIKey:      c.LLMAPIKey,
		BaseURL:     c.LLMBaseURL,
		Model:       c.LLMModel,
		Temperature: c.LLMTemperature,
		MaxTokens:   c.LLMMaxTokens,
		TimeoutSec:  c.LLMTimeoutSec,
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
