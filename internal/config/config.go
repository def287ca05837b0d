package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"notechart/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	Inference InferenceConfig
	Server    ServerConfig
	Policy    PolicyConfig
	Cache     CacheConfig
	Analysis  AnalysisConfig
	Log       LogConfig
}

// DatabaseConfig holds note-store connection settings
type DatabaseConfig struct {
	Driver string // "postgres" or "sqlite"
	URL    string
}

// InferenceConfig holds settings for the external inference service.
// An empty APIKey is allowed: every stage then degrades to rule-based selection.
type InferenceConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float64
	StageTimeout time.Duration
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port           string
	GinMode        string
	RequestTimeout time.Duration
}

// PolicyConfig locates the policy document and controls hot reload
type PolicyConfig struct {
	Path       string
	Watch      bool
	ReloadCron string
}

// CacheConfig selects the analysis-result cache backend
type CacheConfig struct {
	Backend   string // memory, redis or sql
	RedisAddr string
	TTL       time.Duration
}

// AnalysisConfig bounds per-request work
type AnalysisConfig struct {
	SampleLimit   int
	MaxConcurrent int64
}

// LogConfig holds logging settings
type LogConfig struct {
	Mode  string
	Level string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Database:  loadDatabaseConfig(),
		Inference: loadInferenceConfig(),
		Server:    loadServerConfig(),
		Policy:    loadPolicyConfig(),
		Cache:     loadCacheConfig(),
		Analysis:  loadAnalysisConfig(),
		Log:       loadLogConfig(),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", "postgres")),
		URL:    os.Getenv("DATABASE_URL"),
	}
}

func loadInferenceConfig() InferenceConfig {
	return InferenceConfig{
		APIKey:       os.Getenv("INFERENCE_API_KEY"),
		BaseURL:      getEnvOrDefault("INFERENCE_BASE_URL", "https://api.openai.com/v1"),
		Model:        getEnvOrDefault("INFERENCE_MODEL", "gpt-4.1-mini"),
		MaxTokens:    getEnvIntOrDefault("INFERENCE_MAX_TOKENS", 2000),
		Temperature:  getEnvFloatOrDefault("INFERENCE_TEMPERATURE", 0.1),
		StageTimeout: getEnvDurationOrDefault("INFERENCE_STAGE_TIMEOUT", 20*time.Second),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:           getEnvOrDefault("PORT", "8080"),
		GinMode:        getEnvOrDefault("GIN_MODE", "release"),
		RequestTimeout: getEnvDurationOrDefault("REQUEST_TIMEOUT", 90*time.Second),
	}
}

func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Path:       os.Getenv("POLICY_PATH"),
		Watch:      getEnvBoolOrDefault("POLICY_WATCH", true),
		ReloadCron: os.Getenv("POLICY_RELOAD_CRON"),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:   strings.ToLower(getEnvOrDefault("CACHE_BACKEND", "memory")),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		TTL:       getEnvDurationOrDefault("CACHE_TTL", 30*time.Minute),
	}
}

func loadAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		SampleLimit:   getEnvIntOrDefault("ANALYSIS_SAMPLE_LIMIT", 0),
		MaxConcurrent: int64(getEnvIntOrDefault("ANALYSIS_MAX_CONCURRENT", 8)),
	}
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Mode:  getEnvOrDefault("LOG_MODE", "dev"),
		Level: getEnvOrDefault("LOG_LEVEL", "info"),
	}
}

func validateConfig(config *Config) error {
	switch config.Database.Driver {
	case "postgres", "sqlite":
	default:
		return errors.ConfigInvalid("DATABASE_DRIVER must be postgres or sqlite")
	}
	switch config.Cache.Backend {
	case "memory", "sql":
	case "redis":
		if config.Cache.RedisAddr == "" {
			return errors.ConfigInvalid("REDIS_ADDR is required when CACHE_BACKEND=redis")
		}
	default:
		return errors.ConfigInvalid("CACHE_BACKEND must be memory, redis or sql")
	}
	if config.Cache.Backend == "sql" && config.Database.URL == "" {
		return errors.ConfigInvalid("DATABASE_URL is required when CACHE_BACKEND=sql")
	}
	if config.Inference.StageTimeout <= 0 {
		return errors.ConfigInvalid("INFERENCE_STAGE_TIMEOUT must be positive")
	}
	if config.Analysis.MaxConcurrent <= 0 {
		return errors.ConfigInvalid("ANALYSIS_MAX_CONCURRENT must be positive")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
