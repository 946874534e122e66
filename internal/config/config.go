// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Chat      ChatConfig
	Quota     QuotaConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	Environment     string
	ShutdownTimeout int
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL       string
	ClusterID string
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	APIKey       string
	Model        string
	Dimension    int
	MaxBatchSize int
	RateLimitRPS int
}

// LLMConfig holds answer generation configuration.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	Temperature    float64
	RequestTimeout time.Duration
}

// PipelineConfig holds document processing configuration.
type PipelineConfig struct {
	ChunkTokens     int
	ChunkOverlap    int
	ProcessWorkers  int
	IndexWorkers    int
	StatusRetention time.Duration
	MaxUploadBytes  int64
}

// ChatConfig holds chat defaults.
type ChatConfig struct {
	MaxSearchResults    int
	SimilarityThreshold float64
	GenerationTimeout   time.Duration
}

// QuotaConfig holds quota enforcement configuration.
type QuotaConfig struct {
	MessagesPerDay int
	UploadsPerDay  int
	ChatPerMinute  int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8080),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout: getEnvAsInt("SHUTDOWN_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "docstack"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID: getEnv("NATS_CLUSTER_ID", "docstack"),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
			BucketName:      getEnv("STORAGE_BUCKET", "docstack"),
			UseSSL:          getEnvAsBool("STORAGE_USE_SSL", false),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
		},
		Embedding: EmbeddingConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			Model:        getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension:    getEnvAsInt("EMBEDDING_DIMENSION", 1536),
			MaxBatchSize: getEnvAsInt("EMBEDDING_MAX_BATCH", 100),
			RateLimitRPS: getEnvAsInt("EMBEDDING_RATE_LIMIT", 50),
		},
		LLM: LLMConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("LLM_BASE_URL", ""),
			Model:          getEnv("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:      getEnvAsInt("LLM_MAX_TOKENS", 2048),
			Temperature:    getEnvAsFloat("LLM_TEMPERATURE", 0.3),
			RequestTimeout: getEnvAsDuration("LLM_REQUEST_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			ChunkTokens:     getEnvAsInt("CHUNK_TOKENS", 512),
			ChunkOverlap:    getEnvAsInt("CHUNK_OVERLAP", 50),
			ProcessWorkers:  getEnvAsInt("PROCESS_WORKERS", 2),
			IndexWorkers:    getEnvAsInt("INDEX_WORKERS", 2),
			StatusRetention: getEnvAsDuration("STATUS_RETENTION", 30*time.Minute),
			MaxUploadBytes:  int64(getEnvAsInt("MAX_UPLOAD_BYTES", 50<<20)),
		},
		Chat: ChatConfig{
			MaxSearchResults:    getEnvAsInt("CHAT_MAX_RESULTS", 10),
			SimilarityThreshold: getEnvAsFloat("CHAT_MIN_SIMILARITY", 0.7),
			GenerationTimeout:   getEnvAsDuration("CHAT_GENERATION_TIMEOUT", 30*time.Second),
		},
		Quota: QuotaConfig{
			MessagesPerDay: getEnvAsInt("QUOTA_MESSAGES_PER_DAY", 200),
			UploadsPerDay:  getEnvAsInt("QUOTA_UPLOADS_PER_DAY", 50),
			ChatPerMinute:  getEnvAsInt("QUOTA_CHAT_PER_MINUTE", 20),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			AddSource: getEnvAsBool("LOG_ADD_SOURCE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Environment == "production" && c.Embedding.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY must be set in production")
	}
	if c.Chat.SimilarityThreshold < 0 || c.Chat.SimilarityThreshold > 1 {
		return fmt.Errorf("CHAT_MIN_SIMILARITY must be in [0,1], got %f", c.Chat.SimilarityThreshold)
	}
	if c.Chat.MaxSearchResults < 1 {
		return fmt.Errorf("CHAT_MAX_RESULTS must be >= 1, got %d", c.Chat.MaxSearchResults)
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
