package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all worker configuration
type Config struct {
	Database      DatabaseConfig
	Gemini        GeminiConfig
	Worker        WorkerConfig
	Storage       StorageConfig
	Review        ReviewConfig
	Redis         RedisConfig
	Dedup         DedupConfig
	Observability ObservabilityConfig
	Logging       LoggingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type GeminiConfig struct {
	APIKey        string
	Model         string
	VisionModel   string
	TextTimeout   time.Duration
	VisionTimeout time.Duration
	RatePerSecond float64
	RateBurst     int
	CacheTTL      time.Duration
}

type WorkerConfig struct {
	PollSchedule string
}

type StorageConfig struct {
	Type      string // "local" or "gcs"
	LocalPath string
	GCSBucket string
}

// ReviewConfig controls the NEEDS_REVIEW report export; an empty Format disables it.
type ReviewConfig struct {
	Format string // "xlsx", "csv" or ""
	Prefix string
}

// RedisConfig is optional; an empty Address disables the dedup account lock.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	LockTTL  time.Duration
}

type DedupConfig struct {
	DateWindowDays      int
	AmountTolerance     decimal.Decimal
	SimilarityThreshold float64
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	tolerance, err := decimal.NewFromString(getEnv("DEDUP_AMOUNT_TOLERANCE", "0.01"))
	if err != nil {
		return nil, fmt.Errorf("DEDUP_AMOUNT_TOLERANCE: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5469),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "fiskal-dev"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Gemini: GeminiConfig{
			APIKey:        getEnv("GEMINI_API_KEY", ""),
			Model:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			VisionModel:   getEnv("GEMINI_VISION_MODEL", ""),
			TextTimeout:   getEnvAsDuration("AI_TEXT_TIMEOUT", 45*time.Second),
			VisionTimeout: getEnvAsDuration("AI_VISION_TIMEOUT", 90*time.Second),
			RatePerSecond: getEnvAsFloat("AI_RATE_PER_SECOND", 2),
			RateBurst:     getEnvAsInt("AI_RATE_BURST", 2),
			CacheTTL:      getEnvAsDuration("AI_CACHE_TTL", 24*time.Hour),
		},
		Worker: WorkerConfig{
			PollSchedule: getEnv("WORKER_POLL_SCHEDULE", "@every 5s"),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./data/statements"),
			GCSBucket: getEnv("STORAGE_GCS_BUCKET", ""),
		},
		Review: ReviewConfig{
			Format: strings.ToLower(getEnv("REVIEW_EXPORT_FORMAT", "xlsx")),
			Prefix: getEnv("REVIEW_EXPORT_PREFIX", "reviews"),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 30*time.Second),
		},
		Dedup: DedupConfig{
			DateWindowDays:      getEnvAsInt("DEDUP_DATE_WINDOW_DAYS", 2),
			AmountTolerance:     tolerance,
			SimilarityThreshold: getEnvAsFloat("DEDUP_SIMILARITY_THRESHOLD", 0.7),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	if cfg.Gemini.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	if cfg.Gemini.VisionModel == "" {
		cfg.Gemini.VisionModel = cfg.Gemini.Model
	}
	if cfg.Storage.Type == "gcs" && cfg.Storage.GCSBucket == "" {
		return nil, errors.New("STORAGE_GCS_BUCKET is required when STORAGE_TYPE=gcs")
	}
	switch cfg.Review.Format {
	case "", "none":
		cfg.Review.Format = ""
	case "xlsx", "csv":
	default:
		return nil, fmt.Errorf("REVIEW_EXPORT_FORMAT must be xlsx, csv or none, got %q", cfg.Review.Format)
	}
	if cfg.Dedup.SimilarityThreshold <= 0 || cfg.Dedup.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("DEDUP_SIMILARITY_THRESHOLD must be in (0,1], got %v", cfg.Dedup.SimilarityThreshold)
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Address != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
