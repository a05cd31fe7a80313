package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OpenAIAPIKey   string
	EmbeddingModel string
	PlanningModel  string
	AnswerModel    string

	SlackAPIURL string

	// RouterSigningSecret authenticates the command router calling /api.
	RouterSigningSecret string

	LogLevel    string
	LogFormat   string
	Environment string

	DailyAskLimit     int
	ResponseCacheTTL  time.Duration
	SyncDebounce      time.Duration
	FileConcurrency   int
	ChunkSize         int
	SyncLookbackDays  int
	RetentionDays     int
	LockBackend       string
	CacheBackend      string
	BackfillInterval  time.Duration
	BackfillBatchSize int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	return &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/zapask?sslmode=disable"),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getIntOrDefault("REDIS_DB", 0),

		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		EmbeddingModel: getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		PlanningModel:  getEnvOrDefault("PLANNING_MODEL", "gpt-4o-mini"),
		AnswerModel:    getEnvOrDefault("ANSWER_MODEL", "gpt-4o-mini"),

		SlackAPIURL: os.Getenv("SLACK_API_URL"),

		RouterSigningSecret: os.Getenv("ROUTER_SIGNING_SECRET"),

		LogLevel:    getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:   getEnvOrDefault("LOG_FORMAT", "text"),
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		DailyAskLimit:     getIntOrDefault("DAILY_ASK_LIMIT", 30),
		ResponseCacheTTL:  getDurationOrDefault("RESPONSE_CACHE_TTL", 2*time.Minute),
		SyncDebounce:      getDurationOrDefault("SYNC_DEBOUNCE", 5*time.Minute),
		FileConcurrency:   getIntOrDefault("FILE_CONCURRENCY", 5),
		ChunkSize:         getIntOrDefault("CHUNK_SIZE", 1000),
		SyncLookbackDays:  getIntOrDefault("SYNC_LOOKBACK_DAYS", 20),
		RetentionDays:     getIntOrDefault("RETENTION_DAYS", 15),
		LockBackend:       getEnvOrDefault("LOCK_BACKEND", "memory"),
		CacheBackend:      getEnvOrDefault("CACHE_BACKEND", "redis"),
		BackfillInterval:  getDurationOrDefault("EMBEDDING_BACKFILL_INTERVAL", time.Minute),
		BackfillBatchSize: getIntOrDefault("EMBEDDING_BACKFILL_BATCH_SIZE", 50),
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if c.IsProduction() && c.RouterSigningSecret == "" {
		errs = append(errs, errors.New("ROUTER_SIGNING_SECRET is required in production"))
	}

	if !contains([]string{"DEBUG", "INFO", "WARN", "ERROR"}, strings.ToUpper(c.LogLevel)) {
		errs = append(errs, errors.New("LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR"))
	}
	if !contains([]string{"text", "json"}, strings.ToLower(c.LogFormat)) {
		errs = append(errs, errors.New("LOG_FORMAT must be one of: text, json"))
	}
	if !contains([]string{"memory", "redis"}, strings.ToLower(c.LockBackend)) {
		errs = append(errs, errors.New("LOCK_BACKEND must be one of: memory, redis"))
	}
	if !contains([]string{"memory", "redis"}, strings.ToLower(c.CacheBackend)) {
		errs = append(errs, errors.New("CACHE_BACKEND must be one of: memory, redis"))
	}

	positive := map[string]int{
		"DAILY_ASK_LIMIT":               c.DailyAskLimit,
		"FILE_CONCURRENCY":              c.FileConcurrency,
		"CHUNK_SIZE":                    c.ChunkSize,
		"SYNC_LOOKBACK_DAYS":            c.SyncLookbackDays,
		"RETENTION_DAYS":                c.RetentionDays,
		"EMBEDDING_BACKFILL_BATCH_SIZE": c.BackfillBatchSize,
	}
	for _, key := range []string{"DAILY_ASK_LIMIT", "FILE_CONCURRENCY", "CHUNK_SIZE", "SYNC_LOOKBACK_DAYS", "RETENTION_DAYS", "EMBEDDING_BACKFILL_BATCH_SIZE"} {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if c.ResponseCacheTTL <= 0 {
		errs = append(errs, errors.New("RESPONSE_CACHE_TTL must be positive"))
	}
	if c.SyncDebounce <= 0 {
		errs = append(errs, errors.New("SYNC_DEBOUNCE must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c *Config) SyncLookback() time.Duration {
	return time.Duration(c.SyncLookbackDays) * 24 * time.Hour
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntOrDefault keeps unparsable values so Validate can report them.
func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Invalid integer in environment", "key", key, "value", value)
		return -1
	}
	return n
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		if secs, convErr := strconv.Atoi(value); convErr == nil {
			return time.Duration(secs) * time.Second
		}
		slog.Warn("Invalid duration in environment", "key", key, "value", value)
		return -1
	}
	return d
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
