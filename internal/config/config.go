package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the worker, its ops server and feedbackctl.
type Config struct {
	Port      string
	AuthToken string

	DatabaseURL      string
	DatabaseMaxConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisGroup    string
	RedisConsumer string

	// AIProvider is "openrouter", "openai" or "fallback" (keyword classifier only).
	AIProvider string

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterSiteURL string
	OpenRouterAppName string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIOrganization string

	AITimeout    time.Duration
	AIMaxRetries int

	ClassifierModelPrimary  string
	ClassifierModelFallback string
	ClassifierMaxTokens     int
	ClassifierBatchSize     int
	// ClassifierCallInterval spaces consecutive provider calls.
	ClassifierCallInterval time.Duration
	ClassifierCacheTTL     time.Duration
	ClassifierCacheMax     int
	LexiconPath            string

	JobRetryBackoff       []time.Duration
	DefaultMaxRetries     int
	JobTimeout            time.Duration
	ProgressEvery         int
	WorkerPollInterval    time.Duration
	WorkerConcurrency     int
	DeleteSourceOnSuccess bool

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	RateLimitRPS   float64
	RateLimitBurst int
}

func Load() Config {
	cfg := Config{
		Port:      getEnv("PORT", "8080"),
		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabaseMaxConns: getEnvInt("DATABASE_MAX_CONNS", 10),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "feedback_jobs"),
		RedisGroup:    getEnv("REDIS_GROUP", "feedback_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", defaultConsumer()),

		AIProvider: strings.ToLower(getEnv("AI_PROVIDER", "openrouter")),

		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterSiteURL: getEnv("OPENROUTER_SITE_URL", ""),
		OpenRouterAppName: getEnv("OPENROUTER_APP_NAME", "Feedback Insights"),

		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrganization: getEnv("OPENAI_ORGANIZATION", ""),

		AITimeout:    getEnvDuration("AI_TIMEOUT", 20*time.Second),
		AIMaxRetries: getEnvInt("AI_MAX_RETRIES", 1),

		ClassifierModelPrimary:  getEnv("CLASSIFIER_MODEL_PRIMARY", "openai/gpt-4.1-mini"),
		ClassifierModelFallback: getEnv("CLASSIFIER_MODEL_FALLBACK", "openai/gpt-4.1-nano"),
		ClassifierMaxTokens:     getEnvInt("CLASSIFIER_MAX_TOKENS", 4000),
		ClassifierBatchSize:     getEnvInt("CLASSIFIER_BATCH_SIZE", 50),
		ClassifierCallInterval:  getEnvDuration("CLASSIFIER_CALL_INTERVAL", 500*time.Millisecond),
		ClassifierCacheTTL:      getEnvDuration("CLASSIFIER_CACHE_TTL", 6*time.Hour),
		ClassifierCacheMax:      getEnvInt("CLASSIFIER_CACHE_MAX_ENTRIES", 10000),
		LexiconPath:             getEnv("CLASSIFIER_LEXICON_FILE", ""),

		JobRetryBackoff:       getEnvDurationList("JOB_RETRY_BACKOFF", []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}),
		DefaultMaxRetries:     getEnvInt("DEFAULT_MAX_RETRIES", 3),
		JobTimeout:            getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		ProgressEvery:         getEnvInt("PROGRESS_EVERY", 10),
		WorkerPollInterval:    getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerConcurrency:     getEnvInt("WORKER_CONCURRENCY", 1),
		DeleteSourceOnSuccess: getEnvBool("DELETE_SOURCE_ON_SUCCESS", true),

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3UseSSL:    getEnvBool("S3_USE_SSL", true),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
	}
	cfg.AITimeout = boundAITimeout(cfg.AITimeout, cfg.AIMaxRetries, cfg.JobTimeout)
	return cfg
}

// boundAITimeout shrinks the per-call provider timeout so that one batch,
// with every retry of both the primary and the fallback model timing out,
// still uses at most half of the job timeout.
func boundAITimeout(aiTimeout time.Duration, maxRetries int, jobTimeout time.Duration) time.Duration {
	if aiTimeout <= 0 || jobTimeout <= 0 {
		return aiTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	limit := jobTimeout / time.Duration(4*(maxRetries+1))
	if limit > 0 && aiTimeout > limit {
		return limit
	}
	return aiTimeout
}

func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-1"
	}
	return host
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("30s") or bare integers as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, ok := parseDuration(value)
	if !ok {
		return fallback
	}
	return parsed
}

// getEnvDurationList parses a comma-separated list such as "5s,30s,120s".
// Any invalid entry discards the whole value.
func getEnvDurationList(key string, fallback []time.Duration) []time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	result := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		parsed, ok := parseDuration(strings.TrimSpace(part))
		if !ok || parsed <= 0 {
			return fallback
		}
		result = append(result, parsed)
	}
	return result
}

func parseDuration(value string) (time.Duration, bool) {
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
