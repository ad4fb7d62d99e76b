package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	PrintBucket    string

	ServerPort     string
	AllowedOrigins string
	Environment    string
	LogLevel       string
	JWTSecret      string

	CatalogCacheTTL      time.Duration
	DetailRetryAttempts  int
	DetailRetryDelay     time.Duration
	PrintFallbackTimeout time.Duration
	PrintCycleTimeout    time.Duration
	SessionIdleTimeout   time.Duration
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load() // Ignore error since file might not exist in production

	env := strings.ToLower(getEnvWithDefault("ENVIRONMENT", "development"))
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[env] {
		return nil, fmt.Errorf("invalid environment value: %s", env)
	}

	config := &Config{
		Environment: env,

		PostgresURL: os.Getenv("POSTGRES_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		MongoDBURL:  os.Getenv("MONGODB_URL"),
		MongoDBName: getEnvWithDefault("MONGODB_NAME", "climasys"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		PrintBucket:    getEnvWithDefault("PRINT_BUCKET", "print-surfaces"),

		ServerPort:     getEnvWithDefault("SERVER_PORT", "8080"),
		AllowedOrigins: getEnvWithDefault("ALLOWED_ORIGINS", "*"),
		LogLevel:       getEnvWithDefault("LOG_LEVEL", "info"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
	}

	required := map[string]string{
		"POSTGRES_URL": config.PostgresURL,
		"REDIS_URL":    config.RedisURL,
		"MONGODB_URL":  config.MongoDBURL,
		"JWT_SECRET":   config.JWTSecret,
	}
	for key, value := range required {
		if value == "" {
			return nil, fmt.Errorf("%s environment variable is required", key)
		}
	}

	useSSL, err := strconv.ParseBool(getEnvWithDefault("MINIO_USE_SSL", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid MINIO_USE_SSL: %w", err)
	}
	config.MinioUseSSL = useSSL

	attempts, err := strconv.Atoi(getEnvWithDefault("DETAIL_RETRY_ATTEMPTS", "3"))
	if err != nil || attempts < 1 {
		return nil, fmt.Errorf("invalid DETAIL_RETRY_ATTEMPTS: %q", os.Getenv("DETAIL_RETRY_ATTEMPTS"))
	}
	config.DetailRetryAttempts = attempts

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"CATALOG_CACHE_TTL", 10 * time.Minute, &config.CatalogCacheTTL},
		{"DETAIL_RETRY_DELAY", 500 * time.Millisecond, &config.DetailRetryDelay},
		{"PRINT_FALLBACK_TIMEOUT", 2 * time.Second, &config.PrintFallbackTimeout},
		{"PRINT_CYCLE_TIMEOUT", 2 * time.Minute, &config.PrintCycleTimeout},
		{"SESSION_IDLE_TIMEOUT", 2 * time.Hour, &config.SessionIdleTimeout},
	}
	for _, d := range durations {
		v, err := getDurationWithDefault(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dest = v
	}

	return config, nil
}

// IsDevelopment returns whether the current environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns whether the current environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsStaging returns whether the current environment is staging
func (c *Config) IsStaging() bool {
	return c.Environment == "staging"
}
