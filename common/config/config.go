package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
	Storage   StorageConfig
	GitHub    GitHubConfig
	Upload    UploadConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL           string // overrides the individual fields when set
	Host          string
	Port          int
	Database      string
	User          string
	Password      string
	MaxConns      int
	MinConns      int
	MaxIdleTime   time.Duration
	MaxLifetime   time.Duration
	RunMigrations bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// StorageConfig holds object storage settings
type StorageConfig struct {
	Bucket        string
	Region        string
	Endpoint      string // custom S3-compatible endpoint, empty for AWS
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // base URL blobs are served from
	UsePathStyle  bool
}

// GitHubConfig holds settings for the GitHub REST API client
type GitHubConfig struct {
	APIURL        string
	Timeout       time.Duration
	RetryMax      int
	AllowedOwners []string
}

// UploadConfig holds upload-token issuance settings
type UploadConfig struct {
	ViewOrigin           string
	RequestCeiling       int
	TokenTTL             time.Duration
	AddRandomSuffix      bool
	SigningSecret        string
	CallbackSecret       string
	MaxFiles             int
	BulkTimeout          time.Duration
	VerifyJobLiveness    bool
	ContentPolicy        string // optional CEL expression over mime and pathname
	EnforceContentPolicy bool
}

// RateLimitConfig holds request rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int64
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			URL:           getEnv("DATABASE_URL", ""),
			Host:          getEnv("POSTGRES_HOST", "localhost"),
			Port:          getEnvInt("POSTGRES_PORT", 5432),
			Database:      getEnv("POSTGRES_DB", "artifact"),
			User:          getEnv("POSTGRES_USER", "artifact"),
			Password:      getEnv("POSTGRES_PASSWORD", "artifact"),
			MaxConns:      getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:      getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime:   getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime:   getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
			RunMigrations: getEnvBool("POSTGRES_RUN_MIGRATIONS", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 30*time.Second),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
		Storage: StorageConfig{
			Bucket:        getEnv("S3_BUCKET", "artifacts"),
			Region:        getEnv("S3_REGION", "us-east-1"),
			Endpoint:      getEnv("S3_ENDPOINT", ""),
			AccessKey:     getEnv("S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("S3_SECRET_KEY", ""),
			PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),
			UsePathStyle:  getEnvBool("S3_USE_PATH_STYLE", false),
		},
		GitHub: GitHubConfig{
			APIURL:        getEnv("GITHUB_API_URL", "https://api.github.com"),
			Timeout:       getEnvDuration("GITHUB_TIMEOUT", 10*time.Second),
			RetryMax:      getEnvInt("GITHUB_RETRY_MAX", 2),
			AllowedOwners: getEnvSlice("ALLOWED_GITHUB_OWNERS", nil),
		},
		Upload: UploadConfig{
			ViewOrigin:           getEnv("VIEW_ORIGIN", "http://localhost:8080"),
			RequestCeiling:       getEnvInt("UPLOAD_REQUEST_CEILING", 1),
			TokenTTL:             getEnvDuration("UPLOAD_TOKEN_TTL", 30*time.Minute),
			AddRandomSuffix:      getEnvBool("UPLOAD_ADD_RANDOM_SUFFIX", false),
			SigningSecret:        getEnv("UPLOAD_SIGNING_SECRET", ""),
			CallbackSecret:       getEnv("UPLOAD_CALLBACK_SECRET", ""),
			MaxFiles:             getEnvInt("UPLOAD_MAX_FILES", 1000),
			BulkTimeout:          getEnvDuration("UPLOAD_BULK_TIMEOUT", 60*time.Second),
			VerifyJobLiveness:    getEnvBool("UPLOAD_VERIFY_JOB_LIVENESS", true),
			ContentPolicy:        getEnv("UPLOAD_CONTENT_POLICY", ""),
			EnforceContentPolicy: getEnvBool("UPLOAD_ENFORCE_CONTENT_POLICY", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: int64(getEnvInt("RATE_LIMIT_PER_MINUTE", 120)),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Upload.RequestCeiling < 1 {
		return fmt.Errorf("upload request ceiling must be >= 1, got %d", c.Upload.RequestCeiling)
	}

	if c.Upload.MaxFiles < 1 {
		return fmt.Errorf("upload max files must be >= 1, got %d", c.Upload.MaxFiles)
	}

	if c.Upload.TokenTTL <= 0 {
		return fmt.Errorf("upload token ttl must be positive")
	}

	origin, err := url.Parse(c.Upload.ViewOrigin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("invalid view origin: %q", c.Upload.ViewOrigin)
	}

	if !c.IsDevelopment() {
		if c.Upload.SigningSecret == "" {
			return fmt.Errorf("UPLOAD_SIGNING_SECRET is required outside development")
		}
		if c.Upload.CallbackSecret == "" {
			return fmt.Errorf("UPLOAD_CALLBACK_SECRET is required outside development")
		}
	}

	return nil
}

// IsDevelopment reports whether the service runs in a development environment
func (c *Config) IsDevelopment() bool {
	return c.Service.Environment == "development" || c.Service.Environment == "test"
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(c.Database.User),
		url.QueryEscape(c.Database.Password),
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the host:port address of Redis
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvSlice parses a comma-separated list, dropping blank entries
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
