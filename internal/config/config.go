package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// defaultRemoteAssets are the third-party assets the UI loads
var defaultRemoteAssets = []string{
	"https://fonts.googleapis.com/icon?family=Material+Icons",
	"https://cdnjs.cloudflare.com/ajax/libs/animate.css/3.5.2/animate.min.css",
	"https://cdnjs.cloudflare.com/ajax/libs/materialize/1.0.0-rc.2/js/materialize.min.js",
	"https://cdn.jsdelivr.net/npm/idb@2.1.3/lib/idb.min.js",
}

// defaultLocalAssets are served by the UI origin
var defaultLocalAssets = []string{
	"/",
	"/assets/css/style.css",
	"/assets/css/materialize.min.css",
	"/main.js",
}

// Config holds all configuration for the currency converter service
type Config struct {
	// Server ports
	HTTPPort int
	GRPCPort int

	// Recent conversions store
	StoreBackend      string // "sqlite" or "redis"
	DatabasePath      string
	RedisAddr         string
	RedisPass         string
	RedisDB           int
	RedisKeyPrefix    string
	RecentLimit       int
	RecentOrder       string // "timestamp" or "insertion"
	RetentionSchedule string // cron schedule, empty disables the sweep

	// Provider configuration
	ProviderType      string // "simulated" or "currencyconverterapi"
	ProviderBaseURL   string
	ProviderAPIKey    string
	ProviderMaxDrift  float64 // Max drift percentage for simulated provider
	HTTPClientTimeout time.Duration
	FlagURLTemplate   string
	CountriesSchedule string

	// Resource cache
	CacheEnabled        bool
	CacheDatabasePath   string
	CacheVersion        string
	CacheManifest       []string
	CacheAllowPrefixes  []string
	CacheOpaquePrefixes []string
	CacheConcurrency    int
	CacheMaxEntryBytes  int64
	AppOrigin           string // UI origin that relative manifest entries resolve against

	// Events
	KafkaBrokers       string
	KafkaTopic         string
	KafkaGroupID       string // history sync consumer group, unique per instance
	HistorySyncEnabled bool
	InstanceID         string

	// Observability
	JaegerURL          string
	TracingSampleRatio float64
	MetricsEnabled     bool
	MetricsEndpoint    string

	// Environment
	Environment string
	LogLevel    string
}

// Load loads configuration from environment variables, after reading a
// .env file if one exists
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Server ports
		HTTPPort: getEnvInt("HTTP_PORT", 8083),
		GRPCPort: getEnvInt("GRPC_PORT", 9093),

		// Recent conversions store
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		DatabasePath:      getEnv("DATABASE_PATH", "./data/x-change.db"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix:    getEnv("REDIS_KEY_PREFIX", "x-change"),
		RecentLimit:       getEnvInt("RECENT_LIMIT", 5),
		RecentOrder:       getEnv("RECENT_ORDER", "timestamp"),
		RetentionSchedule: getEnv("RETENTION_SCHEDULE", "@every 1m"),

		// Provider configuration
		ProviderType:      getEnv("PROVIDER_TYPE", "simulated"),
		ProviderBaseURL:   getEnv("PROVIDER_BASE_URL", "https://free.currencyconverterapi.com/api/v5"),
		ProviderAPIKey:    getEnv("PROVIDER_API_KEY", ""),
		ProviderMaxDrift:  getEnvFloat("PROVIDER_MAX_DRIFT", 0.02),
		HTTPClientTimeout: getEnvDuration("HTTP_CLIENT_TIMEOUT", 10*time.Second),
		FlagURLTemplate:   getEnv("FLAG_URL_TEMPLATE", "http://www.countryflags.io/{code}/flat/24.png"),
		CountriesSchedule: getEnv("COUNTRIES_REFRESH_SCHEDULE", "@every 15m"),

		// Resource cache
		CacheEnabled:        getEnvBool("CACHE_ENABLED", true),
		CacheDatabasePath:   getEnv("CACHE_DATABASE_PATH", "./data/resource-cache.db"),
		CacheVersion:        getEnv("CACHE_VERSION", "currency-converter-v1"),
		CacheAllowPrefixes:  getEnvList("CACHE_ALLOW_PREFIXES", nil),
		CacheOpaquePrefixes: getEnvList("CACHE_OPAQUE_PREFIXES", []string{"https://fonts.gstatic.com/"}),
		CacheConcurrency:    getEnvInt("CACHE_INSTALL_CONCURRENCY", 4),
		CacheMaxEntryBytes:  int64(getEnvInt("CACHE_MAX_ENTRY_BYTES", 5<<20)),
		AppOrigin:           getEnv("APP_ORIGIN", ""),

		// Events
		KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "conversion.recorded"),
		HistorySyncEnabled: getEnvBool("HISTORY_SYNC_ENABLED", false),
		InstanceID:         getEnv("INSTANCE_ID", hostname()),

		// Observability
		JaegerURL:          getEnv("JAEGER_URL", ""),
		TracingSampleRatio: getEnvFloat("TRACING_SAMPLE_RATIO", 1),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		MetricsEndpoint:    getEnv("METRICS_ENDPOINT", "/metrics"),

		// Environment
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
	cfg.CacheManifest = getEnvList("CACHE_MANIFEST", cfg.defaultManifest())
	cfg.KafkaGroupID = getEnv("KAFKA_GROUP_ID", "currency-converter-"+cfg.InstanceID)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultManifest lists the UI assets. Local paths are only included when
// there is an origin to fetch them from.
func (c *Config) defaultManifest() []string {
	var entries []string
	if c.AppOrigin != "" {
		entries = append(entries, defaultLocalAssets...)
	}
	return append(entries, defaultRemoteAssets...)
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.RecentLimit < 0 {
		return fmt.Errorf("RECENT_LIMIT must not be negative, got %d", c.RecentLimit)
	}
	if c.CacheEnabled && c.CacheVersion == "" {
		return fmt.Errorf("CACHE_VERSION is required when the cache is enabled")
	}
	if c.HistorySyncEnabled && c.KafkaBrokers == "" {
		return fmt.Errorf("HISTORY_SYNC_ENABLED requires KAFKA_BROKERS")
	}
	if c.HTTPClientTimeout <= 0 {
		return fmt.Errorf("HTTP_CLIENT_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func hostname() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "local"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList reads a comma-separated list, skipping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
