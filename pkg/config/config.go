package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	// Cloud provider API
	CloudAPIURL   string
	CloudAPIToken string

	// Dedicated-hardware inventory API
	DedicatedAPIURL      string
	DedicatedAPIUser     string
	DedicatedAPIPassword string

	// Agent ingestion
	AgentSecret string

	// Storage
	DatabaseURL string

	// Pipeline intervals
	CollectInterval   time.Duration
	AnalyzeInterval   time.Duration
	RecommendInterval time.Duration

	// Collection tuning
	StalenessWindow time.Duration
	SyncConcurrency int
	SourceTimeout   time.Duration
	SourceRateLimit int // requests per second against external APIs
	PageSize        int

	// Pricing catalog override (optional YAML file)
	CatalogPath string

	// HTTP API
	ListenAddr string

	// Demo mode seeds a synthetic fleet instead of calling external APIs
	DemoMode bool

	Verbose bool
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	return &Config{
		CloudAPIURL:          getEnv("CLOUD_API_URL", "https://api.hetzner.cloud/v1"),
		CloudAPIToken:        getEnv("CLOUD_API_TOKEN", ""),
		DedicatedAPIURL:      getEnv("DEDICATED_API_URL", "https://robot-ws.your-server.de"),
		DedicatedAPIUser:     getEnv("DEDICATED_API_USER", ""),
		DedicatedAPIPassword: getEnv("DEDICATED_API_PASSWORD", ""),
		AgentSecret:          getEnv("AGENT_SECRET", "change-me"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		CollectInterval:      getEnvDuration("COLLECT_INTERVAL", 5*time.Minute),
		AnalyzeInterval:      getEnvDuration("ANALYZE_INTERVAL", 1*time.Hour),
		RecommendInterval:    getEnvDuration("RECOMMEND_INTERVAL", 24*time.Hour),
		StalenessWindow:      getEnvDuration("STALENESS_WINDOW", 24*time.Hour),
		SyncConcurrency:      getEnvInt("SYNC_CONCURRENCY", 5),
		SourceTimeout:        getEnvDuration("SOURCE_TIMEOUT", 30*time.Second),
		SourceRateLimit:      getEnvInt("SOURCE_RATE_LIMIT", 5),
		PageSize:             getEnvInt("PAGE_SIZE", 50),
		CatalogPath:          getEnv("CATALOG_PATH", ""),
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		DemoMode:             getEnvBool("DEMO_MODE", false),
		Verbose:              getEnvBool("VERBOSE", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
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

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.CollectInterval < 30*time.Second {
		return fmt.Errorf("collect interval must be at least 30s")
	}
	if c.StalenessWindow < c.CollectInterval {
		return fmt.Errorf("staleness window must not be shorter than the collect interval")
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("sync concurrency must be >= 1")
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("page size must be between 1 and 100")
	}
	if c.SourceTimeout <= 0 {
		return fmt.Errorf("source timeout must be positive")
	}
	if !c.DemoMode && c.CloudAPIToken == "" && c.DedicatedAPIUser == "" {
		return fmt.Errorf("at least one of CLOUD_API_TOKEN or DEDICATED_API_USER must be set (or enable DEMO_MODE)")
	}
	return nil
}
