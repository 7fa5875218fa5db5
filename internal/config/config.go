package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Sitename string

	Crawl      CrawlConfig
	Browser    BrowserConfig
	Checkpoint CheckpointConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	API        APIConfig
	Logging    LoggingConfig
}

type CrawlConfig struct {
	CategoriesChunkSize  int
	MinProductsChunkSize int
	MaxProductsChunkSize int
	StartCategory        string
	EndCategory          string
	StartPage            int
	RateLimit            int // navigation permits per second, process-wide
	MaxRetries           int
	RetryInitialDelay    time.Duration
	VerifyTTL            time.Duration
	VerifyCacheSize      int
	SaveHTML             bool
	OutputDir            string
}

type BrowserConfig struct {
	Headless          bool
	Timeout           time.Duration
	NavigationTimeout time.Duration
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	Locale            string
	TimezoneID        string
	ProxyServer       string
}

type CheckpointConfig struct {
	// Backend selects where progress is persisted: "file" or "postgres".
	Backend          string
	UseCategoryState bool
	UseProductState  bool
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Enabled bool
	Addr    string
	Stream  string
}

type APIConfig struct {
	Enabled         bool
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Sitename: getEnvOrDefault("CRAWLER_SITENAME", ""),
		Crawl: CrawlConfig{
			CategoriesChunkSize:  getIntOrDefault("CRAWLER_CATEGORIES_CHUNK_SIZE", 2),
			MinProductsChunkSize: getIntOrDefault("CRAWLER_MIN_PRODUCTS_CHUNK_SIZE", 5),
			MaxProductsChunkSize: getIntOrDefault("CRAWLER_MAX_PRODUCTS_CHUNK_SIZE", 10),
			StartCategory:        getEnvOrDefault("CRAWLER_START_CATEGORY", ""),
			EndCategory:          getEnvOrDefault("CRAWLER_END_CATEGORY", ""),
			StartPage:            getIntOrDefault("CRAWLER_START_PAGE", 1),
			RateLimit:            getIntOrDefault("CRAWLER_RATE_LIMIT", 5),
			MaxRetries:           getIntOrDefault("CRAWLER_MAX_RETRIES", 5),
			RetryInitialDelay:    getDurationOrDefault("CRAWLER_RETRY_INITIAL_DELAY", 500*time.Millisecond),
			VerifyTTL:            getDurationOrDefault("CRAWLER_VERIFY_TTL", 24*time.Hour),
			VerifyCacheSize:      getIntOrDefault("CRAWLER_VERIFY_CACHE_SIZE", 4096),
			SaveHTML:             getBoolOrDefault("CRAWLER_SAVE_HTML", false),
			OutputDir:            getEnvOrDefault("CRAWLER_OUTPUT_DIR", "output"),
		},
		Browser: BrowserConfig{
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:           getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			NavigationTimeout: getDurationOrDefault("BROWSER_NAVIGATION_TIMEOUT", 60*time.Second),
			ViewportWidth:     getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight:    getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			UserAgent:         getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
			Locale:            getEnvOrDefault("BROWSER_LOCALE", "ko-KR"),
			TimezoneID:        getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Seoul"),
			ProxyServer:       getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Checkpoint: CheckpointConfig{
			Backend:          getEnvOrDefault("CHECKPOINT_BACKEND", "file"),
			UseCategoryState: getBoolOrDefault("CHECKPOINT_CATEGORY_STATES", true),
			UseProductState:  getBoolOrDefault("CHECKPOINT_PRODUCT_STATES", true),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "market_crawler"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled: getBoolOrDefault("REDIS_ENABLED", false),
			Addr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Stream:  getEnvOrDefault("REDIS_STREAM", "stream:crawler:products"),
		},
		API: APIConfig{
			Enabled:         getBoolOrDefault("API_ENABLED", false),
			Port:            getEnvOrDefault("API_PORT", "8080"),
			Host:            getEnvOrDefault("API_HOST", "0.0.0.0"),
			ShutdownTimeout: getDurationOrDefault("API_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Sitename == "" {
		return fmt.Errorf("CRAWLER_SITENAME is required")
	}

	if c.Crawl.CategoriesChunkSize < 1 {
		return fmt.Errorf("CRAWLER_CATEGORIES_CHUNK_SIZE must be at least 1")
	}

	if c.Crawl.MinProductsChunkSize < 1 {
		return fmt.Errorf("CRAWLER_MIN_PRODUCTS_CHUNK_SIZE must be at least 1")
	}

	if c.Crawl.MaxProductsChunkSize < c.Crawl.MinProductsChunkSize {
		return fmt.Errorf("CRAWLER_MAX_PRODUCTS_CHUNK_SIZE cannot be smaller than CRAWLER_MIN_PRODUCTS_CHUNK_SIZE")
	}

	if c.Crawl.StartPage < 1 {
		return fmt.Errorf("CRAWLER_START_PAGE must be at least 1")
	}

	if c.Crawl.RateLimit < 1 {
		return fmt.Errorf("CRAWLER_RATE_LIMIT must be at least 1")
	}

	switch c.Checkpoint.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("CHECKPOINT_BACKEND must be file or postgres, got %q", c.Checkpoint.Backend)
	}

	return nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
