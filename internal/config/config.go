package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

type Config struct {
	Server   ServerConfig
	Identity IdentityConfig
	Engine   EngineConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type IdentityConfig struct {
	UserAgents []string
	Proxies    []string
	MinDelay   time.Duration
	MaxDelay   time.Duration
}

type EngineConfig struct {
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	DefaultMaxResults int
	ReviewCap         int
	MinReviewLength   int
}

type BrowserConfig struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	AcceptLanguage string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type WorkerConfig struct {
	PollInterval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// A missing .env is fine; real env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Identity: IdentityConfig{
			UserAgents: getStringSliceOrDefault("IDENTITY_USER_AGENTS", defaultUserAgents()),
			Proxies:    getStringSliceOrDefault("IDENTITY_PROXIES", []string{}),
			MinDelay:   getDurationOrDefault("IDENTITY_MIN_DELAY", 1*time.Second),
			MaxDelay:   getDurationOrDefault("IDENTITY_MAX_DELAY", 4*time.Second),
		},
		Engine: EngineConfig{
			NavigationTimeout: getDurationOrDefault("ENGINE_NAVIGATION_TIMEOUT", 30*time.Second),
			SettleDelay:       getDurationOrDefault("ENGINE_SETTLE_DELAY", 3*time.Second),
			DefaultMaxResults: getIntOrDefault("ENGINE_DEFAULT_MAX_RESULTS", 8),
			ReviewCap:         getIntOrDefault("ENGINE_REVIEW_CAP", 15),
			MinReviewLength:   getIntOrDefault("ENGINE_MIN_REVIEW_LENGTH", 10),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/London"),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "scrapegrid"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Worker: WorkerConfig{
			PollInterval: getDurationOrDefault("WORKER_POLL_INTERVAL", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Identity.MinDelay > c.Identity.MaxDelay {
		return fmt.Errorf("IDENTITY_MIN_DELAY cannot be greater than IDENTITY_MAX_DELAY")
	}
	if c.Engine.DefaultMaxResults < 1 {
		return fmt.Errorf("ENGINE_DEFAULT_MAX_RESULTS must be at least 1")
	}
	if c.Engine.ReviewCap < 1 {
		return fmt.Errorf("ENGINE_REVIEW_CAP must be at least 1")
	}
	if c.Worker.PollInterval < time.Second {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be at least 1s")
	}
	return nil
}

// ProxyConfigs parses IDENTITY_PROXIES entries of the form
// host:port[:user:pass] into proxy configurations. Malformed entries are
// skipped rather than failing startup.
func (c *Config) ProxyConfigs() []models.ProxyConfig {
	var proxies []models.ProxyConfig
	for _, raw := range c.Identity.Proxies {
		parts := strings.Split(strings.TrimSpace(raw), ":")
		if len(parts) < 2 {
			continue
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		p := models.ProxyConfig{Host: parts[0], Port: port, Protocol: "http"}
		if len(parts) >= 4 {
			p.Username = parts[2]
			p.Password = parts[3]
		}
		proxies = append(proxies, p)
	}
	return proxies
}

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

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
