package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the affiliate ledger service.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Archive    ArchiveConfig
	Tracking   TrackingConfig
	Commission CommissionConfig
	Settlement SettlementConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

// StorageConfig selects the document backend.
type StorageConfig struct {
	// Backend is "file" or "postgres".
	Backend  string
	FilePath string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	PoolSize int
	// Timeouts bound stats cache calls made on the request path.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	StatsTTL     time.Duration
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled    bool
	TrackRPS   float64
	TrackBurst int
	APIRPS     float64
	APIBurst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// GeoConfig configures GeoIP enrichment of clicks.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// ArchiveConfig configures the ClickHouse event archive.
type ArchiveConfig struct {
	Enabled  bool
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

type TrackingConfig struct {
	CookieTTL         time.Duration
	AttributionWindow time.Duration
	DefaultTarget     string
	// AllowedHosts restricts absolute redirect targets. Empty allows any http(s) host.
	AllowedHosts []string
	LinkCacheTTL time.Duration
}

type CommissionConfig struct {
	DefaultRate float64
	RulesFile   string
}

type SettlementConfig struct {
	Currency  string
	MinPayout float64
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("AFFILIATE_HTTP_ADDR", ":8080"),
			Env:             getEnv("AFFILIATE_ENV", "development"),
			ShutdownTimeout: getDurationEnv("AFFILIATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Backend:  getEnv("AFFILIATE_STORAGE_BACKEND", "file"),
			FilePath: getEnv("AFFILIATE_STORAGE_FILE", "data/affiliate-ledger.json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("AFFILIATE_DB_HOST", "localhost"),
			Port:     getIntEnv("AFFILIATE_DB_PORT", 5432),
			User:     getEnv("AFFILIATE_DB_USER", "affiliate"),
			Password: getEnv("AFFILIATE_DB_PASSWORD", "affiliate_secret"),
			DBName:   getEnv("AFFILIATE_DB_NAME", "affiliate"),
			SSLMode:  getEnv("AFFILIATE_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("AFFILIATE_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("AFFILIATE_DB_MIN_CONNS", 2),

			MaxConnLifetime: getDurationEnv("AFFILIATE_DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getDurationEnv("AFFILIATE_DB_MAX_CONN_IDLE", 30*time.Minute),
			ConnectTimeout:  getDurationEnv("AFFILIATE_DB_CONNECT_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("AFFILIATE_REDIS_ENABLED", false),
			Addr:     getEnv("AFFILIATE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("AFFILIATE_REDIS_PASSWORD", ""),
			DB:       getIntEnv("AFFILIATE_REDIS_DB", 0),
			PoolSize: getIntEnv("AFFILIATE_REDIS_POOL_SIZE", 20),

			DialTimeout:  getDurationEnv("AFFILIATE_REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getDurationEnv("AFFILIATE_REDIS_READ_TIMEOUT", 200*time.Millisecond),
			WriteTimeout: getDurationEnv("AFFILIATE_REDIS_WRITE_TIMEOUT", 200*time.Millisecond),
			StatsTTL:     getDurationEnv("AFFILIATE_STATS_CACHE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("AFFILIATE_AUTH_ENABLED", true),
			MasterKey: getEnv("AFFILIATE_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("AFFILIATE_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/track"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("AFFILIATE_RATE_LIMIT_ENABLED", true),
			TrackRPS:   getFloatEnv("AFFILIATE_RATE_LIMIT_TRACK_RPS", 500),
			TrackBurst: getIntEnv("AFFILIATE_RATE_LIMIT_TRACK_BURST", 100),
			APIRPS:     getFloatEnv("AFFILIATE_RATE_LIMIT_API_RPS", 100),
			APIBurst:   getIntEnv("AFFILIATE_RATE_LIMIT_API_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("AFFILIATE_LOG_LEVEL", "info"),
			Format: getEnv("AFFILIATE_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("AFFILIATE_METRICS_ENABLED", true),
			Path:      getEnv("AFFILIATE_METRICS_PATH", "/metrics"),
			Namespace: getEnv("AFFILIATE_METRICS_NAMESPACE", "affiliate"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("AFFILIATE_GEO_ENABLED", false),
			DatabasePath: getEnv("AFFILIATE_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
			CacheSize:    getIntEnv("AFFILIATE_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("AFFILIATE_GEO_CACHE_TTL", time.Hour),
		},
		Archive: ArchiveConfig{
			Enabled:  getBoolEnv("AFFILIATE_ARCHIVE_ENABLED", false),
			Addr:     getEnv("AFFILIATE_ARCHIVE_ADDR", "localhost:9000"),
			Database: getEnv("AFFILIATE_ARCHIVE_DB", "affiliate"),
			Username: getEnv("AFFILIATE_ARCHIVE_USER", "default"),
			Password: getEnv("AFFILIATE_ARCHIVE_PASSWORD", ""),
			Table:    getEnv("AFFILIATE_ARCHIVE_TABLE", "affiliate_events"),
		},
		Tracking: TrackingConfig{
			CookieTTL:         getDurationEnv("AFFILIATE_COOKIE_TTL", 30*24*time.Hour),
			AttributionWindow: getDurationEnv("AFFILIATE_ATTRIBUTION_WINDOW", 30*24*time.Hour),
			DefaultTarget:     getEnv("AFFILIATE_DEFAULT_TARGET", "/"),
			AllowedHosts:      getSliceEnv("AFFILIATE_REDIRECT_HOSTS", nil),
			LinkCacheTTL:      getDurationEnv("AFFILIATE_LINK_CACHE_TTL", 5*time.Minute),
		},
		Commission: CommissionConfig{
			DefaultRate: getFloatEnv("AFFILIATE_DEFAULT_COMMISSION_RATE", 10),
			RulesFile:   getEnv("AFFILIATE_RULES_FILE", ""),
		},
		Settlement: SettlementConfig{
			Currency:  getEnv("AFFILIATE_SETTLEMENT_CURRENCY", "USD"),
			MinPayout: getFloatEnv("AFFILIATE_MIN_PAYOUT", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("AFFILIATE_API_KEY_MASTER is required when auth is enabled")
	}
	switch c.Storage.Backend {
	case "file":
		if c.Storage.FilePath == "" {
			return fmt.Errorf("AFFILIATE_STORAGE_FILE is required for the file backend")
		}
	case "postgres":
		if c.Database.MaxConns < 1 || c.Database.MinConns > c.Database.MaxConns {
			return fmt.Errorf("AFFILIATE_DB_MIN_CONNS must not exceed AFFILIATE_DB_MAX_CONNS")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Commission.DefaultRate < 0 || c.Commission.DefaultRate > 100 {
		return fmt.Errorf("AFFILIATE_DEFAULT_COMMISSION_RATE must be within [0, 100]")
	}
	if c.Settlement.MinPayout < 0 {
		return fmt.Errorf("AFFILIATE_MIN_PAYOUT must not be negative")
	}
	if c.Tracking.CookieTTL <= 0 {
		return fmt.Errorf("AFFILIATE_COOKIE_TTL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
