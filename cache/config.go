package cache

import (
	"strings"
	"time"

	"github.com/gobeaver/authflow/config"
)

// Config holds cache configuration
type Config struct {
	// Driver specifies cache backend: "memory" or "redis"
	Driver string `env:"CACHE_DRIVER,default:memory"`

	// Redis specific settings
	Host     string `env:"CACHE_HOST,default:localhost"`
	Port     string `env:"CACHE_PORT,default:6379"`
	Password string `env:"CACHE_PASSWORD"`
	Database int    `env:"CACHE_DATABASE,default:0"`

	// Connection URL (overrides host/port/password)
	URL string `env:"CACHE_URL"`

	// Connection pool settings
	MaxRetries   int `env:"CACHE_MAX_RETRIES,default:3"`
	PoolSize     int `env:"CACHE_POOL_SIZE,default:10"`
	MinIdleConns int `env:"CACHE_MIN_IDLE_CONNS,default:2"`

	// Memory cache specific
	MaxKeys         int    `env:"CACHE_MAX_KEYS,default:0"`
	DefaultTTL      string `env:"CACHE_DEFAULT_TTL,default:0"`
	CleanupInterval string `env:"CACHE_CLEANUP_INTERVAL,default:1m"`

	// TLS settings for Redis
	UseTLS bool `env:"CACHE_USE_TLS,default:false"`

	// Common settings
	KeyPrefix string `env:"CACHE_KEY_PREFIX"`
	Namespace string `env:"CACHE_NAMESPACE,default:authflow"`
}

// GetConfig loads configuration from environment variables
func GetConfig(opts ...config.LoadOptions) (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, opts...); err != nil {
		return nil, err
	}

	cfg.Driver = strings.ToLower(cfg.Driver)

	return cfg, nil
}

// ParsedDefaultTTL returns the default TTL as a time.Duration
func (c Config) ParsedDefaultTTL() time.Duration {
	if d, err := time.ParseDuration(c.DefaultTTL); err == nil {
		return d
	}
	return 0
}

// ParsedCleanupInterval returns the cleanup interval as a time.Duration
func (c Config) ParsedCleanupInterval() time.Duration {
	if d, err := time.ParseDuration(c.CleanupInterval); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

// namespacedPrefix combines namespace and key prefix the way both drivers
// expect.
func (c Config) namespacedPrefix() string {
	prefix := c.KeyPrefix
	if c.Namespace == "" {
		return prefix
	}
	return c.Namespace + ":" + prefix
}
