package authstate

import (
	"fmt"
	"strings"

	"github.com/gobeaver/authflow/cache"
	"github.com/gobeaver/authflow/config"
	"github.com/gobeaver/authflow/database"
	"github.com/gobeaver/authflow/filekit"

	_ "github.com/gobeaver/authflow/filekit/driver/local"
	_ "github.com/gobeaver/authflow/filekit/driver/s3"
)

// Config selects where the auth state lives.
type Config struct {
	// Driver: memory, cache, database, file
	Driver string `env:"STATE_DRIVER,default:memory"`
	// Key distinguishes several clients sharing one backend.
	Key string `env:"STATE_KEY,default:default"`
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

// Builder creates persisters and managers from prefixed environment
// variables. The backend packages read their own settings under the same
// prefix (CACHE_*, DB_*, FILEKIT_*).
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Persister builds the persister named by STATE_DRIVER.
func (b *Builder) Persister() (Persister, error) {
	opts := config.LoadOptions{Prefix: b.prefix}
	cfg, err := GetConfig(opts)
	if err != nil {
		return nil, err
	}
	return NewPersister(*cfg, opts)
}

// NewPersister builds a persister for cfg. Backends it opens are owned by
// the persister and closed with it.
func NewPersister(cfg Config, opts ...config.LoadOptions) (Persister, error) {
	key := cfg.Key
	if key == "" {
		key = "default"
	}

	switch cfg.Driver {
	case "", "memory":
		return NewMemoryPersister(), nil

	case "cache":
		cacheCfg, err := cache.GetConfig(opts...)
		if err != nil {
			return nil, err
		}
		c, err := cache.New(*cacheCfg)
		if err != nil {
			return nil, err
		}
		p := NewCachePersister(c, key)
		p.owned = true
		return p, nil

	case "database", "db":
		dbCfg, err := database.GetConfig(opts...)
		if err != nil {
			return nil, err
		}
		db, err := database.Open(*dbCfg)
		if err != nil {
			return nil, err
		}
		p, err := NewGORMPersister(db, key)
		if err != nil {
			_ = database.Close(db)
			return nil, err
		}
		p.owned = true
		return p, nil

	case "file":
		fsCfg, err := filekit.GetConfig(opts...)
		if err != nil {
			return nil, err
		}
		fs, err := filekit.New(*fsCfg)
		if err != nil {
			return nil, err
		}
		return NewFilePersister(fs, key), nil

	default:
		return nil, fmt.Errorf("authstate: unknown driver %q", cfg.Driver)
	}
}
