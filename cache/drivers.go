package cache

import (
	"github.com/gobeaver/authflow/cache/driver/memory"
	"github.com/gobeaver/authflow/cache/driver/redis"
)

func memoryRegister(cfg Config) (Cache, error) {
	return memory.New(memory.Config{
		MaxKeys:         cfg.MaxKeys,
		DefaultTTL:      cfg.ParsedDefaultTTL(),
		CleanupInterval: cfg.ParsedCleanupInterval(),
		KeyPrefix:       cfg.namespacedPrefix(),
	})
}

func redisRegister(cfg Config) (Cache, error) {
	return redis.New(redis.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		Database:     cfg.Database,
		URL:          cfg.URL,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		UseTLS:       cfg.UseTLS,
		KeyPrefix:    cfg.namespacedPrefix(),
	})
}
