// Package memory is the in-process cache backend.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gobeaver/authflow/cache/driver"
)

// ErrMaxKeys is returned when Set would exceed the configured key limit.
var ErrMaxKeys = errors.New("max keys limit reached")

type entry struct {
	value      []byte
	expiration int64
}

func (e *entry) expired(now int64) bool {
	return e.expiration > 0 && now > e.expiration
}

// MemoryCache implements an in-memory cache
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxKeys    int
	defaultTTL time.Duration
	keyPrefix  string

	stopOnce sync.Once
	stop     chan struct{}
}

// Config holds memory cache specific configuration
type Config struct {
	MaxKeys         int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	KeyPrefix       string
}

// New creates a new memory cache instance and starts its sweeper.
func New(cfg Config) (*MemoryCache, error) {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	mc := &MemoryCache{
		entries:    make(map[string]*entry),
		maxKeys:    cfg.MaxKeys,
		defaultTTL: cfg.DefaultTTL,
		keyPrefix:  cfg.KeyPrefix,
		stop:       make(chan struct{}),
	}

	go mc.sweep(cfg.CleanupInterval)

	return mc, nil
}

// Get retrieves a value by key
func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	e, ok := mc.entries[mc.keyPrefix+key]
	if !ok || e.expired(time.Now().UnixNano()) {
		return nil, driver.ErrKeyNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a value. A zero ttl falls back to the default TTL; a
// negative or zero default means no expiry.
func (mc *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	fullKey := mc.keyPrefix + key
	if mc.maxKeys > 0 && len(mc.entries) >= mc.maxKeys {
		if _, exists := mc.entries[fullKey]; !exists {
			return ErrMaxKeys
		}
	}

	if ttl == 0 {
		ttl = mc.defaultTTL
	}

	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	mc.entries[fullKey] = &entry{value: stored, expiration: expiration}

	return nil
}

// Delete removes a key
func (mc *MemoryCache) Delete(_ context.Context, key string) error {
	mc.mu.Lock()
	delete(mc.entries, mc.keyPrefix+key)
	mc.mu.Unlock()
	return nil
}

// Exists checks if a key exists
func (mc *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	e, ok := mc.entries[mc.keyPrefix+key]
	if !ok {
		return false, nil
	}
	return !e.expired(time.Now().UnixNano()), nil
}

// Close stops the sweeper. It is safe to call more than once.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}

// Ping always succeeds.
func (mc *MemoryCache) Ping(context.Context) error {
	return nil
}

// Len returns the number of live keys.
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	now := time.Now().UnixNano()
	n := 0
	for _, e := range mc.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (mc *MemoryCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.removeExpired()
		case <-mc.stop:
			return
		}
	}
}

func (mc *MemoryCache) removeExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now().UnixNano()
	for key, e := range mc.entries {
		if e.expired(now) {
			delete(mc.entries, key)
		}
	}
}
