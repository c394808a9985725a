package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/authflow/authstate"
	"github.com/gobeaver/authflow/cache"
	"github.com/gobeaver/authflow/config"
)

// FromConfig builds a Flow from cfg. store backs the discovery cache and
// the accepted configuration hash; nil keeps both in process memory.
// Options given here override the ones derived from cfg.
func FromConfig(cfg Config, store cache.Cache, mgr *authstate.Manager, opts ...Option) (*Flow, error) {
	if store == nil {
		store = cache.NewMemory()
	}
	log := cfg.Logger()
	metrics := NewDefaultMetricsCollector()

	breakers := NewCircuitBreakerManager(CircuitBreakerConfig{
		OnStateChange: func(key, from, to string) {
			log.WithFields(logrus.Fields{
				"host": key,
				"from": from,
				"to":   to,
			}).Warn("circuit breaker state changed")
		},
	})

	conf := NewEnvConfiguration(cfg, store)
	client := conf.HTTPClient()

	resolver := NewResolver(client,
		WithDiscoveryCache(store, cfg.DiscoveryCacheTTL),
		WithDiscoveryRetries(cfg.DiscoveryMaxRetries),
		WithHTTPSRequired(cfg.HTTPSRequired),
		WithCircuitBreakers(breakers),
		WithResolverMetrics(metrics),
		WithResolverLogger(log),
	)
	registrar := NewRegistrar(client,
		WithRegistrationBreakers(breakers),
		WithRegistrarMetrics(metrics),
		WithRegistrarLogger(log),
	)

	base := []Option{
		WithLogger(log),
		WithMetrics(metrics),
		WithResolver(resolver),
		WithRegistrar(registrar),
		WithDebounce(cfg.LoginHintDebounce),
		WithClientName(cfg.ClientName),
	}
	return New(conf, mgr, append(base, opts...)...)
}

// Flow loads AUTHFLOW-style settings under the builder's prefix (the flow
// itself, CACHE_* for the shared cache, STATE_* for the auth state) and
// returns a Flow that owns everything it opened.
func (b *Builder) Flow(ctx context.Context, opts ...Option) (*Flow, error) {
	cfg, err := b.Config()
	if err != nil {
		return nil, err
	}

	loadOpts := config.LoadOptions{Prefix: b.prefix}
	cacheCfg, err := cache.GetConfig(loadOpts)
	if err != nil {
		return nil, err
	}
	store, err := cache.New(*cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("authflow: cache: %w", err)
	}

	p, err := authstate.WithPrefix(b.prefix).Persister()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("authflow: auth state: %w", err)
	}
	mgr, err := authstate.NewManager(ctx, p, authstate.WithLogger(cfg.Logger()))
	if err != nil {
		_ = p.Close()
		_ = store.Close()
		return nil, err
	}

	f, err := FromConfig(*cfg, store, mgr, opts...)
	if err != nil {
		_ = mgr.Close()
		_ = store.Close()
		return nil, err
	}
	f.closers = append(f.closers, mgr.Close, store.Close)
	return f, nil
}

func (f *Flow) closeOwned() error {
	var errs []error
	for _, c := range f.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
