package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/gobeaver/authflow/authstate"
	"github.com/gobeaver/authflow/cache"
)

// WellKnownPath is the OpenID Provider configuration suffix.
const WellKnownPath = "/.well-known/openid-configuration"

const maxDocumentSize = 1 << 20

// Resolver turns a discovery URL into a ProviderConfig.
type Resolver struct {
	client        *http.Client
	cache         cache.Cache
	ttl           time.Duration
	maxRetries    int
	httpsRequired bool
	newBackOff    func() backoff.BackOff
	breakers      *CircuitBreakerManager
	metrics       MetricsCollector
	log           logrus.FieldLogger

	group singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithDiscoveryCache caches fetched documents in c for ttl.
func WithDiscoveryCache(c cache.Cache, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithDiscoveryRetries sets how many times a transient failure is retried.
func WithDiscoveryRetries(n int) ResolverOption {
	return func(r *Resolver) { r.maxRetries = n }
}

// WithHTTPSRequired controls whether an http issuer is rejected.
func WithHTTPSRequired(required bool) ResolverOption {
	return func(r *Resolver) { r.httpsRequired = required }
}

// WithBackOff replaces the retry policy.
func WithBackOff(newBackOff func() backoff.BackOff) ResolverOption {
	return func(r *Resolver) { r.newBackOff = newBackOff }
}

// WithCircuitBreakers shares a breaker set across resolvers and registrars.
func WithCircuitBreakers(m *CircuitBreakerManager) ResolverOption {
	return func(r *Resolver) { r.breakers = m }
}

// WithResolverMetrics sets the metrics collector.
func WithResolverMetrics(m MetricsCollector) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l logrus.FieldLogger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// NewResolver creates a Resolver that fetches with client.
func NewResolver(client *http.Client, opts ...ResolverOption) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	r := &Resolver{
		client:        client,
		maxRetries:    3,
		httpsRequired: true,
		newBackOff:    defaultBackOff,
		metrics:       nopMetrics{},
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breakers == nil {
		r.breakers = NewCircuitBreakerManager(CircuitBreakerConfig{})
	}
	return r
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// Resolve returns the provider configuration published at discoveryURL.
// Any failure is a *DiscoveryError.
func (r *Resolver) Resolve(ctx context.Context, discoveryURL string) (*ProviderConfig, error) {
	start := time.Now()
	cfg, err := r.resolve(ctx, discoveryURL)
	r.metrics.RecordOperation(OpDiscovery, err == nil, time.Since(start))

	entry := r.log.WithField("discovery_uri", discoveryURL)
	if err != nil {
		entry.WithError(err).Warn("discovery failed")
		return nil, err
	}
	entry.WithField("issuer", cfg.Discovery.Issuer).Info("discovery resolved")
	return cfg, nil
}

func (r *Resolver) resolve(ctx context.Context, discoveryURL string) (*ProviderConfig, error) {
	u, err := url.Parse(discoveryURL)
	if err != nil || u.Host == "" {
		return nil, &DiscoveryError{Kind: MalformedDocument, URL: discoveryURL, Err: fmt.Errorf("invalid discovery URL")}
	}

	if doc, ok := r.cached(ctx, discoveryURL); ok {
		if err := r.validate(discoveryURL, doc); err == nil {
			return configFromDocument(doc), nil
		}
	}

	ch := r.group.DoChan(discoveryURL, func() (interface{}, error) {
		return r.fetchWithRetry(ctx, u)
	})

	select {
	case <-ctx.Done():
		return nil, &DiscoveryError{Kind: NetworkFailure, URL: discoveryURL, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		doc := res.Val.(*authstate.DiscoveryDocument)
		r.store(ctx, discoveryURL, doc)
		return configFromDocument(doc), nil
	}
}

func (r *Resolver) fetchWithRetry(ctx context.Context, u *url.URL) (*authstate.DiscoveryDocument, error) {
	discoveryURL := u.String()
	var last *DiscoveryError
	op := func() (*authstate.DiscoveryDocument, error) {
		var doc *authstate.DiscoveryDocument
		err := r.breakers.Call(ctx, u.Host, func() error {
			var fetchErr error
			doc, fetchErr = r.fetch(ctx, discoveryURL)
			return fetchErr
		}, isTransientDiscovery)
		if err == nil {
			return doc, nil
		}
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
			return nil, backoff.Permanent(&DiscoveryError{Kind: NetworkFailure, URL: discoveryURL, Err: err})
		}
		if !isTransientDiscovery(err) {
			return nil, backoff.Permanent(err)
		}
		var de *DiscoveryError
		if errors.As(err, &de) && de.retryAfter > 0 {
			last = de
			return nil, backoff.RetryAfter(de.retryAfter)
		}
		return nil, err
	}

	doc, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.WithFields(logrus.Fields{
				"discovery_uri": discoveryURL,
				"retry_in":      next,
			}).WithError(err).Debug("retrying discovery")
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		var retryAfter *backoff.RetryAfterError
		if errors.As(err, &retryAfter) && last != nil {
			err = last
		}
		var de *DiscoveryError
		if !errors.As(err, &de) {
			err = &DiscoveryError{Kind: NetworkFailure, URL: discoveryURL, Err: err}
		}
		return nil, err
	}

	if err := r.validate(discoveryURL, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *Resolver) fetch(ctx context.Context, discoveryURL string) (*authstate.DiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, &DiscoveryError{Kind: MalformedDocument, URL: discoveryURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &DiscoveryError{Kind: NetworkFailure, URL: discoveryURL, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize))
		de := &DiscoveryError{Kind: NetworkFailure, URL: discoveryURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			de.Err = fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				de.retryAfter = secs
			}
		}
		return nil, de
	}

	var doc authstate.DiscoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&doc); err != nil {
		return nil, &DiscoveryError{Kind: MalformedDocument, URL: discoveryURL, Err: err}
	}
	return &doc, nil
}

// isTransientDiscovery reports failures worth retrying: transport errors
// and 5xx or 429 responses.
func isTransientDiscovery(err error) bool {
	var de *DiscoveryError
	if !errors.As(err, &de) || de.Kind != NetworkFailure {
		return false
	}
	return errors.Is(de.Err, ErrNetworkError) || errors.Is(de.Err, ErrServerError)
}

func (r *Resolver) validate(discoveryURL string, doc *authstate.DiscoveryDocument) error {
	var missing []string
	if doc.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if doc.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if doc.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return &DiscoveryError{Kind: MalformedDocument, URL: discoveryURL,
			Err: fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))}
	}

	issuer, err := url.Parse(doc.Issuer)
	if err != nil || issuer.Host == "" {
		return &DiscoveryError{Kind: UnsupportedIssuer, URL: discoveryURL, Err: fmt.Errorf("issuer %q is not a URL", doc.Issuer)}
	}
	if r.httpsRequired && issuer.Scheme != "https" {
		return &DiscoveryError{Kind: UnsupportedIssuer, URL: discoveryURL, Err: fmt.Errorf("issuer %q is not https", doc.Issuer)}
	}

	// Multi-tenant providers publish a templated issuer such as
	// https://login.microsoftonline.com/{tenantid}/v2.0.
	if strings.HasSuffix(discoveryURL, WellKnownPath) && !strings.Contains(doc.Issuer, "{") {
		expected := strings.TrimSuffix(discoveryURL, WellKnownPath)
		if strings.TrimSuffix(doc.Issuer, "/") != strings.TrimSuffix(expected, "/") {
			return &DiscoveryError{Kind: UnsupportedIssuer, URL: discoveryURL,
				Err: fmt.Errorf("issuer %q does not match %q", doc.Issuer, expected)}
		}
	}
	return nil
}

func (r *Resolver) cached(ctx context.Context, discoveryURL string) (*authstate.DiscoveryDocument, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, err := r.cache.Get(ctx, "discovery:"+discoveryURL)
	if err != nil {
		return nil, false
	}
	var doc authstate.DiscoveryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

func (r *Resolver) store(ctx context.Context, discoveryURL string, doc *authstate.DiscoveryDocument) {
	if r.cache == nil || r.ttl <= 0 {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, "discovery:"+discoveryURL, data, r.ttl); err != nil {
		r.log.WithError(err).Debug("discovery cache write failed")
	}
}

func configFromDocument(doc *authstate.DiscoveryDocument) *ProviderConfig {
	d := *doc
	return &ProviderConfig{
		AuthorizationEndpoint: doc.AuthorizationEndpoint,
		TokenEndpoint:         doc.TokenEndpoint,
		RegistrationEndpoint:  doc.RegistrationEndpoint,
		EndSessionEndpoint:    doc.EndSessionEndpoint,
		UserInfoEndpoint:      doc.UserInfoEndpoint,
		Discovery:             &d,
	}
}
