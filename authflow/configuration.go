package authflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gobeaver/authflow/cache"
)

// Configuration supplies the static side of a flow: where the provider
// lives, who the client is, and how to reach the network.
type Configuration interface {
	IsValid() bool
	ConfigurationError() string
	HasConfigurationChanged() bool
	AcceptConfiguration() error

	DiscoveryURI() string
	AuthorizationEndpoint() string
	TokenEndpoint() string
	RegistrationEndpoint() string
	EndSessionEndpoint() string
	UserInfoEndpoint() string

	ClientID() string
	Scope() []string
	RedirectURI() string
	HTTPClient() *http.Client
	UsePendingTargets() bool
}

const configHashKey = "authflow:config-hash"

// EnvConfiguration is the Configuration built from a Config. The hash of
// the last accepted configuration is kept in a cache so that a restart
// with different settings is detected.
type EnvConfiguration struct {
	cfg    Config
	store  cache.Cache
	client *http.Client
	err    string
	hash   string
}

// NewEnvConfiguration validates cfg. store may be nil, in which case a
// process-local memory cache is used and every process start counts as a
// configuration change.
func NewEnvConfiguration(cfg Config, store cache.Cache) *EnvConfiguration {
	if store == nil {
		store = cache.NewMemory()
	}
	c := &EnvConfiguration{cfg: cfg, store: store}
	c.err = validate(cfg)
	c.hash = hashConfig(cfg)

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var transport http.RoundTripper = http.DefaultTransport
	if cfg.HTTPSRequired {
		transport = httpsOnly{next: transport}
	}
	c.client = &http.Client{Timeout: timeout, Transport: transport}
	return c
}

// Config returns the underlying configuration.
func (c *EnvConfiguration) Config() Config { return c.cfg }

func (c *EnvConfiguration) IsValid() bool              { return c.err == "" }
func (c *EnvConfiguration) ConfigurationError() string { return c.err }

// HasConfigurationChanged compares this configuration with the last one
// accepted. A missing or unreadable hash counts as a change.
func (c *EnvConfiguration) HasConfigurationChanged() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stored, err := c.store.Get(ctx, configHashKey)
	if err != nil {
		return true
	}
	return string(stored) != c.hash
}

// AcceptConfiguration records this configuration as the current one.
func (c *EnvConfiguration) AcceptConfiguration() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.store.Set(ctx, configHashKey, []byte(c.hash), -1)
}

func (c *EnvConfiguration) DiscoveryURI() string          { return c.cfg.DiscoveryURI }
func (c *EnvConfiguration) AuthorizationEndpoint() string { return c.cfg.AuthorizationEndpoint }
func (c *EnvConfiguration) TokenEndpoint() string         { return c.cfg.TokenEndpoint }
func (c *EnvConfiguration) RegistrationEndpoint() string  { return c.cfg.RegistrationEndpoint }
func (c *EnvConfiguration) EndSessionEndpoint() string    { return c.cfg.EndSessionEndpoint }
func (c *EnvConfiguration) UserInfoEndpoint() string      { return c.cfg.UserInfoEndpoint }
func (c *EnvConfiguration) ClientID() string              { return c.cfg.ClientID }
func (c *EnvConfiguration) RedirectURI() string           { return c.cfg.RedirectURI }
func (c *EnvConfiguration) HTTPClient() *http.Client      { return c.client }
func (c *EnvConfiguration) UsePendingTargets() bool       { return c.cfg.UsePendingTargets }

func (c *EnvConfiguration) Scope() []string {
	return append([]string(nil), c.cfg.Scope...)
}

func validate(cfg Config) string {
	if cfg.RedirectURI == "" {
		return "redirect URI is required"
	}
	if u, err := url.Parse(cfg.RedirectURI); err != nil || u.Scheme == "" {
		return fmt.Sprintf("redirect URI %q is not an absolute URI", cfg.RedirectURI)
	}

	if cfg.DiscoveryURI != "" {
		if msg := checkEndpoint("discovery URI", cfg.DiscoveryURI, cfg.HTTPSRequired); msg != "" {
			return msg
		}
	} else {
		if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
			return "either a discovery URI or both the authorization and token endpoints are required"
		}
		for name, v := range map[string]string{
			"authorization endpoint": cfg.AuthorizationEndpoint,
			"token endpoint":         cfg.TokenEndpoint,
			"registration endpoint":  cfg.RegistrationEndpoint,
			"end session endpoint":   cfg.EndSessionEndpoint,
			"user info endpoint":     cfg.UserInfoEndpoint,
		} {
			if v == "" {
				continue
			}
			if msg := checkEndpoint(name, v, cfg.HTTPSRequired); msg != "" {
				return msg
			}
		}
		if cfg.ClientID == "" && cfg.RegistrationEndpoint == "" {
			return "a client id or a registration endpoint is required"
		}
	}

	if len(cfg.Scope) == 0 {
		return "at least one scope is required"
	}
	return ""
}

func checkEndpoint(name, raw string, httpsRequired bool) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("%s %q is not a valid URL", name, raw)
	}
	if u.Scheme != "https" && (httpsRequired || u.Scheme != "http") {
		return fmt.Sprintf("%s %q must use https", name, raw)
	}
	return ""
}

func hashConfig(cfg Config) string {
	data, _ := json.Marshal([]interface{}{
		cfg.ClientID,
		cfg.RedirectURI,
		cfg.DiscoveryURI,
		cfg.AuthorizationEndpoint,
		cfg.TokenEndpoint,
		cfg.RegistrationEndpoint,
		cfg.EndSessionEndpoint,
		cfg.UserInfoEndpoint,
		cfg.Scope,
		cfg.HTTPSRequired,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// httpsOnly refuses plain http except to loopback addresses.
type httpsOnly struct {
	next http.RoundTripper
}

func (t httpsOnly) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" && !isLoopback(req.URL.Hostname()) {
		return nil, fmt.Errorf("%w: refusing non-https request to %s", ErrNetworkError, req.URL.Redacted())
	}
	return t.next.RoundTrip(req)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
