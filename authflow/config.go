package authflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/authflow/config"
)

// Config defines the authorization flow configuration
type Config struct {
	// Provider selects a preset (google, microsoft, gitlab, apple) or custom
	Provider string `env:"PROVIDER,default:custom"`

	// ClientID is a statically registered client id. When empty the client
	// registers itself dynamically.
	ClientID string `env:"CLIENT_ID"`

	// RedirectURI is where the provider sends the authorization response
	RedirectURI string `env:"REDIRECT_URI,required"`

	// Scope is a comma-separated list of OAuth scopes
	Scope []string `env:"SCOPE,default:openid,profile,email"`

	// DiscoveryURI points at an OpenID Provider configuration document.
	// When empty the static endpoints below are used.
	DiscoveryURI string `env:"DISCOVERY_URI"`

	// Static endpoints
	AuthorizationEndpoint string `env:"AUTHORIZATION_ENDPOINT_URI"`
	TokenEndpoint         string `env:"TOKEN_ENDPOINT_URI"`
	RegistrationEndpoint  string `env:"REGISTRATION_ENDPOINT_URI"`
	EndSessionEndpoint    string `env:"END_SESSION_ENDPOINT_URI"`
	UserInfoEndpoint      string `env:"USER_INFO_ENDPOINT_URI"`

	// HTTPSRequired rejects plain http endpoints and issuers
	HTTPSRequired bool `env:"HTTPS_REQUIRED,default:true"`

	// UsePendingTargets dispatches authorization through completion and
	// cancellation targets instead of waiting for the launcher's result
	UsePendingTargets bool `env:"USE_PENDING_TARGETS,default:false"`

	// ClientName is sent as client_name during dynamic registration
	ClientName string `env:"CLIENT_NAME,default:authflow"`

	// HTTPTimeout is the timeout for HTTP requests
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT,default:30s"`

	// LoginHintDebounce is the quiet period before a login hint edit
	// rebuilds the request
	LoginHintDebounce time.Duration `env:"LOGIN_HINT_DEBOUNCE,default:500ms"`

	// DiscoveryCacheTTL is how long fetched discovery documents are reused
	DiscoveryCacheTTL time.Duration `env:"DISCOVERY_CACHE_TTL,default:1h"`

	// DiscoveryMaxRetries bounds retries of transient discovery failures
	DiscoveryMaxRetries int `env:"DISCOVERY_MAX_RETRIES,default:3"`

	// LogLevel is parsed with logrus.ParseLevel
	LogLevel string `env:"LOG_LEVEL,default:info"`
}

// GetConfig returns config loaded from environment with optional LoadOptions
func GetConfig(opts ...config.LoadOptions) (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, opts...); err != nil {
		return nil, fmt.Errorf("failed to load authflow config: %w", err)
	}
	cfg.Provider = strings.ToLower(cfg.Provider)
	if err := cfg.applyPreset(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Builder provides a way to load configuration with custom prefixes
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Config loads the prefixed configuration
func (b *Builder) Config() (*Config, error) {
	return GetConfig(config.LoadOptions{Prefix: b.prefix})
}

// Logger returns a logrus logger at the configured level. An unknown level
// falls back to info.
func (c Config) Logger() *logrus.Logger {
	l := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}

// Preset is a well known provider reachable through discovery.
type Preset struct {
	Name         string
	DiscoveryURI string
}

var presets = map[string]Preset{
	"google": {
		Name:         "google",
		DiscoveryURI: "https://accounts.google.com/.well-known/openid-configuration",
	},
	"microsoft": {
		Name:         "microsoft",
		DiscoveryURI: "https://login.microsoftonline.com/common/v2.0/.well-known/openid-configuration",
	},
	"gitlab": {
		Name:         "gitlab",
		DiscoveryURI: "https://gitlab.com/.well-known/openid-configuration",
	},
	"apple": {
		Name:         "apple",
		DiscoveryURI: "https://appleid.apple.com/.well-known/openid-configuration",
	},
}

// LookupPreset returns the preset registered under name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(name)]
	return p, ok
}

// applyPreset fills DiscoveryURI from the provider preset unless the
// configuration already names one or uses static endpoints.
func (c *Config) applyPreset() error {
	if c.Provider == "" || c.Provider == "custom" {
		return nil
	}
	p, ok := LookupPreset(c.Provider)
	if !ok {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.DiscoveryURI == "" && c.AuthorizationEndpoint == "" {
		c.DiscoveryURI = p.DiscoveryURI
	}
	return nil
}
