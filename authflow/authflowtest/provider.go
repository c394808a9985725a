// Package authflowtest provides an in-process OpenID provider for tests.
package authflowtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobeaver/authflow/authstate"
	"github.com/gobeaver/authflow/krypto"
)

// Failure scenarios
const (
	FailDiscovery        = "discovery"
	FailDiscoveryOnce    = "discovery_once"
	FailMalformedDoc     = "malformed_document"
	FailRegistration     = "registration"
	FailRegistrationOnce = "registration_once"
	DenyAuthorization    = "deny"
)

// Endpoint names for SetLatency
const (
	EndpointDiscovery    = "discovery"
	EndpointRegistration = "registration"
	EndpointAuthorize    = "authorize"
)

// MockProviderConfig configures the mock provider
type MockProviderConfig struct {
	// TLS serves over https with a self-signed certificate; use Client()
	TLS bool
	// NoRegistration leaves registration_endpoint out of the document
	NoRegistration bool
	// Issuer overrides the advertised issuer
	Issuer string
}

// RegistrationRequest is a registration request as received
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ResponseTypes           []string `json:"response_types"`
	GrantTypes              []string `json:"grant_types"`
	ApplicationType         string   `json:"application_type"`
	ClientName              string   `json:"client_name"`
	Scope                   string   `json:"scope"`
}

// MockProvider simulates an OpenID provider: discovery, dynamic client
// registration and the authorization endpoint.
type MockProvider struct {
	server *httptest.Server
	config MockProviderConfig

	discoveryCalls    atomic.Int64
	registrationCalls atomic.Int64
	authorizeCalls    atomic.Int64
	clientSeq         atomic.Int64

	mu            sync.RWMutex
	failures      map[string]bool
	latencies     map[string]time.Duration
	registrations []RegistrationRequest
}

// NewMockProvider starts a mock provider
func NewMockProvider(config MockProviderConfig) *MockProvider {
	m := &MockProvider{
		config:    config,
		failures:  make(map[string]bool),
		latencies: make(map[string]time.Duration),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", m.handleDiscovery)
	mux.HandleFunc("/register", m.handleRegister)
	mux.HandleFunc("/authorize", m.handleAuthorize)

	if config.TLS {
		m.server = httptest.NewTLSServer(mux)
	} else {
		m.server = httptest.NewServer(mux)
	}
	return m
}

// URL returns the server base URL, which is also the issuer
func (m *MockProvider) URL() string { return m.server.URL }

// DiscoveryURL returns the discovery document URL
func (m *MockProvider) DiscoveryURL() string {
	return m.server.URL + "/.well-known/openid-configuration"
}

// AuthURL returns the authorization endpoint URL
func (m *MockProvider) AuthURL() string { return m.server.URL + "/authorize" }

// TokenURL returns the token endpoint URL
func (m *MockProvider) TokenURL() string { return m.server.URL + "/token" }

// RegistrationURL returns the registration endpoint URL
func (m *MockProvider) RegistrationURL() string { return m.server.URL + "/register" }

// Client returns an HTTP client that trusts the server
func (m *MockProvider) Client() *http.Client { return m.server.Client() }

// Close shuts down the server
func (m *MockProvider) Close() { m.server.Close() }

// DiscoveryCalls returns how many discovery requests were served
func (m *MockProvider) DiscoveryCalls() int64 { return m.discoveryCalls.Load() }

// RegistrationCalls returns how many registration requests were served
func (m *MockProvider) RegistrationCalls() int64 { return m.registrationCalls.Load() }

// AuthorizeCalls returns how many authorization endpoint requests were served
func (m *MockProvider) AuthorizeCalls() int64 { return m.authorizeCalls.Load() }

// Registrations returns the registration requests received so far
func (m *MockProvider) Registrations() []RegistrationRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RegistrationRequest(nil), m.registrations...)
}

// SetFailureScenario enables or disables a failure scenario
func (m *MockProvider) SetFailureScenario(scenario string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[scenario] = enabled
}

// SetLatency delays every response of an endpoint
func (m *MockProvider) SetLatency(endpoint string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[endpoint] = latency
}

func (m *MockProvider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	m.discoveryCalls.Add(1)
	m.delay(EndpointDiscovery)

	if m.takeFailure(FailDiscovery, FailDiscoveryOnce) {
		http.Error(w, "discovery unavailable", http.StatusInternalServerError)
		return
	}
	if m.enabled(FailMalformedDoc) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":`))
		return
	}

	issuer := m.config.Issuer
	if issuer == "" {
		issuer = m.server.URL
	}
	doc := authstate.DiscoveryDocument{
		Issuer:                        issuer,
		AuthorizationEndpoint:         m.AuthURL(),
		TokenEndpoint:                 m.TokenURL(),
		UserInfoEndpoint:              m.server.URL + "/userinfo",
		EndSessionEndpoint:            m.server.URL + "/logout",
		JWKSURI:                       m.server.URL + "/jwks",
		ResponseTypesSupported:        []string{"code"},
		ScopesSupported:               []string{"openid", "profile", "email"},
		CodeChallengeMethodsSupported: []string{"S256"},
	}
	if !m.config.NoRegistration {
		doc.RegistrationEndpoint = m.RegistrationURL()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (m *MockProvider) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.registrationCalls.Add(1)
	m.delay(EndpointRegistration)

	var req RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
		return
	}
	m.mu.Lock()
	m.registrations = append(m.registrations, req)
	m.mu.Unlock()

	if m.takeFailure(FailRegistration, FailRegistrationOnce) {
		writeError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect uri not allowed")
		return
	}
	if len(req.RedirectURIs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris is required")
		return
	}

	secret, err := krypto.GenerateSecureToken(16)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	resp := authstate.RegistrationResponse{
		ClientID:                fmt.Sprintf("mock-client-%d", m.clientSeq.Add(1)),
		ClientSecret:            secret,
		ClientIDIssuedAt:        time.Now().Unix(),
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleAuthorize answers HEAD with 200 and redirects GET straight back
// to the client with a code, or with access_denied under DenyAuthorization.
func (m *MockProvider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	m.authorizeCalls.Add(1)
	m.delay(EndpointAuthorize)

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	q := r.URL.Query()
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Scheme == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	params := redirect.Query()
	params.Set("state", q.Get("state"))
	if m.enabled(DenyAuthorization) {
		params.Set("error", "access_denied")
		params.Set("error_description", "the user denied the request")
	} else {
		code, err := krypto.GenerateSecureToken(16)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		params.Set("code", code)
	}
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func (m *MockProvider) delay(endpoint string) {
	m.mu.RLock()
	d := m.latencies[endpoint]
	m.mu.RUnlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (m *MockProvider) enabled(scenario string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures[scenario]
}

// takeFailure reports whether the persistent scenario is on, or consumes
// the one-shot scenario.
func (m *MockProvider) takeFailure(persistent, once string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[persistent] {
		return true
	}
	if m.failures[once] {
		m.failures[once] = false
		return true
	}
	return false
}
