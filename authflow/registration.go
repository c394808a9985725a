package authflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/authflow/authstate"
)

// Client authentication method sent in registration requests.
const ClientAuthMethodBasic = "client_secret_basic"

// RegistrationRequest is an RFC 7591 client metadata document.
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ResponseTypes           []string `json:"response_types"`
	GrantTypes              []string `json:"grant_types"`
	ApplicationType         string   `json:"application_type,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// NewRegistrationRequest returns the metadata of a native authorization
// code client.
func NewRegistrationRequest(redirectURI, clientName string, scope []string) RegistrationRequest {
	return RegistrationRequest{
		RedirectURIs:            []string{redirectURI},
		TokenEndpointAuthMethod: ClientAuthMethodBasic,
		ResponseTypes:           []string{"code"},
		GrantTypes:              []string{"authorization_code"},
		ApplicationType:         "native",
		ClientName:              clientName,
		Scope:                   strings.Join(scope, " "),
	}
}

type registrationErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
}

// Registrar performs dynamic client registration.
type Registrar struct {
	client     *http.Client
	maxRetries int
	newBackOff func() backoff.BackOff
	breakers   *CircuitBreakerManager
	metrics    MetricsCollector
	log        logrus.FieldLogger
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar)

// WithRegistrationRetries sets how many times a transient failure is retried.
func WithRegistrationRetries(n int) RegistrarOption {
	return func(r *Registrar) { r.maxRetries = n }
}

// WithRegistrationBackOff replaces the retry policy.
func WithRegistrationBackOff(newBackOff func() backoff.BackOff) RegistrarOption {
	return func(r *Registrar) { r.newBackOff = newBackOff }
}

// WithRegistrationBreakers shares a circuit breaker set.
func WithRegistrationBreakers(m *CircuitBreakerManager) RegistrarOption {
	return func(r *Registrar) { r.breakers = m }
}

// WithRegistrarMetrics sets the metrics collector.
func WithRegistrarMetrics(m MetricsCollector) RegistrarOption {
	return func(r *Registrar) { r.metrics = m }
}

// WithRegistrarLogger sets the logger.
func WithRegistrarLogger(l logrus.FieldLogger) RegistrarOption {
	return func(r *Registrar) { r.log = l }
}

// NewRegistrar creates a Registrar that posts with client.
func NewRegistrar(client *http.Client, opts ...RegistrarOption) *Registrar {
	if client == nil {
		client = http.DefaultClient
	}
	r := &Registrar{
		client:     client,
		maxRetries: 2,
		newBackOff: defaultBackOff,
		metrics:    nopMetrics{},
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breakers == nil {
		r.breakers = NewCircuitBreakerManager(CircuitBreakerConfig{})
	}
	return r
}

// Register posts req to endpoint. Failures are *RegistrationError values.
func (r *Registrar) Register(ctx context.Context, endpoint string, req RegistrationRequest) (*authstate.RegistrationResponse, error) {
	start := time.Now()
	resp, err := r.register(ctx, endpoint, req)
	r.metrics.RecordOperation(OpRegistration, err == nil, time.Since(start))

	entry := r.log.WithField("registration_endpoint", endpoint)
	if err != nil {
		entry.WithError(err).Warn("client registration failed")
		return nil, err
	}
	entry.WithField("client_id", resp.ClientID).Info("client registered")
	return resp, nil
}

func (r *Registrar) register(ctx context.Context, endpoint string, req RegistrationRequest) (*authstate.RegistrationResponse, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, &RegistrationError{Endpoint: endpoint, Err: errors.New("invalid registration endpoint")}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &RegistrationError{Endpoint: endpoint, Err: err}
	}

	op := func() (*authstate.RegistrationResponse, error) {
		var out *authstate.RegistrationResponse
		err := r.breakers.Call(ctx, u.Host, func() error {
			var postErr error
			out, postErr = r.post(ctx, endpoint, body)
			return postErr
		}, IsRetryable)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) || !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		var re *RegistrationError
		if !errors.As(err, &re) {
			err = &RegistrationError{Endpoint: endpoint, Err: err}
		}
		return nil, err
	}
	return out, nil
}

func (r *Registrar) post(ctx context.Context, endpoint string, body []byte) (*authstate.RegistrationResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &RegistrationError{Endpoint: endpoint, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &RegistrationError{Endpoint: endpoint, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, &RegistrationError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrNetworkError, err)}
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &RegistrationError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: registrationFailure(resp.StatusCode, data)}
	}

	var out authstate.RegistrationResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &RegistrationError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.ClientID == "" {
		return nil, &RegistrationError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: errors.New("response has no client_id")}
	}
	return &out, nil
}

func registrationFailure(status int, body []byte) error {
	var eb registrationErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		oauthErr := ParseError("registration", eb.Error, eb.ErrorDescription, eb.ErrorURI)
		if oauthErr.Err == nil && (status >= 500 || status == http.StatusTooManyRequests) {
			oauthErr.Err = ErrServerError
		}
		return oauthErr
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrServerError, status)
	}
	return fmt.Errorf("unexpected status %d", status)
}

// ResolveClient finds the client id: the static one if configured, else
// the stored registration, else a fresh registration whose outcome is
// recorded in the manager either way.
func ResolveClient(ctx context.Context, cfg Configuration, mgr *authstate.Manager, reg *Registrar, clientName string) (ClientIdentity, error) {
	record := func(resp *authstate.RegistrationResponse, err error) error {
		return mgr.UpdateAfterRegistration(ctx, resp, err)
	}
	return resolveClient(ctx, cfg, mgr.Current(), reg, clientName, record)
}

func resolveClient(ctx context.Context, cfg Configuration, st authstate.AuthState, reg *Registrar, clientName string, record func(*authstate.RegistrationResponse, error) error) (ClientIdentity, error) {
	if id := cfg.ClientID(); id != "" {
		return ClientIdentity{ID: id, Source: ClientStatic}, nil
	}
	if id := st.ClientID(); id != "" {
		return ClientIdentity{ID: id, Source: ClientDynamic}, nil
	}

	if st.Config == nil || st.Config.RegistrationEndpoint == "" {
		err := &RegistrationError{Err: errors.New("provider has no registration endpoint and no client id is configured")}
		if recErr := record(nil, err); recErr != nil {
			return ClientIdentity{}, errors.Join(err, recErr)
		}
		return ClientIdentity{}, err
	}

	endpoint := st.Config.RegistrationEndpoint
	resp, err := reg.Register(ctx, endpoint, NewRegistrationRequest(cfg.RedirectURI(), clientName, cfg.Scope()))
	if recErr := record(resp, err); recErr != nil {
		if err != nil {
			return ClientIdentity{}, errors.Join(err, recErr)
		}
		return ClientIdentity{}, &RegistrationError{Endpoint: endpoint, Err: recErr}
	}
	if err != nil {
		return ClientIdentity{}, err
	}
	return ClientIdentity{ID: resp.ClientID, Source: ClientDynamic}, nil
}
