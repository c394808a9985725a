package authstate

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DiscoveryDocument is the subset of OpenID Provider Metadata the flow reads.
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// ServiceConfig holds the provider endpoints. It is built once, from static
// values or a discovery document, and never modified afterwards.
type ServiceConfig struct {
	AuthorizationEndpoint string             `json:"authorization_endpoint"`
	TokenEndpoint         string             `json:"token_endpoint"`
	RegistrationEndpoint  string             `json:"registration_endpoint,omitempty"`
	EndSessionEndpoint    string             `json:"end_session_endpoint,omitempty"`
	UserInfoEndpoint      string             `json:"userinfo_endpoint,omitempty"`
	Discovery             *DiscoveryDocument `json:"discovery,omitempty"`
}

// RegistrationResponse is an RFC 7591 client information response.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RegistrationAccessToken string   `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string   `json:"registration_client_uri,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
}

// AuthState is the single durable record of a client's relationship with a
// provider. The token fields are written by the token exchange, never by
// the authorization flow itself.
type AuthState struct {
	Config                *ServiceConfig        `json:"config,omitempty"`
	LastRegistration      *RegistrationResponse `json:"last_registration,omitempty"`
	LastRegistrationError string                `json:"last_registration_error,omitempty"`

	AuthorizationCode    string    `json:"authorization_code,omitempty"`
	AccessToken          string    `json:"access_token,omitempty"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at,omitempty"`
	IDToken              string    `json:"id_token,omitempty"`
	RefreshToken         string    `json:"refresh_token,omitempty"`
	AuthorizationError   string    `json:"authorization_error,omitempty"`
}

// IsAuthorized reports whether the state carries a usable grant: no
// recorded authorization error, and either an access token that has not
// expired or an ID token whose exp claim is still in the future.
func (s AuthState) IsAuthorized() bool {
	if s.AuthorizationError != "" {
		return false
	}
	now := time.Now()
	if s.AccessToken != "" && (s.AccessTokenExpiresAt.IsZero() || now.Before(s.AccessTokenExpiresAt)) {
		return true
	}
	return idTokenUnexpired(s.IDToken, now)
}

// ClientID returns the dynamically registered client id, if any.
func (s AuthState) ClientID() string {
	if s.LastRegistration == nil {
		return ""
	}
	return s.LastRegistration.ClientID
}

func (s *AuthState) clearTokens() {
	s.AuthorizationCode = ""
	s.AccessToken = ""
	s.AccessTokenExpiresAt = time.Time{}
	s.IDToken = ""
	s.RefreshToken = ""
	s.AuthorizationError = ""
}

// Signature verification belongs to the token exchange; here only the
// expiry matters.
func idTokenUnexpired(raw string, now time.Time) bool {
	if raw == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.Before(exp.Time)
}

// clone returns a deep copy so callers never share pointers with the
// manager's current state.
func (s AuthState) clone() AuthState {
	out := s
	if s.Config != nil {
		cfg := *s.Config
		if s.Config.Discovery != nil {
			doc := *s.Config.Discovery
			cfg.Discovery = &doc
		}
		out.Config = &cfg
	}
	if s.LastRegistration != nil {
		reg := *s.LastRegistration
		reg.RedirectURIs = append([]string(nil), s.LastRegistration.RedirectURIs...)
		out.LastRegistration = &reg
	}
	return out
}
