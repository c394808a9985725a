package authflow

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/gobeaver/authflow/krypto"
)

// AuthorizationRequest is an authorization code request. It is built once
// by BuildRequest and never modified; a change to any input means a new
// request.
type AuthorizationRequest struct {
	Config       *ProviderConfig
	ClientID     string
	ResponseType string
	RedirectURI  string
	Scope        []string
	LoginHint    string

	State string
	Nonce string
	PKCE  *PKCEChallenge

	uri string
}

// URI renders the request as the authorization endpoint URL.
func (r *AuthorizationRequest) URI() string {
	if r == nil {
		return ""
	}
	return r.uri
}

// OAuth2Config returns the golang.org/x/oauth2 view of the request, for
// the token exchange.
func (r *AuthorizationRequest) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    r.ClientID,
		Endpoint:    Endpoint(r.Config),
		RedirectURL: r.RedirectURI,
		Scopes:      append([]string(nil), r.Scope...),
	}
}

// RequestParams are the inputs of BuildRequest.
type RequestParams struct {
	Config      *ProviderConfig
	ClientID    string
	Scope       []string
	RedirectURI string
	LoginHint   string
}

// BuildRequest creates a fresh authorization request with its own state,
// nonce and S256 PKCE challenge. A login hint that is empty after trimming
// is left out.
func BuildRequest(p RequestParams) (*AuthorizationRequest, error) {
	if p.Config == nil {
		return nil, errors.New("authflow: build request: no provider configuration")
	}
	if p.ClientID == "" {
		return nil, errors.New("authflow: build request: no client id")
	}

	state, err := krypto.GenerateURLSafeToken(16)
	if err != nil {
		return nil, fmt.Errorf("authflow: state: %w", err)
	}
	nonce, err := krypto.GenerateURLSafeToken(16)
	if err != nil {
		return nil, fmt.Errorf("authflow: nonce: %w", err)
	}
	pkce, err := GeneratePKCEChallenge(PKCEMethodS256)
	if err != nil {
		return nil, err
	}

	cfg := *p.Config
	req := &AuthorizationRequest{
		Config:       &cfg,
		ClientID:     p.ClientID,
		ResponseType: "code",
		RedirectURI:  p.RedirectURI,
		Scope:        append([]string(nil), p.Scope...),
		LoginHint:    strings.TrimSpace(p.LoginHint),
		State:        state,
		Nonce:        nonce,
		PKCE:         pkce,
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", req.Nonce),
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.ChallengeMethod),
	}
	if req.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}
	req.uri = req.OAuth2Config().AuthCodeURL(req.State, opts...)

	return req, nil
}
