package authflow

import (
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/gobeaver/authflow/authstate"
)

// ProviderConfig is the provider's endpoint set, as stored in AuthState.
type ProviderConfig = authstate.ServiceConfig

// Endpoint converts a ProviderConfig for golang.org/x/oauth2. Registered
// clients authenticate with client_secret_basic.
func Endpoint(pc *ProviderConfig) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   pc.AuthorizationEndpoint,
		TokenURL:  pc.TokenEndpoint,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

// ClientSource records where a client id came from.
type ClientSource int

const (
	ClientStatic ClientSource = iota + 1
	ClientDynamic
)

func (s ClientSource) String() string {
	switch s {
	case ClientStatic:
		return "static"
	case ClientDynamic:
		return "dynamic"
	default:
		return "none"
	}
}

// ClientIdentity is the resolved client id and its origin.
type ClientIdentity struct {
	ID     string
	Source ClientSource
}

// BrowserDescriptor identifies one browser installation.
type BrowserDescriptor struct {
	Name    string
	Path    string
	Version string
}

// BrowserMatcher selects which browser hosts the authorization page. The
// zero value matches any browser.
type BrowserMatcher struct {
	exact *BrowserDescriptor
}

// AnyBrowser matches every browser.
func AnyBrowser() BrowserMatcher { return BrowserMatcher{} }

// ExactBrowser matches only d.
func ExactBrowser(d BrowserDescriptor) BrowserMatcher {
	return BrowserMatcher{exact: &d}
}

// Exact returns the required browser, if any.
func (m BrowserMatcher) Exact() (BrowserDescriptor, bool) {
	if m.exact == nil {
		return BrowserDescriptor{}, false
	}
	return *m.exact, true
}

// Matches reports whether d satisfies the matcher.
func (m BrowserMatcher) Matches(d BrowserDescriptor) bool {
	if m.exact == nil {
		return true
	}
	return strings.EqualFold(m.exact.Name, d.Name) &&
		(m.exact.Path == "" || m.exact.Path == d.Path) &&
		(m.exact.Version == "" || m.exact.Version == d.Version)
}

func (m BrowserMatcher) String() string {
	if m.exact == nil {
		return "any"
	}
	return m.exact.Name
}

// Artifact is a warmed browser launch payload. It belongs to the request
// whose URI it carries and to no other.
type Artifact struct {
	ID         string
	RequestURI string
	Browser    BrowserMatcher
	PreparedAt time.Time
}

// BoundTo reports whether the artifact was built for req.
func (a *Artifact) BoundTo(req *AuthorizationRequest) bool {
	return a != nil && req != nil && a.RequestURI == req.URI()
}

// OutcomeKind tags an authorization Outcome.
type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeCompleted
	OutcomeCancelled
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AuthorizationResponse is the provider's redirect, forwarded verbatim to
// the token exchange.
type AuthorizationResponse struct {
	Code   string
	State  string
	Params map[string]string
}

// Outcome is the single result type of an authorization attempt, whichever
// launcher delivered it.
type Outcome struct {
	Kind    OutcomeKind
	Payload *AuthorizationResponse
	Request *AuthorizationRequest
	Err     error
}

// State is a flow state.
type State int

const (
	StateInit State = iota
	StateResolvingConfig
	StateResolvingClient
	StateBuildingRequest
	StateWarmingUp
	StateReady
	StateIssuing
	StateCompleted
	StateCancelled
	StateFailed
	StateError
	StateAlreadyAuthorized
)

var stateNames = [...]string{
	StateInit:              "init",
	StateResolvingConfig:   "resolving_config",
	StateResolvingClient:   "resolving_client",
	StateBuildingRequest:   "building_request",
	StateWarmingUp:         "warming_up",
	StateReady:             "ready",
	StateIssuing:           "issuing",
	StateCompleted:         "completed",
	StateCancelled:         "cancelled",
	StateFailed:            "failed",
	StateError:             "error",
	StateAlreadyAuthorized: "already_authorized",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the flow's lifecycle has ended.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAlreadyAuthorized
}

// Snapshot is a consistent view of the flow for display.
type Snapshot struct {
	State       State
	Client      ClientIdentity
	Request     *AuthorizationRequest
	Browser     BrowserMatcher
	LoginHint   string
	WarmedUp    bool
	LastError   *FlowError
	Generation  uint64
	Config      *ProviderConfig
	Recoverable bool
}
