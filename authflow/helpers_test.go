package authflow_test

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/authflow/authflow"
	"github.com/gobeaver/authflow/authstate"
)

// testConfig is a Configuration with every field settable.
type testConfig struct {
	valid        bool
	invalidMsg   string
	changed      bool
	accepted     atomic.Int64
	discoveryURI string
	authURL      string
	tokenURL     string
	regURL       string
	clientID     string
	scope        []string
	redirectURI  string
	client       *http.Client
	pending      bool
}

func (c *testConfig) IsValid() bool                 { return c.valid }
func (c *testConfig) ConfigurationError() string    { return c.invalidMsg }
func (c *testConfig) HasConfigurationChanged() bool { return c.changed }
func (c *testConfig) AcceptConfiguration() error {
	c.accepted.Add(1)
	c.changed = false
	return nil
}
func (c *testConfig) DiscoveryURI() string          { return c.discoveryURI }
func (c *testConfig) AuthorizationEndpoint() string { return c.authURL }
func (c *testConfig) TokenEndpoint() string         { return c.tokenURL }
func (c *testConfig) RegistrationEndpoint() string  { return c.regURL }
func (c *testConfig) EndSessionEndpoint() string    { return "" }
func (c *testConfig) UserInfoEndpoint() string      { return "" }
func (c *testConfig) ClientID() string              { return c.clientID }
func (c *testConfig) Scope() []string               { return c.scope }
func (c *testConfig) RedirectURI() string           { return c.redirectURI }
func (c *testConfig) HTTPClient() *http.Client      { return c.client }
func (c *testConfig) UsePendingTargets() bool       { return c.pending }

// noNetwork fails every request it sees.
type noNetwork struct {
	calls atomic.Int64
}

func (n *noNetwork) RoundTrip(*http.Request) (*http.Response, error) {
	n.calls.Add(1)
	return nil, io.ErrUnexpectedEOF
}

// recordingView remembers what the flow showed.
type recordingView struct {
	mu        sync.Mutex
	loading   []string
	options   []authflow.Snapshot
	errors    []string
	retry     []bool
	cancelled int
}

func (v *recordingView) ShowLoading(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading = append(v.loading, msg)
}

func (v *recordingView) ShowOptions(s authflow.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.options = append(v.options, s)
}

func (v *recordingView) ShowError(msg string, recoverable bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errors = append(v.errors, msg)
	v.retry = append(v.retry, recoverable)
}

func (v *recordingView) ShowCancelled() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled++
}

func (v *recordingView) lastError() (string, bool, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.errors) == 0 {
		return "", false, false
	}
	return v.errors[len(v.errors)-1], v.retry[len(v.retry)-1], true
}

// countingWarmer records every warm-up and can hold them until released.
type countingWarmer struct {
	mu       sync.Mutex
	requests []*authflow.AuthorizationRequest
	browsers []authflow.BrowserMatcher
	hold     chan struct{}
}

func (w *countingWarmer) Warm(ctx context.Context, req *authflow.AuthorizationRequest, browser authflow.BrowserMatcher) (*authflow.Artifact, error) {
	w.mu.Lock()
	hold := w.hold
	w.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w.mu.Lock()
	w.requests = append(w.requests, req)
	w.browsers = append(w.browsers, browser)
	w.mu.Unlock()
	return authflow.NewArtifact(req, browser), nil
}

func (w *countingWarmer) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

func (w *countingWarmer) last() (*authflow.AuthorizationRequest, authflow.BrowserMatcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.requests) == 0 {
		return nil, authflow.AnyBrowser()
	}
	return w.requests[len(w.requests)-1], w.browsers[len(w.browsers)-1]
}

// launcherFunc adapts a function to authflow.Launcher.
type launcherFunc func(ctx context.Context, art authflow.Artifact) (*authflow.AuthorizationResponse, error)

func (f launcherFunc) Launch(ctx context.Context, art authflow.Artifact) (*authflow.AuthorizationResponse, error) {
	return f(ctx, art)
}

// recordingHandoff remembers hand-offs.
type recordingHandoff struct {
	mu         sync.Mutex
	authorized int
	exchanged  []authflow.Outcome
}

func (h *recordingHandoff) AlreadyAuthorized(authstate.AuthState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.authorized++
}

func (h *recordingHandoff) TokenExchange(_ context.Context, o authflow.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanged = append(h.exchanged, o)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func newManager(t *testing.T) *authstate.Manager {
	t.Helper()
	mgr, err := authstate.NewManager(context.Background(), nil, authstate.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, f *authflow.Flow, want authflow.State) {
	t.Helper()
	waitFor(t, "state "+want.String(), 5*time.Second, func() bool {
		return f.State() == want
	})
}
