package authflow_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gobeaver/authflow/authflow"
	"github.com/gobeaver/authflow/authflow/authflowtest"
	"github.com/gobeaver/authflow/authstate"
)

func staticConfig(rt http.RoundTripper) *testConfig {
	return &testConfig{
		valid:       true,
		authURL:     "https://idp.example.com/authorize",
		tokenURL:    "https://idp.example.com/token",
		clientID:    "static-client",
		scope:       []string{"openid", "email"},
		redirectURI: "http://127.0.0.1:8400/callback",
		client:      &http.Client{Transport: rt},
	}
}

func discoveryConfig(provider *authflowtest.MockProvider) *testConfig {
	return &testConfig{
		valid:        true,
		discoveryURI: provider.DiscoveryURL(),
		scope:        []string{"openid"},
		redirectURI:  "http://127.0.0.1:8400/callback",
		client:       provider.Client(),
	}
}

func providerOptions(provider *authflowtest.MockProvider) []authflow.Option {
	return []authflow.Option{
		authflow.WithResolver(newTestResolver(provider.Client(),
			authflow.WithHTTPSRequired(false),
			authflow.WithDiscoveryRetries(0),
		)),
		authflow.WithRegistrar(newTestRegistrar(provider.Client())),
	}
}

func newTestFlow(t *testing.T, cfg authflow.Configuration, mgr *authstate.Manager, opts ...authflow.Option) *authflow.Flow {
	t.Helper()
	if mgr == nil {
		mgr = newManager(t)
	}
	base := []authflow.Option{
		authflow.WithLogger(quietLogger()),
		authflow.WithDebounce(20 * time.Millisecond),
	}
	f, err := authflow.New(cfg, mgr, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// waitWarm waits for a Ready flow whose latest request is warmed up.
func waitWarm(t *testing.T, f *authflow.Flow) authflow.Snapshot {
	t.Helper()
	var snap authflow.Snapshot
	waitFor(t, "warmed-up Ready state", 5*time.Second, func() bool {
		snap = f.Snapshot()
		return snap.State == authflow.StateReady && snap.WarmedUp
	})
	return snap
}

func completeWith(code string) launcherFunc {
	return func(_ context.Context, art authflow.Artifact) (*authflow.AuthorizationResponse, error) {
		return &authflow.AuthorizationResponse{Code: code}, nil
	}
}

// pendingLauncherFunc adapts a function to authflow.PendingLauncher.
type pendingLauncherFunc func(ctx context.Context, art authflow.Artifact, targets authflow.Targets) error

func (f pendingLauncherFunc) LaunchPending(ctx context.Context, art authflow.Artifact, targets authflow.Targets) error {
	return f(ctx, art, targets)
}

func TestStaticConfigurationNeedsNoNetwork(t *testing.T) {
	nn := &noNetwork{}
	view := &recordingView{}
	warmer := &countingWarmer{}
	f := newTestFlow(t, staticConfig(nn), nil, authflow.WithView(view), authflow.WithWarmer(warmer))

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitWarm(t, f)

	if nn.calls.Load() != 0 {
		t.Errorf("static configuration made %d network calls", nn.calls.Load())
	}
	if snap.Client.ID != "static-client" || snap.Client.Source != authflow.ClientStatic {
		t.Errorf("Client = %+v", snap.Client)
	}
	if snap.Config == nil || snap.Config.AuthorizationEndpoint != "https://idp.example.com/authorize" {
		t.Errorf("Config = %+v", snap.Config)
	}
	if snap.Request == nil || snap.Request.ClientID != "static-client" {
		t.Fatalf("Request = %+v", snap.Request)
	}
	if warmer.count() != 1 {
		t.Errorf("warm-ups = %d, want 1", warmer.count())
	}

	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.loading) == 0 || len(view.options) == 0 {
		t.Errorf("view saw %d loading and %d options updates", len(view.loading), len(view.options))
	}
}

func TestDiscoveryFailureIsRecoverable(t *testing.T) {
	provider := authflowtest.NewMockProvider(authflowtest.MockProviderConfig{})
	defer provider.Close()
	provider.SetFailureScenario(authflowtest.FailDiscovery, true)

	view := &recordingView{}
	opts := append(providerOptions(provider), authflow.WithView(view), authflow.WithWarmer(&countingWarmer{}))
	f := newTestFlow(t, discoveryConfig(provider), nil, opts...)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, f, authflow.StateError)

	snap := f.Snapshot()
	if snap.LastError == nil || snap.LastError.Kind != authflow.KindDiscoveryFailed {
		t.Fatalf("LastError = %v", snap.LastError)
	}
	if !snap.Recoverable {
		t.Error("discovery failure should be recoverable")
	}
	if !errors.Is(snap.LastError, authflow.ErrDiscoveryFailed) {
		t.Errorf("LastError does not wrap ErrDiscoveryFailed: %v", snap.LastError)
	}
	if _, retry, ok := view.lastError(); !ok || !retry {
		t.Error("view was not offered a retry")
	}

	provider.SetFailureScenario(authflowtest.FailDiscovery, false)
	if err := f.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	snap = waitWarm(t, f)

	if snap.Client.Source != authflow.ClientDynamic || snap.Client.ID == "" {
		t.Errorf("Client = %+v", snap.Client)
	}
	if snap.LastError != nil {
		t.Errorf("LastError not cleared: %v", snap.LastError)
	}
}

func TestRegistrationRunsOnce(t *testing.T) {
	provider := authflowtest.NewMockProvider(authflowtest.MockProviderConfig{})
	defer provider.Close()

	warmer := &countingWarmer{}
	mgr := newManager(t)
	opts := append(providerOptions(provider), authflow.WithWarmer(warmer))
	f := newTestFlow(t, discoveryConfig(provider), mgr, opts...)

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := waitWarm(t, f)

	firefox := authflow.BrowserDescriptor{Name: "firefox", Path: "/usr/bin/firefox"}
	if err := f.SelectBrowser(authflow.ExactBrowser(firefox)); err != nil {
		t.Fatalf("SelectBrowser: %v", err)
	}
	waitFor(t, "warm-up for firefox", 5*time.Second, func() bool {
		_, m := warmer.last()
		d, ok := m.Exact()
		return ok && d.Name == "firefox"
	})
	if err := f.SetLoginHint("user@example.com"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "warm-up with login hint", 5*time.Second, func() bool {
		req, _ := warmer.last()
		return req != nil && req.LoginHint == "user@example.com"
	})

	if got := provider.RegistrationCalls(); got != 1 {
		t.Errorf("registration calls = %d, want 1", got)
	}
	if got := f.Snapshot().Client; got != first.Client {
		t.Errorf("client changed from %+v to %+v", first.Client, got)
	}
	if mgr.Current().ClientID() != first.Client.ID {
		t.Errorf("registered client not stored")
	}
}

func TestLoginHintDebounce(t *testing.T) {
	warmer := &countingWarmer{}
	f := newTestFlow(t, staticConfig(&noNetwork{}), nil,
		authflow.WithWarmer(warmer),
		authflow.WithDebounce(500*time.Millisecond),
	)

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitWarm(t, f)
	if warmer.count() != 1 {
		t.Fatalf("initial warm-ups = %d", warmer.count())
	}

	_ = f.SetLoginHint("a")
	time.Sleep(50 * time.Millisecond)
	_ = f.SetLoginHint("ab")

	time.Sleep(300 * time.Millisecond)
	if warmer.count() != 1 {
		t.Fatalf("rebuild ran before the hint settled")
	}

	time.Sleep(600 * time.Millisecond)
	if warmer.count() != 2 {
		t.Fatalf("warm-ups = %d, want exactly one rebuild", warmer.count())
	}
	req, _ := warmer.last()
	if req.LoginHint != "ab" {
		t.Errorf("LoginHint = %q, want ab", req.LoginHint)
	}
	if got := f.Snapshot().LoginHint; got != "ab" {
		t.Errorf("Snapshot.LoginHint = %q", got)
	}
}

func TestIssuanceWaitsForWarmup(t *testing.T) {
	warmer := &countingWarmer{hold: make(chan struct{})}
	handoff := &recordingHandoff{}

	launched := make(chan authflow.Artifact, 1)
	launcher := launcherFunc(func(_ context.Context, art authflow.Artifact) (*authflow.AuthorizationResponse, error) {
		launched <- art
		return &authflow.AuthorizationResponse{Code: "code-1"}, nil
	})

	f := newTestFlow(t, staticConfig(&noNetwork{}), nil,
		authflow.WithWarmer(warmer),
		authflow.WithLauncher(launcher),
		authflow.WithHandoff(handoff),
	)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, f, authflow.StateReady)

	type result struct {
		o   authflow.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, err := f.StartAuthorization(context.Background())
		done <- result{o, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("issued before warm-up finished: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
	if f.State() != authflow.StateIssuing {
		t.Errorf("State = %s, want Issuing", f.State())
	}

	close(warmer.hold)

	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StartAuthorization did not return")
	}
	if r.err != nil || r.o.Kind != authflow.OutcomeCompleted {
		t.Fatalf("outcome = %+v, err = %v", r.o, r.err)
	}

	art := <-launched
	if !art.BoundTo(r.o.Request) {
		t.Error("launched artifact does not belong to the issued request")
	}
	if f.State() != authflow.StateCompleted {
		t.Errorf("State = %s, want Completed", f.State())
	}

	handoff.mu.Lock()
	defer handoff.mu.Unlock()
	if len(handoff.exchanged) != 1 || handoff.exchanged[0].Payload.Code != "code-1" {
		t.Errorf("token exchange hand-offs = %+v", handoff.exchanged)
	}
}

func TestIssuanceUsesLatestBrowser(t *testing.T) {
	warmer := &countingWarmer{hold: make(chan struct{})}
	launched := make(chan authflow.Artifact, 1)
	launcher := launcherFunc(func(_ context.Context, art authflow.Artifact) (*authflow.AuthorizationResponse, error) {
		launched <- art
		return &authflow.AuthorizationResponse{Code: "code"}, nil
	})

	f := newTestFlow(t, staticConfig(&noNetwork{}), nil, authflow.WithWarmer(warmer), authflow.WithLauncher(launcher))
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, f, authflow.StateReady)

	for _, name := range []string{"chrome", "firefox", "safari"} {
		if err := f.SelectBrowser(authflow.ExactBrowser(authflow.BrowserDescriptor{Name: name})); err != nil {
			t.Fatalf("SelectBrowser(%s): %v", name, err)
		}
	}
	close(warmer.hold)

	o, err := f.StartAuthorization(context.Background())
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	art := <-launched
	d, ok := art.Browser.Exact()
	if !ok || d.Name != "safari" {
		t.Errorf("issued for browser %s, want safari", art.Browser)
	}
	if !art.BoundTo(o.Request) {
		t.Error("artifact does not belong to the issued request")
	}
}

func TestReplaceAuthStateInvalidates(t *testing.T) {
	provider := authflowtest.NewMockProvider(authflowtest.MockProviderConfig{})
	defer provider.Close()

	mgr := newManager(t)
	opts := append(providerOptions(provider), authflow.WithWarmer(&countingWarmer{}))
	f := newTestFlow(t, discoveryConfig(provider), mgr, opts...)

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := waitWarm(t, f)

	if err := f.ReplaceAuthState(context.Background(), authstate.AuthState{}); err != nil {
		t.Fatalf("ReplaceAuthState: %v", err)
	}

	var after authflow.Snapshot
	waitFor(t, "new client", 5*time.Second, func() bool {
		after = f.Snapshot()
		return after.State == authflow.StateReady && after.WarmedUp && after.Client.ID != before.Client.ID
	})

	if provider.RegistrationCalls() != 2 {
		t.Errorf("registration calls = %d, want 2", provider.RegistrationCalls())
	}
	if after.Request.URI() == before.Request.URI() || after.Request.ClientID != after.Client.ID {
		t.Error("request was not rebuilt for the new client")
	}
	if mgr.Current().ClientID() != after.Client.ID {
		t.Error("new registration not stored")
	}
}

// restartRequests are the calls that would restart a flow that is not
// issuing.
var restartRequests = []struct {
	name string
	call func(f *authflow.Flow, cfg *testConfig) error
}{
	{
		name: "replace auth state",
		call: func(f *authflow.Flow, _ *testConfig) error {
			return f.ReplaceAuthState(context.Background(), authstate.AuthState{LastRegistrationError: "replaced"})
		},
	},
	{
		name: "start",
		call: func(f *authflow.Flow, cfg *testConfig) error {
			cfg.changed = true
			return f.Start(context.Background())
		},
	},
}

// issueWithHeldWarmup starts an issuance that waits on a held warm-up and
// runs request while it waits.
func issueWithHeldWarmup(t *testing.T, f *authflow.Flow, warmer *countingWarmer, request func() error) (authflow.Outcome, error) {
	t.Helper()
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, f, authflow.StateReady)

	type result struct {
		o   authflow.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, err := f.StartAuthorization(context.Background())
		done <- result{o, err}
	}()
	waitForState(t, f, authflow.StateIssuing)

	if err := request(); err != nil {
		t.Fatalf("request during issuance: %v", err)
	}
	if f.State() != authflow.StateIssuing {
		t.Fatalf("State = %s during issuance, want Issuing", f.State())
	}
	close(warmer.hold)

	select {
	case r := <-done:
		return r.o, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("StartAuthorization did not return")
		return authflow.Outcome{}, nil
	}
}

func TestRestartDuringIssuanceKeepsTheLogin(t *testing.T) {
	for _, tt := range restartRequests {
		t.Run(tt.name, func(t *testing.T) {
			var launches atomic.Int64
			launcher := launcherFunc(func(context.Context, authflow.Artifact) (*authflow.AuthorizationResponse, error) {
				launches.Add(1)
				return &authflow.AuthorizationResponse{Code: "code-1"}, nil
			})
			warmer := &countingWarmer{hold: make(chan struct{})}
			handoff := &recordingHandoff{}
			mgr := newManager(t)
			cfg := staticConfig(&noNetwork{})
			f := newTestFlow(t, cfg, mgr,
				authflow.WithWarmer(warmer),
				authflow.WithLauncher(launcher),
				authflow.WithHandoff(handoff),
			)

			o, err := issueWithHeldWarmup(t, f, warmer, func() error { return tt.call(f, cfg) })
			if err != nil || o.Kind != authflow.OutcomeCompleted {
				t.Fatalf("outcome = %+v, err = %v", o, err)
			}
			if launches.Load() != 1 {
				t.Errorf("launches = %d, want 1", launches.Load())
			}
			if warmer.count() != 1 {
				t.Errorf("warm-ups = %d, want only the one issuance waited on", warmer.count())
			}
			if f.State() != authflow.StateCompleted {
				t.Errorf("State = %s, want Completed", f.State())
			}
			if mgr.Current().LastRegistrationError == "replaced" {
				t.Error("replacement requested during a completed issuance was applied")
			}

			handoff.mu.Lock()
			defer handoff.mu.Unlock()
			if len(handoff.exchanged) != 1 || handoff.exchanged[0].Payload.Code != "code-1" {
				t.Errorf("token exchange hand-offs = %+v", handoff.exchanged)
			}
		})
	}
}

func TestRestartDuringIssuanceRunsAfterCancellation(t *testing.T) {
	for _, tt := range restartRequests {
		t.Run(tt.name, func(t *testing.T) {
			launcher := launcherFunc(func(context.Context, authflow.Artifact) (*authflow.AuthorizationResponse, error) {
				return nil, authflow.ErrIssuanceCancelled
			})
			warmer := &countingWarmer{hold: make(chan struct{})}
			mgr := newManager(t)
			cfg := staticConfig(&noNetwork{})
			f := newTestFlow(t, cfg, mgr,
				authflow.WithWarmer(warmer),
				authflow.WithLauncher(launcher),
			)

			o, err := issueWithHeldWarmup(t, f, warmer, func() error { return tt.call(f, cfg) })
			if err != nil || o.Kind != authflow.OutcomeCancelled {
				t.Fatalf("outcome = %+v, err = %v", o, err)
			}
			waitWarm(t, f)

			switch tt.name {
			case "replace auth state":
				if got := mgr.Current().LastRegistrationError; got != "replaced" {
					t.Errorf("LastRegistrationError = %q, deferred replacement not applied", got)
				}
			case "start":
				if cfg.accepted.Load() != 1 {
					t.Errorf("AcceptConfiguration calls = %d, deferred start did not run", cfg.accepted.Load())
				}
			}
		})
	}
}

func TestBuildUsesConfigCapturedAtSchedule(t *testing.T) {
	warmer := &countingWarmer{hold: make(chan struct{})}
	mgr := newManager(t)
	f := newTestFlow(t, staticConfig(&noNetwork{}), mgr, authflow.WithWarmer(warmer))
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, f, authflow.StateReady)

	// the held warm-up keeps the worker busy, so this rebuild stays queued
	if err := f.SelectBrowser(authflow.ExactBrowser(authflow.BrowserDescriptor{Name: "firefox"})); err != nil {
		t.Fatal(err)
	}
	moved := &authstate.ServiceConfig{AuthorizationEndpoint: "https://moved.example.com/authorize"}
	if err := mgr.SetConfig(context.Background(), moved); err != nil {
		t.Fatal(err)
	}
	close(warmer.hold)

	waitFor(t, "firefox warm-up", 5*time.Second, func() bool {
		_, m := warmer.last()
		d, ok := m.Exact()
		return ok && d.Name == "firefox"
	})
	req, _ := warmer.last()
	if got := req.Config.AuthorizationEndpoint; got != "https://idp.example.com/authorize" {
		t.Errorf("request built against %q, want the config current when it was scheduled", got)
	}
}

func TestAlreadyAuthorized(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name           string
		changed        bool
		wantState      authflow.State
		wantAuthorized int
	}{
		{name: "unchanged configuration", wantState: authflow.StateAlreadyAuthorized, wantAuthorized: 1},
		{name: "changed configuration", changed: true, wantState: authflow.StateReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := newManager(t)
			if err := mgr.Replace(context.Background(), authstate.AuthState{IDToken: token}); err != nil {
				t.Fatal(err)
			}
			cfg := staticConfig(&noNetwork{})
			cfg.changed = tt.changed
			handoff := &recordingHandoff{}
			warmer := &countingWarmer{}

			f := newTestFlow(t, cfg, mgr, authflow.WithHandoff(handoff), authflow.WithWarmer(warmer))
			if err := f.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			waitForState(t, f, tt.wantState)

			handoff.mu.Lock()
			authorized := handoff.authorized
			handoff.mu.Unlock()
			if authorized != tt.wantAuthorized {
				t.Errorf("AlreadyAuthorized calls = %d, want %d", authorized, tt.wantAuthorized)
			}

			if tt.changed {
				if mgr.Current().IDToken != "" {
					t.Error("stored state survived a configuration change")
				}
				if cfg.accepted.Load() != 1 {
					t.Errorf("AcceptConfiguration calls = %d", cfg.accepted.Load())
				}
			} else if warmer.count() != 0 {
				t.Error("already authorized flow warmed a request")
			}
		})
	}
}

func TestInvalidConfigurationIsFinal(t *testing.T) {
	view := &recordingView{}
	cfg := &testConfig{invalidMsg: "redirect URI is required", client: &http.Client{Transport: &noNetwork{}}}
	f := newTestFlow(t, cfg, nil, authflow.WithView(view))

	err := f.Start(context.Background())
	if !errors.Is(err, authflow.ErrInvalidConfig) {
		t.Fatalf("Start error = %v, want ErrInvalidConfig", err)
	}
	if f.State() != authflow.StateError {
		t.Fatalf("State = %s", f.State())
	}

	snap := f.Snapshot()
	if snap.Recoverable || snap.LastError.Kind != authflow.KindConfigurationInvalid {
		t.Errorf("LastError = %+v, Recoverable = %v", snap.LastError, snap.Recoverable)
	}
	if _, retry, _ := view.lastError(); retry {
		t.Error("view was offered a retry")
	}
	if err := f.Retry(context.Background()); !errors.Is(err, authflow.ErrInvalidConfig) {
		t.Errorf("Retry = %v, want the configuration error", err)
	}
}

func TestCancelledIssuanceReturnsToReady(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "user cancelled", err: authflow.ErrIssuanceCancelled},
		{name: "access denied", err: authflow.ParseError("idp", "access_denied", "", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := &recordingView{}
			handoff := &recordingHandoff{}
			warmer := &countingWarmer{}
			launcher := launcherFunc(func(context.Context, authflow.Artifact) (*authflow.AuthorizationResponse, error) {
				return nil, tt.err
			})

			f := newTestFlow(t, staticConfig(&noNetwork{}), nil,
				authflow.WithView(view),
				authflow.WithHandoff(handoff),
				authflow.WithWarmer(warmer),
				authflow.WithLauncher(launcher),
			)
			if err := f.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			waitWarm(t, f)

			o, err := f.StartAuthorization(context.Background())
			if err != nil {
				t.Fatalf("StartAuthorization: %v", err)
			}
			if o.Kind != authflow.OutcomeCancelled {
				t.Fatalf("Kind = %s, want cancelled", o.Kind)
			}

			waitWarm(t, f)
			if warmer.count() != 2 {
				t.Errorf("warm-ups = %d, want a fresh request after cancellation", warmer.count())
			}

			view.mu.Lock()
			cancelled := view.cancelled
			view.mu.Unlock()
			if cancelled != 1 {
				t.Errorf("ShowCancelled calls = %d", cancelled)
			}
			handoff.mu.Lock()
			defer handoff.mu.Unlock()
			if len(handoff.exchanged) != 0 {
				t.Error("a cancelled issuance reached the token exchange")
			}
		})
	}
}

func TestFailedIssuanceIsRecoverable(t *testing.T) {
	boom := errors.New("browser crashed")
	launcher := launcherFunc(func(context.Context, authflow.Artifact) (*authflow.AuthorizationResponse, error) {
		return nil, boom
	})
	f := newTestFlow(t, staticConfig(&noNetwork{}), nil,
		authflow.WithWarmer(&countingWarmer{}),
		authflow.WithLauncher(launcher),
	)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitWarm(t, f)

	o, err := f.StartAuthorization(context.Background())
	if !errors.Is(err, boom) || o.Kind != authflow.OutcomeFailed {
		t.Fatalf("outcome = %+v, err = %v", o, err)
	}

	snap := f.Snapshot()
	if snap.State != authflow.StateError || !snap.Recoverable || snap.LastError.Kind != authflow.KindIssuanceFailed {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := f.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitWarm(t, f)
}

func TestInterruptedWait(t *testing.T) {
	warmer := &countingWarmer{hold: make(chan struct{})}
	f := newTestFlow(t, staticConfig(&noNetwork{}), nil,
		authflow.WithWarmer(warmer),
		authflow.WithLauncher(completeWith("never")),
	)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, f, authflow.StateReady)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	o, err := f.StartAuthorization(ctx)
	if !errors.Is(err, authflow.ErrInterruptedWait) || o.Kind != authflow.OutcomeFailed {
		t.Fatalf("outcome = %+v, err = %v", o, err)
	}
	snap := f.Snapshot()
	if snap.LastError == nil || snap.LastError.Kind != authflow.KindInterruptedWait || !snap.Recoverable {
		t.Errorf("LastError = %+v", snap.LastError)
	}
}

func TestPendingTargets(t *testing.T) {
	tests := []struct {
		name      string
		deliver   func(authflow.Targets)
		wantState authflow.State
		exchanged int
	}{
		{
			name:      "complete",
			deliver:   func(tg authflow.Targets) { tg.OnComplete(&authflow.AuthorizationResponse{Code: "pending-code"}) },
			wantState: authflow.StateCompleted,
			exchanged: 1,
		},
		{
			name:      "cancel",
			deliver:   func(tg authflow.Targets) { tg.OnCancel() },
			wantState: authflow.StateReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := make(chan authflow.Targets, 1)
			pending := pendingLauncherFunc(func(_ context.Context, _ authflow.Artifact, tg authflow.Targets) error {
				targets <- tg
				return nil
			})
			handoff := &recordingHandoff{}

			cfg := staticConfig(&noNetwork{})
			cfg.pending = true
			f := newTestFlow(t, cfg, nil,
				authflow.WithWarmer(&countingWarmer{}),
				authflow.WithPendingLauncher(pending),
				authflow.WithHandoff(handoff),
			)
			if err := f.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			waitWarm(t, f)

			o, err := f.StartAuthorization(context.Background())
			if err != nil || o.Kind != authflow.OutcomePending {
				t.Fatalf("outcome = %+v, err = %v", o, err)
			}
			if f.State() != authflow.StateIssuing {
				t.Fatalf("State = %s, want Issuing", f.State())
			}

			tg := <-targets
			tt.deliver(tg)
			waitForState(t, f, tt.wantState)

			// only the first result counts
			if err := f.Complete(&authflow.AuthorizationResponse{Code: "late"}); !errors.Is(err, authflow.ErrNotReady) {
				t.Errorf("second delivery = %v, want ErrNotReady", err)
			}

			handoff.mu.Lock()
			defer handoff.mu.Unlock()
			if len(handoff.exchanged) != tt.exchanged {
				t.Errorf("token exchange hand-offs = %d, want %d", len(handoff.exchanged), tt.exchanged)
			}
		})
	}
}

func TestStartAuthorizationRequiresReady(t *testing.T) {
	f := newTestFlow(t, staticConfig(&noNetwork{}), nil, authflow.WithLauncher(completeWith("x")))

	_, err := f.StartAuthorization(context.Background())
	if !errors.Is(err, authflow.ErrNotReady) {
		t.Errorf("StartAuthorization before Start = %v, want ErrNotReady", err)
	}
}

func TestStartAuthorizationWithoutLauncher(t *testing.T) {
	f := newTestFlow(t, staticConfig(&noNetwork{}), nil, authflow.WithWarmer(&countingWarmer{}))
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitWarm(t, f)

	o, err := f.StartAuthorization(context.Background())
	if !errors.Is(err, authflow.ErrNoLauncher) || o.Kind != authflow.OutcomeFailed {
		t.Fatalf("outcome = %+v, err = %v", o, err)
	}
	if f.State() != authflow.StateError {
		t.Errorf("State = %s, want Error", f.State())
	}
}

func TestPauseResume(t *testing.T) {
	warmer := &countingWarmer{}
	f := newTestFlow(t, staticConfig(&noNetwork{}), nil, authflow.WithWarmer(warmer))
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitWarm(t, f)

	f.Pause()
	if f.Snapshot().WarmedUp {
		t.Error("warm-up survived Pause")
	}

	if err := f.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitWarm(t, f)
	if warmer.count() != 2 {
		t.Errorf("warm-ups = %d, want the request warmed again after Resume", warmer.count())
	}
}

func TestClose(t *testing.T) {
	f := newTestFlow(t, staticConfig(&noNetwork{}), nil, authflow.WithWarmer(&countingWarmer{}))
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitWarm(t, f)

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := f.Start(context.Background()); !errors.Is(err, authflow.ErrClosed) {
		t.Errorf("Start after Close = %v", err)
	}
	if err := f.SelectBrowser(authflow.AnyBrowser()); !errors.Is(err, authflow.ErrClosed) {
		t.Errorf("SelectBrowser after Close = %v", err)
	}
	if err := f.SetLoginHint("x"); !errors.Is(err, authflow.ErrClosed) {
		t.Errorf("SetLoginHint after Close = %v", err)
	}
	if _, err := f.StartAuthorization(context.Background()); !errors.Is(err, authflow.ErrClosed) {
		t.Errorf("StartAuthorization after Close = %v", err)
	}
}
