package loopback_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gobeaver/authflow/authflow"
	"github.com/gobeaver/authflow/authflow/authflowtest"
	"github.com/gobeaver/authflow/authflow/loopback"
)

func freeRedirectURI(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return "http://" + addr + "/callback"
}

func buildArtifact(t *testing.T, provider *authflowtest.MockProvider, redirectURI string) authflow.Artifact {
	t.Helper()
	req, err := authflow.BuildRequest(authflow.RequestParams{
		Config: &authflow.ProviderConfig{
			AuthorizationEndpoint: provider.AuthURL(),
			TokenEndpoint:         provider.TokenURL(),
		},
		ClientID:    "client",
		Scope:       []string{"openid"},
		RedirectURI: redirectURI,
	})
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	return *authflow.NewArtifact(req, authflow.AnyBrowser())
}

// followOpener plays the browser: it requests the authorization URI and
// follows the provider's redirect to the loopback listener.
func followOpener(u string) error {
	go func() {
		resp, err := http.Get(u)
		if err == nil {
			resp.Body.Close()
		}
	}()
	return nil
}

func TestLaunchCompletes(t *testing.T) {
	provider := authflowtest.NewMockProvider(authflowtest.MockProviderConfig{})
	defer provider.Close()

	art := buildArtifact(t, provider, freeRedirectURI(t))
	l := loopback.New(loopback.WithBrowserOpen(followOpener))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := l.Launch(ctx, art)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if resp.Code == "" {
		t.Error("expected an authorization code")
	}

	u, _ := url.Parse(art.RequestURI)
	if resp.State != u.Query().Get("state") {
		t.Errorf("state = %q, want the request's state", resp.State)
	}
}

func TestLaunchAccessDenied(t *testing.T) {
	provider := authflowtest.NewMockProvider(authflowtest.MockProviderConfig{})
	defer provider.Close()
	provider.SetFailureScenario(authflowtest.DenyAuthorization, true)

	art := buildArtifact(t, provider, freeRedirectURI(t))
	l := loopback.New(loopback.WithBrowserOpen(followOpener))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.Launch(ctx, art)
	if !errors.Is(err, authflow.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestLaunchStateMismatch(t *testing.T) {
	provider := authflowtest.NewMockProvider(authflowtest.MockProviderConfig{})
	defer provider.Close()

	redirectURI := freeRedirectURI(t)
	art := buildArtifact(t, provider, redirectURI)
	forged := func(string) error {
		go func() {
			resp, err := http.Get(redirectURI + "?code=x&state=forged")
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
	l := loopback.New(loopback.WithBrowserOpen(forged))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := l.Launch(ctx, art); !errors.Is(err, loopback.ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
}

func TestLaunchIgnoresStrayRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "root redirect path", path: ""},
		{name: "callback path", path: "/callback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := authflowtest.NewMockProvider(authflowtest.MockProviderConfig{})
			defer provider.Close()

			base := strings.TrimSuffix(freeRedirectURI(t), "/callback")
			art := buildArtifact(t, provider, base+tt.path)

			statuses := make(chan int, 3)
			opener := func(u string) error {
				go func() {
					for _, stray := range []string{"/favicon.ico", "/probe?state=x", tt.path} {
						resp, err := http.Get(base + stray)
						if err != nil {
							statuses <- 0
							continue
						}
						resp.Body.Close()
						statuses <- resp.StatusCode
					}
					if resp, err := http.Get(u); err == nil {
						resp.Body.Close()
					}
				}()
				return nil
			}
			l := loopback.New(loopback.WithBrowserOpen(opener))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			resp, err := l.Launch(ctx, art)
			if err != nil {
				t.Fatalf("Launch: %v", err)
			}
			if resp.Code == "" {
				t.Error("expected an authorization code")
			}
			for i := 0; i < 3; i++ {
				if got := <-statuses; got != http.StatusNotFound && got != http.StatusBadRequest {
					t.Errorf("stray request %d answered with %d", i, got)
				}
			}
		})
	}
}

func TestLaunchPending(t *testing.T) {
	provider := authflowtest.NewMockProvider(authflowtest.MockProviderConfig{})
	defer provider.Close()

	tests := []struct {
		name       string
		deny       bool
		wantCancel bool
	}{
		{name: "complete"},
		{name: "denied", deny: true, wantCancel: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider.SetFailureScenario(authflowtest.DenyAuthorization, tt.deny)

			art := buildArtifact(t, provider, freeRedirectURI(t))
			l := loopback.New(loopback.WithBrowserOpen(followOpener))

			completed := make(chan *authflow.AuthorizationResponse, 1)
			cancelled := make(chan struct{}, 1)
			targets := authflow.Targets{
				OnComplete: func(r *authflow.AuthorizationResponse) { completed <- r },
				OnCancel:   func() { cancelled <- struct{}{} },
			}

			if err := l.LaunchPending(context.Background(), art, targets); err != nil {
				t.Fatalf("LaunchPending: %v", err)
			}

			select {
			case r := <-completed:
				if tt.wantCancel {
					t.Fatalf("unexpected completion %+v", r)
				}
			case <-cancelled:
				if !tt.wantCancel {
					t.Fatal("unexpected cancellation")
				}
			case <-time.After(5 * time.Second):
				t.Fatal("no target was called")
			}
		})
	}
}

func TestLaunchOpenFailure(t *testing.T) {
	provider := authflowtest.NewMockProvider(authflowtest.MockProviderConfig{})
	defer provider.Close()

	art := buildArtifact(t, provider, freeRedirectURI(t))
	l := loopback.New(loopback.WithBrowserOpen(func(string) error { return fmt.Errorf("no display") }))

	if _, err := l.Launch(context.Background(), art); err == nil {
		t.Fatal("expected an error when the browser cannot be opened")
	}
}

func TestParseRedirectURI(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"http://127.0.0.1:8080/callback", false},
		{"http://localhost:9000/", false},
		{"http://[::1]:9000/cb", false},
		{"https://127.0.0.1:8080/callback", true},
		{"http://127.0.0.1/callback", true},
		{"http://example.com:8080/callback", true},
		{"com.example.app:/callback", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := loopback.ParseRedirectURI(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseRedirectURI(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, loopback.ErrNotLoopback) {
				t.Errorf("expected ErrNotLoopback, got %v", err)
			}
		})
	}
}
