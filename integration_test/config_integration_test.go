package integration_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobeaver/authflow/authflow"
	"github.com/gobeaver/authflow/authstate"
	"github.com/gobeaver/authflow/cache"
	"github.com/gobeaver/authflow/config"
	"github.com/gobeaver/authflow/database"
)

func setStaticProvider(t *testing.T, prefix string) {
	t.Setenv(prefix+"REDIRECT_URI", "http://127.0.0.1:8400/callback")
	t.Setenv(prefix+"CLIENT_ID", "integration-client")
	t.Setenv(prefix+"AUTHORIZATION_ENDPOINT_URI", "https://idp.example.com/authorize")
	t.Setenv(prefix+"TOKEN_ENDPOINT_URI", "https://idp.example.com/token")
	t.Setenv(prefix+"LOG_LEVEL", "error")
}

// TestSharedPrefix checks that every package reads its settings under the
// same prefix
func TestSharedPrefix(t *testing.T) {
	setStaticProvider(t, "ITEST_")
	t.Setenv("ITEST_CACHE_DRIVER", "memory")
	t.Setenv("ITEST_STATE_DRIVER", "database")
	t.Setenv("ITEST_STATE_KEY", "cli")
	t.Setenv("ITEST_DB_DRIVER", "sqlite")
	t.Setenv("ITEST_DB_DATABASE", "state.db")

	opts := config.LoadOptions{Prefix: "ITEST_"}

	flowCfg, err := authflow.WithPrefix("ITEST_").Config()
	if err != nil {
		t.Fatalf("Failed to load authflow config: %v", err)
	}
	if flowCfg.ClientID != "integration-client" {
		t.Errorf("Expected client id 'integration-client', got '%s'", flowCfg.ClientID)
	}

	cacheCfg, err := cache.GetConfig(opts)
	if err != nil {
		t.Fatalf("Failed to load cache config: %v", err)
	}
	if cacheCfg.Driver != "memory" {
		t.Errorf("Expected cache driver 'memory', got '%s'", cacheCfg.Driver)
	}

	stateCfg, err := authstate.GetConfig(opts)
	if err != nil {
		t.Fatalf("Failed to load auth state config: %v", err)
	}
	if stateCfg.Driver != "database" || stateCfg.Key != "cli" {
		t.Errorf("Expected database driver with key 'cli', got %+v", stateCfg)
	}

	dbCfg, err := database.GetConfig(opts)
	if err != nil {
		t.Fatalf("Failed to load database config: %v", err)
	}
	if dbCfg.Driver != "sqlite" || dbCfg.Database != "state.db" {
		t.Errorf("Expected sqlite 'state.db', got %s '%s'", dbCfg.Driver, dbCfg.Database)
	}
}

// TestDefaultValues checks the defaults applied with only the required
// values set
func TestDefaultValues(t *testing.T) {
	t.Setenv("AUTHFLOW_REDIRECT_URI", "http://127.0.0.1:8400/callback")

	flowCfg, err := authflow.GetConfig()
	if err != nil {
		t.Fatalf("Failed to load authflow config: %v", err)
	}
	if flowCfg.HTTPTimeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", flowCfg.HTTPTimeout)
	}
	if flowCfg.DiscoveryMaxRetries != 3 {
		t.Errorf("Expected default discovery retries 3, got %d", flowCfg.DiscoveryMaxRetries)
	}

	stateCfg, err := authstate.GetConfig()
	if err != nil {
		t.Fatalf("Failed to load auth state config: %v", err)
	}
	if stateCfg.Driver != "memory" || stateCfg.Key != "default" {
		t.Errorf("Expected memory driver with key 'default', got %+v", stateCfg)
	}
}

// TestFlowFromEnvironment builds a complete flow from environment
// variables for each auth state backend and runs it to Ready
func TestFlowFromEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		env     func(dir string) map[string]string
		persist bool
	}{
		{
			name: "memory",
			env:  func(string) map[string]string { return map[string]string{"STATE_DRIVER": "memory"} },
		},
		{
			name: "file",
			env: func(dir string) map[string]string {
				return map[string]string{
					"STATE_DRIVER":            "file",
					"FILEKIT_DRIVER":          "local",
					"FILEKIT_LOCAL_BASE_PATH": dir,
				}
			},
			persist: true,
		},
		{
			name: "database",
			env: func(dir string) map[string]string {
				return map[string]string{
					"STATE_DRIVER": "database",
					"DB_DRIVER":    "sqlite",
					"DB_DATABASE":  filepath.Join(dir, "state.db"),
				}
			},
			persist: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setStaticProvider(t, "ITEST_")
			for k, v := range tt.env(t.TempDir()) {
				t.Setenv("ITEST_"+k, v)
			}

			ctx := context.Background()
			warmer := authflow.WarmerFunc(func(_ context.Context, req *authflow.AuthorizationRequest, b authflow.BrowserMatcher) (*authflow.Artifact, error) {
				return authflow.NewArtifact(req, b), nil
			})

			f, err := authflow.WithPrefix("ITEST_").Flow(ctx, authflow.WithWarmer(warmer))
			if err != nil {
				t.Fatalf("Failed to build flow: %v", err)
			}
			if err := f.Start(ctx); err != nil {
				t.Fatalf("Failed to start flow: %v", err)
			}

			deadline := time.Now().Add(5 * time.Second)
			for {
				snap := f.Snapshot()
				if snap.State == authflow.StateReady && snap.WarmedUp {
					if snap.Client.ID != "integration-client" {
						t.Errorf("Expected static client, got %+v", snap.Client)
					}
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("Flow did not reach Ready, state %s", snap.State)
				}
				time.Sleep(10 * time.Millisecond)
			}

			if err := f.Close(); err != nil {
				t.Fatalf("Failed to close flow: %v", err)
			}

			if !tt.persist {
				return
			}
			p, err := authstate.WithPrefix("ITEST_").Persister()
			if err != nil {
				t.Fatalf("Failed to reopen persister: %v", err)
			}
			defer p.Close()
			st, err := p.Load(ctx)
			if err != nil {
				t.Fatalf("Failed to load persisted state: %v", err)
			}
			if st.Config == nil || st.Config.AuthorizationEndpoint != "https://idp.example.com/authorize" {
				t.Errorf("Expected persisted provider configuration, got %+v", st.Config)
			}
		})
	}
}
