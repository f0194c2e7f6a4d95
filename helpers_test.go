package crashlink

import (
	"io"
	"log/slog"
	"testing"

	providermock "github.com/giantswarm/crashlink/providers/mock"
	"github.com/giantswarm/crashlink/storage"
	"github.com/giantswarm/crashlink/storage/memory"
	"github.com/giantswarm/crashlink/tracker"
	trackermock "github.com/giantswarm/crashlink/tracker/mock"
)

const testStateSecret = "test-state-secret"

type testEnv struct {
	server   *Server
	provider *providermock.MockProvider
	store    storage.Store
	tracker  *trackermock.MockTracker
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestConfig returns a config with escalation to acme/app enabled.
func newTestConfig() *Config {
	return &Config{
		BaseURL: "https://crashlink.example.com",
		Escalation: EscalationConfig{
			Repository: tracker.Repository{Owner: "acme", Name: "app"},
		},
		Security: SecurityConfig{StateSecret: testStateSecret},
		Logger:   discardLogger(),
	}
}

func newTestEnv(t *testing.T, config *Config) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, config, memory.New())
}

func newTestEnvWithStore(t *testing.T, config *Config, store storage.Store) *testEnv {
	t.Helper()
	if config == nil {
		config = newTestConfig()
	}

	provider := providermock.NewMockProvider()
	issueTracker := trackermock.NewMockTracker()

	srv, err := NewServer(provider, store, issueTracker, config)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	return &testEnv{server: srv, provider: provider, store: store, tracker: issueTracker}
}
