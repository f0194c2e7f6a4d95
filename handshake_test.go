package crashlink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/crashlink/notify"
	"github.com/giantswarm/crashlink/providers"
	"github.com/giantswarm/crashlink/storage"
	storagemock "github.com/giantswarm/crashlink/storage/mock"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func (n *recordingNotifier) Messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.messages...)
}

func TestServer_BeginHandshake(t *testing.T) {
	env := newTestEnv(t, nil)

	before := time.Now()
	hs, err := env.server.BeginHandshake(context.Background())
	if err != nil {
		t.Fatalf("BeginHandshake() error = %v", err)
	}

	if len(hs.State) != 43 {
		t.Errorf("len(State) = %d, want 43", len(hs.State))
	}
	if !strings.Contains(hs.AuthorizationURL, hs.State) {
		t.Errorf("AuthorizationURL %q does not carry the state", hs.AuthorizationURL)
	}
	if hs.ExpiresAt.Before(before.Add(9*time.Minute)) || hs.ExpiresAt.After(time.Now().Add(11*time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about 10 minutes from now", hs.ExpiresAt)
	}

	other, err := env.server.BeginHandshake(context.Background())
	if err != nil {
		t.Fatalf("BeginHandshake() error = %v", err)
	}
	if other.State == hs.State {
		t.Error("each handshake must get a fresh state")
	}

	if _, err := env.store.AnyCredential(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("BeginHandshake must not store anything, AnyCredential() error = %v", err)
	}
}

func TestServer_CompleteHandshake_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	notifier := &recordingNotifier{}
	env.server.SetNotifier(notifier)

	env.provider.ExchangeCodeFunc = func(_ context.Context, code, state string) (*oauth2.Token, error) {
		if code != "abc" {
			t.Errorf("code = %q, want abc", code)
		}
		if state != "right" {
			t.Errorf("state = %q, want right", state)
		}
		tok := &oauth2.Token{AccessToken: "gho_secret"}
		return tok.WithExtra(map[string]any{"scope": "repo,read:user"}), nil
	}
	env.provider.FetchIdentityFunc = func(_ context.Context, accessToken string) (*providers.Identity, error) {
		if accessToken != "gho_secret" {
			t.Errorf("accessToken = %q", accessToken)
		}
		return &providers.Identity{ID: "42", Login: "octocat"}, nil
	}

	cred, err := env.server.CompleteHandshake(context.Background(), CallbackParams{
		Code: "abc", State: "right", ExpectedState: "right",
	})
	if err != nil {
		t.Fatalf("CompleteHandshake() error = %v", err)
	}

	if cred.IdentityID != "42" || cred.Login != "octocat" || cred.Scope != "repo,read:user" {
		t.Errorf("credential = %v", cred)
	}
	if cred.IssuedAt.IsZero() {
		t.Error("IssuedAt should be set")
	}

	stored, err := env.store.GetCredential(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if stored.AccessToken != "gho_secret" {
		t.Error("stored credential should carry the access token")
	}

	msgs := notifier.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "octocat") || msgs[0].UserID != "" {
		t.Errorf("notifications = %+v", msgs)
	}
}

func TestServer_CompleteHandshake_ScopeFallsBackToRequested(t *testing.T) {
	cfg := newTestConfig()
	cfg.GitHub.Scopes = []string{"repo", "read:user"}
	env := newTestEnv(t, cfg)

	cred, err := env.server.CompleteHandshake(context.Background(), CallbackParams{
		Code: "abc", State: "s", ExpectedState: "s",
	})
	if err != nil {
		t.Fatalf("CompleteHandshake() error = %v", err)
	}
	if cred.Scope != "repo,read:user" {
		t.Errorf("Scope = %q, want requested scopes", cred.Scope)
	}
}

func TestServer_CompleteHandshake_InvalidState(t *testing.T) {
	tests := []struct {
		name   string
		params CallbackParams
	}{
		{"missing code", CallbackParams{State: "right", ExpectedState: "right"}},
		{"missing state", CallbackParams{Code: "abc", ExpectedState: "right"}},
		{"missing expected state", CallbackParams{Code: "abc", State: "right"}},
		{"mismatch", CallbackParams{Code: "abc", State: "wrong", ExpectedState: "right"}},
		{"prefix", CallbackParams{Code: "abc", State: "righ", ExpectedState: "right"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			_, err := env.server.CompleteHandshake(context.Background(), tt.params)
			if !errors.Is(err, ErrInvalidHandshake) {
				t.Fatalf("error = %v, want ErrInvalidHandshake", err)
			}
			if n := env.provider.GetCallCount("ExchangeCode"); n != 0 {
				t.Errorf("ExchangeCode called %d times", n)
			}
			if _, err := env.store.AnyCredential(context.Background()); !errors.Is(err, storage.ErrNotFound) {
				t.Error("no credential should be stored")
			}
		})
	}
}

func TestServer_CompleteHandshake_UpstreamFailures(t *testing.T) {
	upstream := errors.New("bad_verification_code")

	tests := []struct {
		name    string
		setup   func(env *testEnv)
		wantErr error
	}{
		{
			name: "exchange error",
			setup: func(env *testEnv) {
				env.provider.ExchangeCodeFunc = func(context.Context, string, string) (*oauth2.Token, error) {
					return nil, upstream
				}
			},
			wantErr: ErrTokenExchangeFailed,
		},
		{
			name: "empty access token",
			setup: func(env *testEnv) {
				env.provider.ExchangeCodeFunc = func(context.Context, string, string) (*oauth2.Token, error) {
					return &oauth2.Token{}, nil
				}
			},
			wantErr: ErrTokenExchangeFailed,
		},
		{
			name: "identity error",
			setup: func(env *testEnv) {
				env.provider.FetchIdentityFunc = func(context.Context, string) (*providers.Identity, error) {
					return nil, upstream
				}
			},
			wantErr: ErrIdentityResolutionFailed,
		},
		{
			name: "identity without login",
			setup: func(env *testEnv) {
				env.provider.FetchIdentityFunc = func(context.Context, string) (*providers.Identity, error) {
					return &providers.Identity{ID: "42"}, nil
				}
			},
			wantErr: ErrIdentityResolutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			tt.setup(env)

			_, err := env.server.CompleteHandshake(context.Background(), CallbackParams{
				Code: "abc", State: "s", ExpectedState: "s",
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if _, err := env.store.AnyCredential(context.Background()); !errors.Is(err, storage.ErrNotFound) {
				t.Error("no credential should be stored")
			}
		})
	}
}

func TestServer_CompleteHandshake_StorageFailure(t *testing.T) {
	store := storagemock.NewMockStore()
	store.PutCredentialFunc = func(context.Context, *storage.Credential) error {
		return errors.New("disk full")
	}
	env := newTestEnvWithStore(t, nil, store)

	_, err := env.server.CompleteHandshake(context.Background(), CallbackParams{
		Code: "abc", State: "s", ExpectedState: "s",
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("error = %v, want ErrStorage", err)
	}
}

func TestServer_CompleteHandshake_BoundsProviderCalls(t *testing.T) {
	cfg := newTestConfig()
	cfg.RequestTimeout = 2 * time.Second
	env := newTestEnv(t, cfg)

	env.provider.ExchangeCodeFunc = func(ctx context.Context, _, _ string) (*oauth2.Token, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Error("ExchangeCode context has no deadline")
		} else if time.Until(deadline) > 2*time.Second {
			t.Errorf("deadline %v too far away", time.Until(deadline))
		}
		return &oauth2.Token{AccessToken: "tok"}, nil
	}

	if _, err := env.server.CompleteHandshake(context.Background(), CallbackParams{
		Code: "abc", State: "s", ExpectedState: "s",
	}); err != nil {
		t.Fatalf("CompleteHandshake() error = %v", err)
	}
}

func TestServer_CompleteHandshake_ReinstallOverwrites(t *testing.T) {
	env := newTestEnv(t, nil)

	tokens := []string{"first-token", "second-token"}
	for _, tok := range tokens {
		env.provider.ExchangeCodeFunc = func(context.Context, string, string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: tok}, nil
		}
		if _, err := env.server.CompleteHandshake(context.Background(), CallbackParams{
			Code: "abc", State: "s", ExpectedState: "s",
		}); err != nil {
			t.Fatalf("CompleteHandshake() error = %v", err)
		}
	}

	cred, err := env.store.GetCredential(context.Background(), "1001")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred.AccessToken != "second-token" {
		t.Errorf("AccessToken = %q, want the latest token", cred.AccessToken)
	}
}

func TestServer_CompleteHandshake_NotifierFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.SetNotifier(&recordingNotifier{err: errors.New("webhook down")})

	if _, err := env.server.CompleteHandshake(context.Background(), CallbackParams{
		Code: "abc", State: "s", ExpectedState: "s",
	}); err != nil {
		t.Fatalf("CompleteHandshake() error = %v", err)
	}
}

func TestNewServer_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := NewServer(nil, env.store, nil, nil); err == nil {
		t.Error("NewServer() without provider should fail")
	}
	if _, err := NewServer(env.provider, nil, nil, nil); err == nil {
		t.Error("NewServer() without store should fail")
	}
	srv, err := NewServer(env.provider, env.store, nil, &Config{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv.RateLimiter() == nil {
		t.Error("rate limiter should be enabled by default")
	}

	srv, err = NewServer(env.provider, env.store, nil, &Config{Logger: discardLogger(), RateLimit: RateLimitConfig{Rate: -1}})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv.RateLimiter() != nil {
		t.Error("negative rate should disable limiting")
	}
}
