package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewWebhook_Validation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "https", url: "https://chat.example.com/hook"},
		{name: "http", url: "http://localhost:9000/hook"},
		{name: "empty", url: "", wantErr: true},
		{name: "relative", url: "/hook", wantErr: true},
		{name: "ftp", url: "ftp://example.com/hook", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWebhook(WebhookConfig{URL: tt.url})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWebhook(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestWebhook_Notify(t *testing.T) {
	var (
		got         map[string]any
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewWebhook() error = %v", err)
	}

	if err := wh.Notify(context.Background(), Message{Text: "hello", UserID: "u-1"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if got["text"] != "hello" || got["user_id"] != "u-1" {
		t.Errorf("body = %v", got)
	}
}

func TestWebhook_Notify_OmitsEmptyUserID(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewWebhook() error = %v", err)
	}
	if err := wh.Notify(context.Background(), Message{Text: "installed"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if strings.Contains(raw, "user_id") {
		t.Errorf("body %q should not contain user_id", raw)
	}
}

func TestWebhook_Notify_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewWebhook() error = %v", err)
	}

	if err := wh.Notify(context.Background(), Message{Text: "x"}); err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Notify() error = %v, want status 502", err)
	}
	if err := wh.Notify(context.Background(), Message{}); err == nil {
		t.Error("Notify() with empty text should fail")
	}
}

func TestWebhook_Notify_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewWebhook() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := wh.Notify(ctx, Message{Text: "x"}); err == nil {
		t.Error("Notify() should fail when the context expires")
	}
}
